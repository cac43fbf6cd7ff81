package domain

import (
	"time"

	"gorm.io/gorm"
)

// Tenant is a business customer of the gateway. A tenant owns at most one
// active voice agent; an agent id resolves to exactly one tenant.
type Tenant struct {
	ID                     string         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	AgentID                string         `json:"agent_id" gorm:"type:varchar(255);uniqueIndex:uni_tenants_agent_id;not null"`
	BusinessName           string         `json:"business_name" gorm:"type:varchar(255);not null"`
	Timezone               string         `json:"timezone" gorm:"type:varchar(64);default:'America/New_York'"`
	CommerceAccessToken    string         `json:"-" gorm:"type:text;not null"`
	CommerceRefreshToken   string         `json:"-" gorm:"type:text"`
	CommerceTokenExpiresAt *time.Time     `json:"commerce_token_expires_at,omitempty"`
	CommerceMerchantID     string         `json:"commerce_merchant_id" gorm:"type:varchar(255)"`
	DefaultLocationID      string         `json:"default_location_id" gorm:"type:varchar(255)"`
	Environment            string         `json:"environment" gorm:"type:varchar(32);default:'production'"`
	Scopes                 JSONB          `json:"scopes" gorm:"type:jsonb"`
	SupportsSellerWrites   bool           `json:"supports_seller_writes" gorm:"default:false"`
	StaffEmail             string         `json:"staff_email" gorm:"type:varchar(255)"`
	CreatedAt              time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt              time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt              gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName sets the table name for Tenant.
func (Tenant) TableName() string {
	return "tenants"
}

// Credentials is the resolved credential set downstream code consumes. The
// resolver normalizes every source (database row, session snapshot, request
// hint, agent-config file, environment default) into this one shape.
type Credentials struct {
	TenantID             string `json:"tenant_id"`
	AgentID              string `json:"agent_id"`
	BusinessName         string `json:"business_name"`
	Timezone             string `json:"timezone"`
	AccessToken          string `json:"access_token"`
	LocationID           string `json:"location_id"`
	MerchantID           string `json:"merchant_id"`
	Environment          string `json:"environment"`
	StaffEmail           string `json:"staff_email"`
	BearerToken          string `json:"-"`
	SupportsSellerWrites bool   `json:"supports_seller_writes"`
	Source               string `json:"source"`
}

// Usable reports whether a credential set can actually call the commerce API.
func (c *Credentials) Usable() bool {
	return c != nil && c.AccessToken != ""
}

// CredentialsFromTenant snapshots a database tenant row.
func CredentialsFromTenant(t *Tenant) *Credentials {
	if t == nil {
		return nil
	}
	tz := t.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	env := t.Environment
	if env == "" {
		env = EnvironmentProduction
	}
	return &Credentials{
		TenantID:             t.ID,
		AgentID:              t.AgentID,
		BusinessName:         t.BusinessName,
		Timezone:             tz,
		AccessToken:          t.CommerceAccessToken,
		LocationID:           t.DefaultLocationID,
		MerchantID:           t.CommerceMerchantID,
		Environment:          env,
		StaffEmail:           t.StaffEmail,
		SupportsSellerWrites: t.SupportsSellerWrites,
		Source:               "database",
	}
}
