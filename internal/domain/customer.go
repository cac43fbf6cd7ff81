package domain

import (
	"time"
)

// CustomerProfile is the durable per-tenant customer memory record, keyed by
// (tenant_id, phone_number) with a secondary unique key on the commerce
// customer id. Phone numbers are stored normalized (see NormalizePhone).
type CustomerProfile struct {
	ID                 string     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID           string     `json:"tenant_id" gorm:"type:uuid;uniqueIndex:uni_profiles_tenant_phone,priority:1;uniqueIndex:uni_profiles_tenant_customer,priority:1;not null"`
	PhoneNumber        string     `json:"phone_number" gorm:"type:varchar(32);uniqueIndex:uni_profiles_tenant_phone,priority:2;not null"`
	CommerceCustomerID string     `json:"commerce_customer_id" gorm:"type:varchar(255);uniqueIndex:uni_profiles_tenant_customer,priority:2"`
	FirstName          string     `json:"first_name" gorm:"type:varchar(128)"`
	LastName           string     `json:"last_name" gorm:"type:varchar(128)"`
	Email              string     `json:"email" gorm:"type:varchar(255)"`
	PreferredLanguage  string     `json:"preferred_language" gorm:"type:varchar(16)"`
	LanguageConfidence float64    `json:"language_confidence" gorm:"default:0"`
	TotalCalls         int        `json:"total_calls" gorm:"default:0"`
	TotalBookings      int        `json:"total_bookings" gorm:"default:0"`
	FirstCallAt        *time.Time `json:"first_call_at"`
	LastCallAt         *time.Time `json:"last_call_at"`
	CreatedAt          time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for CustomerProfile.
func (CustomerProfile) TableName() string {
	return "customer_profiles"
}

// FullName joins the profile names, tolerating either being empty.
func (p *CustomerProfile) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// CallHistory records one upstream call. Keyed uniquely by the upstream call
// id so replayed call_analyzed webhooks stay idempotent.
type CallHistory struct {
	ID                string     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CallID            string     `json:"call_id" gorm:"type:varchar(255);uniqueIndex:uni_call_history_call_id;not null"`
	TenantID          string     `json:"tenant_id" gorm:"type:uuid;index;not null"`
	CustomerProfileID string     `json:"customer_profile_id" gorm:"type:uuid;index"`
	StartedAt         *time.Time `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at"`
	DurationSeconds   int        `json:"duration_seconds"`
	Successful        bool       `json:"successful"`
	Sentiment         string     `json:"sentiment" gorm:"type:varchar(32)"`
	DetectedLanguage  string     `json:"detected_language" gorm:"type:varchar(16)"`
	Summary           string     `json:"summary" gorm:"type:text"`
	Transcript        string     `json:"transcript" gorm:"type:text"`
	BookingCreated    bool       `json:"booking_created"`
	BookingID         string     `json:"booking_id" gorm:"type:varchar(255)"`
	FinalAgentState   string     `json:"final_agent_state" gorm:"type:varchar(128)"`
	Spam              bool       `json:"spam"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for CallHistory.
func (CallHistory) TableName() string {
	return "call_history"
}

// ContextEntry is one durable piece of conversation memory, unique per
// (customer_profile_id, context_key). Confidence only ever ratchets up on
// upsert.
type ContextEntry struct {
	ID                string     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CustomerProfileID string     `json:"customer_profile_id" gorm:"type:uuid;uniqueIndex:uni_context_profile_key,priority:1;not null"`
	ContextKey        string     `json:"context_key" gorm:"type:varchar(128);uniqueIndex:uni_context_profile_key,priority:2;not null"`
	ContextValue      string     `json:"context_value" gorm:"type:text"`
	ValueType         string     `json:"value_type" gorm:"type:varchar(16);default:'string'"`
	Confidence        float64    `json:"confidence" gorm:"default:0"`
	Source            string     `json:"source" gorm:"type:varchar(64)"`
	LastConfirmedAt   *time.Time `json:"last_confirmed_at"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for ContextEntry.
func (ContextEntry) TableName() string {
	return "conversation_context_entries"
}

// AgentVisible reports whether this entry may appear in inbound dynamic variables.
func (e *ContextEntry) AgentVisible() bool {
	return AgentVisibleContextKeys[e.ContextKey]
}

// OpenIssue is a followup item derived from post-call analysis. Upserts match
// an existing open or in-progress row by (type, description) so replays do
// not duplicate issues.
type OpenIssue struct {
	ID                string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID          string    `json:"tenant_id" gorm:"type:uuid;index;not null"`
	CustomerProfileID string    `json:"customer_profile_id" gorm:"type:uuid;index;not null"`
	IssueType         string    `json:"issue_type" gorm:"type:varchar(64);not null"`
	Description       string    `json:"description" gorm:"type:text"`
	Priority          string    `json:"priority" gorm:"type:varchar(16);default:'normal'"`
	Status            string    `json:"status" gorm:"type:varchar(16);default:'open'"`
	SourceCallID      string    `json:"source_call_id" gorm:"type:varchar(255)"`
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for OpenIssue.
func (OpenIssue) TableName() string {
	return "open_issues"
}
