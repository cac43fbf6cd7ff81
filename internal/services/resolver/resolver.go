// Package resolver walks the credential-source chain and produces one
// normalized tenant credential record for a request. Source priority is
// strict: database, live session, request hint, cached agent-config,
// process-wide default.
package resolver

import (
	"context"

	"github.com/brightline-ai/voice-agent-gateway/internal/config"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/repository"
	"github.com/brightline-ai/voice-agent-gateway/internal/session"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request carries whatever identifiers the caller has.
type Request struct {
	AgentID string
	CallID  string
	// Hint is a tenant supplied by preceding middleware, if any.
	Hint *domain.Credentials
	// Event names the operation for error reporting.
	Event string
	// RequireAgent forbids falling through to the process-wide default.
	RequireAgent bool
}

// Resolver resolves tenants across all credential sources.
type Resolver struct {
	repo         repository.RepositoryManager
	sessions     *session.Store
	agentConfigs *config.AgentConfigCache
	defaultCreds *domain.Credentials
}

// New creates a resolver. Any dependency may be nil; the matching source is
// skipped.
func New(repo repository.RepositoryManager, sessions *session.Store, agentConfigs *config.AgentConfigCache, defaultCreds *domain.Credentials) *Resolver {
	return &Resolver{
		repo:         repo,
		sessions:     sessions,
		agentConfigs: agentConfigs,
		defaultCreds: defaultCreds,
	}
}

// Resolve walks the chain and adopts the first source carrying an access
// token. Later sources only fill fields the adopted record is missing. A
// database tenant id that is a UUID is authoritative: no other source may
// replace it with an opaque external id.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*domain.Credentials, error) {
	var dbCreds *domain.Credentials
	if r.repo != nil && req.AgentID != "" {
		tenant, err := r.repo.Tenant().GetByAgentID(ctx, req.AgentID)
		if err != nil {
			logger.Base().Warn("tenant database lookup failed",
				zap.String("agent_id", req.AgentID),
				zap.Error(err),
			)
		} else {
			dbCreds = domain.CredentialsFromTenant(tenant)
		}
	}

	sources := []*domain.Credentials{
		dbCreds,
		r.sessionCreds(req.CallID),
		req.Hint,
	}
	sources = append(sources, r.configCreds(ctx, req.AgentID))
	if !req.RequireAgent {
		sources = append(sources, r.defaultCreds)
	}

	var adopted *domain.Credentials
	for _, src := range sources {
		if src == nil {
			continue
		}
		if adopted == nil {
			if src.Usable() {
				copied := *src
				adopted = &copied
			}
			continue
		}
		fillMissing(adopted, src)
	}

	if adopted == nil {
		return nil, domain.ErrAgentConfigMissing(req.AgentID, req.Event)
	}

	// The database UUID wins outright over any opaque tenant id another
	// source supplied.
	if dbCreds != nil && isUUID(dbCreds.TenantID) && adopted.TenantID != dbCreds.TenantID {
		adopted.TenantID = dbCreds.TenantID
	}
	if adopted.TenantID != "" && !isUUID(adopted.TenantID) {
		logger.Base().Warn("resolved tenant id is not a UUID; it will not be used as a database key",
			zap.String("tenant_id", adopted.TenantID),
			zap.String("source", adopted.Source),
		)
	}
	if adopted.AgentID == "" {
		adopted.AgentID = req.AgentID
	}
	return adopted, nil
}

func (r *Resolver) sessionCreds(callID string) *domain.Credentials {
	if r.sessions == nil || callID == "" {
		return nil
	}
	sess, ok := r.sessions.Get(callID)
	if !ok {
		return nil
	}
	creds := sess.Credentials
	creds.Source = "session"
	return &creds
}

func (r *Resolver) configCreds(ctx context.Context, agentID string) *domain.Credentials {
	if r.agentConfigs == nil || agentID == "" {
		return nil
	}
	d, ok := r.agentConfigs.Get(ctx, agentID)
	if !ok {
		return nil
	}
	return CredentialsFromDescriptor(d)
}

// CredentialsFromDescriptor normalizes an agent-config descriptor, mapping
// the file's field synonyms onto the single credentials shape.
func CredentialsFromDescriptor(d *config.AgentDescriptor) *domain.Credentials {
	if d == nil {
		return nil
	}
	env := d.SquareEnvironment
	if env == "" {
		env = domain.EnvironmentProduction
	}
	return &domain.Credentials{
		AgentID:              d.AgentID,
		BusinessName:         d.BusinessName,
		Timezone:             d.Timezone,
		AccessToken:          d.SquareAccessToken,
		LocationID:           d.Location(),
		MerchantID:           d.SquareMerchantID,
		Environment:          env,
		StaffEmail:           d.StaffEmail,
		BearerToken:          d.BearerToken,
		SupportsSellerWrites: d.SupportsSellerLevelWrites,
		Source:               "agent_config",
	}
}

// fillMissing copies fields from src that dst is missing. It never replaces
// a populated field, and never touches the tenant id of a database record.
func fillMissing(dst, src *domain.Credentials) {
	if dst.BusinessName == "" {
		dst.BusinessName = src.BusinessName
	}
	if dst.Timezone == "" {
		dst.Timezone = src.Timezone
	}
	if dst.LocationID == "" {
		dst.LocationID = src.LocationID
	}
	if dst.MerchantID == "" {
		dst.MerchantID = src.MerchantID
	}
	if dst.Environment == "" {
		dst.Environment = src.Environment
	}
	if dst.StaffEmail == "" {
		dst.StaffEmail = src.StaffEmail
	}
	if dst.BearerToken == "" {
		dst.BearerToken = src.BearerToken
	}
	if dst.TenantID == "" {
		dst.TenantID = src.TenantID
	}
	if dst.AgentID == "" {
		dst.AgentID = src.AgentID
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
