package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCustomerMemoryRepository implements CustomerMemoryRepository using GORM.
type GormCustomerMemoryRepository struct {
	db *gorm.DB
}

// NewGormCustomerMemoryRepository creates a new customer-memory repository.
func NewGormCustomerMemoryRepository(db *gorm.DB) *GormCustomerMemoryRepository {
	return &GormCustomerMemoryRepository{db: db}
}

// GetProfileByPhone looks up a profile by (tenant, normalized phone).
func (r *GormCustomerMemoryRepository) GetProfileByPhone(ctx context.Context, tenantID, normalizedPhone string) (*domain.CustomerProfile, error) {
	var profile domain.CustomerProfile
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND phone_number = ?", tenantID, normalizedPhone).
		First(&profile).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer profile: %w", err)
	}
	return &profile, nil
}

// GetProfileByID retrieves a profile by primary key.
func (r *GormCustomerMemoryRepository) GetProfileByID(ctx context.Context, id string) (*domain.CustomerProfile, error) {
	var profile domain.CustomerProfile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer profile: %w", err)
	}
	return &profile, nil
}

// EnsureProfile inserts the profile if no row exists for its phone key,
// otherwise fills newly learned identity fields on the existing row. The
// merged row is returned.
func (r *GormCustomerMemoryRepository) EnsureProfile(ctx context.Context, profile *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	existing, err := r.GetProfileByPhone(ctx, profile.TenantID, profile.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if profile.ID == "" {
			profile.ID = uuid.New().String()
		}
		if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
			return nil, fmt.Errorf("failed to create customer profile: %w", err)
		}
		return profile, nil
	}

	changed := false
	if existing.CommerceCustomerID == "" && profile.CommerceCustomerID != "" {
		existing.CommerceCustomerID = profile.CommerceCustomerID
		changed = true
	}
	if existing.FirstName == "" && profile.FirstName != "" {
		existing.FirstName = profile.FirstName
		changed = true
	}
	if existing.LastName == "" && profile.LastName != "" {
		existing.LastName = profile.LastName
		changed = true
	}
	if existing.Email == "" && profile.Email != "" {
		existing.Email = profile.Email
		changed = true
	}
	if changed {
		if err := r.UpdateProfile(ctx, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// UpdateProfile saves the full profile row.
func (r *GormCustomerMemoryRepository) UpdateProfile(ctx context.Context, profile *domain.CustomerProfile) error {
	profile.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("failed to update customer profile: %w", err)
	}
	return nil
}

// UpsertCallHistory inserts or updates the row keyed by the upstream call id.
// The unique index on call_id keeps concurrent replays idempotent.
func (r *GormCustomerMemoryRepository) UpsertCallHistory(ctx context.Context, call *domain.CallHistory) (bool, error) {
	existing, err := r.GetCallHistory(ctx, call.CallID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		if call.ID == "" {
			call.ID = uuid.New().String()
		}
		if err := r.db.WithContext(ctx).Create(call).Error; err != nil {
			return false, fmt.Errorf("failed to create call history: %w", err)
		}
		return true, nil
	}

	call.ID = existing.ID
	call.CreatedAt = existing.CreatedAt
	call.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(call).Error; err != nil {
		return false, fmt.Errorf("failed to update call history: %w", err)
	}
	return false, nil
}

// GetCallHistory retrieves the row for an upstream call id.
func (r *GormCustomerMemoryRepository) GetCallHistory(ctx context.Context, callID string) (*domain.CallHistory, error) {
	var call domain.CallHistory
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&call).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	return &call, nil
}

// GetLastCall returns the most recent call for a profile, nil when none.
func (r *GormCustomerMemoryRepository) GetLastCall(ctx context.Context, profileID string) (*domain.CallHistory, error) {
	var call domain.CallHistory
	err := r.db.WithContext(ctx).
		Where("customer_profile_id = ?", profileID).
		Order("created_at DESC").
		First(&call).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last call: %w", err)
	}
	return &call, nil
}

// UpsertContextEntry inserts or updates the entry keyed by
// (customer_profile_id, context_key). Confidence never decreases.
func (r *GormCustomerMemoryRepository) UpsertContextEntry(ctx context.Context, entry *domain.ContextEntry) error {
	var existing domain.ContextEntry
	err := r.db.WithContext(ctx).
		Where("customer_profile_id = ? AND context_key = ?", entry.CustomerProfileID, entry.ContextKey).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
			return fmt.Errorf("failed to create context entry: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get context entry: %w", err)
	}

	if entry.Confidence < existing.Confidence {
		entry.Confidence = existing.Confidence
	}
	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("failed to update context entry: %w", err)
	}
	return nil
}

// GetContextEntries returns all context entries for a profile.
func (r *GormCustomerMemoryRepository) GetContextEntries(ctx context.Context, profileID string) ([]*domain.ContextEntry, error) {
	var entries []*domain.ContextEntry
	err := r.db.WithContext(ctx).
		Where("customer_profile_id = ?", profileID).
		Order("context_key ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get context entries: %w", err)
	}
	return entries, nil
}

// UpsertOpenIssue updates an existing open or in-progress issue matching the
// dedup key (tenant, profile, type, description); otherwise inserts a new
// open issue. Reports whether a row was created.
func (r *GormCustomerMemoryRepository) UpsertOpenIssue(ctx context.Context, issue *domain.OpenIssue) (bool, error) {
	var existing domain.OpenIssue
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_profile_id = ? AND issue_type = ? AND description = ? AND status IN ?",
			issue.TenantID, issue.CustomerProfileID, issue.IssueType, issue.Description,
			[]string{domain.IssueStatusOpen, domain.IssueStatusInProgress}).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if issue.ID == "" {
			issue.ID = uuid.New().String()
		}
		if issue.Status == "" {
			issue.Status = domain.IssueStatusOpen
		}
		if err := r.db.WithContext(ctx).Create(issue).Error; err != nil {
			return false, fmt.Errorf("failed to create open issue: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get open issue: %w", err)
	}

	updates := map[string]interface{}{
		"priority":       issue.Priority,
		"source_call_id": issue.SourceCallID,
		"updated_at":     time.Now(),
	}
	if err := r.db.WithContext(ctx).Model(&domain.OpenIssue{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("failed to update open issue: %w", err)
	}
	issue.ID = existing.ID
	return false, nil
}

// GetOpenIssues returns open and in-progress issues for a profile sorted by
// priority then age.
func (r *GormCustomerMemoryRepository) GetOpenIssues(ctx context.Context, profileID string) ([]*domain.OpenIssue, error) {
	var issues []*domain.OpenIssue
	err := r.db.WithContext(ctx).
		Where("customer_profile_id = ? AND status IN ?", profileID,
			[]string{domain.IssueStatusOpen, domain.IssueStatusInProgress}).
		Find(&issues).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open issues: %w", err)
	}
	// Priority first, oldest first within a priority.
	sort.SliceStable(issues, func(i, j int) bool {
		ri, rj := domain.PriorityRank(issues[i].Priority), domain.PriorityRank(issues[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return issues[i].CreatedAt.Before(issues[j].CreatedAt)
	})
	return issues, nil
}
