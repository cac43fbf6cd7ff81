package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormTenantRepository implements TenantRepository using GORM.
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new tenant repository.
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// Create inserts a tenant, minting a UUID when none is set.
func (r *GormTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by its internal UUID.
func (r *GormTenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// GetByAgentID retrieves the tenant owning an external agent id. Returns
// (nil, nil) when no tenant owns the agent.
func (r *GormTenantRepository) GetByAgentID(ctx context.Context, agentID string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&tenant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant by agent id: %w", err)
	}
	return &tenant, nil
}

// Update saves the full tenant record.
func (r *GormTenantRepository) Update(ctx context.Context, tenant *domain.Tenant) error {
	tenant.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(tenant).Error; err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	return nil
}

// UpdateTokens replaces the commerce token pair after a refresh.
func (r *GormTenantRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string) error {
	updates := map[string]interface{}{
		"commerce_access_token": accessToken,
		"updated_at":            time.Now(),
	}
	if refreshToken != "" {
		updates["commerce_refresh_token"] = refreshToken
	}
	if err := r.db.WithContext(ctx).Model(&domain.Tenant{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update tenant tokens: %w", err)
	}
	return nil
}

// Delete soft-deletes a tenant (offboarding).
func (r *GormTenantRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Tenant{}).Error; err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	return nil
}
