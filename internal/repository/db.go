package repository

import (
	"context"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"gorm.io/gorm"
)

// TenantRepository defines tenant record operations.
type TenantRepository interface {
	Create(ctx context.Context, tenant *domain.Tenant) error
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	GetByAgentID(ctx context.Context, agentID string) (*domain.Tenant, error)
	Update(ctx context.Context, tenant *domain.Tenant) error
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string) error
	Delete(ctx context.Context, id string) error
}

// CustomerMemoryRepository defines the customer-memory table operations. All
// upserts are idempotent under their documented keys.
type CustomerMemoryRepository interface {
	GetProfileByPhone(ctx context.Context, tenantID, normalizedPhone string) (*domain.CustomerProfile, error)
	GetProfileByID(ctx context.Context, id string) (*domain.CustomerProfile, error)
	EnsureProfile(ctx context.Context, profile *domain.CustomerProfile) (*domain.CustomerProfile, error)
	UpdateProfile(ctx context.Context, profile *domain.CustomerProfile) error

	// UpsertCallHistory inserts or updates the row for call.CallID and
	// reports whether a new row was created.
	UpsertCallHistory(ctx context.Context, call *domain.CallHistory) (bool, error)
	GetCallHistory(ctx context.Context, callID string) (*domain.CallHistory, error)
	GetLastCall(ctx context.Context, profileID string) (*domain.CallHistory, error)

	// UpsertContextEntry keeps the max of existing and new confidence.
	UpsertContextEntry(ctx context.Context, entry *domain.ContextEntry) error
	GetContextEntries(ctx context.Context, profileID string) ([]*domain.ContextEntry, error)

	// UpsertOpenIssue updates an existing open/in_progress row matching
	// (tenant, profile, type, description) instead of duplicating it.
	// Reports whether a new row was created.
	UpsertOpenIssue(ctx context.Context, issue *domain.OpenIssue) (bool, error)
	GetOpenIssues(ctx context.Context, profileID string) ([]*domain.OpenIssue, error)
}

// RepositoryManager combines all repositories behind one handle.
type RepositoryManager interface {
	Tenant() TenantRepository
	CustomerMemory() CustomerMemoryRepository

	// WithTx runs fn inside a single database transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	Ping(ctx context.Context) error
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM.
type GormRepositoryManager struct {
	db         *gorm.DB
	tenantRepo *GormTenantRepository
	memoryRepo *GormCustomerMemoryRepository
}

// NewGormRepositoryManager creates a new GORM repository manager.
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:         db,
		tenantRepo: NewGormTenantRepository(db),
		memoryRepo: NewGormCustomerMemoryRepository(db),
	}
}

// Tenant returns the tenant repository.
func (m *GormRepositoryManager) Tenant() TenantRepository {
	return m.tenantRepo
}

// CustomerMemory returns the customer-memory repository.
func (m *GormRepositoryManager) CustomerMemory() CustomerMemoryRepository {
	return m.memoryRepo
}

// WithTx executes fn within a database transaction; every repository handed
// to fn is bound to that transaction.
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection.
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
