package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/repository"
)

// fakeRepo is an in-memory RepositoryManager mirroring the documented upsert
// semantics of the real gorm repositories.
type fakeRepo struct {
	profiles map[string]*domain.CustomerProfile
	calls    map[string]*domain.CallHistory
	entries  map[string]*domain.ContextEntry
	issues   []*domain.OpenIssue
	nextID   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		profiles: map[string]*domain.CustomerProfile{},
		calls:    map[string]*domain.CallHistory{},
		entries:  map[string]*domain.ContextEntry{},
	}
}

func (f *fakeRepo) Tenant() repository.TenantRepository { return nil }

func (f *fakeRepo) CustomerMemory() repository.CustomerMemoryRepository { return f }

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repos repository.RepositoryManager) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) id() string {
	f.nextID++
	return fmt.Sprintf("id-%d", f.nextID)
}

func (f *fakeRepo) GetProfileByPhone(ctx context.Context, tenantID, phone string) (*domain.CustomerProfile, error) {
	p, ok := f.profiles[tenantID+"/"+phone]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *fakeRepo) GetProfileByID(ctx context.Context, id string) (*domain.CustomerProfile, error) {
	for _, p := range f.profiles {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) EnsureProfile(ctx context.Context, profile *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	key := profile.TenantID + "/" + profile.PhoneNumber
	if existing, ok := f.profiles[key]; ok {
		if existing.CommerceCustomerID == "" {
			existing.CommerceCustomerID = profile.CommerceCustomerID
		}
		if existing.FirstName == "" {
			existing.FirstName = profile.FirstName
		}
		if existing.LastName == "" {
			existing.LastName = profile.LastName
		}
		if existing.Email == "" {
			existing.Email = profile.Email
		}
		copied := *existing
		return &copied, nil
	}
	created := *profile
	created.ID = f.id()
	f.profiles[key] = &created
	copied := created
	return &copied, nil
}

func (f *fakeRepo) UpdateProfile(ctx context.Context, profile *domain.CustomerProfile) error {
	for key, p := range f.profiles {
		if p.ID == profile.ID {
			copied := *profile
			f.profiles[key] = &copied
			return nil
		}
	}
	return fmt.Errorf("profile %s not found", profile.ID)
}

func (f *fakeRepo) UpsertCallHistory(ctx context.Context, call *domain.CallHistory) (bool, error) {
	_, exists := f.calls[call.CallID]
	copied := *call
	if !exists {
		copied.ID = f.id()
	}
	f.calls[call.CallID] = &copied
	return !exists, nil
}

func (f *fakeRepo) GetCallHistory(ctx context.Context, callID string) (*domain.CallHistory, error) {
	c, ok := f.calls[callID]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (f *fakeRepo) GetLastCall(ctx context.Context, profileID string) (*domain.CallHistory, error) {
	var last *domain.CallHistory
	for _, c := range f.calls {
		if c.CustomerProfileID != profileID {
			continue
		}
		if last == nil || after(c.StartedAt, last.StartedAt) {
			last = c
		}
	}
	if last == nil {
		return nil, nil
	}
	copied := *last
	return &copied, nil
}

func after(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func (f *fakeRepo) UpsertContextEntry(ctx context.Context, entry *domain.ContextEntry) error {
	key := entry.CustomerProfileID + "/" + entry.ContextKey
	copied := *entry
	if existing, ok := f.entries[key]; ok {
		if existing.Confidence > copied.Confidence {
			copied.Confidence = existing.Confidence
		}
		copied.ID = existing.ID
	} else {
		copied.ID = f.id()
	}
	f.entries[key] = &copied
	return nil
}

func (f *fakeRepo) GetContextEntries(ctx context.Context, profileID string) ([]*domain.ContextEntry, error) {
	var out []*domain.ContextEntry
	for _, e := range f.entries {
		if e.CustomerProfileID == profileID {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextKey < out[j].ContextKey })
	return out, nil
}

func (f *fakeRepo) UpsertOpenIssue(ctx context.Context, issue *domain.OpenIssue) (bool, error) {
	for _, existing := range f.issues {
		if existing.CustomerProfileID == issue.CustomerProfileID &&
			existing.TenantID == issue.TenantID &&
			existing.IssueType == issue.IssueType &&
			existing.Description == issue.Description &&
			existing.Status != domain.IssueStatusResolved {
			existing.Priority = issue.Priority
			return false, nil
		}
	}
	copied := *issue
	copied.ID = f.id()
	f.issues = append(f.issues, &copied)
	return true, nil
}

func (f *fakeRepo) GetOpenIssues(ctx context.Context, profileID string) ([]*domain.OpenIssue, error) {
	var out []*domain.OpenIssue
	for _, i := range f.issues {
		if i.CustomerProfileID == profileID && i.Status != domain.IssueStatusResolved {
			copied := *i
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return domain.PriorityRank(out[a].Priority) < domain.PriorityRank(out[b].Priority)
	})
	return out, nil
}
