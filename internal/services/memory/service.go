// Package memory owns the durable customer-memory layer: deriving context
// entries and open issues from post-call analysis, persisting them in one
// transaction, and flattening them back into dynamic variables on inbound.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/repository"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"go.uber.org/zap"
)

// DerivedConfidence tags every context entry produced from post-call analysis.
const DerivedConfidence = 0.85

// CallRecord is the slice of the call_analyzed payload the memory service
// consumes. Analysis is the normalized analysis object.
type CallRecord struct {
	CallID     string
	FromNumber string

	// Identity fields from the commerce attribution lookup; filled onto the
	// profile when it does not already carry them.
	CommerceCustomerID string
	FirstName          string
	LastName           string
	Email              string

	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	Transcript      string
	Successful      bool
	Sentiment       string
	Summary         string
	FinalAgentState string
	Spam            bool
	BookingCreated  bool
	BookingID       string
	Analysis        map[string]interface{}
}

// SaveResult summarizes one persistence run.
type SaveResult struct {
	ProfileID      string `json:"customer_profile_id"`
	NewCall        bool   `json:"new_call"`
	ContextUpserts int    `json:"context_upserts"`
	IssuesCreated  int    `json:"issues_created"`
}

// CustomerContext is the memory read served on call_inbound.
type CustomerContext struct {
	Profile          *domain.CustomerProfile
	OpenIssues       []*domain.OpenIssue
	LastCall         *domain.CallHistory
	ContextEntries   []*domain.ContextEntry
	DynamicVariables map[string]string
}

// Service implements the customer-memory operations.
type Service struct {
	repo repository.RepositoryManager
}

// NewService creates the memory service.
func NewService(repo repository.RepositoryManager) *Service {
	return &Service{repo: repo}
}

// SaveCallAnalysis derives context entries and open issues from the analysis
// and persists everything in a single transaction. Replaying the same call id
// is idempotent: one call-history row, aggregates bumped once, no duplicate
// issues. A transient conflict is retried once.
func (s *Service) SaveCallAnalysis(ctx context.Context, creds *domain.Credentials, call *CallRecord) (*SaveResult, error) {
	if call.CallID == "" {
		return nil, domain.ErrValidation("call id is required")
	}
	phone := domain.NormalizePhone(call.FromNumber)
	if phone == "" {
		return nil, domain.ErrValidation("caller phone number is required")
	}

	entries := DeriveContextEntries(call.Analysis)
	issues := DeriveOpenIssues(call.Analysis)

	result, err := s.saveTx(ctx, creds, call, phone, entries, issues)
	if err != nil && isTransient(err) {
		logger.Base().Warn("memory save hit transient conflict, retrying once",
			zap.String("call_id", call.CallID),
			zap.Error(err),
		)
		result, err = s.saveTx(ctx, creds, call, phone, entries, issues)
	}
	return result, err
}

func (s *Service) saveTx(ctx context.Context, creds *domain.Credentials, call *CallRecord, phone string, entries []*domain.ContextEntry, issues []*domain.OpenIssue) (*SaveResult, error) {
	result := &SaveResult{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		mem := repos.CustomerMemory()

		now := time.Now()
		profile, err := mem.EnsureProfile(ctx, &domain.CustomerProfile{
			TenantID:           creds.TenantID,
			PhoneNumber:        phone,
			CommerceCustomerID: call.CommerceCustomerID,
			FirstName:          call.FirstName,
			LastName:           call.LastName,
			Email:              call.Email,
			FirstCallAt:        &now,
		})
		if err != nil {
			return err
		}

		history := &domain.CallHistory{
			CallID:            call.CallID,
			TenantID:          creds.TenantID,
			CustomerProfileID: profile.ID,
			StartedAt:         call.StartedAt,
			EndedAt:           call.EndedAt,
			DurationSeconds:   call.DurationSeconds,
			Successful:        call.Successful,
			Sentiment:         call.Sentiment,
			DetectedLanguage:  analysisString(call.Analysis, "detected_language"),
			Summary:           call.Summary,
			Transcript:        call.Transcript,
			BookingCreated:    call.BookingCreated,
			BookingID:         call.BookingID,
			FinalAgentState:   call.FinalAgentState,
			Spam:              call.Spam,
		}
		wasNew, err := mem.UpsertCallHistory(ctx, history)
		if err != nil {
			return err
		}
		result.NewCall = wasNew

		if wasNew {
			profile.TotalCalls++
			if call.BookingCreated {
				profile.TotalBookings++
			}
			profile.LastCallAt = &now
			if profile.FirstCallAt == nil {
				profile.FirstCallAt = &now
			}
		}
		applyLanguage(profile, call.Analysis)
		if err := mem.UpdateProfile(ctx, profile); err != nil {
			return err
		}

		for _, entry := range entries {
			e := *entry
			e.CustomerProfileID = profile.ID
			confirmed := now
			e.LastConfirmedAt = &confirmed
			if err := mem.UpsertContextEntry(ctx, &e); err != nil {
				return err
			}
			result.ContextUpserts++
		}

		for _, issue := range issues {
			i := *issue
			i.TenantID = creds.TenantID
			i.CustomerProfileID = profile.ID
			i.SourceCallID = call.CallID
			created, err := mem.UpsertOpenIssue(ctx, &i)
			if err != nil {
				return err
			}
			if created {
				result.IssuesCreated++
			}
		}

		result.ProfileID = profile.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory save failed: %w", err)
	}
	return result, nil
}

// GetCustomerContext loads durable memory for an inbound caller: profile,
// open issues sorted by priority then age, the most recent call, and the
// agent-visible context entries flattened into dynamic variables. Returns
// (nil, nil) for an unknown caller.
func (s *Service) GetCustomerContext(ctx context.Context, tenantID, phone string) (*CustomerContext, error) {
	mem := s.repo.CustomerMemory()

	profile, err := mem.GetProfileByPhone(ctx, tenantID, domain.NormalizePhone(phone))
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}

	issues, err := mem.GetOpenIssues(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	lastCall, err := mem.GetLastCall(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	entries, err := mem.GetContextEntries(ctx, profile.ID)
	if err != nil {
		return nil, err
	}

	return &CustomerContext{
		Profile:          profile,
		OpenIssues:       issues,
		LastCall:         lastCall,
		ContextEntries:   entries,
		DynamicVariables: FlattenContextEntries(entries),
	}, nil
}

// FlattenContextEntries maps agent-visible entries into dynamic-variable
// form. favorite_staff expands to both a bare name and a JSON map keyed by
// service.
func FlattenContextEntries(entries []*domain.ContextEntry) map[string]string {
	vars := map[string]string{}
	for _, entry := range entries {
		if !entry.AgentVisible() {
			continue
		}
		if entry.ContextKey == "favorite_staff" {
			staff, byService := expandFavoriteStaff(entry.ContextValue)
			if staff != "" {
				vars["favorite_staff"] = staff
			}
			if byService != "" {
				vars["favorite_staff_json"] = byService
			}
			continue
		}
		vars[entry.ContextKey] = entry.ContextValue
	}
	return vars
}

func expandFavoriteStaff(value string) (string, string) {
	var pair struct {
		Service string `json:"service"`
		Staff   string `json:"staff"`
	}
	if err := json.Unmarshal([]byte(value), &pair); err != nil || pair.Staff == "" {
		// Legacy entries stored a bare name.
		return value, ""
	}
	service := pair.Service
	if service == "" {
		service = "default"
	}
	byService, _ := json.Marshal(map[string]string{service: pair.Staff})
	return pair.Staff, string(byService)
}

// DeriveContextEntries applies the field-by-field analysis mapping, skipping
// absent or empty values.
func DeriveContextEntries(analysis map[string]interface{}) []*domain.ContextEntry {
	if analysis == nil {
		return nil
	}
	var entries []*domain.ContextEntry
	add := func(key, value, valueType string) {
		entries = append(entries, &domain.ContextEntry{
			ContextKey:   key,
			ContextValue: value,
			ValueType:    valueType,
			Confidence:   DerivedConfidence,
			Source:       domain.ContextSourcePostCall,
		})
	}

	if stylist := analysisString(analysis, "preferred_stylist"); stylist != "" {
		pair, _ := json.Marshal(map[string]string{
			"service": analysisString(analysis, "service_interest"),
			"staff":   stylist,
		})
		add("favorite_staff", string(pair), domain.ValueTypeJSON)
	}
	if v := analysisString(analysis, "service_interest"); v != "" {
		add("service_interest", v, domain.ValueTypeString)
	}
	if v := analysisString(analysis, "preferred_time_of_day"); v != "" {
		add("preferred_time", v, domain.ValueTypeString)
	}
	if v := analysisString(analysis, "referral_source"); v != "" {
		add("referral_source", v, domain.ValueTypeString)
	}
	if v := analysisString(analysis, "hallucination_details"); v != "" {
		add("hallucination_details", v, domain.ValueTypeString)
	}
	return entries
}

// DeriveOpenIssues maps analysis flags onto open issues, deduplicating by
// (type, description) within the single analysis.
func DeriveOpenIssues(analysis map[string]interface{}) []*domain.OpenIssue {
	if analysis == nil {
		return nil
	}
	var issues []*domain.OpenIssue
	seen := map[string]bool{}
	add := func(issueType, description, priority string) {
		key := issueType + "\x00" + description
		if seen[key] {
			return
		}
		seen[key] = true
		issues = append(issues, &domain.OpenIssue{
			IssueType:   issueType,
			Description: description,
			Priority:    priority,
			Status:      domain.IssueStatusOpen,
		})
	}

	if analysisBool(analysis, "booking_attempted") && !analysisBool(analysis, "booking_completed") {
		desc := analysisString(analysis, "booking_failure_reason")
		if desc == "" {
			desc = "Customer attempted to book but the booking was not completed"
		}
		add(domain.IssueBookingIncomplete, desc, domain.PriorityHigh)
	}

	if questions, ok := analysis["unanswered_questions"].([]interface{}); ok {
		for _, q := range questions {
			if text, ok := q.(string); ok && strings.TrimSpace(text) != "" {
				add(domain.IssueQuestionUnanswered, text, domain.PriorityNormal)
			}
		}
	} else if v := analysisString(analysis, "unresolved_issue"); v != "" {
		add(domain.IssueQuestionUnanswered, v, domain.PriorityNormal)
	}

	if analysisBool(analysis, "callback_requested") {
		priority := domain.PriorityHigh
		if analysisBool(analysis, "callback_urgent") {
			priority = domain.PriorityUrgent
		}
		desc := analysisString(analysis, "callback_reason")
		if desc == "" {
			desc = "Customer requested a callback"
		}
		add(domain.IssueCallbackRequested, desc, priority)
	}
	return issues
}

// applyLanguage updates the profile's preferred language. A matching
// detection ratchets confidence up; a different language decays it to at
// most 0.75 before adopting the new one.
func applyLanguage(profile *domain.CustomerProfile, analysis map[string]interface{}) {
	lang := analysisString(analysis, "detected_language")
	if lang == "" {
		return
	}
	confidence := analysisFloat(analysis, "language_confidence", 0.8)

	if strings.EqualFold(profile.PreferredLanguage, lang) {
		if confidence > profile.LanguageConfidence {
			profile.LanguageConfidence = confidence
		}
		return
	}
	if confidence > 0.75 {
		confidence = 0.75
	}
	profile.PreferredLanguage = lang
	profile.LanguageConfidence = confidence
}

func analysisString(analysis map[string]interface{}, key string) string {
	if analysis == nil {
		return ""
	}
	if v, ok := analysis[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func analysisBool(analysis map[string]interface{}, key string) bool {
	switch v := analysis[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

func analysisFloat(analysis map[string]interface{}, key string, fallback float64) float64 {
	switch v := analysis[key].(type) {
	case float64:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

// isTransient recognizes serialization and duplicate-key conflicts worth one
// retry; the unique indexes make the second attempt a clean update.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "serialization")
}
