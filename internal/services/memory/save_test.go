package memory

import (
	"context"
	"testing"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenantID = "8b7f3f0e-26a1-4f3c-9c70-9a4c1df1a001"

func testCallRecord() *CallRecord {
	started := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	ended := started.Add(3 * time.Minute)
	return &CallRecord{
		CallID:          "call_abc123",
		FromNumber:      "+1 (267) 721-0098",
		StartedAt:       &started,
		EndedAt:         &ended,
		DurationSeconds: 180,
		Transcript:      "Agent: Hello\nUser: Hi, I'd like a haircut",
		Successful:      true,
		Sentiment:       "Positive",
		Summary:         "Caller asked about haircuts.",
		BookingCreated:  true,
		BookingID:       "booking-1",
		Analysis: map[string]interface{}{
			"preferred_stylist":    "Sarah",
			"service_interest":     "Haircut",
			"detected_language":    "en",
			"language_confidence":  0.9,
			"booking_attempted":    true,
			"booking_completed":    false,
			"unanswered_questions": []interface{}{"Do you do beard trims?"},
		},
	}
}

func TestSaveCallAnalysisValidation(t *testing.T) {
	svc := NewService(newFakeRepo())
	creds := &domain.Credentials{TenantID: testTenantID}

	call := testCallRecord()
	call.CallID = ""
	_, err := svc.SaveCallAnalysis(context.Background(), creds, call)
	assert.ErrorContains(t, err, "call id is required")

	call = testCallRecord()
	call.FromNumber = ""
	_, err = svc.SaveCallAnalysis(context.Background(), creds, call)
	assert.ErrorContains(t, err, "phone number is required")
}

func TestSaveCallAnalysisPersistsEverything(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	creds := &domain.Credentials{TenantID: testTenantID}

	result, err := svc.SaveCallAnalysis(context.Background(), creds, testCallRecord())
	require.NoError(t, err)
	assert.True(t, result.NewCall)
	assert.NotEmpty(t, result.ProfileID)
	assert.Equal(t, 2, result.ContextUpserts)
	assert.Equal(t, 2, result.IssuesCreated)

	profile, err := repo.GetProfileByPhone(context.Background(), testTenantID, "2677210098")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 1, profile.TotalCalls)
	assert.Equal(t, 1, profile.TotalBookings)
	assert.Equal(t, "en", profile.PreferredLanguage)
	assert.NotNil(t, profile.LastCallAt)

	entries, err := repo.GetContextEntries(context.Background(), profile.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotNil(t, e.LastConfirmedAt)
	}

	issues, err := repo.GetOpenIssues(context.Background(), profile.ID)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	for _, i := range issues {
		assert.Equal(t, testTenantID, i.TenantID)
		assert.Equal(t, "call_abc123", i.SourceCallID)
		assert.Equal(t, domain.IssueStatusOpen, i.Status)
	}
}

func TestSaveCallAnalysisReplayIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	creds := &domain.Credentials{TenantID: testTenantID}

	first, err := svc.SaveCallAnalysis(context.Background(), creds, testCallRecord())
	require.NoError(t, err)
	require.True(t, first.NewCall)

	second, err := svc.SaveCallAnalysis(context.Background(), creds, testCallRecord())
	require.NoError(t, err)
	assert.False(t, second.NewCall)
	assert.Equal(t, 0, second.IssuesCreated)

	profile, err := repo.GetProfileByPhone(context.Background(), testTenantID, "2677210098")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.TotalCalls)
	assert.Equal(t, 1, profile.TotalBookings)

	issues, err := repo.GetOpenIssues(context.Background(), profile.ID)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestSaveCallAnalysisFillsAttributedIdentity(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	creds := &domain.Credentials{TenantID: testTenantID}

	// First save is anonymous, the replayed one carries the commerce match.
	_, err := svc.SaveCallAnalysis(context.Background(), creds, testCallRecord())
	require.NoError(t, err)

	attributed := testCallRecord()
	attributed.CommerceCustomerID = "CUST1"
	attributed.FirstName = "Nick"
	attributed.LastName = "Carter"
	attributed.Email = "nick@example.com"
	_, err = svc.SaveCallAnalysis(context.Background(), creds, attributed)
	require.NoError(t, err)

	profile, err := repo.GetProfileByPhone(context.Background(), testTenantID, "2677210098")
	require.NoError(t, err)
	assert.Equal(t, "CUST1", profile.CommerceCustomerID)
	assert.Equal(t, "Nick", profile.FirstName)
	assert.Equal(t, "Carter", profile.LastName)
	assert.Equal(t, "nick@example.com", profile.Email)
}

func TestGetCustomerContextUnknownCaller(t *testing.T) {
	svc := NewService(newFakeRepo())
	cctx, err := svc.GetCustomerContext(context.Background(), testTenantID, "+12675550000")
	require.NoError(t, err)
	assert.Nil(t, cctx)
}

func TestGetCustomerContextAfterSave(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	creds := &domain.Credentials{TenantID: testTenantID}

	_, err := svc.SaveCallAnalysis(context.Background(), creds, testCallRecord())
	require.NoError(t, err)

	cctx, err := svc.GetCustomerContext(context.Background(), testTenantID, "(267) 721-0098")
	require.NoError(t, err)
	require.NotNil(t, cctx)
	assert.Equal(t, 1, cctx.Profile.TotalCalls)
	require.NotNil(t, cctx.LastCall)
	assert.Equal(t, "Caller asked about haircuts.", cctx.LastCall.Summary)
	assert.Len(t, cctx.OpenIssues, 2)

	assert.Equal(t, "Sarah", cctx.DynamicVariables["favorite_staff"])
	assert.Equal(t, "Haircut", cctx.DynamicVariables["service_interest"])
}
