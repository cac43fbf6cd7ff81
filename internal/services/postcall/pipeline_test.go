package postcall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/repository"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	enabled bool
	sent    []sentMail
	err     error
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func (m *fakeMailer) Enabled() bool { return m.enabled }

func (m *fakeMailer) Send(to []string, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type fakeSMS struct {
	enabled bool
	sent    []string
}

func (s *fakeSMS) Enabled() bool { return s.enabled }

func (s *fakeSMS) Send(to, body string) error {
	s.sent = append(s.sent, to)
	return nil
}

func analyzedCall() *Call {
	started := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)
	return &Call{
		CallID:     "call_abc123",
		AgentID:    "agent_abc",
		FromNumber: "+12677210098",
		StartedAt:  &started,
		Transcript: "Agent: Hello\nUser: Hi",
		Successful: true,
		RawAnalysis: map[string]interface{}{
			"call_summary":   "Caller asked about hours.",
			"user_sentiment": "Positive",
		},
	}
}

func pipelineCreds() *domain.Credentials {
	return &domain.Credentials{
		TenantID:     "not-a-uuid",
		BusinessName: "Elite Barbershop",
		StaffEmail:   "owner@example.com",
	}
}

func TestRunSendsSummaryEmailToStaff(t *testing.T) {
	mail := &fakeMailer{enabled: true}
	p := NewPipeline(nil, nil, mail, nil, nil, nil, "fallback@example.com", 0)

	summary, err := p.Run(context.Background(), pipelineCreds(), analyzedCall())
	require.NoError(t, err)
	assert.True(t, summary.EmailSent)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, mail.sent[0].to)
	assert.Contains(t, mail.sent[0].subject, "Call summary")
	assert.Contains(t, mail.sent[0].body, "Caller asked about hours.")
}

func TestRunFallsBackToDefaultRecipient(t *testing.T) {
	mail := &fakeMailer{enabled: true}
	p := NewPipeline(nil, nil, mail, nil, nil, nil, "fallback@example.com", 0)

	creds := pipelineCreds()
	creds.StaffEmail = ""
	_, err := p.Run(context.Background(), creds, analyzedCall())
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"fallback@example.com"}, mail.sent[0].to)
}

func TestRunSkipsEmailWhenCallerNeverSpoke(t *testing.T) {
	mail := &fakeMailer{enabled: true}
	p := NewPipeline(nil, nil, mail, nil, nil, nil, "fallback@example.com", 0)

	call := analyzedCall()
	call.Transcript = "Agent: Hello\nAgent: Anyone there?"
	summary, err := p.Run(context.Background(), pipelineCreds(), call)
	require.NoError(t, err)
	assert.False(t, summary.EmailSent)
	assert.Empty(t, mail.sent)
}

func TestRunAbsorbsEmailFailure(t *testing.T) {
	mail := &fakeMailer{enabled: true, err: assert.AnError}
	p := NewPipeline(nil, nil, mail, nil, nil, nil, "fallback@example.com", 0)

	summary, err := p.Run(context.Background(), pipelineCreds(), analyzedCall())
	require.NoError(t, err)
	assert.False(t, summary.EmailSent)
}

func TestRunSendsBookingSMS(t *testing.T) {
	sender := &fakeSMS{enabled: true}
	p := NewPipeline(nil, nil, nil, sender, nil, nil, "", 0)

	call := analyzedCall()
	call.BookingCreated = true
	summary, err := p.Run(context.Background(), pipelineCreds(), call)
	require.NoError(t, err)
	assert.True(t, summary.SMSSent)
	assert.Equal(t, []string{"+12677210098"}, sender.sent)

	// No booking, no SMS.
	sender.sent = nil
	summary, err = p.Run(context.Background(), pipelineCreds(), analyzedCall())
	require.NoError(t, err)
	assert.False(t, summary.SMSSent)
	assert.Empty(t, sender.sent)
}

func TestRunIssueSubjectForFailedCall(t *testing.T) {
	mail := &fakeMailer{enabled: true}
	p := NewPipeline(nil, nil, mail, nil, nil, nil, "fallback@example.com", 0)

	call := analyzedCall()
	call.RawAnalysis = map[string]interface{}{
		"call_summary":    "Caller could not book.",
		"user_sentiment":  "Negative",
		"call_successful": false,
	}
	_, err := p.Run(context.Background(), pipelineCreds(), call)
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	assert.Contains(t, mail.sent[0].subject, "Attention needed")
}

func TestApplyAnalysisBackfillsCallFields(t *testing.T) {
	call := &Call{}
	applyAnalysis(call, map[string]interface{}{
		"call_summary":        "Backfilled summary.",
		"user_sentiment":      "Neutral",
		"call_successful":     true,
		"appointment_booked":  true,
		"booking_id":          "booking-9",
		"current_agent_state": "end_call",
	})
	assert.Equal(t, "Backfilled summary.", call.Summary)
	assert.Equal(t, "Neutral", call.Sentiment)
	assert.True(t, call.Successful)
	assert.True(t, call.BookingCreated)
	assert.Equal(t, "booking-9", call.BookingID)
	assert.Equal(t, "end_call", call.CurrentAgentState)

	// Direct webhook fields are never overwritten by the analysis.
	call = &Call{Summary: "webhook summary", Sentiment: "Positive"}
	applyAnalysis(call, map[string]interface{}{
		"call_summary":   "other",
		"user_sentiment": "Negative",
	})
	assert.Equal(t, "webhook summary", call.Summary)
	assert.Equal(t, "Positive", call.Sentiment)
}

func TestParseCall(t *testing.T) {
	payload := map[string]interface{}{
		"call_id":         "call_abc123",
		"agent_id":        "agent_abc",
		"from_number":     "+12677210098",
		"to_number":       "+12675550000",
		"direction":       "inbound",
		"transcript":      "Agent: Hello\nUser: Hi",
		"start_timestamp": float64(1756576800000),
		"end_timestamp":   float64(1756576980000),
		"transcript_object": []interface{}{
			map[string]interface{}{"role": "agent", "content": "Hello"},
			map[string]interface{}{"role": "user", "content": "Hi"},
		},
		"call_cost": map[string]interface{}{"combined_cost": float64(125)},
		"call_analysis": map[string]interface{}{
			"call_summary": "Caller said hi.",
		},
	}
	call := ParseCall(payload)

	assert.Equal(t, "call_abc123", call.CallID)
	assert.Equal(t, "agent_abc", call.AgentID)
	assert.Equal(t, "+12677210098", call.FromNumber)
	require.NotNil(t, call.StartedAt)
	require.NotNil(t, call.EndedAt)
	assert.Equal(t, 180, call.DurationSeconds)
	require.Len(t, call.Turns, 2)
	assert.Equal(t, "user", call.Turns[1].Role)
	assert.Equal(t, float64(125), call.CostCents)
	require.NotNil(t, call.RawAnalysis)
}

func TestParseCallMinimalPayload(t *testing.T) {
	call := ParseCall(map[string]interface{}{"call_id": "c-1"})
	assert.Equal(t, "c-1", call.CallID)
	assert.Nil(t, call.StartedAt)
	assert.Zero(t, call.DurationSeconds)
	assert.Empty(t, call.Turns)
}

// failingRepo aborts every transaction before fn runs.
type failingRepo struct {
	repository.RepositoryManager
}

func (f *failingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repos repository.RepositoryManager) error) error {
	return errors.New("connection reset by peer")
}

// capturingRepo runs the transaction against itself and records the profile
// the save produced.
type capturingRepo struct {
	repository.RepositoryManager
	repository.CustomerMemoryRepository
	profile *domain.CustomerProfile
}

func (c *capturingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repos repository.RepositoryManager) error) error {
	return fn(ctx, c)
}

func (c *capturingRepo) CustomerMemory() repository.CustomerMemoryRepository { return c }

func (c *capturingRepo) EnsureProfile(ctx context.Context, profile *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	copied := *profile
	copied.ID = "prof-1"
	c.profile = &copied
	out := copied
	return &out, nil
}

func (c *capturingRepo) UpdateProfile(ctx context.Context, profile *domain.CustomerProfile) error {
	copied := *profile
	c.profile = &copied
	return nil
}

func (c *capturingRepo) UpsertCallHistory(ctx context.Context, call *domain.CallHistory) (bool, error) {
	return true, nil
}

func (c *capturingRepo) UpsertContextEntry(ctx context.Context, entry *domain.ContextEntry) error {
	return nil
}

func (c *capturingRepo) UpsertOpenIssue(ctx context.Context, issue *domain.OpenIssue) (bool, error) {
	return true, nil
}

func uuidTenantCreds() *domain.Credentials {
	return &domain.Credentials{
		TenantID:     "0b663746-0aff-4f63-ac29-61bd1bd30012",
		BusinessName: "Elite Barbershop",
		StaffEmail:   "owner@example.com",
		AccessToken:  "EAAAtoken",
		LocationID:   "LOC1",
	}
}

func TestRunSendsNotificationsWhenMemorySaveFails(t *testing.T) {
	mail := &fakeMailer{enabled: true}
	mem := memory.NewService(&failingRepo{})
	p := NewPipeline(mem, nil, mail, nil, nil, nil, "fallback@example.com", 0)

	summary, err := p.Run(context.Background(), uuidTenantCreds(), analyzedCall())
	require.Error(t, err)
	assert.ErrorContains(t, err, "post-call memory persistence")

	// The staff email goes out before the memory save is attempted, so a
	// dead database cannot suppress the notification.
	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, mail.sent[0].to)
	assert.True(t, summary.EmailSent)
	assert.NotEmpty(t, summary.MemoryError)
}

func TestRunAttributesCustomerToMemorySave(t *testing.T) {
	var searches int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/customers/search" {
			searches++
			fmt.Fprint(w, `{"customers":[{"id":"CUST1","given_name":"Nick","family_name":"Carter","email_address":"nick@example.com","phone_number":"+12677210098"}]}`)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer upstream.Close()

	repo := &capturingRepo{}
	mem := memory.NewService(repo)
	p := NewPipeline(mem, nil, nil, nil, nil, commerce.NewClient(upstream.URL), "", 0)

	summary, err := p.Run(context.Background(), uuidTenantCreds(), analyzedCall())
	require.NoError(t, err)
	assert.Equal(t, "prof-1", summary.ProfileID)
	assert.Equal(t, 1, searches)

	require.NotNil(t, repo.profile)
	assert.Equal(t, "CUST1", repo.profile.CommerceCustomerID)
	assert.Equal(t, "Nick", repo.profile.FirstName)
	assert.Equal(t, "Carter", repo.profile.LastName)
	assert.Equal(t, "nick@example.com", repo.profile.Email)
}

func TestRunSkipsAttributionWithoutCommerceClient(t *testing.T) {
	repo := &capturingRepo{}
	mem := memory.NewService(repo)
	p := NewPipeline(mem, nil, nil, nil, nil, nil, "", 0)

	_, err := p.Run(context.Background(), uuidTenantCreds(), analyzedCall())
	require.NoError(t, err)
	require.NotNil(t, repo.profile)
	assert.Empty(t, repo.profile.CommerceCustomerID)
}
