// Package postcall turns the end-of-call webhooks into durable side effects:
// customer memory writes, the staff summary email, the booking-confirmation
// SMS, and the platform summary push.
package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/memory"
	"github.com/brightline-ai/voice-agent-gateway/internal/session"
	"github.com/brightline-ai/voice-agent-gateway/internal/voiceapi"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/brightline-ai/voice-agent-gateway/pkg/mailer"
	"github.com/brightline-ai/voice-agent-gateway/pkg/sms"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Call is the slice of the call_ended and call_analyzed payloads the
// pipeline consumes.
type Call struct {
	CallID              string
	AgentID             string
	FromNumber          string
	ToNumber            string
	Direction           string
	StartedAt           *time.Time
	EndedAt             *time.Time
	DurationSeconds     int
	Transcript          string
	Turns               []Turn
	Summary             string
	Sentiment           string
	Successful          bool
	CurrentAgentState   string
	DisconnectionReason string
	CostCents           float64
	BookingCreated      bool
	BookingID           string
	RawAnalysis         interface{}
}

// Summary reports what the pipeline actually did for one call.
type Summary struct {
	ProfileID      string `json:"customer_profile_id,omitempty"`
	ContextUpserts int    `json:"context_upserts"`
	IssuesCreated  int    `json:"issues_created"`
	EmailSent      bool   `json:"email_sent"`
	SMSSent        bool   `json:"sms_sent"`
	MemoryError    string `json:"memory_error,omitempty"`
}

// Pipeline wires the post-call side effects together. Any of the outbound
// dependencies may be nil or disabled; each step degrades independently.
type Pipeline struct {
	memory           *memory.Service
	sessions         *session.Store
	mail             mailer.Mailer
	sms              sms.Sender
	voice            *voiceapi.Client
	commerce         *commerce.Client
	defaultRecipient string
	costAlertCents   float64
}

// NewPipeline creates the post-call pipeline.
func NewPipeline(mem *memory.Service, sessions *session.Store, mail mailer.Mailer, sender sms.Sender, voice *voiceapi.Client, commerceClient *commerce.Client, defaultRecipient string, costAlertCents float64) *Pipeline {
	if costAlertCents <= 0 {
		costAlertCents = DefaultCostAlertCents
	}
	return &Pipeline{
		memory:           mem,
		sessions:         sessions,
		mail:             mail,
		sms:              sender,
		voice:            voice,
		commerce:         commerceClient,
		defaultRecipient: defaultRecipient,
		costAlertCents:   costAlertCents,
	}
}

// Run executes the post-call steps in order: notifications first, then the
// commerce attribution lookup and summary push, then the memory save. A
// failed memory save is still returned as an error, but only after every
// notification has been attempted, and the summary records what ran.
func (p *Pipeline) Run(ctx context.Context, creds *domain.Credentials, call *Call) (*Summary, error) {
	summary := &Summary{}
	analysis := NormalizeAnalysis(call.RawAnalysis)
	applyAnalysis(call, analysis)

	log := logger.Base().With(
		zap.String("call_id", call.CallID),
		zap.String("agent_id", call.AgentID),
	)

	if p.sendEmail(call, analysis, creds, log) {
		summary.EmailSent = true
	}
	if p.sendBookingSMS(call, creds, log) {
		summary.SMSSent = true
	}

	customer := p.lookupCustomer(ctx, creds, call, log)
	p.pushSummary(ctx, call, log)

	var memErr error
	if p.memory != nil && tenantIsUUID(creds.TenantID) && call.FromNumber != "" {
		record := &memory.CallRecord{
			CallID:          call.CallID,
			FromNumber:      call.FromNumber,
			StartedAt:       call.StartedAt,
			EndedAt:         call.EndedAt,
			DurationSeconds: call.DurationSeconds,
			Transcript:      call.Transcript,
			Successful:      call.Successful,
			Sentiment:       call.Sentiment,
			Summary:         call.Summary,
			FinalAgentState: call.CurrentAgentState,
			Spam:            call.CurrentAgentState == spamAgentState,
			BookingCreated:  call.BookingCreated,
			BookingID:       call.BookingID,
			Analysis:        analysis,
		}
		if customer != nil {
			record.CommerceCustomerID = customer.ID
			record.FirstName = customer.GivenName
			record.LastName = customer.FamilyName
			record.Email = customer.Email
		}
		result, err := p.memory.SaveCallAnalysis(ctx, creds, record)
		if err != nil {
			memErr = fmt.Errorf("post-call memory persistence: %w", err)
			summary.MemoryError = memErr.Error()
		} else {
			summary.ProfileID = result.ProfileID
			summary.ContextUpserts = result.ContextUpserts
			summary.IssuesCreated = result.IssuesCreated
			p.updateSession(call.CallID, result.ProfileID)
		}
	}

	log.Info("post-call pipeline completed",
		zap.Int("context_upserts", summary.ContextUpserts),
		zap.Int("issues_created", summary.IssuesCreated),
		zap.Bool("email_sent", summary.EmailSent),
		zap.Bool("sms_sent", summary.SMSSent),
	)
	return summary, memErr
}

// lookupCustomer attributes the call to a commerce customer so the memory
// save can fill identity fields on the profile. Best effort; a miss or a
// dead upstream just means an anonymous save.
func (p *Pipeline) lookupCustomer(ctx context.Context, creds *domain.Credentials, call *Call, log *zap.Logger) *commerce.Customer {
	if p.commerce == nil || !creds.Usable() || call.FromNumber == "" {
		return nil
	}
	for _, variant := range domain.PhoneVariants(call.FromNumber) {
		customer, err := p.commerce.SearchCustomerByPhone(ctx, creds, variant)
		if err != nil {
			log.Warn("post-call customer attribution lookup failed", zap.Error(err))
			continue
		}
		if customer != nil {
			return customer
		}
	}
	return nil
}

func (p *Pipeline) sendEmail(call *Call, analysis map[string]interface{}, creds *domain.Credentials, log *zap.Logger) bool {
	if p.mail == nil || !p.mail.Enabled() {
		return false
	}
	if !HasUserTurn(call.Turns, call.Transcript) {
		log.Info("skipping summary email, caller never spoke")
		return false
	}
	recipient := creds.StaffEmail
	if recipient == "" {
		recipient = p.defaultRecipient
	}
	if recipient == "" {
		return false
	}

	kind := classifyEmail(call)
	subject := emailSubject(kind, creds.BusinessName, lastDigits(call.FromNumber))
	body := emailBody(call, analysis, creds, p.costAlertCents)
	if err := p.mail.Send([]string{recipient}, subject, body); err != nil {
		log.Warn("summary email send failed", zap.Error(err))
		return false
	}
	return true
}

func (p *Pipeline) sendBookingSMS(call *Call, creds *domain.Credentials, log *zap.Logger) bool {
	if p.sms == nil || !p.sms.Enabled() || !call.BookingCreated || call.FromNumber == "" {
		return false
	}
	body := fmt.Sprintf("Your appointment with %s is confirmed. See you soon!", creds.BusinessName)
	if err := p.sms.Send(call.FromNumber, body); err != nil {
		log.Warn("booking confirmation sms failed", zap.Error(err))
		return false
	}
	return true
}

func (p *Pipeline) pushSummary(ctx context.Context, call *Call, log *zap.Logger) {
	if p.voice == nil || call.Summary == "" {
		return
	}
	err := p.voice.PushCallSummary(ctx, &voiceapi.CallSummary{
		CallID:         call.CallID,
		AgentID:        call.AgentID,
		Summary:        call.Summary,
		Sentiment:      call.Sentiment,
		BookingCreated: call.BookingCreated,
	})
	if err != nil {
		log.Warn("call summary push failed", zap.Error(err))
	}
}

func (p *Pipeline) updateSession(callID, profileID string) {
	if p.sessions == nil || profileID == "" {
		return
	}
	p.sessions.Update(callID, map[string]interface{}{
		"customer_profile_id":  profileID,
		"context_persisted_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// applyAnalysis backfills call fields the webhook may only carry inside the
// analysis object.
func applyAnalysis(call *Call, analysis map[string]interface{}) {
	if call.Summary == "" {
		call.Summary = stringField(analysis, "call_summary")
	}
	if call.Sentiment == "" {
		call.Sentiment = stringField(analysis, "user_sentiment")
	}
	if v, ok := analysis["call_successful"].(bool); ok {
		call.Successful = v
	}
	if !call.BookingCreated {
		call.BookingCreated = boolField(analysis, "booking_created") || boolField(analysis, "appointment_booked")
	}
	if call.BookingID == "" {
		call.BookingID = stringField(analysis, "booking_id")
	}
	if call.CurrentAgentState == "" {
		call.CurrentAgentState = stringField(analysis, "current_agent_state")
	}
}

// ParseCall decodes the webhook's call object into the pipeline's shape.
func ParseCall(payload map[string]interface{}) *Call {
	call := &Call{
		CallID:              stringField(payload, "call_id"),
		AgentID:             stringField(payload, "agent_id"),
		FromNumber:          stringField(payload, "from_number"),
		ToNumber:            stringField(payload, "to_number"),
		Direction:           stringField(payload, "direction"),
		Transcript:          stringField(payload, "transcript"),
		DisconnectionReason: stringField(payload, "disconnection_reason"),
		CurrentAgentState:   stringField(payload, "current_agent_state"),
		RawAnalysis:         payload["call_analysis"],
	}

	if ts := msTimestamp(payload, "start_timestamp"); ts != nil {
		call.StartedAt = ts
	}
	if ts := msTimestamp(payload, "end_timestamp"); ts != nil {
		call.EndedAt = ts
	}
	if call.StartedAt != nil && call.EndedAt != nil {
		call.DurationSeconds = int(call.EndedAt.Sub(*call.StartedAt) / time.Second)
	}
	if ms, ok := numberField(payload, "duration_ms"); ok {
		call.DurationSeconds = int(ms / 1000)
	}

	if turns, ok := payload["transcript_object"].([]interface{}); ok {
		if data, err := json.Marshal(turns); err == nil {
			_ = json.Unmarshal(data, &call.Turns)
		}
	}

	if cost, ok := payload["call_cost"].(map[string]interface{}); ok {
		if cents, ok := numberField(cost, "combined_cost"); ok {
			call.CostCents = cents
		}
	}
	return call
}

func msTimestamp(m map[string]interface{}, key string) *time.Time {
	ms, ok := numberField(m, key)
	if !ok || ms <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(ms)).UTC()
	return &t
}

func numberField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func tenantIsUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func lastDigits(phone string) string {
	digits := domain.NormalizePhone(phone)
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	if digits == "" {
		return "unknown caller"
	}
	return "caller ending " + digits
}
