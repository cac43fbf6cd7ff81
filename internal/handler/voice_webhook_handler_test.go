package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/initcall"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/postcall"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/resolver"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/signature"
	"github.com/brightline-ai/voice-agent-gateway/internal/session"
	"github.com/brightline-ai/voice-agent-gateway/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWebhookHarness wires the handler against an upstream commerce stub with
// no customer data, no signature verifier, and an environment-default tenant.
func newWebhookHarness(t *testing.T) (*VoiceWebhookHandler, *session.Store) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(upstream.Close)

	sessions := session.NewStore()
	t.Cleanup(sessions.Close)

	defaults := &domain.Credentials{
		TenantID:     "default",
		BusinessName: "Elite Barbershop",
		Timezone:     "America/New_York",
		AccessToken:  "EAAAtoken",
		Source:       "environment",
	}
	res := resolver.New(nil, sessions, nil, defaults)
	client := commerce.NewClient(upstream.URL)
	aggregator := initcall.NewAggregator(client, nil)
	pipeline := postcall.NewPipeline(nil, sessions, nil, nil, nil, nil, "", 0)

	h := NewVoiceWebhookHandler(nil, res, sessions, aggregator, pipeline, redis.NewMemoryDeduper(), time.Minute)
	return h, sessions
}

func postWebhook(t *testing.T, h *VoiceWebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return &env
}

func TestWebhookRejectsEmptyBody(t *testing.T) {
	h, _ := newWebhookHarness(t)
	rec := postWebhook(t, h, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeError(t, rec)
	assert.Equal(t, domain.CodeValidation, env.Error)
	assert.Equal(t, "Request body is required", env.Message)
}

func TestWebhookRejectsInvalidJSON(t *testing.T) {
	h, _ := newWebhookHarness(t)
	rec := postWebhook(t, h, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Request body must be valid JSON", decodeError(t, rec).Message)
}

func TestWebhookRejectsNonObjectBody(t *testing.T) {
	h, _ := newWebhookHarness(t)
	cases := map[string]string{
		`[1,2]`:   "Request body must be a JSON object, received array",
		`"hello"`: "Request body must be a JSON object, received string",
		`42`:      "Request body must be a JSON object, received number",
		`true`:    "Request body must be a JSON object, received boolean",
		`null`:    "Request body must be a JSON object, received null",
	}
	for body, want := range cases {
		rec := postWebhook(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, want, decodeError(t, rec).Message, "body %s", body)
	}
}

func TestWebhookRejectsMissingEvent(t *testing.T) {
	h, _ := newWebhookHarness(t)
	rec := postWebhook(t, h, `{"beta":1,"alpha":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t,
		"Missing required field: event (received fields: [alpha, beta])",
		decodeError(t, rec).Message)
}

func TestWebhookRejectsUnknownEvent(t *testing.T) {
	h, _ := newWebhookHarness(t)
	rec := postWebhook(t, h, `{"event":"call_teleported"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unrecognized event: call_teleported", decodeError(t, rec).Message)
}

func TestWebhookRejectsMissingInboundFields(t *testing.T) {
	h, _ := newWebhookHarness(t)

	rec := postWebhook(t, h, `{"event":"call_inbound"}`)
	assert.Equal(t, "Missing required field: call_inbound", decodeError(t, rec).Message)

	rec = postWebhook(t, h, `{"event":"call_inbound","call_inbound":{"from_number":"+12677210098"}}`)
	assert.Equal(t, "Missing required field: call_inbound.agent_id", decodeError(t, rec).Message)

	rec = postWebhook(t, h, `{"event":"call_inbound","call_inbound":{"agent_id":"agent_abc"}}`)
	assert.Equal(t, "Missing required field: call_inbound.from_number", decodeError(t, rec).Message)

	rec = postWebhook(t, h, `{"event":"call_inbound","call_inbound":{"agent_id":"agent_abc","from_number":"+12677210098"}}`)
	assert.Equal(t, "Missing required field: call_inbound.to_number", decodeError(t, rec).Message)
}

func TestWebhookCallInboundMintsSessionAndVariables(t *testing.T) {
	h, sessions := newWebhookHarness(t)
	rec := postWebhook(t, h, `{"event":"call_inbound","call_inbound":{"agent_id":"agent_abc","from_number":"+12677210098","to_number":"+12675550100"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp initcall.InboundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	vars := resp.CallInbound.DynamicVariables

	assert.Equal(t, "Thank you for calling Elite Barbershop, who am I speaking with today?", vars["initial_message"])
	assert.Equal(t, "false", vars["is_returning_customer"])
	assert.Equal(t, "2677210098", vars["caller_id"])
	assert.NotEmpty(t, vars["call_id"])

	// The minted call id is a live session bound to the resolved tenant.
	sess, ok := sessions.Get(vars["call_id"])
	require.True(t, ok)
	assert.Equal(t, "agent_abc", sess.AgentID)
	assert.Equal(t, "EAAAtoken", sess.Credentials.AccessToken)
	assert.Equal(t, "+12677210098", sess.Metadata["from_number"])
	assert.Equal(t, "+12675550100", sess.Metadata["to_number"])
}

func TestWebhookCallStartedRecoversMissingSession(t *testing.T) {
	h, sessions := newWebhookHarness(t)
	rec := postWebhook(t, h, `{"event":"call_started","call":{"call_id":"call-x","agent_id":"agent_abc","from_number":"+12677210098"}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	sess, ok := sessions.Get("call-x")
	require.True(t, ok)
	assert.Equal(t, true, sess.Metadata["recovered"])
}

func TestWebhookCallEndedIsIdempotent(t *testing.T) {
	h, sessions := newWebhookHarness(t)
	_, err := sessions.Create("call-y", "agent_abc", &domain.Credentials{AccessToken: "tok"}, 0, nil)
	require.NoError(t, err)

	body := `{"event":"call_ended","call":{"call_id":"call-y"}}`
	assert.Equal(t, http.StatusNoContent, postWebhook(t, h, body).Code)
	_, ok := sessions.Get("call-y")
	assert.False(t, ok)

	// Replay still acks.
	assert.Equal(t, http.StatusNoContent, postWebhook(t, h, body).Code)
}

func TestWebhookCallAnalyzedDeduplicates(t *testing.T) {
	h, _ := newWebhookHarness(t)
	body := `{"event":"call_analyzed","call":{"call_id":"call-z","agent_id":"agent_abc","from_number":"+12677210098","call_analysis":{"call_summary":"hi"}}}`

	assert.Equal(t, http.StatusNoContent, postWebhook(t, h, body).Code)
	assert.Equal(t, http.StatusNoContent, postWebhook(t, h, body).Code)
}

func TestWebhookSignatureEnforced(t *testing.T) {
	h, _ := newWebhookHarness(t)
	verifier := signature.NewVoiceVerifier("signing-key")
	h.verifier = verifier

	body := `{"event":"call_ended","call":{"call_id":"c"}}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.CodeUnauthenticated, decodeError(t, rec).Error)

	// A correctly signed request goes through.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewReader([]byte(body)))
	req.Header.Set(VoiceSignatureHeader, verifier.Sign([]byte(body), time.Now()))
	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
