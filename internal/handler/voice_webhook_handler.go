package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/initcall"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/postcall"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/resolver"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/signature"
	"github.com/brightline-ai/voice-agent-gateway/internal/session"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/brightline-ai/voice-agent-gateway/pkg/redis"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// VoiceSignatureHeader carries the voice platform's request signature.
const VoiceSignatureHeader = "X-Retell-Signature"

const (
	maxWebhookBody   = 1 << 20
	aggregateTimeout = 10 * time.Second
	dedupTTL         = 10 * time.Minute
)

// VoiceWebhookHandler serves the voice platform's single webhook endpoint.
type VoiceWebhookHandler struct {
	verifier   *signature.VoiceVerifier
	resolver   *resolver.Resolver
	sessions   *session.Store
	aggregator *initcall.Aggregator
	pipeline   *postcall.Pipeline
	deduper    redis.Deduper
	sessionTTL time.Duration
}

// NewVoiceWebhookHandler creates the voice webhook handler. verifier may be
// nil when no signing key is configured (development only).
func NewVoiceWebhookHandler(verifier *signature.VoiceVerifier, res *resolver.Resolver, sessions *session.Store, aggregator *initcall.Aggregator, pipeline *postcall.Pipeline, deduper redis.Deduper, sessionTTL time.Duration) *VoiceWebhookHandler {
	return &VoiceWebhookHandler{
		verifier:   verifier,
		resolver:   res,
		sessions:   sessions,
		aggregator: aggregator,
		pipeline:   pipeline,
		deduper:    deduper,
		sessionTTL: sessionTTL,
	}
}

// SetupVoiceWebhookRoutes registers the voice webhook endpoint.
func (h *VoiceWebhookHandler) SetupVoiceWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/voice", h.HandleWebhook).Methods("POST")
}

// HandleWebhook validates, authenticates, and dispatches one voice event.
func (h *VoiceWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, domain.ErrValidation("failed to read request body"))
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(rawBody, r.Header.Get(VoiceSignatureHeader)); err != nil {
			logger.Base().Warn("voice webhook signature rejected",
				zap.Error(err),
				zap.String("correlation_id", CorrelationID(r.Context())),
			)
			writeError(w, r, domain.ErrUnauthenticated("invalid webhook signature"))
			return
		}
	}

	payload, appErr := parseWebhookBody(rawBody)
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}

	event, ok := payload["event"].(string)
	if !ok || event == "" {
		writeError(w, r, domain.ErrValidation(
			fmt.Sprintf("Missing required field: event (received fields: [%s])", strings.Join(sortedKeys(payload), ", "))))
		return
	}

	switch event {
	case "call_inbound":
		h.handleCallInbound(w, r, payload)
	case "call_started":
		h.handleCallStarted(w, r, payload)
	case "call_analyzed":
		h.handleCallAnalyzed(w, r, payload)
	case "call_ended":
		h.handleCallEnded(w, r, payload)
	default:
		writeError(w, r, domain.ErrValidation(fmt.Sprintf("Unrecognized event: %s", event)))
	}
}

func parseWebhookBody(rawBody []byte) (map[string]interface{}, *domain.AppError) {
	if len(rawBody) == 0 {
		return nil, domain.ErrValidation("Request body is required")
	}
	var parsed interface{}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, domain.ErrValidation("Request body must be valid JSON")
	}
	payload, ok := parsed.(map[string]interface{})
	if !ok {
		return nil, domain.ErrValidation(
			fmt.Sprintf("Request body must be a JSON object, received %s", jsonTypeName(parsed)))
	}
	return payload, nil
}

func jsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "unknown"
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func subtree(payload map[string]interface{}, key string) (map[string]interface{}, *domain.AppError) {
	sub, ok := payload[key].(map[string]interface{})
	if !ok {
		return nil, domain.ErrValidation(fmt.Sprintf("Missing required field: %s", key))
	}
	return sub, nil
}

func subtreeString(sub map[string]interface{}, parent, key string) (string, *domain.AppError) {
	v, _ := sub[key].(string)
	if v == "" {
		return "", domain.ErrValidation(fmt.Sprintf("Missing required field: %s.%s", parent, key))
	}
	return v, nil
}

// handleCallInbound mints the session and returns the seeded initialization
// payload. Aggregation failures degrade to the default variable set; only an
// unresolvable tenant is an error.
func (h *VoiceWebhookHandler) handleCallInbound(w http.ResponseWriter, r *http.Request, payload map[string]interface{}) {
	inbound, appErr := subtree(payload, "call_inbound")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	agentID, appErr := subtreeString(inbound, "call_inbound", "agent_id")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	fromNumber, appErr := subtreeString(inbound, "call_inbound", "from_number")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	toNumber, appErr := subtreeString(inbound, "call_inbound", "to_number")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}

	creds, err := h.resolver.Resolve(r.Context(), resolver.Request{
		AgentID: agentID,
		Event:   "call_inbound",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	callID := uuid.New().String()
	metadata := map[string]interface{}{
		"from_number":    fromNumber,
		"to_number":      toNumber,
		"correlation_id": CorrelationID(r.Context()),
	}
	if platformCallID, _ := inbound["call_id"].(string); platformCallID != "" {
		metadata["platform_call_id"] = platformCallID
	}
	if _, err := h.sessions.Create(callID, agentID, creds, h.sessionTTL, metadata); err != nil {
		logger.Base().Error("session creation failed",
			zap.String("call_id", callID),
			zap.Error(err),
		)
		writeError(w, r, domain.ErrInternal("failed to initialize call session"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), aggregateTimeout)
	defer cancel()
	cctx := h.aggregator.Aggregate(ctx, creds, fromNumber)

	response := initcall.BuildInboundResponse(cctx, creds, fromNumber, callID)
	writeJSON(w, http.StatusOK, response)
}

// handleCallStarted confirms the session exists, re-resolving the tenant
// when the call arrived on another instance.
func (h *VoiceWebhookHandler) handleCallStarted(w http.ResponseWriter, r *http.Request, payload map[string]interface{}) {
	call, appErr := subtree(payload, "call")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	callID, appErr := subtreeString(call, "call", "call_id")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	agentID, _ := call["agent_id"].(string)

	if _, ok := h.sessions.Get(callID); !ok {
		creds, err := h.resolver.Resolve(r.Context(), resolver.Request{
			AgentID: agentID,
			CallID:  callID,
			Event:   "call_started",
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		fromNumber, _ := call["from_number"].(string)
		if _, err := h.sessions.Create(callID, agentID, creds, h.sessionTTL, map[string]interface{}{
			"from_number": fromNumber,
			"recovered":   true,
		}); err != nil {
			logger.Base().Warn("session recovery failed", zap.String("call_id", callID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCallAnalyzed runs the post-call pipeline. Replays are deduplicated
// and pipeline failures are absorbed: the upstream gets its 204 either way.
func (h *VoiceWebhookHandler) handleCallAnalyzed(w http.ResponseWriter, r *http.Request, payload map[string]interface{}) {
	callPayload, appErr := subtree(payload, "call")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	callID, appErr := subtreeString(callPayload, "call", "call_id")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}

	if h.deduper != nil {
		first, err := h.deduper.MarkOnce(r.Context(), "call_analyzed:"+callID, dedupTTL)
		if err != nil {
			logger.Base().Warn("webhook dedup check failed, processing anyway", zap.Error(err))
		} else if !first {
			logger.Base().Info("duplicate call_analyzed suppressed", zap.String("call_id", callID))
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	call := postcall.ParseCall(callPayload)
	creds, err := h.resolver.Resolve(r.Context(), resolver.Request{
		AgentID: call.AgentID,
		CallID:  callID,
		Event:   "call_analyzed",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.pipeline.Run(r.Context(), creds, call); err != nil {
		// The upstream will not redeliver on error, so absorb it.
		logger.Base().Error("post-call pipeline failed",
			zap.String("call_id", callID),
			zap.String("correlation_id", CorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCallEnded destroys the session. Destroy is idempotent; an unknown or
// already expired call id still acks.
func (h *VoiceWebhookHandler) handleCallEnded(w http.ResponseWriter, r *http.Request, payload map[string]interface{}) {
	call, appErr := subtree(payload, "call")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	callID, appErr := subtreeString(call, "call", "call_id")
	if appErr != nil {
		writeError(w, r, appErr)
		return
	}
	existed := h.sessions.Destroy(callID)
	logger.Base().Info("call ended",
		zap.String("call_id", callID),
		zap.Bool("session_existed", existed),
	)
	w.WriteHeader(http.StatusNoContent)
}
