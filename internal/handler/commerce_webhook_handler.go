package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/signature"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CommerceSignatureHeader carries the commerce platform's body HMAC.
const CommerceSignatureHeader = "X-Commerce-Hmacsha256-Signature"

// CommerceWebhookHandler accepts booking notifications from the commerce
// platform. The gateway only acknowledges and logs these today; booking
// state itself is always read through the commerce API.
type CommerceWebhookHandler struct {
	verifier *signature.HMACVerifier
}

// NewCommerceWebhookHandler creates the commerce webhook handler.
func NewCommerceWebhookHandler(verifier *signature.HMACVerifier) *CommerceWebhookHandler {
	return &CommerceWebhookHandler{verifier: verifier}
}

// SetupCommerceWebhookRoutes registers the commerce webhook endpoint.
func (h *CommerceWebhookHandler) SetupCommerceWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/commerce/booking", h.HandleBookingEvent).Methods("POST")
}

// HandleBookingEvent verifies and acks one booking notification.
func (h *CommerceWebhookHandler) HandleBookingEvent(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, domain.ErrValidation("failed to read request body"))
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(rawBody, r.Header.Get(CommerceSignatureHeader)); err != nil {
			logger.Base().Warn("commerce webhook signature rejected", zap.Error(err))
			writeError(w, r, domain.ErrUnauthenticated("invalid webhook signature"))
			return
		}
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &event); err != nil {
		writeError(w, r, domain.ErrValidation("Request body must be valid JSON"))
		return
	}

	logger.Base().Info("commerce booking event received",
		zap.String("type", event.Type),
		zap.String("object_id", event.Data.ID),
		zap.String("correlation_id", CorrelationID(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}
