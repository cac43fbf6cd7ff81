package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"go.uber.org/zap"
)

// SuccessEnvelope is the standard success body for JSON endpoints.
type SuccessEnvelope struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Message       string      `json:"message,omitempty"`
	Timestamp     string      `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// ErrorEnvelope is the standard error body. Details may be a string, a list
// of strings, or a structured object; raw stack traces never appear here.
type ErrorEnvelope struct {
	Success       bool        `json:"success"`
	Error         string      `json:"error"`
	Message       string      `json:"message"`
	Details       interface{} `json:"details,omitempty"`
	Timestamp     string      `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Error("failed to encode response body", zap.Error(err))
	}
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}, message string) {
	writeJSON(w, status, &SuccessEnvelope{
		Success:       true,
		Data:          data,
		Message:       message,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: CorrelationID(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := domain.AsAppError(err)
	writeJSON(w, appErr.HTTPStatus, &ErrorEnvelope{
		Success:       false,
		Error:         appErr.Code,
		Message:       appErr.Message,
		Details:       appErr.Details,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: CorrelationID(r.Context()),
	})
}
