package handler

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/resolver"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/signature"
	"github.com/brightline-ai/voice-agent-gateway/internal/toolpayload"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CallIDHeader carries the gateway-minted call id on tool requests.
const CallIDHeader = "X-Call-ID"

// ToolHandler serves the per-tool endpoints the voice agent invokes during a
// live call. Every request is signature-checked and scoped to the resolved
// tenant before any commerce call is made.
type ToolHandler struct {
	verifier      *signature.VoiceVerifier
	resolver      *resolver.Resolver
	commerce      *commerce.Client
	allowUnsigned bool
	production    bool
}

// NewToolHandler creates the tool-call handler.
func NewToolHandler(verifier *signature.VoiceVerifier, res *resolver.Resolver, client *commerce.Client, allowUnsigned, production bool) *ToolHandler {
	return &ToolHandler{
		verifier:      verifier,
		resolver:      res,
		commerce:      client,
		allowUnsigned: allowUnsigned,
		production:    production,
	}
}

// SetupToolRoutes registers the tool endpoints.
func (h *ToolHandler) SetupToolRoutes(router *mux.Router) {
	tools := router.PathPrefix("/tools").Subrouter()
	tools.HandleFunc("/lookup_customer", h.tool(h.lookupCustomer)).Methods("POST")
	tools.HandleFunc("/get_services", h.tool(h.getServices)).Methods("POST")
	tools.HandleFunc("/get_staff", h.tool(h.getStaff)).Methods("POST")
	tools.HandleFunc("/get_bookings", h.tool(h.getBookings)).Methods("POST")
	tools.HandleFunc("/create_booking", h.tool(h.createBooking)).Methods("POST")
}

type toolFunc func(w http.ResponseWriter, r *http.Request, creds *domain.Credentials, args map[string]interface{})

// tool wraps one tool endpoint with auth and payload normalization.
func (h *ToolHandler) tool(fn toolFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, r, domain.ErrValidation("failed to read request body"))
			return
		}

		var payload map[string]interface{}
		if len(rawBody) > 0 {
			if err := json.Unmarshal(rawBody, &payload); err != nil {
				writeError(w, r, domain.ErrValidation("Request body must be valid JSON"))
				return
			}
		}

		creds, appErr := h.authenticate(r, rawBody, payload)
		if appErr != nil {
			writeError(w, r, appErr)
			return
		}

		fn(w, r, creds, toolpayload.Normalize(payload))
	}
}

// authenticate enforces the signature, resolves the tenant from the session
// (falling back to the agent id), and checks the per-tenant bearer token.
func (h *ToolHandler) authenticate(r *http.Request, rawBody []byte, payload map[string]interface{}) (*domain.Credentials, *domain.AppError) {
	sigHeader := r.Header.Get(VoiceSignatureHeader)
	switch {
	case h.verifier != nil && sigHeader != "":
		if err := h.verifier.Verify(rawBody, sigHeader); err != nil {
			return nil, domain.ErrUnauthenticated("invalid request signature")
		}
	case h.allowUnsigned && !h.production:
		logger.Base().Warn("accepting unsigned tool call, development mode only",
			zap.String("path", r.URL.Path),
		)
	default:
		return nil, domain.ErrUnauthenticated("request signature is required")
	}

	callID := r.Header.Get(CallIDHeader)
	agentID := r.Header.Get("X-Agent-ID")
	if callMeta, ok := payload["call"].(map[string]interface{}); ok {
		if callID == "" {
			callID, _ = callMeta["call_id"].(string)
		}
		if agentID == "" {
			agentID, _ = callMeta["agent_id"].(string)
		}
	}
	if callID == "" {
		callID, _ = payload["call_id"].(string)
	}

	event := "tool:" + strings.TrimPrefix(r.URL.Path, "/tools/")
	creds, err := h.resolver.Resolve(r.Context(), resolver.Request{
		AgentID:      agentID,
		CallID:       callID,
		Event:        event,
		RequireAgent: true,
	})
	if err != nil {
		return nil, domain.AsAppError(err)
	}

	if creds.BearerToken != "" {
		if appErr := checkBearer(r, creds.BearerToken); appErr != nil {
			return nil, appErr
		}
	}
	return creds, nil
}

// checkBearer accepts either the tenant's static bearer token or a JWT
// signed with it.
func checkBearer(r *http.Request, expected string) *domain.AppError {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return domain.ErrUnauthenticated("missing bearer token")
	}
	if strings.Count(token, ".") == 2 {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(expected), nil
		})
		if err != nil || !parsed.Valid {
			return domain.ErrUnauthenticated("invalid bearer token")
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return domain.ErrUnauthenticated("invalid bearer token")
	}
	return nil
}

func (h *ToolHandler) lookupCustomer(w http.ResponseWriter, r *http.Request, creds *domain.Credentials, args map[string]interface{}) {
	phone := argString(args, "phone", "phone_number")
	if phone == "" {
		writeError(w, r, domain.ErrValidation("Missing required field: phone"))
		return
	}

	var customer *commerce.Customer
	var err error
	for _, variant := range domain.PhoneVariants(phone) {
		customer, err = h.commerce.SearchCustomerByPhone(r.Context(), creds, variant)
		if customer != nil || err != nil {
			break
		}
	}
	if err != nil {
		writeError(w, r, domain.ErrUpstream("customer lookup failed").WithCause(err))
		return
	}
	if customer == nil {
		writeError(w, r, domain.ErrNotFound(fmt.Sprintf("no customer found for %s", domain.NormalizePhone(phone))))
		return
	}
	writeSuccess(w, r, http.StatusOK, customer, "")
}

func (h *ToolHandler) getServices(w http.ResponseWriter, r *http.Request, creds *domain.Credentials, _ map[string]interface{}) {
	services, err := h.commerce.ListServiceVariations(r.Context(), creds)
	if err != nil {
		writeError(w, r, domain.ErrUpstream("service catalog fetch failed").WithCause(err))
		return
	}
	writeSuccess(w, r, http.StatusOK, services, "")
}

func (h *ToolHandler) getStaff(w http.ResponseWriter, r *http.Request, creds *domain.Credentials, _ map[string]interface{}) {
	staff, err := h.commerce.ListTeamMembers(r.Context(), creds)
	if err != nil {
		writeError(w, r, domain.ErrUpstream("staff roster fetch failed").WithCause(err))
		return
	}
	writeSuccess(w, r, http.StatusOK, staff, "")
}

func (h *ToolHandler) getBookings(w http.ResponseWriter, r *http.Request, creds *domain.Credentials, args map[string]interface{}) {
	customerID := argString(args, "customer_id", "customerId")
	if customerID == "" {
		writeError(w, r, domain.ErrValidation("Missing required field: customer_id"))
		return
	}
	bookings, err := h.commerce.SearchBookings(r.Context(), creds, commerce.BookingQuery{
		CustomerID: customerID,
		StartMin:   time.Now(),
		Limit:      10,
	})
	if err != nil {
		writeError(w, r, domain.ErrUpstream("booking lookup failed").WithCause(err))
		return
	}
	kept := bookings[:0]
	for _, b := range bookings {
		if b.Status == commerce.BookingStatusAccepted || b.Status == commerce.BookingStatusPending {
			kept = append(kept, b)
		}
	}
	writeSuccess(w, r, http.StatusOK, kept, "")
}

func (h *ToolHandler) createBooking(w http.ResponseWriter, r *http.Request, creds *domain.Credentials, args map[string]interface{}) {
	var missing []string
	customerID := argString(args, "customer_id", "customerId")
	startAtRaw := argString(args, "start_at", "startAt")
	variationID := argString(args, "service_variation_id", "serviceVariationId")
	if customerID == "" {
		missing = append(missing, "customer_id")
	}
	if startAtRaw == "" {
		missing = append(missing, "start_at")
	}
	if variationID == "" {
		missing = append(missing, "service_variation_id")
	}
	if len(missing) > 0 {
		writeError(w, r, domain.ErrValidation("Missing required fields").WithDetails(missing))
		return
	}
	startAt, err := time.Parse(time.RFC3339, startAtRaw)
	if err != nil {
		writeError(w, r, domain.ErrValidation("start_at must be an RFC 3339 timestamp"))
		return
	}
	if startAt.Before(time.Now()) {
		writeError(w, r, domain.ErrValidation("start_at must be in the future"))
		return
	}

	booking, err := h.commerce.CreateBooking(r.Context(), creds, commerce.CreateBookingRequest{
		CustomerID:              customerID,
		StartAt:                 startAt,
		ServiceVariationID:      variationID,
		ServiceVariationVersion: argString(args, "service_variation_version", "serviceVariationVersion"),
		TeamMemberID:            argString(args, "team_member_id", "teamMemberId"),
		Note:                    argString(args, "note"),
	})
	if err != nil {
		if commerce.StatusCode(err) == http.StatusConflict {
			writeError(w, r, domain.ErrConflict("requested time is no longer available"))
			return
		}
		writeError(w, r, domain.ErrUpstream("booking creation failed").WithCause(err))
		return
	}
	writeSuccess(w, r, http.StatusOK, booking, "Booking created")
}

func argString(args map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
