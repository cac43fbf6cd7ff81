package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/resolver"
	"github.com/brightline-ai/voice-agent-gateway/internal/session"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newToolHarness wires the tool routes in development mode (unsigned calls
// allowed) against a scripted commerce upstream.
func newToolHarness(t *testing.T, upstream http.HandlerFunc, bearer string) (*mux.Router, *session.Store) {
	t.Helper()
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	sessions := session.NewStore()
	t.Cleanup(sessions.Close)
	_, err := sessions.Create("call-1", "agent_abc", &domain.Credentials{
		TenantID:     "8b7f3f0e-26a1-4f3c-9c70-9a4c1df1a001",
		AgentID:      "agent_abc",
		BusinessName: "Elite Barbershop",
		AccessToken:  "EAAAtoken",
		BearerToken:  bearer,
	}, 0, nil)
	require.NoError(t, err)

	res := resolver.New(nil, sessions, nil, &domain.Credentials{
		AccessToken: "EAAAdefault",
		Source:      "environment",
	})
	h := NewToolHandler(nil, res, commerce.NewClient(server.URL), true, false)
	router := mux.NewRouter()
	h.SetupToolRoutes(router)
	return router, sessions
}

func postTool(router *mux.Router, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestToolRequiresResolvableAgent(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, "")

	// No session and no agent id: the environment default must not be used.
	rec := postTool(router, "/tools/get_staff", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, domain.CodeAgentConfigMissing, env.Error)
}

func TestToolResolvesSessionFromHeader(t *testing.T) {
	var gotAuth string
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"team_members":[]}`))
	}, "")

	rec := postTool(router, "/tools/get_staff", `{}`, map[string]string{CallIDHeader: "call-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer EAAAtoken", gotAuth)
}

func TestToolResolvesSessionFromPayloadCallObject(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"team_members":[]}`))
	}, "")

	rec := postTool(router, "/tools/get_staff", `{"call":{"call_id":"call-1"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToolBearerTokenEnforced(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"team_members":[]}`))
	}, "tenant-secret")

	rec := postTool(router, "/tools/get_staff", `{}`, map[string]string{CallIDHeader: "call-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postTool(router, "/tools/get_staff", `{}`, map[string]string{
		CallIDHeader:    "call-1",
		"Authorization": "Bearer wrong-secret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postTool(router, "/tools/get_staff", `{}`, map[string]string{
		CallIDHeader:    "call-1",
		"Authorization": "Bearer tenant-secret",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToolBearerAcceptsSignedJWT(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"team_members":[]}`))
	}, "tenant-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "agent_abc",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("tenant-secret"))
	require.NoError(t, err)

	rec := postTool(router, "/tools/get_staff", `{}`, map[string]string{
		CallIDHeader:    "call-1",
		"Authorization": "Bearer " + signed,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = postTool(router, "/tools/get_staff", `{}`, map[string]string{
		CallIDHeader:    "call-1",
		"Authorization": "Bearer " + forged,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestToolLookupCustomer(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"customers":[{"id":"CUST1","given_name":"Nick","family_name":"Carter","phone_number":"+12677210098"}]}`))
	}, "")

	rec := postTool(router, "/tools/lookup_customer",
		`{"call":{"call_id":"call-1"},"args":{"phone_number":"+12677210098"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Success bool              `json:"success"`
		Data    commerce.Customer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "CUST1", env.Data.ID)

	// Missing phone argument.
	rec = postTool(router, "/tools/lookup_customer", `{"call":{"call_id":"call-1"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolLookupCustomerNotFound(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"customers":[]}`))
	}, "")

	rec := postTool(router, "/tools/lookup_customer",
		`{"call":{"call_id":"call-1"},"args":{"phone":"+12675550000"}}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, domain.CodeNotFound, env.Error)
}

func TestToolCreateBookingValidation(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, "")
	headers := map[string]string{CallIDHeader: "call-1"}

	rec := postTool(router, "/tools/create_booking", `{"args":{}}`, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "Missing required fields", env.Message)
	assert.ElementsMatch(t, []interface{}{"customer_id", "start_at", "service_variation_id"}, env.Details)

	rec = postTool(router, "/tools/create_booking",
		`{"args":{"customer_id":"CUST1","start_at":"not-a-time","service_variation_id":"SV1"}}`, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	rec = postTool(router, "/tools/create_booking",
		`{"args":{"customer_id":"CUST1","start_at":"`+past+`","service_variation_id":"SV1"}}`, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolCreateBookingConflict(t *testing.T) {
	router, _ := newToolHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"errors":[{"detail":"slot taken"}]}`))
	}, "")

	future := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	rec := postTool(router, "/tools/create_booking",
		`{"args":{"customer_id":"CUST1","start_at":"`+future+`","service_variation_id":"SV1"}}`,
		map[string]string{CallIDHeader: "call-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, domain.CodeConflict, env.Error)
}

func TestToolRejectsUnsignedInProduction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	res := resolver.New(nil, nil, nil, nil)
	h := NewToolHandler(nil, res, commerce.NewClient(server.URL), true, true)
	router := mux.NewRouter()
	h.SetupToolRoutes(router)

	rec := postTool(router, "/tools/get_staff", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
