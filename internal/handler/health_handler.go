package handler

import (
	"net/http"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/config"
	"github.com/brightline-ai/voice-agent-gateway/internal/repository"
	"github.com/brightline-ai/voice-agent-gateway/internal/session"
	"github.com/brightline-ai/voice-agent-gateway/pkg/redis"
	"github.com/gorilla/mux"
)

// ServiceName identifies the gateway in health and info responses.
const ServiceName = "voice-agent-gateway"

// ServiceVersion is stamped at build time via -ldflags.
var ServiceVersion = "dev"

// HealthHandler serves the liveness, readiness and info probes.
type HealthHandler struct {
	cfg          *config.Config
	repo         repository.RepositoryManager
	sessions     *session.Store
	agentConfigs *config.AgentConfigCache
	redisSvc     *redis.Service
	startedAt    time.Time
}

// NewHealthHandler creates the health handler. Any dependency may be nil;
// its check reports "disabled".
func NewHealthHandler(cfg *config.Config, repo repository.RepositoryManager, sessions *session.Store, agentConfigs *config.AgentConfigCache, redisSvc *redis.Service) *HealthHandler {
	return &HealthHandler{
		cfg:          cfg,
		repo:         repo,
		sessions:     sessions,
		agentConfigs: agentConfigs,
		redisSvc:     redisSvc,
		startedAt:    time.Now(),
	}
}

// SetupHealthRoutes registers the probe endpoints.
func (h *HealthHandler) SetupHealthRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/health/live", h.Live).Methods("GET")
	router.HandleFunc("/health/ready", h.Ready).Methods("GET")
	router.HandleFunc("/health/detailed", h.Detailed).Methods("GET")
	router.HandleFunc("/api/info", h.Info).Methods("GET")
}

// Health is the basic probe load balancers poll.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   ServiceName,
		"version":   ServiceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Live reports process liveness only.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready reports whether the gateway can serve traffic: the database must
// answer and the agent-config cache must hold at least one descriptor when
// one was configured.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{
		"database":     h.databaseStatus(r),
		"agent_config": h.agentConfigStatus(),
	}
	for _, state := range checks {
		if state == "down" {
			status = http.StatusServiceUnavailable
		}
	}
	label := "ready"
	if status != http.StatusOK {
		label = "not ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": label,
		"checks": checks,
	})
}

// Detailed is the operator view: per-dependency status plus runtime gauges.
func (h *HealthHandler) Detailed(w http.ResponseWriter, r *http.Request) {
	sessionCount := 0
	if h.sessions != nil {
		sessionCount = h.sessions.Count()
	}
	detail := map[string]interface{}{
		"status":         "healthy",
		"service":        ServiceName,
		"version":        ServiceVersion,
		"environment":    h.cfg.Environment,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"sessions": map[string]interface{}{
			"active": sessionCount,
		},
		"dependencies": map[string]string{
			"database": h.databaseStatus(r),
			"redis":    h.redisStatus(r),
		},
	}
	if h.agentConfigs != nil {
		detail["agent_config"] = map[string]interface{}{
			"descriptors": h.agentConfigs.Count(),
			"age_seconds": int(h.agentConfigs.Age().Seconds()),
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// Info is the service descriptor consumed by the admin tooling.
func (h *HealthHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{
		"service":     ServiceName,
		"version":     ServiceVersion,
		"environment": h.cfg.Environment,
		"public_url":  h.cfg.PublicURL,
		"endpoints": []string{
			"POST /webhooks/voice",
			"POST /webhooks/commerce/booking",
			"POST /tools/{tool}",
			"GET /health",
			"GET /health/ready",
			"GET /health/live",
			"GET /health/detailed",
			"GET /api/info",
		},
	}, "")
}

func (h *HealthHandler) databaseStatus(r *http.Request) string {
	if h.repo == nil {
		return "disabled"
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		return "down"
	}
	return "up"
}

func (h *HealthHandler) agentConfigStatus() string {
	if h.agentConfigs == nil {
		return "disabled"
	}
	if h.agentConfigs.Count() == 0 {
		return "empty"
	}
	return "up"
}

func (h *HealthHandler) redisStatus(r *http.Request) string {
	if h.redisSvc == nil {
		return "disabled"
	}
	if err := h.redisSvc.Ping(r.Context()); err != nil {
		return "down"
	}
	return "up"
}
