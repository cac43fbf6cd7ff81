package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/config"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/repository"
	"github.com/brightline-ai/voice-agent-gateway/internal/secrets"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/initcall"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/memory"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/postcall"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/resolver"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/signature"
	"github.com/brightline-ai/voice-agent-gateway/internal/session"
	"github.com/brightline-ai/voice-agent-gateway/internal/voiceapi"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/brightline-ai/voice-agent-gateway/pkg/mailer"
	"github.com/brightline-ai/voice-agent-gateway/pkg/redis"
	"github.com/brightline-ai/voice-agent-gateway/pkg/sms"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager builds every service the HTTP layer needs and registers
// the routes.
type HandlerManager struct {
	cfg          *config.Config
	repoManager  repository.RepositoryManager
	sessions     *session.Store
	agentConfigs *config.AgentConfigCache
	resolver     *resolver.Resolver
	aggregator   *initcall.Aggregator
	pipeline     *postcall.Pipeline
	commerce     *commerce.Client
	redisSvc     *redis.Service
	deduper      redis.Deduper
	rateLimiter  *RateLimiter

	voiceVerifier    *signature.VoiceVerifier
	commerceVerifier *signature.HMACVerifier
}

// NewHandlerManager wires the full gateway. The database, Redis, SMTP and
// Twilio are all optional; each missing dependency degrades its own feature
// and nothing else.
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	var repoManager repository.RepositoryManager
	if cfg.DatabaseURL != "" || os.Getenv("DB_HOST") != "" {
		rm, err := repository.NewRepositoryManager()
		if err != nil {
			logger.Base().Error("failed to connect to database", zap.Error(err))
			return nil, err
		}
		repoManager = rm
	} else {
		logger.Base().Warn("no database configured, tenant and memory lookups run from agent config only")
	}

	var redisSvc *redis.Service
	var deduper redis.Deduper
	if cfg.RedisAddr != "" {
		svc, err := redis.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Base().Warn("failed to initialize redis, falling back to in-process webhook dedup", zap.Error(err))
			deduper = redis.NewMemoryDeduper()
		} else {
			redisSvc = svc
			deduper = svc
		}
	} else {
		deduper = redis.NewMemoryDeduper()
	}

	agentConfigs, err := buildAgentConfigCache(cfg)
	if err != nil {
		return nil, err
	}

	var voiceVerifier *signature.VoiceVerifier
	if cfg.VoiceAPIKey != "" {
		voiceVerifier = signature.NewVoiceVerifier(cfg.VoiceAPIKey)
		if cfg.VoiceSignatureProbe != "" {
			if err := voiceVerifier.SelfCheck(cfg.VoiceSignatureProbe); err != nil {
				return nil, fmt.Errorf("voice signature self-check failed: %w", err)
			}
			logger.Base().Info("voice signature self-check passed")
		}
	} else if cfg.IsProduction() {
		return nil, fmt.Errorf("VOICE_API_KEY is required in production")
	} else {
		logger.Base().Warn("VOICE_API_KEY not set, webhook signatures are not verified")
	}

	var commerceVerifier *signature.HMACVerifier
	if cfg.CommerceWebhookSigningKey != "" {
		commerceVerifier = signature.NewHMACVerifier(cfg.CommerceWebhookSigningKey)
	}

	sessions := session.NewStore()
	commerceClient := commerce.NewClient(cfg.CommerceBaseURL)
	voiceClient := voiceapi.NewClient(cfg.VoiceAPIBaseURL, cfg.VoiceAPIKey)

	var memorySvc *memory.Service
	if repoManager != nil {
		memorySvc = memory.NewService(repoManager)
	}

	res := resolver.New(repoManager, sessions, agentConfigs, defaultCredentials())
	aggregator := initcall.NewAggregator(commerceClient, memorySvc)

	mail := mailer.NewSMTPMailer(cfg.EmailHost, cfg.EmailPort, cfg.EmailUser, cfg.EmailPassword, cfg.EmailFrom)
	smsSender := sms.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	pipeline := postcall.NewPipeline(memorySvc, sessions, mail, smsSender, voiceClient, commerceClient, cfg.EmailTo, float64(cfg.EmailCostAlertThresholdCents))

	return &HandlerManager{
		cfg:              cfg,
		repoManager:      repoManager,
		sessions:         sessions,
		agentConfigs:     agentConfigs,
		resolver:         res,
		aggregator:       aggregator,
		pipeline:         pipeline,
		commerce:         commerceClient,
		redisSvc:         redisSvc,
		deduper:          deduper,
		rateLimiter:      NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		voiceVerifier:    voiceVerifier,
		commerceVerifier: commerceVerifier,
	}, nil
}

// buildAgentConfigCache loads the encrypted agent-config blob from the
// secret store or a local file. A bad auth tag fails startup; a missing
// source just disables the config-file credential source.
func buildAgentConfigCache(cfg *config.Config) (*config.AgentConfigCache, error) {
	if cfg.SecretStoreName == "" && cfg.AgentConfigPath == "" {
		logger.Base().Info("no agent-config source configured")
		return nil, nil
	}

	provider := secrets.NewCachedProvider(&secrets.EnvProvider{Dir: os.Getenv("SECRET_STORE_DIR")}, config.DefaultAgentConfigTTL)

	loader := func(ctx context.Context) ([]*config.AgentDescriptor, error) {
		var raw []byte
		switch {
		case cfg.SecretStoreName != "":
			secret, err := provider.GetSecret(ctx, cfg.SecretStoreName)
			if err != nil {
				return nil, fmt.Errorf("agent config secret fetch: %w", err)
			}
			raw = []byte(secret)
		default:
			data, err := os.ReadFile(cfg.AgentConfigPath)
			if err != nil {
				return nil, fmt.Errorf("agent config file read: %w", err)
			}
			raw = data
		}

		var probe struct {
			Algorithm string `json:"algorithm"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.Algorithm != "" {
			key, err := config.ParseEncryptionKey(cfg.AgentConfigEncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("agent config encryption key: %w", err)
			}
			return config.DecryptAgentConfig(raw, key)
		}
		return config.ParseAgentDescriptors(raw)
	}

	cache := config.NewAgentConfigCache(loader, config.DefaultAgentConfigTTL)
	if err := cache.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("agent config load: %w", err)
	}
	logger.Base().Info("agent config loaded", zap.Int("descriptors", cache.Count()))
	return cache, nil
}

// defaultCredentials builds the process-wide fallback tenant from the
// environment. Returns nil when no default access token is configured.
func defaultCredentials() *domain.Credentials {
	token := os.Getenv("DEFAULT_COMMERCE_ACCESS_TOKEN")
	if token == "" {
		return nil
	}
	return &domain.Credentials{
		TenantID:     config.GetEnvOrDefault("DEFAULT_TENANT_ID", "default"),
		AgentID:      os.Getenv("DEFAULT_AGENT_ID"),
		BusinessName: config.GetEnvOrDefault("DEFAULT_BUSINESS_NAME", "our business"),
		Timezone:     config.GetEnvOrDefault("TZ", domain.DefaultTimezone),
		AccessToken:  token,
		LocationID:   os.Getenv("DEFAULT_COMMERCE_LOCATION_ID"),
		Environment:  config.GetEnvOrDefault("DEFAULT_COMMERCE_ENVIRONMENT", domain.EnvironmentProduction),
		Source:       "environment",
	}
}

// SetupAllRoutes registers every route with the global middleware chain.
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CorrelationIDMiddleware)
	router.Use(CORSMiddleware(hm.cfg.AllowedOrigins))
	router.Use(GlobalLoggingMiddleware)
	router.Use(hm.rateLimiter.Middleware)

	voiceHandler := NewVoiceWebhookHandler(hm.voiceVerifier, hm.resolver, hm.sessions, hm.aggregator, hm.pipeline, hm.deduper, hm.cfg.SessionTTL)
	voiceHandler.SetupVoiceWebhookRoutes(router)

	commerceHandler := NewCommerceWebhookHandler(hm.commerceVerifier)
	commerceHandler.SetupCommerceWebhookRoutes(router)

	toolHandler := NewToolHandler(hm.voiceVerifier, hm.resolver, hm.commerce, hm.cfg.AllowUnsignedToolCalls, hm.cfg.IsProduction())
	toolHandler.SetupToolRoutes(router)

	healthHandler := NewHealthHandler(hm.cfg, hm.repoManager, hm.sessions, hm.agentConfigs, hm.redisSvc)
	healthHandler.SetupHealthRoutes(router)

	staticDir := config.GetEnvOrDefault("STATIC_DIR", "./static")
	router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir)))).Methods("GET")

	logger.Base().Info("all application routes registered")
}

// Sessions exposes the session store for shutdown.
func (hm *HandlerManager) Sessions() *session.Store {
	return hm.sessions
}

// Close releases long-lived resources: the final session sweep, the Redis
// connection, and the database pool.
func (hm *HandlerManager) Close() {
	if hm.sessions != nil {
		swept := hm.sessions.Sweep()
		hm.sessions.Close()
		logger.Base().Info("session store closed", zap.Int("swept", swept))
	}
	if hm.redisSvc != nil {
		if err := hm.redisSvc.Close(); err != nil {
			logger.Base().Warn("redis close failed", zap.Error(err))
		}
	}
	if hm.repoManager != nil {
		if err := hm.repoManager.Close(); err != nil {
			logger.Base().Warn("database close failed", zap.Error(err))
		}
	}
}
