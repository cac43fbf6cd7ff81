package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the gateway configuration loaded from environment variables.
// The .env file is loaded in main.go via godotenv before LoadConfig runs.
type Config struct {
	Port        string
	Environment string // "development" or "production"
	PublicURL   string

	AllowedOrigins  []string
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Upstream signing material.
	VoiceAPIKey               string
	CommerceWebhookSigningKey string
	// Known-good sample for the voice signature self-check, formatted as
	// "<body>|<timestamp-ms>|<hex-digest>". Optional.
	VoiceSignatureProbe string

	// Tool calls without an upstream signature are refused unless this flag
	// is set, and always refused in production.
	AllowUnsignedToolCalls bool

	SecretStoreName          string
	AgentConfigEncryptionKey string
	AgentConfigPath          string

	SessionTTL time.Duration

	CommerceBaseURL string
	VoiceAPIBaseURL string

	// SMTP post-call email transport.
	EmailHost                    string
	EmailPort                    int
	EmailUser                    string
	EmailPassword                string
	EmailFrom                    string
	EmailTo                      string
	EmailCostAlertThresholdCents int

	// Twilio SMS confirmations.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	RedisAddr     string
	RedisPassword string

	DatabaseURL string
}

// LoadConfig reads the full gateway configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		Port:        GetEnvOrDefault("PORT", "8080"),
		Environment: GetEnvOrDefault("APP_ENV", "development"),
		PublicURL:   GetEnvOrDefault("PUBLIC_URL", ""),

		AllowedOrigins:  splitAndTrim(GetEnvOrDefault("ALLOWED_ORIGINS", "*"), ","),
		RateLimitMax:    GetEnvAsIntOrDefault("RATE_LIMIT_MAX", 120),
		RateLimitWindow: time.Duration(GetEnvAsIntOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		VoiceAPIKey:               os.Getenv("VOICE_API_KEY"),
		CommerceWebhookSigningKey: os.Getenv("COMMERCE_WEBHOOK_SIGNING_KEY"),
		VoiceSignatureProbe:       os.Getenv("VOICE_SIGNATURE_PROBE"),

		AllowUnsignedToolCalls: GetEnvAsBoolOrDefault("ALLOW_UNSIGNED_TOOL_CALLS", false),

		SecretStoreName:          GetEnvOrDefault("SECRET_STORE_NAME", ""),
		AgentConfigEncryptionKey: os.Getenv("AGENT_CONFIG_ENCRYPTION_KEY"),
		AgentConfigPath:          GetEnvOrDefault("AGENT_CONFIG_PATH", ""),

		SessionTTL: time.Duration(GetEnvAsIntOrDefault("SESSION_TTL_SECONDS", 600)) * time.Second,

		CommerceBaseURL: GetEnvOrDefault("COMMERCE_BASE_URL", "https://connect.squareup.com"),
		VoiceAPIBaseURL: GetEnvOrDefault("VOICE_API_BASE_URL", "https://api.retellai.com"),

		EmailHost:                    GetEnvOrDefault("EMAIL_HOST", ""),
		EmailPort:                    GetEnvAsIntOrDefault("EMAIL_PORT", 587),
		EmailUser:                    os.Getenv("EMAIL_USER"),
		EmailPassword:                os.Getenv("EMAIL_PASSWORD"),
		EmailFrom:                    GetEnvOrDefault("EMAIL_FROM", ""),
		EmailTo:                      GetEnvOrDefault("EMAIL_TO", ""),
		EmailCostAlertThresholdCents: GetEnvAsIntOrDefault("EMAIL_COST_ALERT_THRESHOLD_CENTS", 1000),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),

		RedisAddr:     GetEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
}

// IsProduction reports whether the gateway runs with production hardening.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production") || strings.EqualFold(c.Environment, "prod")
}

// GetEnvOrDefault gets an environment variable or returns the default.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsIntOrDefault gets an environment variable as int or returns the default.
func GetEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsBoolOrDefault gets an environment variable as bool or returns the default.
func GetEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitAndTrim(s, delimiter string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
