package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL          string
	HTTPAddr             string
	APIKeyPepper         string
	SessionSigningSecret string
	SessionTokenTTL      time.Duration
	TokenIssuer          string
	TokenAudience        string

	CORSAllowedOrigins []string

	// DevMode relaxes the Secure flag on the refresh cookie for local
	// development over plain HTTP.
	DevMode bool

	// RedisAddr enables the Redis-backed login rate limiter when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginRateLimit  int
	LoginRateWindow time.Duration

	// WebhookURL enables outbound workflow-trigger forwarding when set.
	WebhookURL string

	// Housekeeping knobs for cmd/worker.
	WorkerTickSeconds   int
	MetricRetentionDays int
}

func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	ttlSeconds := getenvIntDefault("CLAWSTAK_SESSION_TOKEN_TTL_SECONDS", 3600)
	if ttlSeconds < 60 {
		ttlSeconds = 60
	}

	loginLimit := getenvIntDefault("CLAWSTAK_LOGIN_RATE_LIMIT", 10)
	if loginLimit < 1 {
		loginLimit = 1
	}
	loginWindow := getenvIntDefault("CLAWSTAK_LOGIN_RATE_WINDOW_SECONDS", 60)
	if loginWindow < 1 {
		loginWindow = 1
	}

	cfg := Config{
		DatabaseURL:          os.Getenv("CLAWSTAK_DATABASE_URL"),
		HTTPAddr:             getenvDefault("CLAWSTAK_HTTP_ADDR", ":8080"),
		APIKeyPepper:         os.Getenv("CLAWSTAK_API_KEY_PEPPER"),
		SessionSigningSecret: os.Getenv("CLAWSTAK_SESSION_SIGNING_SECRET"),
		SessionTokenTTL:      time.Duration(ttlSeconds) * time.Second,
		TokenIssuer:          getenvDefault("CLAWSTAK_TOKEN_ISSUER", "clawstak-platform"),
		TokenAudience:        getenvDefault("CLAWSTAK_TOKEN_AUDIENCE", "clawstak-portal"),
		CORSAllowedOrigins:   getenvCSV("CLAWSTAK_CORS_ALLOWED_ORIGINS"),
		DevMode:              getenvBool("CLAWSTAK_DEV_MODE"),
		RedisAddr:            strings.TrimSpace(os.Getenv("CLAWSTAK_REDIS_ADDR")),
		RedisPassword:        os.Getenv("CLAWSTAK_REDIS_PASSWORD"),
		RedisDB:              getenvIntDefault("CLAWSTAK_REDIS_DB", 0),
		LoginRateLimit:       loginLimit,
		LoginRateWindow:      time.Duration(loginWindow) * time.Second,
		WebhookURL:           strings.TrimSpace(os.Getenv("CLAWSTAK_WEBHOOK_URL")),
		WorkerTickSeconds:    getenvIntDefault("CLAWSTAK_WORKER_TICK_SECONDS", 300),
		MetricRetentionDays:  getenvIntDefault("CLAWSTAK_METRIC_RETENTION_DAYS", 90),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("CLAWSTAK_DATABASE_URL is required")
	}
	if cfg.APIKeyPepper == "" {
		return Config{}, errors.New("CLAWSTAK_API_KEY_PEPPER is required")
	}
	// Fail fast: an unset signing secret must never degrade into
	// per-request errors.
	if cfg.SessionSigningSecret == "" {
		return Config{}, errors.New("CLAWSTAK_SESSION_SIGNING_SECRET is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func getenvCSV(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
