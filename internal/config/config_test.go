package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CLAWSTAK_DATABASE_URL", "postgres://localhost/clawstak")
	t.Setenv("CLAWSTAK_API_KEY_PEPPER", "pepper")
	t.Setenv("CLAWSTAK_SESSION_SIGNING_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.SessionTokenTTL)
	assert.Equal(t, "clawstak-platform", cfg.TokenIssuer)
	assert.Equal(t, "clawstak-portal", cfg.TokenAudience)
	assert.Equal(t, 10, cfg.LoginRateLimit)
	assert.Equal(t, time.Minute, cfg.LoginRateWindow)
	assert.False(t, cfg.DevMode)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.WebhookURL)
}

func TestLoadMissingRequired(t *testing.T) {
	cases := []string{
		"CLAWSTAK_DATABASE_URL",
		"CLAWSTAK_API_KEY_PEPPER",
		"CLAWSTAK_SESSION_SIGNING_SECRET",
	}
	for _, missing := range cases {
		t.Run(missing, func(t *testing.T) {
			setRequired(t)
			t.Setenv(missing, "")
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CLAWSTAK_HTTP_ADDR", ":9999")
	t.Setenv("CLAWSTAK_DEV_MODE", "true")
	t.Setenv("CLAWSTAK_SESSION_TOKEN_TTL_SECONDS", "120")
	t.Setenv("CLAWSTAK_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example, https://a.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 2*time.Minute, cfg.SessionTokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}
