package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_ISSUER", "https://auth.example.org")
	t.Setenv("SIGNING_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoadFromEnv(t *testing.T) {
	validEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/clinauth")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "https://auth.example.org", cfg.Issuer)
	require.Equal(t, "postgres://localhost/clinauth", cfg.DatabaseURL)
	require.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.IsProduction())
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 10*time.Minute, cfg.CodeTTL)
	require.Equal(t, time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 5*time.Minute, cfg.LaunchTTL)
	require.Equal(t, 20.0, cfg.RateLimitRPS)
	require.Equal(t, 40, cfg.RateLimitBurst)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing issuer", func(c *Config) { c.Issuer = "" }},
		{"missing signing key", func(c *Config) { c.SigningKey = "" }},
		{"short signing key", func(c *Config) { c.SigningKey = "too-short" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"zero rate limit", func(c *Config) { c.RateLimitRPS = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Issuer:         "https://auth.example.org",
				SigningKey:     "0123456789abcdef0123456789abcdef",
				Port:           8080,
				RateLimitRPS:   20,
				RateLimitBurst: 40,
			}
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMissingSigningKey(t *testing.T) {
	t.Setenv("AUTH_ISSUER", "https://auth.example.org")
	t.Setenv("SIGNING_KEY", "")
	_, err := Load("")
	require.Error(t, err)
}
