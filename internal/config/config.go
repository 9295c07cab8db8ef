// Package config loads server configuration from the environment, with an
// optional config file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`

	DatabaseURL string `mapstructure:"database_url"`

	Issuer     string `mapstructure:"auth_issuer"`
	SigningKey string `mapstructure:"signing_key"`

	CodeTTL         time.Duration `mapstructure:"code_ttl"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	LaunchTTL       time.Duration `mapstructure:"launch_ttl"`

	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the environment. When path is non-empty a
// YAML file is read first; environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("env", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("code_ttl", 10*time.Minute)
	v.SetDefault("access_token_ttl", time.Hour)
	v.SetDefault("refresh_token_ttl", 24*time.Hour)
	v.SetDefault("launch_ttl", 5*time.Minute)
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("log_level", "info")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so keys without defaults
	// must be bound explicitly.
	for _, key := range []string{"database_url", "auth_issuer", "signing_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the settings the server cannot run without.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("auth_issuer is required")
	}
	if c.SigningKey == "" {
		return fmt.Errorf("signing_key is required")
	}
	if len(c.SigningKey) < 32 {
		return fmt.Errorf("signing_key must be at least 32 bytes")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

// IsProduction reports whether the server runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
