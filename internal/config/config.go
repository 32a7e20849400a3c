// Package config loads the authd server configuration from the environment
// and an optional .env file using Viper. Env vars override .env values.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds the authd process configuration.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RedisAddr is the session registry address. Empty starts an embedded
	// in-process store, for local development only.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPrefix namespaces all registry keys.
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`
	// JWTSigningMethod selects "ed25519" or "hs256".
	JWTSigningMethod string `mapstructure:"JWT_SIGNING_METHOD"`
	// JWTHS256Secret is the shared secret when JWT_SIGNING_METHOD=hs256.
	JWTHS256Secret string `mapstructure:"JWT_HS256_SECRET"`
	// JWTIssuer is the iss claim on issued access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTTLRaw is the refresh chain's absolute lifetime (e.g. "168h").
	RefreshTTLRaw string `mapstructure:"REFRESH_TTL"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// AuditLogPath receives one JSON audit event per line. Empty disables
	// the file sink.
	AuditLogPath string `mapstructure:"AUDIT_LOG_PATH"`
}

// Load reads .env if present, then the environment. A missing .env is not an
// error.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PREFIX", "ac")
	v.SetDefault("JWT_SIGNING_METHOD", "ed25519")
	v.SetDefault("JWT_HS256_SECRET", "")
	v.SetDefault("JWT_ISSUER", "authcore")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUDIT_LOG_PATH", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTSigningMethod == "hs256" && len(cfg.JWTHS256Secret) < 32 {
		return nil, errors.New("config: JWT_HS256_SECRET must be at least 32 bytes for hs256")
	}

	return &cfg, nil
}

// AccessTTL parses JWT_ACCESS_TTL, falling back to 15m when unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses REFRESH_TTL, falling back to 168h when unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.RefreshTTLRaw)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}
