package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.RedisPrefix != "ac" {
		t.Errorf("RedisPrefix = %q, want %q", cfg.RedisPrefix, "ac")
	}
	if cfg.JWTSigningMethod != "ed25519" {
		t.Errorf("JWTSigningMethod = %q, want ed25519", cfg.JWTSigningMethod)
	}
	if got := cfg.AccessTTL(); got != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", got)
	}
	if got := cfg.RefreshTTL(); got != 168*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", got)
	}
	if cfg.AuditLogPath != "" {
		t.Errorf("AuditLogPath should default to empty, got %q", cfg.AuditLogPath)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9191")
	os.Setenv("JWT_ACCESS_TTL", "5m")
	os.Setenv("REFRESH_TTL", "24h")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9191" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9191")
	}
	if got := cfg.AccessTTL(); got != 5*time.Minute {
		t.Errorf("AccessTTL = %v, want 5m", got)
	}
	if got := cfg.RefreshTTL(); got != 24*time.Hour {
		t.Errorf("RefreshTTL = %v, want 24h", got)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRejectsShortHS256Secret(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_SIGNING_METHOD", "hs256")
	os.Setenv("JWT_HS256_SECRET", "too-short")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short hs256 secret")
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_ACCESS_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.AccessTTL(); got != 15*time.Minute {
		t.Errorf("AccessTTL fallback = %v, want 15m", got)
	}
}
