package authcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"time"

	"github.com/tradegate/authcore/jwt"
	"github.com/tradegate/authcore/password"
)

// Config is the immutable engine configuration. Populate it once, pass it to
// the Builder, and treat it as read-only afterwards.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// JWTConfig controls access-token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig controls the Redis-backed session registry.
type SessionConfig struct {
	RedisPrefix string
	// RefreshTTL is the absolute lifetime of a refresh chain. Rotation never
	// extends it.
	RefreshTTL time.Duration
}

// PasswordConfig carries the argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin rehashes a verified password when the stored digest was
	// produced with weaker parameters.
	UpgradeOnLogin bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; dropped events are counted and
	// reported via Engine.AuditDropped.
	DropIfFull bool
}

// MetricsConfig enables the in-process counters surfaced by Engine.Stats and
// the Prometheus exporter.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a working baseline: 15-minute access tokens signed
// with a freshly generated Ed25519 pair, 7-day refresh chains, interactive
// argon2id costs, audit and metrics on. Production deployments must replace
// the generated keys with managed ones.
func DefaultConfig() Config {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// crypto/rand failing is unrecoverable; leave keys empty and let
		// Validate reject the config.
		pub, priv = nil, nil
	}

	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: string(jwt.MethodEd25519),
			PrivateKey:    priv,
			PublicKey:     pub,
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "ac",
			RefreshTTL:  7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           2,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("config: access TTL must be positive")
	}
	if c.Session.RefreshTTL <= 0 {
		return errors.New("config: refresh TTL must be positive")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("config: refresh TTL must exceed access TTL")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("config: redis prefix must not be empty")
	}

	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("config: ed25519 requires a key pair")
		}
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("config: hs256 requires a shared secret")
		}
	default:
		return errors.New("config: unsupported signing method")
	}

	if _, err := password.New(c.passwordConfig()); err != nil {
		return err
	}
	return nil
}

func (c Config) jwtConfig() jwt.Config {
	return jwt.Config{
		AccessTTL:     c.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(c.JWT.SigningMethod),
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
	}
}

func (c Config) passwordConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}
