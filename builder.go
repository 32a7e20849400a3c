package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tradegate/authcore/jwt"
	"github.com/tradegate/authcore/password"
	"github.com/tradegate/authcore/session"
)

// Builder assembles an Engine. Redis and a UserProvider are required; the
// rest falls back to DefaultConfig.
type Builder struct {
	cfg     Config
	cfgSet  bool
	rdb     redis.UniversalClient
	users   UserProvider
	sink    AuditSink
	limiter RateLimiter
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

func (b *Builder) WithRedis(rdb redis.UniversalClient) *Builder {
	b.rdb = rdb
	return b
}

func (b *Builder) WithUserProvider(users UserProvider) *Builder {
	b.users = users
	return b
}

// WithAuditSink installs the destination for audit events. Without a sink,
// events are dispatched to NoOpSink when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithRateLimiter installs an optional throttling hook consulted before
// login and refresh. The engine ships no policy of its own.
func (b *Builder) WithRateLimiter(limiter RateLimiter) *Builder {
	b.limiter = limiter
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.rdb == nil {
		return nil, errors.New("authcore: redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("authcore: user provider is required")
	}

	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(cfg.jwtConfig())
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		tokens:   tokens,
		sessions: session.NewStore(b.rdb, cfg.Session.RedisPrefix),
		creds:    newCredentialVerifier(b.users, hasher),
		users:    b.users,
		hasher:   hasher,
		limiter:  b.limiter,
		metrics:  NewMetrics(cfg.Metrics),
		audit:    newAuditDispatcher(cfg.Audit, b.sink),
	}

	return e, nil
}
