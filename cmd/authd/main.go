// Command authd serves the authentication HTTP API. Configuration comes from
// the environment (see internal/config); with no REDIS_ADDR it starts an
// embedded in-process registry so the server works out of the box.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tradegate/authcore"
	"github.com/tradegate/authcore/httpapi"
	"github.com/tradegate/authcore/internal/config"
	"github.com/tradegate/authcore/password"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("server stopped")
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	rdb, cleanup, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engineCfg := authcore.DefaultConfig()
	engineCfg.JWT.AccessTTL = cfg.AccessTTL()
	engineCfg.JWT.Issuer = cfg.JWTIssuer
	engineCfg.Session.RedisPrefix = cfg.RedisPrefix
	engineCfg.Session.RefreshTTL = cfg.RefreshTTL()
	if cfg.JWTSigningMethod == "hs256" {
		engineCfg.JWT.SigningMethod = "hs256"
		engineCfg.JWT.PrivateKey = []byte(cfg.JWTHS256Secret)
		engineCfg.JWT.PublicKey = nil
	}

	hasher, err := password.New(password.Config{
		Memory:      engineCfg.Password.Memory,
		Time:        engineCfg.Password.Time,
		Parallelism: engineCfg.Password.Parallelism,
		SaltLength:  engineCfg.Password.SaltLength,
		KeyLength:   engineCfg.Password.KeyLength,
	})
	if err != nil {
		return err
	}

	logger.Warn().Msg("using built-in demo accounts; wire a real UserProvider for production")
	provider, err := newDemoProvider(hasher)
	if err != nil {
		return err
	}

	builder := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithUserProvider(provider)

	var auditFile *os.File
	if cfg.AuditLogPath != "" {
		auditFile, err = os.OpenFile(cfg.AuditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer func() { _ = auditFile.Close() }()
		builder = builder.WithAuditSink(authcore.NewJSONWriterSink(auditFile))
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(engine, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openRedis connects to the configured registry, or starts an embedded one
// for local development when no address is set.
func openRedis(cfg *config.Config, logger zerolog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}

	logger.Warn().Msg("REDIS_ADDR not set; using embedded registry, sessions will not survive restarts")
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, cleanup, nil
}
