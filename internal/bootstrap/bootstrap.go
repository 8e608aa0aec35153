// Package bootstrap assembles the service runtime.
//
// Purpose:
//
//	This package owns dependency construction and teardown for the gateway
//	binary: Postgres pool, Redis client, session store, token issuer,
//	gatekeeper, lockout tracker and audit emitter. main stays a thin shell
//	around Initialize/Close.
//
// Debugging Notes:
//   - Redis is pinged with a short timeout at startup so a misconfigured
//     address fails fast instead of on the first login
//   - Kafka is optional: without brokers the audit emitter logs locally
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/audit"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/authz"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/config"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/security"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/session"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/storage/postgres"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/token"
)

// Runtime bundles every long-lived dependency of the gateway binary.
type Runtime struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Postgres   *postgres.Store
	Redis      *redis.Client
	Sessions   *session.Store
	Issuer     *token.Issuer
	Gatekeeper *authz.Gatekeeper
	Lockout    *security.LockoutTracker
	Audit      audit.Emitter

	kafkaCloser interface{ Close() error }
}

// ruleSource adapts the Postgres store to the gatekeeper's loader.
type ruleSource struct {
	store *postgres.Store
}

func (s ruleSource) ListAuthorizationRules(ctx context.Context) ([]authz.RawRule, error) {
	rows, err := s.store.ListAuthorizationRules(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]authz.RawRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, authz.RawRule{
			Method:     row.RequestMethod,
			Path:       row.APIPath,
			Permission: row.Perms,
		})
	}
	return rules, nil
}

// Initialize builds the runtime. The caller is responsible for Close.
func Initialize(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		store.Close()
		return nil, fmt.Errorf("bootstrap: ping redis at %s: %w", cfg.RedisAddr, err)
	}

	rt := &Runtime{
		Config:     cfg,
		Logger:     logger,
		Postgres:   store,
		Redis:      client,
		Sessions:   session.NewStore(client),
		Issuer:     token.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL),
		Gatekeeper: authz.New(client, ruleSource{store: store}, logger),
		Lockout: security.NewLockoutTracker(client, security.LockoutConfig{
			MaxAttempts:    cfg.LockoutMaxAttempts,
			WindowDuration: time.Duration(cfg.LockoutWindowMinutes) * time.Minute,
		}),
	}

	if emitter := audit.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaClientID, logger); emitter != nil {
		rt.Audit = emitter
		rt.kafkaCloser = emitter
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("audit events shipping to kafka")
	} else {
		rt.Audit = audit.NewLoggerEmitter(logger)
		logger.Info().Msg("no kafka brokers configured, audit events logged locally")
	}

	return rt, nil
}

// Readiness reports whether both backing stores answer. Used by /readyz.
func (rt *Runtime) Readiness(ctx context.Context) error {
	if err := rt.Postgres.Pool().Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := rt.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close releases every resource in reverse construction order.
func (rt *Runtime) Close() {
	if rt.kafkaCloser != nil {
		if err := rt.kafkaCloser.Close(); err != nil {
			rt.Logger.Warn().Err(err).Msg("kafka writer close failed")
		}
	}
	if err := rt.Redis.Close(); err != nil {
		rt.Logger.Warn().Err(err).Msg("redis close failed")
	}
	rt.Postgres.Close()
}
