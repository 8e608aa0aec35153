// Package config provides environment variable-based configuration loading.
//
// Purpose:
//
//	This package defines the service configuration structure and provides
//	functions to load configuration from environment variables using envconfig.
//	Both binaries (gateway-api, seed) share this configuration structure.
//
// Dependencies:
//   - github.com/kelseyhightower/envconfig: Environment variable parsing
//
// Key Responsibilities:
//   - Config struct defines all service configuration fields
//   - Load reads and validates environment variables
//   - MustLoad exits the process if configuration is invalid
//
// Debugging Notes:
//   - Required fields: DATABASE_URL, JWT_SECRET
//   - Defaults provided for optional fields (port, Redis, log level, TTLs)
//   - JWT_SECRET must be at least 32 bytes (validated here, not at first use)
//   - Kafka is optional (audit events fall back to the logger)
//
// Thread Safety:
//   - Config struct is read-only after loading (safe for concurrent read access)
//
// Error Handling:
//   - Load returns wrapped errors from envconfig.Process
//   - MustLoad writes to stderr and exits on error
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents shared runtime configuration for binaries in the auth
// gateway service. All fields are populated from environment variables with
// defaults where specified. Required fields must be set or Load/MustLoad
// will return an error.
type Config struct {
	// ServiceName is emitted in logs and metrics.
	ServiceName string `envconfig:"SERVICE_NAME" default:"auth-gateway-service"`
	// HTTPPort is the port the HTTP server listens on.
	HTTPPort int `envconfig:"HTTP_PORT" default:"8084"`
	// DatabaseURL is the Postgres connection string for the rule and identity store.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	// RedisAddr is the host:port of the Redis instance shared by all nodes
	// (session store, rule cache, locks, invalidation channel).
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	// RedisPassword is the optional password for Redis authentication.
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	// RedisDB selects the logical Redis database index.
	RedisDB int `envconfig:"REDIS_DB" default:"0"`
	// LogLevel controls zerolog global level (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// Environment describes the current deployment environment (dev, staging, prod, etc.).
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// JWTSecret signs access tokens (HS256). Minimum 32 bytes.
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// JWTIssuer is the iss claim stamped on issued tokens.
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"auth-gateway"`
	// TokenTTL is the token lifetime; the session record in Redis expires
	// together with the token.
	TokenTTL time.Duration `envconfig:"TOKEN_TTL" default:"12h"`

	// RuleRefreshInterval is the backstop reload cadence for the rule table.
	RuleRefreshInterval time.Duration `envconfig:"RULE_REFRESH_INTERVAL" default:"1h"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses.
	// If empty, audit events are logged instead of sent to Kafka.
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	// KafkaTopic is the Kafka topic name for audit events.
	KafkaTopic string `envconfig:"KAFKA_TOPIC" default:"audit.identity"`
	// KafkaClientID is the client ID used when connecting to Kafka.
	KafkaClientID string `envconfig:"KAFKA_CLIENT_ID" default:"auth-gateway-service"`

	// LockoutMaxAttempts is the number of failed logins before lockout.
	LockoutMaxAttempts int `envconfig:"LOCKOUT_MAX_ATTEMPTS" default:"5"`
	// LockoutWindowMinutes is the window for counting failed attempts.
	LockoutWindowMinutes int `envconfig:"LOCKOUT_WINDOW_MINUTES" default:"15"`
}

// Load reads environment variables into Config, applying defaults where necessary.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("config: JWT_SECRET must be at least 32 bytes, got %d", len(cfg.JWTSecret))
	}
	return &cfg, nil
}

// MustLoad returns Config or exits the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
