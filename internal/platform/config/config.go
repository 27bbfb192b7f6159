// Package config builds runtime configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "namedir/pkg/platform/strings"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr      string
	LogLevel      string
	JWTSigningKey string

	ChainRPCURL string
	StartBlock  uint64

	DatabaseURL string
	Redis       RedisConfig

	KafkaBrokers []string
	AuditTopic   string

	ReconcileInterval    time.Duration
	ReconcileParallelism int
	ChallengeTTL         time.Duration
}

// RedisConfig tunes the go-redis client. An empty URL disables Redis and the
// nonce store falls back to memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv reads configuration from NAMEDIR_* environment variables, applying
// development defaults for everything but secrets.
func FromEnv() Config {
	return Config{
		HTTPAddr:      envOr("NAMEDIR_ADDR", ":8080"),
		LogLevel:      envOr("NAMEDIR_LOG_LEVEL", "info"),
		JWTSigningKey: os.Getenv("NAMEDIR_JWT_SIGNING_KEY"),

		ChainRPCURL: envOr("NAMEDIR_CHAIN_RPC_URL", "http://localhost:8545"),
		StartBlock:  envUint("NAMEDIR_START_BLOCK", 0),

		DatabaseURL: os.Getenv("NAMEDIR_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("NAMEDIR_REDIS_URL"),
			PoolSize:     envInt("NAMEDIR_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("NAMEDIR_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("NAMEDIR_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("NAMEDIR_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("NAMEDIR_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},

		KafkaBrokers: envList("NAMEDIR_KAFKA_BROKERS"),
		AuditTopic:   envOr("NAMEDIR_AUDIT_TOPIC", "namedir.audit"),

		ReconcileInterval:    envDuration("NAMEDIR_RECONCILE_INTERVAL", 15*time.Second),
		ReconcileParallelism: envInt("NAMEDIR_RECONCILE_PARALLELISM", 8),
		ChallengeTTL:         envDuration("NAMEDIR_CHALLENGE_TTL", 10*time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(v, ","))
}
