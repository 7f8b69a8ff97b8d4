// Package config builds runtime configuration from environment variables so
// main stays lean. Optional backends (Redis, Postgres, Kafka) are enabled by
// setting their connection variables; everything runs in memory otherwise.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Addr          string
	SigningSecret string
	TokenSecret   string
	TokenIssuer   string

	Code   Code
	Checks Checks

	RedisURL    string
	PostgresDSN string
	Kafka       Kafka
}

// Code holds issuance policy defaults.
type Code struct {
	TTL        time.Duration
	UsageLimit int
}

// Checks bounds the corroborating-source fan-out.
type Checks struct {
	Timeout       time.Duration
	MaxConcurrent int
}

// Kafka configures the event stream. Empty Brokers disables publishing.
type Kafka struct {
	Brokers []string
	Topic   string
}

// FromEnv reads configuration from VERIGATE_* environment variables, filling
// in development defaults for anything unset.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("VERIGATE_ADDR", ":8080"),
		SigningSecret: envOr("VERIGATE_SIGNING_SECRET", "dev-signing-secret-change-in-production"),
		TokenSecret:   envOr("VERIGATE_TOKEN_SECRET", "dev-token-secret-change-in-production"),
		TokenIssuer:   envOr("VERIGATE_TOKEN_ISSUER", "verigate"),
		Code: Code{
			TTL:        envDuration("VERIGATE_CODE_TTL", 30*time.Minute),
			UsageLimit: envInt("VERIGATE_CODE_USAGE_LIMIT", 1),
		},
		Checks: Checks{
			Timeout:       envDuration("VERIGATE_CHECK_TIMEOUT", 5*time.Second),
			MaxConcurrent: envInt("VERIGATE_CHECK_MAX_CONCURRENT", 8),
		},
		RedisURL:    os.Getenv("VERIGATE_REDIS_URL"),
		PostgresDSN: os.Getenv("VERIGATE_POSTGRES_DSN"),
		Kafka: Kafka{
			Topic: envOr("VERIGATE_KAFKA_TOPIC", "verigate.events"),
		},
	}
	if brokers := os.Getenv("VERIGATE_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
