// Package config assembles the keeper's process-lifetime configuration:
// environment variables with code defaults, optionally layered with a
// per-network YAML profile.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds keeper configuration. The executor identity and every
// tunable the engine threads through its components live here; there is no
// global mutable state.
type Config struct {
	// ExecutorKey is the hex seed of the keeper's signing identity.
	ExecutorKey string
	// GatewayURL is the ledger RPC gateway base URL.
	GatewayURL string
	// IndexerDSN is the Postgres DSN of the event indexer mirror. Empty
	// disables indexed discovery.
	IndexerDSN string
	// WatchAccounts are payer accounts for direct enumeration,
	// comma-separated in the environment.
	WatchAccounts []string
	// RedisAddr enables the cooperative claim marker. Empty disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// JournalPath is the SQLite file for the audit journal. Empty keeps
	// the journal in memory only.
	JournalPath string

	Cadence    time.Duration
	ExecPause  time.Duration
	MaxRetries int
	RetryDelay time.Duration
	GasCeiling uint64
	IndexLimit int

	Port         string
	APISecret    string
	LogLevel     string
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applying defaults
// for everything except the executor key, which has none on purpose.
func Load() *Config {
	return &Config{
		ExecutorKey:   os.Getenv("KEEPER_EXECUTOR_KEY"),
		GatewayURL:    envOr("KEEPER_GATEWAY_URL", "http://localhost:8545"),
		IndexerDSN:    os.Getenv("KEEPER_INDEXER_DSN"),
		WatchAccounts: splitList(os.Getenv("KEEPER_WATCH_ACCOUNTS")),
		RedisAddr:     os.Getenv("KEEPER_REDIS_ADDR"),
		RedisPassword: os.Getenv("KEEPER_REDIS_PASSWORD"),
		RedisDB:       envInt("KEEPER_REDIS_DB", 0),
		JournalPath:   os.Getenv("KEEPER_JOURNAL_PATH"),
		Cadence:       envDuration("KEEPER_CADENCE", 15*time.Second),
		ExecPause:     envDuration("KEEPER_EXEC_PAUSE", time.Second),
		MaxRetries:    envInt("KEEPER_MAX_RETRIES", 3),
		RetryDelay:    envDuration("KEEPER_RETRY_DELAY", 2*time.Second),
		GasCeiling:    uint64(envInt("KEEPER_GAS_CEILING", 500_000)),
		IndexLimit:    envInt("KEEPER_INDEX_LIMIT", 200),
		Port:          envOr("KEEPER_PORT", "8080"),
		APISecret:     os.Getenv("KEEPER_API_SECRET"),
		LogLevel:      envOr("KEEPER_LOG_LEVEL", "INFO"),
		OTLPEndpoint:  os.Getenv("KEEPER_OTLP_ENDPOINT"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
