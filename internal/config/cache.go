package config

import (
	"os"
	"strconv"
	"time"
)

// HoldConfig describes hold creation and TTL (spec.md §4.3). Defaults
// match the spec's own defaults. Only MaxQty is consumed (by cmd/server's
// POST /holds validation); internal/holds uses its own fixed TTL (120s),
// retry count (3) and backoff (100ms), so overriding HOLD_TTL,
// HOLD_CREATE_RETRIES or HOLD_CREATE_BACKOFF does not change hold
// behavior.
type HoldConfig struct {
	TTL           time.Duration
	MaxQty        int
	CreateRetries int
	CreateBackoff time.Duration
}

// LoadHoldConfig reads HOLD_* environment variables, following the
// teacher's getenv/atoi/parseDur idiom from cache.go and ratelimit.go.
func LoadHoldConfig() HoldConfig {
	return HoldConfig{
		TTL:           parseDur(getenv("HOLD_TTL", "120s")),
		MaxQty:        atoi(getenv("HOLD_MAX_QTY", "1000")),
		CreateRetries: atoi(getenv("HOLD_CREATE_RETRIES", "3")),
		CreateBackoff: parseDur(getenv("HOLD_CREATE_BACKOFF", "100ms")),
	}
}

// ReaperConfig governs the expiry reaper's batch loop (spec.md §4.5).
type ReaperConfig struct {
	BatchSize      int
	MaxRuntime     time.Duration
	LeaseTTL       time.Duration
	MaxVerboseLogs int
}

// LoadReaperConfig reads REAPER_* environment variables.
func LoadReaperConfig() ReaperConfig {
	return ReaperConfig{
		BatchSize:      atoi(getenv("REAPER_BATCH_SIZE", "100")),
		MaxRuntime:     parseDur(getenv("REAPER_MAX_RUNTIME", "55s")),
		LeaseTTL:       parseDur(getenv("REAPER_LEASE_TTL", "5s")),
		MaxVerboseLogs: atoi(getenv("REAPER_MAX_VERBOSE_LOGS", "5")),
	}
}

// Helper functions shared with config.go and redis.go.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}
