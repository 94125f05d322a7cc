package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadHoldConfig_Defaults(t *testing.T) {
	cfg := LoadHoldConfig()
	assert.Equal(t, 120*time.Second, cfg.TTL)
	assert.Equal(t, 1000, cfg.MaxQty)
	assert.Equal(t, 3, cfg.CreateRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.CreateBackoff)
}

func TestLoadHoldConfig_HonorsOverrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "45s")
	t.Setenv("HOLD_MAX_QTY", "10")
	t.Setenv("HOLD_CREATE_RETRIES", "5")
	t.Setenv("HOLD_CREATE_BACKOFF", "250ms")

	cfg := LoadHoldConfig()
	assert.Equal(t, 45*time.Second, cfg.TTL)
	assert.Equal(t, 10, cfg.MaxQty)
	assert.Equal(t, 5, cfg.CreateRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.CreateBackoff)
}

func TestLoadReaperConfig_Defaults(t *testing.T) {
	cfg := LoadReaperConfig()
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 55*time.Second, cfg.MaxRuntime)
	assert.Equal(t, 5*time.Second, cfg.LeaseTTL)
	assert.Equal(t, 5, cfg.MaxVerboseLogs)
}

func TestLoadReaperConfig_HonorsOverrides(t *testing.T) {
	t.Setenv("REAPER_BATCH_SIZE", "250")
	t.Setenv("REAPER_MAX_RUNTIME", "30s")
	t.Setenv("REAPER_LEASE_TTL", "2s")
	t.Setenv("REAPER_MAX_VERBOSE_LOGS", "0")

	cfg := LoadReaperConfig()
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.MaxRuntime)
	assert.Equal(t, 2*time.Second, cfg.LeaseTTL)
	assert.Equal(t, 0, cfg.MaxVerboseLogs)
}

func TestAtoi_InvalidInputDefaultsToZero(t *testing.T) {
	assert.Equal(t, 0, atoi("not-a-number"))
	assert.Equal(t, 42, atoi("42"))
}

func TestParseDur_InvalidInputDefaultsToOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, parseDur("garbage"))
	assert.Equal(t, 5*time.Minute, parseDur("5m"))
}

func TestGetenv_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, "fallback", getenv("CONFIG_TEST_UNSET_KEY", "fallback"))

	t.Setenv("CONFIG_TEST_SET_KEY", "value")
	assert.Equal(t, "value", getenv("CONFIG_TEST_SET_KEY", "fallback"))
}
