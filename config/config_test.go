package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := LoadConfig()

	assert.Equal(t, "pocketbase", cfg.StoreBackend)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, 2*time.Second, cfg.ScanSettleDelay)
	assert.Equal(t, 5*time.Minute, cfg.RelationCacheTTL)
	assert.Equal(t, 15*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, 10*time.Minute, cfg.ScannerIdleTTL)
	assert.False(t, cfg.QRRequireCode)
	assert.Equal(t, 0.6, cfg.BreakerFailureRatio)
	assert.True(t, cfg.EnableMetrics)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("SCAN_SETTLE_DELAY", "1500ms")
	t.Setenv("STORE_BREAKER_FAILURE_RATIO", "0.25")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("QR_REQUIRE_CODE", "true")
	t.Setenv("SCANNER_IDLE_TTL", "90s")

	cfg := LoadConfig()

	assert.Equal(t, "mongo", cfg.StoreBackend)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.ScanSettleDelay)
	assert.Equal(t, 0.25, cfg.BreakerFailureRatio)
	assert.False(t, cfg.EnableMetrics)
	assert.True(t, cfg.QRRequireCode)
	assert.Equal(t, 90*time.Second, cfg.ScannerIdleTTL)
}

func TestLoadConfig_BadValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAGE_SIZE", "lots")
	t.Setenv("SESSION_IDLE_TTL", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, 15*time.Minute, cfg.SessionIdleTTL)
}
