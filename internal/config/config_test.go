package config_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/be-purchase-requests/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "be-purchase-requests", cfg.ServiceName)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.DispatcherPollInterval)
	assert.Equal(t, 50, cfg.DispatcherBatchSize)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyRetention)

	tier1, err := cfg.Tier1()
	require.NoError(t, err)
	tier2, err := cfg.Tier2()
	require.NoError(t, err)
	ceiling, err := cfg.Ceiling()
	require.NoError(t, err)
	assert.True(t, tier1.Equal(decimal.NewFromInt(100_000)))
	assert.True(t, tier2.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, ceiling.Equal(decimal.NewFromInt(10_000_000)))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DISPATCHER_POLL_INTERVAL", "250ms")
	t.Setenv("APPROVAL_TIER1", "50000.50")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.DispatcherPollInterval)

	tier1, err := cfg.Tier1()
	require.NoError(t, err)
	assert.True(t, tier1.Equal(decimal.RequireFromString("50000.50")))
}

func TestThresholds_RejectGarbage(t *testing.T) {
	t.Setenv("APPROVAL_TIER1", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)
	_, err = cfg.Tier1()
	assert.Error(t, err)
}
