package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoBacktest/internal/ports"
)

func TestRiskManager_ValidateLeverage(t *testing.T) {
	manager := NewRiskManager(RiskConfig{MaxLeverage: 5})

	assert.NoError(t, manager.ValidateLeverage(3))
	assert.NoError(t, manager.ValidateLeverage(5))

	err := manager.ValidateLeverage(10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))

	err = manager.ValidateLeverage(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))

	unbounded := NewRiskManager(RiskConfig{})
	assert.NoError(t, unbounded.ValidateLeverage(125))
}

func TestRiskManager_GetInitialInvestment(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		config   RiskConfig
		balance  float64
		expected float64
	}{
		{"percent of balance", RiskConfig{PositionSizePercent: 0.1}, 10000, 1000},
		{"fixed overrides percent", RiskConfig{PositionSizePercent: 0.1, FixedInvestment: 250}, 10000, 250},
		{"negative balance gives zero", RiskConfig{PositionSizePercent: 0.1}, -50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewRiskManager(tt.config)
			assert.InDelta(t, tt.expected, manager.GetInitialInvestment(ctx, tt.balance), 1e-9)
		})
	}
}

func TestRiskManager_ValidateEntry(t *testing.T) {
	ctx := context.Background()
	manager := NewRiskManager(RiskConfig{})

	assert.NoError(t, manager.ValidateEntry(ctx, 400, 500, 1000))
	assert.Error(t, manager.ValidateEntry(ctx, 600, 500, 1000))
	assert.Error(t, manager.ValidateEntry(ctx, 0, 0, 1000))

	leveraged := NewRiskManager(RiskConfig{MaxExposurePercent: 2})
	assert.NoError(t, leveraged.ValidateEntry(ctx, 600, 500, 1000))
}

func TestRiskManager_DrawdownGuard(t *testing.T) {
	ctx := context.Background()
	manager := NewRiskManager(RiskConfig{MaxDrawdown: 0.2})

	assert.InDelta(t, 0.0, manager.UpdateEquity(1000), 1e-12)
	assert.InDelta(t, 0.0, manager.UpdateEquity(1200), 1e-12)
	assert.InDelta(t, 0.1, manager.UpdateEquity(1080), 1e-12)
	assert.NoError(t, manager.CheckRiskLimits(ctx))

	assert.InDelta(t, 0.25, manager.UpdateEquity(900), 1e-12)
	assert.Error(t, manager.CheckRiskLimits(ctx))

	// Recovery re-enables entries; the max drawdown is kept.
	manager.UpdateEquity(1150)
	assert.NoError(t, manager.CheckRiskLimits(ctx))
	stats := manager.GetStats()
	assert.InDelta(t, 0.25, stats.MaxDrawdown, 1e-12)
	assert.InDelta(t, 1200.0, stats.PeakEquity, 1e-12)

	manager.RecordSkip(true)
	manager.RecordSkip(false)
	stats = manager.GetStats()
	assert.Equal(t, 1, stats.SkippedDCAEntries)
	assert.Equal(t, 1, stats.SkippedEntries)
}
