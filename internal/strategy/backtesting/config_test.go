package backtesting

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
)

func TestValidateStrategyConfig(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(cfg *domain.StrategyConfig)
		problems int
		contains string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *domain.StrategyConfig) {},
		},
		{
			name:   "three ascending levels",
			mutate: func(cfg *domain.StrategyConfig) { *cfg = threeLevelConfig() },
		},
		{
			name:   "ratio sum below 100 is allowed",
			mutate: func(cfg *domain.StrategyConfig) { *cfg = threeLevelConfig(); cfg.TP3.Ratio = 10 },
		},
		{
			name:   "ratio sum above 100 is tolerated",
			mutate: func(cfg *domain.StrategyConfig) { *cfg = threeLevelConfig(); cfg.TP1.Ratio = 80 },
		},
		{
			name: "non ascending values",
			mutate: func(cfg *domain.StrategyConfig) {
				*cfg = threeLevelConfig()
				cfg.TP3.Value = 3
			},
			problems: 1,
			contains: "tp3 value",
		},
		{
			name: "disabled level is skipped in the ordering",
			mutate: func(cfg *domain.StrategyConfig) {
				*cfg = threeLevelConfig()
				cfg.TP2 = domain.TakeProfitConfig{Enabled: false, Value: 10, Ratio: 30}
			},
		},
		{
			name: "ratio out of range",
			mutate: func(cfg *domain.StrategyConfig) {
				*cfg = threeLevelConfig()
				cfg.TP1.Ratio = 120
			},
			problems: 1,
			contains: "TP1.Ratio",
		},
		{
			name: "pyramiding limit out of range",
			mutate: func(cfg *domain.StrategyConfig) {
				cfg.PyramidingLimit = 11
			},
			problems: 1,
			contains: "PyramidingLimit",
		},
		{
			name: "trailing start point not enabled",
			mutate: func(cfg *domain.StrategyConfig) {
				*cfg = threeLevelConfig()
				cfg.TP3.Enabled = false
				cfg.TrailingStopActive = true
				cfg.TrailingStartPoint = domain.TPLevel3
			},
			problems: 1,
			contains: "trailing start point",
		},
		{
			name: "trailing without levels starts at entry",
			mutate: func(cfg *domain.StrategyConfig) {
				cfg.TrailingStopActive = true
			},
		},
		{
			name: "distance offset needs tp2 and tp3",
			mutate: func(cfg *domain.StrategyConfig) {
				cfg.TP1 = domain.TakeProfitConfig{Enabled: true, Value: 1, Ratio: 50}
				cfg.TrailingStopActive = true
				cfg.TrailingStartPoint = domain.TPLevel1
				cfg.UseTrailingStopWithTP2TP3Distance = true
			},
			problems: 1,
			contains: "tp2/tp3",
		},
		{
			name: "rsi thresholds inverted",
			mutate: func(cfg *domain.StrategyConfig) {
				cfg.UseRSIWithPyramiding = true
				cfg.RSIOversold = 70
				cfg.RSIOverbought = 30
			},
			problems: 1,
			contains: "rsi oversold",
		},
		{
			name: "several problems are reported together",
			mutate: func(cfg *domain.StrategyConfig) {
				cfg.StopLossPercent = 100
				cfg.EntryMultiplier = 0
				cfg.PyramidingEnabled = true
				cfg.PyramidingValue = 0
			},
			problems: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultStrategyConfig()
			tt.mutate(&cfg)

			err := ValidateStrategyConfig(cfg)
			if tt.problems == 0 {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigValidationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Len(t, cfgErr.Problems, tt.problems, "problems: %v", cfgErr.Problems)
			assert.True(t, errors.Is(err, ports.ErrConfigurationError))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}
