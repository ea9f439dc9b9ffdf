package indicators

import (
	"context"

	"cryptoBacktest/internal/domain"
)

// Indicator represents a technical indicator that can be calculated from price data
type Indicator interface {
	// Calculate computes the indicator value for the last candle
	Calculate(ctx context.Context, candles []domain.Candle) (float64, error)

	// Series computes the indicator for every candle in one pass.
	// Entries are nil until enough candles are available.
	Series(candles []domain.Candle) []*float64

	// RequiredDataPoints returns the minimum number of candles needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of candles needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

// last returns the final value of a series or false if it is not available.
func last(series []*float64) (float64, bool) {
	if len(series) == 0 || series[len(series)-1] == nil {
		return 0, false
	}
	return *series[len(series)-1], true
}
