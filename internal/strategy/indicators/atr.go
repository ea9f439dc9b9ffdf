package indicators

import (
	"context"
	"fmt"
	"math"

	"cryptoBacktest/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator
type ATR struct {
	BaseIndicator
	config ATRConfig
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return "ATR"
}

// RequiredDataPoints returns period+1.
func (a *ATR) RequiredDataPoints() int {
	return a.config.Period + 1
}

// Calculate computes the Average True Range value for the last candle
func (a *ATR) Calculate(ctx context.Context, candles []domain.Candle) (float64, error) {
	period := a.config.Period
	if period <= 0 || len(candles) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(candles))
	}
	value, _ := last(a.Series(candles))
	return value, nil
}

// Series computes the ATR of every candle. The first value is at index period.
func (a *ATR) Series(candles []domain.Candle) []*float64 {
	period := a.config.Period
	out := make([]*float64, len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}

	// True Range is the greatest of high-low, |high-prevClose| and |low-prevClose|.
	// The first TR is just the high-low range.
	trueRange := func(i int) float64 {
		if i == 0 {
			return candles[0].High - candles[0].Low
		}
		prevClose := candles[i-1].Close
		return math.Max(candles[i].High-candles[i].Low, math.Max(math.Abs(candles[i].High-prevClose), math.Abs(candles[i].Low-prevClose)))
	}

	// First ATR is simple average of first 'period' true ranges
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRange(i)
	}
	atr /= float64(period)

	for i := period; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(i)) / float64(period)
		out[i] = domain.Float(atr)
	}
	return out
}
