package indicators

import (
	"context"
	"fmt"

	"cryptoBacktest/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the moving average value of the last candle based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, candles []domain.Candle) (float64, error) {
	if m.config.Type != SimpleMovingAverage && m.config.Type != ExponentialMovingAverage {
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
	if m.Config.Period <= 0 || len(candles) < m.Config.Period {
		return 0, fmt.Errorf("not enough data (%d) to calculate %s for period %d", len(candles), m.config.Type, m.Config.Period)
	}
	value, _ := last(m.Series(candles))
	return value, nil
}

// Series computes the moving average of every candle. The first value is at index period-1.
func (m *MovingAverage) Series(candles []domain.Candle) []*float64 {
	switch m.config.Type {
	case SimpleMovingAverage:
		return m.smaSeries(candles)
	case ExponentialMovingAverage:
		return m.emaSeries(candles)
	default:
		return make([]*float64, len(candles))
	}
}

// smaSeries keeps a rolling sum over the window.
func (m *MovingAverage) smaSeries(candles []domain.Candle) []*float64 {
	period := m.Config.Period
	out := make([]*float64, len(candles))
	if period <= 0 {
		return out
	}
	total := 0.0
	for i := range candles {
		total += candles[i].Close
		if i >= period {
			total -= candles[i-period].Close
		}
		if i >= period-1 {
			out[i] = domain.Float(total / float64(period))
		}
	}
	return out
}

// emaSeries seeds with the SMA of the first period closes.
func (m *MovingAverage) emaSeries(candles []domain.Candle) []*float64 {
	period := m.Config.Period
	out := make([]*float64, len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}

	multiplier := 2.0 / float64(period+1)
	ema := 0.0
	for i := 0; i < period; i++ {
		ema += candles[i].Close
	}
	ema /= float64(period)
	out[period-1] = domain.Float(ema)

	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close-ema)*multiplier + ema
		out[i] = domain.Float(ema)
	}
	return out
}
