package strategies

import (
	"context"
	"fmt"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
)

// BaseStrategy provides common functionality for strategies
type BaseStrategy struct {
	logger   ports.Logger
	name     string
	required int
}

// NewBaseStrategy creates a new base strategy instance
func NewBaseStrategy(name string, required int, logger ports.Logger) (*BaseStrategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if required < 1 {
		required = 1
	}
	return &BaseStrategy{
		logger:   logger,
		name:     name,
		required: required,
	}, nil
}

// Name returns the name of the strategy
func (b *BaseStrategy) Name() string {
	return b.name
}

// RequiredDataPoints returns the number of leading candles the strategy ignores
func (b *BaseStrategy) RequiredDataPoints() int {
	return b.required
}

// current returns the candle at index, or false when index is out of range
// or still inside the warm-up window.
func (b *BaseStrategy) current(candles []domain.Candle, index int) (domain.Candle, bool) {
	if index < b.required || index >= len(candles) {
		return domain.Candle{}, false
	}
	return candles[index], true
}

func (b *BaseStrategy) debug(ctx context.Context, msg string, fields map[string]interface{}) {
	fields["strategy"] = b.name
	b.logger.Debug(ctx, msg, fields)
}

// signalWithLimits builds an entry signal carrying optional stop/target percentages.
func signalWithLimits(side domain.Side, stopLoss, takeProfit float64) *domain.Signal {
	s := &domain.Signal{Side: side}
	if stopLoss > 0 {
		s.StopLossPercent = domain.Float(stopLoss)
	}
	if takeProfit > 0 {
		s.TakeProfitPercent = domain.Float(takeProfit)
	}
	return s
}
