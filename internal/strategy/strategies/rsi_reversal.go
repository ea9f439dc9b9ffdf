package strategies

import (
	"context"
	"fmt"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
	"cryptoBacktest/internal/strategy/backtesting"
)

// RSIReversalConfig holds parameters for the RSI reversal strategy.
type RSIReversalConfig struct {
	WarmUp        int     // Candles skipped before the first signal (e.g., RSI period + 1)
	RSIOversold   float64 // e.g., 30.0
	RSIOverbought float64 // e.g., 70.0
	AllowShort    bool

	// Optional trend filter using the precomputed EMA/SMA spread.
	UseTrendFilter        bool
	TrendThresholdPercent float64

	// Legacy exit limits attached to every signal, 0 disables.
	StopLossPercent   float64
	TakeProfitPercent float64

	// Close the position when RSI reaches the opposite extreme.
	ExitOnOpposite bool
}

// RSIReversal enters when RSI crosses back out of an extreme zone.
type RSIReversal struct {
	*BaseStrategy
	config RSIReversalConfig
}

// NewRSIReversal creates a new RSI reversal strategy instance.
func NewRSIReversal(config RSIReversalConfig, logger ports.Logger) (*RSIReversal, error) {
	if config.RSIOversold <= 0 || config.RSIOverbought >= 100 || config.RSIOversold >= config.RSIOverbought {
		return nil, fmt.Errorf("rsi thresholds must satisfy 0 < oversold (%v) < overbought (%v) < 100", config.RSIOversold, config.RSIOverbought)
	}
	if config.StopLossPercent < 0 || config.TakeProfitPercent < 0 {
		return nil, fmt.Errorf("stop-loss and take-profit percentages cannot be negative")
	}
	base, err := NewBaseStrategy("rsi_reversal", config.WarmUp, logger)
	if err != nil {
		return nil, err
	}
	return &RSIReversal{BaseStrategy: base, config: config}, nil
}

// EntrySignal returns a long signal when RSI rises back above the oversold
// threshold and a short signal when it falls back below overbought.
func (s *RSIReversal) EntrySignal(ctx context.Context, candles []domain.Candle, index int) *domain.Signal {
	c, ok := s.current(candles, index)
	if !ok || index == 0 {
		return nil
	}
	prev := candles[index-1]
	if c.RSI == nil || prev.RSI == nil {
		return nil
	}

	var side domain.Side
	switch {
	case *prev.RSI <= s.config.RSIOversold && *c.RSI > s.config.RSIOversold:
		side = domain.Long
	case s.config.AllowShort && *prev.RSI >= s.config.RSIOverbought && *c.RSI < s.config.RSIOverbought:
		side = domain.Short
	default:
		return nil
	}

	if s.config.UseTrendFilter && !s.trendAllows(c, side) {
		s.debug(ctx, "Entry rejected by trend filter", map[string]interface{}{
			"index": index,
			"side":  side.String(),
		})
		return nil
	}

	s.debug(ctx, "Entry signal", map[string]interface{}{
		"index": index,
		"side":  side.String(),
		"rsi":   *c.RSI,
	})
	return signalWithLimits(side, s.config.StopLossPercent, s.config.TakeProfitPercent)
}

// ShouldClosePosition reports whether RSI reached the extreme opposite to the position side.
func (s *RSIReversal) ShouldClosePosition(ctx context.Context, position *domain.Position, candles []domain.Candle, index int) bool {
	if !s.config.ExitOnOpposite || position == nil {
		return false
	}
	c, ok := s.current(candles, index)
	if !ok || c.RSI == nil {
		return false
	}
	if position.Side == domain.Long {
		return *c.RSI >= s.config.RSIOverbought
	}
	return *c.RSI <= s.config.RSIOversold
}

func (s *RSIReversal) trendAllows(c domain.Candle, side domain.Side) bool {
	if c.EMA == nil || c.SMA == nil {
		return false
	}
	return backtesting.TrendConditionMet(*c.EMA, *c.SMA, side, s.config.TrendThresholdPercent)
}
