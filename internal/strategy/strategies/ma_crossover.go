package strategies

import (
	"context"
	"fmt"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
)

// MACrossoverConfig holds configuration for the EMA/SMA crossover strategy.
// Both averages are read from the enriched candles.
type MACrossoverConfig struct {
	WarmUp     int // Candles skipped before the first signal (e.g., slow period)
	AllowShort bool

	// Minimum spread in percent of the SMA required to count a cross.
	MinSpreadPercent float64

	StopLossPercent   float64
	TakeProfitPercent float64

	// Close on the opposite cross.
	ExitOnCross bool
}

// MACrossover enters when the fast EMA crosses the slow SMA.
type MACrossover struct {
	*BaseStrategy
	config MACrossoverConfig
}

// NewMACrossover creates a new MA crossover strategy instance
func NewMACrossover(config MACrossoverConfig, logger ports.Logger) (*MACrossover, error) {
	if config.MinSpreadPercent < 0 {
		return nil, fmt.Errorf("minimum spread cannot be negative")
	}
	if config.StopLossPercent < 0 || config.TakeProfitPercent < 0 {
		return nil, fmt.Errorf("stop-loss and take-profit percentages cannot be negative")
	}
	base, err := NewBaseStrategy("ma_crossover", config.WarmUp, logger)
	if err != nil {
		return nil, err
	}
	return &MACrossover{BaseStrategy: base, config: config}, nil
}

// EntrySignal returns a signal on the candle where the EMA crosses the SMA.
func (s *MACrossover) EntrySignal(ctx context.Context, candles []domain.Candle, index int) *domain.Signal {
	cross, ok := s.crossAt(candles, index)
	if !ok {
		return nil
	}
	if cross == domain.Short && !s.config.AllowShort {
		return nil
	}
	s.debug(ctx, "Crossover detected", map[string]interface{}{
		"index": index,
		"side":  cross.String(),
	})
	return signalWithLimits(cross, s.config.StopLossPercent, s.config.TakeProfitPercent)
}

// ShouldClosePosition reports an opposite cross when ExitOnCross is set.
func (s *MACrossover) ShouldClosePosition(ctx context.Context, position *domain.Position, candles []domain.Candle, index int) bool {
	if !s.config.ExitOnCross || position == nil {
		return false
	}
	cross, ok := s.crossAt(candles, index)
	return ok && cross != position.Side
}

// crossAt returns Long for an upward cross and Short for a downward cross.
func (s *MACrossover) crossAt(candles []domain.Candle, index int) (domain.Side, bool) {
	c, ok := s.current(candles, index)
	if !ok || index == 0 {
		return domain.Long, false
	}
	prev := candles[index-1]
	if c.EMA == nil || c.SMA == nil || prev.EMA == nil || prev.SMA == nil || *c.SMA == 0 {
		return domain.Long, false
	}
	spread := (*c.EMA - *c.SMA) / *c.SMA * 100
	wasAbove := *prev.EMA > *prev.SMA
	switch {
	case !wasAbove && spread > s.config.MinSpreadPercent:
		return domain.Long, true
	case wasAbove && spread < -s.config.MinSpreadPercent:
		return domain.Short, true
	default:
		return domain.Long, false
	}
}
