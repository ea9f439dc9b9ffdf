package ports

import (
	"context"

	"cryptoBacktest/internal/domain"
)

// Strategy produces entry signals for the back-test engine.
// Implementations must be deterministic and must only look at candles[:index+1].
type Strategy interface {
	// Name returns the name of the strategy.
	Name() string

	// RequiredDataPoints returns the number of candles needed before the first signal can be produced.
	RequiredDataPoints() int

	// EntrySignal returns a signal to open a position on candles[index], or nil.
	EntrySignal(ctx context.Context, candles []domain.Candle, index int) *domain.Signal

	// ShouldClosePosition reports whether an open position should be closed at market on candles[index].
	ShouldClosePosition(ctx context.Context, position *domain.Position, candles []domain.Candle, index int) bool
}
