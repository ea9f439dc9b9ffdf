package ports

import (
	"context"
	"time"

	"cryptoBacktest/internal/domain"
)

// DataProvider supplies historical candles in bulk, ascending by timestamp.
type DataProvider interface {
	// GetCandles returns every candle for symbol/interval whose open time lies in [start, end].
	// A zero start or end leaves that side unbounded where the source allows it.
	GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error)
}
