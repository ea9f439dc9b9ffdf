package domain

import "time"

// Candle represents a single OHLCV candlestick with optional precomputed indicators.
type Candle struct {
	Timestamp time.Time // Open time of the interval
	CloseTime time.Time // End time of the interval (zero if unknown)
	Symbol    string    // Trading symbol
	Interval  string    // Candle interval (e.g., "1m", "1h")
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64

	// Indicators are nil when not available for this candle.
	RSI *float64
	ATR *float64
	EMA *float64
	SMA *float64
}

// Float returns a pointer to v. Used to populate optional indicator fields.
func Float(v float64) *float64 {
	return &v
}
