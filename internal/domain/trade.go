package domain

import "time"

// Trade represents one realized exit fill, partial or full. Immutable once emitted.
type Trade struct {
	TradeNumber     int           `json:"trade_number"` // Shared by every fill of the same position
	Symbol          string        `json:"symbol"`
	Side            Side          `json:"side"`
	EntryTime       time.Time     `json:"entry_time"`
	ExitTime        time.Time     `json:"exit_time"`
	EntryPrice      float64       `json:"entry_price"` // Average entry price at the time of the exit
	ExitPrice       float64       `json:"exit_price"`
	ExitReason      ExitReason    `json:"exit_reason"`
	Quantity        float64       `json:"quantity"` // Quantity closed by this event
	Leverage        int           `json:"leverage"`
	PNL             float64       `json:"pnl"`
	PNLPercent      float64       `json:"pnl_percent"`
	EntryFee        float64       `json:"entry_fee"`
	ExitFee         float64       `json:"exit_fee"`
	DCACount        int           `json:"dca_count"`
	EntryHistory    []EntryRecord `json:"entry_history"`
	TotalInvestment float64       `json:"total_investment"`
	IsPartialExit   bool          `json:"is_partial_exit"`
	TPLevel         TPLevel       `json:"tp_level"`
	ExitRatio       *float64      `json:"exit_ratio"`         // Fraction of the base quantity, nil if not partial
	RemainingQty    *float64      `json:"remaining_quantity"` // Open size after this event, nil if not partial
}

// IsWin reports whether the trade realized a positive PnL.
func (t *Trade) IsWin() bool {
	return t.PNL > 0
}

// EquityPoint is one sample of the equity curve: realized balance plus the
// unrealized PnL of the open position, marked at the candle close.
type EquityPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	Balance         float64   `json:"balance"`
	DrawdownPercent float64   `json:"drawdown_percent"`
}
