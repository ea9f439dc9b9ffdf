package domain

// Signal is an entry request produced by a strategy.
// The optional percentages are only honoured when every partial take-profit level is disabled.
type Signal struct {
	Side              Side
	StopLossPercent   *float64
	TakeProfitPercent *float64
}
