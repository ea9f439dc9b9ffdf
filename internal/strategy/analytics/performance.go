package analytics

import (
	"math"
	"sort"
	"time"

	"cryptoBacktest/internal/domain"
)

// PerformanceMetrics holds comprehensive performance metrics for a run.
// Win/loss statistics are computed per position: every fill of a position
// (partial TPs plus the final exit) contributes to one result.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int // Fill events
	TotalPositions     int
	WinningPositions   int
	LosingPositions    int
	WinRate            float64
	TotalProfit        float64
	TotalFees          float64
	MaxDrawdown        float64 // Percent, from the equity curve
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	SharpeRatio        float64
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	AverageDCACount      float64
	RecoveryFactor       float64
	Expectancy           float64
	RiskRewardRatio      float64
	ExitReasons          map[string]int
	MonthlyReturns       map[string]float64
	Drawdowns            []Drawdown
	Positions            []PositionSummary
}

// PositionSummary aggregates the fills of one position.
type PositionSummary struct {
	TradeNumber int
	Side        domain.Side
	EntryTime   time.Time
	ExitTime    time.Time // Time of the last fill
	PNL         float64
	Investment  float64
	DCACount    int
	Fills       int
}

// Drawdown represents a drawdown period on the equity curve
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64 // Percent
	Duration   time.Duration
}

// AnalyzePerformance calculates performance metrics from the trades and equity curve of a run.
// The inputs are not modified.
func AnalyzePerformance(trades []domain.Trade, equity []domain.EquityPoint, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		TotalTrades:    len(trades),
		FinalBalance:   initialBalance,
		ExitReasons:    make(map[string]int),
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
	}

	for _, trade := range trades {
		metrics.TotalProfit += trade.PNL
		metrics.TotalFees += trade.EntryFee + trade.ExitFee
		metrics.ExitReasons[trade.ExitReason.String()]++
		metrics.MonthlyReturns[trade.ExitTime.Format("2006-01")] += trade.PNL
	}
	metrics.FinalBalance = initialBalance + metrics.TotalProfit
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = metrics.TotalProfit / initialBalance
	}

	metrics.Positions = GroupByPosition(trades)
	metrics.TotalPositions = len(metrics.Positions)

	var totalDuration time.Duration
	var winSum, lossSum float64
	var dcaSum int
	var consecutiveWins, consecutiveLosses int
	returns := make([]float64, 0, len(metrics.Positions))

	for _, pos := range metrics.Positions {
		if pos.PNL > 0 {
			metrics.WinningPositions++
			winSum += pos.PNL
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingPositions++
			lossSum += pos.PNL
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}
		totalDuration += pos.ExitTime.Sub(pos.EntryTime)
		dcaSum += pos.DCACount
		if pos.Investment > 0 {
			returns = append(returns, pos.PNL/pos.Investment)
		}
	}

	if metrics.TotalPositions > 0 {
		n := float64(metrics.TotalPositions)
		metrics.WinRate = float64(metrics.WinningPositions) / n
		metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalPositions)
		metrics.AverageDCACount = float64(dcaSum) / n
		if metrics.WinningPositions > 0 {
			metrics.AverageWin = winSum / float64(metrics.WinningPositions)
		}
		if metrics.LosingPositions > 0 {
			metrics.AverageLoss = lossSum / float64(metrics.LosingPositions)
		}
		if lossSum != 0 {
			metrics.ProfitFactor = winSum / -lossSum
		}
		if metrics.AverageLoss != 0 {
			metrics.RiskRewardRatio = metrics.AverageWin / -metrics.AverageLoss
		}
		metrics.Expectancy = (metrics.WinRate * metrics.AverageWin) + ((1 - metrics.WinRate) * metrics.AverageLoss)
		metrics.SharpeRatio = CalculateSharpeRatio(returns)
	}

	metrics.Drawdowns, metrics.MaxDrawdown = drawdownPeriods(equity)
	if metrics.MaxDrawdown > 0 && initialBalance > 0 {
		metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown / 100)
	}

	return metrics
}

// GroupByPosition folds fill events into per-position summaries, in order of first fill.
func GroupByPosition(trades []domain.Trade) []PositionSummary {
	index := make(map[int]int)
	summaries := make([]PositionSummary, 0)
	for _, trade := range trades {
		i, ok := index[trade.TradeNumber]
		if !ok {
			i = len(summaries)
			index[trade.TradeNumber] = i
			summaries = append(summaries, PositionSummary{
				TradeNumber: trade.TradeNumber,
				Side:        trade.Side,
				EntryTime:   trade.EntryTime,
			})
		}
		s := &summaries[i]
		s.ExitTime = trade.ExitTime
		s.PNL += trade.PNL
		s.Fills++
		if trade.TotalInvestment > s.Investment {
			s.Investment = trade.TotalInvestment
		}
		if trade.DCACount > s.DCACount {
			s.DCACount = trade.DCACount
		}
	}
	return summaries
}

// CalculateSharpeRatio returns mean/stddev of the returns (risk-free rate 0, not annualized).
func CalculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	// Constant returns leave rounding noise in the deviation.
	if stdDev < 1e-12 {
		return 0
	}
	return mean / stdDev
}

// drawdownPeriods walks the equity curve and returns each peak-to-recovery period and the max depth in percent.
func drawdownPeriods(equity []domain.EquityPoint) ([]Drawdown, float64) {
	periods := make([]Drawdown, 0)
	var maxDepth, peak float64
	var current *Drawdown

	for _, point := range equity {
		if point.Balance >= peak {
			peak = point.Balance
			if current != nil {
				current.EndTime = point.Timestamp
				current.EndValue = point.Balance
				current.Duration = current.EndTime.Sub(current.StartTime)
				periods = append(periods, *current)
				current = nil
			}
			continue
		}
		depth := (peak - point.Balance) / peak * 100
		if current == nil {
			current = &Drawdown{StartTime: point.Timestamp, StartValue: peak}
		}
		current.Depth = math.Max(current.Depth, depth)
		maxDepth = math.Max(maxDepth, depth)
	}

	if current != nil {
		last := equity[len(equity)-1]
		current.EndTime = last.Timestamp
		current.EndValue = last.Balance
		current.Duration = current.EndTime.Sub(current.StartTime)
		periods = append(periods, *current)
	}
	return periods, maxDepth
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
