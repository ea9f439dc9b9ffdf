package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoBacktest/internal/domain"
)

func TestAnalyzePerformance(t *testing.T) {
	initialBalance := 10000.0
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	trades := []domain.Trade{
		// Position 1: two partial TPs and a stop on the rest.
		{TradeNumber: 1, Side: domain.Long, EntryTime: start, ExitTime: start.Add(2 * time.Hour), PNL: 300, EntryFee: 1, ExitFee: 1, ExitReason: domain.ExitReasonTP1, TotalInvestment: 1000, IsPartialExit: true, TPLevel: domain.TPLevel1},
		{TradeNumber: 1, Side: domain.Long, EntryTime: start, ExitTime: start.Add(3 * time.Hour), PNL: 400, EntryFee: 1, ExitFee: 1, ExitReason: domain.ExitReasonTP2, TotalInvestment: 1000, IsPartialExit: true, TPLevel: domain.TPLevel2},
		{TradeNumber: 1, Side: domain.Long, EntryTime: start, ExitTime: start.Add(4 * time.Hour), PNL: -100, EntryFee: 1, ExitFee: 1, ExitReason: domain.ExitReasonStopLoss, TotalInvestment: 1000},
		// Position 2: a DCA and a loss.
		{TradeNumber: 2, Side: domain.Short, EntryTime: start.Add(24 * time.Hour), ExitTime: start.Add(26 * time.Hour), PNL: -500, EntryFee: 2, ExitFee: 2, ExitReason: domain.ExitReasonStopLoss, TotalInvestment: 2000, DCACount: 1},
	}
	equity := []domain.EquityPoint{
		{Timestamp: start, Balance: 10000},
		{Timestamp: start.Add(time.Hour), Balance: 10200},
		{Timestamp: start.Add(2 * time.Hour), Balance: 10600},
		{Timestamp: start.Add(24 * time.Hour), Balance: 10070},
		{Timestamp: start.Add(26 * time.Hour), Balance: 10100},
	}

	metrics := AnalyzePerformance(trades, equity, initialBalance)

	assert.Equal(t, 4, metrics.TotalTrades)
	assert.Equal(t, 2, metrics.TotalPositions)
	assert.Equal(t, 1, metrics.WinningPositions)
	assert.Equal(t, 1, metrics.LosingPositions)
	assert.InDelta(t, 0.5, metrics.WinRate, 1e-12)
	assert.InDelta(t, 100.0, metrics.TotalProfit, 1e-9)
	assert.InDelta(t, 10.0, metrics.TotalFees, 1e-9)
	assert.InDelta(t, 10100.0, metrics.FinalBalance, 1e-9)
	assert.InDelta(t, 0.01, metrics.ReturnOnInvestment, 1e-12)
	assert.InDelta(t, 600.0, metrics.AverageWin, 1e-9)
	assert.InDelta(t, -500.0, metrics.AverageLoss, 1e-9)
	assert.InDelta(t, 1.2, metrics.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.5, metrics.AverageDCACount, 1e-12)
	assert.Equal(t, 3*time.Hour, metrics.AverageTradeDuration)

	assert.Equal(t, 2, metrics.ExitReasons["stop_loss"])
	assert.Equal(t, 1, metrics.ExitReasons["tp1"])
	assert.Equal(t, 1, metrics.ExitReasons["tp2"])
	assert.InDelta(t, 100.0, metrics.MonthlyReturns["2024-01"], 1e-9)

	// Peak 10600, trough 10070: 5% drawdown, not recovered.
	assert.InDelta(t, 5.0, metrics.MaxDrawdown, 1e-9)
	require.Len(t, metrics.Drawdowns, 1)
	assert.Equal(t, 10600.0, metrics.Drawdowns[0].StartValue)

	require.Len(t, metrics.Positions, 2)
	assert.Equal(t, 3, metrics.Positions[0].Fills)
	assert.InDelta(t, 600.0, metrics.Positions[0].PNL, 1e-9)
	assert.Equal(t, start.Add(4*time.Hour), metrics.Positions[0].ExitTime)
}

func TestAnalyzePerformance_NoTrades(t *testing.T) {
	metrics := AnalyzePerformance(nil, nil, 1000)

	assert.Equal(t, 0, metrics.TotalTrades)
	assert.Equal(t, 0, metrics.TotalPositions)
	assert.Equal(t, 1000.0, metrics.FinalBalance)
	assert.Zero(t, metrics.WinRate)
	assert.Zero(t, metrics.MaxDrawdown)
	assert.Empty(t, metrics.Drawdowns)
}

func TestAnalyzePerformance_DoesNotReorderInput(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		{TradeNumber: 2, EntryTime: start.Add(time.Hour), ExitTime: start.Add(2 * time.Hour), PNL: 10},
		{TradeNumber: 1, EntryTime: start, ExitTime: start.Add(3 * time.Hour), PNL: -5},
	}

	AnalyzePerformance(trades, nil, 1000)

	assert.Equal(t, 2, trades[0].TradeNumber)
	assert.Equal(t, 1, trades[1].TradeNumber)
}

func TestCalculateSharpeRatio(t *testing.T) {
	assert.Zero(t, CalculateSharpeRatio(nil))
	assert.Zero(t, CalculateSharpeRatio([]float64{0.1}))
	assert.Zero(t, CalculateSharpeRatio([]float64{0.1, 0.1, 0.1}))
	assert.Zero(t, CalculateSharpeRatio([]float64{0.07, 0.07, 0.07, 0.07, 0.07, 0.07, 0.07}))

	// mean 0.02, sample stddev 0.02·√2
	assert.InDelta(t, math.Sqrt2/2, CalculateSharpeRatio([]float64{0, 0.04}), 1e-9)
}

func TestGetMonthlyReturns(t *testing.T) {
	metrics := &PerformanceMetrics{MonthlyReturns: map[string]float64{
		"2024-03": 5,
		"2024-01": -2,
		"2024-02": 7,
	}}

	returns := metrics.GetMonthlyReturns()

	require.Len(t, returns, 3)
	assert.Equal(t, time.January, returns[0].Month.Month())
	assert.Equal(t, time.March, returns[2].Month.Month())
	assert.Equal(t, -2.0, returns[0].Return)
}
