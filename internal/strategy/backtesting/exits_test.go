package backtesting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoBacktest/internal/domain"
)

func TestExitStateMachine_NothingOnEntryCandle(t *testing.T) {
	cfg := threeLevelConfig()
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 100000)

	trades, err := exits.Evaluate(context.Background(), p, bar(0, 100000, 105000, 100000, 100000), 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, domain.ExitStateNoExit, p.ExitState)
}

func TestExitStateMachine_LevelsFireInOrderWithinOneCandle(t *testing.T) {
	cfg := threeLevelConfig()
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 100000)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 104500, 99800, 104000), 1)
	require.NoError(t, err)

	require.Len(t, trades, 3)
	for i, level := range []domain.TPLevel{domain.TPLevel1, domain.TPLevel2, domain.TPLevel3} {
		assert.Equal(t, level, trades[i].TPLevel)
		assert.Equal(t, level.ExitReason(), trades[i].ExitReason)
	}
	assert.InDelta(t, 102000.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 104000.0, trades[2].ExitPrice, 1e-9)
	assert.False(t, p.IsOpen())
	assert.Equal(t, domain.ExitStateClosed, p.ExitState)
}

func TestExitStateMachine_TakeProfitBeforeStopLoss(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.TP1 = domain.TakeProfitConfig{Enabled: true, Value: 2, Ratio: 30}
	cfg.StopLossPercent = 1
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 100000)

	// One candle spans both the TP1 price and the stop.
	trades, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 102500, 98500, 100000), 1)
	require.NoError(t, err)

	require.Len(t, trades, 2)
	assert.Equal(t, domain.ExitReasonTP1, trades[0].ExitReason)
	assert.InDelta(t, 0.3, trades[0].Quantity, 1e-12)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[1].ExitReason)
	assert.InDelta(t, 0.7, trades[1].Quantity, 1e-12)
	assert.InDelta(t, 99000.0, trades[1].ExitPrice, 1e-9)
	assert.False(t, p.IsOpen())
}

func TestExitStateMachine_StopLossGapFillsAtOpen(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.StopLossPercent = 5
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 1000)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 900, 910, 890, 905), 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 900.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, -100.0, trades[0].PNL, 1e-9)
	assert.False(t, p.IsOpen())
}

func TestExitStateMachine_BreakEvenAppliesFromNextCandle(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.TP1 = domain.TakeProfitConfig{Enabled: true, Value: 2, Ratio: 30}
	cfg.TP2 = domain.TakeProfitConfig{Enabled: true, Value: 4, Ratio: 30}
	cfg.UseBreakEven = true
	cfg.StopLossPercent = 5
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 100000)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 102500, 99800, 101000), 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, p.IsOpen())
	assert.InDelta(t, 100000.0, p.StopLossPrice, 1e-9)
	assert.True(t, p.StopLossPinned)
	assert.Equal(t, domain.ExitStateTP1Done, p.ExitState)

	trades, err = exits.Evaluate(context.Background(), p, bar(2, 101000, 101000, 99900, 100000), 2)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 100000.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 0.0, trades[0].PNL, 1e-9)
}

func TestExitStateMachine_BreakEvenOnTrailingStartLevel(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.TP1 = domain.TakeProfitConfig{Enabled: true, Value: 2, Ratio: 30}
	cfg.TrailingStopActive = true
	cfg.TrailingStartPoint = domain.TPLevel1
	cfg.TrailingStopOffsetValue = 1
	cfg.UseBreakEven = true
	cfg.StopLossPercent = 5
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 1000)
	require.InDelta(t, 950.0, p.StopLossPrice, 1e-9)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 1000, 1021, 999, 1015), 1)
	require.NoError(t, err)
	assert.Empty(t, trades, "TP1 arms the trailing stop instead of closing")
	assert.True(t, p.Trailing.Active)
	assert.InDelta(t, 1000.0, p.StopLossPrice, 1e-9)
	assert.True(t, p.StopLossPinned)

	trades, err = exits.Evaluate(context.Background(), p, bar(2, 1015, 1016, 995, 998), 2)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 1000.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 0.0, trades[0].PNL, 1e-9)
}

func TestExitStateMachine_BreakEvenAnchors(t *testing.T) {
	cfg := threeLevelConfig()
	cfg.TP3.Ratio = 30
	cfg.UseBreakEvenTP2 = true
	cfg.UseBreakEvenTP3 = true
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 100000)

	_, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 103100, 100000, 103000), 1)
	require.NoError(t, err)
	assert.InDelta(t, 102000.0, p.StopLossPrice, 1e-9, "TP2 moves the stop to the TP1 price")

	_, err = exits.Evaluate(context.Background(), p, bar(2, 103000, 104100, 102500, 104000), 2)
	require.NoError(t, err)
	assert.InDelta(t, 103000.0, p.StopLossPrice, 1e-9, "TP3 moves the stop to the TP2 price")
	assert.InDelta(t, 0.1, p.RemainingQuantity(), 1e-12)
}

func TestExitStateMachine_RatioSumAboveHundredIsCapped(t *testing.T) {
	cfg := threeLevelConfig()
	cfg.TP1.Ratio = 50
	cfg.TP2.Ratio = 40
	cfg.TP3.Ratio = 40
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 100000)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 104500, 100000, 104000), 1)
	require.NoError(t, err)

	require.Len(t, trades, 3)
	require.NotNil(t, trades[2].ExitRatio)
	assert.InDelta(t, 0.1, *trades[2].ExitRatio, 1e-12)
	assert.InDelta(t, 0.1, trades[2].Quantity, 1e-12)
	assert.InDelta(t, 0.0, *trades[2].RemainingQty, 1e-12)
	assert.False(t, p.IsOpen())
}

func TestExitStateMachine_ShortSide(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.TP1 = domain.TakeProfitConfig{Enabled: true, Value: 2, Ratio: 50}
	cfg.StopLossPercent = 3
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p, err := positions.Open(context.Background(), flat(0, 100000), 0, &domain.Signal{Side: domain.Short}, fillAt(100000, 1, 0), 100000)
	require.NoError(t, err)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 100500, 97900, 98500), 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 98000.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 1000.0, trades[0].PNL, 1e-9)

	trades, err = exits.Evaluate(context.Background(), p, bar(2, 98500, 103100, 98400, 103000), 2)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 103000.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, -1500.0, trades[0].PNL, 1e-9)
}

func TestExitStateMachine_LegacyTakeProfit(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	tp := 1.5
	p, err := positions.Open(context.Background(), flat(0, 100000), 0, &domain.Signal{Side: domain.Long, TakeProfitPercent: &tp}, fillAt(100000, 1, 0), 100000)
	require.NoError(t, err)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 101600, 99900, 101000), 1)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonTakeProfit, trades[0].ExitReason)
	assert.InDelta(t, 101500.0, trades[0].ExitPrice, 1e-9)
	assert.False(t, trades[0].IsPartialExit)
	assert.Equal(t, domain.TPLevelNone, trades[0].TPLevel)
	assert.Nil(t, trades[0].ExitRatio)
}

func TestExitStateMachine_TrailingFromTP2TP3Distance(t *testing.T) {
	cfg := threeLevelConfig()
	cfg.TrailingStopActive = true
	cfg.TrailingStartPoint = domain.TPLevel2
	cfg.UseTrailingStopWithTP2TP3Distance = true
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 100000)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 100000, 103100, 100000, 103000), 1)
	require.NoError(t, err)
	require.Len(t, trades, 1, "TP2 arms the trailing stop instead of closing")
	assert.Equal(t, domain.ExitReasonTP1, trades[0].ExitReason)
	assert.True(t, p.Trailing.Active)
	assert.Equal(t, domain.ExitStateTrailingActive, p.ExitState)
	assert.InDelta(t, 1000.0, p.Trailing.FixedOffset, 1e-9)
	assert.InDelta(t, 102000.0, p.Trailing.StopPrice, 1e-9)

	trades, err = exits.Evaluate(context.Background(), p, bar(2, 103000, 104200, 103300, 104000), 2)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonTP3, trades[0].ExitReason)
	assert.InDelta(t, 0.3, *trades[0].RemainingQty, 1e-12)
	assert.InDelta(t, 103200.0, p.Trailing.StopPrice, 1e-9)

	trades, err = exits.Evaluate(context.Background(), p, bar(3, 104000, 104000, 103100, 103150), 3)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonTrailingStop, trades[0].ExitReason)
	assert.InDelta(t, 103200.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 0.3, trades[0].Quantity, 1e-12)
	assert.False(t, p.IsOpen())
}

func TestExitStateMachine_TrailingAtEntryWithoutLevels(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.TrailingStopActive = true
	cfg.TrailingStopOffsetValue = 1
	positions, exits := newTestRun(&cfg, &OrderSimulator{})
	p := openLong(t, positions, 1000)

	require.True(t, p.Trailing.Active)
	assert.InDelta(t, 990.0, p.Trailing.StopPrice, 1e-9)

	trades, err := exits.Evaluate(context.Background(), p, bar(1, 1090, 1100, 1090, 1095), 1)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.InDelta(t, 1089.0, p.Trailing.StopPrice, 1e-9)

	trades, err = exits.Evaluate(context.Background(), p, bar(2, 1090, 1095, 1080, 1085), 2)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitReasonTrailingStop, trades[0].ExitReason)
	assert.InDelta(t, 1089.0, trades[0].ExitPrice, 1e-9)
}

func TestTrailingStopNeverRegresses(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.TrailingStopOffsetValue = 1

	highs := []float64{1010, 1050, 1020, 1080, 1000, 1200, 1150}
	long := &domain.Position{Side: domain.Long}
	activateTrailing(long, &cfg, 1000, 0)
	prev := long.Trailing.StopPrice
	for i, h := range highs {
		updateTrailing(long, &cfg, bar(i+1, h, h, h-1, h))
		assert.GreaterOrEqual(t, long.Trailing.StopPrice, prev)
		prev = long.Trailing.StopPrice
	}
	assert.InDelta(t, 1188.0, long.Trailing.StopPrice, 1e-9)

	lows := []float64{990, 950, 980, 920, 1000, 800, 850}
	short := &domain.Position{Side: domain.Short}
	activateTrailing(short, &cfg, 1000, 0)
	prev = short.Trailing.StopPrice
	for i, l := range lows {
		updateTrailing(short, &cfg, bar(i+1, l, l+1, l, l))
		assert.LessOrEqual(t, short.Trailing.StopPrice, prev)
		prev = short.Trailing.StopPrice
	}
	assert.InDelta(t, 808.0, short.Trailing.StopPrice, 1e-9)
}
