package domain

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	for input, expected := range map[string]Side{"long": Long, "BUY": Long, " short ": Short, "sell": Short} {
		side, err := ParseSide(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, side)
	}
	_, err := ParseSide("flat")
	assert.Error(t, err)

	assert.Equal(t, 1.0, Long.Sign())
	assert.Equal(t, -1.0, Short.Sign())
}

func TestParseConfigEnums(t *testing.T) {
	mode, err := ParseDCAMode("ATR")
	require.NoError(t, err)
	assert.Equal(t, DCAModeATRMultiple, mode)

	mode, err = ParseDCAMode("fixed_amount")
	require.NoError(t, err)
	assert.Equal(t, DCAModeFixedAmount, mode)

	_, err = ParseDCAMode("martingale")
	assert.Error(t, err)

	basis, err := ParseDCABasis("last_fill")
	require.NoError(t, err)
	assert.Equal(t, DCABasisLastFill, basis)

	level, err := ParseTPLevel("TP2")
	require.NoError(t, err)
	assert.Equal(t, TPLevel2, level)
	assert.Equal(t, ExitReasonTP2, level.ExitReason())
	assert.Equal(t, ExitReasonTakeProfit, TPLevelNone.ExitReason())

	reason, err := ParseExitReason("trailing_stop")
	require.NoError(t, err)
	assert.Equal(t, ExitReasonTrailingStop, reason)
}

func TestTradeJSON(t *testing.T) {
	ratio, remaining := 0.3, 0.7
	partial := Trade{TradeNumber: 1, Side: Short, ExitReason: ExitReasonTP1, TPLevel: TPLevel1, IsPartialExit: true, ExitRatio: &ratio, RemainingQty: &remaining,
		EntryHistory: []EntryRecord{{Price: 100, Quantity: 1, Reason: EntryReasonInitial}}}
	full := Trade{TradeNumber: 1, Side: Short, ExitReason: ExitReasonStopLoss}

	b, err := json.Marshal(partial)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"side":"short"`)
	assert.Contains(t, string(b), `"exit_reason":"tp1"`)
	assert.Contains(t, string(b), `"tp_level":1`)
	assert.Contains(t, string(b), `"exit_ratio":0.3`)
	assert.Contains(t, string(b), `"reason":"initial_entry"`)

	b, err = json.Marshal(full)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"tp_level":null`)
	assert.Contains(t, string(b), `"exit_ratio":null`)
	assert.Contains(t, string(b), `"remaining_quantity":null`)

	var decoded Trade
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, ExitReasonStopLoss, decoded.ExitReason)
	assert.Equal(t, TPLevelNone, decoded.TPLevel)
	assert.Equal(t, Short, decoded.Side)
}

func TestStrategyConfigHelpers(t *testing.T) {
	cfg := DefaultStrategyConfig()
	assert.False(t, cfg.AnyTakeProfitEnabled())
	assert.Zero(t, cfg.EnabledRatioSum())

	cfg.TP1.Enabled = true
	cfg.TP3.Enabled = true
	cfg.UseBreakEvenTP3 = true
	assert.True(t, cfg.AnyTakeProfitEnabled())
	assert.Equal(t, 70.0, cfg.EnabledRatioSum())
	assert.Equal(t, 4.0, cfg.TakeProfit(TPLevel3).Value)
	assert.True(t, cfg.BreakEvenEnabled(TPLevel3))
	assert.False(t, cfg.BreakEvenEnabled(TPLevel1))
}
