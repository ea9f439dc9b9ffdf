package domain

import (
	"fmt"
	"strings"
)

// DCAMode selects how the next pyramiding level is derived from the basis price.
type DCAMode int

const (
	DCAModePercentage  DCAMode = iota // basis × (1 ∓ value/100)
	DCAModeFixedAmount                // basis ∓ value
	DCAModeATRMultiple                // basis ∓ atr × value
)

func (m DCAMode) String() string {
	switch m {
	case DCAModePercentage:
		return "percentage"
	case DCAModeFixedAmount:
		return "fixed_amount"
	case DCAModeATRMultiple:
		return "atr_multiple"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m DCAMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *DCAMode) UnmarshalText(b []byte) error {
	parsed, err := ParseDCAMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseDCAMode converts a configuration string to a DCAMode.
func ParseDCAMode(v string) (DCAMode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "percentage", "percent", "pct":
		return DCAModePercentage, nil
	case "fixed_amount", "fixed", "amount", "price":
		return DCAModeFixedAmount, nil
	case "atr_multiple", "atr":
		return DCAModeATRMultiple, nil
	default:
		return DCAModePercentage, fmt.Errorf("unknown pyramiding entry type %q", v)
	}
}

// DCABasis selects the reference price DCA levels are computed from.
type DCABasis int

const (
	DCABasisAverageEntry DCABasis = iota
	DCABasisLastFill
)

func (b DCABasis) String() string {
	if b == DCABasisLastFill {
		return "last_fill"
	}
	return "average"
}

// MarshalText implements encoding.TextMarshaler.
func (b DCABasis) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *DCABasis) UnmarshalText(text []byte) error {
	parsed, err := ParseDCABasis(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseDCABasis converts a configuration string to a DCABasis.
func ParseDCABasis(v string) (DCABasis, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "average", "avg", "average_entry":
		return DCABasisAverageEntry, nil
	case "last_fill", "last", "recent_entry":
		return DCABasisLastFill, nil
	default:
		return DCABasisAverageEntry, fmt.Errorf("unknown entry criterion %q", v)
	}
}

// TakeProfitConfig configures one partial take-profit level.
type TakeProfitConfig struct {
	Enabled bool    `json:"enabled"`
	Value   float64 `json:"value" validate:"gte=0"`         // Percent distance from the average entry
	Ratio   float64 `json:"ratio" validate:"gte=0,lte=100"` // Percent of the base quantity to close
}

// StrategyConfig holds the entry/exit parameters of a back-tested strategy.
// Use DefaultStrategyConfig for the documented defaults.
type StrategyConfig struct {
	TP1 TakeProfitConfig `json:"tp1"`
	TP2 TakeProfitConfig `json:"tp2"`
	TP3 TakeProfitConfig `json:"tp3"`

	TrailingStopActive bool    `json:"trailing_stop_active"`
	TrailingStartPoint TPLevel `json:"trailing_start_point" validate:"gte=1,lte=3"`
	// Percent of the extreme price, unless the tp2/tp3 difference is used.
	TrailingStopOffsetValue           float64 `json:"trailing_stop_offset_value" validate:"gte=0"`
	UseTrailingStopWithTP2TP3Distance bool    `json:"use_trailing_stop_value_with_tp2_tp3_difference"`

	PyramidingEnabled   bool     `json:"pyramiding_enabled"`
	PyramidingLimit     int      `json:"pyramiding_limit" validate:"gte=1,lte=10"`
	EntryMultiplier     float64  `json:"entry_multiplier" validate:"gt=0"`
	PyramidingEntryType DCAMode  `json:"pyramiding_entry_type" validate:"gte=0,lte=2"`
	PyramidingValue     float64  `json:"pyramiding_value" validate:"gte=0"`
	EntryCriterion      DCABasis `json:"entry_criterion" validate:"gte=0,lte=1"`

	UseRSIWithPyramiding bool    `json:"use_rsi_with_pyramiding"`
	RSIOversold          float64 `json:"rsi_oversold" validate:"gte=0,lte=100"`
	RSIOverbought        float64 `json:"rsi_overbought" validate:"gte=0,lte=100"`

	UseTrendLogic         bool    `json:"use_trend_logic"`
	TrendThresholdPercent float64 `json:"trend_threshold_percent" validate:"gte=0"`

	UseBreakEven    bool `json:"use_break_even"`
	UseBreakEvenTP2 bool `json:"use_break_even_tp2"`
	UseBreakEvenTP3 bool `json:"use_break_even_tp3"`

	StopLossPercent float64 `json:"stop_loss_percent" validate:"gte=0,lt=100"` // 0 disables the stop-loss
}

// DefaultStrategyConfig returns the defaults used when a field is not configured:
// TP1 2%/30%, TP2 3%/30%, TP3 4%/40% (all disabled), trailing start TP3 with a
// 0.5% offset, pyramiding limit 3 with multiplier 1 and a 3% percentage step,
// RSI 30/70, trend threshold 2%, stop-loss disabled.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		TP1:                     TakeProfitConfig{Value: 2, Ratio: 30},
		TP2:                     TakeProfitConfig{Value: 3, Ratio: 30},
		TP3:                     TakeProfitConfig{Value: 4, Ratio: 40},
		TrailingStartPoint:      TPLevel3,
		TrailingStopOffsetValue: 0.5,
		PyramidingLimit:         3,
		EntryMultiplier:         1,
		PyramidingEntryType:     DCAModePercentage,
		PyramidingValue:         3,
		EntryCriterion:          DCABasisAverageEntry,
		RSIOversold:             30,
		RSIOverbought:           70,
		TrendThresholdPercent:   2,
	}
}

// TakeProfit returns the configuration of a TP level.
func (c *StrategyConfig) TakeProfit(level TPLevel) TakeProfitConfig {
	switch level {
	case TPLevel1:
		return c.TP1
	case TPLevel2:
		return c.TP2
	case TPLevel3:
		return c.TP3
	default:
		return TakeProfitConfig{}
	}
}

// AnyTakeProfitEnabled reports whether at least one partial level is enabled.
func (c *StrategyConfig) AnyTakeProfitEnabled() bool {
	return c.TP1.Enabled || c.TP2.Enabled || c.TP3.Enabled
}

// EnabledRatioSum returns the sum of the ratios of enabled levels, in percent.
func (c *StrategyConfig) EnabledRatioSum() float64 {
	var sum float64
	for _, tp := range []TakeProfitConfig{c.TP1, c.TP2, c.TP3} {
		if tp.Enabled {
			sum += tp.Ratio
		}
	}
	return sum
}

// BreakEvenEnabled reports whether a break-even relocation follows the given level.
func (c *StrategyConfig) BreakEvenEnabled(level TPLevel) bool {
	switch level {
	case TPLevel1:
		return c.UseBreakEven
	case TPLevel2:
		return c.UseBreakEvenTP2
	case TPLevel3:
		return c.UseBreakEvenTP3
	default:
		return false
	}
}
