package backtesting

import (
	"context"
	"math"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
)

// NextLevel returns the price one DCA step away from basis, against the side.
// atr is only read in ATR mode; a nil atr there is reported as missing.
func NextLevel(basis float64, side domain.Side, mode domain.DCAMode, value float64, atr *float64) (float64, bool) {
	return levelAt(basis, side, mode, value, atr, 1)
}

func levelAt(basis float64, side domain.Side, mode domain.DCAMode, value float64, atr *float64, step int) (float64, bool) {
	var distance float64
	switch mode {
	case domain.DCAModePercentage:
		distance = basis * value / 100
	case domain.DCAModeFixedAmount:
		distance = value
	case domain.DCAModeATRMultiple:
		if atr == nil {
			return 0, false
		}
		distance = *atr * value
	default:
		return 0, false
	}
	// Long adds below the basis, Short above.
	return basis - side.Sign()*distance*float64(step), true
}

// PriceConditionMet reports whether the candle reached a DCA level.
// Long triggers when low <= level, Short when high >= level.
func PriceConditionMet(c domain.Candle, level float64, side domain.Side) bool {
	if level <= 0 {
		return false
	}
	if side == domain.Short {
		return c.High >= level
	}
	return c.Low <= level
}

// RSIConditionMet requires an oversold RSI to add to a Long and an overbought RSI to add to a Short.
func RSIConditionMet(rsi float64, side domain.Side, oversold, overbought float64) bool {
	if side == domain.Short {
		return rsi >= overbought
	}
	return rsi <= oversold
}

// TrendConditionMet blocks adding to a Long in a strong downtrend and to a Short in a strong uptrend,
// where trend strength is the EMA/SMA spread in percent.
func TrendConditionMet(ema, sma float64, side domain.Side, thresholdPercent float64) bool {
	if sma == 0 {
		return false
	}
	spread := (ema - sma) / sma * 100
	if side == domain.Short {
		return spread < thresholdPercent
	}
	return spread > -thresholdPercent
}

// EntrySize returns the investment of the dcaIndex-th entry (0 = initial entry).
func EntrySize(initialInvestment, multiplier float64, dcaIndex int) float64 {
	return initialInvestment * math.Pow(multiplier, float64(dcaIndex))
}

// DCAOrder is a pending pyramiding entry.
type DCAOrder struct {
	Level      float64
	Investment float64
	DCAIndex   int
}

// DCAEngine decides when and how much to add to an open position.
type DCAEngine struct {
	config *domain.StrategyConfig
	logger ports.Logger
}

// NewDCAEngine creates a DCA engine for the given strategy configuration.
func NewDCAEngine(config *domain.StrategyConfig, logger ports.Logger) *DCAEngine {
	return &DCAEngine{config: config, logger: logger}
}

// Basis returns the reference price DCA levels are computed from.
func (d *DCAEngine) Basis(p *domain.Position) float64 {
	if d.config.EntryCriterion == domain.DCABasisLastFill {
		return p.LastEntry().Price
	}
	return p.AverageEntryPrice
}

// Levels computes the ladder of remaining DCA prices for a position, nearest first.
// Levels that would fall to zero or below are dropped.
func (d *DCAEngine) Levels(p *domain.Position, c domain.Candle, index int) ([]float64, error) {
	if !d.config.PyramidingEnabled {
		return nil, nil
	}
	left := d.config.PyramidingLimit - p.DCACount()
	if left <= 0 {
		return nil, nil
	}
	basis := d.Basis(p)
	levels := make([]float64, 0, left)
	for k := 1; k <= left; k++ {
		level, ok := levelAt(basis, p.Side, d.config.PyramidingEntryType, d.config.PyramidingValue, c.ATR, k)
		if !ok {
			return nil, &MissingIndicatorError{Indicator: "atr", CandleIndex: index}
		}
		if level <= 0 {
			break
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Refresh recomputes the position's remaining DCA levels. A missing ATR leaves the
// ladder empty; it is retried on the following candles.
func (d *DCAEngine) Refresh(ctx context.Context, p *domain.Position, c domain.Candle, index int) {
	levels, err := d.Levels(p, c, index)
	if err != nil {
		d.logger.Warn(ctx, "DCA levels not computed", map[string]interface{}{
			"candle": index,
			"error":  err.Error(),
		})
	}
	p.RemainingDCALevels = levels
}

// Evaluate returns the DCA order to fill on candle index, or nil.
// All checks run in O(1) against the precomputed ladder.
func (d *DCAEngine) Evaluate(ctx context.Context, p *domain.Position, candles []domain.Candle, index int) *DCAOrder {
	if !d.config.PyramidingEnabled || p.DCACount() >= d.config.PyramidingLimit {
		return nil
	}
	c := candles[index]
	if len(p.RemainingDCALevels) == 0 && d.config.PyramidingEntryType == domain.DCAModeATRMultiple {
		d.Refresh(ctx, p, c, index)
	}
	if len(p.RemainingDCALevels) == 0 {
		return nil
	}

	level := p.RemainingDCALevels[0]
	if !PriceConditionMet(c, level, p.Side) {
		return nil
	}

	if d.config.UseRSIWithPyramiding {
		if c.RSI == nil {
			d.logMissing(ctx, &MissingIndicatorError{Indicator: "rsi", CandleIndex: index})
			return nil
		}
		if !RSIConditionMet(*c.RSI, p.Side, d.config.RSIOversold, d.config.RSIOverbought) {
			return nil
		}
	}

	if d.config.UseTrendLogic {
		if c.EMA == nil || c.SMA == nil {
			d.logMissing(ctx, &MissingIndicatorError{Indicator: "ema/sma", CandleIndex: index})
			return nil
		}
		if !TrendConditionMet(*c.EMA, *c.SMA, p.Side, d.config.TrendThresholdPercent) {
			return nil
		}
	}

	dcaIndex := p.DCACount() + 1
	return &DCAOrder{
		Level:      level,
		Investment: EntrySize(p.Entries[0].Investment, d.config.EntryMultiplier, dcaIndex),
		DCAIndex:   dcaIndex,
	}
}

func (d *DCAEngine) logMissing(ctx context.Context, err *MissingIndicatorError) {
	d.logger.Warn(ctx, "DCA condition skipped", map[string]interface{}{
		"candle":    err.CandleIndex,
		"indicator": err.Indicator,
	})
}
