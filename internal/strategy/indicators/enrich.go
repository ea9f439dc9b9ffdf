package indicators

import "cryptoBacktest/internal/domain"

// EnrichConfig selects the indicator periods attached to candles. A zero period skips that indicator.
type EnrichConfig struct {
	RSIPeriod int
	ATRPeriod int
	EMAPeriod int
	SMAPeriod int
}

// Enrich returns a copy of candles with RSI, ATR, EMA and SMA precomputed.
// Candles that already carry a value keep it.
func Enrich(candles []domain.Candle, cfg EnrichConfig) []domain.Candle {
	out := make([]domain.Candle, len(candles))
	copy(out, candles)

	var rsi, atr, ema, sma []*float64
	if cfg.RSIPeriod > 0 {
		rsi = NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: cfg.RSIPeriod}}).Series(out)
	}
	if cfg.ATRPeriod > 0 {
		atr = NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: cfg.ATRPeriod}}).Series(out)
	}
	if cfg.EMAPeriod > 0 {
		ema = NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: cfg.EMAPeriod}, Type: ExponentialMovingAverage}).Series(out)
	}
	if cfg.SMAPeriod > 0 {
		sma = NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: cfg.SMAPeriod}, Type: SimpleMovingAverage}).Series(out)
	}

	for i := range out {
		out[i].RSI = pick(out[i].RSI, rsi, i)
		out[i].ATR = pick(out[i].ATR, atr, i)
		out[i].EMA = pick(out[i].EMA, ema, i)
		out[i].SMA = pick(out[i].SMA, sma, i)
	}
	return out
}

func pick(existing *float64, series []*float64, i int) *float64 {
	if existing != nil || series == nil {
		return existing
	}
	return series[i]
}
