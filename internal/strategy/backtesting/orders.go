package backtesting

import (
	"time"

	"github.com/shopspring/decimal"

	"cryptoBacktest/internal/domain"
)

// OrderAction is the exchange-side direction of a simulated order.
type OrderAction int

const (
	Buy OrderAction = iota
	Sell
)

// entryAction returns the action that opens or adds to a position of the given side.
func entryAction(side domain.Side) OrderAction {
	if side == domain.Short {
		return Sell
	}
	return Buy
}

// exitAction returns the action that reduces a position of the given side.
func exitAction(side domain.Side) OrderAction {
	if side == domain.Short {
		return Buy
	}
	return Sell
}

// Direction is the direction in which price must move through a trigger level.
type Direction int

const (
	CrossDown Direction = iota // low <= level
	CrossUp                    // high >= level
)

// favorable is the direction in which price moves in favor of the side (take profits).
func favorable(side domain.Side) Direction {
	if side == domain.Short {
		return CrossDown
	}
	return CrossUp
}

// adverse is the direction in which price moves against the side (stops, DCA levels).
func adverse(side domain.Side) Direction {
	if side == domain.Short {
		return CrossUp
	}
	return CrossDown
}

// Fill is a realized simulated order.
type Fill struct {
	Price     float64
	Quantity  float64
	Fee       float64
	Timestamp time.Time
}

// OrderSimulator turns order intents into fills against candle ranges.
// Fees are charged on notional (price × quantity); leverage only affects margin.
type OrderSimulator struct {
	FeeRate         float64 // e.g. 0.0004 for 0.04%
	SlippagePercent float64 // Applied against the trader on market fills only
	QuantityStep    float64 // Lot size; 0 disables rounding
	PriceTick       float64 // Price tick; 0 disables rounding
}

// Crossed reports whether the candle's range reached level in the given direction.
// A candle that gaps through the level counts as crossed.
func (s *OrderSimulator) Crossed(c domain.Candle, level float64, dir Direction) bool {
	if level <= 0 {
		return false
	}
	if dir == CrossDown {
		return c.Low <= level
	}
	return c.High >= level
}

// StopFillPrice returns the price a protective stop at level executes at. It is the
// level when the candle traded through it, and the open when the whole candle gapped past it.
func (s *OrderSimulator) StopFillPrice(c domain.Candle, level float64, dir Direction) float64 {
	if dir == CrossDown && c.High < level {
		return c.Open
	}
	if dir == CrossUp && c.Low > level {
		return c.Open
	}
	return level
}

// FillMarket fills qty at the candle close, moved against the trader by the slippage.
func (s *OrderSimulator) FillMarket(c domain.Candle, action OrderAction, qty float64) (Fill, bool) {
	price := c.Close
	if s.SlippagePercent > 0 {
		if action == Buy {
			price *= 1 + s.SlippagePercent/100
		} else {
			price *= 1 - s.SlippagePercent/100
		}
	}
	price = s.roundPrice(price, action)
	if price <= 0 || qty <= domain.QuantityEpsilon {
		return Fill{}, false
	}
	return Fill{Price: price, Quantity: qty, Fee: s.Fee(price, qty), Timestamp: c.Timestamp}, true
}

// FillTrigger fills qty at the trigger level itself if the candle crossed it.
// Returns false (no fill) when the level was not reached; that is not an error.
func (s *OrderSimulator) FillTrigger(c domain.Candle, level float64, dir Direction, qty float64) (Fill, bool) {
	if !s.Crossed(c, level, dir) || qty <= domain.QuantityEpsilon {
		return Fill{}, false
	}
	return Fill{Price: level, Quantity: qty, Fee: s.Fee(level, qty), Timestamp: c.Timestamp}, true
}

// Fee returns the fee charged on a fill.
func (s *OrderSimulator) Fee(price, qty float64) float64 {
	return price * qty * s.FeeRate
}

// EntryQuantity converts a quote-currency investment into a quantity at price,
// rounded down to the lot step. Returns 0 when the step swallows the whole amount.
func (s *OrderSimulator) EntryQuantity(investment, price float64) float64 {
	if price <= 0 || investment <= 0 {
		return 0
	}
	qty := investment / price
	if s.QuantityStep <= 0 {
		return qty
	}
	step := decimal.NewFromFloat(s.QuantityStep)
	rounded := decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
	f, _ := rounded.Float64()
	return f
}

// roundPrice rounds a market price to the tick, against the trader.
func (s *OrderSimulator) roundPrice(price float64, action OrderAction) float64 {
	if s.PriceTick <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(s.PriceTick)
	units := decimal.NewFromFloat(price).Div(tick)
	if action == Buy {
		units = units.Ceil()
	} else {
		units = units.Floor()
	}
	f, _ := units.Mul(tick).Float64()
	return f
}
