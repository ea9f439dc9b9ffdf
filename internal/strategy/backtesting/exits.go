package backtesting

import (
	"context"
	"math"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
)

// ExitStateMachine evaluates the exits of an open position once per candle.
//
// Priority within a candle is fixed: partial TP levels (TP1, TP2, TP3) or the single
// legacy TP, then the stop-loss, then trailing-stop activation, then trailing-stop
// tracking and trigger. The stop-loss is checked at the price it had when the candle
// opened; a break-even relocation made by a TP fill applies from the next candle.
type ExitStateMachine struct {
	config    *domain.StrategyConfig
	sim       *OrderSimulator
	positions *PositionManager
	logger    ports.Logger
}

// NewExitStateMachine creates the exit evaluator for one run.
func NewExitStateMachine(config *domain.StrategyConfig, sim *OrderSimulator, positions *PositionManager, logger ports.Logger) *ExitStateMachine {
	return &ExitStateMachine{config: config, sim: sim, positions: positions, logger: logger}
}

// Evaluate runs the exit checks for candle index and returns the trades it produced.
// Nothing is evaluated on the candle the position was opened on.
func (m *ExitStateMachine) Evaluate(ctx context.Context, p *domain.Position, c domain.Candle, index int) ([]domain.Trade, error) {
	if !p.IsOpen() || index <= p.OpenedIndex {
		return nil, nil
	}

	var trades []domain.Trade
	stopAtOpen := p.StopLossPrice
	activateAt := 0.0

	// (1) take profits
	if p.LegacyTakeProfitPercent > 0 {
		price := TakeProfitPrice(p.AverageEntryPrice, p.Side, p.LegacyTakeProfitPercent)
		if m.sim.Crossed(c, price, favorable(p.Side)) {
			trade, err := m.positions.FullClose(ctx, p, price, c.Timestamp, domain.ExitReasonTakeProfit)
			return append(trades, trade), err
		}
	}
	for i := range p.TakeProfits {
		tp := &p.TakeProfits[i]
		if !tp.Enabled || tp.Consumed {
			continue
		}
		price := TakeProfitPrice(p.AverageEntryPrice, p.Side, tp.Value)
		if !m.sim.Crossed(c, price, favorable(p.Side)) {
			break
		}
		tp.Consumed = true
		tp.FillPrice = price

		// The start-point level hands its share to the trailing stop instead of closing it.
		if m.config.TrailingStopActive && tp.Level == m.config.TrailingStartPoint && !p.Trailing.Active {
			activateAt = price
			if m.config.BreakEvenEnabled(tp.Level) {
				m.moveToBreakEven(ctx, p, tp.Level)
			}
			continue
		}

		ratio := math.Min(tp.Ratio, 100-p.ClosedRatio)
		if ratio <= 0 {
			continue
		}
		p.ClosedRatio += ratio
		trade, err := m.positions.PartialClose(ctx, p, ratio/100, price, c.Timestamp, tp.Level)
		trades = append(trades, trade)
		if err != nil || !p.IsOpen() {
			return trades, err
		}
		if !p.Trailing.Active {
			p.ExitState = doneState(tp.Level)
		}
		if m.config.BreakEvenEnabled(tp.Level) {
			m.moveToBreakEven(ctx, p, tp.Level)
		}
	}

	// (2) stop-loss
	if stopAtOpen > 0 && m.sim.Crossed(c, stopAtOpen, adverse(p.Side)) {
		price := m.sim.StopFillPrice(c, stopAtOpen, adverse(p.Side))
		trade, err := m.positions.FullClose(ctx, p, price, c.Timestamp, domain.ExitReasonStopLoss)
		return append(trades, trade), err
	}

	// (3) trailing activation
	if activateAt > 0 {
		activateTrailing(p, m.config, activateAt, index)
		m.logger.Debug(ctx, "Trailing stop activated", map[string]interface{}{
			"trade":   p.TradeNumber,
			"extreme": p.Trailing.ExtremePrice,
			"stop":    p.Trailing.StopPrice,
		})
		return trades, nil
	}

	// (4) trailing tracking and trigger
	if p.Trailing.Active && index > p.Trailing.ActivatedIndex {
		updateTrailing(p, m.config, c)
		if m.sim.Crossed(c, p.Trailing.StopPrice, adverse(p.Side)) {
			price := m.sim.StopFillPrice(c, p.Trailing.StopPrice, adverse(p.Side))
			trade, err := m.positions.FullClose(ctx, p, price, c.Timestamp, domain.ExitReasonTrailingStop)
			return append(trades, trade), err
		}
	}

	return trades, nil
}

// moveToBreakEven relocates the stop to the anchor of a consumed level:
// TP1 to the average entry, TP2 to the TP1 price, TP3 to the TP2 price.
// The stop only ever tightens.
func (m *ExitStateMachine) moveToBreakEven(ctx context.Context, p *domain.Position, level domain.TPLevel) {
	var anchor float64
	switch level {
	case domain.TPLevel1:
		anchor = p.AverageEntryPrice
	case domain.TPLevel2:
		anchor = levelPrice(p, domain.TPLevel1)
	case domain.TPLevel3:
		anchor = levelPrice(p, domain.TPLevel2)
	}
	if anchor <= 0 {
		return
	}
	if p.StopLossPrice > 0 {
		if p.Side == domain.Long {
			anchor = math.Max(anchor, p.StopLossPrice)
		} else {
			anchor = math.Min(anchor, p.StopLossPrice)
		}
	}
	p.StopLossPrice = anchor
	p.StopLossPinned = true
	m.logger.Debug(ctx, "Stop moved to break-even", map[string]interface{}{
		"trade": p.TradeNumber,
		"level": level.String(),
		"stop":  anchor,
	})
}

// levelPrice is the fill price of a consumed level, or its current price otherwise.
func levelPrice(p *domain.Position, level domain.TPLevel) float64 {
	tp := p.TakeProfits[level-1]
	if tp.Consumed {
		return tp.FillPrice
	}
	return TakeProfitPrice(p.AverageEntryPrice, p.Side, tp.Value)
}

func doneState(level domain.TPLevel) domain.ExitState {
	switch level {
	case domain.TPLevel1:
		return domain.ExitStateTP1Done
	case domain.TPLevel2:
		return domain.ExitStateTP2Done
	default:
		return domain.ExitStateTP3Done
	}
}

// activateTrailing arms the trailing stop at price on candle index.
func activateTrailing(p *domain.Position, config *domain.StrategyConfig, price float64, index int) {
	p.Trailing = domain.TrailingStop{
		Active:         true,
		ExtremePrice:   price,
		ActivatedIndex: index,
	}
	if config.UseTrailingStopWithTP2TP3Distance {
		p.Trailing.FixedOffset = math.Abs(levelPrice(p, domain.TPLevel3) - levelPrice(p, domain.TPLevel2))
	}
	p.Trailing.StopPrice = price - p.Side.Sign()*trailingOffset(p, config)
	p.ExitState = domain.ExitStateTrailingActive
}

// updateTrailing moves the extreme with the candle and pulls the stop behind it.
// The stop never regresses.
func updateTrailing(p *domain.Position, config *domain.StrategyConfig, c domain.Candle) {
	t := &p.Trailing
	if p.Side == domain.Long {
		t.ExtremePrice = math.Max(t.ExtremePrice, c.High)
		t.StopPrice = math.Max(t.StopPrice, t.ExtremePrice-trailingOffset(p, config))
	} else {
		t.ExtremePrice = math.Min(t.ExtremePrice, c.Low)
		t.StopPrice = math.Min(t.StopPrice, t.ExtremePrice+trailingOffset(p, config))
	}
}

func trailingOffset(p *domain.Position, config *domain.StrategyConfig) float64 {
	if p.Trailing.FixedOffset > 0 {
		return p.Trailing.FixedOffset
	}
	return p.Trailing.ExtremePrice * config.TrailingStopOffsetValue / 100
}
