package backtesting

import (
	"context"
	"math"
	"time"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
)

// PositionManager owns the lifecycle of positions: open, add, partial and full close.
type PositionManager struct {
	config    *domain.StrategyConfig
	sim       *OrderSimulator
	dca       *DCAEngine
	logger    ports.Logger
	symbol    string
	leverage  int
	nextTrade int
}

// NewPositionManager creates a position manager for one run.
func NewPositionManager(config *domain.StrategyConfig, sim *OrderSimulator, dca *DCAEngine, logger ports.Logger, symbol string, leverage int) *PositionManager {
	return &PositionManager{
		config:   config,
		sim:      sim,
		dca:      dca,
		logger:   logger,
		symbol:   symbol,
		leverage: leverage,
	}
}

// TakeProfitPrice returns the price valuePercent away from avg in the side's favor.
func TakeProfitPrice(avg float64, side domain.Side, valuePercent float64) float64 {
	return avg * (1 + side.Sign()*valuePercent/100)
}

// StopLossPrice returns the price slPercent away from avg against the side; 0 disables the stop.
func StopLossPrice(avg float64, side domain.Side, slPercent float64) float64 {
	if slPercent <= 0 {
		return 0
	}
	return avg * (1 - side.Sign()*slPercent/100)
}

// Open creates a position from the initial entry fill.
// The signal's own TP/SL percentages are used only when every partial TP level is disabled.
func (m *PositionManager) Open(ctx context.Context, c domain.Candle, index int, signal *domain.Signal, fill Fill, investment float64) (*domain.Position, error) {
	if fill.Quantity <= domain.QuantityEpsilon || fill.Price <= 0 {
		return nil, invalidState("cannot open with quantity %v at price %v", fill.Quantity, fill.Price)
	}

	m.nextTrade++
	p := &domain.Position{
		Symbol:          m.symbol,
		Side:            signal.Side,
		Leverage:        m.leverage,
		StopLossPercent: m.config.StopLossPercent,
		TradeNumber:     m.nextTrade,
		OpenedAt:        c.Timestamp,
		OpenedIndex:     index,
	}
	p.AppendEntry(domain.EntryRecord{
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		Investment: investment,
		Timestamp:  fill.Timestamp,
		Reason:     domain.EntryReasonInitial,
	})
	p.BaseQuantity = fill.Quantity
	p.UnallocatedEntryFees = fill.Fee

	for i, level := range []domain.TPLevel{domain.TPLevel1, domain.TPLevel2, domain.TPLevel3} {
		tp := m.config.TakeProfit(level)
		p.TakeProfits[i] = domain.TakeProfitLevel{
			Level:   level,
			Enabled: tp.Enabled,
			Value:   tp.Value,
			Ratio:   tp.Ratio,
		}
	}
	if !m.config.AnyTakeProfitEnabled() {
		if signal.TakeProfitPercent != nil && *signal.TakeProfitPercent > 0 {
			p.LegacyTakeProfitPercent = *signal.TakeProfitPercent
		}
		if signal.StopLossPercent != nil {
			p.StopLossPercent = *signal.StopLossPercent
		}
	}
	p.StopLossPrice = StopLossPrice(p.AverageEntryPrice, p.Side, p.StopLossPercent)

	if m.config.TrailingStopActive && !m.config.AnyTakeProfitEnabled() {
		activateTrailing(p, m.config, fill.Price, index)
	}

	m.dca.Refresh(ctx, p, c, index)

	m.logger.Debug(ctx, "Position opened", map[string]interface{}{
		"trade":    p.TradeNumber,
		"side":     p.Side.String(),
		"price":    fill.Price,
		"quantity": fill.Quantity,
		"stopLoss": p.StopLossPrice,
	})
	return p, checkPosition(p)
}

// AddEntry appends a DCA fill, recomputes the aggregates and refreshes the DCA ladder.
func (m *PositionManager) AddEntry(ctx context.Context, p *domain.Position, c domain.Candle, index int, fill Fill, investment float64) error {
	if !p.IsOpen() {
		return invalidState("add entry to a closed position")
	}
	if fill.Quantity <= domain.QuantityEpsilon || fill.Price <= 0 {
		return invalidState("cannot add quantity %v at price %v", fill.Quantity, fill.Price)
	}
	p.AppendEntry(domain.EntryRecord{
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		Investment: investment,
		Timestamp:  fill.Timestamp,
		Reason:     domain.EntryReasonDCA,
	})
	p.UnallocatedEntryFees += fill.Fee
	if !p.StopLossPinned {
		p.StopLossPrice = StopLossPrice(p.AverageEntryPrice, p.Side, p.StopLossPercent)
	}
	m.dca.Refresh(ctx, p, c, index)

	m.logger.Debug(ctx, "DCA entry filled", map[string]interface{}{
		"trade":   p.TradeNumber,
		"dca":     p.DCACount(),
		"price":   fill.Price,
		"average": p.AverageEntryPrice,
	})
	return checkPosition(p)
}

// PartialClose closes exitRatio (0..1) of the base quantity, capped at the remaining size.
func (m *PositionManager) PartialClose(ctx context.Context, p *domain.Position, exitRatio, exitPrice float64, ts time.Time, level domain.TPLevel) (domain.Trade, error) {
	qty := math.Min(exitRatio*p.BaseQuantity, p.RemainingQuantity())
	trade, err := m.close(ctx, p, qty, exitPrice, ts, level.ExitReason())
	if err != nil {
		return trade, err
	}
	trade.IsPartialExit = true
	trade.TPLevel = level
	ratio := exitRatio
	remaining := p.RemainingQuantity()
	trade.ExitRatio = &ratio
	trade.RemainingQty = &remaining
	return trade, nil
}

// FullClose closes everything that remains and marks the position closed.
func (m *PositionManager) FullClose(ctx context.Context, p *domain.Position, exitPrice float64, ts time.Time, reason domain.ExitReason) (domain.Trade, error) {
	return m.close(ctx, p, p.RemainingQuantity(), exitPrice, ts, reason)
}

func (m *PositionManager) close(ctx context.Context, p *domain.Position, qty, price float64, ts time.Time, reason domain.ExitReason) (domain.Trade, error) {
	remaining := p.RemainingQuantity()
	if p.TotalQuantity <= 0 || p.AverageEntryPrice <= 0 {
		return domain.Trade{}, invalidState("closing with total quantity %v and average %v", p.TotalQuantity, p.AverageEntryPrice)
	}
	if qty <= 0 || qty > remaining+domain.QuantityEpsilon {
		return domain.Trade{}, invalidState("closing %v with %v remaining", qty, remaining)
	}

	// Entry fees are charged to exits pro rata to the share of the open size being closed.
	entryFee := p.UnallocatedEntryFees
	if remaining-qty > domain.QuantityEpsilon {
		entryFee = p.UnallocatedEntryFees * qty / remaining
	}
	p.UnallocatedEntryFees -= entryFee
	exitFee := m.sim.Fee(price, qty)

	avg := p.AverageEntryPrice
	pnl := p.Side.Sign()*(price-avg)*qty*float64(p.Leverage) - entryFee - exitFee
	pnlPercent := p.Side.Sign() * (price - avg) / avg * 100

	p.RecordClose(qty)
	if !p.IsOpen() {
		p.ExitState = domain.ExitStateClosed
		p.UnallocatedEntryFees = 0
	}

	trade := domain.Trade{
		TradeNumber:     p.TradeNumber,
		Symbol:          p.Symbol,
		Side:            p.Side,
		EntryTime:       p.OpenedAt,
		ExitTime:        ts,
		EntryPrice:      avg,
		ExitPrice:       price,
		ExitReason:      reason,
		Quantity:        qty,
		Leverage:        p.Leverage,
		PNL:             pnl,
		PNLPercent:      pnlPercent,
		EntryFee:        entryFee,
		ExitFee:         exitFee,
		DCACount:        p.DCACount(),
		EntryHistory:    domain.CopyEntries(p.Entries),
		TotalInvestment: p.TotalInvestment,
	}

	m.logger.Debug(ctx, "Exit filled", map[string]interface{}{
		"trade":     p.TradeNumber,
		"reason":    reason.String(),
		"price":     price,
		"quantity":  qty,
		"pnl":       pnl,
		"remaining": p.RemainingQuantity(),
	})
	return trade, checkPosition(p)
}
