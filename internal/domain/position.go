package domain

import (
	"fmt"
	"math"
	"time"
)

// priceTolerance is the relative slack allowed between the average entry price and the entry range.
const priceTolerance = 1e-12

// EntryRecord is a single fill that added to a position.
type EntryRecord struct {
	Price      float64     `json:"price"`
	Quantity   float64     `json:"quantity"`
	Investment float64     `json:"investment"` // Quote-currency amount committed
	Timestamp  time.Time   `json:"timestamp"`
	Reason     EntryReason `json:"reason"`
	EntryIndex int         `json:"entry_index"` // 0 = initial entry
}

// TakeProfitLevel is the per-position state of one partial take-profit level.
type TakeProfitLevel struct {
	Level     TPLevel `json:"level"`
	Enabled   bool    `json:"enabled"`
	Value     float64 `json:"value"` // Distance from the average entry, in percent
	Ratio     float64 `json:"ratio"` // Share of the base quantity to close, in percent
	Consumed  bool    `json:"consumed"`
	FillPrice float64 `json:"fill_price,omitempty"`
}

// TrailingStop is the trailing-stop sub-state of a position.
type TrailingStop struct {
	Active         bool    `json:"active"`
	ExtremePrice   float64 `json:"extreme_price"`
	StopPrice      float64 `json:"stop_price"`
	FixedOffset    float64 `json:"fixed_offset,omitempty"` // Non-zero when the offset was frozen at activation
	ActivatedIndex int     `json:"activated_index"`
}

// Position represents an open leveraged position built from one or more entries.
// Derived aggregates are maintained incrementally by AppendEntry and RecordClose.
type Position struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Leverage int    `json:"leverage"`

	Entries           []EntryRecord `json:"entries"`
	AverageEntryPrice float64       `json:"average_entry_price"`
	TotalQuantity     float64       `json:"total_quantity"`
	TotalInvestment   float64       `json:"total_investment"`
	notional          float64

	// BaseQuantity is the size TP ratios are measured against. Frozen at the initial entry.
	BaseQuantity   float64 `json:"base_quantity"`
	ClosedQuantity float64 `json:"closed_quantity"`
	ClosedRatio    float64 `json:"closed_ratio"` // Percent of BaseQuantity closed by TP levels

	RemainingDCALevels []float64 `json:"remaining_dca_levels"`

	TakeProfits             [3]TakeProfitLevel `json:"take_profits"`
	LegacyTakeProfitPercent float64            `json:"legacy_take_profit_percent,omitempty"`
	StopLossPercent         float64            `json:"stop_loss_percent"`
	StopLossPrice           float64            `json:"stop_loss_price"`
	StopLossPinned          bool               `json:"stop_loss_pinned"` // Set once a break-even relocation moved the stop
	Trailing                TrailingStop       `json:"trailing"`
	ExitState               ExitState          `json:"exit_state"`

	// UnallocatedEntryFees is the part of the entry fees not yet charged to an exit.
	UnallocatedEntryFees float64 `json:"unallocated_entry_fees"`

	TradeNumber int       `json:"trade_number"`
	OpenedAt    time.Time `json:"opened_at"`
	OpenedIndex int       `json:"opened_index"`
}

// DCACount returns the number of DCA entries appended after the initial entry.
func (p *Position) DCACount() int {
	if len(p.Entries) == 0 {
		return 0
	}
	return len(p.Entries) - 1
}

// RemainingQuantity returns the open size of the position.
func (p *Position) RemainingQuantity() float64 {
	return p.TotalQuantity - p.ClosedQuantity
}

// IsOpen reports whether the position still holds quantity above epsilon.
func (p *Position) IsOpen() bool {
	return len(p.Entries) > 0 && p.RemainingQuantity() > QuantityEpsilon
}

// LastEntry returns the most recent entry record.
func (p *Position) LastEntry() EntryRecord {
	return p.Entries[len(p.Entries)-1]
}

// AppendEntry appends a fill and updates the running aggregates.
func (p *Position) AppendEntry(rec EntryRecord) {
	rec.EntryIndex = len(p.Entries)
	p.Entries = append(p.Entries, rec)
	p.notional += rec.Price * rec.Quantity
	p.TotalQuantity += rec.Quantity
	p.TotalInvestment += rec.Investment
	if p.TotalQuantity > 0 {
		p.AverageEntryPrice = p.notional / p.TotalQuantity
	}
}

// RecordClose marks qty as closed. Callers must have capped qty at RemainingQuantity.
func (p *Position) RecordClose(qty float64) {
	p.ClosedQuantity += qty
	if p.RemainingQuantity() <= QuantityEpsilon {
		p.ClosedQuantity = p.TotalQuantity
	}
}

func (p *Position) entryPriceRange() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, e := range p.Entries {
		lo = math.Min(lo, e.Price)
		hi = math.Max(hi, e.Price)
	}
	return lo, hi
}

// CheckInvariants verifies the structural invariants of the position.
func (p *Position) CheckInvariants() error {
	if len(p.Entries) == 0 {
		return fmt.Errorf("position has no entries")
	}
	var sum float64
	for _, e := range p.Entries {
		sum += e.Quantity
	}
	if math.Abs(sum-p.TotalQuantity) > QuantityEpsilon {
		return fmt.Errorf("total quantity %v does not match entry sum %v", p.TotalQuantity, sum)
	}
	if p.TotalQuantity <= 0 {
		return fmt.Errorf("total quantity %v is not positive", p.TotalQuantity)
	}
	// Rounding may leave the average a few ulps outside the range.
	lo, hi := p.entryPriceRange()
	tol := hi * priceTolerance
	if p.AverageEntryPrice < lo-tol || p.AverageEntryPrice > hi+tol {
		return fmt.Errorf("average entry price %v outside entry range [%v, %v]", p.AverageEntryPrice, lo, hi)
	}
	if p.RemainingQuantity() < -QuantityEpsilon {
		return fmt.Errorf("remaining quantity %v is negative", p.RemainingQuantity())
	}
	return nil
}

// Clone returns a deep copy; the copy shares no slices with p.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.Entries = CopyEntries(p.Entries)
	if p.RemainingDCALevels != nil {
		c.RemainingDCALevels = append([]float64(nil), p.RemainingDCALevels...)
	}
	return &c
}

// CopyEntries returns a deep copy of an entry history.
func CopyEntries(entries []EntryRecord) []EntryRecord {
	if entries == nil {
		return nil
	}
	out := make([]EntryRecord, len(entries))
	copy(out, entries)
	return out
}
