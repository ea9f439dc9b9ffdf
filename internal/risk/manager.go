package risk

import (
	"context"
	"fmt"
	"math"

	"cryptoBacktest/internal/ports"
)

// RiskConfig holds configuration for risk management
type RiskConfig struct {
	MaxLeverage         int
	MaxDrawdown         float64 // Fraction of peak equity (e.g. 0.25); 0 disables the guard
	PositionSizePercent float64 // Fraction of the balance committed by an initial entry
	FixedInvestment     float64 // Quote amount per initial entry; overrides PositionSizePercent when > 0
	MaxExposurePercent  float64 // Max committed margin as a fraction of the balance; 0 means 1.0
}

// RiskManager sizes entries and guards a run against excessive exposure and drawdown.
// A RiskManager belongs to a single run.
type RiskManager struct {
	config RiskConfig
	stats  *RiskStats
}

// RiskStats holds risk management statistics
type RiskStats struct {
	PeakEquity        float64
	CurrentDrawdown   float64
	MaxDrawdown       float64
	SkippedEntries    int
	SkippedDCAEntries int
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) *RiskManager {
	return &RiskManager{
		config: config,
		stats:  &RiskStats{},
	}
}

// ValidateLeverage checks the run leverage against the configured ceiling.
func (r *RiskManager) ValidateLeverage(leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("%w: leverage must be positive, got %d", ports.ErrConfigurationError, leverage)
	}
	if r.config.MaxLeverage > 0 && leverage > r.config.MaxLeverage {
		return fmt.Errorf("%w: leverage %d exceeds maximum allowed %d", ports.ErrConfigurationError, leverage, r.config.MaxLeverage)
	}
	return nil
}

// GetInitialInvestment returns the margin committed by a new position's first entry.
func (r *RiskManager) GetInitialInvestment(ctx context.Context, accountBalance float64) float64 {
	if r.config.FixedInvestment > 0 {
		return r.config.FixedInvestment
	}
	return math.Max(accountBalance*r.config.PositionSizePercent, 0)
}

// ValidateEntry checks that adding investment to the committed margin stays within the exposure limit.
func (r *RiskManager) ValidateEntry(ctx context.Context, investment, committed, accountBalance float64) error {
	if investment <= 0 {
		return fmt.Errorf("investment %f must be positive", investment)
	}
	limit := r.config.MaxExposurePercent
	if limit <= 0 {
		limit = 1
	}
	if committed+investment > accountBalance*limit {
		return fmt.Errorf("total investment %f would exceed allowed exposure %f", committed+investment, accountBalance*limit)
	}
	return nil
}

// UpdateEquity records an equity sample and returns the drawdown from the peak as a fraction.
func (r *RiskManager) UpdateEquity(equity float64) float64 {
	if equity > r.stats.PeakEquity {
		r.stats.PeakEquity = equity
	}
	r.stats.CurrentDrawdown = 0
	if r.stats.PeakEquity > 0 {
		r.stats.CurrentDrawdown = (r.stats.PeakEquity - equity) / r.stats.PeakEquity
	}
	r.stats.MaxDrawdown = math.Max(r.stats.MaxDrawdown, r.stats.CurrentDrawdown)
	return r.stats.CurrentDrawdown
}

// CheckRiskLimits reports whether new positions may be opened.
func (r *RiskManager) CheckRiskLimits(ctx context.Context) error {
	if r.config.MaxDrawdown > 0 && r.stats.CurrentDrawdown > r.config.MaxDrawdown {
		return fmt.Errorf("current drawdown %f exceeds maximum allowed %f", r.stats.CurrentDrawdown, r.config.MaxDrawdown)
	}
	return nil
}

// RecordSkip counts an entry refused by the risk checks.
func (r *RiskManager) RecordSkip(dca bool) {
	if dca {
		r.stats.SkippedDCAEntries++
		return
	}
	r.stats.SkippedEntries++
}

// GetStats returns the current risk management statistics
func (r *RiskManager) GetStats() RiskStats {
	return *r.stats
}
