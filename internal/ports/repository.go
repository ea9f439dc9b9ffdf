package ports

import (
	"context"
	"time"

	"cryptoBacktest/internal/domain"
)

// RunRecord summarizes a persisted back-test run.
type RunRecord struct {
	ID             string
	Name           string
	Symbol         string
	Interval       string
	StartedAt      time.Time
	CandleCount    int
	InitialBalance float64
	FinalBalance   float64
	TotalPNL       float64
	MaxDrawdown    float64 // Percent
	TradeCount     int
	PositionCount  int
	WinRate        float64
	ConfigJSON     string
}

// ResultRepository persists completed back-test runs.
type ResultRepository interface {
	// SaveRun stores a run together with its trades and equity curve in one transaction.
	SaveRun(ctx context.Context, run *RunRecord, trades []domain.Trade, equity []domain.EquityPoint) error
	// FindRuns returns the most recent runs, newest first, up to limit.
	FindRuns(ctx context.Context, limit int) ([]*RunRecord, error)
	// FindRunByID returns a run by ID, or nil, nil if it does not exist.
	FindRunByID(ctx context.Context, id string) (*RunRecord, error)
	// FindTradesByRun returns the trades of a run ordered by their emission order.
	FindTradesByRun(ctx context.Context, runID string) ([]domain.Trade, error)
	// FindEquityByRun returns the equity curve of a run.
	FindEquityByRun(ctx context.Context, runID string) ([]domain.EquityPoint, error)
}
