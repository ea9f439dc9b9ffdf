package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "backtest-repo-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleRun(id string, startedAt time.Time) *ports.RunRecord {
	return &ports.RunRecord{
		ID:             id,
		Name:           "rsi_reversal",
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		StartedAt:      startedAt,
		CandleCount:    500,
		InitialBalance: 10000,
		FinalBalance:   10250.5,
		TotalPNL:       250.5,
		MaxDrawdown:    3.2,
		TradeCount:     2,
		PositionCount:  1,
		WinRate:        1,
		ConfigJSON:     `{"leverage":3}`,
	}
}

func sampleTrades() []domain.Trade {
	history := []domain.EntryRecord{
		{Price: 100, Quantity: 10, Investment: 1000, Timestamp: testStart, Reason: domain.EntryReasonInitial},
		{Price: 97, Quantity: 10, Investment: 970, Timestamp: testStart.Add(2 * time.Hour), Reason: domain.EntryReasonDCA, EntryIndex: 1},
	}
	return []domain.Trade{
		{
			TradeNumber: 1, Symbol: "BTCUSDT", Side: domain.Long,
			EntryTime: testStart, ExitTime: testStart.Add(5 * time.Hour),
			EntryPrice: 98.5, ExitPrice: 100.47, ExitReason: domain.ExitReasonTP1,
			Quantity: 3, Leverage: 3, PNL: 17.73, PNLPercent: 2,
			DCACount: 1, EntryHistory: history, TotalInvestment: 1970,
			IsPartialExit: true, TPLevel: domain.TPLevel1,
			ExitRatio: domain.Float(0.3), RemainingQty: domain.Float(17),
		},
		{
			TradeNumber: 1, Symbol: "BTCUSDT", Side: domain.Long,
			EntryTime: testStart, ExitTime: testStart.Add(9 * time.Hour),
			EntryPrice: 98.5, ExitPrice: 99, ExitReason: domain.ExitReasonTrailingStop,
			Quantity: 17, Leverage: 3, PNL: 25.5, PNLPercent: 0.5, EntryFee: 0.2, ExitFee: 0.3,
			DCACount: 1, EntryHistory: history, TotalInvestment: 1970,
		},
	}
}

func sampleEquity() []domain.EquityPoint {
	return []domain.EquityPoint{
		{Timestamp: testStart, Balance: 10000},
		{Timestamp: testStart.Add(time.Hour), Balance: 9700, DrawdownPercent: 3},
		{Timestamp: testStart.Add(2 * time.Hour), Balance: 10250.5},
	}
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_SaveAndLoadRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	run := sampleRun("run-1", testStart)
	require.NoError(t, repo.SaveRun(ctx, run, sampleTrades(), sampleEquity()))

	got, err := repo.FindRunByID(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	got.StartedAt = run.StartedAt
	assert.Equal(t, run, got)

	missing, err := repo.FindRunByID(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_TradesRoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	want := sampleTrades()
	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-1", testStart), want, nil))

	got, err := repo.FindTradesByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	partial := got[0]
	assert.Equal(t, domain.ExitReasonTP1, partial.ExitReason)
	assert.Equal(t, domain.TPLevel1, partial.TPLevel)
	assert.True(t, partial.IsPartialExit)
	require.NotNil(t, partial.ExitRatio)
	assert.Equal(t, 0.3, *partial.ExitRatio)
	require.NotNil(t, partial.RemainingQty)
	assert.Equal(t, 17.0, *partial.RemainingQty)
	assert.True(t, want[0].ExitTime.Equal(partial.ExitTime))

	require.Len(t, partial.EntryHistory, 2)
	assert.Equal(t, domain.EntryReasonDCA, partial.EntryHistory[1].Reason)
	assert.Equal(t, 97.0, partial.EntryHistory[1].Price)
	assert.Equal(t, 1, partial.EntryHistory[1].EntryIndex)

	final := got[1]
	assert.Equal(t, domain.ExitReasonTrailingStop, final.ExitReason)
	assert.Equal(t, domain.TPLevelNone, final.TPLevel)
	assert.False(t, final.IsPartialExit)
	assert.Nil(t, final.ExitRatio)
	assert.Nil(t, final.RemainingQty)
	assert.Equal(t, 0.2, final.EntryFee)
	assert.Equal(t, 0.3, final.ExitFee)
}

func TestRepository_EquityRoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-1", testStart), nil, sampleEquity()))

	got, err := repo.FindEquityByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 9700.0, got[1].Balance)
	assert.Equal(t, 3.0, got[1].DrawdownPercent)
	assert.True(t, testStart.Add(2*time.Hour).Equal(got[2].Timestamp))

	empty, err := repo.FindEquityByRun(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepository_DuplicateRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-1", testStart), sampleTrades(), nil))
	err := repo.SaveRun(ctx, sampleRun("run-1", testStart), sampleTrades(), nil)
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	// The failed transaction left nothing behind.
	trades, err := repo.FindTradesByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestRepository_SaveRunRequiresID(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	err := repo.SaveRun(context.Background(), &ports.RunRecord{}, nil, nil)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestRepository_FindRuns(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.SaveRun(ctx, sampleRun(id, testStart.Add(time.Duration(i)*time.Hour)), nil, nil))
	}

	runs, err := repo.FindRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	all, err := repo.FindRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRepository_DeleteRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-1", testStart), sampleTrades(), sampleEquity()))
	require.NoError(t, repo.DeleteRun(ctx, "run-1"))

	trades, err := repo.FindTradesByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, trades)
	equity, err := repo.FindEquityByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, equity)

	assert.ErrorIs(t, repo.DeleteRun(ctx, "run-1"), ports.ErrNotFound)
}
