package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.ResultRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/backtests.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY between goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Debug(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		candle_count INTEGER NOT NULL,
		initial_balance REAL NOT NULL,
		final_balance REAL NOT NULL,
		total_pnl REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		trade_count INTEGER NOT NULL,
		position_count INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		config_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS backtest_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		trade_number INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		entry_fee REAL NOT NULL,
		exit_fee REAL NOT NULL,
		dca_count INTEGER NOT NULL,
		entry_history TEXT NOT NULL,
		total_investment REAL NOT NULL,
		is_partial_exit INTEGER NOT NULL,
		tp_level INTEGER NULL,
		exit_ratio REAL NULL,
		remaining_quantity REAL NULL
	);

	CREATE TABLE IF NOT EXISTS equity_points (
		run_id TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		balance REAL NOT NULL,
		drawdown_percent REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_backtest_runs_started_at ON backtest_runs (started_at);
	CREATE INDEX IF NOT EXISTS idx_backtest_trades_run_seq ON backtest_trades (run_id, seq);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("%w: failed to execute schema initialization: %v", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Debug(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- ResultRepository Implementation ---

// SaveRun stores a run, its trades and its equity curve in one transaction.
func (r *Repository) SaveRun(ctx context.Context, run *ports.RunRecord, trades []domain.Trade, equity []domain.EquityPoint) (err error) {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run ID is required", ports.ErrInvalidRequest)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ports.ErrDBConnection, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const runQuery = `
	INSERT INTO backtest_runs (id, name, symbol, interval, started_at, candle_count, initial_balance,
	                           final_balance, total_pnl, max_drawdown, trade_count, position_count,
	                           win_rate, config_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	configJSON := run.ConfigJSON
	if configJSON == "" {
		configJSON = "{}"
	}
	if _, err = tx.ExecContext(ctx, runQuery,
		run.ID, run.Name, run.Symbol, run.Interval, run.StartedAt.UTC(), run.CandleCount, run.InitialBalance,
		run.FinalBalance, run.TotalPNL, run.MaxDrawdown, run.TradeCount, run.PositionCount,
		run.WinRate, configJSON); err != nil {
		return translateError(err, fmt.Sprintf("insert run %s", run.ID))
	}

	if err = insertTrades(ctx, tx, run.ID, trades); err != nil {
		return err
	}
	if err = insertEquity(ctx, tx, run.ID, equity); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit run %s: %v", ports.ErrQueryFailed, run.ID, err)
	}
	r.logger.Debug(ctx, "Backtest run saved", map[string]interface{}{
		"runID":  run.ID,
		"trades": len(trades),
		"equity": len(equity),
	})
	return nil
}

func insertTrades(ctx context.Context, tx *sql.Tx, runID string, trades []domain.Trade) error {
	const query = `
	INSERT INTO backtest_trades (run_id, seq, trade_number, symbol, side, entry_time, exit_time,
	                             entry_price, exit_price, exit_reason, quantity, leverage, pnl, pnl_percent,
	                             entry_fee, exit_fee, dca_count, entry_history, total_investment,
	                             is_partial_exit, tp_level, exit_ratio, remaining_quantity)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare trade insert: %v", ports.ErrQueryFailed, err)
	}
	defer stmt.Close()

	for i, t := range trades {
		history, err := json.Marshal(t.EntryHistory)
		if err != nil {
			return fmt.Errorf("failed to encode entry history of trade %d: %w", t.TradeNumber, err)
		}
		var tpLevel sql.NullInt64
		if t.TPLevel != domain.TPLevelNone {
			tpLevel = sql.NullInt64{Int64: int64(t.TPLevel), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			runID, i, t.TradeNumber, t.Symbol, t.Side.String(), t.EntryTime.UTC(), t.ExitTime.UTC(),
			t.EntryPrice, t.ExitPrice, t.ExitReason.String(), t.Quantity, t.Leverage, t.PNL, t.PNLPercent,
			t.EntryFee, t.ExitFee, t.DCACount, string(history), t.TotalInvestment,
			t.IsPartialExit, tpLevel, nullFloat(t.ExitRatio), nullFloat(t.RemainingQty)); err != nil {
			return translateError(err, fmt.Sprintf("insert trade %d of run %s", i, runID))
		}
	}
	return nil
}

func insertEquity(ctx context.Context, tx *sql.Tx, runID string, equity []domain.EquityPoint) error {
	const query = `INSERT INTO equity_points (run_id, seq, timestamp, balance, drawdown_percent) VALUES (?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare equity insert: %v", ports.ErrQueryFailed, err)
	}
	defer stmt.Close()

	for i, p := range equity {
		if _, err := stmt.ExecContext(ctx, runID, i, p.Timestamp.UTC(), p.Balance, p.DrawdownPercent); err != nil {
			return translateError(err, fmt.Sprintf("insert equity point %d of run %s", i, runID))
		}
	}
	return nil
}

const runColumns = `id, name, symbol, interval, started_at, candle_count, initial_balance, final_balance,
	total_pnl, max_drawdown, trade_count, position_count, win_rate, config_json`

// FindRuns retrieves the most recent runs, newest first.
func (r *Repository) FindRuns(ctx context.Context, limit int) ([]*ports.RunRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT ` + runColumns + ` FROM backtest_runs ORDER BY started_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query runs: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	runs := make([]*ports.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run during FindRuns: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// FindRunByID retrieves a run by its ID.
func (r *Repository) FindRunByID(ctx context.Context, id string) (*ports.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Run not found by ID", map[string]interface{}{"runID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("%w: failed to query run %s: %v", ports.ErrQueryFailed, id, err)
	}
	return run, nil
}

// FindTradesByRun retrieves the trades of a run in emission order.
func (r *Repository) FindTradesByRun(ctx context.Context, runID string) ([]domain.Trade, error) {
	const query = `
	SELECT trade_number, symbol, side, entry_time, exit_time, entry_price, exit_price, exit_reason,
	       quantity, leverage, pnl, pnl_percent, entry_fee, exit_fee, dca_count, entry_history,
	       total_investment, is_partial_exit, tp_level, exit_ratio, remaining_quantity
	FROM backtest_trades
	WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trades of run %s: %v", ports.ErrQueryFailed, runID, err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindTradesByRun: %w", err)
		}
		trades = append(trades, *trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// FindEquityByRun retrieves the equity curve of a run.
func (r *Repository) FindEquityByRun(ctx context.Context, runID string) ([]domain.EquityPoint, error) {
	const query = `SELECT timestamp, balance, drawdown_percent FROM equity_points WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query equity of run %s: %v", ports.ErrQueryFailed, runID, err)
	}
	defer rows.Close()

	points := make([]domain.EquityPoint, 0)
	for rows.Next() {
		var p domain.EquityPoint
		if err := rows.Scan(&p.Timestamp, &p.Balance, &p.DrawdownPercent); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		points = append(points, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity rows: %w", err)
	}
	return points, nil
}

// DeleteRun removes a run and, through the foreign keys, its trades and equity curve.
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete run %s: %v", ports.ErrQueryFailed, id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for delete run %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %s not found for delete: %w", id, ports.ErrNotFound)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*ports.RunRecord, error) {
	run := &ports.RunRecord{}
	err := s.Scan(
		&run.ID, &run.Name, &run.Symbol, &run.Interval, &run.StartedAt, &run.CandleCount,
		&run.InitialBalance, &run.FinalBalance, &run.TotalPNL, &run.MaxDrawdown,
		&run.TradeCount, &run.PositionCount, &run.WinRate, &run.ConfigJSON)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	return run, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, reason, history string
	var tpLevel sql.NullInt64
	var exitRatio, remaining sql.NullFloat64
	err := s.Scan(
		&t.TradeNumber, &t.Symbol, &side, &t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice, &reason,
		&t.Quantity, &t.Leverage, &t.PNL, &t.PNLPercent, &t.EntryFee, &t.ExitFee, &t.DCACount, &history,
		&t.TotalInvestment, &t.IsPartialExit, &tpLevel, &exitRatio, &remaining)
	if err != nil {
		return nil, err
	}

	if t.Side, err = domain.ParseSide(side); err != nil {
		return nil, err
	}
	if t.ExitReason, err = domain.ParseExitReason(reason); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &t.EntryHistory); err != nil {
		return nil, fmt.Errorf("failed to decode entry history: %w", err)
	}
	if tpLevel.Valid {
		t.TPLevel = domain.TPLevel(tpLevel.Int64)
	}
	if exitRatio.Valid {
		t.ExitRatio = domain.Float(exitRatio.Float64)
	}
	if remaining.Valid {
		t.RemainingQty = domain.Float(remaining.Float64)
	}
	return t, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// translateError maps constraint violations to ports.ErrDuplicateEntry.
func translateError(err error, op string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s: %v", ports.ErrDuplicateEntry, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ports.ErrQueryFailed, op, err)
}
