package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"cryptoBacktest/config"
	"cryptoBacktest/internal/adapters/logger"
	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
	"cryptoBacktest/internal/strategy/backtesting"
	"cryptoBacktest/internal/strategy/indicators"
	"cryptoBacktest/internal/strategy/optimization"
	"cryptoBacktest/internal/strategy/strategies"
	"cryptoBacktest/internal/utils"
)

// BacktestService orchestrates a backtest: load candles, enrich them, run, persist.
type BacktestService struct {
	cfg      *config.Config
	logger   ports.Logger
	data     ports.DataProvider
	repo     ports.ResultRepository // Optional
	strategy ports.Strategy
	now      func() time.Time
}

// RunReport is the outcome of one persisted run.
type RunReport struct {
	RunID  string
	Name   string
	Result *backtesting.BacktestResult
}

// NewBacktestService creates a new application service instance. repo may be nil
// to skip persistence.
func NewBacktestService(
	cfg *config.Config,
	logger ports.Logger,
	data ports.DataProvider,
	repo ports.ResultRepository,
	strat ports.Strategy,
) (*BacktestService, error) {
	// Validate dependencies
	if cfg == nil || logger == nil || data == nil || strat == nil {
		return nil, fmt.Errorf("missing required dependencies for BacktestService")
	}
	if _, err := backtesting.NewEngine(cfg.BacktestConfig(), logger); err != nil {
		return nil, err
	}

	return &BacktestService{
		cfg:      cfg,
		logger:   logger,
		data:     data,
		repo:     repo,
		strategy: strat,
		now:      time.Now,
	}, nil
}

// NewStrategy builds the signal strategy selected by the configuration.
func NewStrategy(cfg *config.Config, log ports.Logger) (ports.Strategy, error) {
	switch cfg.StrategyName {
	case "rsi_reversal", "rsi":
		return strategies.NewRSIReversal(strategies.RSIReversalConfig{
			WarmUp:                cfg.WarmUp(),
			RSIOversold:           cfg.StrategyRSIOversold,
			RSIOverbought:         cfg.StrategyRSIOverbought,
			AllowShort:            cfg.AllowShort,
			UseTrendFilter:        cfg.UseTrendFilter,
			TrendThresholdPercent: cfg.Strategy.TrendThresholdPercent,
			StopLossPercent:       cfg.SignalStopLoss,
			TakeProfitPercent:     cfg.SignalTakeProfit,
			ExitOnOpposite:        cfg.ExitOnSignal,
		}, log)
	case "ma_crossover", "ma":
		return strategies.NewMACrossover(strategies.MACrossoverConfig{
			WarmUp:            cfg.WarmUp(),
			AllowShort:        cfg.AllowShort,
			StopLossPercent:   cfg.SignalStopLoss,
			TakeProfitPercent: cfg.SignalTakeProfit,
			ExitOnCross:       cfg.ExitOnSignal,
		}, log)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ports.ErrConfigurationError, cfg.StrategyName)
	}
}

// LoadCandles fetches the configured window and attaches the indicators.
func (s *BacktestService) LoadCandles(ctx context.Context) ([]domain.Candle, error) {
	candles, err := s.data.GetCandles(ctx, s.cfg.Symbol, s.cfg.Interval, s.cfg.StartTime, s.cfg.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s %s: %w", s.cfg.Symbol, s.cfg.Interval, err)
	}
	s.logger.Info(ctx, "Candles loaded", map[string]interface{}{
		"symbol":   s.cfg.Symbol,
		"interval": s.cfg.Interval,
		"count":    len(candles),
	})
	return indicators.Enrich(candles, s.cfg.EnrichConfig()), nil
}

// Run executes a single backtest over the configured window and persists it.
func (s *BacktestService) Run(ctx context.Context) (*RunReport, error) {
	candles, err := s.LoadCandles(ctx)
	if err != nil {
		return nil, err
	}
	return s.RunCandles(ctx, candles)
}

// RunCandles executes a single backtest over already enriched candles.
func (s *BacktestService) RunCandles(ctx context.Context, candles []domain.Candle) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), Name: s.strategy.Name()}
	ctx = logger.WithRunID(ctx, report.RunID)
	bc := s.cfg.BacktestConfig()

	result, err := backtesting.Backtest(ctx, s.strategy, candles, bc, s.logger)
	if err != nil {
		return nil, err
	}
	report.Result = result

	if err := s.persist(ctx, report, bc, nil); err != nil {
		return report, err
	}
	return report, nil
}

// Sweep runs the parameter grid over the configured window. Completed variants
// are persisted; failed variants are reported in their result only.
func (s *BacktestService) Sweep(ctx context.Context, ranges []optimization.ParameterRange) ([]optimization.OptimizationResult, error) {
	candles, err := s.LoadCandles(ctx)
	if err != nil {
		return nil, err
	}
	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: ranges,
		Base:            s.cfg.BacktestConfig(),
		Workers:         s.cfg.SweepWorkers,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	results, sweepErr := optimizer.Optimize(ctx, s.strategy, candles)
	for i := range results {
		if results[i].Err != nil {
			continue
		}
		report := &RunReport{
			RunID:  uuid.NewString(),
			Name:   fmt.Sprintf("%s sweep %s", s.strategy.Name(), optimization.FormatParameters(results[i].Parameters)),
			Result: results[i].Result,
		}
		if err := s.persist(logger.WithRunID(ctx, report.RunID), report, results[i].Config, results[i].Parameters); err != nil {
			return results, err
		}
	}
	return results, sweepErr
}

// Export writes the trade log and the equity curve of a run under dir.
func (s *BacktestService) Export(report *RunReport, dir string) (string, string, error) {
	if report == nil || report.Result == nil {
		return "", "", fmt.Errorf("%w: nothing to export", ports.ErrInvalidRequest)
	}
	prefix := fmt.Sprintf("%s_%s_%s", report.Result.Symbol, report.Result.Interval, shortID(report.RunID))
	tradesPath := filepath.Join(dir, prefix+"_trades.csv")
	equityPath := filepath.Join(dir, prefix+"_equity.csv")
	if err := utils.WriteTradesToCSV(report.Result.Trades, tradesPath); err != nil {
		return "", "", fmt.Errorf("failed to export trades: %w", err)
	}
	if err := utils.WriteEquityToCSV(report.Result.Equity, equityPath); err != nil {
		return "", "", fmt.Errorf("failed to export equity curve: %w", err)
	}
	return tradesPath, equityPath, nil
}

func (s *BacktestService) persist(ctx context.Context, report *RunReport, bc backtesting.BacktestConfig, params map[string]float64) error {
	if s.repo == nil {
		return nil
	}
	snapshot, err := json.Marshal(struct {
		Config     backtesting.BacktestConfig `json:"config"`
		Parameters map[string]float64         `json:"parameters,omitempty"`
	}{bc, params})
	if err != nil {
		return fmt.Errorf("failed to encode run configuration: %w", err)
	}

	res := report.Result
	run := &ports.RunRecord{
		ID:             report.RunID,
		Name:           report.Name,
		Symbol:         res.Symbol,
		Interval:       res.Interval,
		StartedAt:      s.now().UTC(),
		CandleCount:    res.CandleCount,
		InitialBalance: res.InitialBalance,
		FinalBalance:   res.FinalBalance,
		TradeCount:     len(res.Trades),
		PositionCount:  res.PositionsOpened,
		ConfigJSON:     string(snapshot),
	}
	if res.Metrics != nil {
		run.TotalPNL = res.Metrics.TotalProfit
		run.MaxDrawdown = res.Metrics.MaxDrawdown
		run.WinRate = res.Metrics.WinRate
	}
	if err := s.repo.SaveRun(ctx, run, res.Trades, res.Equity); err != nil {
		s.logger.Error(ctx, err, "Failed to persist backtest run", map[string]interface{}{"runID": run.ID})
		return fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}
	s.logger.Info(ctx, "Backtest run persisted", map[string]interface{}{"runID": run.ID, "name": run.Name})
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
