package backtesting

import (
	"context"
	"fmt"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
	"cryptoBacktest/internal/risk"
	"cryptoBacktest/internal/strategy/analytics"
)

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	Symbol       string
	Interval     string
	Leverage     int
	InitialFunds float64

	// Sizing and guards (see risk.RiskConfig)
	PositionSizePercent float64 // Fraction of the balance per initial entry
	FixedInvestment     float64 // Overrides PositionSizePercent when > 0
	MaxLeverage         int
	MaxDrawdown         float64 // Fraction; new positions are not opened beyond it
	MaxExposurePercent  float64

	// Order simulation
	FeeRate         float64
	SlippagePercent float64
	QuantityStep    float64
	PriceTick       float64

	Strategy domain.StrategyConfig
}

// BacktestResult holds the results of a completed run. It is immutable once returned.
type BacktestResult struct {
	Symbol          string
	Interval        string
	CandleCount     int
	InitialBalance  float64
	FinalBalance    float64 // Realized
	FinalEquity     float64 // Realized plus the open position marked at the last close
	PositionsOpened int
	Trades          []domain.Trade
	Equity          []domain.EquityPoint
	OpenPosition    *domain.Position // Snapshot of a position still open at the last candle
	Metrics         *analytics.PerformanceMetrics
	Risk            risk.RiskStats
}

// Engine is the per-candle driver. An Engine may be reused; each Run owns its own state.
type Engine struct {
	config BacktestConfig
	logger ports.Logger
}

// NewEngine validates the configuration and creates an engine.
func NewEngine(config BacktestConfig, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	if config.InitialFunds <= 0 {
		return nil, fmt.Errorf("%w: initial funds must be positive", ports.ErrConfigurationError)
	}
	if config.FeeRate < 0 || config.SlippagePercent < 0 {
		return nil, fmt.Errorf("%w: fee rate and slippage cannot be negative", ports.ErrConfigurationError)
	}
	if err := risk.NewRiskManager(config.riskConfig()).ValidateLeverage(config.Leverage); err != nil {
		return nil, err
	}
	if err := ValidateStrategyConfig(config.Strategy); err != nil {
		return nil, err
	}
	return &Engine{config: config, logger: logger}, nil
}

func (c BacktestConfig) riskConfig() risk.RiskConfig {
	return risk.RiskConfig{
		MaxLeverage:         c.MaxLeverage,
		MaxDrawdown:         c.MaxDrawdown,
		PositionSizePercent: c.PositionSizePercent,
		FixedInvestment:     c.FixedInvestment,
		MaxExposurePercent:  c.MaxExposurePercent,
	}
}

// Backtest runs a single backtest for a given strategy
func Backtest(ctx context.Context, strategy ports.Strategy, candles []domain.Candle, config BacktestConfig, logger ports.Logger) (*BacktestResult, error) {
	engine, err := NewEngine(config, logger)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, strategy, candles)
}

// run holds the mutable state of one run.
type run struct {
	cfg       *domain.StrategyConfig
	sim       *OrderSimulator
	dca       *DCAEngine
	positions *PositionManager
	exits     *ExitStateMachine
	risk      *risk.RiskManager

	balance  float64
	position *domain.Position
	trades   []domain.Trade
	equity   []domain.EquityPoint
	peak     float64
	opened   int
}

// Run simulates the strategy over candles. Candles are processed once, in order; the
// run either completes and returns a result or fails with a *RunError.
// ctx is passed to the strategy and the logger; cancellation is not checked mid-run.
func (e *Engine) Run(ctx context.Context, strategy ports.Strategy, candles []domain.Candle) (*BacktestResult, error) {
	if strategy == nil {
		return nil, fmt.Errorf("%w: strategy is required", ports.ErrInvalidRequest)
	}
	if len(candles) <= strategy.RequiredDataPoints() {
		return nil, fmt.Errorf("%w: %d candles, strategy %s needs more than %d", ports.ErrInsufficientData, len(candles), strategy.Name(), strategy.RequiredDataPoints())
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: candles not in ascending order at index %d", ports.ErrInvalidRequest, i)
		}
	}

	r := e.newRun()
	e.logger.Info(ctx, "Backtest started", map[string]interface{}{
		"strategy": strategy.Name(),
		"symbol":   e.config.Symbol,
		"candles":  len(candles),
		"leverage": e.config.Leverage,
	})

	for i := range candles {
		if err := e.step(ctx, r, strategy, candles, i); err != nil {
			runErr := &RunError{
				CandleIndex: i,
				Timestamp:   candles[i].Timestamp,
				Position:    r.position.Clone(),
				Err:         err,
			}
			e.logger.Error(ctx, runErr, "Backtest aborted", map[string]interface{}{
				"strategy": strategy.Name(),
				"candle":   i,
			})
			return nil, runErr
		}
	}

	result := e.buildResult(r, candles)
	e.logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"strategy":     strategy.Name(),
		"trades":       len(result.Trades),
		"positions":    result.PositionsOpened,
		"finalBalance": result.FinalBalance,
		"maxDrawdown":  result.Metrics.MaxDrawdown,
	})
	return result, nil
}

func (e *Engine) newRun() *run {
	cfg := e.config.Strategy
	sim := &OrderSimulator{
		FeeRate:         e.config.FeeRate,
		SlippagePercent: e.config.SlippagePercent,
		QuantityStep:    e.config.QuantityStep,
		PriceTick:       e.config.PriceTick,
	}
	dca := NewDCAEngine(&cfg, e.logger)
	positions := NewPositionManager(&cfg, sim, dca, e.logger, e.config.Symbol, e.config.Leverage)
	return &run{
		cfg:       &cfg,
		sim:       sim,
		dca:       dca,
		positions: positions,
		exits:     NewExitStateMachine(&cfg, sim, positions, e.logger),
		risk:      risk.NewRiskManager(e.config.riskConfig()),
		balance:   e.config.InitialFunds,
		peak:      e.config.InitialFunds,
	}
}

// step processes one candle: entry, exits, signal exit, DCA, equity.
func (e *Engine) step(ctx context.Context, r *run, strategy ports.Strategy, candles []domain.Candle, i int) error {
	c := candles[i]

	// (a) entry
	if r.position == nil && i >= strategy.RequiredDataPoints() {
		if err := e.tryOpen(ctx, r, strategy, candles, i); err != nil {
			return err
		}
	}

	if r.position != nil && i > r.position.OpenedIndex {
		// (b) exits
		trades, err := r.exits.Evaluate(ctx, r.position, c, i)
		r.record(trades)
		if err != nil {
			return err
		}

		// signal exit
		if r.position.IsOpen() && strategy.ShouldClosePosition(ctx, r.position, candles, i) {
			if fill, ok := r.sim.FillMarket(c, exitAction(r.position.Side), r.position.RemainingQuantity()); ok {
				trade, err := r.positions.FullClose(ctx, r.position, fill.Price, c.Timestamp, domain.ExitReasonSignal)
				r.record([]domain.Trade{trade})
				if err != nil {
					return err
				}
			}
		}

		// (c) DCA
		if r.position.IsOpen() {
			if err := e.tryDCA(ctx, r, candles, i); err != nil {
				return err
			}
		}

		if !r.position.IsOpen() {
			r.position = nil
		}
	}

	// (d) equity
	r.markEquity(c)
	return nil
}

func (e *Engine) tryOpen(ctx context.Context, r *run, strategy ports.Strategy, candles []domain.Candle, i int) error {
	signal := strategy.EntrySignal(ctx, candles, i)
	if signal == nil {
		return nil
	}
	if limitErr := r.risk.CheckRiskLimits(ctx); limitErr != nil {
		r.risk.RecordSkip(false)
		e.logger.Debug(ctx, "Entry skipped", map[string]interface{}{"candle": i, "reason": limitErr.Error()})
		return nil
	}
	investment := r.risk.GetInitialInvestment(ctx, r.balance)
	if limitErr := r.risk.ValidateEntry(ctx, investment, 0, r.balance); limitErr != nil {
		r.risk.RecordSkip(false)
		e.logger.Debug(ctx, "Entry skipped", map[string]interface{}{"candle": i, "reason": limitErr.Error()})
		return nil
	}
	c := candles[i]
	qty := r.sim.EntryQuantity(investment, c.Close)
	fill, ok := r.sim.FillMarket(c, entryAction(signal.Side), qty)
	if !ok {
		return nil
	}
	position, err := r.positions.Open(ctx, c, i, signal, fill, investment)
	if err != nil {
		return err
	}
	r.position = position
	r.opened++
	return nil
}

func (e *Engine) tryDCA(ctx context.Context, r *run, candles []domain.Candle, i int) error {
	order := r.dca.Evaluate(ctx, r.position, candles, i)
	if order == nil {
		return nil
	}
	if limitErr := r.risk.ValidateEntry(ctx, order.Investment, r.position.TotalInvestment, r.balance); limitErr != nil {
		r.risk.RecordSkip(true)
		e.logger.Debug(ctx, "DCA skipped", map[string]interface{}{"candle": i, "reason": limitErr.Error()})
		return nil
	}
	qty := r.sim.EntryQuantity(order.Investment, order.Level)
	fill, ok := r.sim.FillTrigger(candles[i], order.Level, adverse(r.position.Side), qty)
	if !ok {
		return nil
	}
	return r.positions.AddEntry(ctx, r.position, candles[i], i, fill, order.Investment)
}

func (r *run) record(trades []domain.Trade) {
	for _, t := range trades {
		r.balance += t.PNL
		r.trades = append(r.trades, t)
	}
}

// markEquity appends the equity point of the candle and feeds the drawdown guard.
func (r *run) markEquity(c domain.Candle) {
	value := r.balance + r.unrealized(c.Close)
	if value > r.peak {
		r.peak = value
	}
	drawdown := 0.0
	if r.peak > 0 {
		drawdown = (r.peak - value) / r.peak * 100
	}
	r.equity = append(r.equity, domain.EquityPoint{
		Timestamp:       c.Timestamp,
		Balance:         value,
		DrawdownPercent: drawdown,
	})
	r.risk.UpdateEquity(value)
}

// unrealized marks the open position at price, net of the entry fees not yet charged.
func (r *run) unrealized(price float64) float64 {
	p := r.position
	if p == nil || !p.IsOpen() {
		return 0
	}
	return p.Side.Sign()*(price-p.AverageEntryPrice)*p.RemainingQuantity()*float64(p.Leverage) - p.UnallocatedEntryFees
}

func (e *Engine) buildResult(r *run, candles []domain.Candle) *BacktestResult {
	last := candles[len(candles)-1]
	result := &BacktestResult{
		Symbol:          e.config.Symbol,
		Interval:        e.config.Interval,
		CandleCount:     len(candles),
		InitialBalance:  e.config.InitialFunds,
		FinalBalance:    r.balance,
		FinalEquity:     r.balance + r.unrealized(last.Close),
		PositionsOpened: r.opened,
		Trades:          r.trades,
		Equity:          r.equity,
		OpenPosition:    r.position.Clone(),
		Risk:            r.risk.GetStats(),
	}
	if result.Trades == nil {
		result.Trades = []domain.Trade{}
	}
	result.Metrics = analytics.AnalyzePerformance(result.Trades, result.Equity, e.config.InitialFunds)
	return result
}
