package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
	"cryptoBacktest/internal/strategy/analytics"
	"cryptoBacktest/internal/strategy/backtesting"

	"golang.org/x/sync/errgroup"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// Variant is one configuration of a sweep.
type Variant struct {
	Parameters map[string]float64
	Config     backtesting.BacktestConfig
}

// OptimizationResult holds the outcome of one variant. Exactly one of Result and Err is set.
type OptimizationResult struct {
	Parameters map[string]float64
	Config     backtesting.BacktestConfig
	Result     *backtesting.BacktestResult
	Metrics    *analytics.PerformanceMetrics
	Score      float64
	Err        error
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Base            backtesting.BacktestConfig
	Workers         int // Maximum concurrent runs, 0 or less means one
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
}

// Optimizer runs a grid of independent backtests on a bounded worker pool.
type Optimizer struct {
	config OptimizerConfig
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, logger ports.Logger) (*Optimizer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for optimizer")
	}
	for _, r := range config.ParameterRanges {
		if r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("%w: invalid range for %q (min %v, max %v, step %v)",
				ports.ErrConfigurationError, r.Name, r.Min, r.Max, r.Step)
		}
		if !isKnownParameter(r.Name) {
			return nil, fmt.Errorf("%w: unknown sweep parameter %q", ports.ErrConfigurationError, r.Name)
		}
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	return &Optimizer{config: config, logger: logger}, nil
}

// Variants expands the parameter ranges into concrete configurations.
func (o *Optimizer) Variants() ([]Variant, error) {
	combinations := o.generateParameterCombinations()
	variants := make([]Variant, 0, len(combinations))
	for _, params := range combinations {
		cfg := o.config.Base
		for _, r := range o.config.ParameterRanges {
			if err := ApplyParameter(&cfg, r.Name, params[r.Name]); err != nil {
				return nil, err
			}
		}
		variants = append(variants, Variant{Parameters: params, Config: cfg})
	}
	return variants, nil
}

// Optimize runs every variant of the grid. The strategy is shared between
// runs and must not keep per-run state.
func (o *Optimizer) Optimize(ctx context.Context, strategy ports.Strategy, candles []domain.Candle) ([]OptimizationResult, error) {
	variants, err := o.Variants()
	if err != nil {
		return nil, err
	}
	return o.Sweep(ctx, strategy, candles, variants)
}

// Sweep runs the given variants concurrently. A failing variant is reported in
// its own result and does not stop the others. Cancellation is checked before
// each run starts; variants that never started carry the context error.
// Results are sorted by descending score, failed variants last.
func (o *Optimizer) Sweep(ctx context.Context, strategy ports.Strategy, candles []domain.Candle, variants []Variant) ([]OptimizationResult, error) {
	results := make([]OptimizationResult, len(variants))

	g := new(errgroup.Group)
	g.SetLimit(o.config.Workers)
	for i, v := range variants {
		i, v := i, v
		results[i].Parameters = v.Parameters
		results[i].Config = v.Config
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
				return nil
			}
			res, err := backtesting.Backtest(ctx, strategy, candles, v.Config, o.logger)
			if err != nil {
				results[i].Err = err
				o.logger.Warn(ctx, "Sweep variant failed", map[string]interface{}{
					"parameters": FormatParameters(v.Parameters),
					"error":      err.Error(),
				})
				return nil
			}
			results[i].Result = res
			results[i].Metrics = res.Metrics
			results[i].Score = o.config.ScoreFunction(res.Metrics)
			return nil
		})
	}
	// Workers never return errors; failures are per-variant.
	_ = g.Wait()

	sortResultsByScore(results)

	completed := 0
	for _, r := range results {
		if r.Err == nil {
			completed++
		}
	}
	o.logger.Info(ctx, "Sweep finished", map[string]interface{}{
		"variants":  len(variants),
		"completed": completed,
	})
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}
	return results, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	current := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(current))
			for k, v := range current {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		steps := int(math.Floor((param.Max-param.Min)/param.Step + 1e-9))
		for s := 0; s <= steps; s++ {
			value := param.Min + float64(s)*param.Step
			if param.IsInt {
				value = math.Round(value)
			}
			current[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

var parameterSetters = map[string]func(*backtesting.BacktestConfig, float64){
	"tp1_value":        func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TP1.Value = v },
	"tp1_ratio":        func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TP1.Ratio = v },
	"tp2_value":        func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TP2.Value = v },
	"tp2_ratio":        func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TP2.Ratio = v },
	"tp3_value":        func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TP3.Value = v },
	"tp3_ratio":        func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TP3.Ratio = v },
	"trailing_offset":  func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TrailingStopOffsetValue = v },
	"pyramiding_value": func(c *backtesting.BacktestConfig, v float64) { c.Strategy.PyramidingValue = v },
	"pyramiding_limit": func(c *backtesting.BacktestConfig, v float64) { c.Strategy.PyramidingLimit = int(v) },
	"entry_multiplier": func(c *backtesting.BacktestConfig, v float64) { c.Strategy.EntryMultiplier = v },
	"stop_loss":        func(c *backtesting.BacktestConfig, v float64) { c.Strategy.StopLossPercent = v },
	"rsi_oversold":     func(c *backtesting.BacktestConfig, v float64) { c.Strategy.RSIOversold = v },
	"rsi_overbought":   func(c *backtesting.BacktestConfig, v float64) { c.Strategy.RSIOverbought = v },
	"trend_threshold":  func(c *backtesting.BacktestConfig, v float64) { c.Strategy.TrendThresholdPercent = v },
	"leverage":         func(c *backtesting.BacktestConfig, v float64) { c.Leverage = int(v) },
}

func isKnownParameter(name string) bool {
	_, ok := parameterSetters[strings.ToLower(name)]
	return ok
}

// ApplyParameter sets a named sweep parameter on cfg.
func ApplyParameter(cfg *backtesting.BacktestConfig, name string, value float64) error {
	set, ok := parameterSetters[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: unknown sweep parameter %q", ports.ErrConfigurationError, name)
	}
	set(cfg, value)
	return nil
}

// ParameterNames lists the parameters ApplyParameter accepts.
func ParameterNames() []string {
	names := make([]string, 0, len(parameterSetters))
	for name := range parameterSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatParameters renders parameters as sorted name=value pairs.
func FormatParameters(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, params[k])
	}
	return strings.Join(parts, ",")
}

// sortResultsByScore sorts optimization results by score in descending order.
// Failed variants go last; the sort is stable so equal scores keep grid order.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if (results[i].Err == nil) != (results[j].Err == nil) {
			return results[i].Err == nil
		}
		return results[i].Score > results[j].Score
	})
}

// DefaultScoreFunction provides a default scoring function for optimization
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	if metrics == nil {
		return 0
	}
	score := 0.0

	score += metrics.WinRate * 0.3
	score += math.Min(metrics.ProfitFactor, 10) * 0.2
	score += (1 - metrics.MaxDrawdown/100) * 0.2 // MaxDrawdown is in percent
	score += metrics.ReturnOnInvestment * 0.2
	score += math.Min(metrics.RiskRewardRatio, 10) * 0.1

	return score
}
