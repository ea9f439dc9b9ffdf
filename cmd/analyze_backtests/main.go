package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"cryptoBacktest/config"
	"cryptoBacktest/internal/adapters/logger"
	"cryptoBacktest/internal/adapters/sqlite"
	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
	"cryptoBacktest/internal/strategy/analytics"
)

// analyze_backtests recomputes the performance of the persisted runs from their
// stored trades and equity curves and breaks the fills down by exit reason.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open %s: %v", cfg.DBPath, err)
	}
	defer repo.Close()

	ctx := context.Background()
	runs, err := repo.FindRuns(ctx, 0)
	if err != nil {
		log.Fatalf("Error listing runs: %v", err)
	}
	if len(runs) == 0 {
		log.Println("No backtest runs found. Run `cryptobacktest run` first.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Run\tPositions\tFills\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\tMaxDD\tAvgDCA\tSharpe\t")

	reports := make(map[string]*analytics.PerformanceMetrics, len(runs))
	trades := make(map[string][]domain.Trade, len(runs))
	for _, run := range runs {
		metrics, runTrades, err := analyzeRun(ctx, repo, run)
		if err != nil {
			log.Printf("Error analyzing run %s: %v", run.ID, err)
			continue
		}
		reports[run.ID] = metrics
		trades[run.ID] = runTrades

		fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			run.Name,
			metrics.TotalPositions,
			metrics.TotalTrades,
			metrics.WinRate*100,
			metrics.AverageWin,
			metrics.AverageLoss,
			metrics.TotalProfit,
			metrics.MaxDrawdown,
			metrics.AverageDCACount,
			metrics.SharpeRatio,
		)
	}
	w.Flush()

	fmt.Println("\n## Exit Reason Analysis")
	for _, run := range runs {
		if _, ok := reports[run.ID]; !ok {
			continue
		}
		printExitReasons(run, trades[run.ID])
	}
}

// analyzeRun loads a run's fills and equity curve and recomputes its metrics.
func analyzeRun(ctx context.Context, repo ports.ResultRepository, run *ports.RunRecord) (*analytics.PerformanceMetrics, []domain.Trade, error) {
	trades, err := repo.FindTradesByRun(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	equity, err := repo.FindEquityByRun(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	return analytics.AnalyzePerformance(trades, equity, run.InitialBalance), trades, nil
}

// printExitReasons prints the count and PnL of the fills per exit reason.
func printExitReasons(run *ports.RunRecord, trades []domain.Trade) {
	counts := make(map[domain.ExitReason]int)
	pnl := make(map[domain.ExitReason]float64)
	partials := 0
	for _, t := range trades {
		counts[t.ExitReason]++
		pnl[t.ExitReason] += t.PNL
		if t.IsPartialExit {
			partials++
		}
	}

	fmt.Printf("\nRun: %s (%s)\n", run.Name, run.ID)
	fmt.Println("Exit Reason\tCount\tTotal PnL\tAvg PnL")

	reasons := make([]domain.ExitReason, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		return reasons[i].String() < reasons[j].String()
	})
	for _, reason := range reasons {
		fmt.Printf("%s\t%d\t%.2f\t%.2f\n", reason, counts[reason], pnl[reason], pnl[reason]/float64(counts[reason]))
	}

	positions := analytics.GroupByPosition(trades)
	fmt.Printf("Positions: %d, partial fills: %d\n", len(positions), partials)
}
