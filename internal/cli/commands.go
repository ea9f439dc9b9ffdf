package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"cryptoBacktest/config"
	"cryptoBacktest/internal/adapters/binanceclient"
	"cryptoBacktest/internal/adapters/csvfeed"
	"cryptoBacktest/internal/adapters/logger"
	"cryptoBacktest/internal/adapters/sqlite"
	"cryptoBacktest/internal/app"
	"cryptoBacktest/internal/ports"
	"cryptoBacktest/internal/strategy/optimization"
	"cryptoBacktest/internal/utils"
)

// session carries what PersistentPreRunE prepared for the subcommands.
type session struct {
	cfg    *config.Config
	logger *logger.StdLogger
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:   "cryptobacktest",
		Short: "Leveraged DCA backtester with staged take-profit exits",
		Long: `cryptobacktest replays historical candles through a signal strategy and a
position engine with partial take-profits, trailing stops, break-even stops and
DCA pyramiding. Configuration is read from the environment (and a .env file).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				cfg.LogLevel = logger.ParseLevel(lvl)
			}
			s.cfg = cfg
			s.logger = logger.NewStdLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}

	// Add subcommands
	rootCmd.AddCommand(newRunCmd(s))
	rootCmd.AddCommand(newSweepCmd(s))
	rootCmd.AddCommand(newFetchCmd(s))
	rootCmd.AddCommand(newRunsCmd(s))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (DEBUG, INFO, WARN, ERROR)")

	return rootCmd
}

// addMarketFlags registers the flags that override the market data settings.
func addMarketFlags(cmd *cobra.Command) {
	cmd.Flags().String("symbol", "", "Trading symbol (overrides SYMBOL)")
	cmd.Flags().String("interval", "", "Candle interval (overrides INTERVAL)")
	cmd.Flags().String("data-file", "", "CSV file to read candles from (overrides DATA_FILE)")
	cmd.Flags().Bool("no-db", false, "Do not persist runs to SQLite")
}

func applyMarketFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("symbol"); v != "" {
		cfg.Symbol = strings.ToUpper(v)
	}
	if v, _ := cmd.Flags().GetString("interval"); v != "" {
		cfg.Interval = v
	}
	if v, _ := cmd.Flags().GetString("data-file"); v != "" {
		cfg.DataFile = v
		cfg.DataSource = config.SourceCSV
	}
}

// newRunCmd creates the run command
func newRunCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyMarketFlags(cmd, s.cfg)
			noDB, _ := cmd.Flags().GetBool("no-db")
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = s.cfg.OutputDir
			}
			return runBacktest(cmd.Context(), cmd.OutOrStdout(), s, noDB, output)
		},
	}
	addMarketFlags(cmd)
	cmd.Flags().String("output", "", "Directory for the trade and equity CSV files (overrides OUTPUT_DIR)")
	return cmd
}

// newSweepCmd creates the sweep command
func newSweepCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a parameter grid and rank the variants",
		Long: `Run one backtest per combination of the given parameter ranges.
Example: cryptobacktest sweep --param tp1_value:1:3:0.5 --param pyramiding_limit:1:4:1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyMarketFlags(cmd, s.cfg)
			raw, _ := cmd.Flags().GetStringArray("param")
			ranges := make([]optimization.ParameterRange, 0, len(raw))
			for _, r := range raw {
				pr, err := parseParamRange(r)
				if err != nil {
					return err
				}
				ranges = append(ranges, pr)
			}
			if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
				s.cfg.SweepWorkers = workers
			}
			noDB, _ := cmd.Flags().GetBool("no-db")
			top, _ := cmd.Flags().GetInt("top")
			return runSweep(cmd.Context(), cmd.OutOrStdout(), s, ranges, noDB, top)
		},
	}
	addMarketFlags(cmd)
	cmd.Flags().StringArray("param", nil, "Parameter range as name:min:max:step (repeatable)")
	cmd.Flags().Int("workers", 0, "Concurrent runs (overrides SWEEP_WORKERS)")
	cmd.Flags().Int("top", 10, "Number of ranked variants to print, 0 for all")
	_ = cmd.MarkFlagRequired("param")
	return cmd
}

// newFetchCmd creates the fetch command
func newFetchCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download Binance futures klines to CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyMarketFlags(cmd, s.cfg)
			start, end := s.cfg.StartTime, s.cfg.EndTime
			if v, _ := cmd.Flags().GetString("start"); v != "" {
				t, err := config.ParseTime(v)
				if err != nil {
					return err
				}
				start = t
			}
			if v, _ := cmd.Flags().GetString("end"); v != "" {
				t, err := config.ParseTime(v)
				if err != nil {
					return err
				}
				end = t
			}
			if end.IsZero() {
				end = time.Now().UTC()
			}
			if start.IsZero() {
				start = end.AddDate(0, -3, 0)
			}
			out, _ := cmd.Flags().GetString("out")
			return runFetch(cmd.Context(), cmd.OutOrStdout(), s, start, end, out)
		},
	}
	cmd.Flags().String("symbol", "", "Trading symbol (overrides SYMBOL)")
	cmd.Flags().String("interval", "", "Candle interval (overrides INTERVAL)")
	cmd.Flags().String("start", "", "Start time, RFC3339 or YYYY-MM-DD (default: three months before end)")
	cmd.Flags().String("end", "", "End time, RFC3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().String("out", "", "Output file (default: DATA_DIR/<SYMBOL>_<interval>.csv)")
	return cmd
}

// newRunsCmd creates the runs command
func newRunsCmd(s *session) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted backtest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withRepository(s, func(repo *sqlite.Repository) error {
				runs, err := repo.FindRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs to list, 0 for all")

	runsCmd.AddCommand(&cobra.Command{
		Use:   "show [RUN_ID]",
		Short: "Show the trades of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(s, func(repo *sqlite.Repository) error {
				run, err := repo.FindRunByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("%w: run %s", ports.ErrNotFound, args[0])
				}
				trades, err := repo.FindTradesByRun(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if err := printRuns(cmd.OutOrStdout(), []*ports.RunRecord{run}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return utils.WriteTrades(cmd.OutOrStdout(), trades)
			})
		},
	})

	runsCmd.AddCommand(&cobra.Command{
		Use:   "delete [RUN_ID]",
		Short: "Delete a run with its trades and equity curve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(s, func(repo *sqlite.Repository) error {
				if err := repo.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	})

	return runsCmd
}

func runBacktest(ctx context.Context, w io.Writer, s *session, noDB bool, output string) error {
	return withService(s, noDB, func(svc *app.BacktestService) error {
		report, err := svc.Run(ctx)
		if report == nil {
			return err
		}
		if err != nil {
			// The run completed; only persistence failed.
			s.logger.Warn(ctx, "Run not persisted", map[string]interface{}{"runID": report.RunID})
		}

		summary := newRunSummary(report)
		if output != "" {
			tradesPath, equityPath, exportErr := svc.Export(report, output)
			if exportErr != nil {
				return exportErr
			}
			summary.TradesFile, summary.EquityFile = tradesPath, equityPath
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			return encErr
		}
		return err
	})
}

func runSweep(ctx context.Context, w io.Writer, s *session, ranges []optimization.ParameterRange, noDB bool, top int) error {
	return withService(s, noDB, func(svc *app.BacktestService) error {
		results, err := svc.Sweep(ctx, ranges)
		if results == nil {
			return err
		}
		if top > 0 && top < len(results) {
			results = results[:top]
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tPARAMETERS\tSCORE\tPOSITIONS\tWIN%\tPNL\tMAXDD%\tERROR")
		for i, r := range results {
			if r.Err != nil {
				fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\t-\t-\t%v\n", i+1, optimization.FormatParameters(r.Parameters), r.Err)
				continue
			}
			fmt.Fprintf(tw, "%d\t%s\t%.4f\t%d\t%.2f\t%.2f\t%.2f\t\n",
				i+1,
				optimization.FormatParameters(r.Parameters),
				r.Score,
				r.Metrics.TotalPositions,
				r.Metrics.WinRate*100,
				r.Metrics.TotalProfit,
				r.Metrics.MaxDrawdown,
			)
		}
		if flushErr := tw.Flush(); flushErr != nil {
			return flushErr
		}
		return err
	})
}

func runFetch(ctx context.Context, w io.Writer, s *session, start, end time.Time, out string) error {
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     s.cfg.APIKey,
		SecretKey:  s.cfg.SecretKey,
		UseTestnet: s.cfg.IsTestnet,
		Logger:     s.logger,
	})
	if err != nil {
		return err
	}
	if out == "" {
		feed, err := csvfeed.New(csvfeed.Config{Dir: s.cfg.DataDir, Logger: s.logger})
		if err != nil {
			return err
		}
		out = feed.FileFor(s.cfg.Symbol, s.cfg.Interval)
	}

	candles, err := client.GetCandles(ctx, s.cfg.Symbol, s.cfg.Interval, start, end)
	if err != nil {
		return err
	}
	if err := utils.WriteCandlesToCSV(candles, out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	s.logger.Info(ctx, "Candles saved", map[string]interface{}{"file": out, "count": len(candles)})
	fmt.Fprintf(w, "%d candles written to %s\n", len(candles), out)
	return nil
}

// withService wires the data provider, repository and strategy selected by the
// configuration into a BacktestService.
func withService(s *session, noDB bool, fn func(*app.BacktestService) error) error {
	data, err := newDataProvider(s.cfg, s.logger)
	if err != nil {
		return err
	}
	strat, err := app.NewStrategy(s.cfg, s.logger)
	if err != nil {
		return err
	}

	if noDB {
		svc, err := app.NewBacktestService(s.cfg, s.logger, data, nil, strat)
		if err != nil {
			return err
		}
		return fn(svc)
	}
	return withRepository(s, func(repo *sqlite.Repository) error {
		svc, err := app.NewBacktestService(s.cfg, s.logger, data, repo, strat)
		if err != nil {
			return err
		}
		return fn(svc)
	})
}

func withRepository(s *session, fn func(*sqlite.Repository) error) error {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: s.cfg.DBPath, Logger: s.logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			s.logger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	return fn(repo)
}

func newDataProvider(cfg *config.Config, log ports.Logger) (ports.DataProvider, error) {
	switch cfg.DataSource {
	case config.SourceBinance:
		return binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     log,
		})
	case config.SourceCSV, "":
		return csvfeed.New(csvfeed.Config{Dir: cfg.DataDir, Path: cfg.DataFile, Logger: log})
	default:
		return nil, fmt.Errorf("%w: unknown data source %q", ports.ErrConfigurationError, cfg.DataSource)
	}
}

// integerParameters are swept on whole numbers.
var integerParameters = map[string]bool{
	"pyramiding_limit": true,
	"leverage":         true,
}

// parseParamRange parses name:min:max:step. A bare name:value sweeps one value.
func parseParamRange(raw string) (optimization.ParameterRange, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 && len(parts) != 4 {
		return optimization.ParameterRange{}, fmt.Errorf("%w: parameter range %q, want name:min:max:step", ports.ErrInvalidRequest, raw)
	}
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	values := make([]float64, 0, 3)
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return optimization.ParameterRange{}, fmt.Errorf("%w: parameter range %q: %v", ports.ErrInvalidRequest, raw, err)
		}
		values = append(values, v)
	}
	pr := optimization.ParameterRange{Name: name, IsInt: integerParameters[name]}
	if len(values) == 1 {
		pr.Min, pr.Max, pr.Step = values[0], values[0], 1
		return pr, nil
	}
	pr.Min, pr.Max, pr.Step = values[0], values[1], values[2]
	return pr, nil
}

type runSummary struct {
	RunID              string         `json:"run_id"`
	Strategy           string         `json:"strategy"`
	Symbol             string         `json:"symbol"`
	Interval           string         `json:"interval"`
	Candles            int            `json:"candles"`
	Positions          int            `json:"positions"`
	Trades             int            `json:"trades"`
	InitialBalance     float64        `json:"initial_balance"`
	FinalBalance       float64        `json:"final_balance"`
	FinalEquity        float64        `json:"final_equity"`
	TotalPNL           float64        `json:"total_pnl"`
	TotalFees          float64        `json:"total_fees"`
	WinRate            float64        `json:"win_rate"`
	ProfitFactor       float64        `json:"profit_factor"`
	MaxDrawdown        float64        `json:"max_drawdown_percent"`
	ReturnOnInvestment float64        `json:"return_on_investment"`
	SharpeRatio        float64        `json:"sharpe_ratio"`
	ExitReasons        map[string]int `json:"exit_reasons,omitempty"`
	OpenPosition       bool           `json:"open_position"`
	TradesFile         string         `json:"trades_file,omitempty"`
	EquityFile         string         `json:"equity_file,omitempty"`
}

func newRunSummary(report *app.RunReport) runSummary {
	res := report.Result
	summary := runSummary{
		RunID:          report.RunID,
		Strategy:       report.Name,
		Symbol:         res.Symbol,
		Interval:       res.Interval,
		Candles:        res.CandleCount,
		Positions:      res.PositionsOpened,
		Trades:         len(res.Trades),
		InitialBalance: res.InitialBalance,
		FinalBalance:   res.FinalBalance,
		FinalEquity:    res.FinalEquity,
		OpenPosition:   res.OpenPosition != nil,
	}
	if m := res.Metrics; m != nil {
		summary.TotalPNL = m.TotalProfit
		summary.TotalFees = m.TotalFees
		summary.WinRate = m.WinRate
		summary.ProfitFactor = m.ProfitFactor
		summary.MaxDrawdown = m.MaxDrawdown
		summary.ReturnOnInvestment = m.ReturnOnInvestment
		summary.SharpeRatio = m.SharpeRatio
		summary.ExitReasons = m.ExitReasons
	}
	return summary
}

func printRuns(w io.Writer, runs []*ports.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSYMBOL\tINTERVAL\tSTARTED\tPOSITIONS\tTRADES\tWIN%\tPNL\tMAXDD%")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%.2f\t%.2f\t%.2f\n",
			r.ID, r.Name, r.Symbol, r.Interval,
			r.StartedAt.Format(time.RFC3339),
			r.PositionCount, r.TradeCount,
			r.WinRate*100, r.TotalPNL, r.MaxDrawdown,
		)
	}
	return tw.Flush()
}
