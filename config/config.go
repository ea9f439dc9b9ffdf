package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoBacktest/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/strategy/backtesting"
	"cryptoBacktest/internal/strategy/indicators"
)

// Data sources accepted by DATA_SOURCE.
const (
	SourceCSV     = "csv"
	SourceBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Binance API (klines are public; keys are optional)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Market data
	Symbol     string
	Interval   string
	DataSource string
	DataDir    string
	DataFile   string    // Overrides DataDir lookup when set
	StartTime  time.Time // Zero means unbounded
	EndTime    time.Time

	// Account and execution
	Leverage        int
	MaxLeverage     int
	InitialFunds    float64
	PositionSize    float64 // Fraction of the balance per initial entry
	FixedInvestment float64 // Quote amount per initial entry; overrides PositionSize when > 0
	MaxDrawdown     float64 // Fraction; 0 disables the guard
	MaxExposure     float64 // Fraction of the balance committed at most
	FeeRate         float64 // e.g., 0.0004 for 0.04%
	SlippagePercent float64 // e.g., 0.05 for 0.05%
	QuantityStep    float64
	PriceTick       float64

	// Indicator periods used to enrich candles
	RSIPeriod int
	ATRPeriod int
	EMAPeriod int
	SMAPeriod int

	// Signal strategy
	StrategyName          string
	StrategyRSIOverbought float64
	StrategyRSIOversold   float64
	AllowShort            bool
	UseTrendFilter        bool
	SignalStopLoss        float64 // Percent, used only when every TP level is disabled
	SignalTakeProfit      float64
	ExitOnSignal          bool

	// Entry/exit engine
	Strategy domain.StrategyConfig

	// Sweeps
	SweepWorkers int

	// Output
	DBPath    string
	OutputDir string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	// Market data
	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", "ETHUSDT"))
	cfg.Interval = getEnv("INTERVAL", "1h")
	cfg.DataSource = strings.ToLower(getEnv("DATA_SOURCE", SourceCSV))
	if cfg.DataSource != SourceCSV && cfg.DataSource != SourceBinance {
		errs = append(errs, fmt.Sprintf("DATA_SOURCE must be %q or %q", SourceCSV, SourceBinance))
	}
	cfg.DataDir = getEnv("DATA_DIR", "./data")
	cfg.DataFile = getEnv("DATA_FILE", "")
	if cfg.StartTime, err = getEnvAsTime("START_TIME"); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.EndTime, err = getEnvAsTime("END_TIME"); err != nil {
		errs = append(errs, err.Error())
	}
	if !cfg.StartTime.IsZero() && !cfg.EndTime.IsZero() && !cfg.EndTime.After(cfg.StartTime) {
		errs = append(errs, "END_TIME must be after START_TIME")
	}
	if cfg.DataSource == SourceBinance && (cfg.StartTime.IsZero() || cfg.EndTime.IsZero()) {
		errs = append(errs, "START_TIME and END_TIME must be set for the binance data source")
	}

	// Account and execution
	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}
	cfg.MaxLeverage = getEnvAsInt("MAX_LEVERAGE", 125)

	floats := []struct {
		key   string
		def   float64
		dst   *float64
		check func(float64) bool
		rule  string
	}{
		{"INITIAL_FUNDS", 10000, &cfg.InitialFunds, positive, "must be positive"},
		{"POSITION_SIZE", 0.1, &cfg.PositionSize, fraction, "must be between 0.0 and 1.0"},
		{"FIXED_INVESTMENT", 0, &cfg.FixedInvestment, nonNegative, "cannot be negative"},
		{"MAX_DRAWDOWN", 0, &cfg.MaxDrawdown, fraction, "must be between 0.0 and 1.0"},
		{"MAX_EXPOSURE", 1, &cfg.MaxExposure, nonNegative, "cannot be negative"},
		{"FEE_RATE", 0.0004, &cfg.FeeRate, fraction, "must be between 0.0 and 1.0"},
		{"SLIPPAGE_PERCENT", 0, &cfg.SlippagePercent, nonNegative, "cannot be negative"},
		{"QUANTITY_STEP", 0, &cfg.QuantityStep, nonNegative, "cannot be negative"},
		{"PRICE_TICK", 0, &cfg.PriceTick, nonNegative, "cannot be negative"},
	}
	for _, f := range floats {
		v, err := getEnvAsFloatRequired(f.key, f.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", f.key, err))
			continue
		}
		if !f.check(v) {
			errs = append(errs, fmt.Sprintf("%s %s", f.key, f.rule))
		}
		*f.dst = v
	}

	// Indicators
	cfg.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	cfg.EMAPeriod = getEnvAsInt("EMA_PERIOD", 20)
	cfg.SMAPeriod = getEnvAsInt("SMA_PERIOD", 50)
	if cfg.RSIPeriod < 0 || cfg.ATRPeriod < 0 || cfg.EMAPeriod < 0 || cfg.SMAPeriod < 0 {
		errs = append(errs, "indicator periods (RSI, ATR, EMA, SMA) cannot be negative")
	}

	// Signal strategy
	cfg.StrategyName = strings.ToLower(getEnv("STRATEGY", "rsi_reversal"))
	cfg.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30.0)
	if cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}
	cfg.AllowShort = getEnvAsBool("ALLOW_SHORT", false)
	cfg.UseTrendFilter = getEnvAsBool("STRATEGY_TREND_FILTER", false)
	cfg.SignalStopLoss = getEnvAsFloat("SIGNAL_STOP_LOSS", 0)
	cfg.SignalTakeProfit = getEnvAsFloat("SIGNAL_TAKE_PROFIT", 0)
	cfg.ExitOnSignal = getEnvAsBool("EXIT_ON_SIGNAL", false)

	// Entry/exit engine
	strategyErrs := loadStrategyConfig(&cfg.Strategy)
	errs = append(errs, strategyErrs...)
	if len(strategyErrs) == 0 {
		if err := backtesting.ValidateStrategyConfig(cfg.Strategy); err != nil {
			errs = append(errs, err.Error())
		}
	}

	cfg.SweepWorkers = getEnvAsInt("SWEEP_WORKERS", 4)
	if cfg.SweepWorkers <= 0 {
		errs = append(errs, "SWEEP_WORKERS must be positive")
	}

	// Output
	cfg.DBPath = getEnv("DB_PATH", "./data/backtests.db")
	cfg.OutputDir = getEnv("OUTPUT_DIR", "./results")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadStrategyConfig overlays the environment on the documented defaults.
func loadStrategyConfig(sc *domain.StrategyConfig) []string {
	*sc = domain.DefaultStrategyConfig()
	var errs []string

	levels := []struct {
		prefix string
		tp     *domain.TakeProfitConfig
	}{{"TP1", &sc.TP1}, {"TP2", &sc.TP2}, {"TP3", &sc.TP3}}
	for _, l := range levels {
		l.tp.Enabled = getEnvAsBool("USE_"+l.prefix, l.tp.Enabled)
		l.tp.Value = getEnvAsFloat(l.prefix+"_VALUE", l.tp.Value)
		l.tp.Ratio = getEnvAsFloat(l.prefix+"_RATIO", l.tp.Ratio)
	}

	sc.TrailingStopActive = getEnvAsBool("TRAILING_STOP_ACTIVE", sc.TrailingStopActive)
	if v := getEnv("TRAILING_START_POINT", ""); v != "" {
		level, err := domain.ParseTPLevel(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TRAILING_START_POINT: %v", err))
		}
		sc.TrailingStartPoint = level
	}
	sc.TrailingStopOffsetValue = getEnvAsFloat("TRAILING_STOP_OFFSET_VALUE", sc.TrailingStopOffsetValue)
	sc.UseTrailingStopWithTP2TP3Distance = getEnvAsBool("USE_TRAILING_STOP_VALUE_WITH_TP2_TP3_DIFFERENCE", sc.UseTrailingStopWithTP2TP3Distance)

	sc.PyramidingEnabled = getEnvAsBool("PYRAMIDING_ENABLED", sc.PyramidingEnabled)
	sc.PyramidingLimit = getEnvAsInt("PYRAMIDING_LIMIT", sc.PyramidingLimit)
	sc.EntryMultiplier = getEnvAsFloat("ENTRY_MULTIPLIER", sc.EntryMultiplier)
	if v := getEnv("PYRAMIDING_ENTRY_TYPE", ""); v != "" {
		mode, err := domain.ParseDCAMode(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid PYRAMIDING_ENTRY_TYPE: %v", err))
		}
		sc.PyramidingEntryType = mode
	}
	sc.PyramidingValue = getEnvAsFloat("PYRAMIDING_VALUE", sc.PyramidingValue)
	if v := getEnv("ENTRY_CRITERION", ""); v != "" {
		basis, err := domain.ParseDCABasis(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid ENTRY_CRITERION: %v", err))
		}
		sc.EntryCriterion = basis
	}

	sc.UseRSIWithPyramiding = getEnvAsBool("USE_RSI_WITH_PYRAMIDING", sc.UseRSIWithPyramiding)
	sc.RSIOversold = getEnvAsFloat("RSI_OVERSOLD", sc.RSIOversold)
	sc.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", sc.RSIOverbought)
	sc.UseTrendLogic = getEnvAsBool("USE_TREND_LOGIC", sc.UseTrendLogic)
	sc.TrendThresholdPercent = getEnvAsFloat("TREND_THRESHOLD_PERCENT", sc.TrendThresholdPercent)

	sc.UseBreakEven = getEnvAsBool("USE_BREAK_EVEN", sc.UseBreakEven)
	sc.UseBreakEvenTP2 = getEnvAsBool("USE_BREAK_EVEN_TP2", sc.UseBreakEvenTP2)
	sc.UseBreakEvenTP3 = getEnvAsBool("USE_BREAK_EVEN_TP3", sc.UseBreakEvenTP3)

	sc.StopLossPercent = getEnvAsFloat("STOP_LOSS_PERCENT", sc.StopLossPercent)
	return errs
}

// BacktestConfig returns the engine configuration.
func (c *Config) BacktestConfig() backtesting.BacktestConfig {
	return backtesting.BacktestConfig{
		Symbol:              c.Symbol,
		Interval:            c.Interval,
		Leverage:            c.Leverage,
		InitialFunds:        c.InitialFunds,
		PositionSizePercent: c.PositionSize,
		FixedInvestment:     c.FixedInvestment,
		MaxLeverage:         c.MaxLeverage,
		MaxDrawdown:         c.MaxDrawdown,
		MaxExposurePercent:  c.MaxExposure,
		FeeRate:             c.FeeRate,
		SlippagePercent:     c.SlippagePercent,
		QuantityStep:        c.QuantityStep,
		PriceTick:           c.PriceTick,
		Strategy:            c.Strategy,
	}
}

// EnrichConfig returns the indicator periods attached to candles before a run.
func (c *Config) EnrichConfig() indicators.EnrichConfig {
	return indicators.EnrichConfig{
		RSIPeriod: c.RSIPeriod,
		ATRPeriod: c.ATRPeriod,
		EMAPeriod: c.EMAPeriod,
		SMAPeriod: c.SMAPeriod,
	}
}

// WarmUp returns the number of leading candles without a full indicator set.
func (c *Config) WarmUp() int {
	warmUp := 1
	for _, p := range []int{c.RSIPeriod + 1, c.ATRPeriod + 1, c.EMAPeriod, c.SMAPeriod} {
		if p > warmUp {
			warmUp = p
		}
	}
	return warmUp
}

// --- Env Var Helpers ---

func positive(v float64) bool    { return v > 0 }
func nonNegative(v float64) bool { return v >= 0 }
func fraction(v float64) bool    { return v >= 0 && v <= 1 }

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsTime accepts RFC3339 or a plain date; an unset key yields the zero time.
func getEnvAsTime(key string) (time.Time, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Time{}, nil
	}
	return ParseTime(valueStr)
}

// ParseTime parses RFC3339 timestamps or YYYY-MM-DD dates as UTC.
func ParseTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339 or YYYY-MM-DD)", v)
}
