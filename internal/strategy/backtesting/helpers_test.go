package backtesting

import (
	"context"
	"time"

	"cryptoBacktest/internal/domain"
)

// mockLogger discards everything.
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// MockStrategy emits the scripted signals and close requests.
type MockStrategy struct {
	required int
	signals  map[int]*domain.Signal
	closeAt  map[int]bool
	onClose  func(p *domain.Position)
}

func (m *MockStrategy) Name() string { return "mock_strategy" }

func (m *MockStrategy) RequiredDataPoints() int { return m.required }

func (m *MockStrategy) EntrySignal(ctx context.Context, candles []domain.Candle, index int) *domain.Signal {
	return m.signals[index]
}

func (m *MockStrategy) ShouldClosePosition(ctx context.Context, position *domain.Position, candles []domain.Candle, index int) bool {
	if m.onClose != nil {
		m.onClose(position)
	}
	return m.closeAt[index]
}

func longAt(index int) *MockStrategy {
	return &MockStrategy{signals: map[int]*domain.Signal{index: {Side: domain.Long}}}
}

func shortAt(index int) *MockStrategy {
	return &MockStrategy{signals: map[int]*domain.Signal{index: {Side: domain.Short}}}
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// bar builds the i-th hourly candle.
func bar(i int, open, high, low, close float64) domain.Candle {
	return domain.Candle{
		Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
		Symbol:    "BTCUSDT",
		Interval:  "1h",
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
	}
}

func flat(i int, price float64) domain.Candle {
	return bar(i, price, price, price, price)
}

// threeLevelConfig is TP1 2%/30%, TP2 3%/30%, TP3 4%/40%.
func threeLevelConfig() domain.StrategyConfig {
	cfg := domain.DefaultStrategyConfig()
	cfg.TP1 = domain.TakeProfitConfig{Enabled: true, Value: 2, Ratio: 30}
	cfg.TP2 = domain.TakeProfitConfig{Enabled: true, Value: 3, Ratio: 30}
	cfg.TP3 = domain.TakeProfitConfig{Enabled: true, Value: 4, Ratio: 40}
	return cfg
}

// testConfig commits the whole balance of 100000 at leverage 1 without fees.
func testConfig(strategy domain.StrategyConfig) BacktestConfig {
	return BacktestConfig{
		Symbol:          "BTCUSDT",
		Interval:        "1h",
		Leverage:        1,
		InitialFunds:    100000,
		FixedInvestment: 100000,
		Strategy:        strategy,
	}
}

// newTestRun wires the components of a run around cfg for direct unit tests.
func newTestRun(cfg *domain.StrategyConfig, sim *OrderSimulator) (*PositionManager, *ExitStateMachine) {
	logger := &mockLogger{}
	dca := NewDCAEngine(cfg, logger)
	positions := NewPositionManager(cfg, sim, dca, logger, "BTCUSDT", 1)
	return positions, NewExitStateMachine(cfg, sim, positions, logger)
}

func fillAt(price, qty float64, i int) Fill {
	return Fill{Price: price, Quantity: qty, Timestamp: baseTime.Add(time.Duration(i) * time.Hour)}
}
