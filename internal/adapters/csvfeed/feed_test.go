package csvfeed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptoBacktest/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{ warnings int }

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnings++
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const unsorted = `open_time,open,high,low,close,volume
2024-01-01T02:00:00Z,102,103,101,102.5,1
2024-01-01T00:00:00Z,100,101,99,100.5,1
2024-01-01T01:00:00Z,101,102,100,101.5,1
2024-01-01T01:00:00Z,999,999,999,999,1
2024-01-01T03:00:00Z,103,104,102,103.5,1
`

func writeFixture(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_1h.csv"), []byte(unsorted), 0o644))
}

func TestNew(t *testing.T) {
	_, err := New(Config{Dir: "data"})
	assert.Error(t, err)

	_, err = New(Config{Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	f, err := New(Config{Dir: "data", Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "ETHUSDT_15m.csv"), f.FileFor("ETHUSDT", "15m"))

	f, err = New(Config{Dir: "data", Path: "x.csv", Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, "x.csv", f.FileFor("ETHUSDT", "15m"))
}

func TestGetCandles_SortsAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	log := &mockLogger{}
	f, err := New(Config{Dir: dir, Logger: log})
	require.NoError(t, err)

	candles, err := f.GetCandles(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 4)
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp))
	}
	assert.Equal(t, 101.0, candles[1].Open, "first duplicate wins")
	assert.Equal(t, "BTCUSDT", candles[0].Symbol)
	assert.Equal(t, "1h", candles[0].Interval)
	assert.Equal(t, 1, log.warnings)
}

func TestGetCandles_Window(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	f, err := New(Config{Dir: dir, Logger: &mockLogger{}})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	candles, err := f.GetCandles(context.Background(), "BTCUSDT", "1h", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, start.Equal(candles[0].Timestamp))
	assert.Equal(t, 102.0, candles[1].Open)
}

func TestGetCandles_MissingFile(t *testing.T) {
	f, err := New(Config{Dir: t.TempDir(), Logger: &mockLogger{}})
	require.NoError(t, err)

	_, err = f.GetCandles(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestGetCandles_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("open_time,open\n2024-01-01T00:00:00Z,1\n"), 0o644))
	f, err := New(Config{Path: path, Logger: &mockLogger{}})
	require.NoError(t, err)

	_, err = f.GetCandles(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
