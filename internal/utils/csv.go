package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cryptoBacktest/internal/domain"
)

var candleHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume", "rsi", "atr", "ema", "sma"}

// column aliases accepted when reading candles
var candleColumns = map[string]string{
	"open_time": "open_time", "timestamp": "open_time", "time": "open_time", "date": "open_time",
	"close_time": "close_time",
	"symbol":     "symbol",
	"interval":   "interval",
	"open":       "open", "high": "high", "low": "low", "close": "close", "volume": "volume",
	"rsi": "rsi", "atr": "atr", "ema": "ema", "sma": "sma",
}

// ReadCandlesFromCSV loads candles from a CSV file. See ReadCandles.
func ReadCandlesFromCSV(filename, symbol, interval string) ([]domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCandles(file, symbol, interval)
}

// ReadCandles parses candles. A header row selects columns by name; without one
// the columns are open_time, open, high, low, close[, volume]. Times may be RFC3339
// or Unix seconds/milliseconds. symbol and interval fill columns that are absent.
func ReadCandles(r io.Reader, symbol, interval string) ([]domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	index := map[string]int{"open_time": 0, "open": 1, "high": 2, "low": 3, "close": 4, "volume": 5}
	start := 0
	if _, err := parseTime(records[0][0]); err != nil {
		index = make(map[string]int)
		for i, name := range records[0] {
			if col, ok := candleColumns[strings.ToLower(strings.TrimSpace(name))]; ok {
				index[col] = i
			}
		}
		for _, required := range []string{"open_time", "open", "high", "low", "close"} {
			if _, ok := index[required]; !ok {
				return nil, fmt.Errorf("CSV header is missing column %q", required)
			}
		}
		start = 1
	}

	candles := make([]domain.Candle, 0, len(records)-start)
	for line, rec := range records[start:] {
		c, err := parseCandle(rec, index, symbol, interval)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+start+1, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseCandle(rec []string, index map[string]int, symbol, interval string) (domain.Candle, error) {
	field := func(name string) (string, bool) {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		v := strings.TrimSpace(rec[i])
		return v, v != ""
	}
	number := func(name string, required bool) (*float64, error) {
		raw, ok := field(name)
		if !ok {
			if required {
				return nil, fmt.Errorf("missing %s", name)
			}
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s '%s': %w", name, raw, err)
		}
		return &v, nil
	}

	c := domain.Candle{Symbol: symbol, Interval: interval}
	raw, _ := field("open_time")
	ts, err := parseTime(raw)
	if err != nil {
		return c, err
	}
	c.Timestamp = ts
	if raw, ok := field("close_time"); ok {
		if c.CloseTime, err = parseTime(raw); err != nil {
			return c, err
		}
	}
	if v, ok := field("symbol"); ok {
		c.Symbol = v
	}
	if v, ok := field("interval"); ok {
		c.Interval = v
	}

	prices := []struct {
		name string
		dst  *float64
	}{{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low}, {"close", &c.Close}}
	for _, p := range prices {
		v, err := number(p.name, true)
		if err != nil {
			return c, err
		}
		*p.dst = *v
	}
	if v, err := number("volume", false); err != nil {
		return c, err
	} else if v != nil {
		c.Volume = *v
	}
	if c.High < c.Low {
		return c, fmt.Errorf("high %v below low %v", c.High, c.Low)
	}

	for _, ind := range []struct {
		name string
		dst  **float64
	}{{"rsi", &c.RSI}, {"atr", &c.ATR}, {"ema", &c.EMA}, {"sma", &c.SMA}} {
		v, err := number(ind.name, false)
		if err != nil {
			return c, err
		}
		*ind.dst = v
	}
	return c, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", raw)
}

// WriteCandlesToCSV writes candles, including any precomputed indicators, to filename.
func WriteCandlesToCSV(candles []domain.Candle, filename string) error {
	return writeFile(filename, func(w io.Writer) error { return WriteCandles(w, candles) })
}

// WriteCandles writes candles in the layout ReadCandles reads back.
func WriteCandles(w io.Writer, candles []domain.Candle) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(candleHeader); err != nil {
		return err
	}
	for _, c := range candles {
		closeTime := ""
		if !c.CloseTime.IsZero() {
			closeTime = c.CloseTime.UTC().Format(time.RFC3339Nano)
		}
		if err := writer.Write([]string{
			c.Timestamp.UTC().Format(time.RFC3339Nano),
			closeTime,
			c.Symbol,
			c.Interval,
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
			formatOptional(c.RSI),
			formatOptional(c.ATR),
			formatOptional(c.EMA),
			formatOptional(c.SMA),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesToCSV writes the trade log to filename.
func WriteTradesToCSV(trades []domain.Trade, filename string) error {
	return writeFile(filename, func(w io.Writer) error { return WriteTrades(w, trades) })
}

// WriteTrades writes one row per exit fill.
func WriteTrades(w io.Writer, trades []domain.Trade) error {
	writer := csv.NewWriter(w)
	header := []string{
		"trade_number", "symbol", "side", "entry_time", "exit_time", "entry_price", "exit_price",
		"exit_reason", "quantity", "leverage", "pnl", "pnl_percent", "entry_fee", "exit_fee",
		"dca_count", "total_investment", "is_partial_exit", "tp_level", "exit_ratio", "remaining_quantity",
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		tpLevel := ""
		if t.TPLevel != domain.TPLevelNone {
			tpLevel = strconv.Itoa(int(t.TPLevel))
		}
		if err := writer.Write([]string{
			strconv.Itoa(t.TradeNumber),
			t.Symbol,
			t.Side.String(),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			t.ExitReason.String(),
			formatFloat(t.Quantity),
			strconv.Itoa(t.Leverage),
			formatFloat(t.PNL),
			formatFloat(t.PNLPercent),
			formatFloat(t.EntryFee),
			formatFloat(t.ExitFee),
			strconv.Itoa(t.DCACount),
			formatFloat(t.TotalInvestment),
			strconv.FormatBool(t.IsPartialExit),
			tpLevel,
			formatOptional(t.ExitRatio),
			formatOptional(t.RemainingQty),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteEquityToCSV writes the equity curve to filename.
func WriteEquityToCSV(points []domain.EquityPoint, filename string) error {
	return writeFile(filename, func(w io.Writer) error { return WriteEquity(w, points) })
}

// WriteEquity writes one row per candle of the equity curve.
func WriteEquity(w io.Writer, points []domain.EquityPoint) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "balance", "drawdown_percent"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := writer.Write([]string{
			p.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(p.Balance),
			formatFloat(p.DrawdownPercent),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeFile(filename string, write func(io.Writer) error) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
