package csvfeed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
	"cryptoBacktest/internal/utils"
)

// Feed implements ports.DataProvider over CSV files on disk.
type Feed struct {
	dir    string
	path   string
	logger ports.Logger
}

// Config holds configuration for the CSV feed. Path selects a single file;
// otherwise files are looked up as Dir/<SYMBOL>_<interval>.csv.
type Config struct {
	Dir    string
	Path   string
	Logger ports.Logger
}

// New creates a CSV feed.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for CSV feed")
	}
	if cfg.Path == "" && cfg.Dir == "" {
		return nil, fmt.Errorf("%w: CSV feed needs a file path or a data directory", ports.ErrConfigurationError)
	}
	return &Feed{dir: cfg.Dir, path: cfg.Path, logger: cfg.Logger}, nil
}

// FileFor returns the file the feed reads for symbol and interval.
func (f *Feed) FileFor(symbol, interval string) string {
	if f.path != "" {
		return f.path
	}
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.csv", symbol, interval))
}

// GetCandles returns the candles with an open time in [start, end], sorted ascending.
// A zero start or end leaves that side unbounded. Duplicate timestamps keep the first row.
func (f *Feed) GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error) {
	file := f.FileFor(symbol, interval)
	candles, err := utils.ReadCandlesFromCSV(file, symbol, interval)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no candle file %s", ports.ErrNotFound, file)
		}
		return nil, fmt.Errorf("%w: %s: %v", ports.ErrInvalidRequest, file, err)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	out := make([]domain.Candle, 0, len(candles))
	duplicates := 0
	for _, c := range candles {
		if !start.IsZero() && c.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && c.Timestamp.After(end) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(c.Timestamp) {
			duplicates++
			continue
		}
		out = append(out, c)
	}
	if duplicates > 0 {
		f.logger.Warn(ctx, "Dropped duplicate candles", map[string]interface{}{
			"file":       file,
			"duplicates": duplicates,
		})
	}

	f.logger.Debug(ctx, "Candles loaded from CSV", map[string]interface{}{
		"file":  file,
		"count": len(out),
	})
	return out, nil
}
