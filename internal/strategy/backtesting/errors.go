package backtesting

import (
	"fmt"
	"strings"
	"time"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"
)

// ConfigValidationError lists every problem found in a strategy configuration.
// It is returned once, before the first candle is processed.
type ConfigValidationError struct {
	Problems []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("strategy configuration validation failed: %s", strings.Join(e.Problems, "; "))
}

func (e *ConfigValidationError) Unwrap() error {
	return ports.ErrConfigurationError
}

// MissingIndicatorError reports a condition check that needed an indicator the candle does not carry.
// The condition fails closed; the run continues.
type MissingIndicatorError struct {
	Indicator   string
	CandleIndex int
}

func (e *MissingIndicatorError) Error() string {
	return fmt.Sprintf("candle %d has no %s value", e.CandleIndex, e.Indicator)
}

func (e *MissingIndicatorError) Unwrap() error {
	return ports.ErrMissingIndicator
}

// RunError is the fatal error of a single run. It carries the failing candle and a
// snapshot of the position at the time of the failure.
type RunError struct {
	CandleIndex int
	Timestamp   time.Time
	Position    *domain.Position
	Err         error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("backtest failed at candle %d (%s): %v", e.CandleIndex, e.Timestamp.UTC().Format(time.RFC3339), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// invalidState wraps ports.ErrInvalidPositionState with details.
func invalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ports.ErrInvalidPositionState, fmt.Sprintf(format, args...))
}

// checkPosition runs the structural checks of p and tags a violation with
// ports.ErrInvalidPositionState.
func checkPosition(p *domain.Position) error {
	if err := p.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: trade %d: %v", ports.ErrInvalidPositionState, p.TradeNumber, err)
	}
	return nil
}
