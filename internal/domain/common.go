package domain

import (
	"fmt"
	"strings"
)

// QuantityEpsilon is the tolerance below which a remaining quantity is treated as zero.
const QuantityEpsilon = 1e-8

// Side represents the direction of a position.
type Side int

const (
	Long Side = iota
	Short
)

// String returns the lower-case name of the side.
func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Sign returns +1 for Long and -1 for Short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSide converts "long"/"buy" and "short"/"sell" to a Side.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return Long, fmt.Errorf("unknown side %q", v)
	}
}

// EntryReason indicates why an entry record was appended to a position.
type EntryReason int

const (
	EntryReasonInitial EntryReason = iota
	EntryReasonDCA
)

func (r EntryReason) String() string {
	if r == EntryReasonDCA {
		return "dca_entry"
	}
	return "initial_entry"
}

// MarshalText implements encoding.TextMarshaler.
func (r EntryReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *EntryReason) UnmarshalText(b []byte) error {
	switch string(b) {
	case "initial_entry":
		*r = EntryReasonInitial
	case "dca_entry":
		*r = EntryReasonDCA
	default:
		return fmt.Errorf("unknown entry reason %q", string(b))
	}
	return nil
}

// ExitReason indicates why (part of) a position was closed.
type ExitReason int

const (
	ExitReasonTP1 ExitReason = iota + 1
	ExitReasonTP2
	ExitReasonTP3
	ExitReasonTakeProfit
	ExitReasonStopLoss
	ExitReasonTrailingStop
	ExitReasonSignal
)

var exitReasonNames = map[ExitReason]string{
	ExitReasonTP1:          "tp1",
	ExitReasonTP2:          "tp2",
	ExitReasonTP3:          "tp3",
	ExitReasonTakeProfit:   "take_profit",
	ExitReasonStopLoss:     "stop_loss",
	ExitReasonTrailingStop: "trailing_stop",
	ExitReasonSignal:       "signal",
}

func (r ExitReason) String() string {
	if name, ok := exitReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (r ExitReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ExitReason) UnmarshalText(b []byte) error {
	parsed, err := ParseExitReason(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseExitReason converts the stored name of an exit reason back to its value.
func ParseExitReason(v string) (ExitReason, error) {
	for reason, name := range exitReasonNames {
		if name == v {
			return reason, nil
		}
	}
	return 0, fmt.Errorf("unknown exit reason %q", v)
}

// TPLevel identifies one of the three partial take-profit levels. TPLevelNone marks a non-partial exit.
type TPLevel int

const (
	TPLevelNone TPLevel = iota
	TPLevel1
	TPLevel2
	TPLevel3
)

// ExitReason maps a TP level to its exit reason.
func (l TPLevel) ExitReason() ExitReason {
	switch l {
	case TPLevel1:
		return ExitReasonTP1
	case TPLevel2:
		return ExitReasonTP2
	case TPLevel3:
		return ExitReasonTP3
	default:
		return ExitReasonTakeProfit
	}
}

func (l TPLevel) String() string {
	if l == TPLevelNone {
		return "none"
	}
	return fmt.Sprintf("tp%d", int(l))
}

// MarshalJSON renders TPLevelNone as null and the others as 1, 2, 3.
func (l TPLevel) MarshalJSON() ([]byte, error) {
	if l == TPLevelNone {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%d", int(l))), nil
}

// UnmarshalJSON accepts null or 1..3.
func (l *TPLevel) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "null":
		*l = TPLevelNone
	case "1":
		*l = TPLevel1
	case "2":
		*l = TPLevel2
	case "3":
		*l = TPLevel3
	default:
		return fmt.Errorf("invalid tp level %s", string(b))
	}
	return nil
}

// ParseTPLevel parses "tp1".."tp3" (or "1".."3").
func ParseTPLevel(v string) (TPLevel, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "tp1", "1":
		return TPLevel1, nil
	case "tp2", "2":
		return TPLevel2, nil
	case "tp3", "3":
		return TPLevel3, nil
	default:
		return TPLevelNone, fmt.Errorf("unknown tp level %q", v)
	}
}

// ExitState is the coarse state of a position's exit state machine.
type ExitState int

const (
	ExitStateNoExit ExitState = iota
	ExitStateTP1Done
	ExitStateTP2Done
	ExitStateTP3Done
	ExitStateTrailingActive
	ExitStateClosed
)

func (s ExitState) String() string {
	switch s {
	case ExitStateNoExit:
		return "no_exit"
	case ExitStateTP1Done:
		return "tp1_done"
	case ExitStateTP2Done:
		return "tp2_done"
	case ExitStateTP3Done:
		return "tp3_done"
	case ExitStateTrailingActive:
		return "trailing_active"
	case ExitStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ExitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
