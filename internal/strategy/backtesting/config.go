package backtesting

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"cryptoBacktest/internal/domain"
)

var validate = validator.New()

// ValidateStrategyConfig checks field ranges and the cross-field rules of a strategy configuration.
// It returns a *ConfigValidationError listing every problem, or nil.
func ValidateStrategyConfig(cfg domain.StrategyConfig) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return &ConfigValidationError{Problems: []string{err.Error()}}
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s failed %s%s (got %v)", fe.Namespace(), fe.Tag(), paramSuffix(fe.Param()), fe.Value()))
		}
	}

	// Enabled TP distances must be positive and strictly ascending.
	prev := 0.0
	for _, level := range []domain.TPLevel{domain.TPLevel1, domain.TPLevel2, domain.TPLevel3} {
		tp := cfg.TakeProfit(level)
		if !tp.Enabled {
			continue
		}
		if tp.Value <= 0 {
			problems = append(problems, fmt.Sprintf("%s value must be positive", level))
		} else if tp.Value <= prev {
			problems = append(problems, fmt.Sprintf("%s value %.4f must be greater than the previous enabled level (%.4f)", level, tp.Value, prev))
		}
		if tp.Ratio <= 0 {
			problems = append(problems, fmt.Sprintf("%s ratio must be positive", level))
		}
		prev = tp.Value
	}

	if cfg.TrailingStopActive {
		if cfg.AnyTakeProfitEnabled() && !cfg.TakeProfit(cfg.TrailingStartPoint).Enabled {
			problems = append(problems, fmt.Sprintf("trailing start point %s is not an enabled take-profit level", cfg.TrailingStartPoint))
		}
		if cfg.UseTrailingStopWithTP2TP3Distance {
			if !cfg.TP2.Enabled || !cfg.TP3.Enabled {
				problems = append(problems, "trailing offset from the tp2/tp3 distance requires tp2 and tp3 to be enabled")
			}
		} else if cfg.TrailingStopOffsetValue <= 0 {
			problems = append(problems, "trailing stop offset must be positive")
		}
	}

	if cfg.PyramidingEnabled && cfg.PyramidingValue <= 0 {
		problems = append(problems, "pyramiding value must be positive when pyramiding is enabled")
	}
	if cfg.UseRSIWithPyramiding && cfg.RSIOversold >= cfg.RSIOverbought {
		problems = append(problems, fmt.Sprintf("rsi oversold (%.2f) must be below overbought (%.2f)", cfg.RSIOversold, cfg.RSIOverbought))
	}

	if len(problems) > 0 {
		return &ConfigValidationError{Problems: problems}
	}
	return nil
}

func paramSuffix(param string) string {
	if param == "" {
		return ""
	}
	return "=" + param
}
