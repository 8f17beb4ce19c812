// Package sizing converts an authoritative copy signal into a target order
// amount using a configurable strategy plus balance and position clamps.
package sizing

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

// Strategy selects how the base copy amount is derived from the signal.
type Strategy string

const (
	StrategyPercentage Strategy = "PERCENTAGE"
	StrategyFixed      Strategy = "FIXED"
	StrategyAdaptive   Strategy = "ADAPTIVE"
)

// balanceSafetyFactor reserves 1% of the available balance for fees and
// slippage on every affordability check.
const balanceSafetyFactor = 0.99

// Config holds the copy-strategy parameters.
type Config struct {
	Strategy Strategy `json:"strategy"`

	// CopySize is a percentage for PERCENTAGE/ADAPTIVE and a flat USD
	// amount for FIXED.
	CopySize float64 `json:"copySize"`

	// TradeMultiplier scales every order when no tiered multipliers are
	// configured. Tiered multipliers take precedence.
	TradeMultiplier   float64     `json:"tradeMultiplier"`
	TieredMultipliers []TierRange `json:"tieredMultipliers,omitempty"`

	MinOrderSizeUSD float64 `json:"minOrderSizeUsd"`
	MaxOrderSizeUSD float64 `json:"maxOrderSizeUsd"`

	// MaxPositionSizeUSD caps total exposure per condition. Zero means
	// unlimited.
	MaxPositionSizeUSD float64 `json:"maxPositionSizeUsd"`

	// AdaptiveReferenceUSD and AdaptiveMaxBoost shape the ADAPTIVE curve:
	// signals below the reference notional get their copy ratio boosted by
	// reference/signal, clamped to the max boost.
	AdaptiveReferenceUSD float64 `json:"adaptiveReferenceUsd"`
	AdaptiveMaxBoost     float64 `json:"adaptiveMaxBoost"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:             StrategyPercentage,
		CopySize:             10,
		TradeMultiplier:      1.0,
		MinOrderSizeUSD:      1.0,
		MaxOrderSizeUSD:      100,
		AdaptiveReferenceUSD: 500,
		AdaptiveMaxBoost:     3.0,
	}
}

// Result reports the computed order amount and which clamps fired.
type Result struct {
	BaseAmount       float64  `json:"baseAmount"`
	FinalAmount      float64  `json:"finalAmount"`
	Strategy         Strategy `json:"strategy"`
	CappedByMax      bool     `json:"cappedByMax"`
	BelowMinimum     bool     `json:"belowMinimum"`
	ReducedByBalance bool     `json:"reducedByBalance"`
	Reasoning        string   `json:"reasoning"`
}

// Engine computes order sizes for accepted signals.
type Engine struct {
	logger *zap.Logger
	config Config
}

// NewEngine creates a sizing engine.
func NewEngine(logger *zap.Logger, config Config) *Engine {
	return &Engine{
		logger: logger.Named("sizing"),
		config: config,
	}
}

// CalculateOrderSize derives the USD order amount for one signal.
//
// The clamps apply in a fixed order: multiplier, max order cap, position
// headroom, minimum bump, balance ceiling.
func (e *Engine) CalculateOrderSize(signalNotional, availableBalance, currentPositionNotional float64) Result {
	result := Result{Strategy: e.config.Strategy}
	var steps []string

	// 1. Base amount from the strategy
	switch e.config.Strategy {
	case StrategyFixed:
		result.BaseAmount = e.config.CopySize
		steps = append(steps, fmt.Sprintf("fixed base %.2f", result.BaseAmount))
	case StrategyAdaptive:
		ratio := e.config.CopySize / 100
		if signalNotional > 0 && e.config.AdaptiveReferenceUSD > 0 {
			boost := e.config.AdaptiveReferenceUSD / signalNotional
			if boost < 1 {
				boost = 1
			}
			if e.config.AdaptiveMaxBoost > 0 && boost > e.config.AdaptiveMaxBoost {
				boost = e.config.AdaptiveMaxBoost
			}
			ratio *= boost
		}
		result.BaseAmount = signalNotional * ratio
		steps = append(steps, fmt.Sprintf("adaptive base %.2f (ratio %.4f)", result.BaseAmount, ratio))
	default:
		result.BaseAmount = signalNotional * e.config.CopySize / 100
		steps = append(steps, fmt.Sprintf("%.1f%% of %.2f = %.2f", e.config.CopySize, signalNotional, result.BaseAmount))
	}

	// 2. Trade-size multiplier
	amount := result.BaseAmount
	if mult := multiplierFor(e.config, signalNotional); mult != 1.0 {
		amount *= mult
		steps = append(steps, fmt.Sprintf("multiplier %.2fx -> %.2f", mult, amount))
	}

	// 3. Max order cap
	if amount < 0 {
		amount = 0
	}
	if amount > e.config.MaxOrderSizeUSD {
		amount = e.config.MaxOrderSizeUSD
		result.CappedByMax = true
		steps = append(steps, fmt.Sprintf("capped at max order %.2f", amount))
	}

	// 4. Position headroom
	headroom := math.Inf(1)
	if e.config.MaxPositionSizeUSD > 0 {
		headroom = e.config.MaxPositionSizeUSD - currentPositionNotional
		if headroom < 0 {
			headroom = 0
		}
		if amount > headroom {
			amount = headroom
			steps = append(steps, fmt.Sprintf("reduced to position headroom %.2f", amount))
		}
	}

	// 5. Minimum order bump. The bump never breaches the position cap.
	spendable := availableBalance * balanceSafetyFactor
	if amount < e.config.MinOrderSizeUSD {
		result.BelowMinimum = true
		if spendable >= e.config.MinOrderSizeUSD && headroom >= e.config.MinOrderSizeUSD {
			amount = e.config.MinOrderSizeUSD
			steps = append(steps, fmt.Sprintf("bumped to minimum %.2f", amount))
		} else {
			amount = 0
			steps = append(steps, "not affordable at minimum order size")
		}
	}

	// 6. Balance ceiling
	if amount > spendable {
		amount = spendable
		result.ReducedByBalance = true
		steps = append(steps, fmt.Sprintf("reduced to spendable balance %.2f", amount))
	}

	result.FinalAmount = amount
	result.Reasoning = strings.Join(steps, "; ")

	e.logger.Debug("Order sized",
		zap.Float64("signalNotionalUsd", signalNotional),
		zap.Float64("finalAmountUsd", result.FinalAmount),
		zap.String("reasoning", result.Reasoning))

	return result
}

// ValidateStrategyConfig returns every human-readable violation in the
// config. An empty slice means the config is valid.
func ValidateStrategyConfig(config Config) []string {
	var violations []string

	if config.CopySize <= 0 {
		violations = append(violations, fmt.Sprintf("copySize must be greater than zero, got %v", config.CopySize))
	}
	if config.Strategy == StrategyPercentage && config.CopySize > 100 {
		violations = append(violations, fmt.Sprintf("copySize must not exceed 100 for the percentage strategy, got %v", config.CopySize))
	}
	if config.MinOrderSizeUSD > config.MaxOrderSizeUSD {
		violations = append(violations, fmt.Sprintf("minOrderSizeUsd %v exceeds maxOrderSizeUsd %v",
			config.MinOrderSizeUSD, config.MaxOrderSizeUSD))
	}

	switch config.Strategy {
	case StrategyPercentage, StrategyFixed, StrategyAdaptive:
	default:
		violations = append(violations, fmt.Sprintf("unknown strategy %q", config.Strategy))
	}

	return violations
}
