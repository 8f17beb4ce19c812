// Package slippage decides the maximum acceptable execution price for buy
// orders from zone-based rules. Sell orders are never price-protected:
// exiting a position takes priority over price optimization.
package slippage

import (
	"fmt"
	"math"
)

// Zone labels the price band a buy decision fell into.
type Zone string

const (
	ZoneInvalid Zone = "invalid"
	ZoneDeath   Zone = "death"
	ZoneHigh    Zone = "high"
	ZoneCombat  Zone = "combat"
	ZoneZebra   Zone = "zebra"
)

// Config holds the zone thresholds and caps.
type Config struct {
	// DeathThreshold rejects buys priced above it outright.
	DeathThreshold float64 `json:"deathThreshold"`

	// HighThreshold is the lower bound of the high zone; prices in
	// [HighThreshold, DeathThreshold] get the tight absolute pad.
	HighThreshold float64 `json:"highThreshold"`

	// ZebraThreshold is the upper bound of the zebra zone; prices below it
	// get the relative pad.
	ZebraThreshold float64 `json:"zebraThreshold"`

	HighPad    float64 `json:"highPad"`
	CombatPad  float64 `json:"combatPad"`
	ZebraRatio float64 `json:"zebraRatio"`

	// AbsoluteCeiling bounds every accepted cap.
	AbsoluteCeiling float64 `json:"absoluteCeiling"`
}

// DefaultConfig returns the standard zone layout.
func DefaultConfig() Config {
	return Config{
		DeathThreshold:  0.95,
		HighThreshold:   0.80,
		ZebraThreshold:  0.20,
		HighPad:         0.01,
		CombatPad:       0.03,
		ZebraRatio:      1.2,
		AbsoluteCeiling: 0.99,
	}
}

// Decision is the outcome of one price check.
type Decision struct {
	ShouldExecute      bool    `json:"shouldExecute"`
	MaxAcceptablePrice float64 `json:"maxAcceptablePrice,omitempty"`
	Zone               Zone    `json:"zone"`
	Reason             string  `json:"reason"`
}

// GetBuyDecision evaluates a buy price against the zones, top to bottom.
func GetBuyDecision(price float64, config Config) Decision {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Decision{
			Zone:   ZoneInvalid,
			Reason: fmt.Sprintf("price %v is not a valid unit price", price),
		}
	}

	if price > config.DeathThreshold {
		return Decision{
			Zone:   ZoneDeath,
			Reason: fmt.Sprintf("price %.4f above %.2f leaves no upside", price, config.DeathThreshold),
		}
	}

	var limit float64
	var zone Zone
	switch {
	case price >= config.HighThreshold:
		zone = ZoneHigh
		limit = price + config.HighPad
	case price >= config.ZebraThreshold:
		zone = ZoneCombat
		limit = price + config.CombatPad
	default:
		zone = ZoneZebra
		limit = price * config.ZebraRatio
	}

	if limit > config.AbsoluteCeiling {
		limit = config.AbsoluteCeiling
	}

	return Decision{
		ShouldExecute:      true,
		MaxAcceptablePrice: limit,
		Zone:               zone,
		Reason:             fmt.Sprintf("%s zone, max price %.4f", zone, limit),
	}
}

// GetSellDecision always accepts with no price cap. The observed price is
// echoed in the reason so the order audit trail records what the exit saw.
func GetSellDecision(price float64) Decision {
	return Decision{
		ShouldExecute: true,
		Reason:        fmt.Sprintf("sell at %.4f without price protection", price),
	}
}
