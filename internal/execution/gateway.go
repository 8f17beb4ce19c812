// Package execution consumes order instructions produced by the decision
// core and hands them to a trading venue.
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Receipt reports a submitted order.
type Receipt struct {
	OrderID     string          `json:"orderId"`
	Side        types.Side      `json:"side"`
	AmountUSD   decimal.Decimal `json:"amountUsd"`
	LimitPrice  decimal.Decimal `json:"limitPrice"`
	Reason      string          `json:"reason,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	Paper       bool            `json:"paper"`
}

// Gateway is the venue boundary. Implementations must be safe for use from
// a single poll loop; they are not required to be goroutine-safe.
type Gateway interface {
	// SubmitOrder places one order. Instructions with a zero amount are
	// rejected by the caller before reaching the gateway.
	SubmitOrder(ctx context.Context, instruction types.OrderInstruction) (*Receipt, error)

	// AvailableBalance returns spendable USD collateral.
	AvailableBalance(ctx context.Context) (float64, error)
}

// priceTick is the venue's price resolution.
var priceTick = decimal.NewFromFloat(0.001)

// roundPrice floors a unit price to the venue tick so a limit never exceeds
// the policy cap.
func roundPrice(price float64) decimal.Decimal {
	d := decimal.NewFromFloat(price)
	return d.Div(priceTick).Floor().Mul(priceTick)
}

// roundAmount truncates a USD amount to cents.
func roundAmount(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Truncate(2)
}
