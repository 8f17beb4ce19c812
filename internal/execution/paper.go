package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// PaperGateway simulates fills against a local balance. Safe default for
// dry runs.
type PaperGateway struct {
	logger *zap.Logger

	mu       sync.Mutex
	balance  decimal.Decimal
	receipts []Receipt
}

// NewPaperGateway creates a paper gateway with a starting USD balance.
func NewPaperGateway(logger *zap.Logger, startingBalanceUSD float64) *PaperGateway {
	return &PaperGateway{
		logger:  logger.Named("paper-gateway"),
		balance: decimal.NewFromFloat(startingBalanceUSD),
	}
}

// SubmitOrder records a simulated fill and adjusts the paper balance.
func (g *PaperGateway) SubmitOrder(_ context.Context, instruction types.OrderInstruction) (*Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	amount := roundAmount(instruction.AmountUSD)
	if amount.IsZero() || amount.IsNegative() {
		return nil, fmt.Errorf("order amount %v is not positive", instruction.AmountUSD)
	}
	if instruction.Side == types.SideBuy && amount.GreaterThan(g.balance) {
		return nil, fmt.Errorf("insufficient paper balance: need %s, have %s", amount, g.balance)
	}

	receipt := Receipt{
		OrderID:     uuid.NewString(),
		Side:        instruction.Side,
		AmountUSD:   amount,
		Reason:      instruction.Reason,
		SubmittedAt: time.Now().UTC(),
		Paper:       true,
	}
	if instruction.MaxPrice != nil {
		receipt.LimitPrice = roundPrice(*instruction.MaxPrice)
	}

	if instruction.Side == types.SideBuy {
		g.balance = g.balance.Sub(amount)
	} else {
		g.balance = g.balance.Add(amount)
	}
	g.receipts = append(g.receipts, receipt)

	g.logger.Info("Paper order filled",
		zap.String("orderId", receipt.OrderID),
		zap.String("side", string(receipt.Side)),
		zap.String("amountUsd", amount.String()),
		zap.String("balance", g.balance.String()))

	return &receipt, nil
}

// AvailableBalance returns the simulated balance.
func (g *PaperGateway) AvailableBalance(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, _ := g.balance.Float64()
	return f, nil
}

// Receipts returns a copy of every simulated fill so far.
func (g *PaperGateway) Receipts() []Receipt {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Receipt, len(g.receipts))
	copy(out, g.receipts)
	return out
}
