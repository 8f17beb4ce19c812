// Package signals merges fragmented partial fills into logical trades.
package signals

import (
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/numeric"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Aggregator groups raw fills that settled atomically into a single
// economic event with a volume-weighted price. It is a pure batch
// transform: callers hand it a finite slice and receive the merged trades.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator creates a new signal aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{
		logger: logger.Named("signal-aggregator"),
	}
}

// groupKey identifies one logical settlement event.
type groupKey struct {
	txHash      string
	conditionID string
	asset       string
	side        types.Side
	kind        types.SignalKind
}

// group accumulates the fills of one settlement event.
type group struct {
	first     types.RawSignal
	size      numeric.Accumulator
	notional  numeric.Accumulator
	minPrice  float64
	maxPrice  float64
	lastPrice float64
	fillCount int
	firstAt   int64
	lastAt    int64
	seenFills map[string]bool // explicit fill ids only
}

// Aggregate merges a batch of raw fills into aggregated signals.
//
// Fills sharing (transaction hash, condition, asset, side, kind) form one
// group. Fills without a transaction hash never merge: each gets a synthetic
// single-use hash, carried into the emitted signal, so arrival order cannot
// accidentally join unrelated rows and downstream idempotency keys stay
// distinct. Output order is unspecified.
func (a *Aggregator) Aggregate(raws []types.RawSignal) []types.AggregatedSignal {
	groups := make(map[groupKey]*group, len(raws))

	for _, raw := range raws {
		key := groupKey{
			txHash:      raw.TransactionHash,
			conditionID: raw.ConditionID,
			asset:       raw.Asset,
			side:        raw.Side,
			kind:        raw.Kind,
		}
		if raw.TransactionHash == "" {
			key.txHash = "ungrouped-" + uuid.NewString()
		}

		g, ok := groups[key]
		if !ok {
			g = &group{
				first:    raw,
				minPrice: math.Inf(1),
				maxPrice: math.Inf(-1),
				firstAt:  raw.Timestamp,
				lastAt:   raw.Timestamp,
			}
			groups[key] = g
		}

		// Dedupe only on an explicit fill id. Rows without an id are
		// assumed to be genuinely distinct fills, even if identical.
		if raw.FillID != "" {
			if g.seenFills == nil {
				g.seenFills = make(map[string]bool)
			}
			if g.seenFills[raw.FillID] {
				a.logger.Debug("Dropping duplicate fill",
					zap.String("fillId", raw.FillID),
					zap.String("txHash", raw.TransactionHash))
				continue
			}
			g.seenFills[raw.FillID] = true
		}

		// The feed may report signed size/notional; direction is carried
		// solely by the side field.
		g.size.Add(math.Abs(raw.Size))
		g.notional.Add(math.Abs(raw.NotionalUSD))
		g.lastPrice = raw.Price
		g.fillCount++

		if raw.Price < g.minPrice {
			g.minPrice = raw.Price
		}
		if raw.Price > g.maxPrice {
			g.maxPrice = raw.Price
		}
		if raw.Timestamp < g.firstAt {
			g.firstAt = raw.Timestamp
		}
		if raw.Timestamp > g.lastAt {
			g.lastAt = raw.Timestamp
		}
	}

	out := make([]types.AggregatedSignal, 0, len(groups))
	for key, g := range groups {
		totalSize := g.size.Sum()
		totalNotional := g.notional.Sum()

		weighted := g.lastPrice
		if totalSize > 0 {
			weighted = totalNotional / totalSize
		}

		out = append(out, types.AggregatedSignal{
			Wallet:           g.first.ProxyWallet,
			ConditionID:      g.first.ConditionID,
			Asset:            g.first.Asset,
			Side:             g.first.Side,
			Kind:             g.first.Kind,
			TransactionHash:  key.txHash,
			TotalSize:        totalSize,
			TotalNotionalUSD: totalNotional,
			WeightedPrice:    weighted,
			MinPrice:         g.minPrice,
			MaxPrice:         g.maxPrice,
			FillCount:        g.fillCount,
			FirstFillAt:      g.firstAt,
			LastFillAt:       g.lastAt,
			Title:            g.first.Title,
			Outcome:          g.first.Outcome,
		})
	}

	if len(raws) > 0 {
		a.logger.Debug("Aggregated raw fills",
			zap.Int("rawCount", len(raws)),
			zap.Int("groupCount", len(out)))
	}

	return out
}
