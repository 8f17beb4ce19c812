// Package buffer batches sub-minimum accepted signals until they cross the
// venue's minimum order notional or a leader change invalidates them.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/numeric"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Config configures the aggregation buffer.
type Config struct {
	// Window is how long a pending batch accumulates before the release
	// check fires. Independent from the router's election window.
	Window time.Duration `json:"window"`

	// MinOrderNotionalUSD is the venue's minimum order value. Accepted
	// BUY signals below it are buffered; everything else bypasses.
	MinOrderNotionalUSD float64 `json:"minOrderNotionalUsd"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Window:              5 * time.Minute,
		MinOrderNotionalUSD: 1.0,
	}
}

// LeaderSource answers who currently leads a condition. Satisfied by the
// leader coordinator.
type LeaderSource interface {
	GetActiveLeader(ctx context.Context, conditionID string) (*types.LeaderRecord, error)
}

// key identifies one pending batch.
type key struct {
	wallet      string
	conditionID string
	asset       string
	side        types.Side
}

// pending is one below-minimum batch still accumulating.
type pending struct {
	first        types.AggregatedSignal
	size         numeric.Accumulator
	notional     numeric.Accumulator
	constituents []types.AggregatedSignal
	windowStart  time.Time
	lastUpdate   time.Time
}

// Discarded is a batch dropped without execution, with its audit reason.
type Discarded struct {
	Signals []types.AggregatedSignal
	Reason  types.SuppressReason
}

// FlushResult reports the outcome of one periodic scan.
type FlushResult struct {
	Released  []types.AggregatedSignal
	Discarded []Discarded
}

// Buffer is process-local in-memory state owned by the poll loop. If
// multiple processes run concurrently they must watch disjoint wallet sets;
// the buffer does not coordinate across processes.
type Buffer struct {
	logger  *zap.Logger
	config  Config
	leaders LeaderSource

	mu      sync.Mutex
	pending map[key]*pending
}

// New creates an empty aggregation buffer.
func New(logger *zap.Logger, leaders LeaderSource, config Config) *Buffer {
	return &Buffer{
		logger:  logger.Named("aggregation-buffer"),
		config:  config,
		leaders: leaders,
		pending: make(map[key]*pending),
	}
}

// Eligible reports whether an accepted signal belongs in the buffer: only
// BUY signals below the venue minimum are batched.
func (b *Buffer) Eligible(sig types.AggregatedSignal) bool {
	return sig.Side == types.SideBuy && sig.TotalNotionalUSD < b.config.MinOrderNotionalUSD
}

// Add accumulates an accepted sub-minimum signal into its pending batch,
// creating the batch (and starting its window) on first sight.
func (b *Buffer) Add(sig types.AggregatedSignal, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{
		wallet:      sig.Wallet,
		conditionID: sig.ConditionID,
		asset:       sig.Asset,
		side:        sig.Side,
	}

	p, ok := b.pending[k]
	if !ok {
		p = &pending{
			first:       sig,
			windowStart: now,
		}
		b.pending[k] = p
	}

	p.size.Add(sig.TotalSize)
	p.notional.Add(sig.TotalNotionalUSD)
	p.constituents = append(p.constituents, sig)
	p.lastUpdate = now

	b.logger.Debug("Signal buffered",
		zap.String("wallet", sig.Wallet),
		zap.String("conditionId", sig.ConditionID),
		zap.Float64("batchNotionalUsd", p.notional.Sum()),
		zap.Int("constituents", len(p.constituents)))
}

// Flush runs the periodic release check over every pending batch whose
// window has elapsed. For each such batch, in order:
//
//  1. if the condition's leader is no longer the batch's wallet, the batch
//     is discarded and its constituents suppressed;
//  2. else if the accumulated notional reached the minimum, one synthetic
//     aggregated signal is released for sizing;
//  3. else the constituents are recorded processed-without-action.
//
// Batches whose window has not elapsed are held untouched.
func (b *Buffer) Flush(ctx context.Context, now time.Time) (FlushResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result FlushResult

	for k, p := range b.pending {
		if now.Sub(p.windowStart) < b.config.Window {
			continue
		}

		rec, err := b.leaders.GetActiveLeader(ctx, k.conditionID)
		if err != nil {
			// Store unavailable: keep the batch and let the next scan
			// retry.
			b.logger.Warn("Leader lookup failed during flush",
				zap.String("conditionId", k.conditionID),
				zap.Error(err))
			continue
		}

		delete(b.pending, k)

		if rec == nil || rec.Wallet != k.wallet {
			b.logger.Info("Discarding batch after leader change",
				zap.String("wallet", k.wallet),
				zap.String("conditionId", k.conditionID),
				zap.Int("constituents", len(p.constituents)))
			result.Discarded = append(result.Discarded, Discarded{
				Signals: p.constituents,
				Reason:  types.ReasonLeaderChanged,
			})
			continue
		}

		total := p.notional.Sum()
		if total < b.config.MinOrderNotionalUSD {
			b.logger.Info("Batch expired below minimum",
				zap.String("wallet", k.wallet),
				zap.String("conditionId", k.conditionID),
				zap.Float64("notionalUsd", total))
			result.Discarded = append(result.Discarded, Discarded{
				Signals: p.constituents,
				Reason:  types.ReasonBufferBelowMinimum,
			})
			continue
		}

		result.Released = append(result.Released, b.synthesize(k, p))
	}

	return result, nil
}

// synthesize folds a pending batch into one releasable aggregated signal.
func (b *Buffer) synthesize(k key, p *pending) types.AggregatedSignal {
	totalSize := p.size.Sum()
	totalNotional := p.notional.Sum()

	weighted := p.first.WeightedPrice
	if totalSize > 0 {
		weighted = totalNotional / totalSize
	}

	minPrice := p.constituents[0].MinPrice
	maxPrice := p.constituents[0].MaxPrice
	firstAt := p.constituents[0].FirstFillAt
	lastAt := p.constituents[0].LastFillAt
	fills := 0
	for _, sig := range p.constituents {
		fills += sig.FillCount
		if sig.MinPrice < minPrice {
			minPrice = sig.MinPrice
		}
		if sig.MaxPrice > maxPrice {
			maxPrice = sig.MaxPrice
		}
		if sig.FirstFillAt < firstAt {
			firstAt = sig.FirstFillAt
		}
		if sig.LastFillAt > lastAt {
			lastAt = sig.LastFillAt
		}
	}

	b.logger.Info("Releasing aggregated batch",
		zap.String("wallet", k.wallet),
		zap.String("conditionId", k.conditionID),
		zap.Float64("notionalUsd", totalNotional),
		zap.Int("constituents", len(p.constituents)))

	return types.AggregatedSignal{
		Wallet:           k.wallet,
		ConditionID:      k.conditionID,
		Asset:            k.asset,
		Side:             k.side,
		Kind:             p.first.Kind,
		TransactionHash:  "batch-" + uuid.NewString(),
		TotalSize:        totalSize,
		TotalNotionalUSD: totalNotional,
		WeightedPrice:    weighted,
		MinPrice:         minPrice,
		MaxPrice:         maxPrice,
		FillCount:        fills,
		FirstFillAt:      firstAt,
		LastFillAt:       lastAt,
		Title:            p.first.Title,
		Outcome:          p.first.Outcome,
	}
}

// PendingSnapshot is a read-only view of one pending batch for the status
// API.
type PendingSnapshot struct {
	Wallet       string     `json:"wallet"`
	ConditionID  string     `json:"conditionId"`
	Asset        string     `json:"asset"`
	Side         types.Side `json:"side"`
	NotionalUSD  float64    `json:"notionalUsd"`
	Constituents int        `json:"constituents"`
	WindowStart  time.Time  `json:"windowStart"`
	LastUpdate   time.Time  `json:"lastUpdate"`
}

// Snapshot lists the pending batches.
func (b *Buffer) Snapshot() []PendingSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingSnapshot, 0, len(b.pending))
	for k, p := range b.pending {
		out = append(out, PendingSnapshot{
			Wallet:       k.wallet,
			ConditionID:  k.conditionID,
			Asset:        k.asset,
			Side:         k.side,
			NotionalUSD:  p.notional.Sum(),
			Constituents: len(p.constituents),
			WindowStart:  p.windowStart,
			LastUpdate:   p.lastUpdate,
		})
	}
	return out
}

// Len returns the number of pending batches.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}
