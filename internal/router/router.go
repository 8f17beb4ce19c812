// Package router resolves conflicting signals for one condition down to the
// single authoritative source and suppresses the rest.
package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/leader"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// ProcessedMarker durably records routing outcomes so a replayed batch can
// never act twice on the same logical trade. Marking is idempotent.
type ProcessedMarker interface {
	MarkProcessed(ctx context.Context, sig types.AggregatedSignal, accepted bool, reason types.SuppressReason) error
	IsProcessed(ctx context.Context, sig types.AggregatedSignal) (bool, error)
}

// Config configures the trade router.
type Config struct {
	// ElectionWindow bounds how far apart two signals may be and still
	// compete for the same leadership decision. Distinct from the
	// aggregation buffer window, which batches sub-minimum orders.
	ElectionWindow time.Duration `json:"electionWindow"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ElectionWindow: 2 * time.Second,
	}
}

// Suppressed is one rejected signal with its audit reason.
type Suppressed struct {
	Signal types.AggregatedSignal
	Reason types.SuppressReason
}

// Result partitions a routed batch.
type Result struct {
	Accepted   []types.AggregatedSignal
	Suppressed []Suppressed
}

// Router groups incoming aggregated signals by condition and short time
// window, consults the leader coordinator, and forwards only the
// authoritative signals downstream.
type Router struct {
	logger      *zap.Logger
	coordinator *leader.Coordinator
	marker      ProcessedMarker
	config      Config
}

// NewRouter creates a new trade router.
func NewRouter(logger *zap.Logger, coordinator *leader.Coordinator, marker ProcessedMarker, config Config) *Router {
	return &Router{
		logger:      logger.Named("trade-router"),
		coordinator: coordinator,
		marker:      marker,
		config:      config,
	}
}

// Route partitions a batch into accepted and suppressed signals.
//
// Signals are grouped per condition, ordered by timestamp (ties broken by
// larger notional first), and cut into consecutive election windows. Within
// a window the active leader's signals are accepted BUY-before-SELL, larger
// notional first; everything else is suppressed with a stable reason and
// durably marked so replays are no-ops.
func (r *Router) Route(ctx context.Context, signals []types.AggregatedSignal) (Result, error) {
	var result Result

	byCondition := make(map[string][]types.AggregatedSignal)
	for _, sig := range signals {
		done, err := r.marker.IsProcessed(ctx, sig)
		if err != nil {
			return Result{}, fmt.Errorf("processed lookup: %w", err)
		}
		if done {
			r.logger.Debug("Skipping already processed signal",
				zap.String("txHash", sig.TransactionHash),
				zap.String("wallet", sig.Wallet))
			continue
		}
		byCondition[sig.ConditionID] = append(byCondition[sig.ConditionID], sig)
	}

	for conditionID, group := range byCondition {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Timestamp() != group[j].Timestamp() {
				return group[i].Timestamp() < group[j].Timestamp()
			}
			return group[i].TotalNotionalUSD > group[j].TotalNotionalUSD
		})

		for start := 0; start < len(group); {
			windowEnd := group[start].Timestamp() + int64(r.config.ElectionWindow/time.Second)
			end := start + 1
			for end < len(group) && group[end].Timestamp() <= windowEnd {
				end++
			}

			if err := r.routeWindow(ctx, conditionID, group[start:end], &result); err != nil {
				return Result{}, err
			}
			start = end
		}
	}

	return result, nil
}

// routeWindow resolves one election window for one condition.
func (r *Router) routeWindow(ctx context.Context, conditionID string, window []types.AggregatedSignal, result *Result) error {
	rec, err := r.coordinator.GetActiveLeader(ctx, conditionID)
	if err != nil {
		return fmt.Errorf("leader lookup for %s: %w", conditionID, err)
	}

	if rec == nil {
		var candidates []types.AggregatedSignal
		for _, sig := range window {
			if sig.Side == types.SideBuy {
				candidates = append(candidates, sig)
			}
		}

		rec, err = r.coordinator.EstablishLeader(ctx, candidates)
		if err != nil {
			return fmt.Errorf("establish leader for %s: %w", conditionID, err)
		}
		if rec == nil {
			// Nothing in the window may found leadership; the whole
			// window is suppressed.
			for _, sig := range window {
				r.suppress(ctx, sig, types.ReasonNoLeaderCandidate, result)
			}
			return nil
		}
	}

	var fromLeader, others []types.AggregatedSignal
	for _, sig := range window {
		if sig.Wallet == rec.Wallet {
			fromLeader = append(fromLeader, sig)
		} else {
			others = append(others, sig)
		}
	}

	// Opening exposure is accepted before reducing it: BUY before SELL,
	// larger notional first.
	sort.SliceStable(fromLeader, func(i, j int) bool {
		if fromLeader[i].Side != fromLeader[j].Side {
			return fromLeader[i].Side == types.SideBuy
		}
		return fromLeader[i].TotalNotionalUSD > fromLeader[j].TotalNotionalUSD
	})

	for _, sig := range fromLeader {
		if err := r.coordinator.RecordLeaderTrade(ctx, conditionID, rec.Wallet, time.Unix(sig.Timestamp(), 0).UTC()); err != nil {
			r.logger.Warn("Failed to record leader activity",
				zap.String("conditionId", conditionID),
				zap.Error(err))
		}
		if err := r.marker.MarkProcessed(ctx, sig, true, ""); err != nil {
			r.logger.Warn("Failed to mark accepted signal",
				zap.String("txHash", sig.TransactionHash),
				zap.String("wallet", sig.Wallet),
				zap.Error(err))
		}
		result.Accepted = append(result.Accepted, sig)
	}

	for _, sig := range others {
		r.suppress(ctx, sig, types.ReasonNotLeader, result)
	}

	return nil
}

// suppress marks a signal rejected and records it in the result.
func (r *Router) suppress(ctx context.Context, sig types.AggregatedSignal, reason types.SuppressReason, result *Result) {
	if err := r.marker.MarkProcessed(ctx, sig, false, reason); err != nil {
		r.logger.Warn("Failed to mark suppressed signal",
			zap.String("txHash", sig.TransactionHash),
			zap.String("wallet", sig.Wallet),
			zap.Error(err))
	}

	r.logger.Info("Signal suppressed",
		zap.String("conditionId", sig.ConditionID),
		zap.String("wallet", sig.Wallet),
		zap.String("side", string(sig.Side)),
		zap.Float64("notionalUsd", sig.TotalNotionalUSD),
		zap.String("reason", string(reason)))

	result.Suppressed = append(result.Suppressed, Suppressed{Signal: sig, Reason: reason})
}
