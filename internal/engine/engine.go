// Package engine runs the copy-trading poll loop: fetch activity, aggregate
// fills, route through leader election, then size, protect and submit the
// surviving orders.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/buffer"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/execution"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/feed"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/leader"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/metrics"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/router"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/signals"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/sizing"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/slippage"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Config configures the poll loop.
type Config struct {
	PollInterval       time.Duration `json:"pollInterval"`
	CleanupInterval    time.Duration `json:"cleanupInterval"`
	StaleLeaderMaxAge  time.Duration `json:"staleLeaderMaxAge"`
	AggregationEnabled bool          `json:"aggregationEnabled"`
	WatchedWallets     []string      `json:"watchedWallets"`
	DecisionHistory    int           `json:"decisionHistory"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       500 * time.Millisecond,
		CleanupInterval:    time.Minute,
		StaleLeaderMaxAge:  24 * time.Hour,
		AggregationEnabled: true,
		DecisionHistory:    256,
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Source      feed.Source
	Aggregator  *signals.Aggregator
	Router      *router.Router
	Coordinator *leader.Coordinator
	Buffer      *buffer.Buffer
	Sizer       *sizing.Engine
	Slippage    slippage.Config
	Gateway     execution.Gateway
	Metrics     *metrics.Metrics
}

// Engine owns the single poll loop. All trading state flows through it; the
// API layer only reads snapshots.
type Engine struct {
	logger *zap.Logger
	config Config
	deps   Deps

	mu           sync.Mutex
	decisions    []types.Decision
	exposure     map[string]float64
	decisionSink func(types.Decision)

	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	lastCleanup time.Time
}

// New creates an engine.
func New(logger *zap.Logger, config Config, deps Deps) *Engine {
	return &Engine{
		logger:   logger.Named("engine"),
		config:   config,
		deps:     deps,
		exposure: make(map[string]float64),
	}
}

// Start launches the poll loop. Returns immediately; the loop stops when
// the context is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.loop(loopCtx)

	e.logger.Info("Engine started",
		zap.Duration("pollInterval", e.config.PollInterval),
		zap.Int("watchedWallets", len(e.config.WatchedWallets)))
	return nil
}

// Stop cancels the loop and waits for the in-flight iteration to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info("Engine stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Iterate(ctx, time.Now())
		}
	}
}

// Iterate runs one full pipeline pass. Exported so tests and callers can
// drive the engine without the ticker.
func (e *Engine) Iterate(ctx context.Context, now time.Time) {
	raw, err := e.deps.Source.Poll(ctx)
	if err != nil {
		e.logger.Warn("Feed poll failed", zap.Error(err))
		return
	}
	e.deps.Metrics.SignalsObserved.Add(float64(len(raw)))

	if len(raw) > 0 {
		aggregated := e.deps.Aggregator.Aggregate(raw)
		result, err := e.deps.Router.Route(ctx, aggregated)
		if err != nil {
			e.logger.Warn("Routing failed", zap.Error(err))
			return
		}

		for _, s := range result.Suppressed {
			e.recordSuppressed(s.Signal, s.Reason, now)
		}
		for _, sig := range result.Accepted {
			e.deps.Metrics.SignalsAccepted.Inc()
			if e.config.AggregationEnabled && e.deps.Buffer.Eligible(sig) {
				e.deps.Buffer.Add(sig, now)
				continue
			}
			e.dispatch(ctx, sig, false, now)
		}
	}

	flush, err := e.deps.Buffer.Flush(ctx, now)
	if err != nil {
		e.logger.Warn("Buffer flush failed", zap.Error(err))
	}
	for _, d := range flush.Discarded {
		for _, sig := range d.Signals {
			e.recordSuppressed(sig, d.Reason, now)
		}
	}
	for _, sig := range flush.Released {
		e.dispatch(ctx, sig, true, now)
	}

	e.maybeCleanup(ctx, now)
	e.deps.Metrics.PendingBatches.Set(float64(e.deps.Buffer.Len()))
}

// dispatch sizes and protects one accepted signal and submits the order.
func (e *Engine) dispatch(ctx context.Context, sig types.AggregatedSignal, aggregated bool, now time.Time) {
	balance, err := e.deps.Gateway.AvailableBalance(ctx)
	if err != nil {
		e.logger.Warn("Balance lookup failed", zap.Error(err))
		return
	}

	sized := e.deps.Sizer.CalculateOrderSize(sig.TotalNotionalUSD, balance, e.currentExposure(sig.ConditionID))
	if sized.FinalAmount <= 0 {
		e.recordSuppressed(sig, types.ReasonNotAffordable, now)
		return
	}

	instruction := types.OrderInstruction{
		ID:          uuid.NewString(),
		Wallet:      sig.Wallet,
		ConditionID: sig.ConditionID,
		Asset:       sig.Asset,
		Side:        sig.Side,
		AmountUSD:   sized.FinalAmount,
		Aggregated:  aggregated,
		SourceCount: sig.FillCount,
		Reason:      sized.Reasoning,
	}

	if sig.Side == types.SideBuy {
		decision := slippage.GetBuyDecision(sig.WeightedPrice, e.deps.Slippage)
		if !decision.ShouldExecute {
			e.logger.Info("Buy rejected by price policy",
				zap.String("conditionId", sig.ConditionID),
				zap.String("zone", string(decision.Zone)),
				zap.Float64("price", sig.WeightedPrice))
			e.recordSuppressed(sig, types.ReasonPriceRejected, now)
			return
		}
		limit := decision.MaxAcceptablePrice
		instruction.MaxPrice = &limit
		instruction.Reason += "; " + decision.Reason
	} else {
		instruction.Reason += "; " + slippage.GetSellDecision(sig.WeightedPrice).Reason
	}

	if _, err := e.deps.Gateway.SubmitOrder(ctx, instruction); err != nil {
		e.logger.Error("Order submission failed",
			zap.String("conditionId", sig.ConditionID),
			zap.Error(err))
		return
	}

	e.deps.Metrics.OrdersSubmitted.WithLabelValues(string(sig.Side)).Inc()
	e.adjustExposure(sig.ConditionID, sig.Side, sized.FinalAmount)

	// A copied sell may have been the leader's full exit; a flat leader
	// must stop suppressing everyone else.
	if sig.Side == types.SideSell {
		if _, err := e.deps.Coordinator.ReleaseIfFlat(ctx, sig.ConditionID, sig.Wallet); err != nil {
			e.logger.Warn("Leader release check failed",
				zap.String("conditionId", sig.ConditionID),
				zap.String("wallet", sig.Wallet),
				zap.Error(err))
		}
	}
	e.record(types.Decision{
		Wallet:      sig.Wallet,
		ConditionID: sig.ConditionID,
		Asset:       sig.Asset,
		Side:        sig.Side,
		NotionalUSD: sized.FinalAmount,
		Accepted:    true,
		Timestamp:   now,
	})
}

func (e *Engine) maybeCleanup(ctx context.Context, now time.Time) {
	if now.Sub(e.lastCleanup) < e.config.CleanupInterval {
		return
	}
	e.lastCleanup = now

	if _, err := e.deps.Coordinator.CleanupStaleLeaders(ctx, e.config.StaleLeaderMaxAge); err != nil {
		e.logger.Warn("Stale leader cleanup failed", zap.Error(err))
	}
	if len(e.config.WatchedWallets) > 0 {
		if _, err := e.deps.Coordinator.CleanupUnfollowedLeaders(ctx, e.config.WatchedWallets); err != nil {
			e.logger.Warn("Unfollowed leader cleanup failed", zap.Error(err))
		}
	}

	if active, err := e.deps.Coordinator.ActiveLeaders(ctx); err == nil {
		e.deps.Metrics.ActiveLeaders.Set(float64(len(active)))
	}
}

func (e *Engine) currentExposure(conditionID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exposure[conditionID]
}

func (e *Engine) adjustExposure(conditionID string, side types.Side, amountUSD float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if side == types.SideBuy {
		e.exposure[conditionID] += amountUSD
		return
	}
	e.exposure[conditionID] -= amountUSD
	if e.exposure[conditionID] <= 0 {
		delete(e.exposure, conditionID)
	}
}

func (e *Engine) recordSuppressed(sig types.AggregatedSignal, reason types.SuppressReason, now time.Time) {
	e.deps.Metrics.Suppressed(reason)
	e.record(types.Decision{
		Wallet:      sig.Wallet,
		ConditionID: sig.ConditionID,
		Asset:       sig.Asset,
		Side:        sig.Side,
		NotionalUSD: sig.TotalNotionalUSD,
		Accepted:    false,
		Reason:      reason,
		Timestamp:   now,
	})
}

// SetDecisionSink registers a callback invoked with every routing decision.
// Set it before Start; the callback must not block.
func (e *Engine) SetDecisionSink(sink func(types.Decision)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisionSink = sink
}

func (e *Engine) record(d types.Decision) {
	e.mu.Lock()
	sink := e.decisionSink
	e.mu.Unlock()
	if sink != nil {
		sink(d)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.decisions = append(e.decisions, d)
	if limit := e.config.DecisionHistory; limit > 0 && len(e.decisions) > limit {
		e.decisions = e.decisions[len(e.decisions)-limit:]
	}
}

// RecentDecisions returns the decision history, newest first.
func (e *Engine) RecentDecisions() []types.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Decision, len(e.decisions))
	for i, d := range e.decisions {
		out[len(e.decisions)-1-i] = d
	}
	return out
}

// PendingBatches exposes the buffer contents for the status API.
func (e *Engine) PendingBatches() []buffer.PendingSnapshot {
	return e.deps.Buffer.Snapshot()
}

// Leaders exposes the active leader set for the status API.
func (e *Engine) Leaders(ctx context.Context) ([]types.LeaderRecord, error) {
	return e.deps.Coordinator.ActiveLeaders(ctx)
}
