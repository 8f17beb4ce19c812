package leader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// CoordinatorConfig configures the election coordinator.
type CoordinatorConfig struct {
	// DustThresholdUSD is the residual exposure treated as effectively
	// zero when deciding whether a stale leader may be released.
	DustThresholdUSD float64 `json:"dustThresholdUsd"`
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DustThresholdUSD: 1.0,
	}
}

// Coordinator decides, per condition, which watched wallet's signals are
// authoritative. All race resolution is delegated to the store's atomic
// uniqueness guarantee, so multiple coordinator instances may run
// concurrently against the same store.
type Coordinator struct {
	logger    *zap.Logger
	store     Store
	positions PositionLookup
	config    CoordinatorConfig
}

// NewCoordinator creates a new election coordinator.
func NewCoordinator(logger *zap.Logger, store Store, positions PositionLookup, config CoordinatorConfig) *Coordinator {
	return &Coordinator{
		logger:    logger.Named("leader-coordinator"),
		store:     store,
		positions: positions,
		config:    config,
	}
}

// GetActiveLeader returns the active leader for a condition, or nil.
func (c *Coordinator) GetActiveLeader(ctx context.Context, conditionID string) (*types.LeaderRecord, error) {
	return c.store.FindActive(ctx, conditionID)
}

// ActiveLeaders lists every condition's active leader record.
func (c *Coordinator) ActiveLeaders(ctx context.Context) ([]types.LeaderRecord, error) {
	return c.store.ListActive(ctx)
}

// EstablishLeader elects a leader from the given candidate signals.
//
// Only BUY-side candidates qualify: leadership models who is opening
// exposure that others should follow, so a SELL can never found it. The
// candidate with the largest notional wins; equal notionals break to the
// lexicographically smallest wallet so the outcome is deterministic across
// input orderings. Returns nil when no candidate qualifies.
//
// Losing the creation race to a concurrent writer is not an error: the
// record that won is returned, and callers must treat "established" and
// "already existed" as the same successful outcome.
func (c *Coordinator) EstablishLeader(ctx context.Context, candidates []types.AggregatedSignal) (*types.LeaderRecord, error) {
	var best *types.AggregatedSignal
	for i := range candidates {
		cand := &candidates[i]
		if cand.Side != types.SideBuy {
			continue
		}
		if best == nil ||
			cand.TotalNotionalUSD > best.TotalNotionalUSD ||
			(cand.TotalNotionalUSD == best.TotalNotionalUSD && cand.Wallet < best.Wallet) {
			best = cand
		}
	}
	if best == nil {
		return nil, nil
	}

	rec := types.LeaderRecord{
		ConditionID:        best.ConditionID,
		Wallet:             best.Wallet,
		Side:               types.SideBuy,
		InitialSize:        best.TotalSize,
		InitialNotionalUSD: best.TotalNotionalUSD,
		TransactionHash:    best.TransactionHash,
		EstablishedAt:      time.Unix(best.LastFillAt, 0).UTC(),
		Active:             true,
		Title:              best.Title,
		Outcome:            best.Outcome,
	}

	created, current, err := c.store.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create leader record: %w", err)
	}

	if created {
		c.logger.Info("Leadership established",
			zap.String("conditionId", current.ConditionID),
			zap.String("wallet", current.Wallet),
			zap.Float64("notionalUsd", current.InitialNotionalUSD))
	} else {
		c.logger.Info("Leadership race lost, following existing leader",
			zap.String("conditionId", current.ConditionID),
			zap.String("wallet", current.Wallet))
	}

	return &current, nil
}

// RecordLeaderTrade advances the leader's last-activity timestamp. The
// update is a monotonic maximum and never regresses.
func (c *Coordinator) RecordLeaderTrade(ctx context.Context, conditionID, wallet string, ts time.Time) error {
	return c.store.TouchLastTrade(ctx, conditionID, wallet, ts)
}

// ReleaseLeadership deactivates the leader record only if wallet currently
// holds it. Idempotent: releasing a non-leader is a no-op returning false.
func (c *Coordinator) ReleaseLeadership(ctx context.Context, conditionID, wallet string) (bool, error) {
	released, err := c.store.Deactivate(ctx, conditionID, wallet)
	if err != nil {
		return false, fmt.Errorf("release leadership: %w", err)
	}
	if released {
		c.logger.Info("Leadership released",
			zap.String("conditionId", conditionID),
			zap.String("wallet", wallet))
	}
	return released, nil
}

// ReleaseIfFlat releases wallet's leadership when its remaining exposure in
// the condition is at or below the dust threshold. Called after a leader
// sell is copied so a fully exited leader stops suppressing other wallets.
// Without a position lookup exposure is unknown and the leader is kept.
func (c *Coordinator) ReleaseIfFlat(ctx context.Context, conditionID, wallet string) (bool, error) {
	if c.positions == nil {
		return false, nil
	}
	exposure, err := c.positions.Exposure(ctx, wallet)
	if err != nil {
		return false, fmt.Errorf("position lookup: %w", err)
	}
	if exposure[conditionID] > c.config.DustThresholdUSD {
		return false, nil
	}
	return c.ReleaseLeadership(ctx, conditionID, wallet)
}

// CleanupStaleLeaders deactivates leaders with no activity within maxAge
// whose remaining exposure in the condition is at or below the dust
// threshold. A position lookup failure for one candidate is logged and
// skipped so it cannot block cleanup of the others.
func (c *Coordinator) CleanupStaleLeaders(ctx context.Context, maxAge time.Duration) (int, error) {
	active, err := c.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active leaders: %w", err)
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	released := 0

	for _, rec := range active {
		lastActivity := rec.LastTradeAt
		if lastActivity.IsZero() {
			lastActivity = rec.EstablishedAt
		}
		if !lastActivity.Before(cutoff) {
			continue
		}

		if c.positions == nil {
			// No lookup configured; exposure is unknown, keep the leader.
			continue
		}
		exposure, err := c.positions.Exposure(ctx, rec.Wallet)
		if err != nil {
			c.logger.Warn("Position lookup failed, skipping stale candidate",
				zap.String("conditionId", rec.ConditionID),
				zap.String("wallet", rec.Wallet),
				zap.Error(err))
			continue
		}
		if exposure[rec.ConditionID] > c.config.DustThresholdUSD {
			continue
		}

		ok, err := c.store.Deactivate(ctx, rec.ConditionID, rec.Wallet)
		if err != nil {
			c.logger.Warn("Failed to deactivate stale leader",
				zap.String("conditionId", rec.ConditionID),
				zap.Error(err))
			continue
		}
		if ok {
			released++
			c.logger.Info("Stale leadership released",
				zap.String("conditionId", rec.ConditionID),
				zap.String("wallet", rec.Wallet),
				zap.Time("lastActivity", lastActivity))
		}
	}

	return released, nil
}

// CleanupUnfollowedLeaders deactivates every active leader whose wallet is
// no longer in the configured watch set, regardless of exposure.
func (c *Coordinator) CleanupUnfollowedLeaders(ctx context.Context, watched []string) (int, error) {
	active, err := c.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active leaders: %w", err)
	}

	watchedSet := make(map[string]bool, len(watched))
	for _, w := range watched {
		watchedSet[w] = true
	}

	released := 0
	for _, rec := range active {
		if watchedSet[rec.Wallet] {
			continue
		}
		ok, err := c.store.Deactivate(ctx, rec.ConditionID, rec.Wallet)
		if err != nil {
			c.logger.Warn("Failed to deactivate unfollowed leader",
				zap.String("conditionId", rec.ConditionID),
				zap.Error(err))
			continue
		}
		if ok {
			released++
			c.logger.Info("Unfollowed leadership released",
				zap.String("conditionId", rec.ConditionID),
				zap.String("wallet", rec.Wallet))
		}
	}

	return released, nil
}
