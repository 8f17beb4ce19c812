// Package leader elects a single authoritative signal source per condition
// and suppresses conflicting sources while that leadership is active.
package leader

import (
	"context"
	"time"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Store persists leader records. Implementations must guarantee that at
// most one active record exists per condition id; CreateIfAbsent resolves
// concurrent writers through that constraint, never through caller locks.
//
// Store errors are retryable collaborator failures: the coordinator
// propagates them and performs no retries of its own.
type Store interface {
	// CreateIfAbsent atomically inserts rec unless an active record for
	// its condition already exists. It returns whether the insert won and
	// the record that is now active either way.
	CreateIfAbsent(ctx context.Context, rec types.LeaderRecord) (created bool, current types.LeaderRecord, err error)

	// FindActive returns the active record for a condition, or nil.
	FindActive(ctx context.Context, conditionID string) (*types.LeaderRecord, error)

	// Deactivate clears the active flag if wallet currently holds
	// leadership of the condition. Returns whether a record changed.
	Deactivate(ctx context.Context, conditionID, wallet string) (bool, error)

	// TouchLastTrade advances the leader's last-activity timestamp using
	// a monotonic maximum; it never regresses the stored value.
	TouchLastTrade(ctx context.Context, conditionID, wallet string, ts time.Time) error

	// ListActive returns every active leader record.
	ListActive(ctx context.Context) ([]types.LeaderRecord, error)
}

// PositionLookup reports a wallet's current open exposure per condition in
// notional USD. Used by stale-leader cleanup.
type PositionLookup interface {
	Exposure(ctx context.Context, wallet string) (map[string]float64, error)
}
