package router

import (
	"context"
	"sync"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// markKey identifies one logical trade in the processed ledger.
type markKey struct {
	txHash     string
	wallet     string
	asset      string
	side       types.Side
	lastFillAt int64
}

// MemoryMarker is an in-process ProcessedMarker for tests and runs without
// a database. First mark wins; replays are no-ops.
type MemoryMarker struct {
	mu    sync.Mutex
	marks map[markKey]types.SuppressReason
}

// NewMemoryMarker creates an empty in-memory marker.
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{
		marks: make(map[markKey]types.SuppressReason),
	}
}

func keyOf(sig types.AggregatedSignal) markKey {
	return markKey{
		txHash:     sig.TransactionHash,
		wallet:     sig.Wallet,
		asset:      sig.Asset,
		side:       sig.Side,
		lastFillAt: sig.LastFillAt,
	}
}

// MarkProcessed implements ProcessedMarker.
func (m *MemoryMarker) MarkProcessed(_ context.Context, sig types.AggregatedSignal, _ bool, reason types.SuppressReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(sig)
	if _, ok := m.marks[key]; !ok {
		m.marks[key] = reason
	}
	return nil
}

// IsProcessed implements ProcessedMarker.
func (m *MemoryMarker) IsProcessed(_ context.Context, sig types.AggregatedSignal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.marks[keyOf(sig)]
	return ok, nil
}

// Reason returns the recorded reason for a signal, if any. Test helper.
func (m *MemoryMarker) Reason(sig types.AggregatedSignal) (types.SuppressReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reason, ok := m.marks[keyOf(sig)]
	return reason, ok
}
