package leader

import (
	"context"
	"sync"
	"time"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// MemoryStore is an in-process Store with the same atomicity contract as
// the Postgres implementation. Suitable for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*types.LeaderRecord // conditionID -> active record
}

// NewMemoryStore creates an empty in-memory leader store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*types.LeaderRecord),
	}
}

// CreateIfAbsent implements Store.
func (m *MemoryStore) CreateIfAbsent(_ context.Context, rec types.LeaderRecord) (bool, types.LeaderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[rec.ConditionID]; ok {
		return false, *existing, nil
	}

	rec.Active = true
	stored := rec
	m.records[rec.ConditionID] = &stored
	return true, stored, nil
}

// FindActive implements Store.
func (m *MemoryStore) FindActive(_ context.Context, conditionID string) (*types.LeaderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[conditionID]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// Deactivate implements Store.
func (m *MemoryStore) Deactivate(_ context.Context, conditionID, wallet string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[conditionID]
	if !ok || rec.Wallet != wallet {
		return false, nil
	}
	delete(m.records, conditionID)
	return true, nil
}

// TouchLastTrade implements Store.
func (m *MemoryStore) TouchLastTrade(_ context.Context, conditionID, wallet string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[conditionID]
	if !ok || rec.Wallet != wallet {
		return nil
	}
	if ts.After(rec.LastTradeAt) {
		rec.LastTradeAt = ts
	}
	return nil
}

// ListActive implements Store.
func (m *MemoryStore) ListActive(_ context.Context) ([]types.LeaderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.LeaderRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	return out, nil
}
