package buffer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

type stubLeaders struct {
	records map[string]*types.LeaderRecord
	err     error
}

func (s *stubLeaders) GetActiveLeader(_ context.Context, conditionID string) (*types.LeaderRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.records[conditionID], nil
}

func newTestBuffer(leaders LeaderSource) *Buffer {
	cfg := DefaultConfig()
	cfg.Window = time.Minute
	cfg.MinOrderNotionalUSD = 1.0
	return New(zap.NewNop(), leaders, cfg)
}

func subMinSignal(wallet, condition, asset string, notional float64, ts int64) types.AggregatedSignal {
	return types.AggregatedSignal{
		Wallet:           wallet,
		ConditionID:      condition,
		Asset:            asset,
		Side:             types.SideBuy,
		Kind:             types.SignalKindTrade,
		TransactionHash:  "0xtx",
		TotalSize:        notional * 2, // price 0.50
		TotalNotionalUSD: notional,
		WeightedPrice:    0.50,
		MinPrice:         0.50,
		MaxPrice:         0.50,
		FillCount:        1,
		FirstFillAt:      ts,
		LastFillAt:       ts,
	}
}

func TestEligibleBuySignalsBelowMinimumOnly(t *testing.T) {
	b := newTestBuffer(&stubLeaders{})

	small := subMinSignal("0xaaa", "cond-1", "asset-1", 0.40, 1000)
	assert.True(t, b.Eligible(small))

	big := subMinSignal("0xaaa", "cond-1", "asset-1", 5.0, 1000)
	assert.False(t, b.Eligible(big))

	sell := small
	sell.Side = types.SideSell
	assert.False(t, b.Eligible(sell))
}

func TestFlushReleasesWhenBatchCrossesMinimum(t *testing.T) {
	leaders := &stubLeaders{records: map[string]*types.LeaderRecord{
		"cond-1": {ConditionID: "cond-1", Wallet: "0xaaa", Active: true},
	}}
	b := newTestBuffer(leaders)

	start := time.Unix(1000, 0)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.40, 1000), start)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.70, 1030), start.Add(30*time.Second))

	result, err := b.Flush(context.Background(), start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, result.Released, 1)
	assert.Empty(t, result.Discarded)
	assert.Equal(t, 0, b.Len())

	out := result.Released[0]
	assert.Equal(t, "0xaaa", out.Wallet)
	assert.Equal(t, types.SideBuy, out.Side)
	assert.InDelta(t, 1.10, out.TotalNotionalUSD, 1e-9)
	assert.InDelta(t, 2.20, out.TotalSize, 1e-9)
	assert.InDelta(t, 0.50, out.WeightedPrice, 1e-9)
	assert.Equal(t, 2, out.FillCount)
	assert.Equal(t, int64(1000), out.FirstFillAt)
	assert.Equal(t, int64(1030), out.LastFillAt)
	assert.True(t, strings.HasPrefix(out.TransactionHash, "batch-"))
}

func TestFlushHoldsBatchUntilWindowElapses(t *testing.T) {
	leaders := &stubLeaders{records: map[string]*types.LeaderRecord{
		"cond-1": {ConditionID: "cond-1", Wallet: "0xaaa", Active: true},
	}}
	b := newTestBuffer(leaders)

	start := time.Unix(1000, 0)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.40, 1000), start)

	result, err := b.Flush(context.Background(), start.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, result.Released)
	assert.Empty(t, result.Discarded)
	assert.Equal(t, 1, b.Len())
}

func TestFlushDiscardsBatchAfterLeaderChange(t *testing.T) {
	leaders := &stubLeaders{records: map[string]*types.LeaderRecord{
		"cond-1": {ConditionID: "cond-1", Wallet: "0xbbb", Active: true},
	}}
	b := newTestBuffer(leaders)

	start := time.Unix(1000, 0)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.60, 1000), start)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.60, 1010), start)

	result, err := b.Flush(context.Background(), start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Released)
	require.Len(t, result.Discarded, 1)
	assert.Equal(t, types.ReasonLeaderChanged, result.Discarded[0].Reason)
	assert.Len(t, result.Discarded[0].Signals, 2)
	assert.Equal(t, 0, b.Len())
}

func TestFlushDiscardsExpiredBatchBelowMinimum(t *testing.T) {
	leaders := &stubLeaders{records: map[string]*types.LeaderRecord{
		"cond-1": {ConditionID: "cond-1", Wallet: "0xaaa", Active: true},
	}}
	b := newTestBuffer(leaders)

	start := time.Unix(1000, 0)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.30, 1000), start)

	result, err := b.Flush(context.Background(), start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Released)
	require.Len(t, result.Discarded, 1)
	assert.Equal(t, types.ReasonBufferBelowMinimum, result.Discarded[0].Reason)
	assert.Equal(t, 0, b.Len())
}

func TestFlushRetainsBatchWhenLeaderLookupFails(t *testing.T) {
	leaders := &stubLeaders{err: errors.New("store down")}
	b := newTestBuffer(leaders)

	start := time.Unix(1000, 0)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.60, 1000), start)

	result, err := b.Flush(context.Background(), start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Released)
	assert.Empty(t, result.Discarded)
	assert.Equal(t, 1, b.Len())

	// Store recovers and the next scan releases the held batch.
	leaders.err = nil
	leaders.records = map[string]*types.LeaderRecord{
		"cond-1": {ConditionID: "cond-1", Wallet: "0xaaa", Active: true},
	}
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.60, 1010), start)

	result, err = b.Flush(context.Background(), start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, result.Released, 1)
	assert.InDelta(t, 1.20, result.Released[0].TotalNotionalUSD, 1e-9)
}

func TestSnapshotReportsPendingBatches(t *testing.T) {
	b := newTestBuffer(&stubLeaders{})

	start := time.Unix(1000, 0)
	b.Add(subMinSignal("0xaaa", "cond-1", "asset-1", 0.40, 1000), start)
	b.Add(subMinSignal("0xbbb", "cond-2", "asset-2", 0.50, 1005), start.Add(5*time.Second))

	snaps := b.Snapshot()
	require.Len(t, snaps, 2)
	byWallet := map[string]PendingSnapshot{}
	for _, s := range snaps {
		byWallet[s.Wallet] = s
	}
	assert.InDelta(t, 0.40, byWallet["0xaaa"].NotionalUSD, 1e-9)
	assert.Equal(t, 1, byWallet["0xbbb"].Constituents)
}
