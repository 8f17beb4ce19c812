package signals_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/signals"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

func fill(tx string, size, notional, price float64, ts int64) types.RawSignal {
	return types.RawSignal{
		ProxyWallet:     "0xwhale",
		ConditionID:     "cond-1",
		Asset:           "token-yes",
		Side:            types.SideBuy,
		Kind:            types.SignalKindTrade,
		Size:            size,
		NotionalUSD:     notional,
		Price:           price,
		Timestamp:       ts,
		TransactionHash: tx,
	}
}

func TestAggregateMergesFillsFromOneSettlement(t *testing.T) {
	agg := signals.NewAggregator(zap.NewNop())

	out := agg.Aggregate([]types.RawSignal{
		fill("0xabc", 100, 60, 0.60, 1000),
		fill("0xabc", 50, 31, 0.62, 1002),
		fill("0xabc", 25, 15, 0.60, 1001),
	})

	require.Len(t, out, 1)
	got := out[0]

	assert.InDelta(t, 175.0, got.TotalSize, 1e-9)
	assert.InDelta(t, 106.0, got.TotalNotionalUSD, 1e-9)
	assert.InDelta(t, got.TotalNotionalUSD, got.WeightedPrice*got.TotalSize, 1e-9)
	assert.Equal(t, 3, got.FillCount)
	assert.InDelta(t, 0.60, got.MinPrice, 1e-9)
	assert.InDelta(t, 0.62, got.MaxPrice, 1e-9)
	assert.Equal(t, int64(1000), got.FirstFillAt)
	assert.Equal(t, int64(1002), got.LastFillAt)
	assert.Equal(t, int64(1002), got.Timestamp())
}

func TestAggregateNormalizesSignedQuantities(t *testing.T) {
	agg := signals.NewAggregator(zap.NewNop())

	signed := agg.Aggregate([]types.RawSignal{
		fill("0xabc", -100, -60, 0.60, 1000),
		fill("0xabc", -50, -30, 0.60, 1001),
	})
	absolute := agg.Aggregate([]types.RawSignal{
		fill("0xabc", 100, 60, 0.60, 1000),
		fill("0xabc", 50, 30, 0.60, 1001),
	})

	require.Len(t, signed, 1)
	require.Len(t, absolute, 1)
	assert.Equal(t, absolute[0].TotalSize, signed[0].TotalSize)
	assert.Equal(t, absolute[0].TotalNotionalUSD, signed[0].TotalNotionalUSD)
}

func TestAggregateDedupesOnlyExplicitFillIDs(t *testing.T) {
	agg := signals.NewAggregator(zap.NewNop())

	withID := fill("0xabc", 100, 60, 0.60, 1000)
	withID.FillID = "fill-1"

	out := agg.Aggregate([]types.RawSignal{withID, withID})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].FillCount)
	assert.InDelta(t, 100.0, out[0].TotalSize, 1e-9)

	// The very same rows without any id count twice: the feed is assumed
	// not to redeliver unidentified fills.
	noID := fill("0xabc", 100, 60, 0.60, 1000)
	out = agg.Aggregate([]types.RawSignal{noID, noID})
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].FillCount)
	assert.InDelta(t, 200.0, out[0].TotalSize, 1e-9)
}

func TestAggregateNeverMergesWithoutSettlementReference(t *testing.T) {
	agg := signals.NewAggregator(zap.NewNop())

	out := agg.Aggregate([]types.RawSignal{
		fill("", 100, 60, 0.60, 1000),
		fill("", 100, 60, 0.60, 1000),
	})

	require.Len(t, out, 2)

	// Each hashless fill leaves with its own synthetic hash so the
	// processed ledger can tell them apart.
	assert.NotEmpty(t, out[0].TransactionHash)
	assert.NotEmpty(t, out[1].TransactionHash)
	assert.NotEqual(t, out[0].TransactionHash, out[1].TransactionHash)
}

func TestAggregateZeroSizeFallsBackToRawPrice(t *testing.T) {
	agg := signals.NewAggregator(zap.NewNop())

	out := agg.Aggregate([]types.RawSignal{fill("0xabc", 0, 0, 0.42, 1000)})

	require.Len(t, out, 1)
	assert.Equal(t, 0.42, out[0].WeightedPrice)
}

func TestAggregateSeparatesSidesAndAssets(t *testing.T) {
	agg := signals.NewAggregator(zap.NewNop())

	sell := fill("0xabc", 10, 6, 0.60, 1000)
	sell.Side = types.SideSell
	otherAsset := fill("0xabc", 10, 6, 0.60, 1000)
	otherAsset.Asset = "token-no"

	out := agg.Aggregate([]types.RawSignal{
		fill("0xabc", 10, 6, 0.60, 1000),
		sell,
		otherAsset,
	})

	assert.Len(t, out, 3)
}

func TestAggregateManySmallFillsStaysStable(t *testing.T) {
	agg := signals.NewAggregator(zap.NewNop())

	raws := make([]types.RawSignal, 0, 10000)
	for i := 0; i < 10000; i++ {
		raws = append(raws, fill("0xabc", 0.1, 0.06, 0.60, 1000+int64(i)))
	}

	out := agg.Aggregate(raws)
	require.Len(t, out, 1)
	assert.True(t, math.Abs(out[0].TotalSize-1000.0) < 1e-6)
	assert.True(t, math.Abs(out[0].TotalNotionalUSD-600.0) < 1e-6)
	assert.InDelta(t, 0.60, out[0].WeightedPrice, 1e-9)
}
