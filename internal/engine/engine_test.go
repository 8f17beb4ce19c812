package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/buffer"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/execution"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/leader"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/metrics"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/router"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/signals"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/sizing"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/slippage"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// queueSource feeds one prepared batch per poll.
type queueSource struct {
	batches [][]types.RawSignal
}

func (q *queueSource) Poll(context.Context) ([]types.RawSignal, error) {
	if len(q.batches) == 0 {
		return nil, nil
	}
	batch := q.batches[0]
	q.batches = q.batches[1:]
	return batch, nil
}

// stubPositions serves fixed per-wallet exposure maps.
type stubPositions struct {
	exposure map[string]map[string]float64
}

func (s *stubPositions) Exposure(_ context.Context, wallet string) (map[string]float64, error) {
	return s.exposure[wallet], nil
}

type fixture struct {
	engine  *Engine
	source  *queueSource
	gateway *execution.PaperGateway
	store   *leader.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithPositions(t, nil)
}

func newFixtureWithPositions(t *testing.T, positions leader.PositionLookup) *fixture {
	t.Helper()
	logger := zap.NewNop()

	store := leader.NewMemoryStore()
	coordinator := leader.NewCoordinator(logger, store, positions, leader.DefaultCoordinatorConfig())
	rtr := router.NewRouter(logger, coordinator, router.NewMemoryMarker(), router.DefaultConfig())

	bufCfg := buffer.DefaultConfig()
	bufCfg.Window = time.Minute
	buf := buffer.New(logger, coordinator, bufCfg)

	sizeCfg := sizing.DefaultConfig()
	sizeCfg.CopySize = 10
	sizer := sizing.NewEngine(logger, sizeCfg)

	gateway := execution.NewPaperGateway(logger, 1000)
	source := &queueSource{}

	cfg := DefaultConfig()
	cfg.AggregationEnabled = true
	cfg.WatchedWallets = []string{"0xaaa", "0xbbb"}

	eng := New(logger, cfg, Deps{
		Source:      source,
		Aggregator:  signals.NewAggregator(logger),
		Router:      rtr,
		Coordinator: coordinator,
		Buffer:      buf,
		Sizer:       sizer,
		Slippage:    slippage.DefaultConfig(),
		Gateway:     gateway,
		Metrics:     metrics.New(prometheus.NewRegistry()),
	})
	return &fixture{engine: eng, source: source, gateway: gateway, store: store}
}

func rawBuy(wallet, tx, fill string, notional float64, ts int64) types.RawSignal {
	return types.RawSignal{
		ProxyWallet:     wallet,
		ConditionID:     "cond-1",
		Asset:           "asset-1",
		Side:            types.SideBuy,
		Kind:            types.SignalKindTrade,
		Size:            notional * 2,
		NotionalUSD:     notional,
		Price:           0.5,
		Timestamp:       ts,
		TransactionHash: tx,
		FillID:          fill,
	}
}

func TestEngineCopiesOnlyTheElectedLeader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two wallets buy into the same condition within the election window;
	// the larger notional wins leadership.
	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xaaa", "0xt1", "f1", 50, 1000),
		rawBuy("0xbbb", "0xt2", "f2", 200, 1001),
	})
	f.engine.Iterate(ctx, time.Unix(1002, 0))

	rec, err := f.store.FindActive(ctx, "cond-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "0xbbb", rec.Wallet)

	receipts := f.gateway.Receipts()
	require.Len(t, receipts, 1)
	assert.Equal(t, types.SideBuy, receipts[0].Side)
	assert.Equal(t, "20", receipts[0].AmountUSD.String())
	// Combat-zone cap on the 0.50 weighted price.
	assert.Equal(t, "0.53", receipts[0].LimitPrice.String())

	decisions := f.engine.RecentDecisions()
	require.Len(t, decisions, 2)
	var suppressed *types.Decision
	for i := range decisions {
		if !decisions[i].Accepted {
			suppressed = &decisions[i]
		}
	}
	require.NotNil(t, suppressed)
	assert.Equal(t, "0xaaa", suppressed.Wallet)
	assert.Equal(t, types.ReasonNotLeader, suppressed.Reason)
}

func TestEngineSuppressesNonLeaderSell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xbbb", "0xt1", "f1", 200, 1000),
	})
	f.engine.Iterate(ctx, time.Unix(1001, 0))
	require.Len(t, f.gateway.Receipts(), 1)

	// A different wallet sells later; the leader stays authoritative.
	sell := rawBuy("0xaaa", "0xt3", "f3", 80, 1100)
	sell.Side = types.SideSell
	sell.Size = -sell.Size
	f.source.batches = append(f.source.batches, []types.RawSignal{sell})
	f.engine.Iterate(ctx, time.Unix(1101, 0))

	assert.Len(t, f.gateway.Receipts(), 1)
	latest := f.engine.RecentDecisions()[0]
	assert.False(t, latest.Accepted)
	assert.Equal(t, types.ReasonNotLeader, latest.Reason)
}

func TestEngineLeaderSellHasNoPriceCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xbbb", "0xt1", "f1", 200, 1000),
	})
	f.engine.Iterate(ctx, time.Unix(1001, 0))

	sell := rawBuy("0xbbb", "0xt2", "f2", 100, 1100)
	sell.Side = types.SideSell
	f.source.batches = append(f.source.batches, []types.RawSignal{sell})
	f.engine.Iterate(ctx, time.Unix(1101, 0))

	receipts := f.gateway.Receipts()
	require.Len(t, receipts, 2)
	assert.Equal(t, types.SideSell, receipts[1].Side)
	assert.True(t, receipts[1].LimitPrice.IsZero())
	assert.Contains(t, receipts[1].Reason, "without price protection")
}

func TestEngineReleasesLeadershipWhenLeaderExits(t *testing.T) {
	positions := &stubPositions{
		exposure: map[string]map[string]float64{
			"0xbbb": {"cond-1": 200},
		},
	}
	f := newFixtureWithPositions(t, positions)
	ctx := context.Background()

	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xbbb", "0xt1", "f1", 200, 1000),
	})
	f.engine.Iterate(ctx, time.Unix(1001, 0))
	require.Len(t, f.gateway.Receipts(), 1)

	// The leader sells out completely; copying the exit must also vacate
	// the leader record instead of leaving it to the stale-age sweep.
	positions.exposure["0xbbb"]["cond-1"] = 0
	sell := rawBuy("0xbbb", "0xt2", "f2", 200, 1100)
	sell.Side = types.SideSell
	f.source.batches = append(f.source.batches, []types.RawSignal{sell})
	f.engine.Iterate(ctx, time.Unix(1101, 0))
	require.Len(t, f.gateway.Receipts(), 2)

	rec, err := f.store.FindActive(ctx, "cond-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "flat leader must not keep suppressing other wallets")

	// The condition is open again: another wallet can now take leadership.
	positions.exposure["0xaaa"] = map[string]float64{"cond-1": 120}
	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xaaa", "0xt3", "f3", 120, 1200),
	})
	f.engine.Iterate(ctx, time.Unix(1201, 0))

	rec, err = f.store.FindActive(ctx, "cond-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "0xaaa", rec.Wallet)
	assert.Len(t, f.gateway.Receipts(), 3)
}

func TestEngineKeepsLeaderWhoStillHolds(t *testing.T) {
	positions := &stubPositions{
		exposure: map[string]map[string]float64{
			"0xbbb": {"cond-1": 200},
		},
	}
	f := newFixtureWithPositions(t, positions)
	ctx := context.Background()

	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xbbb", "0xt1", "f1", 200, 1000),
	})
	f.engine.Iterate(ctx, time.Unix(1001, 0))

	// A partial exit leaves real exposure behind; leadership stands.
	positions.exposure["0xbbb"]["cond-1"] = 120
	sell := rawBuy("0xbbb", "0xt2", "f2", 80, 1100)
	sell.Side = types.SideSell
	f.source.batches = append(f.source.batches, []types.RawSignal{sell})
	f.engine.Iterate(ctx, time.Unix(1101, 0))

	rec, err := f.store.FindActive(ctx, "cond-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "0xbbb", rec.Wallet)
}

func TestEngineBuffersSubMinimumBuysUntilRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xbbb", "0xt1", "f1", 200, 1000),
	})
	f.engine.Iterate(ctx, time.Unix(1001, 0))
	require.Len(t, f.gateway.Receipts(), 1)

	// Two sub-minimum leader buys accumulate instead of executing.
	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xbbb", "0xt2", "f2", 0.40, 1100),
	})
	f.engine.Iterate(ctx, time.Unix(1101, 0))
	f.source.batches = append(f.source.batches, []types.RawSignal{
		rawBuy("0xbbb", "0xt3", "f3", 0.70, 1110),
	})
	f.engine.Iterate(ctx, time.Unix(1111, 0))

	assert.Len(t, f.gateway.Receipts(), 1)
	require.Len(t, f.engine.PendingBatches(), 1)

	// After the window the batch crosses the minimum and releases as one
	// aggregated order.
	f.engine.Iterate(ctx, time.Unix(1101, 0).Add(2*time.Minute))
	receipts := f.gateway.Receipts()
	require.Len(t, receipts, 2)
	assert.Equal(t, "1", receipts[1].AmountUSD.String())
	assert.Empty(t, f.engine.PendingBatches())
}

func TestEngineRejectsDeathZoneBuy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := rawBuy("0xbbb", "0xt1", "f1", 200, 1000)
	sig.Price = 0.96
	sig.Size = sig.NotionalUSD / 0.96
	f.source.batches = append(f.source.batches, []types.RawSignal{sig})
	f.engine.Iterate(ctx, time.Unix(1001, 0))

	assert.Empty(t, f.gateway.Receipts())
	latest := f.engine.RecentDecisions()[0]
	assert.Equal(t, types.ReasonPriceRejected, latest.Reason)
}

func TestEngineStartStop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	f.engine.Stop()

	// Stopping twice is safe.
	f.engine.Stop()
}
