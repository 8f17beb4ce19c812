package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyPercentage
	cfg.CopySize = 10
	cfg.MinOrderSizeUSD = 1.0
	cfg.MaxOrderSizeUSD = 100
	return cfg
}

func TestPercentageStrategyUnclamped(t *testing.T) {
	e := NewEngine(zap.NewNop(), testConfig())

	result := e.CalculateOrderSize(100, 1000, 0)

	assert.InDelta(t, 10.0, result.BaseAmount, 1e-9)
	assert.InDelta(t, 10.0, result.FinalAmount, 1e-9)
	assert.False(t, result.CappedByMax)
	assert.False(t, result.BelowMinimum)
	assert.False(t, result.ReducedByBalance)
}

func TestPercentageStrategyCappedByMaxOrder(t *testing.T) {
	e := NewEngine(zap.NewNop(), testConfig())

	result := e.CalculateOrderSize(2000, 10000, 0)

	assert.InDelta(t, 200.0, result.BaseAmount, 1e-9)
	assert.InDelta(t, 100.0, result.FinalAmount, 1e-9)
	assert.True(t, result.CappedByMax)
}

func TestSmallSignalNotAffordable(t *testing.T) {
	e := NewEngine(zap.NewNop(), testConfig())

	// balance*0.99 = 0.99 is below the 1.0 minimum.
	result := e.CalculateOrderSize(5, 1.0, 0)

	assert.Equal(t, 0.0, result.FinalAmount)
	assert.True(t, result.BelowMinimum)
}

func TestSmallSignalBumpedToMinimum(t *testing.T) {
	e := NewEngine(zap.NewNop(), testConfig())

	result := e.CalculateOrderSize(5, 1000, 0)

	assert.InDelta(t, 1.0, result.FinalAmount, 1e-9)
	assert.True(t, result.BelowMinimum)
}

func TestFixedStrategyIgnoresSignalNotional(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = StrategyFixed
	cfg.CopySize = 25
	e := NewEngine(zap.NewNop(), cfg)

	small := e.CalculateOrderSize(10, 1000, 0)
	large := e.CalculateOrderSize(5000, 1000, 0)

	assert.InDelta(t, 25.0, small.FinalAmount, 1e-9)
	assert.InDelta(t, 25.0, large.FinalAmount, 1e-9)
}

func TestAdaptiveRatioDecreasesWithSignalSize(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = StrategyAdaptive
	cfg.AdaptiveReferenceUSD = 500
	cfg.AdaptiveMaxBoost = 3.0
	cfg.MaxOrderSizeUSD = 10000
	e := NewEngine(zap.NewNop(), cfg)

	notionals := []float64{50, 200, 500, 2000}
	prevRatio := -1.0
	first := true
	for _, n := range notionals {
		result := e.CalculateOrderSize(n, 1e9, 0)
		ratio := result.BaseAmount / n
		if !first {
			assert.LessOrEqual(t, ratio, prevRatio,
				"copy ratio must not grow with signal notional")
		}
		prevRatio = ratio
		first = false
	}

	// Boost is clamped, so tiny signals still copy at most maxBoost times
	// the configured percentage.
	tiny := e.CalculateOrderSize(1, 1e9, 0)
	assert.InDelta(t, 1*0.10*3.0, tiny.BaseAmount, 1e-9)
}

func TestScalarMultiplierApplied(t *testing.T) {
	cfg := testConfig()
	cfg.TradeMultiplier = 2.0
	e := NewEngine(zap.NewNop(), cfg)

	result := e.CalculateOrderSize(100, 1000, 0)

	assert.InDelta(t, 20.0, result.FinalAmount, 1e-9)
}

func TestTieredMultiplierTakesPrecedenceOverScalar(t *testing.T) {
	tiers, err := ParseTieredMultipliers("1-10:2.0,10-100:1.0,100-500:0.2,500+:0.1")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.TradeMultiplier = 5.0
	cfg.TieredMultipliers = tiers
	e := NewEngine(zap.NewNop(), cfg)

	// 200 falls in the 100-500 tier: 10% of 200 = 20, times 0.2.
	result := e.CalculateOrderSize(200, 10000, 0)
	assert.InDelta(t, 4.0, result.FinalAmount, 1e-9)

	// 1000 falls in the open-ended tier.
	result = e.CalculateOrderSize(1000, 100000, 0)
	assert.InDelta(t, 10.0, result.FinalAmount, 1e-9)
}

func TestPositionHeadroomClamp(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSizeUSD = 50
	e := NewEngine(zap.NewNop(), cfg)

	result := e.CalculateOrderSize(100, 1000, 45)
	assert.InDelta(t, 5.0, result.FinalAmount, 1e-9)

	full := e.CalculateOrderSize(100, 1000, 50)
	assert.Equal(t, 0.0, full.FinalAmount)
	assert.True(t, full.BelowMinimum)
}

func TestBalanceCeilingReducesAmount(t *testing.T) {
	e := NewEngine(zap.NewNop(), testConfig())

	result := e.CalculateOrderSize(100, 5, 0)

	assert.InDelta(t, 4.95, result.FinalAmount, 1e-9)
	assert.True(t, result.ReducedByBalance)
}

func TestParseTieredMultipliers(t *testing.T) {
	tiers, err := ParseTieredMultipliers("1-10:2.0,10-100:1.0,100-500:0.2,500+:0.1")
	require.NoError(t, err)
	require.Len(t, tiers, 4)

	assert.Equal(t, 1.0, tiers[0].Min)
	require.NotNil(t, tiers[0].Max)
	assert.Equal(t, 10.0, *tiers[0].Max)
	assert.Equal(t, 2.0, tiers[0].Multiplier)

	last := tiers[3]
	assert.Equal(t, 500.0, last.Min)
	assert.Nil(t, last.Max)
	assert.Equal(t, 0.1, last.Multiplier)
}

func TestParseTieredMultipliersErrors(t *testing.T) {
	cases := []struct {
		name string
		spec string
	}{
		{"malformed segment", "1-10"},
		{"non-numeric multiplier", "1-10:abc"},
		{"negative multiplier", "1-10:-0.5"},
		{"inverted range", "10-1:1.0"},
		{"overlapping ranges", "1-10:2.0,5-20:1.0"},
		{"infinite not last", "1+:2.0,10-20:1.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTieredMultipliers(tc.spec)
			assert.Error(t, err)
		})
	}
}

func TestValidateStrategyConfig(t *testing.T) {
	valid := testConfig()
	assert.Empty(t, ValidateStrategyConfig(valid))

	bad := testConfig()
	bad.CopySize = 0
	assert.NotEmpty(t, ValidateStrategyConfig(bad))

	bad = testConfig()
	bad.CopySize = 150
	violations := ValidateStrategyConfig(bad)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "100")

	bad = testConfig()
	bad.MinOrderSizeUSD = 200
	assert.NotEmpty(t, ValidateStrategyConfig(bad))

	bad = testConfig()
	bad.Strategy = "MARTINGALE"
	assert.NotEmpty(t, ValidateStrategyConfig(bad))
}
