package indexes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/findex/internal/contracts"
)

func sel(ticker string, score float64, mcap int64) contracts.Selection {
	return contracts.Selection{Ticker: ticker, Score: score, MarketCap: mcap}
}

func weightSum(weights map[string]float64) float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	return sum
}

func TestEqualWeights(t *testing.T) {
	n := NewNormalizer()
	selected := []contracts.Selection{
		sel("AAA", 0.9, 1e9), sel("BBB", 0.8, 2e9),
		sel("CCC", 0.7, 3e9), sel("DDD", 0.6, 4e9),
	}

	weights, err := n.Weights(Weighting{Method: WeightEqual}, selected)
	require.NoError(t, err)
	require.Len(t, weights, 4)
	for _, w := range weights {
		assert.Equal(t, 0.25, w)
	}
}

func TestMarketCapWeights(t *testing.T) {
	n := NewNormalizer()
	selected := []contracts.Selection{
		sel("AAA", 0, 3e9), sel("BBB", 0, 1e9),
	}

	weights, err := n.Weights(Weighting{Method: WeightMarketCap}, selected)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, weights["AAA"], 1e-9)
	assert.InDelta(t, 0.25, weights["BBB"], 1e-9)
}

func TestScoreWeightsHandleNegatives(t *testing.T) {
	n := NewNormalizer()
	selected := []contracts.Selection{
		sel("AAA", 0.6, 0), sel("BBB", -0.1, 0), sel("CCC", 0.3, 0),
	}

	weights, err := n.Weights(Weighting{Method: WeightScore}, selected)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, weightSum(weights), 1e-6)
	assert.Greater(t, weights["AAA"], weights["CCC"])
	assert.Greater(t, weights["CCC"], weights["BBB"])
	assert.GreaterOrEqual(t, weights["BBB"], 0.0)
}

func TestCapInfeasible(t *testing.T) {
	n := NewNormalizer()
	selected := []contracts.Selection{
		sel("AAA", 0, 0), sel("BBB", 0, 0), sel("CCC", 0, 0),
		sel("DDD", 0, 0), sel("EEE", 0, 0),
	}

	// Five names at a 10% cap can carry at most 50% of the index.
	weights, err := n.Weights(Weighting{Method: WeightEqual, Cap: 0.10}, selected)
	assert.ErrorIs(t, err, contracts.ErrWeightCapInfeasible)
	require.Len(t, weights, 5)
	for _, w := range weights {
		assert.LessOrEqual(t, w, 0.10+1e-9)
	}
}

func TestCapFeasibleBoundary(t *testing.T) {
	n := NewNormalizer()
	var selected []contracts.Selection
	for _, tk := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		selected = append(selected, sel(tk, 0, 0))
	}

	// Ten names at 10% is exactly feasible.
	weights, err := n.Weights(Weighting{Method: WeightEqual, Cap: 0.10}, selected)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, weightSum(weights), 1e-6)
	for _, w := range weights {
		assert.InDelta(t, 0.10, w, 1e-9)
	}
}

func TestCapRedistributes(t *testing.T) {
	n := NewNormalizer()
	selected := []contracts.Selection{
		sel("BIG", 0, 90e9), sel("MID", 0, 6e9), sel("SML", 0, 4e9),
	}

	weights, err := n.Weights(Weighting{Method: WeightMarketCap, Cap: 0.50}, selected)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, weightSum(weights), 1e-6)
	assert.InDelta(t, 0.50, weights["BIG"], 1e-9)
	// The clipped 40% spreads 60/40 across the remaining names.
	assert.InDelta(t, 0.30, weights["MID"], 1e-9)
	assert.InDelta(t, 0.20, weights["SML"], 1e-9)
}

func TestFloorLiftsSmallNames(t *testing.T) {
	n := NewNormalizer()
	selected := []contracts.Selection{
		sel("BIG", 0, 98e9), sel("SML", 0, 2e9),
	}

	weights, err := n.Weights(Weighting{Method: WeightMarketCap, Floor: 0.05}, selected)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, weightSum(weights), 1e-6)
	assert.GreaterOrEqual(t, weights["SML"], 0.05-1e-9)
}

func TestEmptySelection(t *testing.T) {
	n := NewNormalizer()
	_, err := n.Weights(Weighting{Method: WeightEqual}, nil)
	assert.ErrorIs(t, err, contracts.ErrNoEligibleConstituents)
}
