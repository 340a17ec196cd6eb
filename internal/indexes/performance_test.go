package indexes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/findex/internal/contracts"
)

func perfIndex() *contracts.IndexDefinition {
	return &contracts.IndexDefinition{ID: 1, Slug: "momentum-2"}
}

func seedSnapshot(repo *fakeIndexRepo, asof string, weights map[string]float64) {
	var cs []contracts.IndexConstituent
	for ticker, w := range weights {
		cs = append(cs, contracts.IndexConstituent{IndexID: 1, AsOf: date(asof), Ticker: ticker, Weight: w})
	}
	repo.snapshots[asof] = cs
}

func TestPerformanceChainsLevels(t *testing.T) {
	repo := newFakeIndexRepo()
	prices := newFakePriceRepo()
	seedSnapshot(repo, "2026-01-05", map[string]float64{"AAA": 0.5, "BBB": 0.5})

	// AAA +2% then +1%; BBB flat then -1%.
	prices.add("AAA", "2026-01-05", 100)
	prices.add("AAA", "2026-01-06", 102)
	prices.add("AAA", "2026-01-07", 103.02)
	prices.add("BBB", "2026-01-05", 50)
	prices.add("BBB", "2026-01-06", 50)
	prices.add("BBB", "2026-01-07", 49.5)

	perf := NewPerformance(repo, prices, 1000, nopLogger())
	points, partial, err := perf.Compute(context.Background(), perfIndex(), date("2026-01-05"), date("2026-01-07"))
	require.NoError(t, err)
	assert.Empty(t, partial)
	require.Len(t, points, 2)

	// Day 1: 0.5*2% + 0.5*0% = 1%.
	assert.InDelta(t, 0.01, points[0].RetDaily, 1e-9)
	assert.InDelta(t, 1010, points[0].Level, 1e-6)

	// Day 2: 0.5*1% + 0.5*(-1%) = 0%. Level chains off day 1.
	assert.InDelta(t, 0.0, points[1].RetDaily, 1e-9)
	assert.InDelta(t, 1010, points[1].Level, 1e-6)

	// Chaining invariant: level[t] = level[t-1] * (1 + ret[t]).
	assert.InDelta(t, points[0].Level*(1+points[1].RetDaily), points[1].Level, 1e-9)
}

func TestPerformanceResumesFromStoredLevel(t *testing.T) {
	repo := newFakeIndexRepo()
	prices := newFakePriceRepo()
	seedSnapshot(repo, "2026-01-05", map[string]float64{"AAA": 1.0})
	repo.history["2026-01-06"] = contracts.IndexHistoryPoint{
		IndexID: 1, Date: date("2026-01-06"), Level: 1200, RetDaily: 0.01,
	}

	prices.add("AAA", "2026-01-06", 100)
	prices.add("AAA", "2026-01-07", 105)

	perf := NewPerformance(repo, prices, 1000, nopLogger())
	points, _, err := perf.Compute(context.Background(), perfIndex(), date("2026-01-07"), date("2026-01-07"))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 0.05, points[0].RetDaily, 1e-9)
	assert.InDelta(t, 1260, points[0].Level, 1e-6)
}

func TestPerformanceMissingPriceZeroContribution(t *testing.T) {
	repo := newFakeIndexRepo()
	prices := newFakePriceRepo()
	seedSnapshot(repo, "2026-01-05", map[string]float64{"AAA": 0.5, "GONE": 0.5})

	prices.add("AAA", "2026-01-05", 100)
	prices.add("AAA", "2026-01-06", 104)
	// GONE has no bars at all.

	perf := NewPerformance(repo, prices, 1000, nopLogger())
	points, partial, err := perf.Compute(context.Background(), perfIndex(), date("2026-01-05"), date("2026-01-06"))
	require.NoError(t, err)
	require.Len(t, points, 1)

	// Only AAA contributes: 0.5 * 4%.
	assert.InDelta(t, 0.02, points[0].RetDaily, 1e-9)

	require.Len(t, partial, 1)
	assert.Equal(t, []string{"GONE"}, partial[0].Missing)
}

func TestPerformanceStartsAtFirstSnapshot(t *testing.T) {
	repo := newFakeIndexRepo()
	prices := newFakePriceRepo()
	seedSnapshot(repo, "2026-01-07", map[string]float64{"AAA": 1.0})

	prices.add("AAA", "2026-01-05", 100)
	prices.add("AAA", "2026-01-06", 101)
	prices.add("AAA", "2026-01-07", 102)
	prices.add("AAA", "2026-01-08", 103)

	perf := NewPerformance(repo, prices, 1000, nopLogger())
	points, _, err := perf.Compute(context.Background(), perfIndex(), date("2026-01-05"), date("2026-01-08"))
	require.NoError(t, err)

	// Days before the first snapshot produce no history.
	require.Len(t, points, 2)
	assert.Equal(t, date("2026-01-07"), points[0].Date)
	assert.Equal(t, date("2026-01-08"), points[1].Date)
}

func TestPerformanceRecomputeIsIdempotent(t *testing.T) {
	repo := newFakeIndexRepo()
	prices := newFakePriceRepo()
	seedSnapshot(repo, "2026-01-05", map[string]float64{"AAA": 1.0})

	prices.add("AAA", "2026-01-05", 100)
	prices.add("AAA", "2026-01-06", 110)

	perf := NewPerformance(repo, prices, 1000, nopLogger())
	first, _, err := perf.Compute(context.Background(), perfIndex(), date("2026-01-05"), date("2026-01-06"))
	require.NoError(t, err)

	second, _, err := perf.Compute(context.Background(), perfIndex(), date("2026-01-05"), date("2026-01-06"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
