package indexes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/findex/internal/contracts"
)

func cand(ticker, sector string, mcap int64, mscore float64, breakout bool) contracts.Candidate {
	s := mscore
	return contracts.Candidate{
		Ticker:    ticker,
		Sector:    sector,
		Country:   "US",
		MarketCap: mcap,
		Close:     100,
		Volume:    1_000_000,
		Signal:    contracts.SignalSnapshot{MScore: &s, Breakout: breakout},
	}
}

func TestSelectorFiltersAndRanks(t *testing.T) {
	rules := &Rules{
		Filters: []Filter{
			{Kind: FilterMinMarketCap, Value: 1e9},
			{Kind: FilterSectors, Exclude: []string{"Financials"}},
		},
		Rank:      Rank{By: RankByMScore, Top: 3},
		Weighting: Weighting{Method: WeightEqual},
	}
	universe := []contracts.Candidate{
		cand("AAA", "Tech", 5e9, 0.9, true),
		cand("BBB", "Tech", 4e9, 0.8, false),
		cand("CCC", "Financials", 9e9, 0.95, true), // excluded sector
		cand("DDD", "Health", 5e8, 0.99, true),     // below cap floor
		cand("EEE", "Tech", 2e9, 0.7, false),
		cand("FFF", "Tech", 2e9, 0.6, false),
	}

	sel := NewSelector(nopLogger())
	got, err := sel.Select(rules, universe)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "AAA", got[0].Ticker)
	assert.Equal(t, "BBB", got[1].Ticker)
	assert.Equal(t, "EEE", got[2].Ticker)
	assert.Equal(t, 0.9, got[0].Score)
}

func TestSelectorTieBreaksByTicker(t *testing.T) {
	rules := &Rules{
		Rank:      Rank{By: RankByMScore, Top: 2},
		Weighting: Weighting{Method: WeightEqual},
	}
	universe := []contracts.Candidate{
		cand("ZZZ", "Tech", 1e9, 0.5, false),
		cand("AAA", "Tech", 1e9, 0.5, false),
		cand("MMM", "Tech", 1e9, 0.5, false),
	}

	sel := NewSelector(nopLogger())
	got, err := sel.Select(rules, universe)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAA", got[0].Ticker)
	assert.Equal(t, "MMM", got[1].Ticker)
}

func TestSelectorSkipsNilRankMetric(t *testing.T) {
	rules := &Rules{
		Rank:      Rank{By: RankByMScore, Top: 10},
		Weighting: Weighting{Method: WeightEqual},
	}
	fresh := contracts.Candidate{Ticker: "IPO", MarketCap: 1e10} // no signals yet
	universe := []contracts.Candidate{fresh, cand("AAA", "Tech", 1e9, 0.4, false)}

	sel := NewSelector(nopLogger())
	got, err := sel.Select(rules, universe)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAA", got[0].Ticker)
}

func TestSelectorEmptyResult(t *testing.T) {
	rules := &Rules{
		Filters:   []Filter{{Kind: FilterMinMarketCap, Value: 1e15}},
		Rank:      Rank{By: RankByMScore, Top: 10},
		Weighting: Weighting{Method: WeightEqual},
	}
	universe := []contracts.Candidate{cand("AAA", "Tech", 1e9, 0.4, false)}

	sel := NewSelector(nopLogger())
	_, err := sel.Select(rules, universe)
	assert.ErrorIs(t, err, contracts.ErrNoEligibleConstituents)
}

func TestSelectorRanksByMarketCap(t *testing.T) {
	rules := &Rules{
		Rank:      Rank{By: RankByMarketCap, Top: 2},
		Weighting: Weighting{Method: WeightMarketCap},
	}
	universe := []contracts.Candidate{
		cand("AAA", "Tech", 1e9, 0.9, false),
		cand("BBB", "Tech", 9e9, 0.1, false),
		cand("CCC", "Tech", 5e9, 0.5, false),
	}

	sel := NewSelector(nopLogger())
	got, err := sel.Select(rules, universe)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BBB", got[0].Ticker)
	assert.Equal(t, "CCC", got[1].Ticker)
}
