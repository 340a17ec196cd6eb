package indexes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/findex/internal/contracts"
)

func TestParseRules(t *testing.T) {
	raw := json.RawMessage(`{
		"filters": [
			{"kind": "min_market_cap", "value": 1000000000},
			{"kind": "sectors", "exclude": ["Financials"]},
			{"kind": "require_breakout"}
		],
		"rank": {"by": "m_score", "top": 10},
		"weighting": {"method": "equal"}
	}`)

	rules, err := ParseRules(raw)
	require.NoError(t, err)
	assert.Len(t, rules.Filters, 3)
	assert.Equal(t, RankByMScore, rules.Rank.By)
	assert.Equal(t, 10, rules.Rank.Top)
	assert.Equal(t, WeightEqual, rules.Weighting.Method)
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name:    "unknown filter kind",
			raw:     `{"filters":[{"kind":"min_pe_ratio","value":20}],"rank":{"by":"m_score","top":10},"weighting":{"method":"equal"}}`,
			wantErr: "unknown kind",
		},
		{
			name:    "unknown rank key",
			raw:     `{"filters":[],"rank":{"by":"sharpe","top":10},"weighting":{"method":"equal"}}`,
			wantErr: "unknown key",
		},
		{
			name:    "zero top",
			raw:     `{"filters":[],"rank":{"by":"m_score","top":0},"weighting":{"method":"equal"}}`,
			wantErr: "top must be > 0",
		},
		{
			name:    "unknown weighting method",
			raw:     `{"filters":[],"rank":{"by":"m_score","top":10},"weighting":{"method":"inverse_vol"}}`,
			wantErr: "unknown method",
		},
		{
			name:    "cap above one",
			raw:     `{"filters":[],"rank":{"by":"m_score","top":10},"weighting":{"method":"equal","cap":1.5}}`,
			wantErr: "cap must be in [0,1]",
		},
		{
			name:    "floor above cap",
			raw:     `{"filters":[],"rank":{"by":"m_score","top":10},"weighting":{"method":"equal","cap":0.1,"floor":0.2}}`,
			wantErr: "floor",
		},
		{
			name:    "empty sectors filter",
			raw:     `{"filters":[{"kind":"sectors"}],"rank":{"by":"m_score","top":10},"weighting":{"method":"equal"}}`,
			wantErr: "include or exclude required",
		},
		{
			name:    "malformed json",
			raw:     `{"filters":`,
			wantErr: "parse rules",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules(json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFilterMatches(t *testing.T) {
	score := 0.75
	cand := contracts.Candidate{
		Ticker:    "AAPL",
		Sector:    "Information Technology",
		Exchange:  "NASDAQ",
		Country:   "US",
		MarketCap: 3_000_000_000_000,
		Close:     200,
		Volume:    50_000_000,
		Signal:    contracts.SignalSnapshot{MScore: &score, Breakout: true},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"market cap passes", Filter{Kind: FilterMinMarketCap, Value: 1e9}, true},
		{"market cap fails", Filter{Kind: FilterMinMarketCap, Value: 1e13}, false},
		{"dollar volume passes", Filter{Kind: FilterMinDollarVolume, Value: 1e9}, true},
		{"sector include", Filter{Kind: FilterSectors, Include: []string{"Information Technology"}}, true},
		{"sector exclude", Filter{Kind: FilterSectors, Exclude: []string{"Information Technology"}}, false},
		{"exchange include", Filter{Kind: FilterExchanges, Include: []string{"NYSE"}}, false},
		{"country include", Filter{Kind: FilterCountries, Include: []string{"US"}}, true},
		{"min m_score passes", Filter{Kind: FilterMinMScore, Value: 0.5}, true},
		{"min m_score fails", Filter{Kind: FilterMinMScore, Value: 0.9}, false},
		{"breakout", Filter{Kind: FilterRequireBreakout}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(&cand))
		})
	}
}

func TestFilterNilSignalNeverEligible(t *testing.T) {
	cand := contracts.Candidate{Ticker: "IPO"}

	f := Filter{Kind: FilterMinMScore, Value: 0}
	assert.False(t, f.Matches(&cand))

	f = Filter{Kind: FilterRequireBreakout}
	assert.False(t, f.Matches(&cand))
}
