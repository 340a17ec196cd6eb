package indexes

import (
	"sort"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

// Selector applies an index's rule tree to the candidate universe:
// AND-combined filters, then rank-and-truncate to the top N.
type Selector struct {
	logger *logger.Logger
}

// NewSelector creates a new constituent selector.
func NewSelector(log *logger.Logger) *Selector {
	return &Selector{logger: log}
}

// Select returns the chosen constituents in rank order. An empty result
// is ErrNoEligibleConstituents; callers keep the prior snapshot in force.
func (s *Selector) Select(rules *Rules, candidates []contracts.Candidate) ([]contracts.Selection, error) {
	var eligible []contracts.Candidate
	for i := range candidates {
		if s.passes(rules, &candidates[i]) {
			eligible = append(eligible, candidates[i])
		}
	}

	type ranked struct {
		cand  contracts.Candidate
		score float64
	}
	var pool []ranked
	for _, c := range eligible {
		v, ok := metric(rules.Rank.By, &c)
		if !ok {
			continue
		}
		pool = append(pool, ranked{cand: c, score: v})
	}

	if len(pool) == 0 {
		return nil, contracts.ErrNoEligibleConstituents
	}

	// Descending by the rank metric, ties broken by ticker so re-runs
	// over the same universe are stable.
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].cand.Ticker < pool[j].cand.Ticker
	})

	if len(pool) > rules.Rank.Top {
		pool = pool[:rules.Rank.Top]
	}

	out := make([]contracts.Selection, len(pool))
	for i, r := range pool {
		out[i] = contracts.Selection{
			Ticker:    r.cand.Ticker,
			Score:     r.score,
			MarketCap: r.cand.MarketCap,
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"universe": len(candidates),
		"eligible": len(eligible),
		"selected": len(out),
	}).Debug("constituents selected")

	return out, nil
}

func (s *Selector) passes(rules *Rules, c *contracts.Candidate) bool {
	for i := range rules.Filters {
		if !rules.Filters[i].Matches(c) {
			return false
		}
	}
	return true
}
