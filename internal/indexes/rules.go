package indexes

import (
	"encoding/json"
	"fmt"

	"github.com/wonny/findex/internal/contracts"
)

// FilterKind enumerates the supported predicate kinds. The set is closed:
// parsing fails loudly on anything else so a typo in a stored rule set can
// never silently admit the whole universe.
type FilterKind string

const (
	FilterMinMarketCap    FilterKind = "min_market_cap"
	FilterMinDollarVolume FilterKind = "min_dollar_volume"
	FilterSectors         FilterKind = "sectors"
	FilterExchanges       FilterKind = "exchanges"
	FilterCountries       FilterKind = "countries"
	FilterMinMScore       FilterKind = "min_m_score"
	FilterRequireBreakout FilterKind = "require_breakout"
)

// RankKey selects the ordering metric for top-N truncation.
type RankKey string

const (
	RankByMScore    RankKey = "m_score"
	RankByMarketCap RankKey = "market_cap"
	RankByRet6M     RankKey = "ret_6m"
)

// WeightMethod selects the weighting scheme.
type WeightMethod string

const (
	WeightEqual     WeightMethod = "equal"
	WeightMarketCap WeightMethod = "market_cap"
	WeightScore     WeightMethod = "score"
)

// Filter is one eligibility predicate. Only the fields relevant to its
// kind are set.
type Filter struct {
	Kind    FilterKind `json:"kind"`
	Value   float64    `json:"value,omitempty"`
	Include []string   `json:"include,omitempty"`
	Exclude []string   `json:"exclude,omitempty"`
}

// Rank orders the filtered universe and truncates to the top N.
type Rank struct {
	By  RankKey `json:"by"`
	Top int     `json:"top"`
}

// Weighting assigns constituent weights. Cap and Floor are optional
// per-name bounds; zero means unset.
type Weighting struct {
	Method WeightMethod `json:"method"`
	Cap    float64      `json:"cap,omitempty"`
	Floor  float64      `json:"floor,omitempty"`
}

// Rules is the typed form of an index definition's JSONB rules column.
type Rules struct {
	Filters   []Filter  `json:"filters"`
	Rank      Rank      `json:"rank"`
	Weighting Weighting `json:"weighting"`
}

// ParseRules decodes and validates a stored rule set.
func ParseRules(raw json.RawMessage) (*Rules, error) {
	var rules Rules
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// Validate checks every kind and bound in the tree.
func (r *Rules) Validate() error {
	for i, f := range r.Filters {
		switch f.Kind {
		case FilterMinMarketCap, FilterMinDollarVolume, FilterMinMScore:
			if f.Value < 0 {
				return fmt.Errorf("filter %d (%s): value must be >= 0", i, f.Kind)
			}
		case FilterSectors:
			if len(f.Include) == 0 && len(f.Exclude) == 0 {
				return fmt.Errorf("filter %d (%s): include or exclude required", i, f.Kind)
			}
		case FilterExchanges, FilterCountries:
			if len(f.Include) == 0 {
				return fmt.Errorf("filter %d (%s): include required", i, f.Kind)
			}
		case FilterRequireBreakout:
			// no parameters
		default:
			return fmt.Errorf("filter %d: unknown kind %q", i, f.Kind)
		}
	}

	switch r.Rank.By {
	case RankByMScore, RankByMarketCap, RankByRet6M:
	default:
		return fmt.Errorf("rank: unknown key %q", r.Rank.By)
	}
	if r.Rank.Top <= 0 {
		return fmt.Errorf("rank: top must be > 0, got %d", r.Rank.Top)
	}

	w := r.Weighting
	switch w.Method {
	case WeightEqual, WeightMarketCap, WeightScore:
	default:
		return fmt.Errorf("weighting: unknown method %q", w.Method)
	}
	if w.Cap < 0 || w.Cap > 1 {
		return fmt.Errorf("weighting: cap must be in [0,1], got %v", w.Cap)
	}
	if w.Floor < 0 || w.Floor > 1 {
		return fmt.Errorf("weighting: floor must be in [0,1], got %v", w.Floor)
	}
	if w.Cap > 0 && w.Floor > w.Cap {
		return fmt.Errorf("weighting: floor %v exceeds cap %v", w.Floor, w.Cap)
	}
	return nil
}

// Matches evaluates the predicate against one candidate. Candidates with
// a nil metric fail metric predicates: unknown data is never eligible.
func (f *Filter) Matches(c *contracts.Candidate) bool {
	switch f.Kind {
	case FilterMinMarketCap:
		return float64(c.MarketCap) >= f.Value
	case FilterMinDollarVolume:
		return c.DollarVolume() >= f.Value
	case FilterSectors:
		if len(f.Include) > 0 && !contains(f.Include, c.Sector) {
			return false
		}
		return !contains(f.Exclude, c.Sector)
	case FilterExchanges:
		return contains(f.Include, c.Exchange)
	case FilterCountries:
		return contains(f.Include, c.Country)
	case FilterMinMScore:
		return c.Signal.MScore != nil && *c.Signal.MScore >= f.Value
	case FilterRequireBreakout:
		return c.Signal.Breakout
	}
	return false
}

// metric extracts the candidate's value for a rank key; ok is false when
// the underlying signal is nil.
func metric(key RankKey, c *contracts.Candidate) (float64, bool) {
	switch key {
	case RankByMScore:
		if c.Signal.MScore == nil {
			return 0, false
		}
		return *c.Signal.MScore, true
	case RankByMarketCap:
		return float64(c.MarketCap), true
	case RankByRet6M:
		if c.Signal.Ret6M == nil {
			return 0, false
		}
		return *c.Signal.Ret6M, true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
