package contracts

import (
	"encoding/json"
	"math"
	"time"
)

// Freq is a rebalance or reconstitution cadence.
type Freq string

// Frequencies accepted in index definitions.
const (
	FreqDaily     Freq = "daily"
	FreqWeekly    Freq = "weekly"
	FreqMonthly   Freq = "monthly"
	FreqQuarterly Freq = "quarterly"
	FreqAnnual    Freq = "annual"
)

// IndexDefinition is a rules-based index. Rules is the raw JSONB payload;
// it is validated into a typed rule tree before any selection runs.
// Rules are versionless: editing them changes future snapshots only.
type IndexDefinition struct {
	ID            int             `json:"id"`
	Slug          string          `json:"slug"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Rules         json.RawMessage `json:"rules"`
	RebalanceFreq Freq            `json:"rebalance_freq"`
	ReconstFreq   Freq            `json:"reconst_freq"`
}

// IndexConstituent is one member of a membership+weight snapshot.
// The snapshot identified by (IndexID, AsOf) is effective from AsOf until
// the next snapshot; its weights must sum to 1.0 within tolerance.
type IndexConstituent struct {
	IndexID int       `json:"index_id"`
	AsOf    time.Time `json:"asof"`
	Ticker  string    `json:"ticker"`
	Weight  float64   `json:"weight"`
}

// IndexHistoryPoint is one day of the derived index series.
// level[t] = level[t-1] * (1 + ret_daily[t]).
type IndexHistoryPoint struct {
	IndexID  int       `json:"index_id"`
	Date     time.Time `json:"date"`
	Level    float64   `json:"level"`
	RetDaily float64   `json:"ret_daily"`
}

// WeightSum returns the sum of constituent weights.
func WeightSum(constituents []IndexConstituent) float64 {
	var sum float64
	for _, c := range constituents {
		sum += c.Weight
	}
	return sum
}

// WeightsWithinTolerance reports whether a snapshot's weights sum to 1.0
// within tol.
func WeightsWithinTolerance(constituents []IndexConstituent, tol float64) bool {
	return math.Abs(WeightSum(constituents)-1.0) <= tol
}
