package indexes

import (
	"fmt"
	"math"

	"github.com/wonny/findex/internal/contracts"
)

// capIterationBudget bounds the cap-and-redistribute loop. Redistribution
// converges in at most n steps for n names; the budget guards against a
// pathological rule set looping forever.
const capIterationBudget = 100

// weightSumTolerance is the post-normalization invariant on Σw.
const weightSumTolerance = 1e-6

// Normalizer turns a ranked selection into constituent weights.
type Normalizer struct{}

// NewNormalizer creates a new weight normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Weights computes weights for the selection under the given scheme.
// The result always sums to 1.0 within 1e-6. When the per-name cap is
// infeasible (cap*n < 1) it returns the best-effort capped weights
// together with ErrWeightCapInfeasible.
func (n *Normalizer) Weights(w Weighting, selected []contracts.Selection) (map[string]float64, error) {
	if len(selected) == 0 {
		return nil, contracts.ErrNoEligibleConstituents
	}

	weights := make(map[string]float64, len(selected))
	switch w.Method {
	case WeightEqual:
		eq := 1.0 / float64(len(selected))
		for _, s := range selected {
			weights[s.Ticker] = eq
		}
	case WeightMarketCap:
		var total float64
		for _, s := range selected {
			total += float64(s.MarketCap)
		}
		if total <= 0 {
			return nil, fmt.Errorf("market-cap weighting: non-positive total cap")
		}
		for _, s := range selected {
			weights[s.Ticker] = float64(s.MarketCap) / total
		}
	case WeightScore:
		// Scores can be negative (the rank composite subtracts a
		// volatility penalty); shift so the minimum contributes a sliver
		// above zero before normalizing.
		min := selected[0].Score
		for _, s := range selected {
			if s.Score < min {
				min = s.Score
			}
		}
		shift := 0.0
		if min <= 0 {
			shift = -min + 1e-9
		}
		var total float64
		for _, s := range selected {
			total += s.Score + shift
		}
		if total <= 0 {
			return nil, fmt.Errorf("score weighting: non-positive total score")
		}
		for _, s := range selected {
			weights[s.Ticker] = (s.Score + shift) / total
		}
	default:
		return nil, fmt.Errorf("unknown weighting method %q", w.Method)
	}

	if w.Floor > 0 {
		applyFloor(weights, w.Floor)
	}

	if w.Cap > 0 {
		if w.Cap*float64(len(weights)) < 1-weightSumTolerance {
			capAll(weights, w.Cap)
			return weights, contracts.ErrWeightCapInfeasible
		}
		redistributeCap(weights, w.Cap)
	}

	rescale(weights)
	return weights, nil
}

// redistributeCap clips names above the cap and spreads the excess
// proportionally over the uncapped names, repeating until stable.
func redistributeCap(weights map[string]float64, cap float64) {
	for iter := 0; iter < capIterationBudget; iter++ {
		var excess, uncappedTotal float64
		capped := make(map[string]bool)
		for t, w := range weights {
			if w > cap+weightSumTolerance {
				excess += w - cap
				weights[t] = cap
				capped[t] = true
			}
		}
		if excess == 0 {
			return
		}
		for t, w := range weights {
			if !capped[t] && w < cap {
				uncappedTotal += w
			}
		}
		if uncappedTotal == 0 {
			return
		}
		for t, w := range weights {
			if !capped[t] && w < cap {
				weights[t] = w + excess*(w/uncappedTotal)
			}
		}
	}
}

// capAll clips everything to the cap; used on the infeasible path where
// the sum cannot reach 1 anyway.
func capAll(weights map[string]float64, cap float64) {
	for t, w := range weights {
		if w > cap {
			weights[t] = cap
		}
	}
}

// applyFloor lifts names below the floor and rescales; a floor that is
// itself infeasible degrades to equal weights.
func applyFloor(weights map[string]float64, floor float64) {
	if floor*float64(len(weights)) >= 1 {
		eq := 1.0 / float64(len(weights))
		for t := range weights {
			weights[t] = eq
		}
		return
	}
	for t, w := range weights {
		if w < floor {
			weights[t] = floor
		}
	}
	rescaleAboveFloor(weights, floor)
}

// rescaleAboveFloor shrinks the above-floor mass so the total returns to
// 1 without pushing any lifted name back under the floor.
func rescaleAboveFloor(weights map[string]float64, floor float64) {
	var floored, above float64
	for _, w := range weights {
		if w <= floor+weightSumTolerance {
			floored += w
		} else {
			above += w
		}
	}
	if above == 0 {
		return
	}
	scale := (1 - floored) / above
	for t, w := range weights {
		if w > floor+weightSumTolerance {
			weights[t] = w * scale
		}
	}
}

// rescale forces Σw to exactly the unit sum.
func rescale(weights map[string]float64) {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum == 0 || math.Abs(sum-1) <= weightSumTolerance {
		return
	}
	for t, w := range weights {
		weights[t] = w / sum
	}
}
