package indexes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

// Action describes what a rebalance run did for one index.
type Action string

const (
	ActionNone         Action = "none"           // nothing was due
	ActionRebalance    Action = "rebalance"      // weights recomputed over existing membership
	ActionReconstitute Action = "reconstitution" // full selection + weighting
)

// Result summarizes one index's rebalance run.
type Result struct {
	Slug         string    `json:"slug"`
	AsOf         time.Time `json:"asof"`
	Action       Action    `json:"action"`
	Constituents int       `json:"constituents,omitempty"`
	Note         string    `json:"note,omitempty"`
}

// Rebalancer decides per index whether reconstitution or rebalancing is
// due at a date and persists the resulting constituent snapshot.
// Re-running for the same as-of date overwrites the snapshot with
// identical content.
type Rebalancer struct {
	repo       contracts.IndexRepository
	source     contracts.CandidateSource
	selector   *Selector
	normalizer *Normalizer
	logger     *logger.Logger
}

// NewRebalancer creates a new index rebalancer.
func NewRebalancer(repo contracts.IndexRepository, source contracts.CandidateSource, log *logger.Logger) *Rebalancer {
	return &Rebalancer{
		repo:       repo,
		source:     source,
		selector:   NewSelector(log),
		normalizer: NewNormalizer(),
		logger:     log,
	}
}

// Rebalance runs the state machine for one index at asof. Reconstitution
// due takes precedence over rebalance due; membership is fully recomputed
// from the rule tree with no weight carry-over. On any per-index failure
// the prior snapshot stays in force.
func (r *Rebalancer) Rebalance(ctx context.Context, def *contracts.IndexDefinition, asof time.Time) (*Result, error) {
	rules, err := ParseRules(def.Rules)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", def.Slug, err)
	}

	latest, err := r.repo.LatestSnapshotDate(ctx, def.ID)
	if err != nil {
		return nil, fmt.Errorf("index %s: latest snapshot: %w", def.Slug, err)
	}

	result := &Result{Slug: def.Slug, AsOf: asof}
	switch {
	case due(latest, asof, def.ReconstFreq):
		result.Action = ActionReconstitute
	case due(latest, asof, def.RebalanceFreq):
		result.Action = ActionRebalance
	default:
		result.Action = ActionNone
		return result, nil
	}

	candidates, err := r.source.Candidates(ctx, asof)
	if err != nil {
		return nil, fmt.Errorf("index %s: candidates: %w", def.Slug, err)
	}

	var selected []contracts.Selection
	if result.Action == ActionReconstitute {
		selected, err = r.selector.Select(rules, candidates)
	} else {
		selected, err = r.existingMembership(ctx, rules, def.ID, latest, candidates)
	}
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", def.Slug, err)
	}

	// An infeasible cap also lands here: persisting its under-unit
	// best-effort weights would trip the audit's weight invariant, so the
	// prior snapshot stays and the error surfaces.
	weights, err := r.normalizer.Weights(rules.Weighting, selected)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", def.Slug, err)
	}

	constituents := make([]contracts.IndexConstituent, 0, len(weights))
	for ticker, w := range weights {
		constituents = append(constituents, contracts.IndexConstituent{
			IndexID: def.ID,
			AsOf:    asof,
			Ticker:  ticker,
			Weight:  w,
		})
	}
	sort.Slice(constituents, func(i, j int) bool {
		return constituents[i].Ticker < constituents[j].Ticker
	})

	if err := r.repo.ReplaceSnapshot(ctx, def.ID, asof, constituents); err != nil {
		return nil, fmt.Errorf("index %s: persist snapshot: %w", def.Slug, err)
	}

	result.Constituents = len(constituents)
	r.logger.WithFields(map[string]interface{}{
		"index":        def.Slug,
		"asof":         asof.Format(contracts.DateFormat),
		"action":       string(result.Action),
		"constituents": result.Constituents,
	}).Info("snapshot written")

	return result, nil
}

// existingMembership rebuilds selections for the current constituents so
// only their weights move. Members whose rank metric has gone missing are
// kept at score zero rather than silently dropped between reconstitutions.
func (r *Rebalancer) existingMembership(ctx context.Context, rules *Rules, indexID int, latest *time.Time, candidates []contracts.Candidate) ([]contracts.Selection, error) {
	if latest == nil {
		return nil, contracts.ErrNoEligibleConstituents
	}
	current, err := r.repo.Snapshot(ctx, indexID, *latest)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if len(current) == 0 {
		return nil, contracts.ErrNoEligibleConstituents
	}

	byTicker := make(map[string]*contracts.Candidate, len(candidates))
	for i := range candidates {
		byTicker[candidates[i].Ticker] = &candidates[i]
	}

	var selected []contracts.Selection
	for _, member := range current {
		c, ok := byTicker[member.Ticker]
		if !ok {
			continue
		}
		score, _ := metric(rules.Rank.By, c)
		selected = append(selected, contracts.Selection{
			Ticker:    member.Ticker,
			Score:     score,
			MarketCap: c.MarketCap,
		})
	}
	if len(selected) == 0 {
		return nil, contracts.ErrNoEligibleConstituents
	}
	return selected, nil
}

// due reports whether a new snapshot is owed at asof: true when no
// snapshot exists yet, or when asof falls in a later period than the
// latest snapshot under the given frequency.
func due(latest *time.Time, asof time.Time, freq contracts.Freq) bool {
	if latest == nil {
		return true
	}
	if !asof.After(*latest) {
		return false
	}
	return periodKey(asof, freq) != periodKey(*latest, freq)
}

// periodKey maps a date to its period bucket for a frequency.
func periodKey(t time.Time, freq contracts.Freq) string {
	switch freq {
	case contracts.FreqDaily:
		return t.Format(contracts.DateFormat)
	case contracts.FreqWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case contracts.FreqMonthly:
		return t.Format("2006-01")
	case contracts.FreqQuarterly:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case contracts.FreqAnnual:
		return t.Format("2006")
	}
	// Unknown frequencies never come due; definitions are validated at
	// load, so this is unreachable in practice.
	return t.Format(contracts.DateFormat)
}
