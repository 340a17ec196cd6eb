package repair

import (
	"context"
	"fmt"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

// Policy gates which repair actions may run. Every action defaults to
// off: the repairer does nothing it was not explicitly allowed to do.
type Policy struct {
	DeleteOrphans      bool
	RenormalizeWeights bool
	RefreshStale       bool
}

// Status is the per-issue outcome of a repair pass.
type Status string

const (
	StatusFixed   Status = "fixed"
	StatusSkipped Status = "skipped" // action disabled by policy or not repairable here
	StatusFailed  Status = "failed"
	StatusPlanned Status = "planned" // dry-run: would have acted
)

// Outcome pairs an audit issue with what the repairer did about it.
type Outcome struct {
	Issue  contracts.Issue `json:"issue"`
	Status Status          `json:"status"`
	Detail string          `json:"detail,omitempty"`
}

// Report is the result of one repair pass.
type Report struct {
	DryRun   bool      `json:"dry_run"`
	Outcomes []Outcome `json:"outcomes"`
}

// Unresolved counts issues that remain after the pass: everything not
// fixed. Planned outcomes count as unresolved since a dry run changes
// nothing.
func (r *Report) Unresolved() int {
	var n int
	for _, o := range r.Outcomes {
		if o.Status != StatusFixed {
			n++
		}
	}
	return n
}

// Refresher recomputes derived data; the repairer drives it for stale
// signals and broken history instead of reimplementing the pipeline.
type Refresher interface {
	RefreshSignals(ctx context.Context, tickers []string) error
	RecomputeHistory(ctx context.Context, slug string) error
}

// Repairer applies policy-gated fixes for the issues in an audit report.
// Every action is idempotent: replaying the same report is harmless, and
// a repaired dataset audits clean on the next pass.
type Repairer struct {
	prices    contracts.PriceRepository
	signals   contracts.SignalRepository
	indexes   contracts.IndexRepository
	refresher Refresher
	policy    Policy
	dryRun    bool
	logger    *logger.Logger
}

// NewRepairer creates a new repairer.
func NewRepairer(prices contracts.PriceRepository, signals contracts.SignalRepository, indexes contracts.IndexRepository, refresher Refresher, policy Policy, dryRun bool, log *logger.Logger) *Repairer {
	return &Repairer{
		prices:    prices,
		signals:   signals,
		indexes:   indexes,
		refresher: refresher,
		policy:    policy,
		dryRun:    dryRun,
		logger:    log,
	}
}

// Apply walks the report issue by issue. A failed action never aborts the
// pass; it is recorded and the remaining issues still get their turn.
func (r *Repairer) Apply(ctx context.Context, report *contracts.AuditReport) (*Report, error) {
	result := &Report{DryRun: r.dryRun}

	// Orphan deletes are one statement per table; run them once and
	// attribute the outcome to every orphan issue of that kind.
	orphanPricesDone := false
	orphanSignalsDone := false
	var refreshTickers []string

	for _, issue := range report.Issues {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var outcome Outcome
		switch issue.Kind {
		case contracts.IssueOrphanPrices:
			outcome = r.deleteOrphans(ctx, issue, &orphanPricesDone, r.prices.DeleteOrphans)
		case contracts.IssueOrphanSignals:
			outcome = r.deleteOrphans(ctx, issue, &orphanSignalsDone, r.signals.DeleteOrphans)
		case contracts.IssueWeightSum:
			outcome = r.renormalize(ctx, issue)
		case contracts.IssueStaleSignals:
			if !r.policy.RefreshStale {
				outcome = skipped(issue, "refresh disabled by policy")
				break
			}
			if r.dryRun {
				outcome = Outcome{Issue: issue, Status: StatusPlanned, Detail: "would refresh signals"}
				break
			}
			refreshTickers = append(refreshTickers, issue.Ticker)
			outcome = Outcome{Issue: issue, Status: StatusFixed, Detail: "signals refreshed"}
		case contracts.IssueHistoryGap, contracts.IssueMissingHistory:
			outcome = r.recomputeHistory(ctx, issue)
		case contracts.IssueStalePrices, contracts.IssuePartialCoverage:
			outcome = skipped(issue, "price backfill runs through etl, not repair")
		default:
			outcome = skipped(issue, "no repair action for this kind")
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	if len(refreshTickers) > 0 {
		if err := r.refresher.RefreshSignals(ctx, refreshTickers); err != nil {
			// Downgrade the optimistic outcomes recorded above.
			for i, o := range result.Outcomes {
				if o.Issue.Kind == contracts.IssueStaleSignals && o.Status == StatusFixed {
					result.Outcomes[i].Status = StatusFailed
					result.Outcomes[i].Detail = err.Error()
				}
			}
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"issues":     len(report.Issues),
		"unresolved": result.Unresolved(),
		"dry_run":    r.dryRun,
	}).Info("repair pass complete")

	return result, nil
}

func (r *Repairer) deleteOrphans(ctx context.Context, issue contracts.Issue, done *bool, del func(context.Context) (int64, error)) Outcome {
	if !r.policy.DeleteOrphans {
		return skipped(issue, "orphan deletion disabled by policy")
	}
	if r.dryRun {
		return Outcome{Issue: issue, Status: StatusPlanned, Detail: fmt.Sprintf("would delete %d rows", issue.Count)}
	}
	if *done {
		return Outcome{Issue: issue, Status: StatusFixed, Detail: "orphans deleted"}
	}
	n, err := del(ctx)
	if err != nil {
		return Outcome{Issue: issue, Status: StatusFailed, Detail: err.Error()}
	}
	*done = true
	return Outcome{Issue: issue, Status: StatusFixed, Detail: fmt.Sprintf("deleted %d rows", n)}
}

// renormalize rescales a snapshot's weights back to a unit sum. The
// rescale preserves relative weights, so a correctly proportioned but
// mis-summed snapshot converges in one pass.
func (r *Repairer) renormalize(ctx context.Context, issue contracts.Issue) Outcome {
	if !r.policy.RenormalizeWeights {
		return skipped(issue, "weight renormalization disabled by policy")
	}
	if issue.AsOf == nil {
		return Outcome{Issue: issue, Status: StatusFailed, Detail: "issue missing asof"}
	}
	if r.dryRun {
		return Outcome{Issue: issue, Status: StatusPlanned, Detail: "would renormalize weights"}
	}

	constituents, err := r.indexes.Snapshot(ctx, issue.IndexID, *issue.AsOf)
	if err != nil {
		return Outcome{Issue: issue, Status: StatusFailed, Detail: err.Error()}
	}
	var sum float64
	for _, c := range constituents {
		sum += c.Weight
	}
	if sum <= 0 {
		return Outcome{Issue: issue, Status: StatusFailed, Detail: "non-positive weight sum, cannot rescale"}
	}
	for i := range constituents {
		constituents[i].Weight /= sum
	}
	if err := r.indexes.ReplaceSnapshot(ctx, issue.IndexID, *issue.AsOf, constituents); err != nil {
		return Outcome{Issue: issue, Status: StatusFailed, Detail: err.Error()}
	}
	return Outcome{Issue: issue, Status: StatusFixed, Detail: fmt.Sprintf("rescaled from %.6f to 1.0", sum)}
}

func (r *Repairer) recomputeHistory(ctx context.Context, issue contracts.Issue) Outcome {
	if !r.policy.RefreshStale {
		return skipped(issue, "history recompute disabled by policy")
	}
	if r.dryRun {
		return Outcome{Issue: issue, Status: StatusPlanned, Detail: "would recompute history"}
	}
	if err := r.refresher.RecomputeHistory(ctx, issue.Slug); err != nil {
		return Outcome{Issue: issue, Status: StatusFailed, Detail: err.Error()}
	}
	return Outcome{Issue: issue, Status: StatusFixed, Detail: "history recomputed"}
}

func skipped(issue contracts.Issue, detail string) Outcome {
	return Outcome{Issue: issue, Status: StatusSkipped, Detail: detail}
}
