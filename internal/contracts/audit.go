package contracts

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// IssueKind classifies a consistency violation found by the auditor.
type IssueKind string

const (
	IssueOrphanPrices    IssueKind = "orphan_prices"    // price rows for an unknown ticker
	IssueOrphanSignals   IssueKind = "orphan_signals"   // signal rows for an unknown ticker
	IssueStalePrices     IssueKind = "stale_prices"     // newest price lags today beyond threshold
	IssueWeightSum       IssueKind = "weight_sum"       // snapshot weights off 1.0 beyond tolerance
	IssueStaleSignals    IssueKind = "stale_signals"    // signals lag the latest price beyond threshold
	IssueHistoryGap      IssueKind = "history_gap"      // missing index_history dates inside the active range
	IssueMissingHistory  IssueKind = "missing_history"  // index has constituents but no history at all
	IssuePartialCoverage IssueKind = "partial_coverage" // constituents missing a price on a computed day
)

// Severity ranks an issue for triage.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Issue is one audit finding. The key fields identify the affected rows;
// unused keys are omitted from the serialized form.
type Issue struct {
	Kind     IssueKind  `json:"kind"`
	Severity Severity   `json:"severity"`
	Ticker   string     `json:"ticker,omitempty"`
	IndexID  int        `json:"index_id,omitempty"`
	Slug     string     `json:"slug,omitempty"`
	AsOf     *time.Time `json:"asof,omitempty"`
	Dates    []string   `json:"dates,omitempty"`
	Count    int        `json:"count,omitempty"`
	Value    float64    `json:"value,omitempty"`
	Detail   string     `json:"detail,omitempty"`
}

// AuditReport is the serializable output of a consistency audit.
// It is a first-class value: produced once, it can be written to stdout,
// stored, and fed to the repairer later.
type AuditReport struct {
	StartedAt time.Time `json:"started_at"`
	Issues    []Issue   `json:"issues"`

	// RowCounts is an informational snapshot taken during the scan.
	RowCounts map[string]int64 `json:"row_counts,omitempty"`
}

// Add appends an issue to the report.
func (r *AuditReport) Add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// Clean reports whether the audit found no issues above info severity.
func (r *AuditReport) Clean() bool {
	for _, is := range r.Issues {
		if is.Severity != SeverityInfo {
			return false
		}
	}
	return true
}

// ByKind returns the issues of one kind, in report order.
func (r *AuditReport) ByKind(kind IssueKind) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// ToJSON serializes the report for piping between the audit and repair drivers.
func (r *AuditReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// DecodeAuditReport reads a serialized report, e.g. from stdin or a file.
func DecodeAuditReport(rd io.Reader) (*AuditReport, error) {
	var report AuditReport
	if err := json.NewDecoder(rd).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode audit report: %w", err)
	}
	return &report, nil
}

// Summary renders a short human-readable view of the report.
func (r *AuditReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "audit started %s\n", r.StartedAt.Format(time.RFC3339))
	if len(r.Issues) == 0 {
		b.WriteString("no issues found\n")
		return b.String()
	}
	counts := make(map[IssueKind]int)
	for _, is := range r.Issues {
		counts[is.Kind]++
	}
	kinds := make([]IssueKind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		fmt.Fprintf(&b, "%-18s %d\n", kind, counts[kind])
	}
	for _, is := range r.Issues {
		fmt.Fprintf(&b, "[%s] %s", is.Severity, is.Kind)
		if is.Ticker != "" {
			fmt.Fprintf(&b, " ticker=%s", is.Ticker)
		}
		if is.Slug != "" {
			fmt.Fprintf(&b, " index=%s", is.Slug)
		}
		if is.AsOf != nil {
			fmt.Fprintf(&b, " asof=%s", is.AsOf.Format(DateFormat))
		}
		if is.Count > 0 {
			fmt.Fprintf(&b, " count=%d", is.Count)
		}
		if is.Detail != "" {
			fmt.Fprintf(&b, " (%s)", is.Detail)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
