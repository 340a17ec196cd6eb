package audit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/config"
	"github.com/wonny/findex/pkg/logger"
)

// Auditor scans the derived dataset for consistency violations:
// referential orphans, broken weight invariants, stale derivations, and
// holes in the index history. It only reads; repairs are a separate,
// policy-gated step that consumes the report.
type Auditor struct {
	pool   *pgxpool.Pool
	cfg    config.AuditConfig
	logger *logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAuditor creates a new consistency auditor.
func NewAuditor(pool *pgxpool.Pool, cfg config.AuditConfig, log *logger.Logger) *Auditor {
	return &Auditor{pool: pool, cfg: cfg, logger: log, now: time.Now}
}

// Run executes every check and returns the report. Individual check
// failures abort the run; a partial audit is worse than none because the
// repairer trusts the report to be complete.
func (a *Auditor) Run(ctx context.Context) (*contracts.AuditReport, error) {
	report := &contracts.AuditReport{StartedAt: a.now().UTC()}

	checks := []struct {
		name string
		fn   func(context.Context, *contracts.AuditReport) error
	}{
		{"row_counts", a.checkRowCounts},
		{"orphan_prices", a.checkOrphanPrices},
		{"orphan_signals", a.checkOrphanSignals},
		{"price_recency", a.checkPriceRecency},
		{"stale_signals", a.checkStaleSignals},
		{"weight_sums", a.checkWeightSums},
		{"history_gaps", a.checkHistoryGaps},
		{"missing_history", a.checkMissingHistory},
		{"partial_coverage", a.checkPartialCoverage},
	}

	for _, check := range checks {
		if err := check.fn(ctx, report); err != nil {
			return nil, fmt.Errorf("audit %s: %w", check.name, err)
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"issues": len(report.Issues),
		"clean":  report.Clean(),
	}).Info("audit complete")

	return report, nil
}

func (a *Auditor) checkRowCounts(ctx context.Context, report *contracts.AuditReport) error {
	tables := []string{
		"tickers", "prices", "signals",
		"index_definitions", "index_constituents", "index_history",
	}
	report.RowCounts = make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			return err
		}
		report.RowCounts[table] = count
	}
	return nil
}

func (a *Auditor) checkOrphanPrices(ctx context.Context, report *contracts.AuditReport) error {
	return a.checkOrphans(ctx, report, "prices", contracts.IssueOrphanPrices)
}

func (a *Auditor) checkOrphanSignals(ctx context.Context, report *contracts.AuditReport) error {
	return a.checkOrphans(ctx, report, "signals", contracts.IssueOrphanSignals)
}

// checkOrphans reports one issue per ticker that has rows in the derived
// table but no row in tickers.
func (a *Auditor) checkOrphans(ctx context.Context, report *contracts.AuditReport, table string, kind contracts.IssueKind) error {
	query := `
		SELECT d.ticker, COUNT(*)
		FROM ` + table + ` d
		LEFT JOIN tickers t ON t.ticker = d.ticker
		WHERE t.ticker IS NULL
		GROUP BY d.ticker
		ORDER BY d.ticker
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ticker string
		var count int
		if err := rows.Scan(&ticker, &count); err != nil {
			return err
		}
		report.Add(contracts.Issue{
			Kind:     kind,
			Severity: contracts.SeverityError,
			Ticker:   ticker,
			Count:    count,
		})
	}
	return rows.Err()
}

func (a *Auditor) checkPriceRecency(ctx context.Context, report *contracts.AuditReport) error {
	var max *time.Time
	if err := a.pool.QueryRow(ctx, `SELECT MAX(date) FROM prices`).Scan(&max); err != nil {
		return err
	}
	if max == nil {
		return nil
	}
	lag := int(a.now().Sub(*max).Hours() / 24)
	if lag > a.cfg.PricesMaxLagDays {
		report.Add(contracts.Issue{
			Kind:     contracts.IssueStalePrices,
			Severity: contracts.SeverityWarn,
			Count:    lag,
			Detail:   fmt.Sprintf("newest price is %d days old (threshold %d)", lag, a.cfg.PricesMaxLagDays),
		})
	}
	return nil
}

// checkStaleSignals flags tickers whose newest signal trails their newest
// price by more than the configured lag.
func (a *Auditor) checkStaleSignals(ctx context.Context, report *contracts.AuditReport) error {
	query := `
		SELECT p.ticker, MAX(p.date) AS price_max, MAX(s.date) AS signal_max
		FROM prices p
		LEFT JOIN signals s ON s.ticker = p.ticker
		JOIN tickers t ON t.ticker = p.ticker
		GROUP BY p.ticker
		ORDER BY p.ticker
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ticker string
		var priceMax time.Time
		var signalMax *time.Time
		if err := rows.Scan(&ticker, &priceMax, &signalMax); err != nil {
			return err
		}
		if signalMax == nil {
			report.Add(contracts.Issue{
				Kind:     contracts.IssueStaleSignals,
				Severity: contracts.SeverityWarn,
				Ticker:   ticker,
				Detail:   "ticker has prices but no signals",
			})
			continue
		}
		lag := int(priceMax.Sub(*signalMax).Hours() / 24)
		if lag > a.cfg.SignalsMaxLagDays {
			report.Add(contracts.Issue{
				Kind:     contracts.IssueStaleSignals,
				Severity: contracts.SeverityWarn,
				Ticker:   ticker,
				Count:    lag,
				Detail:   fmt.Sprintf("signals lag prices by %d days (threshold %d)", lag, a.cfg.SignalsMaxLagDays),
			})
		}
	}
	return rows.Err()
}

// checkWeightSums verifies Σw = 1 within tolerance for every snapshot.
func (a *Auditor) checkWeightSums(ctx context.Context, report *contracts.AuditReport) error {
	query := `
		SELECT c.index_id, d.slug, c.asof, SUM(c.weight)
		FROM index_constituents c
		JOIN index_definitions d ON d.id = c.index_id
		GROUP BY c.index_id, d.slug, c.asof
		ORDER BY c.index_id, c.asof
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var indexID int
		var slug string
		var asof time.Time
		var sum float64
		if err := rows.Scan(&indexID, &slug, &asof, &sum); err != nil {
			return err
		}
		if math.Abs(sum-1) > a.cfg.WeightTolerance {
			report.Add(contracts.Issue{
				Kind:     contracts.IssueWeightSum,
				Severity: contracts.SeverityError,
				IndexID:  indexID,
				Slug:     slug,
				AsOf:     &asof,
				Value:    sum,
				Detail:   fmt.Sprintf("weights sum to %.6f (tolerance %.3f)", sum, a.cfg.WeightTolerance),
			})
		}
	}
	return rows.Err()
}

// checkHistoryGaps finds trading dates inside an index's active range
// with no history row.
func (a *Auditor) checkHistoryGaps(ctx context.Context, report *contracts.AuditReport) error {
	query := `
		SELECT h.index_id, d.slug, g.date
		FROM (SELECT index_id, MIN(date) AS min_date, MAX(date) AS max_date
		      FROM index_history GROUP BY index_id) h
		JOIN index_definitions d ON d.id = h.index_id
		JOIN LATERAL (
			SELECT DISTINCT p.date FROM prices p
			WHERE p.date > h.min_date AND p.date < h.max_date
			  AND NOT EXISTS (SELECT 1 FROM index_history ih
			                  WHERE ih.index_id = h.index_id AND ih.date = p.date)
		) g ON true
		ORDER BY h.index_id, g.date
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	type gapKey struct {
		indexID int
		slug    string
	}
	gaps := make(map[gapKey][]string)
	var order []gapKey
	for rows.Next() {
		var indexID int
		var slug string
		var gapDate time.Time
		if err := rows.Scan(&indexID, &slug, &gapDate); err != nil {
			return err
		}
		k := gapKey{indexID, slug}
		if _, seen := gaps[k]; !seen {
			order = append(order, k)
		}
		gaps[k] = append(gaps[k], gapDate.Format(contracts.DateFormat))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range order {
		dates := gaps[k]
		report.Add(contracts.Issue{
			Kind:     contracts.IssueHistoryGap,
			Severity: contracts.SeverityWarn,
			IndexID:  k.indexID,
			Slug:     k.slug,
			Dates:    dates,
			Count:    len(dates),
		})
	}
	return nil
}

// checkMissingHistory flags indices that have constituents but no level
// series at all.
func (a *Auditor) checkMissingHistory(ctx context.Context, report *contracts.AuditReport) error {
	query := `
		SELECT d.id, d.slug
		FROM index_definitions d
		WHERE EXISTS (SELECT 1 FROM index_constituents c WHERE c.index_id = d.id)
		  AND NOT EXISTS (SELECT 1 FROM index_history h WHERE h.index_id = d.id)
		ORDER BY d.slug
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var indexID int
		var slug string
		if err := rows.Scan(&indexID, &slug); err != nil {
			return err
		}
		report.Add(contracts.Issue{
			Kind:     contracts.IssueMissingHistory,
			Severity: contracts.SeverityWarn,
			IndexID:  indexID,
			Slug:     slug,
			Detail:   "index has constituents but no history",
		})
	}
	return rows.Err()
}

// checkPartialCoverage flags history days that were computed while a
// constituent of the effective snapshot had no price row. Those days
// carry a zero contribution for the missing name; the fix is a price
// backfill, not a repair.
func (a *Auditor) checkPartialCoverage(ctx context.Context, report *contracts.AuditReport) error {
	query := `
		SELECT h.index_id, d.slug, c.ticker, h.date
		FROM index_history h
		JOIN index_definitions d ON d.id = h.index_id
		JOIN LATERAL (
			SELECT MAX(ic.asof) AS asof FROM index_constituents ic
			WHERE ic.index_id = h.index_id AND ic.asof <= h.date
		) eff ON eff.asof IS NOT NULL
		JOIN index_constituents c ON c.index_id = h.index_id AND c.asof = eff.asof
		WHERE NOT EXISTS (SELECT 1 FROM prices p WHERE p.ticker = c.ticker AND p.date = h.date)
		ORDER BY h.index_id, c.ticker, h.date
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	type coverageKey struct {
		indexID int
		slug    string
		ticker  string
	}
	missing := make(map[coverageKey][]string)
	var order []coverageKey
	for rows.Next() {
		var indexID int
		var slug, ticker string
		var date time.Time
		if err := rows.Scan(&indexID, &slug, &ticker, &date); err != nil {
			return err
		}
		k := coverageKey{indexID, slug, ticker}
		if _, seen := missing[k]; !seen {
			order = append(order, k)
		}
		missing[k] = append(missing[k], date.Format(contracts.DateFormat))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range order {
		dates := missing[k]
		report.Add(contracts.Issue{
			Kind:     contracts.IssuePartialCoverage,
			Severity: contracts.SeverityWarn,
			IndexID:  k.indexID,
			Slug:     k.slug,
			Ticker:   k.ticker,
			Dates:    dates,
			Count:    len(dates),
		})
	}
	return nil
}
