package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/findex/internal/audit"
	"github.com/wonny/findex/pkg/logger"
)

// NightlyAuditJob audits the dataset after the daily pipeline window.
// It only reports; repairs stay a deliberate, operator-driven action.
type NightlyAuditJob struct {
	auditor *audit.Auditor
	logger  *logger.Logger
}

// NewNightlyAuditJob creates the nightly audit job.
func NewNightlyAuditJob(auditor *audit.Auditor, log *logger.Logger) *NightlyAuditJob {
	return &NightlyAuditJob{auditor: auditor, logger: log}
}

// Name returns the job name.
func (j *NightlyAuditJob) Name() string {
	return "nightly-audit"
}

// Schedule runs daily at 23:30 UTC, after the ETL window.
func (j *NightlyAuditJob) Schedule() string {
	return "0 30 23 * * *"
}

// Run executes the audit and logs the findings.
func (j *NightlyAuditJob) Run(ctx context.Context) error {
	report, err := j.auditor.Run(ctx)
	if err != nil {
		return fmt.Errorf("audit run: %w", err)
	}

	if report.Clean() {
		j.logger.Info("Nightly audit clean")
		return nil
	}

	j.logger.WithField("issues", len(report.Issues)).Warn("Nightly audit found issues")
	for _, issue := range report.Issues {
		j.logger.WithFields(map[string]interface{}{
			"kind":     string(issue.Kind),
			"severity": string(issue.Severity),
			"ticker":   issue.Ticker,
			"index":    issue.Slug,
			"detail":   issue.Detail,
		}).Warn("Audit issue")
	}
	return nil
}
