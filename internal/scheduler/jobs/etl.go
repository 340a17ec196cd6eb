package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/findex/internal/etl"
	"github.com/wonny/findex/pkg/logger"
)

// DailyETLJob runs the full pipeline every weekday evening after the US
// close: fetch prices, recompute signals, rebalance indices.
type DailyETLJob struct {
	pipeline *etl.Pipeline
	logger   *logger.Logger
}

// NewDailyETLJob creates the daily pipeline job.
func NewDailyETLJob(pipeline *etl.Pipeline, log *logger.Logger) *DailyETLJob {
	return &DailyETLJob{pipeline: pipeline, logger: log}
}

// Name returns the job name.
func (j *DailyETLJob) Name() string {
	return "daily-etl"
}

// Schedule runs weekdays at 22:30 UTC, after the US market close.
func (j *DailyETLJob) Schedule() string {
	return "0 30 22 * * MON-FRI"
}

// Run executes the full pipeline for today.
func (j *DailyETLJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled pipeline run")

	if err := j.pipeline.Run(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}
	return nil
}
