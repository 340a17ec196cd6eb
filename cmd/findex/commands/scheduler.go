package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/findex/internal/audit"
	"github.com/wonny/findex/internal/scheduler"
	"github.com/wonny/findex/internal/scheduler/jobs"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the recurring pipeline and audit jobs",
	Long: `Registers the daily ETL job (weekday evenings after the US close)
and the nightly audit job, then blocks until interrupted.`,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	pipeline := buildPipeline(cfg, log, db)
	auditor := audit.NewAuditor(db.Pool, cfg.Audit, log)

	sched := scheduler.New(log)
	if err := sched.AddJob(jobs.NewDailyETLJob(pipeline, log)); err != nil {
		return err
	}
	if err := sched.AddJob(jobs.NewNightlyAuditJob(auditor, log)); err != nil {
		return err
	}

	sched.Start()
	log.WithField("jobs", sched.Jobs()).Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Stopping scheduler")
	sched.Stop()
	return nil
}
