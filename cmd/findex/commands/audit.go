package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/findex/internal/audit"
)

var auditJSON bool

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Scan the dataset for consistency issues",
	Long: `Runs every consistency check against the live database and prints
the findings. Nothing is modified; pipe the JSON output into
"findex repair --from-json -" to act on it.`,
	Example: `  findex audit
  findex audit --json | findex repair --from-json - --delete-orphans`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "emit the report as JSON on stdout")
}

func runAudit(cmd *cobra.Command, args []string) error {
	clean, err := executeAudit(cmd)
	if err != nil {
		return err
	}
	// Non-zero exit lets cron and CI treat a dirty dataset as a failure.
	// The pool is already closed by the time we get here.
	if !clean {
		os.Exit(1)
	}
	return nil
}

func executeAudit(cmd *cobra.Command) (bool, error) {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return false, err
	}
	defer cleanup()

	auditor := audit.NewAuditor(db.Pool, cfg.Audit, log)
	report, err := auditor.Run(cmd.Context())
	if err != nil {
		return false, err
	}

	if auditJSON {
		data, err := report.ToJSON()
		if err != nil {
			return false, fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(data))
	} else {
		fmt.Print(report.Summary())
	}
	return report.Clean(), nil
}
