package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/findex/internal/audit"
	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/internal/indexes"
	"github.com/wonny/findex/internal/marketdata"
	"github.com/wonny/findex/internal/repair"
	"github.com/wonny/findex/internal/signals"
)

var (
	repairFromJSON string
	repairAuto     bool
	repairOrphans  bool
	repairWeights  bool
	repairRefresh  bool
	repairDryRun   bool
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Apply targeted fixes for audited issues",
	Long: `Takes an audit report, either from a prior "findex audit --json" run
or by auditing on the spot with --auto, and applies the fixes the
policy flags allow. Issues outside the policy are skipped, never
guessed at. --dry-run prints the plan without touching anything.`,
	Example: `  findex audit --json | findex repair --from-json - --delete-orphans
  findex repair --auto --delete-orphans --normalize-weights --refresh
  findex repair --auto --dry-run`,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)
	repairCmd.Flags().StringVar(&repairFromJSON, "from-json", "", "read the audit report from a file, or - for stdin")
	repairCmd.Flags().BoolVar(&repairAuto, "auto", false, "run the audit first instead of reading a report")
	repairCmd.Flags().BoolVar(&repairOrphans, "delete-orphans", false, "delete price/signal rows without a ticker")
	repairCmd.Flags().BoolVar(&repairWeights, "normalize-weights", false, "rescale snapshot weights that do not sum to 1")
	repairCmd.Flags().BoolVar(&repairRefresh, "refresh", false, "recompute stale signals and gapped index history")
	repairCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "plan only, write nothing")
}

func runRepair(cmd *cobra.Command, args []string) error {
	unresolved, err := executeRepair(cmd)
	if err != nil {
		return err
	}
	// The pool is already closed by the time we get here.
	if unresolved > 0 {
		fmt.Printf("%d issues unresolved\n", unresolved)
		os.Exit(1)
	}
	return nil
}

func executeRepair(cmd *cobra.Command) (int, error) {
	if repairAuto == (repairFromJSON != "") {
		return 0, fmt.Errorf("exactly one of --auto or --from-json is required")
	}

	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return 0, err
	}
	defer cleanup()

	var report *contracts.AuditReport
	if repairAuto {
		report, err = audit.NewAuditor(db.Pool, cfg.Audit, log).Run(cmd.Context())
		if err != nil {
			return 0, err
		}
	} else {
		report, err = readAuditReport(repairFromJSON)
		if err != nil {
			return 0, err
		}
	}

	if report.Clean() {
		fmt.Println("nothing to repair")
		return 0, nil
	}

	policy := repair.Policy{
		DeleteOrphans:      repairOrphans,
		RenormalizeWeights: repairWeights,
		RefreshStale:       repairRefresh,
	}
	// The pipeline doubles as the refresher so repairs reuse the same
	// signal and history paths as a normal run.
	pipeline := buildPipeline(cfg, log, db)
	repairer := repair.NewRepairer(
		marketdata.NewPriceRepository(db.Pool),
		signals.NewRepository(db.Pool),
		indexes.NewRepository(db.Pool),
		pipeline,
		policy,
		repairDryRun,
		log,
	)

	result, err := repairer.Apply(cmd.Context(), report)
	if err != nil {
		return 0, err
	}

	for _, out := range result.Outcomes {
		fmt.Printf("%-10s %-18s %s\n", out.Status, out.Issue.Kind, out.Detail)
	}
	return result.Unresolved(), nil
}

// readAuditReport decodes a JSON report from a file or stdin ("-").
func readAuditReport(path string) (*contracts.AuditReport, error) {
	var rd io.Reader
	if path == "-" {
		rd = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open report: %w", err)
		}
		defer f.Close()
		rd = f
	}
	return contracts.DecodeAuditReport(rd)
}
