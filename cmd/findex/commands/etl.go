package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/internal/etl"
	"github.com/wonny/findex/internal/indexes"
	"github.com/wonny/findex/internal/marketdata"
	"github.com/wonny/findex/internal/signals"
	"github.com/wonny/findex/pkg/config"
	"github.com/wonny/findex/pkg/database"
	"github.com/wonny/findex/pkg/httputil"
	"github.com/wonny/findex/pkg/logger"
)

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Batch pipeline: universe, prices, signals, rebalancing",
}

var (
	etlTickers     string
	etlTickersFile string
	etlFrom        string
	etlTo          string
	etlAsOf        string
	etlIndexSlug   string
	etlBatch       int
	etlSleep       time.Duration
	etlSlow        time.Duration
	etlConcurrency int
	etlDryRun      bool
)

var etlTickersCmd = &cobra.Command{
	Use:     "tickers",
	Short:   "Scrape the constituent universe and upsert tickers",
	Example: `  findex etl tickers`,
	RunE:    runEtlTickers,
}

var etlPricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Fetch daily bars from the external source",
	Example: `  findex etl prices
  findex etl prices --tickers AAPL,MSFT --from 2025-01-01
  findex etl prices --batch 10 --sleep 3s --dry-run`,
	RunE: runEtlPrices,
}

var etlSignalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Recompute technical signals from stored prices",
	Example: `  findex etl signals
  findex etl signals --tickers AAPL --from 2025-06-01 --to 2025-08-01
  findex etl signals --concurrency 8 --dry-run`,
	RunE: runEtlSignals,
}

var etlRebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Rebalance or reconstitute indices that are due",
	Example: `  findex etl rebalance
  findex etl rebalance --asof 2026-01-15 --index momentum-10`,
	RunE: runEtlRebalance,
}

var etlHistoryCmd = &cobra.Command{
	Use:     "history",
	Short:   "Recompute an index's level series over a range",
	Example: `  findex etl history --index momentum-10 --from 2025-01-01`,
	RunE:    runEtlHistory,
}

var etlRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Full pipeline: prices -> signals -> rebalance",
	RunE:  runEtlRun,
}

func init() {
	rootCmd.AddCommand(etlCmd)
	etlCmd.AddCommand(etlTickersCmd, etlPricesCmd, etlSignalsCmd, etlRebalanceCmd, etlHistoryCmd, etlRunCmd)

	for _, cmd := range []*cobra.Command{etlPricesCmd, etlSignalsCmd} {
		cmd.Flags().StringVar(&etlTickers, "tickers", "", "comma-separated symbols (default: all known)")
		cmd.Flags().StringVar(&etlTickersFile, "file", "", "file with one symbol per line")
		cmd.Flags().StringVar(&etlFrom, "from", "", "range start (YYYY-MM-DD)")
		cmd.Flags().StringVar(&etlTo, "to", "", "range end (YYYY-MM-DD, default today)")
		cmd.Flags().BoolVar(&etlDryRun, "dry-run", false, "compute but do not write")
	}
	etlPricesCmd.Flags().IntVar(&etlBatch, "batch", 0, "override fetch batch size")
	etlPricesCmd.Flags().DurationVar(&etlSleep, "sleep", 0, "override inter-request delay")
	etlPricesCmd.Flags().DurationVar(&etlSlow, "slow", 0, "override adaptive slowdown delay")
	etlSignalsCmd.Flags().IntVar(&etlConcurrency, "concurrency", 0, "override worker count")

	etlRebalanceCmd.Flags().StringVar(&etlAsOf, "asof", "", "as-of date (YYYY-MM-DD, default today)")
	etlRebalanceCmd.Flags().StringVar(&etlIndexSlug, "index", "", "only this index slug")

	etlHistoryCmd.Flags().StringVar(&etlIndexSlug, "index", "", "index slug (required)")
	etlHistoryCmd.Flags().StringVar(&etlFrom, "from", "", "range start (YYYY-MM-DD)")
	etlHistoryCmd.Flags().StringVar(&etlTo, "to", "", "range end (YYYY-MM-DD, default today)")
	etlHistoryCmd.MarkFlagRequired("index")
}

// buildPipeline wires the pipeline's collaborators from live config.
func buildPipeline(cfg *config.Config, log *logger.Logger, db *database.DB) *etl.Pipeline {
	client := httputil.New(log, cfg.Fetch.RequestTimeout, cfg.Fetch.Sleep, cfg.Fetch.AdaptiveSlow, httputil.RetryConfig{
		MaxRetries:   cfg.Fetch.MaxRetries,
		InitialDelay: cfg.Fetch.InitialDelay,
		MaxDelay:     cfg.Fetch.MaxDelay,
	})

	tickerRepo := marketdata.NewTickerRepository(db.Pool)
	priceRepo := marketdata.NewPriceRepository(db.Pool)
	signalRepo := signals.NewRepository(db.Pool)
	indexRepo := indexes.NewRepository(db.Pool)

	fetcher := marketdata.NewFetcher(client, priceRepo, cfg.Fetch, log)
	scraper := marketdata.NewUniverseScraper(client, tickerRepo, log)

	return etl.New(*cfg, tickerRepo, priceRepo, signalRepo, indexRepo, indexRepo, fetcher, scraper, log)
}

func runEtlTickers(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	tickers, err := buildPipeline(cfg, log, db).RefreshTickers(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("universe refreshed: %d tickers\n", len(tickers))
	return nil
}

func runEtlPrices(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if etlBatch > 0 {
		cfg.Fetch.MaxBatch = etlBatch
	}
	if etlSleep > 0 {
		cfg.Fetch.Sleep = etlSleep
	}
	if etlSlow > 0 {
		cfg.Fetch.AdaptiveSlow = etlSlow
	}

	from, to, err := resolveRange(cfg.Fetch.PeriodDays)
	if err != nil {
		return err
	}
	tickers, err := tickerList()
	if err != nil {
		return err
	}

	result, err := buildPipeline(cfg, log, db).FetchPrices(cmd.Context(), tickers, from, to, etlDryRun)
	if err != nil {
		return err
	}
	fmt.Printf("fetched %d tickers, %d bars", result.Fetched, result.Bars)
	if len(result.Failed) > 0 {
		fmt.Printf(", failed: %s", strings.Join(result.Failed, ","))
	}
	fmt.Println()
	return nil
}

func runEtlSignals(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if etlConcurrency > 0 {
		cfg.Fetch.Concurrency = etlConcurrency
	}

	from, to, err := resolveRange(cfg.Fetch.PeriodDays)
	if err != nil {
		return err
	}
	tickers, err := tickerList()
	if err != nil {
		return err
	}

	report, err := buildPipeline(cfg, log, db).ComputeSignals(cmd.Context(), tickers, from, to, etlDryRun)
	if err != nil {
		return err
	}
	fmt.Printf("computed %d snapshots for %d tickers (%d failed)\n", report.Snapshots, report.Tickers, len(report.Failed))
	for ticker, msg := range report.Failed {
		fmt.Printf("  %s: %s\n", ticker, msg)
	}
	return nil
}

func runEtlRebalance(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	asof := time.Now().UTC()
	if etlAsOf != "" {
		asof, err = time.Parse(contracts.DateFormat, etlAsOf)
		if err != nil {
			return fmt.Errorf("invalid --asof: %w", err)
		}
	}

	report, err := buildPipeline(cfg, log, db).Rebalance(cmd.Context(), etlIndexSlug, asof)
	if err != nil {
		return err
	}
	for _, res := range report.Results {
		fmt.Printf("%s: %s (%d constituents)\n", res.Slug, res.Action, res.Constituents)
	}
	for slug, msg := range report.Failed {
		fmt.Printf("%s: FAILED: %s\n", slug, msg)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d indices failed", len(report.Failed))
	}
	return nil
}

func runEtlHistory(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	from, to, err := resolveRange(cfg.Fetch.PeriodDays)
	if err != nil {
		return err
	}

	points, partial, err := buildPipeline(cfg, log, db).ComputeHistory(cmd.Context(), etlIndexSlug, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d history points computed\n", etlIndexSlug, len(points))
	for _, pc := range partial {
		fmt.Printf("  %s: missing prices for %s\n", pc.Date.Format(contracts.DateFormat), strings.Join(pc.Missing, ","))
	}
	return nil
}

func runEtlRun(cmd *cobra.Command, args []string) error {
	cfg, log, db, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	return buildPipeline(cfg, log, db).Run(cmd.Context(), time.Now().UTC())
}

// resolveRange parses --from/--to, defaulting to the trailing period
// ending today.
func resolveRange(periodDays int) (time.Time, time.Time, error) {
	to := time.Now().UTC().Truncate(24 * time.Hour)
	if etlTo != "" {
		parsed, err := time.Parse(contracts.DateFormat, etlTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -periodDays)
	if etlFrom != "" {
		parsed, err := time.Parse(contracts.DateFormat, etlFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		from = parsed
	}
	return from, to, nil
}

// tickerList resolves --tickers/--file into a symbol slice; empty means
// every known ticker.
func tickerList() ([]string, error) {
	var out []string
	if etlTickers != "" {
		for _, s := range strings.Split(etlTickers, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, marketdata.NormalizeSymbol(s))
			}
		}
	}
	if etlTickersFile != "" {
		data, err := os.ReadFile(etlTickersFile)
		if err != nil {
			return nil, fmt.Errorf("read ticker file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
				out = append(out, marketdata.NormalizeSymbol(line))
			}
		}
	}
	return out, nil
}
