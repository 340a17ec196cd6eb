package etl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/internal/indexes"
	"github.com/wonny/findex/internal/marketdata"
	"github.com/wonny/findex/internal/signals"
	"github.com/wonny/findex/pkg/config"
	"github.com/wonny/findex/pkg/logger"
)

// extraLookbackDays of leading bars loaded before a signal range so the
// longest windows (sma_200, the 252-observation rank window) are full on
// the range's first day.
const extraLookbackDays = 420

// SignalRunReport aggregates a signal computation pass. Per-ticker
// failures are isolated here instead of aborting the run.
type SignalRunReport struct {
	Tickers   int               `json:"tickers"`
	Snapshots int               `json:"snapshots"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RebalanceRunReport aggregates a rebalance pass across indices.
type RebalanceRunReport struct {
	Results []indexes.Result  `json:"results"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Pipeline orchestrates the batch flow: universe refresh, price fetch,
// signal computation, index rebalancing, and history computation. It
// also serves the repairer as its refresh backend.
type Pipeline struct {
	cfg config.Config

	tickers    contracts.TickerRepository
	prices     contracts.PriceRepository
	signals    contracts.SignalRepository
	indexes    contracts.IndexRepository
	candidates contracts.CandidateSource

	computer    *signals.Computer
	fetcher     *marketdata.Fetcher
	scraper     *marketdata.UniverseScraper
	rebalancer  *indexes.Rebalancer
	performance *indexes.Performance

	keys   *keyedMutex
	logger *logger.Logger
}

// New wires a pipeline from its collaborators.
func New(
	cfg config.Config,
	tickerRepo contracts.TickerRepository,
	priceRepo contracts.PriceRepository,
	signalRepo contracts.SignalRepository,
	indexRepo contracts.IndexRepository,
	candidates contracts.CandidateSource,
	fetcher *marketdata.Fetcher,
	scraper *marketdata.UniverseScraper,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		tickers:     tickerRepo,
		prices:      priceRepo,
		signals:     signalRepo,
		indexes:     indexRepo,
		candidates:  candidates,
		computer:    signals.NewComputer(signals.DefaultConfig(), log),
		fetcher:     fetcher,
		scraper:     scraper,
		rebalancer:  indexes.NewRebalancer(indexRepo, candidates, log),
		performance: indexes.NewPerformance(indexRepo, priceRepo, cfg.Index.BaseLevel, log),
		keys:        newKeyedMutex(),
		logger:      log,
	}
}

// RefreshTickers scrapes the universe sources and upserts the result.
func (p *Pipeline) RefreshTickers(ctx context.Context) ([]contracts.Ticker, error) {
	return p.scraper.Refresh(ctx)
}

// FetchPrices downloads daily bars for the tickers (all known tickers
// when the list is empty) over the configured trailing period.
func (p *Pipeline) FetchPrices(ctx context.Context, tickers []string, from, to time.Time, dryRun bool) (*marketdata.FetchResult, error) {
	if len(tickers) == 0 {
		var err error
		tickers, err = p.tickers.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("load symbols: %w", err)
		}
	}
	// The benchmark must be present for beta, even if it is not in the
	// index universe.
	if !containsString(tickers, p.cfg.Fetch.BenchmarkSym) {
		tickers = append(tickers, p.cfg.Fetch.BenchmarkSym)
	}
	return p.fetcher.FetchDaily(ctx, tickers, from, to, dryRun)
}

// ComputeSignals recomputes snapshots for the tickers (all known tickers
// when empty) over [from, to], fanning out with bounded concurrency.
// Per-ticker failures land in the report; only a missing benchmark
// series fails the whole pass.
func (p *Pipeline) ComputeSignals(ctx context.Context, tickerList []string, from, to time.Time, dryRun bool) (*SignalRunReport, error) {
	if len(tickerList) == 0 {
		var err error
		tickerList, err = p.tickers.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("load symbols: %w", err)
		}
	}

	lookback := from.AddDate(0, 0, -extraLookbackDays)
	benchmark, err := p.prices.GetRange(ctx, p.cfg.Fetch.BenchmarkSym, lookback, to)
	if err != nil {
		return nil, fmt.Errorf("load benchmark %s: %w", p.cfg.Fetch.BenchmarkSym, err)
	}
	if len(benchmark) == 0 {
		return nil, fmt.Errorf("benchmark %s: %w", p.cfg.Fetch.BenchmarkSym, contracts.ErrInsufficientHistory)
	}

	report := &SignalRunReport{Tickers: len(tickerList), Failed: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Fetch.Concurrency)
	for _, ticker := range tickerList {
		ticker := ticker
		g.Go(func() error {
			n, err := p.computeOne(gctx, ticker, benchmark, from, to, dryRun)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[ticker] = err.Error()
				return nil
			}
			report.Snapshots += n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(report.Failed) == 0 {
		report.Failed = nil
	}

	p.logger.WithFields(map[string]interface{}{
		"tickers":   report.Tickers,
		"snapshots": report.Snapshots,
		"failed":    len(report.Failed),
	}).Info("signal run complete")

	return report, nil
}

func (p *Pipeline) computeOne(ctx context.Context, ticker string, benchmark []contracts.PriceBar, from, to time.Time, dryRun bool) (int, error) {
	bars, err := p.prices.GetRange(ctx, ticker, from.AddDate(0, 0, -extraLookbackDays), to)
	if err != nil {
		return 0, fmt.Errorf("load prices: %w", err)
	}

	snaps, err := p.computer.Compute(ctx, ticker, bars, benchmark, from, to)
	if err != nil {
		return 0, err
	}
	if dryRun || len(snaps) == 0 {
		return len(snaps), nil
	}

	unlock := p.keys.Lock(ticker)
	defer unlock()
	if err := p.signals.ReplaceRange(ctx, ticker, snaps); err != nil {
		return 0, fmt.Errorf("persist signals: %w", err)
	}
	return len(snaps), nil
}

// Rebalance runs the rebalancer for every definition (or one slug) at
// asof, then extends each index's history through asof. Per-index
// failures are isolated in the report.
func (p *Pipeline) Rebalance(ctx context.Context, slug string, asof time.Time) (*RebalanceRunReport, error) {
	if err := p.indexes.EnsureDefault(ctx); err != nil {
		return nil, fmt.Errorf("ensure default index: %w", err)
	}

	defs, err := p.loadDefinitions(ctx, slug)
	if err != nil {
		return nil, err
	}

	report := &RebalanceRunReport{Failed: make(map[string]string)}
	for i := range defs {
		def := &defs[i]
		unlock := p.keys.Lock("index:" + def.Slug)
		res, err := p.rebalancer.Rebalance(ctx, def, asof)
		if err == nil {
			_, _, err = p.performance.Compute(ctx, def, p.historyStart(ctx, def, asof), asof)
		}
		unlock()

		if err != nil {
			report.Failed[def.Slug] = err.Error()
			continue
		}
		report.Results = append(report.Results, *res)
	}
	if len(report.Failed) == 0 {
		report.Failed = nil
	}
	return report, nil
}

// ComputeHistory recomputes the level series for one index over a range.
func (p *Pipeline) ComputeHistory(ctx context.Context, slug string, from, to time.Time) ([]contracts.IndexHistoryPoint, []indexes.PartialCoverage, error) {
	def, err := p.indexes.GetBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, fmt.Errorf("unknown index %q", slug)
	}

	unlock := p.keys.Lock("index:" + def.Slug)
	defer unlock()
	return p.performance.Compute(ctx, def, from, to)
}

// Run executes the full daily flow: fetch, signals, rebalance.
func (p *Pipeline) Run(ctx context.Context, asof time.Time) error {
	from := asof.AddDate(0, 0, -p.cfg.Fetch.PeriodDays)

	if _, err := p.FetchPrices(ctx, nil, from, asof, false); err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}
	sigReport, err := p.ComputeSignals(ctx, nil, from, asof, false)
	if err != nil {
		return fmt.Errorf("compute signals: %w", err)
	}
	rebReport, err := p.Rebalance(ctx, "", asof)
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"signals_failed":   len(sigReport.Failed),
		"indices":          len(rebReport.Results),
		"rebalance_failed": len(rebReport.Failed),
	}).Info("pipeline run complete")
	return nil
}

// RefreshSignals recomputes stale tickers from scratch over the
// configured period. Implements the repairer's refresh hook.
func (p *Pipeline) RefreshSignals(ctx context.Context, tickers []string) error {
	to, err := p.prices.MaxDate(ctx)
	if err != nil {
		return fmt.Errorf("price max date: %w", err)
	}
	if to == nil {
		return fmt.Errorf("no prices loaded: %w", contracts.ErrInsufficientHistory)
	}
	from := to.AddDate(0, 0, -p.cfg.Fetch.PeriodDays)

	report, err := p.ComputeSignals(ctx, tickers, from, *to, false)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d tickers failed to refresh", len(report.Failed), report.Tickers)
	}
	return nil
}

// RecomputeHistory rebuilds an index's full level series. Implements the
// repairer's refresh hook for history gaps.
func (p *Pipeline) RecomputeHistory(ctx context.Context, slug string) error {
	def, err := p.indexes.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if def == nil {
		return fmt.Errorf("unknown index %q", slug)
	}

	to, err := p.prices.MaxDate(ctx)
	if err != nil {
		return fmt.Errorf("price max date: %w", err)
	}
	if to == nil {
		return nil
	}

	// Start from the first snapshot so gaps in the middle of the series
	// get filled, not just the tail.
	from := to.AddDate(0, 0, -p.cfg.Fetch.PeriodDays)
	keys, err := p.indexes.SnapshotKeys(ctx)
	if err != nil {
		return fmt.Errorf("snapshot keys: %w", err)
	}
	for _, k := range keys {
		if k.IndexID == def.ID {
			from = k.AsOf
			break
		}
	}

	unlock := p.keys.Lock("index:" + def.Slug)
	defer unlock()
	_, _, err = p.performance.Compute(ctx, def, from, *to)
	return err
}

// historyStart picks where a history computation should begin: just
// after the last stored point, or at the first snapshot for a fresh
// series.
func (p *Pipeline) historyStart(ctx context.Context, def *contracts.IndexDefinition, asof time.Time) time.Time {
	last, err := p.indexes.LastHistoryBefore(ctx, def.ID, asof.AddDate(0, 0, 1))
	if err == nil && last != nil {
		return last.Date
	}
	keys, err := p.indexes.SnapshotKeys(ctx)
	if err == nil {
		for _, k := range keys {
			if k.IndexID == def.ID {
				return k.AsOf
			}
		}
	}
	return asof.AddDate(0, 0, -p.cfg.Fetch.PeriodDays)
}

func (p *Pipeline) loadDefinitions(ctx context.Context, slug string) ([]contracts.IndexDefinition, error) {
	if slug != "" {
		def, err := p.indexes.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		if def == nil {
			return nil, fmt.Errorf("unknown index %q", slug)
		}
		return []contracts.IndexDefinition{*def}, nil
	}
	return p.indexes.List(ctx)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
