package indexes

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

// PartialCoverage records constituents that had no usable price on a
// computed day. Their contribution for that day is zero; the weight is
// not redistributed.
type PartialCoverage struct {
	Date    time.Time `json:"date"`
	Missing []string  `json:"missing"`
}

// Performance computes and persists the daily index level series from
// constituent snapshots and prices. The daily return is the weighted sum
// of constituent returns under the snapshot in effect for the day; the
// level chains multiplicatively from the prior stored level, seeded at
// the base level for an index's first day.
type Performance struct {
	repo      contracts.IndexRepository
	prices    contracts.PriceRepository
	baseLevel float64
	logger    *logger.Logger
}

// NewPerformance creates a new performance calculator.
func NewPerformance(repo contracts.IndexRepository, prices contracts.PriceRepository, baseLevel float64, log *logger.Logger) *Performance {
	return &Performance{repo: repo, prices: prices, baseLevel: baseLevel, logger: log}
}

// Compute derives history points for one index over [from, to] and
// upserts them. Recomputing a range overwrites it with identical values
// when the underlying data has not changed.
func (p *Performance) Compute(ctx context.Context, def *contracts.IndexDefinition, from, to time.Time) ([]contracts.IndexHistoryPoint, []PartialCoverage, error) {
	// Pull a little extra leading history so the first day in range has a
	// previous close to compute its return against.
	lookback := from.AddDate(0, 0, -10)
	dates, err := p.prices.TradingDates(ctx, lookback, to)
	if err != nil {
		return nil, nil, fmt.Errorf("index %s: trading dates: %w", def.Slug, err)
	}
	if len(dates) == 0 {
		return nil, nil, nil
	}

	closes, err := p.loadCloses(ctx, def, lookback, to)
	if err != nil {
		return nil, nil, err
	}

	prior, err := p.repo.LastHistoryBefore(ctx, def.ID, from)
	if err != nil {
		return nil, nil, fmt.Errorf("index %s: prior level: %w", def.Slug, err)
	}
	level := p.baseLevel
	if prior != nil {
		level = prior.Level
	}

	var points []contracts.IndexHistoryPoint
	var partial []PartialCoverage
	for i, d := range dates {
		if d.Before(from) || i == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		constituents, err := p.repo.EffectiveSnapshot(ctx, def.ID, d)
		if err != nil {
			return nil, nil, fmt.Errorf("index %s: snapshot at %s: %w", def.Slug, d.Format(contracts.DateFormat), err)
		}
		if len(constituents) == 0 {
			// No snapshot in effect yet; the series starts with the first one.
			continue
		}

		prev := dates[i-1]
		ret, missing := dailyReturn(constituents, closes, d, prev)
		if len(missing) > 0 {
			partial = append(partial, PartialCoverage{Date: d, Missing: missing})
		}

		level = level * (1 + ret)
		points = append(points, contracts.IndexHistoryPoint{
			IndexID:  def.ID,
			Date:     d,
			Level:    level,
			RetDaily: ret,
		})
	}

	if len(points) > 0 {
		if err := p.repo.UpsertHistory(ctx, points); err != nil {
			return nil, nil, fmt.Errorf("index %s: persist history: %w", def.Slug, err)
		}
	}

	p.logger.WithFields(map[string]interface{}{
		"index":   def.Slug,
		"points":  len(points),
		"partial": len(partial),
	}).Info("index history computed")

	return points, partial, nil
}

// loadCloses fetches the close series for every ticker that appears in
// any snapshot of the index, keyed by ticker then date.
func (p *Performance) loadCloses(ctx context.Context, def *contracts.IndexDefinition, from, to time.Time) (map[string]map[string]float64, error) {
	keys, err := p.repo.SnapshotKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("index %s: snapshot keys: %w", def.Slug, err)
	}

	tickers := make(map[string]bool)
	for _, k := range keys {
		if k.IndexID != def.ID {
			continue
		}
		snap, err := p.repo.Snapshot(ctx, k.IndexID, k.AsOf)
		if err != nil {
			return nil, fmt.Errorf("index %s: snapshot %s: %w", def.Slug, k.AsOf.Format(contracts.DateFormat), err)
		}
		for _, c := range snap {
			tickers[c.Ticker] = true
		}
	}

	closes := make(map[string]map[string]float64, len(tickers))
	for ticker := range tickers {
		bars, err := p.prices.GetRange(ctx, ticker, from, to)
		if err != nil {
			return nil, fmt.Errorf("index %s: prices for %s: %w", def.Slug, ticker, err)
		}
		series := make(map[string]float64, len(bars))
		for _, b := range bars {
			series[b.Date.Format(contracts.DateFormat)] = b.Close
		}
		closes[ticker] = series
	}
	return closes, nil
}

// dailyReturn is Σ wᵢ·rᵢ over the snapshot, with zero contribution for
// any constituent missing a close on either day.
func dailyReturn(constituents []contracts.IndexConstituent, closes map[string]map[string]float64, d, prev time.Time) (float64, []string) {
	dk := d.Format(contracts.DateFormat)
	pk := prev.Format(contracts.DateFormat)

	var ret float64
	var missing []string
	for _, c := range constituents {
		series := closes[c.Ticker]
		today, okT := series[dk]
		yesterday, okY := series[pk]
		if !okT || !okY || yesterday == 0 {
			missing = append(missing, c.Ticker)
			continue
		}
		ret += c.Weight * (today/yesterday - 1)
	}
	return ret, missing
}
