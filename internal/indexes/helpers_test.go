package indexes

import (
	"context"
	"sort"
	"time"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

func nopLogger() *logger.Logger {
	return logger.NewNop()
}

// fakeIndexRepo is an in-memory contracts.IndexRepository for exercising
// the rebalancer and performance calculator without a database.
type fakeIndexRepo struct {
	indexID   int
	snapshots map[string][]contracts.IndexConstituent // key: asof date string
	history   map[string]contracts.IndexHistoryPoint  // key: date string
	replaced  int
}

func newFakeIndexRepo() *fakeIndexRepo {
	return &fakeIndexRepo{
		indexID:   1,
		snapshots: make(map[string][]contracts.IndexConstituent),
		history:   make(map[string]contracts.IndexHistoryPoint),
	}
}

func (f *fakeIndexRepo) List(ctx context.Context) ([]contracts.IndexDefinition, error) {
	return nil, nil
}

func (f *fakeIndexRepo) GetBySlug(ctx context.Context, slug string) (*contracts.IndexDefinition, error) {
	return nil, nil
}

func (f *fakeIndexRepo) EnsureDefault(ctx context.Context) error { return nil }

func (f *fakeIndexRepo) LatestSnapshotDate(ctx context.Context, indexID int) (*time.Time, error) {
	var latest *time.Time
	for key := range f.snapshots {
		d, _ := time.Parse(contracts.DateFormat, key)
		if latest == nil || d.After(*latest) {
			cp := d
			latest = &cp
		}
	}
	return latest, nil
}

func (f *fakeIndexRepo) Snapshot(ctx context.Context, indexID int, asof time.Time) ([]contracts.IndexConstituent, error) {
	return f.snapshots[asof.Format(contracts.DateFormat)], nil
}

func (f *fakeIndexRepo) EffectiveSnapshot(ctx context.Context, indexID int, date time.Time) ([]contracts.IndexConstituent, error) {
	var best string
	for key := range f.snapshots {
		if key <= date.Format(contracts.DateFormat) && key > best {
			best = key
		}
	}
	if best == "" {
		return nil, nil
	}
	return f.snapshots[best], nil
}

func (f *fakeIndexRepo) ReplaceSnapshot(ctx context.Context, indexID int, asof time.Time, constituents []contracts.IndexConstituent) error {
	f.snapshots[asof.Format(contracts.DateFormat)] = constituents
	f.replaced++
	return nil
}

func (f *fakeIndexRepo) SnapshotKeys(ctx context.Context) ([]contracts.SnapshotKey, error) {
	var keys []contracts.SnapshotKey
	for key := range f.snapshots {
		d, _ := time.Parse(contracts.DateFormat, key)
		keys = append(keys, contracts.SnapshotKey{IndexID: f.indexID, AsOf: d})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].AsOf.Before(keys[j].AsOf) })
	return keys, nil
}

func (f *fakeIndexRepo) History(ctx context.Context, indexID int, from, to time.Time) ([]contracts.IndexHistoryPoint, error) {
	var points []contracts.IndexHistoryPoint
	for _, p := range f.history {
		if !p.Date.Before(from) && !p.Date.After(to) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

func (f *fakeIndexRepo) LastHistoryBefore(ctx context.Context, indexID int, date time.Time) (*contracts.IndexHistoryPoint, error) {
	var best *contracts.IndexHistoryPoint
	for key, p := range f.history {
		if key >= date.Format(contracts.DateFormat) {
			continue
		}
		if best == nil || p.Date.After(best.Date) {
			cp := p
			best = &cp
		}
	}
	return best, nil
}

func (f *fakeIndexRepo) UpsertHistory(ctx context.Context, points []contracts.IndexHistoryPoint) error {
	for _, p := range points {
		f.history[p.Date.Format(contracts.DateFormat)] = p
	}
	return nil
}

type fakeCandidateSource struct {
	candidates []contracts.Candidate
}

func (f *fakeCandidateSource) Candidates(ctx context.Context, asof time.Time) ([]contracts.Candidate, error) {
	return f.candidates, nil
}

// fakePriceRepo serves bars keyed by ticker, in ascending date order.
type fakePriceRepo struct {
	bars map[string][]contracts.PriceBar
}

func newFakePriceRepo() *fakePriceRepo {
	return &fakePriceRepo{bars: make(map[string][]contracts.PriceBar)}
}

func (f *fakePriceRepo) add(ticker string, dateStr string, close float64) {
	f.bars[ticker] = append(f.bars[ticker], contracts.PriceBar{
		Ticker: ticker,
		Date:   date(dateStr),
		Close:  close,
		Volume: 1_000_000,
	})
}

func (f *fakePriceRepo) GetRange(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PriceBar, error) {
	var out []contracts.PriceBar
	for _, b := range f.bars[ticker] {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakePriceRepo) History(ctx context.Context, ticker string, to time.Time, limit int) ([]contracts.PriceBar, error) {
	var out []contracts.PriceBar
	for _, b := range f.bars[ticker] {
		if !b.Date.After(to) {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakePriceRepo) MaxDate(ctx context.Context) (*time.Time, error) {
	var max *time.Time
	for _, bars := range f.bars {
		for _, b := range bars {
			if max == nil || b.Date.After(*max) {
				cp := b.Date
				max = &cp
			}
		}
	}
	return max, nil
}

func (f *fakePriceRepo) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	seen := make(map[string]time.Time)
	for _, bars := range f.bars {
		for _, b := range bars {
			if !b.Date.Before(from) && !b.Date.After(to) {
				seen[b.Date.Format(contracts.DateFormat)] = b.Date
			}
		}
	}
	var dates []time.Time
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (f *fakePriceRepo) UpsertBatch(ctx context.Context, bars []contracts.PriceBar) error {
	for _, b := range bars {
		f.bars[b.Ticker] = append(f.bars[b.Ticker], b)
	}
	return nil
}

func (f *fakePriceRepo) DeleteOrphans(ctx context.Context) (int64, error) { return 0, nil }
