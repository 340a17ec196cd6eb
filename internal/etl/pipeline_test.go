package etl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/config"
	"github.com/wonny/findex/pkg/logger"
)

type fakeTickerRepo struct {
	symbols []string
}

func (f *fakeTickerRepo) List(ctx context.Context) ([]contracts.Ticker, error) { return nil, nil }
func (f *fakeTickerRepo) Symbols(ctx context.Context) ([]string, error)        { return f.symbols, nil }
func (f *fakeTickerRepo) UpsertBatch(ctx context.Context, tickers []contracts.Ticker) error {
	return nil
}

type fakePriceRepo struct {
	bars    map[string][]contracts.PriceBar
	failFor string
}

func (f *fakePriceRepo) GetRange(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PriceBar, error) {
	if ticker == f.failFor {
		return nil, errors.New("simulated store failure")
	}
	var out []contracts.PriceBar
	for _, b := range f.bars[ticker] {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}
func (f *fakePriceRepo) History(ctx context.Context, ticker string, to time.Time, limit int) ([]contracts.PriceBar, error) {
	return f.bars[ticker], nil
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
	return nil, nil
}
func (f *fakePriceRepo) UpsertBatch(ctx context.Context, bars []contracts.PriceBar) error { return nil }
func (f *fakePriceRepo) DeleteOrphans(ctx context.Context) (int64, error)                 { return 0, nil }

type fakeSignalRepo struct {
	mu       sync.Mutex
	replaced map[string]int
}

func newFakeSignalRepo() *fakeSignalRepo {
	return &fakeSignalRepo{replaced: make(map[string]int)}
}

func (f *fakeSignalRepo) GetRange(ctx context.Context, ticker string, from, to time.Time) ([]contracts.SignalSnapshot, error) {
	return nil, nil
}
func (f *fakeSignalRepo) MaxDate(ctx context.Context, ticker string) (*time.Time, error) {
	return nil, nil
}
func (f *fakeSignalRepo) ReplaceRange(ctx context.Context, ticker string, snaps []contracts.SignalSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced[ticker] += len(snaps)
	return nil
}
func (f *fakeSignalRepo) DeleteOrphans(ctx context.Context) (int64, error) { return 0, nil }

func seedBars(repo *fakePriceRepo, ticker string, n int, start time.Time) {
	d := start
	for i := 0; i < n; i++ {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		repo.bars[ticker] = append(repo.bars[ticker], contracts.PriceBar{
			Ticker: ticker,
			Date:   d,
			Close:  100 + float64(i),
			Volume: 1_000_000,
		})
		d = d.AddDate(0, 0, 1)
	}
}

func testConfig() config.Config {
	return config.Config{
		Fetch: config.FetchConfig{
			BenchmarkSym: "SPY",
			Concurrency:  4,
			PeriodDays:   365,
		},
		Index: config.IndexConfig{BaseLevel: 1000},
	}
}

func newTestPipeline(prices *fakePriceRepo, sigRepo *fakeSignalRepo, tickers *fakeTickerRepo) *Pipeline {
	return New(testConfig(), tickers, prices, sigRepo, nil, nil, nil, nil, logger.NewNop())
}

func TestComputeSignalsIsolatesFailures(t *testing.T) {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	prices := &fakePriceRepo{bars: make(map[string][]contracts.PriceBar), failFor: "BAD"}
	seedBars(prices, "SPY", 60, start)
	seedBars(prices, "AAA", 60, start)
	seedBars(prices, "BBB", 60, start)

	sigRepo := newFakeSignalRepo()
	tickers := &fakeTickerRepo{symbols: []string{"AAA", "BAD", "BBB"}}
	p := newTestPipeline(prices, sigRepo, tickers)

	last := prices.bars["SPY"][len(prices.bars["SPY"])-1].Date
	report, err := p.ComputeSignals(context.Background(), nil, start, last, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Tickers)
	require.Contains(t, report.Failed, "BAD")
	assert.NotContains(t, report.Failed, "AAA")

	// The healthy tickers still got their full range written.
	assert.Equal(t, 60, sigRepo.replaced["AAA"])
	assert.Equal(t, 60, sigRepo.replaced["BBB"])
	assert.Zero(t, sigRepo.replaced["BAD"])
}

func TestComputeSignalsRequiresBenchmark(t *testing.T) {
	prices := &fakePriceRepo{bars: make(map[string][]contracts.PriceBar)}
	seedBars(prices, "AAA", 60, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	p := newTestPipeline(prices, newFakeSignalRepo(), &fakeTickerRepo{symbols: []string{"AAA"}})

	_, err := p.ComputeSignals(context.Background(), nil,
		time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 29, 0, 0, 0, 0, time.UTC), false)
	assert.ErrorIs(t, err, contracts.ErrInsufficientHistory)
}

func TestComputeSignalsDryRunWritesNothing(t *testing.T) {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	prices := &fakePriceRepo{bars: make(map[string][]contracts.PriceBar)}
	seedBars(prices, "SPY", 60, start)
	seedBars(prices, "AAA", 60, start)

	sigRepo := newFakeSignalRepo()
	p := newTestPipeline(prices, sigRepo, &fakeTickerRepo{symbols: []string{"AAA"}})

	last := prices.bars["SPY"][len(prices.bars["SPY"])-1].Date
	report, err := p.ComputeSignals(context.Background(), nil, start, last, true)
	require.NoError(t, err)
	assert.Equal(t, 60, report.Snapshots)
	assert.Empty(t, sigRepo.replaced)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("AAPL")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("AAA")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("BBB")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlockA()
}
