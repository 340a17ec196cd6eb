package signals

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

func testBars(ticker string, n int, closeFn func(i int) float64, volFn func(i int) int64) []contracts.PriceBar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]contracts.PriceBar, n)
	d := start
	for i := 0; i < n; i++ {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		bars[i] = contracts.PriceBar{
			Ticker: ticker,
			Date:   d,
			Close:  closeFn(i),
			Volume: volFn(i),
		}
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func flatVolume(int) int64 { return 1_000_000 }

func fullRange(bars []contracts.PriceBar) (time.Time, time.Time) {
	return bars[0].Date, bars[len(bars)-1].Date
}

func TestComputeRequiresBenchmark(t *testing.T) {
	c := NewComputer(DefaultConfig(), logger.NewNop())
	bars := testBars("AAPL", 30, func(i int) float64 { return 100 + float64(i) }, flatVolume)
	from, to := fullRange(bars)

	_, err := c.Compute(context.Background(), "AAPL", bars, nil, from, to)
	assert.ErrorIs(t, err, contracts.ErrInsufficientHistory)
}

func TestComputeShortHistoryYieldsPartialSnapshots(t *testing.T) {
	c := NewComputer(DefaultConfig(), logger.NewNop())
	bars := testBars("AAPL", 30, func(i int) float64 { return 100 + float64(i) }, flatVolume)
	bench := testBars("SPY", 30, func(i int) float64 { return 400 + float64(i)/2 }, flatVolume)
	from, to := fullRange(bars)

	snaps, err := c.Compute(context.Background(), "AAPL", bars, bench, from, to)
	require.NoError(t, err)
	require.Len(t, snaps, 30)

	first := snaps[0]
	assert.Nil(t, first.Ret1M)
	assert.Nil(t, first.SMA50)
	assert.Nil(t, first.RSI14)
	assert.Nil(t, first.MScore)
	assert.False(t, first.Breakout)

	// 30 bars is enough for the 1-month return and RSI but not the
	// longer windows.
	last := snaps[29]
	require.NotNil(t, last.Ret1M)
	require.NotNil(t, last.RSI14)
	assert.Nil(t, last.Ret3M)
	assert.Nil(t, last.SMA50)
	assert.Nil(t, last.SMA200)
	assert.Nil(t, last.Beta60)
	assert.Nil(t, last.MScore)
}

func TestComputeReturnValues(t *testing.T) {
	c := NewComputer(DefaultConfig(), logger.NewNop())
	// Exponential growth makes every k-day return exactly (1.01)^k - 1.
	bars := testBars("MSFT", 150, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) }, flatVolume)
	bench := testBars("SPY", 150, func(i int) float64 { return 400 + float64(i) }, flatVolume)
	from, to := fullRange(bars)

	snaps, err := c.Compute(context.Background(), "MSFT", bars, bench, from, to)
	require.NoError(t, err)

	last := snaps[len(snaps)-1]
	require.NotNil(t, last.Ret1M)
	require.NotNil(t, last.Ret3M)
	require.NotNil(t, last.Ret6M)
	assert.InDelta(t, math.Pow(1.01, 21)-1, *last.Ret1M, 1e-9)
	assert.InDelta(t, math.Pow(1.01, 63)-1, *last.Ret3M, 1e-9)
	assert.InDelta(t, math.Pow(1.01, 126)-1, *last.Ret6M, 1e-9)

	// A strictly rising series pins RSI at 100 and keeps the breakout
	// flag on once the lookback is filled.
	require.NotNil(t, last.RSI14)
	assert.InDelta(t, 100.0, *last.RSI14, 1e-9)
	assert.True(t, last.Breakout)
}

func TestComputeVolumeSurge(t *testing.T) {
	const n = 300
	c := NewComputer(DefaultConfig(), logger.NewNop())
	// Flat volume with a single 10x spike on day 250.
	bars := testBars("NVDA", n, func(i int) float64 { return 100 + float64(i)/10 }, func(i int) int64 {
		if i == 250 {
			return 10_000_000
		}
		return 1_000_000
	})
	bench := testBars("SPY", n, func(i int) float64 { return 400 + float64(i)/5 }, flatVolume)
	from, to := fullRange(bars)

	snaps, err := c.Compute(context.Background(), "NVDA", bars, bench, from, to)
	require.NoError(t, err)
	require.Len(t, snaps, n)

	spike := snaps[250]
	require.NotNil(t, spike.VolSurge)
	assert.InDelta(t, 10.0, *spike.VolSurge, 1e-9)

	// The trailing window excludes the current day, so the day before the
	// spike is a clean 1.0 and the day after reads the spike in its window.
	before := snaps[249]
	require.NotNil(t, before.VolSurge)
	assert.InDelta(t, 1.0, *before.VolSurge, 1e-9)

	after := snaps[251]
	require.NotNil(t, after.VolSurge)
	assert.Greater(t, *after.VolSurge, 0.0)
	assert.Less(t, *after.VolSurge, 1.0)

	// Deep into the series every field is populated.
	require.NotNil(t, spike.RSI14)
	require.NotNil(t, spike.MScore)
	require.NotNil(t, spike.Beta60)
	require.NotNil(t, spike.SMA200)
	assert.True(t, spike.Complete())
}

func TestComputeDeterministic(t *testing.T) {
	c := NewComputer(DefaultConfig(), logger.NewNop())
	closeFn := func(i int) float64 { return 100 + 10*math.Sin(float64(i)/7) + float64(i)/20 }
	volFn := func(i int) int64 { return 1_000_000 + int64(i%13)*50_000 }
	bars := testBars("AMZN", 300, closeFn, volFn)
	bench := testBars("SPY", 300, func(i int) float64 { return 400 + float64(i)/3 }, flatVolume)
	from, to := fullRange(bars)

	a, err := c.Compute(context.Background(), "AMZN", bars, bench, from, to)
	require.NoError(t, err)
	b, err := c.Compute(context.Background(), "AMZN", bars, bench, from, to)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Recomputing only the tail must reproduce the same tail values,
	// given the same trailing history in the input.
	tail, err := c.Compute(context.Background(), "AMZN", bars, bench, bars[280].Date, to)
	require.NoError(t, err)
	require.Len(t, tail, 20)
	assert.Equal(t, a[280:], tail)
}

func TestComputeRangeFilter(t *testing.T) {
	c := NewComputer(DefaultConfig(), logger.NewNop())
	bars := testBars("GOOG", 100, func(i int) float64 { return 100 + float64(i) }, flatVolume)
	bench := testBars("SPY", 100, func(i int) float64 { return 400 + float64(i) }, flatVolume)

	snaps, err := c.Compute(context.Background(), "GOOG", bars, bench, bars[50].Date, bars[59].Date)
	require.NoError(t, err)
	require.Len(t, snaps, 10)
	assert.Equal(t, bars[50].Date, snaps[0].Date)
	assert.Equal(t, bars[59].Date, snaps[9].Date)
}

func TestComputeBreakout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakoutMargin = 0.02
	c := NewComputer(cfg, logger.NewNop())

	// Flat at 100 for 50 days, then a jump to 105: clears the 2% margin.
	bars := testBars("TSLA", 60, func(i int) float64 {
		if i >= 50 {
			return 105
		}
		return 100
	}, flatVolume)
	bench := testBars("SPY", 60, func(i int) float64 { return 400 }, flatVolume)
	from, to := fullRange(bars)

	snaps, err := c.Compute(context.Background(), "TSLA", bars, bench, from, to)
	require.NoError(t, err)

	assert.False(t, snaps[49].Breakout)
	assert.True(t, snaps[50].Breakout)
	// Later days compare against a prior high that already includes 105.
	assert.False(t, snaps[55].Breakout)
}

func TestComputeEmptyBars(t *testing.T) {
	c := NewComputer(DefaultConfig(), logger.NewNop())
	bench := testBars("SPY", 10, func(i int) float64 { return 400 }, flatVolume)

	snaps, err := c.Compute(context.Background(), "AAPL", nil, bench, time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
