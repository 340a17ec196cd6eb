package signals

import (
	"context"
	"math"
	"time"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/logger"
)

// Config holds the lookback windows for every derived signal.
type Config struct {
	Ret1MDays      int // trading days in the 1-month return
	Ret3MDays      int
	Ret6MDays      int
	RSIPeriod      int
	ATRPeriod      int
	SMAShort       int
	SMALong        int
	SurgeDays      int     // trailing window for the volume-surge ratio
	BetaDays       int     // paired observations for beta vs the benchmark
	BreakoutDays   int     // prior-high lookback for the breakout flag
	BreakoutMargin float64 // close must exceed the prior high by this fraction
	RankDays       int     // trailing observations for m_score percentile ranks
}

// DefaultConfig returns the standard signal windows.
func DefaultConfig() Config {
	return Config{
		Ret1MDays:      21,
		Ret3MDays:      63,
		Ret6MDays:      126,
		RSIPeriod:      14,
		ATRPeriod:      14,
		SMAShort:       50,
		SMALong:        200,
		SurgeDays:      20,
		BetaDays:       60,
		BreakoutDays:   20,
		BreakoutMargin: 0.0,
		RankDays:       252,
	}
}

// Computer derives per-ticker, per-date technical signals from daily bars.
// Computation is pure: identical price input always yields identical
// output, which the audit's staleness check depends on.
type Computer struct {
	config Config
	logger *logger.Logger
}

// NewComputer creates a new signal computer.
func NewComputer(config Config, log *logger.Logger) *Computer {
	return &Computer{config: config, logger: log}
}

// Compute produces one SignalSnapshot per bar date inside [from, to].
// bars must be ascending by date and include enough trailing history
// before from for the longest window; dates without full history get
// partial snapshots with nil fields, never an error. benchmark supplies
// the market series for beta; an entirely absent benchmark is the one
// hard failure (ErrInsufficientHistory).
func (c *Computer) Compute(ctx context.Context, ticker string, bars []contracts.PriceBar, benchmark []contracts.PriceBar, from, to time.Time) ([]contracts.SignalSnapshot, error) {
	if len(benchmark) == 0 {
		return nil, contracts.ErrInsufficientHistory
	}
	if len(bars) == 0 {
		return nil, nil
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	rets := dailyReturns(closes)
	rsi := c.rsiSeries(closes)
	atr := c.atrSeries(closes)

	benchRet := benchmarkReturns(benchmark)

	// Precompute the per-date component series so the trailing percentile
	// ranks for m_score see the same values that get persisted.
	ret3m := make([]*float64, len(bars))
	ret6m := make([]*float64, len(bars))
	for i := range bars {
		ret3m[i] = periodReturn(closes, i, c.config.Ret3MDays)
		ret6m[i] = periodReturn(closes, i, c.config.Ret6MDays)
	}

	var out []contracts.SignalSnapshot
	for i, bar := range bars {
		if bar.Date.Before(from) || bar.Date.After(to) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		snap := contracts.SignalSnapshot{
			Ticker: ticker,
			Date:   bar.Date,
			Ret1M:  periodReturn(closes, i, c.config.Ret1MDays),
			Ret3M:  ret3m[i],
			Ret6M:  ret6m[i],
			RSI14:  rsi[i],
			ATR14:  atr[i],
			SMA50:  trailingMean(closes, i, c.config.SMAShort),
			SMA200: trailingMean(closes, i, c.config.SMALong),
		}

		snap.VolSurge = c.volSurge(volumes, i)
		snap.Beta60 = c.beta(bars, rets, benchRet, i)
		snap.MScore = c.mScore(ret3m, ret6m, atr, i)
		snap.Breakout = c.breakout(closes, i)

		out = append(out, snap)
	}

	return out, nil
}

// dailyReturns computes simple percentage returns; index 0 is NaN.
func dailyReturns(closes []float64) []float64 {
	rets := make([]float64, len(closes))
	rets[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			rets[i] = math.NaN()
			continue
		}
		rets[i] = closes[i]/closes[i-1] - 1
	}
	return rets
}

// periodReturn is the simple return over the trailing days window,
// nil when the window extends past the start of the series.
func periodReturn(closes []float64, i, days int) *float64 {
	if i < days || closes[i-days] == 0 {
		return nil
	}
	v := closes[i]/closes[i-days] - 1
	return &v
}

// trailingMean averages the window of n closes ending at i (inclusive).
func trailingMean(values []float64, i, n int) *float64 {
	if i < n-1 {
		return nil
	}
	var sum float64
	for j := i - n + 1; j <= i; j++ {
		sum += values[j]
	}
	v := sum / float64(n)
	return &v
}

// rsiSeries computes RSI with Wilder smoothing: the first average is the
// SMA of the first period gains/losses, then each step folds in the new
// change at weight 1/period.
func (c *Computer) rsiSeries(closes []float64) []*float64 {
	period := c.config.RSIPeriod
	out := make([]*float64, len(closes))
	if len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) *float64 {
	v := 100.0
	if avgLoss != 0 {
		rs := avgGain / avgLoss
		v = 100 - 100/(1+rs)
	}
	return &v
}

// atrSeries approximates the average true range from close-to-close
// moves (high/low are unavailable in the store): the trailing mean of
// absolute percentage changes, scaled back to price by the current close.
func (c *Computer) atrSeries(closes []float64) []*float64 {
	period := c.config.ATRPeriod
	out := make([]*float64, len(closes))
	for i := period; i < len(closes); i++ {
		var sum float64
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if closes[j-1] == 0 {
				ok = false
				break
			}
			sum += math.Abs(closes[j]/closes[j-1] - 1)
		}
		if !ok {
			continue
		}
		v := sum / float64(period) * closes[i]
		out[i] = &v
	}
	return out
}

// volSurge is the current volume over the trailing SurgeDays average,
// excluding the current day.
func (c *Computer) volSurge(volumes []float64, i int) *float64 {
	n := c.config.SurgeDays
	if i < n {
		return nil
	}
	var sum float64
	for j := i - n; j < i; j++ {
		sum += volumes[j]
	}
	avg := sum / float64(n)
	if avg == 0 {
		return nil
	}
	v := volumes[i] / avg
	return &v
}

// beta regresses the trailing BetaDays ticker returns on benchmark
// returns matched by date; nil when fewer than BetaDays pairs line up.
func (c *Computer) beta(bars []contracts.PriceBar, rets []float64, benchRet map[time.Time]float64, i int) *float64 {
	n := c.config.BetaDays
	if i < n {
		return nil
	}

	var xs, ys []float64
	for j := i - n + 1; j <= i; j++ {
		if math.IsNaN(rets[j]) {
			continue
		}
		br, ok := benchRet[dateKey(bars[j].Date)]
		if !ok {
			continue
		}
		xs = append(xs, br)
		ys = append(ys, rets[j])
	}
	if len(xs) < n {
		return nil
	}

	varX := variance(xs)
	if varX == 0 {
		return nil
	}
	v := covariance(xs, ys) / varX
	return &v
}

// mScore is the composite momentum rank: percentile ranks of the 3- and
// 6-month returns minus a volatility penalty from the ATR rank, each
// taken over the ticker's trailing RankDays observations. The fixed
// window keeps recomputation over any date range deterministic.
func (c *Computer) mScore(ret3m, ret6m, atr []*float64, i int) *float64 {
	if ret3m[i] == nil || ret6m[i] == nil || atr[i] == nil {
		return nil
	}
	lo := i - c.config.RankDays + 1
	if lo < 0 {
		lo = 0
	}
	r3 := percentileRank(ret3m[lo:i+1], *ret3m[i])
	r6 := percentileRank(ret6m[lo:i+1], *ret6m[i])
	ra := percentileRank(atr[lo:i+1], *atr[i])
	v := r3*0.6 + r6*0.4 - ra*0.2
	return &v
}

// breakout is true when close exceeds the highest close of the prior
// BreakoutDays window by the configured margin.
func (c *Computer) breakout(closes []float64, i int) bool {
	n := c.config.BreakoutDays
	if i < n {
		return false
	}
	high := closes[i-n]
	for j := i - n + 1; j < i; j++ {
		if closes[j] > high {
			high = closes[j]
		}
	}
	return closes[i] > high*(1+c.config.BreakoutMargin)
}

// percentileRank is the fraction of non-nil window values at or below x.
func percentileRank(window []*float64, x float64) float64 {
	var n, atOrBelow int
	for _, v := range window {
		if v == nil {
			continue
		}
		n++
		if *v <= x {
			atOrBelow++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(atOrBelow) / float64(n)
}

func benchmarkReturns(benchmark []contracts.PriceBar) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(benchmark))
	for i := 1; i < len(benchmark); i++ {
		if benchmark[i-1].Close == 0 {
			continue
		}
		out[dateKey(benchmark[i].Date)] = benchmark[i].Close/benchmark[i-1].Close - 1
	}
	return out
}

// dateKey truncates to the calendar day in UTC so bars loaded with
// different clock components still align.
func dateKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values)-1)
}

func covariance(xs, ys []float64) float64 {
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sum float64
	for i := range xs {
		sum += (xs[i] - mx) * (ys[i] - my)
	}
	return sum / float64(len(xs)-1)
}
