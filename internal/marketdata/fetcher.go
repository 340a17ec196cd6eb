package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/config"
	"github.com/wonny/findex/pkg/httputil"
	"github.com/wonny/findex/pkg/logger"
)

// FetchResult summarizes one fetch run.
type FetchResult struct {
	Fetched int      `json:"fetched"`
	Bars    int      `json:"bars"`
	Failed  []string `json:"failed,omitempty"`
}

// Fetcher pulls daily bars from the external CSV source and upserts them.
// Work is chunked into batches; a failing batch is split in half and
// retried down to single tickers, so one bad symbol costs one symbol,
// not its whole batch.
type Fetcher struct {
	client *httputil.Client
	prices contracts.PriceRepository
	cfg    config.FetchConfig
	logger *logger.Logger
}

// NewFetcher creates a new market data fetcher.
func NewFetcher(client *httputil.Client, prices contracts.PriceRepository, cfg config.FetchConfig, log *logger.Logger) *Fetcher {
	return &Fetcher{client: client, prices: prices, cfg: cfg, logger: log}
}

// FetchDaily downloads bars for the tickers over [from, to] and persists
// them. Failed tickers are collected, never fatal; the result names them
// so a later run can retry.
func (f *Fetcher) FetchDaily(ctx context.Context, tickers []string, from, to time.Time, dryRun bool) (*FetchResult, error) {
	result := &FetchResult{}

	for start := 0; start < len(tickers); start += f.cfg.MaxBatch {
		end := start + f.cfg.MaxBatch
		if end > len(tickers) {
			end = len(tickers)
		}
		f.fetchBatch(ctx, tickers[start:end], from, to, dryRun, result)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	f.logger.WithFields(map[string]interface{}{
		"tickers": len(tickers),
		"fetched": result.Fetched,
		"bars":    result.Bars,
		"failed":  len(result.Failed),
	}).Info("price fetch complete")

	return result, nil
}

// fetchBatch fetches one chunk, splitting on failure. At size one a
// failure is final and the ticker lands in result.Failed.
func (f *Fetcher) fetchBatch(ctx context.Context, batch []string, from, to time.Time, dryRun bool, result *FetchResult) {
	bars, err := f.download(ctx, batch, from, to)
	if err == nil {
		if !dryRun {
			if err := f.prices.UpsertBatch(ctx, bars); err != nil {
				f.logger.WithError(err).Error("price upsert failed")
				result.Failed = append(result.Failed, batch...)
				return
			}
		}
		result.Fetched += len(batch)
		result.Bars += len(bars)
		return
	}

	if len(batch) == 1 {
		f.logger.WithField("ticker", batch[0]).WithError(err).Warn("ticker fetch failed")
		result.Failed = append(result.Failed, batch[0])
		return
	}

	// Source rejected the chunk; slow down and bisect to find the bad
	// symbols instead of dropping everything.
	f.client.MarkSlowdown(f.cfg.AdaptiveSlow)
	mid := len(batch) / 2
	f.fetchBatch(ctx, batch[:mid], from, to, dryRun, result)
	f.fetchBatch(ctx, batch[mid:], from, to, dryRun, result)
}

// download fetches and parses bars for every ticker in the chunk; any
// per-ticker failure fails the chunk so the split logic can take over.
func (f *Fetcher) download(ctx context.Context, batch []string, from, to time.Time) ([]contracts.PriceBar, error) {
	var bars []contracts.PriceBar
	for _, ticker := range batch {
		tb, err := f.downloadOne(ctx, ticker, from, to)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ticker, err)
		}
		bars = append(bars, tb...)
	}
	return bars, nil
}

func (f *Fetcher) downloadOne(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PriceBar, error) {
	resp, err := f.client.Get(ctx, f.barURL(ticker, from, to))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%w: status %d", contracts.ErrFetchFailed, resp.StatusCode)
	}
	return parseBarCSV(ticker, resp.Body)
}

// barURL builds the CSV endpoint URL. The source uses lowercase symbols
// with a .us suffix for US listings and yyyymmdd date bounds.
func (f *Fetcher) barURL(ticker string, from, to time.Time) string {
	q := url.Values{}
	q.Set("s", strings.ToLower(ticker)+".us")
	q.Set("d1", from.Format("20060102"))
	q.Set("d2", to.Format("20060102"))
	q.Set("i", "d")
	return f.cfg.BaseURL + "?" + q.Encode()
}

// parseBarCSV reads the source's Date,Open,High,Low,Close,Volume rows.
// Only close and volume are kept. Rows with unparseable numbers are
// skipped; a response with no header at all is a fetch failure.
func parseBarCSV(ticker string, r io.Reader) ([]contracts.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: empty response", contracts.ErrFetchFailed)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateIdx, okD := col["date"]
	closeIdx, okC := col["close"]
	volIdx, okV := col["volume"]
	if !okD || !okC || !okV {
		return nil, fmt.Errorf("%w: unexpected header %v", contracts.ErrFetchFailed, header)
	}

	var bars []contracts.PriceBar
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contracts.ErrFetchFailed, err)
		}
		if len(record) <= volIdx {
			continue
		}
		date, err := time.Parse(contracts.DateFormat, record[dateIdx])
		if err != nil {
			continue
		}
		close, err := strconv.ParseFloat(record[closeIdx], 64)
		if err != nil || close <= 0 {
			continue
		}
		volume, err := strconv.ParseInt(record[volIdx], 10, 64)
		if err != nil {
			volume = 0
		}
		bars = append(bars, contracts.PriceBar{
			Ticker: ticker,
			Date:   date,
			Close:  close,
			Volume: volume,
		})
	}
	return bars, nil
}
