package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/findex/internal/contracts"
	"github.com/wonny/findex/pkg/httputil"
	"github.com/wonny/findex/pkg/logger"
)

// Universe source pages. Both carry a constituents table whose columns
// are located by header text, since the layouts drift over time.
const (
	sp500URL     = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"
	nasdaq100URL = "https://en.wikipedia.org/wiki/Nasdaq-100"
)

// UniverseScraper builds the ticker universe from public constituent
// lists and upserts it into the store.
type UniverseScraper struct {
	client  *httputil.Client
	tickers contracts.TickerRepository
	logger  *logger.Logger
}

// NewUniverseScraper creates a new universe scraper.
func NewUniverseScraper(client *httputil.Client, tickers contracts.TickerRepository, log *logger.Logger) *UniverseScraper {
	return &UniverseScraper{client: client, tickers: tickers, logger: log}
}

// Refresh scrapes both sources, merges them, and upserts the result.
// One source failing is tolerated; both failing is an error.
func (u *UniverseScraper) Refresh(ctx context.Context) ([]contracts.Ticker, error) {
	merged := make(map[string]contracts.Ticker)
	var failures int

	sources := []struct {
		name     string
		url      string
		exchange string
	}{
		{"sp500", sp500URL, "NYSE/NASDAQ"},
		{"nasdaq100", nasdaq100URL, "NASDAQ"},
	}
	for _, src := range sources {
		tickers, err := u.scrape(ctx, src.url, src.exchange)
		if err != nil {
			u.logger.WithField("source", src.name).WithError(err).Warn("universe source failed")
			failures++
			continue
		}
		for _, t := range tickers {
			if existing, ok := merged[t.Symbol]; ok {
				merged[t.Symbol] = mergeTicker(existing, t)
			} else {
				merged[t.Symbol] = t
			}
		}
	}
	if failures == len(sources) {
		return nil, fmt.Errorf("%w: all universe sources failed", contracts.ErrFetchFailed)
	}

	out := make([]contracts.Ticker, 0, len(merged))
	for _, t := range merged {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	if err := u.tickers.UpsertBatch(ctx, out); err != nil {
		return nil, fmt.Errorf("upsert universe: %w", err)
	}

	u.logger.WithField("tickers", len(out)).Info("universe refreshed")
	return out, nil
}

func (u *UniverseScraper) scrape(ctx context.Context, pageURL, exchange string) ([]contracts.Ticker, error) {
	resp, err := u.client.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return parseConstituents(doc, exchange)
}

// parseConstituents reads the table with id "constituents". Column
// positions come from the header row: a "Symbol" or "Ticker" column is
// required, name and sector are best-effort.
func parseConstituents(doc *goquery.Document, exchange string) ([]contracts.Ticker, error) {
	table := doc.Find("table#constituents").First()
	if table.Length() == 0 {
		table = doc.Find("table.wikitable").First()
	}
	if table.Length() == 0 {
		return nil, fmt.Errorf("no constituents table found")
	}

	symbolIdx, nameIdx, sectorIdx := -1, -1, -1
	table.Find("tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
		switch h := strings.ToLower(strings.TrimSpace(th.Text())); {
		case h == "symbol" || h == "ticker" || h == "ticker symbol":
			symbolIdx = i
		case h == "security" || h == "company":
			nameIdx = i
		case strings.Contains(h, "sector"):
			sectorIdx = i
		}
	})
	if symbolIdx < 0 {
		return nil, fmt.Errorf("no symbol column in constituents table")
	}

	var tickers []contracts.Ticker
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := tr.Find("td")
		symbol := NormalizeSymbol(cellText(cells, symbolIdx))
		if symbol == "" {
			return
		}
		tickers = append(tickers, contracts.Ticker{
			Symbol:   symbol,
			Name:     cellText(cells, nameIdx),
			Sector:   cellText(cells, sectorIdx),
			Exchange: exchange,
			Country:  "US",
		})
	})
	if len(tickers) == 0 {
		return nil, fmt.Errorf("constituents table had no rows")
	}
	return tickers, nil
}

func cellText(cells *goquery.Selection, idx int) string {
	if idx < 0 || idx >= cells.Length() {
		return ""
	}
	return strings.TrimSpace(cells.Eq(idx).Text())
}

// NormalizeSymbol maps source notation to the store's: uppercase, class
// shares with a dash (BRK.B -> BRK-B).
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, ".", "-")
}

// mergeTicker prefers the richer of two rows for the same symbol.
func mergeTicker(a, b contracts.Ticker) contracts.Ticker {
	if a.Name == "" {
		a.Name = b.Name
	}
	if a.Sector == "" {
		a.Sector = b.Sector
	}
	if a.MarketCap == 0 {
		a.MarketCap = b.MarketCap
	}
	return a
}
