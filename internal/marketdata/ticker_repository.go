package marketdata

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/findex/internal/contracts"
)

// TickerRepository implements contracts.TickerRepository on Postgres.
type TickerRepository struct {
	pool *pgxpool.Pool
}

// NewTickerRepository creates a new ticker repository.
func NewTickerRepository(pool *pgxpool.Pool) *TickerRepository {
	return &TickerRepository{pool: pool}
}

// List returns all tickers ordered by symbol.
func (r *TickerRepository) List(ctx context.Context) ([]contracts.Ticker, error) {
	query := `
		SELECT ticker, name, sector, exchange, market_cap, country
		FROM tickers
		ORDER BY ticker
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []contracts.Ticker
	for rows.Next() {
		var t contracts.Ticker
		if err := rows.Scan(&t.Symbol, &t.Name, &t.Sector, &t.Exchange, &t.MarketCap, &t.Country); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// Symbols returns just the symbols, ordered.
func (r *TickerRepository) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT ticker FROM tickers ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// UpsertBatch inserts or refreshes ticker metadata in one transaction.
// Empty incoming fields never clobber known values.
func (r *TickerRepository) UpsertBatch(ctx context.Context, tickers []contracts.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO tickers (ticker, name, sector, exchange, market_cap, country)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ticker) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), tickers.name),
			sector = COALESCE(NULLIF(EXCLUDED.sector, ''), tickers.sector),
			exchange = COALESCE(NULLIF(EXCLUDED.exchange, ''), tickers.exchange),
			market_cap = CASE WHEN EXCLUDED.market_cap > 0 THEN EXCLUDED.market_cap ELSE tickers.market_cap END,
			country = COALESCE(NULLIF(EXCLUDED.country, ''), tickers.country)
	`

	batch := &pgx.Batch{}
	for _, t := range tickers {
		batch.Queue(query, t.Symbol, t.Name, t.Sector, t.Exchange, t.MarketCap, t.Country)
	}
	br := tx.SendBatch(ctx, batch)
	for range tickers {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
