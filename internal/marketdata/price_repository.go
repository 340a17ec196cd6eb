package marketdata

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/findex/internal/contracts"
)

// PriceRepository implements contracts.PriceRepository on Postgres.
type PriceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// GetRange returns one ticker's bars within [from, to], ascending.
func (r *PriceRepository) GetRange(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PriceBar, error) {
	query := `
		SELECT ticker, date, close, volume
		FROM prices
		WHERE ticker = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`

	rows, err := r.pool.Query(ctx, query, ticker, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBars(rows)
}

// History returns up to limit trailing bars ending at or before to, in
// ascending date order. Signal windows read their lookback through this.
func (r *PriceRepository) History(ctx context.Context, ticker string, to time.Time, limit int) ([]contracts.PriceBar, error) {
	query := `
		SELECT ticker, date, close, volume
		FROM (
			SELECT ticker, date, close, volume
			FROM prices
			WHERE ticker = $1 AND date <= $2
			ORDER BY date DESC
			LIMIT $3
		) trailing
		ORDER BY date ASC
	`

	rows, err := r.pool.Query(ctx, query, ticker, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBars(rows)
}

// MaxDate returns the newest price date across all tickers.
func (r *PriceRepository) MaxDate(ctx context.Context) (*time.Time, error) {
	var max *time.Time
	if err := r.pool.QueryRow(ctx, `SELECT MAX(date) FROM prices`).Scan(&max); err != nil {
		return nil, err
	}
	return max, nil
}

// TradingDates lists the distinct dates with any price row in [from, to].
func (r *PriceRepository) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT date
		FROM prices
		WHERE date BETWEEN $1 AND $2
		ORDER BY date ASC
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// UpsertBatch writes bars in one transaction.
func (r *PriceRepository) UpsertBatch(ctx context.Context, bars []contracts.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prices (ticker, date, close, volume)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ticker, date) DO UPDATE SET
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, b.Ticker, b.Date, b.Close, b.Volume)
	}
	br := tx.SendBatch(ctx, batch)
	for range bars {
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

// DeleteOrphans removes bars whose ticker no longer exists.
func (r *PriceRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM prices p
		WHERE NOT EXISTS (SELECT 1 FROM tickers t WHERE t.ticker = p.ticker)
	`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanBars(rows pgx.Rows) ([]contracts.PriceBar, error) {
	var bars []contracts.PriceBar
	for rows.Next() {
		var b contracts.PriceBar
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
