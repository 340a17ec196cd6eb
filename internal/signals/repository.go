package signals

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/findex/internal/contracts"
)

// Repository implements contracts.SignalRepository on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new signal repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const signalColumns = `ticker, date, ret_1m, ret_3m, ret_6m, rsi_14, atr_14,
	sma_50, sma_200, vol_surge, beta_60, m_score, breakout`

// GetRange retrieves one ticker's snapshots within [from, to], ascending.
func (r *Repository) GetRange(ctx context.Context, ticker string, from, to time.Time) ([]contracts.SignalSnapshot, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE ticker = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`

	rows, err := r.pool.Query(ctx, query, ticker, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// MaxDate returns the latest signal date for a ticker, nil when none exist.
func (r *Repository) MaxDate(ctx context.Context, ticker string) (*time.Time, error) {
	query := `SELECT MAX(date) FROM signals WHERE ticker = $1`

	var max *time.Time
	if err := r.pool.QueryRow(ctx, query, ticker).Scan(&max); err != nil {
		return nil, err
	}
	return max, nil
}

// ReplaceRange upserts one ticker's snapshots in a single transaction so
// a crash mid-write never leaves a partially updated range behind.
func (r *Repository) ReplaceRange(ctx context.Context, ticker string, snaps []contracts.SignalSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO signals (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (ticker, date) DO UPDATE SET
			ret_1m = EXCLUDED.ret_1m,
			ret_3m = EXCLUDED.ret_3m,
			ret_6m = EXCLUDED.ret_6m,
			rsi_14 = EXCLUDED.rsi_14,
			atr_14 = EXCLUDED.atr_14,
			sma_50 = EXCLUDED.sma_50,
			sma_200 = EXCLUDED.sma_200,
			vol_surge = EXCLUDED.vol_surge,
			beta_60 = EXCLUDED.beta_60,
			m_score = EXCLUDED.m_score,
			breakout = EXCLUDED.breakout
	`

	batch := &pgx.Batch{}
	for _, s := range snaps {
		batch.Queue(query,
			ticker, s.Date, s.Ret1M, s.Ret3M, s.Ret6M, s.RSI14, s.ATR14,
			s.SMA50, s.SMA200, s.VolSurge, s.Beta60, s.MScore, s.Breakout,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range snaps {
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

// DeleteOrphans removes signal rows whose ticker no longer exists.
func (r *Repository) DeleteOrphans(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM signals s
		WHERE NOT EXISTS (SELECT 1 FROM tickers t WHERE t.ticker = s.ticker)
	`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSnapshots(rows pgx.Rows) ([]contracts.SignalSnapshot, error) {
	var snaps []contracts.SignalSnapshot
	for rows.Next() {
		var s contracts.SignalSnapshot
		if err := rows.Scan(
			&s.Ticker, &s.Date, &s.Ret1M, &s.Ret3M, &s.Ret6M, &s.RSI14, &s.ATR14,
			&s.SMA50, &s.SMA200, &s.VolSurge, &s.Beta60, &s.MScore, &s.Breakout,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
