package indexes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/findex/internal/contracts"
)

// Repository implements contracts.IndexRepository and
// contracts.CandidateSource on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new index repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// defaultRules is the seed rule set: top 10 by momentum score, equal
// weight, monthly rebalance and reconstitution.
var defaultRules = Rules{
	Filters:   []Filter{},
	Rank:      Rank{By: RankByMScore, Top: 10},
	Weighting: Weighting{Method: WeightEqual},
}

// List returns all index definitions ordered by slug.
func (r *Repository) List(ctx context.Context) ([]contracts.IndexDefinition, error) {
	query := `
		SELECT id, slug, name, description, rules, rebalance_freq, reconst_freq
		FROM index_definitions
		ORDER BY slug
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []contracts.IndexDefinition
	for rows.Next() {
		var d contracts.IndexDefinition
		if err := rows.Scan(&d.ID, &d.Slug, &d.Name, &d.Description, &d.Rules, &d.RebalanceFreq, &d.ReconstFreq); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// GetBySlug returns one definition, nil when the slug is unknown.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*contracts.IndexDefinition, error) {
	query := `
		SELECT id, slug, name, description, rules, rebalance_freq, reconst_freq
		FROM index_definitions
		WHERE slug = $1
	`

	var d contracts.IndexDefinition
	err := r.pool.QueryRow(ctx, query, slug).Scan(
		&d.ID, &d.Slug, &d.Name, &d.Description, &d.Rules, &d.RebalanceFreq, &d.ReconstFreq,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// EnsureDefault seeds the momentum-10 definition when it is missing, so a
// fresh database rebalances something on the first run.
func (r *Repository) EnsureDefault(ctx context.Context) error {
	rules, err := json.Marshal(defaultRules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO index_definitions (slug, name, description, rules, rebalance_freq, reconst_freq)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO NOTHING
	`

	_, err = r.pool.Exec(ctx, query,
		"momentum-10",
		"Momentum 10",
		"Top 10 by momentum score, equal weight, monthly",
		rules,
		contracts.FreqMonthly,
		contracts.FreqMonthly,
	)
	return err
}

// LatestSnapshotDate returns the most recent as-of date for an index.
func (r *Repository) LatestSnapshotDate(ctx context.Context, indexID int) (*time.Time, error) {
	query := `SELECT MAX(asof) FROM index_constituents WHERE index_id = $1`

	var latest *time.Time
	if err := r.pool.QueryRow(ctx, query, indexID).Scan(&latest); err != nil {
		return nil, err
	}
	return latest, nil
}

// Snapshot returns the constituents for one (index, asof), ticker ascending.
func (r *Repository) Snapshot(ctx context.Context, indexID int, asof time.Time) ([]contracts.IndexConstituent, error) {
	query := `
		SELECT index_id, asof, ticker, weight
		FROM index_constituents
		WHERE index_id = $1 AND asof = $2
		ORDER BY ticker
	`

	rows, err := r.pool.Query(ctx, query, indexID, asof)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConstituents(rows)
}

// EffectiveSnapshot returns the snapshot in force on a date: the one with
// the greatest as-of at or before it.
func (r *Repository) EffectiveSnapshot(ctx context.Context, indexID int, date time.Time) ([]contracts.IndexConstituent, error) {
	query := `
		SELECT index_id, asof, ticker, weight
		FROM index_constituents
		WHERE index_id = $1
		  AND asof = (SELECT MAX(asof) FROM index_constituents WHERE index_id = $1 AND asof <= $2)
		ORDER BY ticker
	`

	rows, err := r.pool.Query(ctx, query, indexID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConstituents(rows)
}

// ReplaceSnapshot swaps the constituents for (indexID, asof) in one
// transaction: readers see the old set or the new set, never a mix.
func (r *Repository) ReplaceSnapshot(ctx context.Context, indexID int, asof time.Time, constituents []contracts.IndexConstituent) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM index_constituents WHERE index_id = $1 AND asof = $2`,
		indexID, asof,
	); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, c := range constituents {
		batch.Queue(
			`INSERT INTO index_constituents (index_id, asof, ticker, weight) VALUES ($1, $2, $3, $4)`,
			indexID, asof, c.Ticker, c.Weight,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range constituents {
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

// SnapshotKeys lists every (index, asof) snapshot key in the store.
func (r *Repository) SnapshotKeys(ctx context.Context) ([]contracts.SnapshotKey, error) {
	query := `
		SELECT c.index_id, d.slug, c.asof
		FROM index_constituents c
		JOIN index_definitions d ON d.id = c.index_id
		GROUP BY c.index_id, d.slug, c.asof
		ORDER BY c.index_id, c.asof
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []contracts.SnapshotKey
	for rows.Next() {
		var k contracts.SnapshotKey
		if err := rows.Scan(&k.IndexID, &k.Slug, &k.AsOf); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// History returns the level series for [from, to], ascending.
func (r *Repository) History(ctx context.Context, indexID int, from, to time.Time) ([]contracts.IndexHistoryPoint, error) {
	query := `
		SELECT index_id, date, level, ret_daily
		FROM index_history
		WHERE index_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`

	rows, err := r.pool.Query(ctx, query, indexID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []contracts.IndexHistoryPoint
	for rows.Next() {
		var p contracts.IndexHistoryPoint
		if err := rows.Scan(&p.IndexID, &p.Date, &p.Level, &p.RetDaily); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// LastHistoryBefore returns the latest point strictly before date, nil
// when the series has not started.
func (r *Repository) LastHistoryBefore(ctx context.Context, indexID int, date time.Time) (*contracts.IndexHistoryPoint, error) {
	query := `
		SELECT index_id, date, level, ret_daily
		FROM index_history
		WHERE index_id = $1 AND date < $2
		ORDER BY date DESC
		LIMIT 1
	`

	var p contracts.IndexHistoryPoint
	err := r.pool.QueryRow(ctx, query, indexID, date).Scan(&p.IndexID, &p.Date, &p.Level, &p.RetDaily)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertHistory writes history points in one transaction.
func (r *Repository) UpsertHistory(ctx context.Context, points []contracts.IndexHistoryPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO index_history (index_id, date, level, ret_daily)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (index_id, date) DO UPDATE SET
			level = EXCLUDED.level,
			ret_daily = EXCLUDED.ret_daily
	`

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(query, p.IndexID, p.Date, p.Level, p.RetDaily)
	}
	br := tx.SendBatch(ctx, batch)
	for range points {
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

// Candidates builds the selection universe as of a date: every ticker
// joined with its latest price and latest signal snapshot at or before it.
// Tickers with no signals yet still appear; metric predicates reject them.
func (r *Repository) Candidates(ctx context.Context, asof time.Time) ([]contracts.Candidate, error) {
	query := `
		SELECT t.ticker, t.name, t.sector, t.exchange, t.country, t.market_cap,
		       COALESCE(p.close, 0), COALESCE(p.volume, 0),
		       s.date, s.ret_1m, s.ret_3m, s.ret_6m, s.rsi_14, s.atr_14,
		       s.sma_50, s.sma_200, s.vol_surge, s.beta_60, s.m_score,
		       COALESCE(s.breakout, false)
		FROM tickers t
		LEFT JOIN LATERAL (
			SELECT close, volume FROM prices
			WHERE ticker = t.ticker AND date <= $1
			ORDER BY date DESC LIMIT 1
		) p ON true
		LEFT JOIN LATERAL (
			SELECT * FROM signals
			WHERE ticker = t.ticker AND date <= $1
			ORDER BY date DESC LIMIT 1
		) s ON true
		ORDER BY t.ticker
	`

	rows, err := r.pool.Query(ctx, query, asof)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contracts.Candidate
	for rows.Next() {
		var c contracts.Candidate
		var sigDate *time.Time
		if err := rows.Scan(
			&c.Ticker, &c.Name, &c.Sector, &c.Exchange, &c.Country, &c.MarketCap,
			&c.Close, &c.Volume,
			&sigDate, &c.Signal.Ret1M, &c.Signal.Ret3M, &c.Signal.Ret6M,
			&c.Signal.RSI14, &c.Signal.ATR14, &c.Signal.SMA50, &c.Signal.SMA200,
			&c.Signal.VolSurge, &c.Signal.Beta60, &c.Signal.MScore, &c.Signal.Breakout,
		); err != nil {
			return nil, err
		}
		c.Signal.Ticker = c.Ticker
		if sigDate != nil {
			c.Signal.Date = *sigDate
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConstituents(rows pgx.Rows) ([]contracts.IndexConstituent, error) {
	var out []contracts.IndexConstituent
	for rows.Next() {
		var c contracts.IndexConstituent
		if err := rows.Scan(&c.IndexID, &c.AsOf, &c.Ticker, &c.Weight); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
