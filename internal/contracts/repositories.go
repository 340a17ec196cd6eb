package contracts

import (
	"context"
	"time"
)

// Repository interfaces implemented by the pgx-backed stores. Engine
// packages depend on these so that construction, rebalancing, and repair
// can be exercised against in-memory fakes.

// TickerRepository manages the equity universe.
type TickerRepository interface {
	List(ctx context.Context) ([]Ticker, error)
	Symbols(ctx context.Context) ([]string, error)
	UpsertBatch(ctx context.Context, tickers []Ticker) error
}

// PriceRepository manages daily bars. All writes for one batch are applied
// in a single transaction.
type PriceRepository interface {
	GetRange(ctx context.Context, ticker string, from, to time.Time) ([]PriceBar, error)
	// History returns up to limit trailing bars ending at or before to,
	// in ascending date order.
	History(ctx context.Context, ticker string, to time.Time, limit int) ([]PriceBar, error)
	MaxDate(ctx context.Context) (*time.Time, error)
	// TradingDates lists the distinct dates with any price row in [from, to].
	TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
	UpsertBatch(ctx context.Context, bars []PriceBar) error
	// DeleteOrphans removes bars whose ticker is absent from tickers.
	DeleteOrphans(ctx context.Context) (int64, error)
}

// SignalRepository manages derived signal snapshots.
type SignalRepository interface {
	GetRange(ctx context.Context, ticker string, from, to time.Time) ([]SignalSnapshot, error)
	MaxDate(ctx context.Context, ticker string) (*time.Time, error)
	// ReplaceRange upserts one ticker's snapshots for a date range in a
	// single transaction, so readers never observe a half-written range.
	ReplaceRange(ctx context.Context, ticker string, snaps []SignalSnapshot) error
	DeleteOrphans(ctx context.Context) (int64, error)
}

// SnapshotKey identifies one (index, as-of) constituent snapshot.
type SnapshotKey struct {
	IndexID int       `json:"index_id"`
	Slug    string    `json:"slug"`
	AsOf    time.Time `json:"asof"`
}

// IndexRepository manages index definitions, constituent snapshots, and
// the derived history series.
type IndexRepository interface {
	List(ctx context.Context) ([]IndexDefinition, error)
	GetBySlug(ctx context.Context, slug string) (*IndexDefinition, error)
	// EnsureDefault seeds the momentum-10 definition when missing.
	EnsureDefault(ctx context.Context) error

	LatestSnapshotDate(ctx context.Context, indexID int) (*time.Time, error)
	Snapshot(ctx context.Context, indexID int, asof time.Time) ([]IndexConstituent, error)
	// EffectiveSnapshot returns the snapshot with the greatest as-of date
	// at or before date.
	EffectiveSnapshot(ctx context.Context, indexID int, date time.Time) ([]IndexConstituent, error)
	// ReplaceSnapshot atomically swaps the snapshot for (indexID, asof).
	ReplaceSnapshot(ctx context.Context, indexID int, asof time.Time, constituents []IndexConstituent) error
	SnapshotKeys(ctx context.Context) ([]SnapshotKey, error)

	History(ctx context.Context, indexID int, from, to time.Time) ([]IndexHistoryPoint, error)
	LastHistoryBefore(ctx context.Context, indexID int, date time.Time) (*IndexHistoryPoint, error)
	UpsertHistory(ctx context.Context, points []IndexHistoryPoint) error
}

// CandidateSource supplies the selection universe as of a date: ticker
// metadata joined with the latest signals and prices at or before it.
type CandidateSource interface {
	Candidates(ctx context.Context, asof time.Time) ([]Candidate, error)
}
