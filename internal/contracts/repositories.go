package contracts

import (
	"context"
	"time"
)

// SecurityRepository persists the security master.
type SecurityRepository interface {
	// Upsert inserts or refreshes securities by symbol.
	Upsert(ctx context.Context, securities []Security) error

	// DeactivateExcept marks every security not in symbols as inactive.
	// History for departed securities stays queryable.
	DeactivateExcept(ctx context.Context, symbols []string) error

	// List returns securities, optionally only those still active.
	List(ctx context.Context, activeOnly bool) ([]Security, error)

	// Get returns one security by symbol.
	Get(ctx context.Context, symbol string) (*Security, error)
}

// PriceRepository persists daily bars.
type PriceRepository interface {
	// SaveBatch upserts bars keyed by (symbol, date).
	SaveBatch(ctx context.Context, prices []Price) error

	// History returns bars for symbol in [from, to], oldest first.
	History(ctx context.Context, symbol string, from, to time.Time) ([]Price, error)

	// Latest returns the most recent bar for symbol.
	Latest(ctx context.Context, symbol string) (*Price, error)

	// LatestDate returns the most recent bar date across all symbols.
	LatestDate(ctx context.Context) (time.Time, error)
}

// FundamentalRepository persists fundamentals snapshots.
type FundamentalRepository interface {
	// SaveBatch upserts records keyed by (symbol, date).
	SaveBatch(ctx context.Context, records []FundamentalRecord) error

	// History returns up to limit records for symbol, newest first.
	History(ctx context.Context, symbol string, limit int) ([]FundamentalRecord, error)

	// Latest returns the most recent record for symbol.
	Latest(ctx context.Context, symbol string) (*FundamentalRecord, error)
}

// UniverseRepository persists screening outcomes.
type UniverseRepository interface {
	// Save stores the screened universe for its date.
	Save(ctx context.Context, universe Universe) error

	// Load returns the universe screened on date.
	Load(ctx context.Context, date time.Time) (*Universe, error)

	// LatestDate returns the most recent screening date.
	LatestDate(ctx context.Context) (time.Time, error)
}

// ScoreRepository persists factor scoring output.
type ScoreRepository interface {
	// SaveSet stores one scoring pass.
	SaveSet(ctx context.Context, set ScoreSet) error

	// LoadSet returns the scoring pass for date.
	LoadSet(ctx context.Context, date time.Time) (*ScoreSet, error)
}

// RankingRepository persists ranked universes.
type RankingRepository interface {
	// Save stores the ranking for its date.
	Save(ctx context.Context, ranking RankedUniverse) error

	// Load returns the ranking for date.
	Load(ctx context.Context, date time.Time) (*RankedUniverse, error)

	// Latest returns the most recent ranking.
	Latest(ctx context.Context) (*RankedUniverse, error)
}

// PortfolioRepository persists portfolio snapshots.
type PortfolioRepository interface {
	// Save stores a snapshot of the book for its date.
	Save(ctx context.Context, portfolio Portfolio) error

	// Current returns the most recent snapshot.
	Current(ctx context.Context) (*Portfolio, error)

	// Load returns the snapshot for date.
	Load(ctx context.Context, date time.Time) (*Portfolio, error)
}

// PlanRepository persists trade plans.
type PlanRepository interface {
	// Save stores a plan under its ID.
	Save(ctx context.Context, plan TradePlan) error

	// Get returns the plan with id.
	Get(ctx context.Context, id string) (*TradePlan, error)

	// Latest returns the most recent plan.
	Latest(ctx context.Context) (*TradePlan, error)
}
