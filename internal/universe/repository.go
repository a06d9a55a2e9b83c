package universe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiltlab/tilt/internal/contracts"
)

// Repository persists screened universes.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new universe repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ contracts.UniverseRepository = (*Repository)(nil)

// Save stores the screened universe for its date.
func (r *Repository) Save(ctx context.Context, universe contracts.Universe) error {
	excludedJSON, err := json.Marshal(universe.Excluded)
	if err != nil {
		return fmt.Errorf("marshal excluded: %w", err)
	}

	query := `
		INSERT INTO data.universe_snapshots (
			snapshot_date,
			symbols,
			excluded,
			total_count,
			created_at
		) VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (snapshot_date) DO UPDATE SET
			symbols = EXCLUDED.symbols,
			excluded = EXCLUDED.excluded,
			total_count = EXCLUDED.total_count,
			created_at = NOW()
	`

	_, err = r.db.Exec(ctx, query,
		universe.Date,
		universe.Symbols,
		excludedJSON,
		universe.TotalCount,
	)
	if err != nil {
		return fmt.Errorf("insert universe: %w", err)
	}

	return nil
}

// Load returns the universe screened on date.
func (r *Repository) Load(ctx context.Context, date time.Time) (*contracts.Universe, error) {
	query := `
		SELECT snapshot_date, symbols, excluded, total_count
		FROM data.universe_snapshots
		WHERE snapshot_date = $1
	`
	return r.scanUniverse(r.db.QueryRow(ctx, query, date))
}

// LatestDate returns the most recent screening date.
func (r *Repository) LatestDate(ctx context.Context) (time.Time, error) {
	query := `
		SELECT snapshot_date
		FROM data.universe_snapshots
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	var date time.Time
	err := r.db.QueryRow(ctx, query).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, contracts.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query latest universe date: %w", err)
	}

	return date, nil
}

func (r *Repository) scanUniverse(row pgx.Row) (*contracts.Universe, error) {
	universe := &contracts.Universe{
		Excluded: make(map[string]string),
	}

	var excludedJSON []byte
	err := row.Scan(
		&universe.Date,
		&universe.Symbols,
		&excludedJSON,
		&universe.TotalCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan universe: %w", err)
	}

	if len(excludedJSON) > 0 {
		if err := json.Unmarshal(excludedJSON, &universe.Excluded); err != nil {
			return nil, fmt.Errorf("unmarshal excluded: %w", err)
		}
	}

	return universe, nil
}
