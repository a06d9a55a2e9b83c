package ranking

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

// Repository persists ranked universes.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new ranking repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ contracts.RankingRepository = (*Repository)(nil)

// Save stores the ranking for its date.
func (r *Repository) Save(ctx context.Context, ranking contracts.RankedUniverse) error {
	entriesJSON, err := json.Marshal(ranking.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	query := `
		INSERT INTO data.rankings (
			ranking_date,
			entries,
			created_at
		) VALUES ($1, $2, NOW())
		ON CONFLICT (ranking_date) DO UPDATE SET
			entries = EXCLUDED.entries,
			created_at = NOW()
	`

	_, err = r.db.Exec(ctx, query, ranking.Date, entriesJSON)
	if err != nil {
		return fmt.Errorf("insert ranking: %w", err)
	}

	return nil
}

// Load returns the ranking for date.
func (r *Repository) Load(ctx context.Context, date time.Time) (*contracts.RankedUniverse, error) {
	query := `
		SELECT ranking_date, entries
		FROM data.rankings
		WHERE ranking_date = $1
	`
	return r.scanRanking(r.db.QueryRow(ctx, query, date))
}

// Latest returns the most recent ranking.
func (r *Repository) Latest(ctx context.Context) (*contracts.RankedUniverse, error) {
	query := `
		SELECT ranking_date, entries
		FROM data.rankings
		ORDER BY ranking_date DESC
		LIMIT 1
	`
	return r.scanRanking(r.db.QueryRow(ctx, query))
}

func (r *Repository) scanRanking(row pgx.Row) (*contracts.RankedUniverse, error) {
	ranking := &contracts.RankedUniverse{}

	var entriesJSON []byte
	err := row.Scan(&ranking.Date, &entriesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ranking: %w", err)
	}

	if len(entriesJSON) > 0 {
		if err := json.Unmarshal(entriesJSON, &ranking.Entries); err != nil {
			return nil, fmt.Errorf("unmarshal entries: %w", err)
		}
	}

	return ranking, nil
}
