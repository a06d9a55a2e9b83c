package factors

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

// Repository persists factor scoring output.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new score repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ contracts.ScoreRepository = (*Repository)(nil)

// SaveSet stores one scoring pass.
func (r *Repository) SaveSet(ctx context.Context, set contracts.ScoreSet) error {
	scoresJSON, err := json.Marshal(set.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	skippedJSON, err := json.Marshal(set.Skipped)
	if err != nil {
		return fmt.Errorf("marshal skipped: %w", err)
	}

	query := `
		INSERT INTO data.factor_scores (
			score_date,
			scores,
			skipped,
			created_at
		) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (score_date) DO UPDATE SET
			scores = EXCLUDED.scores,
			skipped = EXCLUDED.skipped,
			created_at = NOW()
	`

	_, err = r.db.Exec(ctx, query, set.Date, scoresJSON, skippedJSON)
	if err != nil {
		return fmt.Errorf("insert score set: %w", err)
	}

	return nil
}

// LoadSet returns the scoring pass for date.
func (r *Repository) LoadSet(ctx context.Context, date time.Time) (*contracts.ScoreSet, error) {
	query := `
		SELECT score_date, scores, skipped
		FROM data.factor_scores
		WHERE score_date = $1
	`

	set := &contracts.ScoreSet{
		Skipped: make(map[string]string),
	}

	var scoresJSON, skippedJSON []byte
	err := r.db.QueryRow(ctx, query, date).Scan(&set.Date, &scoresJSON, &skippedJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan score set: %w", err)
	}

	if len(scoresJSON) > 0 {
		if err := json.Unmarshal(scoresJSON, &set.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}
	}
	if len(skippedJSON) > 0 {
		if err := json.Unmarshal(skippedJSON, &set.Skipped); err != nil {
			return nil, fmt.Errorf("unmarshal skipped: %w", err)
		}
	}

	return set, nil
}
