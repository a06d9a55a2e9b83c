package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
)

// Repository persists the audit trail: runs, risk events, and the
// strategy-config snapshot each run decided under.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new audit repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// SaveRun inserts or refreshes a run record.
func (r *Repository) SaveRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO audit.runs (
			id, kind, run_date, status, started_at, finished_at, error,
			config_hash, universe_size, ranked_count, positions,
			instructions, risk_events
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			error = EXCLUDED.error,
			universe_size = EXCLUDED.universe_size,
			ranked_count = EXCLUDED.ranked_count,
			positions = EXCLUDED.positions,
			instructions = EXCLUDED.instructions,
			risk_events = EXCLUDED.risk_events
	`

	_, err := r.db.Exec(ctx, query,
		run.ID, run.Kind, run.Date, run.Status, run.StartedAt, run.FinishedAt,
		run.Error, run.ConfigHash, run.UniverseSize, run.RankedCount,
		run.Positions, run.Instructions, run.RiskEvents,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun returns the run with id.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, kind, run_date, status, started_at, finished_at,
		       COALESCE(error, ''), config_hash, universe_size, ranked_count,
		       positions, instructions, risk_events
		FROM audit.runs
		WHERE id = $1
	`
	return r.scanRun(r.db.QueryRow(ctx, query, id))
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, kind, run_date, status, started_at, finished_at,
		       COALESCE(error, ''), config_hash, universe_size, ranked_count,
		       positions, instructions, risk_events
		FROM audit.runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *Repository) scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.Kind, &run.Date, &run.Status, &run.StartedAt,
		&run.FinishedAt, &run.Error, &run.ConfigHash, &run.UniverseSize,
		&run.RankedCount, &run.Positions, &run.Instructions, &run.RiskEvents,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}

// SaveRiskEvents stores the risk events raised during a run.
func (r *Repository) SaveRiskEvents(ctx context.Context, runID string, events []contracts.RiskEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO audit.risk_events (
			run_id, symbol, kind, event_date, observed, threshold, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query, runID, e.Symbol, e.Kind, e.Date, e.Observed, e.Threshold, e.Detail)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert risk event: %w", err)
		}
	}
	return nil
}

// RiskEventsByRun returns the events raised during one run.
func (r *Repository) RiskEventsByRun(ctx context.Context, runID string) ([]contracts.RiskEvent, error) {
	query := `
		SELECT symbol, kind, event_date, observed, threshold, COALESCE(detail, '')
		FROM audit.risk_events
		WHERE run_id = $1
		ORDER BY id
	`
	return r.queryRiskEvents(ctx, query, runID)
}

// RecentRiskEvents returns events since a date across all runs.
func (r *Repository) RecentRiskEvents(ctx context.Context, since time.Time) ([]contracts.RiskEvent, error) {
	query := `
		SELECT symbol, kind, event_date, observed, threshold, COALESCE(detail, '')
		FROM audit.risk_events
		WHERE event_date >= $1
		ORDER BY event_date DESC, id DESC
	`
	return r.queryRiskEvents(ctx, query, since)
}

func (r *Repository) queryRiskEvents(ctx context.Context, query string, arg interface{}) ([]contracts.RiskEvent, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var events []contracts.RiskEvent
	for rows.Next() {
		var e contracts.RiskEvent
		if err := rows.Scan(&e.Symbol, &e.Kind, &e.Date, &e.Observed, &e.Threshold, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveConfigSnapshot freezes the configuration a run decided under.
func (r *Repository) SaveConfigSnapshot(ctx context.Context, runID string, snapshot strategy.DecisionSnapshot) error {
	query := `
		INSERT INTO audit.config_snapshots (
			run_id, config_hash, config_yaml, strategy_id, git_commit,
			data_snapshot_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		runID, snapshot.ConfigHash, snapshot.ConfigYAML, snapshot.StrategyID,
		snapshot.GitCommit, snapshot.DataSnapshotID, snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save config snapshot: %w", err)
	}
	return nil
}

// GetConfigSnapshot returns the configuration snapshot for a run.
func (r *Repository) GetConfigSnapshot(ctx context.Context, runID string) (*strategy.DecisionSnapshot, error) {
	query := `
		SELECT config_hash, config_yaml, strategy_id, git_commit,
		       data_snapshot_id, created_at
		FROM audit.config_snapshots
		WHERE run_id = $1
	`

	var snap strategy.DecisionSnapshot
	err := r.db.QueryRow(ctx, query, runID).Scan(
		&snap.ConfigHash, &snap.ConfigYAML, &snap.StrategyID,
		&snap.GitCommit, &snap.DataSnapshotID, &snap.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query config snapshot: %w", err)
	}
	return &snap, nil
}
