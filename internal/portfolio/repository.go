package portfolio

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

// Repository persists portfolio snapshots.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new portfolio repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ contracts.PortfolioRepository = (*Repository)(nil)

// Save stores a snapshot of the book for its date.
func (r *Repository) Save(ctx context.Context, portfolio contracts.Portfolio) error {
	positionsJSON, err := json.Marshal(portfolio.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	query := `
		INSERT INTO portfolio.snapshots (
			snapshot_date,
			positions,
			position_count,
			total_weight,
			created_at
		) VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (snapshot_date) DO UPDATE SET
			positions = EXCLUDED.positions,
			position_count = EXCLUDED.position_count,
			total_weight = EXCLUDED.total_weight,
			created_at = NOW()
	`

	_, err = r.db.Exec(ctx, query,
		portfolio.Date,
		positionsJSON,
		portfolio.Count(),
		portfolio.TotalWeight(),
	)
	if err != nil {
		return fmt.Errorf("insert portfolio snapshot: %w", err)
	}

	return nil
}

// Current returns the most recent snapshot.
func (r *Repository) Current(ctx context.Context) (*contracts.Portfolio, error) {
	query := `
		SELECT snapshot_date, positions
		FROM portfolio.snapshots
		ORDER BY snapshot_date DESC
		LIMIT 1
	`
	return r.scanPortfolio(r.db.QueryRow(ctx, query))
}

// Load returns the snapshot for date.
func (r *Repository) Load(ctx context.Context, date time.Time) (*contracts.Portfolio, error) {
	query := `
		SELECT snapshot_date, positions
		FROM portfolio.snapshots
		WHERE snapshot_date = $1
	`
	return r.scanPortfolio(r.db.QueryRow(ctx, query, date))
}

func (r *Repository) scanPortfolio(row pgx.Row) (*contracts.Portfolio, error) {
	portfolio := &contracts.Portfolio{
		Positions: make(map[string]contracts.Position),
	}

	var positionsJSON []byte
	err := row.Scan(&portfolio.Date, &positionsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan portfolio snapshot: %w", err)
	}

	if len(positionsJSON) > 0 {
		if err := json.Unmarshal(positionsJSON, &portfolio.Positions); err != nil {
			return nil, fmt.Errorf("unmarshal positions: %w", err)
		}
	}

	return portfolio, nil
}

// PlanRepository persists trade plans.
type PlanRepository struct {
	db *pgxpool.Pool
}

// NewPlanRepository creates a new trade plan repository.
func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

var _ contracts.PlanRepository = (*PlanRepository)(nil)

// Save stores a plan under its ID. Plans are immutable, so re-saving an
// existing ID is a no-op rather than an update.
func (r *PlanRepository) Save(ctx context.Context, plan contracts.TradePlan) error {
	targetJSON, err := json.Marshal(plan.Target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	instructionsJSON, err := json.Marshal(plan.Instructions)
	if err != nil {
		return fmt.Errorf("marshal instructions: %w", err)
	}

	query := `
		INSERT INTO portfolio.trade_plans (
			id,
			plan_date,
			target,
			instructions,
			created_at
		) VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.Exec(ctx, query,
		plan.ID,
		plan.Date,
		targetJSON,
		instructionsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert trade plan: %w", err)
	}

	return nil
}

// Get returns the plan with id.
func (r *PlanRepository) Get(ctx context.Context, id string) (*contracts.TradePlan, error) {
	query := `
		SELECT id, plan_date, target, instructions
		FROM portfolio.trade_plans
		WHERE id = $1
	`
	return r.scanPlan(r.db.QueryRow(ctx, query, id))
}

// Latest returns the most recent plan.
func (r *PlanRepository) Latest(ctx context.Context) (*contracts.TradePlan, error) {
	query := `
		SELECT id, plan_date, target, instructions
		FROM portfolio.trade_plans
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanPlan(r.db.QueryRow(ctx, query))
}

func (r *PlanRepository) scanPlan(row pgx.Row) (*contracts.TradePlan, error) {
	plan := &contracts.TradePlan{}

	var targetJSON, instructionsJSON []byte
	err := row.Scan(&plan.ID, &plan.Date, &targetJSON, &instructionsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade plan: %w", err)
	}

	if err := json.Unmarshal(targetJSON, &plan.Target); err != nil {
		return nil, fmt.Errorf("unmarshal target: %w", err)
	}
	if len(instructionsJSON) > 0 {
		if err := json.Unmarshal(instructionsJSON, &plan.Instructions); err != nil {
			return nil, fmt.Errorf("unmarshal instructions: %w", err)
		}
	}

	return plan, nil
}
