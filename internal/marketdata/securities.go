package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiltlab/tilt/internal/contracts"
)

// SecurityRepository persists the security master in data.securities.
type SecurityRepository struct {
	db *pgxpool.Pool
}

// NewSecurityRepository creates a new security repository.
func NewSecurityRepository(db *pgxpool.Pool) *SecurityRepository {
	return &SecurityRepository{db: db}
}

var _ contracts.SecurityRepository = (*SecurityRepository)(nil)

// Upsert inserts or refreshes securities by symbol.
func (r *SecurityRepository) Upsert(ctx context.Context, securities []contracts.Security) error {
	if len(securities) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.securities (symbol, name, sector, industry, exchange, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			sector = EXCLUDED.sector,
			industry = EXCLUDED.industry,
			exchange = EXCLUDED.exchange,
			active = EXCLUDED.active,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, s := range securities {
		batch.Queue(query, s.Symbol, s.Name, s.Sector, s.Industry, s.Exchange, s.Active)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range securities {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert security: %w", err)
		}
	}
	return nil
}

// DeactivateExcept marks every security not in symbols as inactive.
func (r *SecurityRepository) DeactivateExcept(ctx context.Context, symbols []string) error {
	query := `
		UPDATE data.securities
		SET active = FALSE, updated_at = NOW()
		WHERE active AND NOT (symbol = ANY($1))
	`

	_, err := r.db.Exec(ctx, query, symbols)
	if err != nil {
		return fmt.Errorf("deactivate securities: %w", err)
	}
	return nil
}

// List returns securities ordered by symbol, optionally only active ones.
func (r *SecurityRepository) List(ctx context.Context, activeOnly bool) ([]contracts.Security, error) {
	query := `
		SELECT symbol, name, sector, industry, exchange, active
		FROM data.securities
		WHERE ($1 = FALSE OR active)
		ORDER BY symbol
	`

	rows, err := r.db.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query securities: %w", err)
	}
	defer rows.Close()

	var securities []contracts.Security
	for rows.Next() {
		var s contracts.Security
		if err := rows.Scan(&s.Symbol, &s.Name, &s.Sector, &s.Industry, &s.Exchange, &s.Active); err != nil {
			return nil, fmt.Errorf("scan security: %w", err)
		}
		securities = append(securities, s)
	}
	return securities, rows.Err()
}

// Get returns one security by symbol.
func (r *SecurityRepository) Get(ctx context.Context, symbol string) (*contracts.Security, error) {
	query := `
		SELECT symbol, name, sector, industry, exchange, active
		FROM data.securities
		WHERE symbol = $1
	`

	var s contracts.Security
	err := r.db.QueryRow(ctx, query, symbol).Scan(
		&s.Symbol, &s.Name, &s.Sector, &s.Industry, &s.Exchange, &s.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query security %s: %w", symbol, err)
	}
	return &s, nil
}
