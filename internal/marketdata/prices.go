package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiltlab/tilt/internal/contracts"
)

// PriceRepository persists daily bars in data.daily_prices.
type PriceRepository struct {
	db *pgxpool.Pool
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(db *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{db: db}
}

var _ contracts.PriceRepository = (*PriceRepository)(nil)

// SaveBatch upserts bars keyed by (symbol, trade_date).
func (r *PriceRepository) SaveBatch(ctx context.Context, prices []contracts.Price) error {
	if len(prices) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.daily_prices (symbol, trade_date, open, high, low, close, adj_close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			adj_close = EXCLUDED.adj_close,
			volume = EXCLUDED.volume
	`

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(query, p.Symbol, p.Date, p.Open, p.High, p.Low, p.Close, p.AdjClose, p.Volume)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range prices {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert price: %w", err)
		}
	}
	return nil
}

// History returns bars for symbol in [from, to], oldest first.
func (r *PriceRepository) History(ctx context.Context, symbol string, from, to time.Time) ([]contracts.Price, error) {
	query := `
		SELECT symbol, trade_date, open, high, low, close, adj_close, volume
		FROM data.daily_prices
		WHERE symbol = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC
	`

	rows, err := r.db.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("query price history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var prices []contracts.Price
	for rows.Next() {
		var p contracts.Price
		if err := rows.Scan(&p.Symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.AdjClose, &p.Volume); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// Latest returns the most recent bar for symbol.
func (r *PriceRepository) Latest(ctx context.Context, symbol string) (*contracts.Price, error) {
	query := `
		SELECT symbol, trade_date, open, high, low, close, adj_close, volume
		FROM data.daily_prices
		WHERE symbol = $1
		ORDER BY trade_date DESC
		LIMIT 1
	`

	var p contracts.Price
	err := r.db.QueryRow(ctx, query, symbol).Scan(
		&p.Symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.AdjClose, &p.Volume,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest price for %s: %w", symbol, err)
	}
	return &p, nil
}

// LatestDate returns the most recent bar date across all symbols.
func (r *PriceRepository) LatestDate(ctx context.Context) (time.Time, error) {
	query := `SELECT MAX(trade_date) FROM data.daily_prices`

	var date *time.Time
	if err := r.db.QueryRow(ctx, query).Scan(&date); err != nil {
		return time.Time{}, fmt.Errorf("query latest price date: %w", err)
	}
	if date == nil {
		return time.Time{}, contracts.ErrNotFound
	}
	return *date, nil
}
