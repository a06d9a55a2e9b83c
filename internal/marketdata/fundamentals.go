package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiltlab/tilt/internal/contracts"
)

// FundamentalRepository persists fundamentals snapshots in
// data.fundamentals. Missing metrics round-trip as SQL NULL.
type FundamentalRepository struct {
	db *pgxpool.Pool
}

// NewFundamentalRepository creates a new fundamentals repository.
func NewFundamentalRepository(db *pgxpool.Pool) *FundamentalRepository {
	return &FundamentalRepository{db: db}
}

var _ contracts.FundamentalRepository = (*FundamentalRepository)(nil)

const fundamentalColumns = `
	symbol, snapshot_date, roe, eps, net_income, operating_cash_flow,
	pe_ratio, enterprise_value, ebitda, profit_margin, market_cap,
	shares_outstanding
`

// SaveBatch upserts records keyed by (symbol, snapshot_date).
func (r *FundamentalRepository) SaveBatch(ctx context.Context, records []contracts.FundamentalRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.fundamentals (` + fundamentalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (symbol, snapshot_date) DO UPDATE SET
			roe = EXCLUDED.roe,
			eps = EXCLUDED.eps,
			net_income = EXCLUDED.net_income,
			operating_cash_flow = EXCLUDED.operating_cash_flow,
			pe_ratio = EXCLUDED.pe_ratio,
			enterprise_value = EXCLUDED.enterprise_value,
			ebitda = EXCLUDED.ebitda,
			profit_margin = EXCLUDED.profit_margin,
			market_cap = EXCLUDED.market_cap,
			shares_outstanding = EXCLUDED.shares_outstanding
	`

	batch := &pgx.Batch{}
	for _, f := range records {
		batch.Queue(query,
			f.Symbol, f.Date,
			f.ROE.Ptr(), f.EPS.Ptr(), f.NetIncome.Ptr(), f.OperatingCashFlow.Ptr(),
			f.PERatio.Ptr(), f.EnterpriseValue.Ptr(), f.EBITDA.Ptr(),
			f.ProfitMargin.Ptr(), f.MarketCap.Ptr(), f.SharesOutstanding.Ptr(),
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert fundamentals: %w", err)
		}
	}
	return nil
}

// History returns up to limit records for symbol, newest first.
func (r *FundamentalRepository) History(ctx context.Context, symbol string, limit int) ([]contracts.FundamentalRecord, error) {
	query := `
		SELECT ` + fundamentalColumns + `
		FROM data.fundamentals
		WHERE symbol = $1
		ORDER BY snapshot_date DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query fundamentals for %s: %w", symbol, err)
	}
	defer rows.Close()

	var records []contracts.FundamentalRecord
	for rows.Next() {
		record, err := scanFundamental(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Latest returns the most recent record for symbol.
func (r *FundamentalRepository) Latest(ctx context.Context, symbol string) (*contracts.FundamentalRecord, error) {
	query := `
		SELECT ` + fundamentalColumns + `
		FROM data.fundamentals
		WHERE symbol = $1
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	record, err := scanFundamental(r.db.QueryRow(ctx, query, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest fundamentals for %s: %w", symbol, err)
	}
	return record, nil
}

func scanFundamental(row pgx.Row) (*contracts.FundamentalRecord, error) {
	var f contracts.FundamentalRecord
	var roe, eps, netIncome, ocf, pe, ev, ebitda, margin, mcap, shares *float64

	err := row.Scan(
		&f.Symbol, &f.Date,
		&roe, &eps, &netIncome, &ocf, &pe, &ev, &ebitda, &margin, &mcap, &shares,
	)
	if err != nil {
		return nil, err
	}

	f.ROE = contracts.MetricFromPtr(roe)
	f.EPS = contracts.MetricFromPtr(eps)
	f.NetIncome = contracts.MetricFromPtr(netIncome)
	f.OperatingCashFlow = contracts.MetricFromPtr(ocf)
	f.PERatio = contracts.MetricFromPtr(pe)
	f.EnterpriseValue = contracts.MetricFromPtr(ev)
	f.EBITDA = contracts.MetricFromPtr(ebitda)
	f.ProfitMargin = contracts.MetricFromPtr(margin)
	f.MarketCap = contracts.MetricFromPtr(mcap)
	f.SharesOutstanding = contracts.MetricFromPtr(shares)

	return &f, nil
}
