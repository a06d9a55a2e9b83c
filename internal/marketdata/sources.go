package marketdata

import (
	"context"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
)

// PriceSource fetches daily bars for one symbol.
type PriceSource interface {
	FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]contracts.Price, error)
}

// FundamentalsSource fetches the current fundamentals snapshot for one
// symbol from the primary vendor.
type FundamentalsSource interface {
	FetchFundamentals(ctx context.Context, symbol string, asOf time.Time) (*contracts.FundamentalRecord, error)
}

// SnapshotSource fetches a secondary fundamentals snapshot used to
// backfill fields the primary vendor omits.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, symbol string, asOf time.Time) (*contracts.FundamentalRecord, error)
}

// ConstituentsSource fetches current index membership.
type ConstituentsSource interface {
	FetchConstituents(ctx context.Context) ([]contracts.Security, error)
}
