package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
)

// SnapshotLoader assembles per-security snapshots from the repositories
// for one evaluation date. The factor pipeline consumes its output.
type SnapshotLoader struct {
	securities   contracts.SecurityRepository
	prices       contracts.PriceRepository
	fundamentals contracts.FundamentalRepository
	logger       *logger.Logger
}

// NewSnapshotLoader creates a snapshot loader.
func NewSnapshotLoader(
	securities contracts.SecurityRepository,
	prices contracts.PriceRepository,
	fundamentals contracts.FundamentalRepository,
	log *logger.Logger,
) *SnapshotLoader {
	return &SnapshotLoader{
		securities:   securities,
		prices:       prices,
		fundamentals: fundamentals,
		logger:       log.WithField("module", "snapshot"),
	}
}

// Load builds snapshots for every active security as of asOf.
// historyDays is the calendar span of price history to pull; size it so
// the trading-day requirements downstream are met with slack.
// fundamentalsDepth caps how many snapshots are attached, newest first.
func (l *SnapshotLoader) Load(ctx context.Context, asOf time.Time, historyDays, fundamentalsDepth int) ([]contracts.SecuritySnapshot, error) {
	securities, err := l.securities.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active securities: %w", err)
	}
	if len(securities) == 0 {
		return nil, contracts.ErrEmptyUniverse
	}

	from := asOf.AddDate(0, 0, -historyDays)

	snapshots := make([]contracts.SecuritySnapshot, 0, len(securities))
	for _, sec := range securities {
		snapshot, err := l.loadOne(ctx, sec, from, asOf, fundamentalsDepth)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	l.logger.WithFields(map[string]interface{}{
		"as_of":        asOf.Format("2006-01-02"),
		"securities":   len(snapshots),
		"history_days": historyDays,
	}).Info("Loaded security snapshots")
	return snapshots, nil
}

func (l *SnapshotLoader) loadOne(ctx context.Context, sec contracts.Security, from, to time.Time, fundamentalsDepth int) (contracts.SecuritySnapshot, error) {
	prices, err := l.prices.History(ctx, sec.Symbol, from, to)
	if err != nil {
		return contracts.SecuritySnapshot{}, fmt.Errorf("load prices for %s: %w", sec.Symbol, err)
	}

	fundamentals, err := l.fundamentals.History(ctx, sec.Symbol, fundamentalsDepth)
	if err != nil && !errors.Is(err, contracts.ErrNotFound) {
		return contracts.SecuritySnapshot{}, fmt.Errorf("load fundamentals for %s: %w", sec.Symbol, err)
	}

	return contracts.SecuritySnapshot{
		Security:     sec,
		Prices:       prices,
		Fundamentals: fundamentals,
	}, nil
}
