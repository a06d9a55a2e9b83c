package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiltlab/tilt/pkg/config"
)

// DB wraps the pgxpool.Pool. All database connections are created here.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool and verifies it with a ping.
func New(cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping checks if the database is accessible.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// HealthCheck returns detailed health information about the database.
func (db *DB) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{
		Healthy:   false,
		Timestamp: time.Now(),
	}

	start := time.Now()
	if err := db.Pool.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status, err
	}
	status.ResponseTime = time.Since(start)

	status.Stats = db.Stats()
	status.Healthy = true
	return status, nil
}

// HealthStatus represents the health status of the database.
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Stats        PoolStats     `json:"stats"`
}

// PoolStats represents connection pool statistics.
type PoolStats struct {
	AcquireCount         int64         `json:"acquire_count"`
	AcquireDuration      time.Duration `json:"acquire_duration"`
	AcquiredConns        int32         `json:"acquired_conns"`
	CanceledAcquireCount int64         `json:"canceled_acquire_count"`
	ConstructingConns    int32         `json:"constructing_conns"`
	EmptyAcquireCount    int64         `json:"empty_acquire_count"`
	IdleConns            int32         `json:"idle_conns"`
	MaxConns             int32         `json:"max_conns"`
	TotalConns           int32         `json:"total_conns"`
}

// Stats returns the current pool statistics.
func (db *DB) Stats() PoolStats {
	stats := db.Pool.Stat()
	return PoolStats{
		AcquireCount:         stats.AcquireCount(),
		AcquireDuration:      stats.AcquireDuration(),
		AcquiredConns:        stats.AcquiredConns(),
		CanceledAcquireCount: stats.CanceledAcquireCount(),
		ConstructingConns:    stats.ConstructingConns(),
		EmptyAcquireCount:    stats.EmptyAcquireCount(),
		IdleConns:            stats.IdleConns(),
		MaxConns:             stats.MaxConns(),
		TotalConns:           stats.TotalConns(),
	}
}
