package database_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/database"
)

// Example demonstrates how to use the database package.
func Example() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	status, err := db.HealthCheck(ctx)
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Printf("Database is healthy: %v\n", status.Healthy)
	fmt.Printf("Response time: %v\n", status.ResponseTime)
	fmt.Printf("Max connections: %d\n", status.Stats.MaxConns)
}
