package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiltlab/tilt/internal/api"
	"github.com/tiltlab/tilt/internal/api/handlers"
	"github.com/tiltlab/tilt/internal/metrics"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the REST API server.

This command:
- Serves rankings, the portfolio, trade plans, risk events, and runs
- Accepts manual pipeline triggers
- Streams run progress over WebSocket

Endpoints:
  GET  /health                  - Health check
  GET  /api/v1/ranking          - Latest ranking
  GET  /api/v1/ranking/{date}   - Ranking for a date
  GET  /api/v1/portfolio        - Current portfolio
  GET  /api/v1/plans/latest     - Latest trade plan
  GET  /api/v1/plans/{id}       - Trade plan by ID
  GET  /api/v1/risk/events      - Recent risk events
  GET  /api/v1/runs             - Recent runs
  GET  /api/v1/runs/{id}        - Run detail
  GET  /api/v1/runs/{id}/events - Risk events for a run
  GET  /api/v1/runs/{id}/config - Config snapshot for a run
  POST /api/v1/trigger/{kind}   - Trigger a run (collect|rank|rebalance)
  GET  /events                  - WebSocket event stream

Example:
  tilt api
  tilt api --port 8087`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (default from PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tilt API Server ===")

	// 1. Wire dependencies, with the event hub attached
	s, err := buildStack(true)
	if err != nil {
		return err
	}
	defer s.Close()

	// Override port if flag is set
	if apiPort != "" {
		s.cfg.Port = apiPort
	}

	// 2. Create handlers
	rankingHandler := handlers.NewRankingHandler(s.rankings, s.log)
	portfolioHandler := handlers.NewPortfolioHandler(s.books, s.plans, s.log)
	riskHandler := handlers.NewRiskHandler(s.audits, s.log)
	runHandler := handlers.NewRunHandler(s.audits, s.engine, s.log)

	// 3. Create router
	router := api.NewRouter(rankingHandler, portfolioHandler, riskHandler, runHandler, s.hub, s.log)

	// 4. Create servers
	server := api.New(s.cfg, s.log, router)
	metricsServer := metrics.NewServer(s.cfg, s.log, s.registry)

	// 5. Start servers with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			s.log.WithError(err).Fatal("Failed to start server")
		}
	}()
	go func() {
		if err := metricsServer.Start(); err != nil {
			s.log.WithError(err).Fatal("Failed to start metrics server")
		}
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", s.cfg.Port)
	if s.cfg.MetricsEnabled {
		fmt.Printf("✅ Metrics on http://localhost:%s/metrics\n", s.cfg.MetricsPort)
	}
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/v1/ranking")
	fmt.Println("  GET  /api/v1/portfolio")
	fmt.Println("  GET  /api/v1/plans/latest")
	fmt.Println("  GET  /api/v1/risk/events")
	fmt.Println("  GET  /api/v1/runs")
	fmt.Println("  POST /api/v1/trigger/{kind}")
	fmt.Println("  GET  /events")
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	s.hub.Close()

	s.log.Info("Server stopped")
	return nil
}
