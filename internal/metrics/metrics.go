// Package metrics exposes Prometheus instrumentation for the pipeline:
// run outcomes, per-stage durations, trade instruction and risk event
// counters, and portfolio gauges.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Registry holds every collector the service exports. All collectors are
// registered against an instance registry rather than the package-global
// one, so constructing a second Registry never panics.
//
// A nil *Registry is valid; every recording method is a no-op on it.
type Registry struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	StageDuration *prometheus.HistogramVec

	TradeInstructions *prometheus.CounterVec
	RiskEvents        *prometheus.CounterVec

	UniverseSize prometheus.Gauge
	Positions    prometheus.Gauge

	FetchesTotal *prometheus.CounterVec
}

// NewRegistry creates a Registry with all collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilt_runs_total",
				Help: "Pipeline runs by kind and final status",
			},
			[]string{"kind", "status"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tilt_run_duration_seconds",
				Help:    "End-to-end pipeline run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"kind"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tilt_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "result"},
		),

		TradeInstructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilt_trade_instructions_total",
				Help: "Trade instructions emitted by action and source",
			},
			[]string{"action", "source"},
		),

		RiskEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilt_risk_events_total",
				Help: "Risk rule firings by kind",
			},
			[]string{"kind"},
		),

		UniverseSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilt_universe_size",
				Help: "Securities that passed eligibility screening in the last run",
			},
		),

		Positions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilt_portfolio_positions",
				Help: "Positions held after the last rebalance",
			},
		),

		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilt_collect_fetches_total",
				Help: "Provider fetches during collection by data kind and result",
			},
			[]string{"kind", "result"},
		),
	}

	r.registry.MustRegister(
		r.RunsTotal,
		r.RunDuration,
		r.StageDuration,
		r.TradeInstructions,
		r.RiskEvents,
		r.UniverseSize,
		r.Positions,
		r.FetchesTotal,
	)

	return r
}

// Handler returns the HTTP handler serving this registry's metrics.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordRun records a finished pipeline run.
func (r *Registry) RecordRun(kind, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.RunsTotal.WithLabelValues(kind, status).Inc()
	r.RunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordInstruction counts one emitted trade instruction.
func (r *Registry) RecordInstruction(action, source string) {
	if r == nil {
		return
	}
	r.TradeInstructions.WithLabelValues(action, source).Inc()
}

// RecordRiskEvent counts one risk rule firing.
func (r *Registry) RecordRiskEvent(kind string) {
	if r == nil {
		return
	}
	r.RiskEvents.WithLabelValues(kind).Inc()
}

// RecordFetch counts one provider fetch outcome during collection.
func (r *Registry) RecordFetch(kind, result string) {
	if r == nil {
		return
	}
	r.FetchesTotal.WithLabelValues(kind, result).Inc()
}

// SetUniverseSize updates the screened-universe gauge.
func (r *Registry) SetUniverseSize(n int) {
	if r == nil {
		return
	}
	r.UniverseSize.Set(float64(n))
}

// SetPositions updates the held-positions gauge.
func (r *Registry) SetPositions(n int) {
	if r == nil {
		return
	}
	r.Positions.Set(float64(n))
}

// StageTimer measures one pipeline stage.
type StageTimer struct {
	registry *Registry
	stage    string
	start    time.Time
}

// StartStage begins timing a pipeline stage.
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{
		registry: r,
		stage:    stage,
		start:    time.Now(),
	}
}

// Stop records the elapsed time under the given result label.
func (t *StageTimer) Stop(result string) {
	if t == nil || t.registry == nil {
		return
	}
	t.registry.StageDuration.WithLabelValues(t.stage, result).Observe(time.Since(t.start).Seconds())
}
