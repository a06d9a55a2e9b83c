package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	r := NewRegistry()

	r.RecordRun("rebalance", "completed", 3*time.Second)
	r.RecordRun("rebalance", "completed", 5*time.Second)
	r.RecordRun("rank", "failed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("rebalance", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("rank", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.RunDuration))
}

func TestStageTimer(t *testing.T) {
	r := NewRegistry()

	timer := r.StartStage("rank")
	timer.Stop(ResultSuccess)

	assert.Equal(t, 1, testutil.CollectAndCount(r.StageDuration))
}

func TestCountersAndGauges(t *testing.T) {
	r := NewRegistry()

	r.RecordInstruction("SELL", "risk")
	r.RecordInstruction("SELL", "risk")
	r.RecordInstruction("BUY", "rebalance")
	r.RecordRiskEvent("stop_loss")
	r.RecordFetch("prices", ResultSuccess)
	r.RecordFetch("prices", ResultError)
	r.SetUniverseSize(412)
	r.SetPositions(25)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.TradeInstructions.WithLabelValues("SELL", "risk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TradeInstructions.WithLabelValues("BUY", "rebalance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RiskEvents.WithLabelValues("stop_loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FetchesTotal.WithLabelValues("prices", ResultSuccess)))
	assert.Equal(t, 412.0, testutil.ToFloat64(r.UniverseSize))
	assert.Equal(t, 25.0, testutil.ToFloat64(r.Positions))
}

func TestNilRegistryIsNoOp(t *testing.T) {
	var r *Registry

	assert.NotPanics(t, func() {
		r.RecordRun("rank", "completed", time.Second)
		r.RecordInstruction("BUY", "rebalance")
		r.RecordRiskEvent("var_limit")
		r.RecordFetch("fundamentals", ResultError)
		r.SetUniverseSize(10)
		r.SetPositions(3)
		r.StartStage("screen").Stop(ResultSuccess)
	})
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewRegistry()
		NewRegistry()
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.RecordRun("collect", "completed", 2*time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "tilt_runs_total")
	assert.Contains(t, body, `kind="collect"`)
}
