package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiltlab/tilt/internal/audit"
	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/engine"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

type stubRankingRepo struct {
	ranked *contracts.RankedUniverse
	err    error
}

func (s *stubRankingRepo) Save(ctx context.Context, r contracts.RankedUniverse) error { return nil }

func (s *stubRankingRepo) Load(ctx context.Context, date time.Time) (*contracts.RankedUniverse, error) {
	return s.ranked, s.err
}

func (s *stubRankingRepo) Latest(ctx context.Context) (*contracts.RankedUniverse, error) {
	return s.ranked, s.err
}

type stubPortfolioRepo struct {
	book *contracts.Portfolio
	err  error
}

func (s *stubPortfolioRepo) Save(ctx context.Context, p contracts.Portfolio) error { return nil }

func (s *stubPortfolioRepo) Current(ctx context.Context) (*contracts.Portfolio, error) {
	return s.book, s.err
}

func (s *stubPortfolioRepo) Load(ctx context.Context, date time.Time) (*contracts.Portfolio, error) {
	return s.book, s.err
}

type stubPlanRepo struct {
	plan *contracts.TradePlan
	err  error
}

func (s *stubPlanRepo) Save(ctx context.Context, plan contracts.TradePlan) error { return nil }

func (s *stubPlanRepo) Get(ctx context.Context, id string) (*contracts.TradePlan, error) {
	return s.plan, s.err
}

func (s *stubPlanRepo) Latest(ctx context.Context) (*contracts.TradePlan, error) {
	return s.plan, s.err
}

type stubRiskReader struct {
	events []contracts.RiskEvent
	since  time.Time
	err    error
}

func (s *stubRiskReader) RecentRiskEvents(ctx context.Context, since time.Time) ([]contracts.RiskEvent, error) {
	s.since = since
	return s.events, s.err
}

type stubRunReader struct {
	runs     []audit.Run
	run      *audit.Run
	events   []contracts.RiskEvent
	snapshot *strategy.DecisionSnapshot
	err      error
}

func (s *stubRunReader) ListRuns(ctx context.Context, limit int) ([]audit.Run, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.runs) {
		return s.runs[:limit], nil
	}
	return s.runs, nil
}

func (s *stubRunReader) GetRun(ctx context.Context, id string) (*audit.Run, error) {
	return s.run, s.err
}

func (s *stubRunReader) RiskEventsByRun(ctx context.Context, runID string) ([]contracts.RiskEvent, error) {
	return s.events, s.err
}

func (s *stubRunReader) GetConfigSnapshot(ctx context.Context, runID string) (*strategy.DecisionSnapshot, error) {
	return s.snapshot, s.err
}

type stubRunner struct {
	kind   string
	opts   engine.Options
	result *engine.Result
	err    error
}

func (s *stubRunner) RunCollect(ctx context.Context, opts engine.Options) (*engine.Result, error) {
	s.kind, s.opts = engine.KindCollect, opts
	return s.result, s.err
}

func (s *stubRunner) RunRank(ctx context.Context, opts engine.Options) (*engine.Result, error) {
	s.kind, s.opts = engine.KindRank, opts
	return s.result, s.err
}

func (s *stubRunner) RunRebalance(ctx context.Context, opts engine.Options) (*engine.Result, error) {
	s.kind, s.opts = engine.KindRebalance, opts
	return s.result, s.err
}

func TestRankingGetLatest(t *testing.T) {
	repo := &stubRankingRepo{
		ranked: &contracts.RankedUniverse{
			Date: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
			Entries: []contracts.RankedSecurity{
				{Symbol: "AAA", Rank: 1},
				{Symbol: "BBB", Rank: 2},
			},
		},
	}
	h := NewRankingHandler(repo, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ranking", nil)
	rec := httptest.NewRecorder()
	h.GetLatest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var data struct {
		Date    string                     `json:"date"`
		Count   int                        `json:"count"`
		Entries []contracts.RankedSecurity `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "2025-06-30", data.Date)
	assert.Equal(t, 2, data.Count)
	require.Len(t, data.Entries, 2)
	assert.Equal(t, "AAA", data.Entries[0].Symbol)
}

func TestRankingGetLatestNotFound(t *testing.T) {
	h := NewRankingHandler(&stubRankingRepo{err: contracts.ErrNotFound}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ranking", nil)
	rec := httptest.NewRecorder()
	h.GetLatest(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRankingGetByDateInvalidDate(t *testing.T) {
	h := NewRankingHandler(&stubRankingRepo{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ranking/not-a-date", nil)
	req = mux.SetURLVars(req, map[string]string{"date": "not-a-date"})
	rec := httptest.NewRecorder()
	h.GetByDate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortfolioGetCurrentSortsByWeight(t *testing.T) {
	book := contracts.NewPortfolio(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC))
	book.Positions["LOW"] = contracts.Position{Symbol: "LOW", Weight: 0.10}
	book.Positions["TOP"] = contracts.Position{Symbol: "TOP", Weight: 0.30}
	book.Positions["MID"] = contracts.Position{Symbol: "MID", Weight: 0.20}

	h := NewPortfolioHandler(&stubPortfolioRepo{book: &book}, &stubPlanRepo{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolio", nil)
	rec := httptest.NewRecorder()
	h.GetCurrent(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var data struct {
		Count     int                  `json:"count"`
		Positions []contracts.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 3, data.Count)
	require.Len(t, data.Positions, 3)
	assert.Equal(t, "TOP", data.Positions[0].Symbol)
	assert.Equal(t, "MID", data.Positions[1].Symbol)
	assert.Equal(t, "LOW", data.Positions[2].Symbol)
}

func TestPortfolioGetCurrentNotFound(t *testing.T) {
	h := NewPortfolioHandler(&stubPortfolioRepo{err: contracts.ErrNotFound}, &stubPlanRepo{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolio", nil)
	rec := httptest.NewRecorder()
	h.GetCurrent(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortfolioGetPlan(t *testing.T) {
	plan := &contracts.TradePlan{
		ID:   "plan-1",
		Date: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		Instructions: []contracts.TradeInstruction{
			{Symbol: "AAA", Action: contracts.ActionBuy, TargetWeight: 0.25, Source: contracts.SourceRebalance},
		},
	}
	h := NewPortfolioHandler(&stubPortfolioRepo{}, &stubPlanRepo{plan: plan}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/plan-1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "plan-1"})
	rec := httptest.NewRecorder()
	h.GetPlan(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var got contracts.TradePlan
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "plan-1", got.ID)
	require.Len(t, got.Instructions, 1)
	assert.Equal(t, contracts.ActionBuy, got.Instructions[0].Action)
}

func TestRiskGetRecentEvents(t *testing.T) {
	reader := &stubRiskReader{
		events: []contracts.RiskEvent{
			{Symbol: "FFF", Kind: contracts.RiskStopLoss},
		},
	}
	h := NewRiskHandler(reader, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/risk/events?days=7", nil)
	rec := httptest.NewRecorder()
	h.GetRecentEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var data struct {
		Count  int                   `json:"count"`
		Events []contracts.RiskEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.Count)

	// The ?days window feeds the repository cutoff.
	wantSince := time.Now().UTC().AddDate(0, 0, -7)
	assert.WithinDuration(t, wantSince, reader.since, time.Minute)
}

func TestRiskGetRecentEventsInvalidDays(t *testing.T) {
	h := NewRiskHandler(&stubRiskReader{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/risk/events?days=zero", nil)
	rec := httptest.NewRecorder()
	h.GetRecentEvents(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsList(t *testing.T) {
	reader := &stubRunReader{
		runs: []audit.Run{
			{ID: "run-2", Kind: engine.KindRebalance, Status: audit.RunCompleted},
			{ID: "run-1", Kind: engine.KindRank, Status: audit.RunFailed},
		},
	}
	h := NewRunHandler(reader, &stubRunner{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)

	var data struct {
		Count int         `json:"count"`
		Runs  []audit.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 2, data.Count)
	assert.Equal(t, "run-2", data.Runs[0].ID)
}

func TestRunsGetNotFound(t *testing.T) {
	h := NewRunHandler(&stubRunReader{err: contracts.ErrNotFound}, &stubRunner{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRebalanceDryRun(t *testing.T) {
	runner := &stubRunner{
		result: &engine.Result{
			Run: &audit.Run{ID: "run-9", Kind: engine.KindRebalance, Status: audit.RunCompleted},
		},
	}
	h := NewRunHandler(&stubRunReader{}, runner, logger.NewNop())

	body := strings.NewReader(`{"date": "2025-06-30", "dry_run": true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger/rebalance", body)
	req = mux.SetURLVars(req, map[string]string{"kind": "rebalance"})
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.KindRebalance, runner.kind)
	assert.True(t, runner.opts.DryRun)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), runner.opts.Date)
}

func TestTriggerWithoutBodyDefaults(t *testing.T) {
	runner := &stubRunner{result: &engine.Result{Run: &audit.Run{ID: "run-10"}}}
	h := NewRunHandler(&stubRunReader{}, runner, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger/collect", nil)
	req = mux.SetURLVars(req, map[string]string{"kind": "collect"})
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.KindCollect, runner.kind)
	assert.False(t, runner.opts.DryRun)
	assert.True(t, runner.opts.Date.IsZero())
}

func TestTriggerInvalidKind(t *testing.T) {
	h := NewRunHandler(&stubRunReader{}, &stubRunner{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger/liquidate", nil)
	req = mux.SetURLVars(req, map[string]string{"kind": "liquidate"})
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRunFailure(t *testing.T) {
	runner := &stubRunner{
		result: &engine.Result{Run: &audit.Run{ID: "run-11", Status: audit.RunFailed}},
		err:    contracts.ErrEmptyUniverse,
	}
	h := NewRunHandler(&stubRunReader{}, runner, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger/rank", nil)
	req = mux.SetURLVars(req, map[string]string{"kind": "rank"})
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var payload struct {
		Error string     `json:"error"`
		Run   *audit.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload.Error, "empty universe")
	require.NotNil(t, payload.Run)
	assert.Equal(t, "run-11", payload.Run.ID)
}
