package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRun(t *testing.T) {
	date := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	run := NewRun("rebalance", date, "abc123")

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "rebalance", run.Kind)
	assert.Equal(t, date, run.Date)
	assert.Equal(t, RunRunning, run.Status)
	assert.Equal(t, "abc123", run.ConfigHash)
	assert.Nil(t, run.FinishedAt)

	other := NewRun("rebalance", date, "abc123")
	assert.NotEqual(t, run.ID, other.ID)
}

func TestRunComplete(t *testing.T) {
	run := NewRun("rank", time.Now(), "h")
	run.Complete()

	assert.Equal(t, RunCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Error)
	assert.GreaterOrEqual(t, run.Duration(), time.Duration(0))
}

func TestRunFail(t *testing.T) {
	run := NewRun("rank", time.Now(), "h")
	run.Fail(errors.New("screening found no eligible securities"))

	assert.Equal(t, RunFailed, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Contains(t, run.Error, "no eligible securities")
}
