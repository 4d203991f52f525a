package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/quota"
)

type mockRuns struct {
	runs []model.RunRecord
	err  error
}

func (m *mockRuns) List(context.Context, int) ([]model.RunRecord, error) {
	return m.runs, m.err
}

type mockUsage struct {
	usage []quota.Usage
	err   error
}

func (m *mockUsage) Usage(context.Context, string) ([]quota.Usage, error) {
	return m.usage, m.err
}

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func run(id string, status model.RunStatus, age time.Duration) model.RunRecord {
	return model.RunRecord{ID: id, Process: "daily", Status: status, StartedAt: testNow.Add(-age)}
}

func newTestCollector(runs RunLister, usage UsageReporter) *Collector {
	c := NewCollector(runs, usage, 6*time.Hour)
	c.now = func() time.Time { return testNow }
	return c
}

func TestCollect_Runs(t *testing.T) {
	runs := &mockRuns{runs: []model.RunRecord{
		run("a", model.RunStatusFinished, time.Hour),
		run("b", model.RunStatusError, 2*time.Hour),
		run("c", model.RunStatusRunning, 7*time.Hour),
		run("d", model.RunStatusRunning, time.Minute),
		run("old", model.RunStatusError, 48*time.Hour),
	}}

	snap, err := newTestCollector(runs, nil).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsFinished)
	assert.Equal(t, 1, snap.RunsErrored)
	assert.Equal(t, 2, snap.RunsRunning)
	assert.InDelta(t, 0.5, snap.RunFailRate, 0.001)
	assert.Equal(t, []string{"c"}, snap.StaleRuns)
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollect_Quota(t *testing.T) {
	usage := &mockUsage{usage: []quota.Usage{
		{Model: "gemini-1.5-flash", Calls: 45, Quota: 45, Remaining: 0},
		{Model: "gemini-1.5-flash-8b", Calls: 3, Quota: 10, Remaining: 7},
		{Model: "retired", Calls: 2},
	}}

	snap, err := newTestCollector(&mockRuns{}, usage).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ModelsConfigured)
	assert.Equal(t, []string{"gemini-1.5-flash"}, snap.ModelsExhausted)
	assert.Equal(t, 50, snap.CallsToday)
}

func TestCollect_Errors(t *testing.T) {
	_, err := newTestCollector(&mockRuns{err: errors.New("db down")}, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")

	_, err = newTestCollector(&mockRuns{}, &mockUsage{err: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: quota usage")
}
