// Package monitoring watches the run ledger and model quotas and raises
// webhook alerts when runs fail, stall, or classification capacity runs out.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/quota"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsFinished int     `json:"runs_finished"`
	RunsErrored  int     `json:"runs_errored"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`
	// StaleRuns are still running after the stale threshold.
	StaleRuns []string `json:"stale_runs,omitempty"`

	// Model quota for today.
	ModelsConfigured int      `json:"models_configured"`
	ModelsExhausted  []string `json:"models_exhausted,omitempty"`
	CallsToday       int      `json:"calls_today"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the ledger read used by the collector.
type RunLister interface {
	List(ctx context.Context, limit int) ([]model.RunRecord, error)
}

// UsageReporter abstracts the quota read used by the collector.
type UsageReporter interface {
	Usage(ctx context.Context, date string) ([]quota.Usage, error)
}

// Collector gathers a snapshot from the ledger and quota counters.
type Collector struct {
	runs       RunLister
	usage      UsageReporter
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. usage may be nil.
func NewCollector(runs RunLister, usage UsageReporter, staleAfter time.Duration) *Collector {
	if staleAfter <= 0 {
		staleAfter = 6 * time.Hour
	}
	return &Collector{runs: runs, usage: usage, staleAfter: staleAfter, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.List(ctx, 1000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusFinished:
			snap.RunsFinished++
		case model.RunStatusError:
			snap.RunsErrored++
		case model.RunStatusRunning:
			snap.RunsRunning++
			if now.Sub(r.StartedAt) > c.staleAfter {
				snap.StaleRuns = append(snap.StaleRuns, r.ID)
			}
		}
	}
	if done := snap.RunsFinished + snap.RunsErrored; done > 0 {
		snap.RunFailRate = float64(snap.RunsErrored) / float64(done)
	}

	if c.usage != nil {
		usage, err := c.usage.Usage(ctx, "")
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: quota usage")
		}
		for _, u := range usage {
			snap.CallsToday += u.Calls
			if u.Quota == 0 {
				continue // no longer configured
			}
			snap.ModelsConfigured++
			if u.Remaining == 0 {
				snap.ModelsExhausted = append(snap.ModelsExhausted, u.Model)
			}
		}
	}

	return snap, nil
}
