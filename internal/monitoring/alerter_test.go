package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswatch/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	snap := &MetricsSnapshot{
		RunsTotal:        4,
		RunsFinished:     3,
		RunsErrored:      1,
		RunFailRate:      0.25,
		ModelsConfigured: 2,
		ModelsExhausted:  []string{"gemini-1.5-flash"},
		LookbackHours:    24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	snap := &MetricsSnapshot{
		RunsTotal:     3,
		RunsFinished:  1,
		RunsErrored:   2,
		RunFailRate:   2.0 / 3.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "66.7%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1})

	snap := &MetricsSnapshot{RunsTotal: 1, RunsErrored: 1, RunFailRate: 1, LookbackHours: 24}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_StaleAndQuota(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, StaleRunHours: 6})

	snap := &MetricsSnapshot{
		RunsRunning:      1,
		StaleRuns:        []string{"run-1"},
		ModelsConfigured: 1,
		ModelsExhausted:  []string{"gemini-1.5-flash"},
		CallsToday:       45,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertStaleRun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "run-1")
	assert.Equal(t, AlertQuotaExhausted, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "45 calls")
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleRun, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
