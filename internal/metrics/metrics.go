// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newswatch"

// Recorder holds the pipeline collectors on a private registry. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	items               *prometheus.CounterVec
	matches             *prometheus.CounterVec
	classifications     *prometheus.CounterVec
	candidatesProcessed *prometheus.GaugeVec
	runDuration         *prometheus.SummaryVec
	lastRun             *prometheus.GaugeVec
}

// New creates a Recorder with every collector registered.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.items = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_total",
		Help:      "Feed entries by ingestion outcome",
	}, []string{"outcome"})
	r.matches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Headline match decisions by rule",
	}, []string{"rule", "accepted"})
	r.classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifications_total",
		Help:      "Classification attempts by model and outcome",
	}, []string{"model", "outcome"})
	r.candidatesProcessed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "candidates_processed",
		Help:      "Candidates processed in the latest run of each pass",
	}, []string{"pass"})
	r.runDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of pipeline runs",
	}, []string{"process"})
	r.lastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last run end by status",
	}, []string{"process", "status"})

	r.registry.MustRegister(
		r.items, r.matches, r.classifications,
		r.candidatesProcessed, r.runDuration, r.lastRun,
	)
	return r
}

// Registry returns the private registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Item counts one ingestion outcome.
func (r *Recorder) Item(outcome string) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(outcome).Inc()
}

// Match counts one matcher decision.
func (r *Recorder) Match(rule string, accepted bool) {
	if r == nil {
		return
	}
	label := "false"
	if accepted {
		label = "true"
	}
	r.matches.WithLabelValues(rule, label).Inc()
}

// Classification counts one scheduler outcome for a model.
func (r *Recorder) Classification(model, outcome string) {
	if r == nil {
		return
	}
	r.classifications.WithLabelValues(model, outcome).Inc()
}

// CandidatesProcessed sets the candidate count for a pass.
func (r *Recorder) CandidatesProcessed(pass string, n int) {
	if r == nil {
		return
	}
	r.candidatesProcessed.WithLabelValues(pass).Set(float64(n))
}

// RunFinished observes a run's duration and end time.
func (r *Recorder) RunFinished(process, status string, started, ended time.Time) {
	if r == nil {
		return
	}
	r.runDuration.WithLabelValues(process).Observe(ended.Sub(started).Seconds())
	r.lastRun.WithLabelValues(process, status).Set(float64(ended.Unix()))
}
