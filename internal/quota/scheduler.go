// Package quota selects classification models under per-day call budgets
// and wraps the classifier with a retry loop for provider-side rate limits.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/classify"
	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/resilience"
)

// ErrExhausted means every configured model has used its quota for today.
// It ends the current enrichment batch and is not a failure.
var ErrExhausted = eris.New("all model quotas exhausted")

// Store is the subset of store.Store the scheduler needs.
type Store interface {
	QuotaCalls(ctx context.Context, modelName, date string) (int, error)
	IncrementQuota(ctx context.Context, modelName, date string) (int, error)
	ListQuota(ctx context.Context, date string) ([]model.QuotaCounter, error)
}

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	Location    *time.Location
	Now         func() time.Time
	MaxAttempts int
	BackoffUnit time.Duration
	// Sleep overrides the backoff wait; tests use it to skip real time.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler picks the first model in priority order with calls left today.
type Scheduler struct {
	store      Store
	classifier classify.Classifier
	models     []model.ModelQuota
	loc        *time.Location
	now        func() time.Time
	retry      resilience.RetryConfig
	log        *zap.Logger
}

// NewScheduler creates a Scheduler over models in priority order.
func NewScheduler(s Store, c classify.Classifier, models []model.ModelQuota, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := zap.L().With(zap.String("component", "quota"))

	retry := resilience.QuotaBackoff(opts.MaxAttempts, opts.BackoffUnit, func(err error) bool {
		return errors.Is(err, classify.ErrQuotaExceeded)
	})
	retry.Sleep = opts.Sleep
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("provider quota exceeded, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	return &Scheduler{
		store:      s,
		classifier: c,
		models:     append([]model.ModelQuota(nil), models...),
		loc:        opts.Location,
		now:        opts.Now,
		retry:      retry,
		log:        log,
	}
}

// Today returns the quota date for the current instant.
func (s *Scheduler) Today() string {
	return model.QuotaDate(s.now(), s.loc)
}

// AcquireModel returns the first model whose count today is strictly below
// its quota, or ErrExhausted.
func (s *Scheduler) AcquireModel(ctx context.Context) (string, error) {
	today := s.Today()
	for _, m := range s.models {
		calls, err := s.store.QuotaCalls(ctx, m.Name, today)
		if err != nil {
			return "", eris.Wrapf(err, "quota: read calls for %s", m.Name)
		}
		if calls < m.DailyQuota {
			return m.Name, nil
		}
	}
	return "", ErrExhausted
}

// RecordCall increments today's counter for modelName.
func (s *Scheduler) RecordCall(ctx context.Context, modelName string) error {
	if _, err := s.store.IncrementQuota(ctx, modelName, s.Today()); err != nil {
		return eris.Wrapf(err, "quota: record call for %s", modelName)
	}
	return nil
}

// Classify runs prompt against the next available model. Provider-side
// quota rejections are retried with exponential backoff on the same model;
// any other failure is returned at once. Only a successful call counts
// against the local quota.
func (s *Scheduler) Classify(ctx context.Context, prompt string) (*model.Classification, string, error) {
	modelName, err := s.AcquireModel(ctx)
	if err != nil {
		return nil, "", err
	}

	result, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*model.Classification, error) {
		return s.classifier.Classify(ctx, modelName, prompt)
	})
	if err != nil {
		return nil, modelName, eris.Wrapf(err, "quota: classify with %s", modelName)
	}

	if err := s.RecordCall(ctx, modelName); err != nil {
		s.log.Error("failed to record model call", zap.String("model", modelName), zap.Error(err))
	}
	return result, modelName, nil
}

// Usage is one model's consumption on a date.
type Usage struct {
	Model     string `json:"model"`
	Date      string `json:"date"`
	Calls     int    `json:"calls"`
	Quota     int    `json:"quota"`
	Remaining int    `json:"remaining"`
}

// Usage reports every configured model's calls on date (today when empty),
// followed by any counters for models no longer configured.
func (s *Scheduler) Usage(ctx context.Context, date string) ([]Usage, error) {
	if date == "" {
		date = s.Today()
	}
	counters, err := s.store.ListQuota(ctx, date)
	if err != nil {
		return nil, eris.Wrap(err, "quota: list usage")
	}
	calls := make(map[string]int, len(counters))
	for _, c := range counters {
		calls[c.Model] = c.Calls
	}

	out := make([]Usage, 0, len(s.models))
	seen := make(map[string]bool, len(s.models))
	for _, m := range s.models {
		seen[m.Name] = true
		out = append(out, Usage{
			Model:     m.Name,
			Date:      date,
			Calls:     calls[m.Name],
			Quota:     m.DailyQuota,
			Remaining: max(m.DailyQuota-calls[m.Name], 0),
		})
	}
	for _, c := range counters {
		if !seen[c.Model] {
			out = append(out, Usage{Model: c.Model, Date: date, Calls: c.Calls})
		}
	}
	return out, nil
}
