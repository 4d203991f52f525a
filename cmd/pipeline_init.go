package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/classify"
	"github.com/sells-group/newswatch/internal/config"
	"github.com/sells-group/newswatch/internal/feed"
	"github.com/sells-group/newswatch/internal/fetcher"
	"github.com/sells-group/newswatch/internal/ledger"
	"github.com/sells-group/newswatch/internal/match"
	"github.com/sells-group/newswatch/internal/metrics"
	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/pipeline"
	"github.com/sells-group/newswatch/internal/quota"
	"github.com/sells-group/newswatch/internal/resilience"
	"github.com/sells-group/newswatch/internal/store"
	anthropicpkg "github.com/sells-group/newswatch/pkg/anthropic"
)

// pipelineEnv holds the store, collaborators and pipeline used by the run
// commands.
type pipelineEnv struct {
	Store     store.Store
	Pipeline  *pipeline.Pipeline
	Scheduler *quota.Scheduler
	Ledger    *ledger.Ledger
	Metrics   *metrics.Recorder

	closers []func() error
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		if err := pe.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// envOptions selects which collaborators initPipeline builds.
type envOptions struct {
	// Classifier builds the provider client. Without it the scheduler can
	// only report usage.
	Classifier bool
	Metrics    *metrics.Recorder
}

// initPipeline validates the config for the given modes, opens the store
// and wires the pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, opts envOptions, modes ...string) (*pipelineEnv, error) {
	for _, m := range modes {
		if err := cfg.Validate(m); err != nil {
			return nil, err
		}
	}

	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st, Metrics: opts.Metrics, closers: []func() error{st.Close}}

	var classifier classify.Classifier
	if opts.Classifier {
		c, closeFn, err := buildClassifier(ctx, cfg.Classifier)
		if err != nil {
			env.Close()
			return nil, err
		}
		classifier = c
		if closeFn != nil {
			env.closers = append(env.closers, closeFn)
		}
	}

	env.Scheduler = quota.NewScheduler(st, classifier, modelQuotas(cfg.Classifier), quota.Options{
		Location:    loc,
		MaxAttempts: cfg.Classifier.MaxAttempts,
		BackoffUnit: time.Duration(cfg.Classifier.BackoffUnitMs) * time.Millisecond,
	})
	env.Ledger = ledger.New(st, nil)

	env.Pipeline = pipeline.New(pipeline.Deps{
		Store:      st,
		Source:     newFeedSource(cfg.Feed),
		Matcher:    match.NewMatcher(buildOverrides(cfg.Matching)),
		Classifier: env.Scheduler,
		Ledger:     env.Ledger,
		Metrics:    opts.Metrics,
	}, pipeline.Options{
		Location:        loc,
		WriteDelay:      time.Duration(cfg.Pipeline.WriteDelayMs) * time.Millisecond,
		ClassifyDelay:   time.Duration(cfg.Pipeline.ClassifyDelayMs) * time.Millisecond,
		EnrichBatchSize: cfg.Pipeline.EnrichBatchSize,
	})
	return env, nil
}

func newFeedSource(fc config.FeedConfig) *feed.GoogleNews {
	retry := resilience.FromRetryConfig(fc.MaxRetries, 0, 0)
	retry.OnRetry = resilience.RetryLogger("feed", "download")

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         fc.UserAgent,
		Timeout:           time.Duration(fc.TimeoutSecs) * time.Second,
		RequestsPerSecond: fc.RequestsPerSecond,
		Burst:             1,
		Retry:             &retry,
	})
	return feed.NewGoogleNews(f, fc.BaseURL, feed.Locale{HL: fc.HL, GL: fc.GL, CEID: fc.CEID})
}

// buildClassifier creates the configured provider. The returned close
// function may be nil.
func buildClassifier(ctx context.Context, cc config.ClassifierConfig) (classify.Classifier, func() error, error) {
	switch cc.Provider {
	case "gemini":
		g, err := classify.NewGemini(ctx, cc.GeminiKey)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case "anthropic":
		return classify.NewAnthropic(anthropicpkg.NewClient(cc.AnthropicKey), cc.MaxTokens), nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported classifier provider: %s", cc.Provider)
	}
}

func modelQuotas(cc config.ClassifierConfig) []model.ModelQuota {
	out := make([]model.ModelQuota, 0, len(cc.Models))
	for _, m := range cc.Models {
		out = append(out, model.ModelQuota{Name: m.Name, DailyQuota: m.DailyQuota})
	}
	return out
}

// buildOverrides layers configured overrides on top of the built-in table.
func buildOverrides(mc config.MatchingConfig) match.Overrides {
	out := match.DefaultOverrides()
	raw := make(map[string]match.Override, len(mc.Overrides))
	for name, o := range mc.Overrides {
		raw[name] = match.Override{Require: o.Require, Exclude: o.Exclude}
	}
	for name, o := range match.NewOverrides(raw) {
		out[name] = o
	}
	return out
}
