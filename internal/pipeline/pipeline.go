// Package pipeline walks candidates through the feed, persists the
// headlines that match them and enriches stored items with a topic and
// sentiment label.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/newswatch/internal/feed"
	"github.com/sells-group/newswatch/internal/ingest"
	"github.com/sells-group/newswatch/internal/ledger"
	"github.com/sells-group/newswatch/internal/match"
	"github.com/sells-group/newswatch/internal/metrics"
	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/resilience"
	"github.com/sells-group/newswatch/internal/store"
)

// Process names written to the run ledger.
const (
	ProcessDaily      = "daily"
	ProcessHistorical = "historical"
	ProcessEnrich     = "enrich"
)

// DefaultEnrichBatchSize is the number of unenriched items pulled per batch.
const DefaultEnrichBatchSize = 250

// Store is the persistence subset the pipeline drives.
type Store interface {
	ingest.Store
	NextCandidate(ctx context.Context, filter store.CandidateFilter) (*model.Candidate, error)
	ListUnenriched(ctx context.Context, offset, limit int) ([]model.PendingItem, error)
	SetEnrichment(ctx context.Context, key string, candidateID int64, e model.Enrichment) error
}

// Classifier labels a prompt with the next available model. quota.Scheduler
// satisfies it.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (*model.Classification, string, error)
}

// Deps are the collaborators of a Pipeline. Resolver and Metrics are optional.
type Deps struct {
	Store      Store
	Source     feed.Source
	Resolver   feed.LinkResolver
	Matcher    *match.Matcher
	Classifier Classifier
	Ledger     *ledger.Ledger
	Metrics    *metrics.Recorder
}

// Options tunes pacing and batching. Zero values select the defaults.
type Options struct {
	Location *time.Location
	// WriteDelay is slept after each feed-derived insert in historical runs.
	WriteDelay time.Duration
	// ClassifyDelay spaces classifier calls.
	ClassifyDelay   time.Duration
	EnrichBatchSize int
	Now             func() time.Time
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Pipeline is the orchestrator for daily, historical and enrichment runs.
// It processes one candidate at a time.
type Pipeline struct {
	store      Store
	source     feed.Source
	resolver   feed.LinkResolver
	matcher    *match.Matcher
	classifier Classifier
	ledger     *ledger.Ledger
	metrics    *metrics.Recorder
	tracker    *ingest.Tracker

	loc        *time.Location
	writeDelay time.Duration
	pacer      *rate.Limiter
	batchSize  int
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	log        *zap.Logger
}

// New creates a Pipeline.
func New(d Deps, opts Options) *Pipeline {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = resilience.SleepContext
	}
	if opts.EnrichBatchSize <= 0 {
		opts.EnrichBatchSize = DefaultEnrichBatchSize
	}
	if d.Resolver == nil {
		d.Resolver = feed.PassThrough{}
	}

	limit := rate.Inf
	if opts.ClassifyDelay > 0 {
		limit = rate.Every(opts.ClassifyDelay)
	}

	return &Pipeline{
		store:      d.Store,
		source:     d.Source,
		resolver:   d.Resolver,
		matcher:    d.Matcher,
		classifier: d.Classifier,
		ledger:     d.Ledger,
		metrics:    d.Metrics,
		tracker:    ingest.NewTracker(d.Store),
		loc:        opts.Location,
		writeDelay: opts.WriteDelay,
		pacer:      rate.NewLimiter(limit, 1),
		batchSize:  opts.EnrichBatchSize,
		now:        opts.Now,
		sleep:      opts.Sleep,
		log:        zap.L().With(zap.String("component", "pipeline")),
	}
}

// RunSummary counts what a run did.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Process     string        `json:"process"`
	Candidates  int           `json:"candidates"`
	Entries     int           `json:"entries"`
	Rejected    int           `json:"rejected"`
	Skipped     int           `json:"skipped"`
	Inserted    int           `json:"inserted"`
	Duplicates  int           `json:"duplicates"`
	Failed      int           `json:"failed"`
	FetchErrors int           `json:"fetch_errors"`
	Enrich      EnrichSummary `json:"enrich"`
	Err         string        `json:"error,omitempty"`
}

// Message renders the summary for the run ledger.
func (s *RunSummary) Message() string {
	return fmt.Sprintf("candidates=%d entries=%d inserted=%d duplicates=%d rejected=%d failed=%d fetch_errors=%d enriched=%d",
		s.Candidates, s.Entries, s.Inserted, s.Duplicates, s.Rejected, s.Failed, s.FetchErrors, s.Enrich.Enriched)
}

// EnrichSummary counts classification outcomes.
type EnrichSummary struct {
	Attempted int  `json:"attempted"`
	Enriched  int  `json:"enriched"`
	Failed    int  `json:"failed"`
	Exhausted bool `json:"exhausted"`
}

// acceptFunc decides whether a headline belongs to a candidate.
type acceptFunc func(c *model.Candidate, headline string) match.Result

// walk selects unflagged candidates for pass in id order and processes each
// one. It stops at the first candidate error.
func (p *Pipeline) walk(ctx context.Context, pass model.Pass, ids []int64,
	queries func(c *model.Candidate) []feed.Query, accept acceptFunc, delay time.Duration, sum *RunSummary,
) error {
	filter := store.CandidateFilter{Pass: pass, IDs: ids}
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: run cancelled")
		}
		c, err := p.store.NextCandidate(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "pipeline: select candidate")
		}
		if c == nil {
			return nil
		}

		if err := p.processCandidate(ctx, c, pass, queries(c), accept, delay, sum); err != nil {
			return err
		}
		sum.Candidates++
		p.metrics.CandidatesProcessed(string(pass), sum.Candidates)
	}
}

// processCandidate ingests every query's entries for c and then sets the
// pass flag. Panics are recovered into errors so the run can be recorded.
func (p *Pipeline) processCandidate(ctx context.Context, c *model.Candidate, pass model.Pass,
	queries []feed.Query, accept acceptFunc, delay time.Duration, sum *RunSummary,
) (err error) {
	log := p.log.With(zap.Int64("candidate_id", c.ID), zap.String("candidate", c.Name))
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: panic processing candidate %d: %v", c.ID, r)
		}
	}()

	log.Info("processing candidate", zap.String("pass", string(pass)), zap.Int("queries", len(queries)))
	for _, q := range queries {
		entries, fetchErr := p.source.Fetch(ctx, q)
		if fetchErr != nil {
			sum.FetchErrors++
			log.Warn("feed fetch failed, continuing", zap.String("query", q.Terms), zap.Error(fetchErr))
			continue
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "pipeline: run cancelled")
			}
			sum.Entries++
			p.ingestEntry(ctx, c, e, accept, delay, sum, log)
		}
	}

	if err := p.tracker.MarkCandidateProcessed(ctx, c.ID, pass); err != nil {
		return err
	}
	log.Info("candidate processed")
	return nil
}

func (p *Pipeline) ingestEntry(ctx context.Context, c *model.Candidate, e feed.Entry,
	accept acceptFunc, delay time.Duration, sum *RunSummary, log *zap.Logger,
) {
	headline, _ := feed.SplitTitle(e.Title)
	res := accept(c, headline)
	p.metrics.Match(string(res.Rule), res.Accepted)
	if !res.Accepted {
		sum.Rejected++
		p.metrics.Item("rejected")
		log.Debug("headline rejected", zap.String("headline", headline), zap.String("rule", string(res.Rule)))
		return
	}

	item, err := feed.ToItem(ctx, e, c.ID, p.resolver, p.loc)
	if err != nil {
		sum.Skipped++
		p.metrics.Item("skipped")
		log.Debug("skipping entry", zap.Error(err))
		return
	}

	if p.tracker.Exists(ctx, item.Key, c.ID) {
		sum.Duplicates++
		p.metrics.Item(ingest.AlreadyExists.String())
		return
	}

	result := p.tracker.InsertIfAbsent(ctx, item)
	p.metrics.Item(result.Outcome.String())
	switch result.Outcome {
	case ingest.Inserted:
		sum.Inserted++
		log.Info("news item stored",
			zap.String("item_key", item.Key),
			zap.String("rule", string(res.Rule)),
			zap.String("outlet", item.Outlet),
		)
		if delay > 0 {
			if err := p.sleep(ctx, delay); err != nil {
				log.Debug("write delay interrupted", zap.Error(err))
			}
		}
	case ingest.AlreadyExists:
		sum.Duplicates++
	default:
		sum.Failed++
	}
}

// finish closes the ledger record and metrics for a run.
func (p *Pipeline) finish(ctx context.Context, sum *RunSummary, started time.Time, runErr error) {
	ctx = context.WithoutCancel(ctx)
	status := model.RunStatusFinished
	if runErr != nil {
		status = model.RunStatusError
		sum.Err = runErr.Error()
		p.ledger.MarkError(ctx, sum.RunID, runErr)
	}
	p.ledger.Finish(ctx, sum.RunID, model.RunStatusFinished, sum.Message())
	p.metrics.RunFinished(sum.Process, string(status), started, p.now())
}
