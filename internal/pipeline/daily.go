package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/feed"
	"github.com/sells-group/newswatch/internal/match"
	"github.com/sells-group/newswatch/internal/model"
)

// DailyOpts controls a daily run.
type DailyOpts struct {
	// Resume keeps the daily flags from an interrupted run instead of
	// clearing them, so processed candidates are not walked again.
	Resume bool
	// SkipEnrich leaves stored items unlabelled.
	SkipEnrich bool
}

// RunDaily resets the daily flags, walks every eligible candidate over the
// last day of news and then enriches stored items until the batch is empty
// or model capacity runs out. A candidate failure is recorded and ends the
// candidate loop; the run itself does not return it.
func (p *Pipeline) RunDaily(ctx context.Context, opts DailyOpts) *RunSummary {
	started := p.now()
	sum := &RunSummary{Process: ProcessDaily}
	sum.RunID = p.ledger.Start(ctx, ProcessDaily, "daily run started")
	log := p.log.With(zap.String("run_id", sum.RunID), zap.String("process", ProcessDaily))

	var runErr error
	if !opts.Resume {
		runErr = p.tracker.ResetDailyFlags(ctx)
	}

	if runErr == nil {
		runErr = p.walk(ctx, model.PassDaily, nil,
			func(c *model.Candidate) []feed.Query { return []feed.Query{feed.DailyQuery(c.Name)} },
			func(c *model.Candidate, headline string) match.Result { return p.matcher.Match(c.Name, headline) },
			0, sum,
		)
	}
	if runErr != nil {
		log.Error("daily candidate loop stopped", zap.Error(runErr))
	}

	if !opts.SkipEnrich && ctx.Err() == nil {
		es, err := p.enrich(ctx, 0)
		sum.Enrich = es
		if err != nil {
			log.Error("enrichment failed", zap.Error(err))
			if runErr == nil {
				runErr = err
			}
		}
	}

	p.finish(ctx, sum, started, runErr)
	log.Info("daily run complete",
		zap.Int("candidates", sum.Candidates),
		zap.Int("inserted", sum.Inserted),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("enriched", sum.Enrich.Enriched),
	)
	return sum
}
