package pipeline

import (
	"context"
	"errors"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/classify"
	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/quota"
	"github.com/sells-group/newswatch/internal/store"
)

// Enrich labels stored items as a standalone run. limit caps the number of
// classifier attempts; zero means no cap.
func (p *Pipeline) Enrich(ctx context.Context, limit int) (*RunSummary, error) {
	started := p.now()
	sum := &RunSummary{Process: ProcessEnrich}
	sum.RunID = p.ledger.Start(ctx, ProcessEnrich, "enrichment run started")

	es, err := p.enrich(ctx, limit)
	sum.Enrich = es
	p.finish(ctx, sum, started, err)
	if err != nil {
		return sum, err
	}
	p.log.Info("enrichment run complete",
		zap.String("run_id", sum.RunID),
		zap.Int("enriched", es.Enriched),
		zap.Int("failed", es.Failed),
		zap.Bool("exhausted", es.Exhausted),
	)
	return sum, nil
}

// enrich pages newest first through unenriched items and classifies them
// one at a time. Items left pending in this call (failed or already tried)
// are counted into the offset so the next page starts past them. It stops
// when a page comes back empty, when limit is reached or when every model is
// out of quota.
func (p *Pipeline) enrich(ctx context.Context, limit int) (EnrichSummary, error) {
	var sum EnrichSummary
	attempted := make(map[string]struct{})
	offset := 0

	for {
		batch, err := p.store.ListUnenriched(ctx, offset, p.batchSize)
		if err != nil {
			return sum, eris.Wrap(err, "pipeline: list unenriched")
		}
		if len(batch) == 0 {
			return sum, nil
		}

		for _, item := range batch {
			key := item.Key + "/" + strconv.FormatInt(item.CandidateID, 10)
			if _, seen := attempted[key]; seen {
				offset++
				continue
			}
			if limit > 0 && sum.Attempted >= limit {
				return sum, nil
			}
			attempted[key] = struct{}{}

			outcome, err := p.enrichItem(ctx, item, &sum)
			if err != nil {
				return sum, err
			}
			switch outcome {
			case itemExhausted:
				return sum, nil
			case itemPending:
				offset++
			}
		}
	}
}

// itemOutcome says whether an item left the unenriched set.
type itemOutcome int

const (
	itemDone itemOutcome = iota
	itemPending
	itemExhausted
)

// enrichItem classifies one item. itemExhausted reports that no model has
// capacity left today.
func (p *Pipeline) enrichItem(ctx context.Context, item model.PendingItem, sum *EnrichSummary) (itemOutcome, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return itemPending, eris.Wrap(err, "pipeline: classify pacing")
	}
	log := p.log.With(zap.String("item_key", item.Key), zap.Int64("candidate_id", item.CandidateID))

	sum.Attempted++
	result, modelName, err := p.classifier.Classify(ctx, classify.BuildPrompt(item.CandidateName, item.Headline))
	switch {
	case errors.Is(err, quota.ErrExhausted):
		sum.Attempted--
		sum.Exhausted = true
		p.metrics.Classification("none", "exhausted")
		log.Info("all model quotas exhausted, stopping enrichment")
		return itemExhausted, nil
	case err != nil:
		if ctx.Err() != nil {
			return itemPending, eris.Wrap(ctx.Err(), "pipeline: enrichment cancelled")
		}
		sum.Failed++
		p.metrics.Classification(modelName, "failed")
		log.Warn("classification failed, skipping item", zap.String("model", modelName), zap.Error(err))
		return itemPending, nil
	}

	err = p.store.SetEnrichment(ctx, item.Key, item.CandidateID, model.Enrichment{
		Topic:      result.Topic,
		Sentiment:  result.Sentiment,
		EnrichedAt: p.now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug("item already enriched")
	case err != nil:
		sum.Failed++
		p.metrics.Classification(modelName, "store_failed")
		log.Error("failed to store enrichment", zap.Error(err))
		return itemPending, nil
	default:
		sum.Enriched++
		p.metrics.Classification(modelName, "ok")
		log.Debug("item enriched", zap.String("model", modelName), zap.String("sentiment", string(result.Sentiment)))
	}
	return itemDone, nil
}
