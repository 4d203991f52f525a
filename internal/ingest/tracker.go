// Package ingest tracks per-candidate run state and persists news items
// idempotently.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/store"
)

// Store is the persistence subset used by the Tracker.
type Store interface {
	NewsItemExists(ctx context.Context, key string, candidateID int64) (bool, error)
	InsertNewsItem(ctx context.Context, item model.NewsItem) error
	SetPassFlag(ctx context.Context, candidateID int64, pass model.Pass, done bool) error
	ResetPassFlags(ctx context.Context, pass model.Pass) (int, error)
}

// Outcome classifies the result of InsertIfAbsent.
type Outcome int

const (
	Inserted Outcome = iota
	AlreadyExists
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// InsertResult reports what happened to an item. Reason is set only for Failed.
type InsertResult struct {
	Outcome Outcome
	Reason  error
}

// Tracker deduplicates news items and manages candidate pass flags.
type Tracker struct {
	store Store
	log   *zap.Logger
}

// NewTracker creates a Tracker backed by s.
func NewTracker(s Store) *Tracker {
	return &Tracker{
		store: s,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// Exists probes the dedup key. Storage errors are logged and reported as
// not found so the caller re-attempts the insert rather than dropping data.
func (t *Tracker) Exists(ctx context.Context, key string, candidateID int64) bool {
	ok, err := t.store.NewsItemExists(ctx, key, candidateID)
	if err != nil {
		t.log.Warn("dedup probe failed, treating as not found",
			zap.String("item_key", key),
			zap.Int64("candidate_id", candidateID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// InsertIfAbsent persists item. A uniqueness violation is an expected
// duplicate; any other storage error drops the item for this run.
func (t *Tracker) InsertIfAbsent(ctx context.Context, item model.NewsItem) InsertResult {
	err := t.store.InsertNewsItem(ctx, item)
	switch {
	case err == nil:
		return InsertResult{Outcome: Inserted}
	case errors.Is(err, store.ErrDuplicate):
		t.log.Debug("news item already stored",
			zap.String("item_key", item.Key),
			zap.Int64("candidate_id", item.CandidateID),
		)
		return InsertResult{Outcome: AlreadyExists}
	default:
		t.log.Error("insert news item failed, dropping",
			zap.String("item_key", item.Key),
			zap.Int64("candidate_id", item.CandidateID),
			zap.Error(err),
		)
		return InsertResult{Outcome: Failed, Reason: err}
	}
}

// MarkCandidateProcessed sets the flag for pass. Unknown passes are rejected
// before storage is touched.
func (t *Tracker) MarkCandidateProcessed(ctx context.Context, candidateID int64, pass model.Pass) error {
	if !pass.Valid() {
		return eris.Wrapf(model.ErrInvalidPass, "ingest: mark candidate %d", candidateID)
	}
	return eris.Wrapf(t.store.SetPassFlag(ctx, candidateID, pass, true), "ingest: mark candidate %d %s", candidateID, pass)
}

// ResetDailyFlags clears the daily flag for every candidate.
func (t *Tracker) ResetDailyFlags(ctx context.Context) error {
	return t.ResetPassFlags(ctx, model.PassDaily)
}

// ResetPassFlags clears the flag for pass on every candidate.
func (t *Tracker) ResetPassFlags(ctx context.Context, pass model.Pass) error {
	if !pass.Valid() {
		return eris.Wrap(model.ErrInvalidPass, "ingest: reset flags")
	}
	n, err := t.store.ResetPassFlags(ctx, pass)
	if err != nil {
		return eris.Wrapf(err, "ingest: reset %s flags", pass)
	}
	t.log.Info("reset pass flags", zap.String("pass", string(pass)), zap.Int("candidates", n))
	return nil
}
