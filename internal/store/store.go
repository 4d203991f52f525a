package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswatch/internal/model"
)

var (
	// ErrDuplicate is returned when an insert violates the news item dedup
	// key or the per-candidate link uniqueness.
	ErrDuplicate = eris.New("duplicate news item")
	// ErrNotFound is returned when an update matches no row.
	ErrNotFound = eris.New("not found")
)

// CandidateFilter narrows candidate selection.
type CandidateFilter struct {
	Pass model.Pass
	IDs  []int64 // empty = all candidates
}

// Store defines the persistence interface for the news pipeline.
type Store interface {
	// Candidates
	UpsertCandidate(ctx context.Context, c model.Candidate) error
	ListCandidates(ctx context.Context) ([]model.Candidate, error)
	NextCandidate(ctx context.Context, filter CandidateFilter) (*model.Candidate, error)
	SetPassFlag(ctx context.Context, candidateID int64, pass model.Pass, done bool) error
	ResetPassFlags(ctx context.Context, pass model.Pass) (int, error)

	// News items
	NewsItemExists(ctx context.Context, key string, candidateID int64) (bool, error)
	InsertNewsItem(ctx context.Context, item model.NewsItem) error
	GetNewsItem(ctx context.Context, key string, candidateID int64) (*model.NewsItem, error)
	CountNewsItems(ctx context.Context, candidateID int64) (int, error)
	// ListUnenriched pages newest first through items lacking enrichment,
	// skipping the first offset rows.
	ListUnenriched(ctx context.Context, offset, limit int) ([]model.PendingItem, error)
	SetEnrichment(ctx context.Context, key string, candidateID int64, e model.Enrichment) error

	// Model quota
	QuotaCalls(ctx context.Context, modelName, date string) (int, error)
	IncrementQuota(ctx context.Context, modelName, date string) (int, error)
	ListQuota(ctx context.Context, date string) ([]model.QuotaCounter, error)

	// Run ledger
	CreateRunRecord(ctx context.Context, r model.RunRecord) error
	FinishRunRecord(ctx context.Context, id string, status model.RunStatus, message string, endedAt time.Time) error
	GetRunRecord(ctx context.Context, id string) (*model.RunRecord, error)
	ListRunRecords(ctx context.Context, limit int) ([]model.RunRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// passColumn maps a pass to its flag column. Only the closed set of passes
// ever reaches SQL text.
func passColumn(p model.Pass) (string, error) {
	switch p {
	case model.PassDaily:
		return "daily_pass", nil
	case model.PassHistorical:
		return "historical_pass", nil
	default:
		return "", eris.Wrapf(model.ErrInvalidPass, "store: pass %q", string(p))
	}
}

func joinKeywords(kw []string) string {
	out := make([]string, 0, len(kw))
	for _, k := range kw {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return strings.Join(out, ",")
}

func splitKeywords(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func defaultLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
