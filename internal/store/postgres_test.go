package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswatch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

var candidateCols = []string{"id", "name", "topic_id", "keywords", "daily_pass", "historical_pass", "active"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS candidates`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCandidate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	topic := "/m/0abc"

	mock.ExpectExec(`INSERT INTO "candidates" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WithArgs(int64(7), "Gustavo Petro", &topic, "petro,pacto", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertCandidate(context.Background(), model.Candidate{
		ID: 7, Name: "Gustavo Petro", TopicID: &topic, Keywords: []string{"petro", "pacto"}, Active: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextCandidate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	topic := "t1"

	mock.ExpectQuery(`FROM candidates WHERE NOT daily_pass AND active .* ORDER BY id LIMIT 1`).
		WillReturnRows(pgxmock.NewRows(candidateCols).
			AddRow(int64(3), "Ana Pérez", &topic, "ana,perez", false, true, true))

	c, err := s.NextCandidate(context.Background(), CandidateFilter{Pass: model.PassDaily})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(3), c.ID)
	assert.Equal(t, []string{"ana", "perez"}, c.Keywords)
	assert.True(t, c.HistoricalPass)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextCandidate_IDsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE NOT historical_pass .* AND id = ANY\(\$1\)`).
		WithArgs([]int64{4, 5}).
		WillReturnError(pgx.ErrNoRows)

	c, err := s.NextCandidate(context.Background(), CandidateFilter{Pass: model.PassHistorical, IDs: []int64{4, 5}})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetPassFlag_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE candidates SET daily_pass = \$1 WHERE id = \$2`).
		WithArgs(true, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetPassFlag(context.Background(), 9, model.PassDaily, true)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetPassFlag_InvalidPassNeverQueries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.SetPassFlag(context.Background(), 1, "weekly", true)
	assert.True(t, errors.Is(err, model.ErrInvalidPass))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetPassFlags(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE candidates SET daily_pass = false WHERE daily_pass`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.ResetPassFlags(context.Background(), model.PassDaily)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertNewsItem_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO news_items`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "news_items_pkey"})

	err := s.InsertNewsItem(context.Background(), testItem("k1", 1, "https://e.com/a", published))
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertNewsItem_OtherError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO news_items`).
		WillReturnError(errors.New("connection reset"))

	err := s.InsertNewsItem(context.Background(), testItem("k1", 1, "https://e.com/a", published))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicate))
	assert.Contains(t, err.Error(), "insert news item")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NewsItemExists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("k1", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.NewsItemExists(context.Background(), "k1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementQuota(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO model_quota .* ON CONFLICT \(model, date\) DO UPDATE SET calls = model_quota.calls \+ 1`).
		WithArgs("gemini-1.5-flash", "2024-05-01").
		WillReturnRows(pgxmock.NewRows([]string{"calls"}).AddRow(12))

	n, err := s.IncrementQuota(context.Background(), "gemini-1.5-flash", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QuotaCalls_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT calls FROM model_quota`).
		WithArgs("gemini-1.5-flash", "2024-05-01").
		WillReturnError(pgx.ErrNoRows)

	n, err := s.QuotaCalls(context.Background(), "gemini-1.5-flash", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRunRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ended := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE runs SET\s+status = CASE WHEN status = 'error'`).
		WithArgs("finished", "ok", ended, "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRunRecord(context.Background(), "nope", model.RunStatusFinished, "ok", ended)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetEnrichment(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE news_items SET topic = \$1, sentiment = \$2, enriched_at = \$3`).
		WithArgs("salud", "Negative", at, "k1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetEnrichment(context.Background(), "k1", 1, model.Enrichment{
		Topic: "salud", Sentiment: model.SentimentNegative, EnrichedAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListUnenriched_Offset(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	published := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`LIMIT \$1 OFFSET \$2`).
		WithArgs(250, 3).
		WillReturnRows(pgxmock.NewRows([]string{"key", "candidate_id", "name", "headline", "published_at"}).
			AddRow("k4", int64(1), "Ana", "Ana habla", published))

	pending, err := s.ListUnenriched(context.Background(), 3, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "k4", pending[0].Key)
	assert.Equal(t, "Ana", pending[0].CandidateName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRunRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	ended := started.Add(time.Minute)

	mock.ExpectQuery(`SELECT id, process, status, message, started_at, ended_at FROM runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "process", "status", "message", "started_at", "ended_at"}).
			AddRow("r1", "daily", model.RunStatusFinished, "ok", started, &ended))

	runs, err := s.ListRunRecords(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFinished, runs[0].Status)
	require.NotNil(t, runs[0].EndedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
