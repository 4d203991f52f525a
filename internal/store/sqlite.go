package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/newswatch/internal/db"
	"github.com/sells-group/newswatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS candidates (
	id              INTEGER PRIMARY KEY,
	name            TEXT NOT NULL,
	topic_id        TEXT,
	keywords        TEXT NOT NULL DEFAULT '',
	daily_pass      INTEGER NOT NULL DEFAULT 0,
	historical_pass INTEGER NOT NULL DEFAULT 0,
	active          INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS news_items (
	key          TEXT NOT NULL,
	candidate_id INTEGER NOT NULL,
	source_id    TEXT NOT NULL,
	headline     TEXT NOT NULL,
	outlet       TEXT NOT NULL,
	link         TEXT NOT NULL,
	source_href  TEXT NOT NULL DEFAULT '',
	published_at DATETIME NOT NULL,
	year         INTEGER NOT NULL,
	month        INTEGER NOT NULL,
	day          INTEGER NOT NULL,
	hour         INTEGER NOT NULL,
	minute       INTEGER NOT NULL,
	weekday      INTEGER NOT NULL,
	day_of_year  INTEGER NOT NULL,
	topic        TEXT,
	sentiment    TEXT CHECK (sentiment IN ('Positive', 'Negative', 'Neutral')),
	enriched_at  DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (key, candidate_id),
	UNIQUE (candidate_id, link),
	CHECK ((topic IS NULL) = (sentiment IS NULL) AND (topic IS NULL) = (enriched_at IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_news_items_pending ON news_items(published_at DESC) WHERE enriched_at IS NULL;

CREATE TABLE IF NOT EXISTS model_quota (
	model TEXT NOT NULL,
	date  TEXT NOT NULL,
	calls INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (model, date)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	process    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	message    TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	ended_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Candidates ---

func (s *SQLiteStore) UpsertCandidate(ctx context.Context, c model.Candidate) error {
	q, err := db.UpsertSQL(db.SQLite, candidateUpsert)
	if err != nil {
		return eris.Wrap(err, "sqlite: build candidate upsert")
	}
	_, err = s.db.ExecContext(ctx, q, c.ID, c.Name, c.TopicID, joinKeywords(c.Keywords), c.Active)
	return eris.Wrapf(err, "sqlite: upsert candidate %d", c.ID)
}

func (s *SQLiteStore) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidates ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		c, err := scanSQLiteCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate candidates")
}

func (s *SQLiteStore) NextCandidate(ctx context.Context, filter CandidateFilter) (*model.Candidate, error) {
	col, err := passColumn(filter.Pass)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE ` + col +
		` = 0 AND active = 1 AND topic_id IS NOT NULL AND topic_id <> ''`
	args := make([]any, 0, len(filter.IDs))
	if len(filter.IDs) > 0 {
		marks := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			marks[i] = "?"
			args = append(args, id)
		}
		query += ` AND id IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY id LIMIT 1`

	c, err := scanSQLiteCandidate(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) SetPassFlag(ctx context.Context, candidateID int64, pass model.Pass, done bool) error {
	col, err := passColumn(pass)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE candidates SET `+col+` = ? WHERE id = ?`, done, candidateID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set %s for candidate %d", col, candidateID)
	}
	return checkRowsAffected(res, "candidate", candidateID)
}

func (s *SQLiteStore) ResetPassFlags(ctx context.Context, pass model.Pass) (int, error) {
	col, err := passColumn(pass)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE candidates SET `+col+` = 0 WHERE `+col+` <> 0`)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reset %s", col)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

// --- News items ---

func (s *SQLiteStore) NewsItemExists(ctx context.Context, key string, candidateID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM news_items WHERE key = ? AND candidate_id = ?`, key, candidateID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: probe news item %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) InsertNewsItem(ctx context.Context, item model.NewsItem) error {
	cal := item.Calendar
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO news_items (key, candidate_id, source_id, headline, outlet, link, source_href,
			published_at, year, month, day, hour, minute, weekday, day_of_year)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Key, item.CandidateID, item.SourceID, item.Headline, item.Outlet, item.Link, item.SourceHref,
		item.PublishedAt.UTC(), cal.Year, cal.Month, cal.Day, cal.Hour, cal.Minute, cal.Weekday, cal.DayOfYear,
	)
	if isSQLiteUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: insert news item %s", item.Key)
	}
	return eris.Wrapf(err, "sqlite: insert news item %s", item.Key)
}

func (s *SQLiteStore) GetNewsItem(ctx context.Context, key string, candidateID int64) (*model.NewsItem, error) {
	var (
		it         model.NewsItem
		topic      sql.NullString
		sentiment  sql.NullString
		enrichedAt sql.NullTime
	)
	cal := &it.Calendar
	err := s.db.QueryRowContext(ctx,
		`SELECT key, candidate_id, source_id, headline, outlet, link, source_href, published_at,
			year, month, day, hour, minute, weekday, day_of_year, topic, sentiment, enriched_at
		FROM news_items WHERE key = ? AND candidate_id = ?`, key, candidateID,
	).Scan(&it.Key, &it.CandidateID, &it.SourceID, &it.Headline, &it.Outlet, &it.Link, &it.SourceHref,
		&it.PublishedAt, &cal.Year, &cal.Month, &cal.Day, &cal.Hour, &cal.Minute, &cal.Weekday, &cal.DayOfYear,
		&topic, &sentiment, &enrichedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: news item %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get news item %s", key)
	}
	if enrichedAt.Valid {
		it.Enrichment = &model.Enrichment{
			Topic:      topic.String,
			Sentiment:  model.Sentiment(sentiment.String),
			EnrichedAt: enrichedAt.Time,
		}
	}
	return &it, nil
}

func (s *SQLiteStore) CountNewsItems(ctx context.Context, candidateID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM news_items WHERE candidate_id = ?`, candidateID,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count news items")
}

func (s *SQLiteStore) ListUnenriched(ctx context.Context, offset, limit int) ([]model.PendingItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.key, n.candidate_id, c.name, n.headline, n.published_at
		FROM news_items n JOIN candidates c ON c.id = n.candidate_id
		WHERE n.enriched_at IS NULL
		ORDER BY n.published_at DESC, n.key, n.candidate_id
		LIMIT ? OFFSET ?`, defaultLimit(limit, 250), max(offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unenriched")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PendingItem
	for rows.Next() {
		var p model.PendingItem
		if err := rows.Scan(&p.Key, &p.CandidateID, &p.CandidateName, &p.Headline, &p.PublishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending item")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate unenriched")
}

func (s *SQLiteStore) SetEnrichment(ctx context.Context, key string, candidateID int64, e model.Enrichment) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE news_items SET topic = ?, sentiment = ?, enriched_at = ?
		WHERE key = ? AND candidate_id = ? AND enriched_at IS NULL`,
		e.Topic, string(e.Sentiment), e.EnrichedAt.UTC(), key, candidateID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set enrichment %s", key)
	}
	return checkRowsAffected(res, "unenriched news item", key)
}

// --- Model quota ---

func (s *SQLiteStore) QuotaCalls(ctx context.Context, modelName, date string) (int, error) {
	var calls int
	err := s.db.QueryRowContext(ctx,
		`SELECT calls FROM model_quota WHERE model = ? AND date = ?`, modelName, date,
	).Scan(&calls)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return calls, eris.Wrapf(err, "sqlite: quota calls %s", modelName)
}

func (s *SQLiteStore) IncrementQuota(ctx context.Context, modelName, date string) (int, error) {
	var calls int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO model_quota (model, date, calls) VALUES (?, ?, 1)
		ON CONFLICT (model, date) DO UPDATE SET calls = model_quota.calls + 1
		RETURNING calls`, modelName, date,
	).Scan(&calls)
	return calls, eris.Wrapf(err, "sqlite: increment quota %s", modelName)
}

func (s *SQLiteStore) ListQuota(ctx context.Context, date string) ([]model.QuotaCounter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, date, calls FROM model_quota WHERE date = ? ORDER BY model`, date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quota")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.QuotaCounter
	for rows.Next() {
		var q model.QuotaCounter
		if err := rows.Scan(&q.Model, &q.Date, &q.Calls); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quota")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate quota")
}

// --- Run ledger ---

func (s *SQLiteStore) CreateRunRecord(ctx context.Context, r model.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, process, status, message, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Process, string(r.Status), r.Message, r.StartedAt.UTC(), utcPtr(r.EndedAt),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", r.ID)
}

// FinishRunRecord sets the final status. An error status is sticky: once
// recorded, later calls only fill in a missing end time.
func (s *SQLiteStore) FinishRunRecord(ctx context.Context, id string, status model.RunStatus, message string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET
			status = CASE WHEN status = 'error' THEN status ELSE ? END,
			message = CASE WHEN status = 'error' THEN message ELSE ? END,
			ended_at = COALESCE(ended_at, ?)
		WHERE id = ?`,
		string(status), message, endedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) GetRunRecord(ctx context.Context, id string) (*model.RunRecord, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", id)
	}
	return r, err
}

func (s *SQLiteStore) ListRunRecords(ctx context.Context, limit int) ([]model.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, defaultLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunRecord
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// --- helpers ---

const (
	candidateColumns = `id, name, topic_id, keywords, daily_pass, historical_pass, active`
	runColumns       = `id, process, status, message, started_at, ended_at`
)

var candidateUpsert = db.UpsertConfig{
	Table:        "candidates",
	Columns:      []string{"id", "name", "topic_id", "keywords", "active"},
	ConflictKeys: []string{"id"},
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteCandidate(row scannable) (*model.Candidate, error) {
	var (
		c        model.Candidate
		topicID  sql.NullString
		keywords string
	)
	if err := row.Scan(&c.ID, &c.Name, &topicID, &keywords, &c.DailyPass, &c.HistoricalPass, &c.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan candidate")
	}
	if topicID.Valid {
		c.TopicID = &topicID.String
	}
	c.Keywords = splitKeywords(keywords)
	return &c, nil
}

func scanSQLiteRun(row scannable) (*model.RunRecord, error) {
	var (
		r       model.RunRecord
		endedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Process, &r.Status, &r.Message, &r.StartedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
