package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/newswatch/internal/db"
	"github.com/sells-group/newswatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Connections are short-lived per operation; keep the pool small.
	maxConns := int32(4)
	minConns := int32(0)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership of it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS candidates (
	id              BIGINT PRIMARY KEY,
	name            TEXT NOT NULL,
	topic_id        TEXT,
	keywords        TEXT NOT NULL DEFAULT '',
	daily_pass      BOOLEAN NOT NULL DEFAULT false,
	historical_pass BOOLEAN NOT NULL DEFAULT false,
	active          BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS news_items (
	key          TEXT NOT NULL,
	candidate_id BIGINT NOT NULL REFERENCES candidates(id),
	source_id    TEXT NOT NULL,
	headline     TEXT NOT NULL,
	outlet       TEXT NOT NULL,
	link         TEXT NOT NULL,
	source_href  TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL,
	year         SMALLINT NOT NULL,
	month        SMALLINT NOT NULL,
	day          SMALLINT NOT NULL,
	hour         SMALLINT NOT NULL,
	minute       SMALLINT NOT NULL,
	weekday      SMALLINT NOT NULL,
	day_of_year  SMALLINT NOT NULL,
	topic        TEXT,
	sentiment    TEXT CHECK (sentiment IN ('Positive', 'Negative', 'Neutral')),
	enriched_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (key, candidate_id),
	UNIQUE (candidate_id, link),
	CHECK ((topic IS NULL) = (sentiment IS NULL) AND (topic IS NULL) = (enriched_at IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_news_items_pending ON news_items(published_at DESC) WHERE enriched_at IS NULL;

CREATE TABLE IF NOT EXISTS model_quota (
	model TEXT NOT NULL,
	date  DATE NOT NULL,
	calls INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (model, date)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	process    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	message    TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Candidates ---

func (s *PostgresStore) UpsertCandidate(ctx context.Context, c model.Candidate) error {
	q, err := db.UpsertSQL(db.Postgres, candidateUpsert)
	if err != nil {
		return eris.Wrap(err, "postgres: build candidate upsert")
	}
	_, err = s.pool.Exec(ctx, q, c.ID, c.Name, c.TopicID, joinKeywords(c.Keywords), c.Active)
	return eris.Wrapf(err, "postgres: upsert candidate %d", c.ID)
}

func (s *PostgresStore) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+candidateColumns+` FROM candidates ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		c, err := scanPgCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate candidates")
}

func (s *PostgresStore) NextCandidate(ctx context.Context, filter CandidateFilter) (*model.Candidate, error) {
	col, err := passColumn(filter.Pass)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE NOT ` + col +
		` AND active AND topic_id IS NOT NULL AND topic_id <> ''`
	var args []any
	if len(filter.IDs) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, filter.IDs)
	}
	query += ` ORDER BY id LIMIT 1`

	c, err := scanPgCandidate(s.pool.QueryRow(ctx, query, args...))
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) SetPassFlag(ctx context.Context, candidateID int64, pass model.Pass, done bool) error {
	col, err := passColumn(pass)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE candidates SET `+col+` = $1 WHERE id = $2`, done, candidateID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set %s for candidate %d", col, candidateID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "candidate %d", candidateID)
	}
	return nil
}

func (s *PostgresStore) ResetPassFlags(ctx context.Context, pass model.Pass) (int, error) {
	col, err := passColumn(pass)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE candidates SET `+col+` = false WHERE `+col)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reset %s", col)
	}
	return int(tag.RowsAffected()), nil
}

// --- News items ---

func (s *PostgresStore) NewsItemExists(ctx context.Context, key string, candidateID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM news_items WHERE key = $1 AND candidate_id = $2)`, key, candidateID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: probe news item %s", key)
	}
	return exists, nil
}

func (s *PostgresStore) InsertNewsItem(ctx context.Context, item model.NewsItem) error {
	cal := item.Calendar
	_, err := s.pool.Exec(ctx,
		`INSERT INTO news_items (key, candidate_id, source_id, headline, outlet, link, source_href,
			published_at, year, month, day, hour, minute, weekday, day_of_year)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		item.Key, item.CandidateID, item.SourceID, item.Headline, item.Outlet, item.Link, item.SourceHref,
		item.PublishedAt.UTC(), cal.Year, cal.Month, cal.Day, cal.Hour, cal.Minute, cal.Weekday, cal.DayOfYear,
	)
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: insert news item %s", item.Key)
	}
	return eris.Wrapf(err, "postgres: insert news item %s", item.Key)
}

func (s *PostgresStore) GetNewsItem(ctx context.Context, key string, candidateID int64) (*model.NewsItem, error) {
	var (
		it         model.NewsItem
		topic      *string
		sentiment  *string
		enrichedAt *time.Time
	)
	cal := &it.Calendar
	err := s.pool.QueryRow(ctx,
		`SELECT key, candidate_id, source_id, headline, outlet, link, source_href, published_at,
			year, month, day, hour, minute, weekday, day_of_year, topic, sentiment, enriched_at
		FROM news_items WHERE key = $1 AND candidate_id = $2`, key, candidateID,
	).Scan(&it.Key, &it.CandidateID, &it.SourceID, &it.Headline, &it.Outlet, &it.Link, &it.SourceHref,
		&it.PublishedAt, &cal.Year, &cal.Month, &cal.Day, &cal.Hour, &cal.Minute, &cal.Weekday, &cal.DayOfYear,
		&topic, &sentiment, &enrichedAt)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: news item %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get news item %s", key)
	}
	if enrichedAt != nil && topic != nil && sentiment != nil {
		it.Enrichment = &model.Enrichment{
			Topic:      *topic,
			Sentiment:  model.Sentiment(*sentiment),
			EnrichedAt: *enrichedAt,
		}
	}
	return &it, nil
}

func (s *PostgresStore) CountNewsItems(ctx context.Context, candidateID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM news_items WHERE candidate_id = $1`, candidateID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count news items")
}

func (s *PostgresStore) ListUnenriched(ctx context.Context, offset, limit int) ([]model.PendingItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT n.key, n.candidate_id, c.name, n.headline, n.published_at
		FROM news_items n JOIN candidates c ON c.id = n.candidate_id
		WHERE n.enriched_at IS NULL
		ORDER BY n.published_at DESC, n.key, n.candidate_id
		LIMIT $1 OFFSET $2`, defaultLimit(limit, 250), max(offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unenriched")
	}
	defer rows.Close()

	var out []model.PendingItem
	for rows.Next() {
		var p model.PendingItem
		if err := rows.Scan(&p.Key, &p.CandidateID, &p.CandidateName, &p.Headline, &p.PublishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending item")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate unenriched")
}

func (s *PostgresStore) SetEnrichment(ctx context.Context, key string, candidateID int64, e model.Enrichment) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE news_items SET topic = $1, sentiment = $2, enriched_at = $3
		WHERE key = $4 AND candidate_id = $5 AND enriched_at IS NULL`,
		e.Topic, string(e.Sentiment), e.EnrichedAt.UTC(), key, candidateID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set enrichment %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "unenriched news item %s", key)
	}
	return nil
}

// --- Model quota ---

func (s *PostgresStore) QuotaCalls(ctx context.Context, modelName, date string) (int, error) {
	var calls int
	err := s.pool.QueryRow(ctx,
		`SELECT calls FROM model_quota WHERE model = $1 AND date = $2::date`, modelName, date,
	).Scan(&calls)
	if eris.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return calls, eris.Wrapf(err, "postgres: quota calls %s", modelName)
}

func (s *PostgresStore) IncrementQuota(ctx context.Context, modelName, date string) (int, error) {
	var calls int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO model_quota (model, date, calls) VALUES ($1, $2::date, 1)
		ON CONFLICT (model, date) DO UPDATE SET calls = model_quota.calls + 1
		RETURNING calls`, modelName, date,
	).Scan(&calls)
	return calls, eris.Wrapf(err, "postgres: increment quota %s", modelName)
}

func (s *PostgresStore) ListQuota(ctx context.Context, date string) ([]model.QuotaCounter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT model, to_char(date, 'YYYY-MM-DD'), calls FROM model_quota WHERE date = $1::date ORDER BY model`, date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quota")
	}
	defer rows.Close()

	var out []model.QuotaCounter
	for rows.Next() {
		var q model.QuotaCounter
		if err := rows.Scan(&q.Model, &q.Date, &q.Calls); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quota")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate quota")
}

// --- Run ledger ---

func (s *PostgresStore) CreateRunRecord(ctx context.Context, r model.RunRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, process, status, message, started_at, ended_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Process, string(r.Status), r.Message, r.StartedAt.UTC(), r.EndedAt,
	)
	return eris.Wrapf(err, "postgres: insert run %s", r.ID)
}

func (s *PostgresStore) FinishRunRecord(ctx context.Context, id string, status model.RunStatus, message string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET
			status = CASE WHEN status = 'error' THEN status ELSE $1 END,
			message = CASE WHEN status = 'error' THEN message ELSE $2 END,
			ended_at = COALESCE(ended_at, $3)
		WHERE id = $4`,
		string(status), message, endedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

func (s *PostgresStore) GetRunRecord(ctx context.Context, id string) (*model.RunRecord, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", id)
	}
	return r, err
}

func (s *PostgresStore) ListRunRecords(ctx context.Context, limit int) ([]model.RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM runs ORDER BY started_at DESC LIMIT $1`, runColumns), defaultLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func scanPgCandidate(row scannable) (*model.Candidate, error) {
	var (
		c        model.Candidate
		keywords string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.TopicID, &keywords, &c.DailyPass, &c.HistoricalPass, &c.Active); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan candidate")
	}
	if c.TopicID != nil && strings.TrimSpace(*c.TopicID) == "" {
		c.TopicID = nil
	}
	c.Keywords = splitKeywords(keywords)
	return &c, nil
}

func scanPgRun(row scannable) (*model.RunRecord, error) {
	var r model.RunRecord
	if err := row.Scan(&r.ID, &r.Process, &r.Status, &r.Message, &r.StartedAt, &r.EndedAt); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	return &r, nil
}
