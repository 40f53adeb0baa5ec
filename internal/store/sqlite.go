package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragcourse/internal/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    seq          INTEGER PRIMARY KEY,
    id           TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    content      TEXT,
    url          TEXT NOT NULL,
    publish_date TEXT NOT NULL DEFAULT 'Unknown',
    crawl_date   TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL,
    depth        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url);
CREATE INDEX IF NOT EXISTS idx_articles_id ON articles(id);

CREATE VIRTUAL TABLE IF NOT EXISTS articles_fts USING fts5(
    title,
    content,
    summary,
    content='articles',
    content_rowid='seq'
);

CREATE TRIGGER IF NOT EXISTS articles_ai AFTER INSERT ON articles BEGIN
    INSERT INTO articles_fts(rowid, title, content, summary)
    VALUES (new.seq, new.title, new.content, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS articles_ad AFTER DELETE ON articles BEGIN
    INSERT INTO articles_fts(articles_fts, rowid, title, content, summary)
    VALUES ('delete', old.seq, old.title, old.content, old.summary);
END;
CREATE TRIGGER IF NOT EXISTS articles_au AFTER UPDATE OF title, content, summary ON articles BEGIN
    INSERT INTO articles_fts(articles_fts, rowid, title, content, summary)
    VALUES ('delete', old.seq, old.title, old.content, old.summary);
    INSERT INTO articles_fts(rowid, title, content, summary)
    VALUES (new.seq, new.title, new.content, new.summary);
END;
`

const articleColumns = `a.seq, a.id, a.title, COALESCE(a.content, '') AS content, a.url,
       a.publish_date, a.crawl_date, a.summary, a.depth`

// articleRow carries the FTS rowid alongside the article for tie-breaking.
type articleRow struct {
	Seq int64 `db:"seq"`
	model.Article
}

// SQLiteStore keeps articles in SQLite with an FTS5 index over title,
// content and summary.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used for time-biased ranking.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore opens the database at path and creates the schema if needed.
// Pass MemoryPath for a throwaway in-memory store.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	dsn := path
	if path != MemoryPath {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: keeps :memory: a single database and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// createSchema is idempotent.
func (s *SQLiteStore) createSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert adds a row. An unset ID is assigned here.
func (s *SQLiteStore) Insert(ctx context.Context, article *model.Article) error {
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}

	query := `
		INSERT INTO articles (id, title, content, url, publish_date, crawl_date, summary, depth)
		VALUES (:id, :title, :content, :url, :publish_date, :crawl_date, :summary, :depth)
	`
	if _, err := s.db.NamedExecContext(ctx, query, article); err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

// Exists reports whether any row has the given URL.
func (s *SQLiteStore) Exists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM articles WHERE url = ?)`, url)
	if err != nil {
		return false, fmt.Errorf("check article exists: %w", err)
	}
	return exists, nil
}

// DepthOf returns the stored depth for url. ok is false when no row exists.
func (s *SQLiteStore) DepthOf(ctx context.Context, url string) (int, bool, error) {
	var depth sql.NullInt64
	err := s.db.GetContext(ctx, &depth, `SELECT MAX(depth) FROM articles WHERE url = ?`, url)
	if err != nil {
		return 0, false, fmt.Errorf("get article depth: %w", err)
	}
	if !depth.Valid {
		return 0, false, nil
	}
	return int(depth.Int64), true, nil
}

// UpgradeDepth raises the stored depth of url to depth. Rows already at or
// above depth are left alone, so depth never decreases. It reports whether
// any row changed.
func (s *SQLiteStore) UpgradeDepth(ctx context.Context, url string, depth int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE articles SET depth = ? WHERE url = ? AND depth < ?`, depth, url, depth)
	if err != nil {
		return false, fmt.Errorf("upgrade article depth: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upgrade article depth: %w", err)
	}
	return n > 0, nil
}

// Get returns the article with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	var row articleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+articleColumns+` FROM articles a WHERE a.id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return &row.Article, nil
}

// Count returns the number of rows with content.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM articles WHERE content IS NOT NULL`); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// Search runs query against the full-text index and returns at most limit
// articles ordered by time-biased relevance. A query the index rejects is
// replaced through the recovery func, if one is set, and retried.
func (s *SQLiteStore) Search(ctx context.Context, query string, opts ...SearchOption) ([]model.Article, error) {
	o := applySearchOptions(opts...)
	if o.alpha <= 0 {
		return nil, fmt.Errorf("time bias alpha must be positive, got %v", o.alpha)
	}

	for attempt := 1; ; attempt++ {
		rows, err := s.match(ctx, query, candidatePool(o.limit))
		if err == nil {
			return rankByTime(rows, o.alpha, o.limit, s.now()), nil
		}
		if !errors.Is(err, ErrMalformedQuery) || o.recovery == nil || attempt >= o.maxAttempts {
			return nil, err
		}

		query, err = o.recovery(ctx)
		if err != nil {
			return nil, fmt.Errorf("recover search query: %w", err)
		}
	}
}

func (s *SQLiteStore) match(ctx context.Context, query string, limit int) ([]articleRow, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrMalformedQuery)
	}

	sqlQuery := `
		SELECT ` + articleColumns + `, bm25(articles_fts) AS relevance
		FROM articles_fts
		JOIN articles a ON a.seq = articles_fts.rowid
		WHERE articles_fts MATCH ?
		ORDER BY relevance ASC, a.seq ASC
		LIMIT ?
	`
	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, sqlQuery, query, limit); err != nil {
		if isQueryRejection(err) {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedQuery, query, err)
		}
		return nil, fmt.Errorf("search articles: %w", err)
	}
	return rows, nil
}

var rejectionMarkers = []string{
	"fts5",
	"syntax error",
	"no such column",
	"unterminated string",
	"unknown special query",
}

// isQueryRejection reports whether err came from the FTS5 query parser
// rather than from the database itself.
func isQueryRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range rejectionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
