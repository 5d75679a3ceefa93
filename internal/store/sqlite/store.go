// Package sqlite implements the persistence gateway on an embedded SQLite
// database. One database file holds the whole content tree of every forum
// crawled through it, which keeps resume state and audit snapshots in a
// single portable artifact.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"forumharvest/internal/model"
	"forumharvest/internal/store"
)

// Store is the SQLite-backed store.Gateway.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the database file at path and ensures the schema
// exists. The connection pool is pinned to a single connection; SQLite
// supports one writer and the crawl engine is single-threaded anyway.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: path}
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS forums (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		categories_crawled INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		forum_id TEXT NOT NULL REFERENCES forums(id),
		remote_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		slug TEXT NOT NULL DEFAULT '',
		topic_url TEXT NOT NULL DEFAULT '',
		raw BLOB,
		pages_crawled INTEGER NOT NULL DEFAULT 0,
		UNIQUE(forum_id, remote_id)
	);

	CREATE INDEX IF NOT EXISTS idx_categories_forum ON categories(forum_id);

	CREATE TABLE IF NOT EXISTS pages (
		id TEXT PRIMARY KEY,
		category_id TEXT NOT NULL REFERENCES categories(id),
		number INTEGER NOT NULL,
		more_topics_cursor TEXT,
		raw BLOB,
		UNIQUE(category_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_category ON pages(category_id);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		category_id TEXT NOT NULL REFERENCES categories(id),
		remote_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at TEXT,
		excerpt BLOB,
		full_json BLOB,
		posts_crawled INTEGER NOT NULL DEFAULT 0,
		last_crawled_at TEXT,
		UNIQUE(category_id, remote_id)
	);

	CREATE INDEX IF NOT EXISTS idx_topics_category ON topics(category_id);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL REFERENCES topics(id),
		remote_id INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		edited_at TEXT,
		raw BLOB,
		UNIQUE(topic_id, remote_id)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

// Timestamps are stored as UTC text with the fractional seconds padded to
// a fixed nine digits, so string comparison and lexical MAX() match
// chronological order. RFC3339Nano is unsuitable here: it trims trailing
// zeros, and "00:00:00Z" sorts after "00:00:00.5Z" ('Z' > '.').
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

// FindForum looks up a forum by base URL.
func (s *Store) FindForum(ctx context.Context, url string) (*model.Forum, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, categories_crawled FROM forums WHERE url = ?`, url)
	var f model.Forum
	if err := row.Scan(&f.ID, &f.URL, &f.CategoriesCrawled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find forum: %w", err)
	}
	return &f, nil
}

// CreateForum inserts a forum row, returning the existing row when the URL
// is already registered.
func (s *Store) CreateForum(ctx context.Context, f *model.Forum) (*model.Forum, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forums (id, url, categories_crawled) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		f.ID, f.URL, f.CategoriesCrawled)
	if err != nil {
		return nil, fmt.Errorf("create forum: %w", err)
	}
	return s.FindForum(ctx, f.URL)
}

// UpdateForum applies a partial update to a forum row.
func (s *Store) UpdateForum(ctx context.Context, id string, u store.ForumUpdate) error {
	if u.CategoriesCrawled == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE forums SET categories_crawled = ? WHERE id = ?`,
		*u.CategoriesCrawled, id)
	if err != nil {
		return fmt.Errorf("update forum: %w", err)
	}
	return nil
}

func scanCategory(scanner interface{ Scan(...any) error }) (*model.Category, error) {
	var c model.Category
	err := scanner.Scan(&c.ID, &c.ForumID, &c.RemoteID, &c.Name, &c.Slug, &c.TopicURL, &c.Raw, &c.PagesCrawled)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const categoryColumns = `id, forum_id, remote_id, name, slug, topic_url, raw, pages_crawled`

// FindCategoriesByForum lists every category of a forum in stable order.
func (s *Store) FindCategoriesByForum(ctx context.Context, forumID string) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE forum_id = ? ORDER BY remote_id`, forumID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var out []model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// FindCategory looks up a category by its natural key.
func (s *Store) FindCategory(ctx context.Context, forumID string, remoteID int64) (*model.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE forum_id = ? AND remote_id = ?`,
		forumID, remoteID)
	c, err := scanCategory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find category: %w", err)
	}
	return c, nil
}

// CreateCategory inserts a category, returning the existing row on a
// duplicate natural key.
func (s *Store) CreateCategory(ctx context.Context, c *model.Category) (*model.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, forum_id, remote_id, name, slug, topic_url, raw, pages_crawled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(forum_id, remote_id) DO NOTHING`,
		c.ID, c.ForumID, c.RemoteID, c.Name, c.Slug, c.TopicURL, c.Raw, c.PagesCrawled)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return s.FindCategory(ctx, c.ForumID, c.RemoteID)
}

// UpdateCategory applies a partial update to a category row.
func (s *Store) UpdateCategory(ctx context.Context, id string, u store.CategoryUpdate) error {
	if u.PagesCrawled == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE categories SET pages_crawled = ? WHERE id = ?`,
		*u.PagesCrawled, id)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return nil
}

// GetLastPage returns the highest-numbered stored page of a category.
func (s *Store) GetLastPage(ctx context.Context, categoryID string) (*model.Page, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category_id, number, more_topics_cursor, raw FROM pages
		 WHERE category_id = ? ORDER BY number DESC LIMIT 1`, categoryID)
	var (
		p      model.Page
		cursor sql.NullString
	)
	if err := row.Scan(&p.ID, &p.CategoryID, &p.Number, &cursor, &p.Raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get last page: %w", err)
	}
	p.MoreTopicsCursor = cursor.String
	return &p, nil
}

// CreatePage inserts a page row. Page numbers are unique per category;
// re-inserting an existing number is a no-op.
func (s *Store) CreatePage(ctx context.Context, p *model.Page) (*model.Page, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cursor := sql.NullString{String: p.MoreTopicsCursor, Valid: p.MoreTopicsCursor != ""}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (id, category_id, number, more_topics_cursor, raw)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(category_id, number) DO NOTHING`,
		p.ID, p.CategoryID, p.Number, cursor, p.Raw)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return p, nil
}

const topicColumns = `id, category_id, remote_id, title, created_at, excerpt, full_json, posts_crawled, last_crawled_at`

func scanTopic(scanner interface{ Scan(...any) error }) (*model.Topic, error) {
	var (
		t         model.Topic
		createdAt sql.NullString
		crawledAt sql.NullString
	)
	err := scanner.Scan(&t.ID, &t.CategoryID, &t.RemoteID, &t.Title, &createdAt, &t.Excerpt, &t.Full, &t.PostsCrawled, &crawledAt)
	if err != nil {
		return nil, err
	}
	created, err := decodeTime(createdAt)
	if err != nil {
		return nil, err
	}
	if created != nil {
		t.CreatedAt = *created
	}
	if t.LastCrawledAt, err = decodeTime(crawledAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTopic looks up a topic by its natural key.
func (s *Store) FindTopic(ctx context.Context, categoryID string, remoteID int64) (*model.Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE category_id = ? AND remote_id = ?`,
		categoryID, remoteID)
	t, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find topic: %w", err)
	}
	return t, nil
}

// CreateTopic inserts a topic, returning the existing row on a duplicate
// natural key.
func (s *Store) CreateTopic(ctx context.Context, t *model.Topic) (*model.Topic, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var createdAt sql.NullString
	if !t.CreatedAt.IsZero() {
		createdAt = sql.NullString{String: encodeTime(t.CreatedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, category_id, remote_id, title, created_at, excerpt, full_json, posts_crawled, last_crawled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(category_id, remote_id) DO NOTHING`,
		t.ID, t.CategoryID, t.RemoteID, t.Title, createdAt, t.Excerpt, t.Full, t.PostsCrawled, encodeTimePtr(t.LastCrawledAt))
	if err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return s.FindTopic(ctx, t.CategoryID, t.RemoteID)
}

// UpdateTopic applies a partial update to a topic row.
func (s *Store) UpdateTopic(ctx context.Context, id string, u store.TopicUpdate) error {
	if u.Full != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE topics SET full_json = ? WHERE id = ?`, u.Full, id); err != nil {
			return fmt.Errorf("update topic full: %w", err)
		}
	}
	if u.PostsCrawled != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE topics SET posts_crawled = ? WHERE id = ?`, *u.PostsCrawled, id); err != nil {
			return fmt.Errorf("update topic posts_crawled: %w", err)
		}
	}
	if u.LastCrawledAt != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE topics SET last_crawled_at = ? WHERE id = ?`, encodeTime(*u.LastCrawledAt), id); err != nil {
			return fmt.Errorf("update topic last_crawled_at: %w", err)
		}
	}
	return nil
}

// GetLatestTopicTimestamp returns the maximum topic creation timestamp
// stored under the forum.
func (s *Store) GetLatestTopicTimestamp(ctx context.Context, forumID string) (time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT MAX(t.created_at) FROM topics t
		 JOIN categories c ON t.category_id = c.id
		 WHERE c.forum_id = ?`, forumID)
	var raw sql.NullString
	if err := row.Scan(&raw); err != nil {
		return time.Time{}, fmt.Errorf("latest topic timestamp: %w", err)
	}
	t, err := decodeTime(raw)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, store.ErrNotFound
	}
	return *t, nil
}

// GetTopicsByCategory lists a category's topics by descending remote id.
func (s *Store) GetTopicsByCategory(ctx context.Context, categoryID string) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE category_id = ? ORDER BY remote_id DESC`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var out []model.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return out, nil
}

// FindPost looks up a post by its natural key.
func (s *Store) FindPost(ctx context.Context, topicID string, remoteID int64) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic_id, remote_id, version, edited_at, raw FROM posts
		 WHERE topic_id = ? AND remote_id = ?`, topicID, remoteID)
	var (
		p        model.Post
		editedAt sql.NullString
	)
	if err := row.Scan(&p.ID, &p.TopicID, &p.RemoteID, &p.Version, &editedAt, &p.Raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find post: %w", err)
	}
	var err error
	if p.EditedAt, err = decodeTime(editedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePost inserts a post, returning the existing row on a duplicate
// natural key.
func (s *Store) CreatePost(ctx context.Context, p *model.Post) (*model.Post, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, topic_id, remote_id, version, edited_at, raw)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(topic_id, remote_id) DO NOTHING`,
		p.ID, p.TopicID, p.RemoteID, p.Version, encodeTimePtr(p.EditedAt), p.Raw)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return s.FindPost(ctx, p.TopicID, p.RemoteID)
}

// UpdatePostIfNewer overwrites a post snapshot only when the incoming edit
// is newer than the stored one. The edit-version comparison governs;
// a later edit timestamp also wins when the version does not regress.
func (s *Store) UpdatePostIfNewer(ctx context.Context, id string, version int, editedAt *time.Time, raw []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET version = ?, edited_at = ?, raw = ?
		 WHERE id = ?
		   AND (version < ?
		        OR (? IS NOT NULL AND (edited_at IS NULL OR edited_at < ?)))`,
		version, encodeTimePtr(editedAt), raw,
		id,
		version, encodeTimePtr(editedAt), encodeTimePtr(editedAt))
	if err != nil {
		return false, fmt.Errorf("update post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update post rows affected: %w", err)
	}
	return n > 0, nil
}

// ResetCrawledState clears every crawled flag under the forum in one
// transaction, so a killed reset never leaves the hierarchy half-cleared.
func (s *Store) ResetCrawledState(ctx context.Context, forumID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE forums SET categories_crawled = 0 WHERE id = ?`, forumID); err != nil {
		return fmt.Errorf("reset forum: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE categories SET pages_crawled = 0 WHERE forum_id = ?`, forumID); err != nil {
		return fmt.Errorf("reset categories: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE topics SET posts_crawled = 0, last_crawled_at = NULL
		 WHERE category_id IN (SELECT id FROM categories WHERE forum_id = ?)`, forumID); err != nil {
		return fmt.Errorf("reset topics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// Query runs a parameterized read and returns the rows as generic maps.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query scan: %w", err)
		}
		rec := make(map[string]any, len(cols))
		for i, col := range cols {
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	return out, nil
}
