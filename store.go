package postxfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/eringen/postxfer/transfer"
)

// Store wraps a SQLite database holding content records, their metadata,
// taxonomy terms and the media library. It implements transfer.Store.
type Store struct {
	db    *sql.DB
	media MediaLibrary
}

var _ transfer.Store = (*Store)(nil)

// MediaLibrary locates media files on disk and on the web.
type MediaLibrary struct {
	Dir     string // directory holding uploaded files
	BaseURL string // public URL prefix of Dir, e.g. "https://example.com/public/uploads"
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// and media directories exist, and runs schema migrations.
func NewStore(path string, media MediaLibrary) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if media.Dir != "" {
		if err := os.MkdirAll(media.Dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the admin UI read while an import writes; writers wait on
	// busy instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db, media: media}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    excerpt TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft',
    type TEXT NOT NULL DEFAULT 'post',
    slug TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL DEFAULT '',
    date_gmt TEXT NOT NULL DEFAULT '',
    comment_status TEXT NOT NULL DEFAULT 'open',
    ping_status TEXT NOT NULL DEFAULT 'open',
    password TEXT NOT NULL DEFAULT '',
    menu_order INTEGER NOT NULL DEFAULT 0,
    featured_media_id INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS post_meta (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    meta_key TEXT NOT NULL,
    meta_value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_post_meta_post_key ON post_meta(post_id, meta_key);
CREATE TABLE IF NOT EXISTS taxonomies (
    name TEXT NOT NULL,
    object_type TEXT NOT NULL,
    PRIMARY KEY (name, object_type)
);
CREATE TABLE IF NOT EXISTS terms (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    taxonomy TEXT NOT NULL,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    UNIQUE (taxonomy, slug)
);
CREATE TABLE IF NOT EXISTS term_relationships (
    post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    term_id INTEGER NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
    term_order INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (post_id, term_id)
);
CREATE TABLE IF NOT EXISTS media (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL UNIQUE,
    original_name TEXT NOT NULL,
    mime_type TEXT NOT NULL,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    size INTEGER NOT NULL,
    hash TEXT NOT NULL,
    uploaded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_fingerprint ON media(size, hash);
INSERT OR IGNORE INTO taxonomies (name, object_type) VALUES ('category', 'post'), ('post_tag', 'post');
`)
	return err
}

const postColumns = `id, title, content, excerpt, status, type, slug, author, date, date_gmt,
	comment_status, ping_status, password, menu_order, featured_media_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (transfer.Post, error) {
	var p transfer.Post
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Excerpt, &p.Status, &p.Type, &p.Slug,
		&p.Author, &p.Date, &p.DateGMT, &p.CommentStatus, &p.PingStatus, &p.Password,
		&p.MenuOrder, &p.FeaturedMediaID)
	return p, err
}

// CreatePost inserts a new record and returns its id. p.ID is ignored.
func (s *Store) CreatePost(ctx context.Context, p transfer.Post) (int64, error) {
	if p.Status == "" {
		p.Status = transfer.StatusDraft
	}
	if p.Type == "" {
		p.Type = "post"
	}
	if p.CommentStatus == "" {
		p.CommentStatus = "open"
	}
	if p.PingStatus == "" {
		p.PingStatus = "open"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO posts (title, content, excerpt, status, type, slug, author,
		date, date_gmt, comment_status, ping_status, password, menu_order, featured_media_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.Content, p.Excerpt, p.Status, p.Type, p.Slug, p.Author, p.Date, p.DateGMT,
		p.CommentStatus, p.PingStatus, p.Password, p.MenuOrder, p.FeaturedMediaID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListPosts returns every record, newest first.
func (s *Store) ListPosts(ctx context.Context) ([]transfer.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []transfer.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPost returns a record by id. A missing record yields an error wrapping
// transfer.ErrNotFound.
func (s *Store) GetPost(ctx context.Context, id int64) (transfer.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Post{}, fmt.Errorf("post %d: %w", id, transfer.ErrNotFound)
	}
	return p, err
}

// UpdatePost writes the non-nil fields of u to record id.
func (s *Store) UpdatePost(ctx context.Context, id int64, u transfer.PostUpdate) error {
	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.Content != nil {
		set("content", *u.Content)
	}
	if u.Excerpt != nil {
		set("excerpt", *u.Excerpt)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	if u.Slug != nil {
		set("slug", *u.Slug)
	}
	if u.Date != nil {
		set("date", *u.Date)
	}
	if u.DateGMT != nil {
		set("date_gmt", *u.DateGMT)
	}
	if u.CommentStatus != nil {
		set("comment_status", *u.CommentStatus)
	}
	if u.PingStatus != nil {
		set("ping_status", *u.PingStatus)
	}
	if u.Password != nil {
		set("password", *u.Password)
	}
	if u.MenuOrder != nil {
		set("menu_order", *u.MenuOrder)
	}
	if u.FeaturedMediaID != nil {
		set("featured_media_id", *u.FeaturedMediaID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("post %d: %w", id, transfer.ErrNotFound)
	}
	return nil
}

// ListMeta returns every metadata entry of a record in insertion order.
func (s *Store) ListMeta(ctx context.Context, postID int64) ([]transfer.MetaEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT meta_key, meta_value FROM post_meta WHERE post_id = ? ORDER BY id`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []transfer.MetaEntry
	for rows.Next() {
		var m transfer.MetaEntry
		if err := rows.Scan(&m.Key, &m.Value); err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

// DeleteMeta removes all values of key from a record.
func (s *Store) DeleteMeta(ctx context.Context, postID int64, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM post_meta WHERE post_id = ? AND meta_key = ?`, postID, key)
	return err
}

// AddMeta appends one value under key; existing values are kept.
func (s *Store) AddMeta(ctx context.Context, postID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)`, postID, key, value)
	return err
}

// RegisterTaxonomy makes taxonomy available to records of objectType.
func (s *Store) RegisterTaxonomy(ctx context.Context, taxonomy, objectType string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO taxonomies (name, object_type) VALUES (?, ?)`, taxonomy, objectType)
	return err
}

// TaxonomiesFor lists the taxonomies registered for postType, sorted by name.
func (s *Store) TaxonomiesFor(ctx context.Context, postType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM taxonomies WHERE object_type = ? ORDER BY name`, postType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PostTerms returns the terms of taxonomy assigned to a record, in
// assignment order.
func (s *Store) PostTerms(ctx context.Context, postID int64, taxonomy string) ([]transfer.Term, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT t.id, t.taxonomy, t.name, t.slug
		FROM term_relationships tr JOIN terms t ON t.id = tr.term_id
		WHERE tr.post_id = ? AND t.taxonomy = ?
		ORDER BY tr.term_order, t.name`, postID, taxonomy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []transfer.Term
	for rows.Next() {
		var t transfer.Term
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// FindTermBySlug looks a term up by its slug.
func (s *Store) FindTermBySlug(ctx context.Context, taxonomy, slug string) (transfer.Term, bool, error) {
	return s.findTerm(ctx, `SELECT id, taxonomy, name, slug FROM terms WHERE taxonomy = ? AND slug = ?`, taxonomy, slug)
}

// FindTermByName looks a term up by its display name.
func (s *Store) FindTermByName(ctx context.Context, taxonomy, name string) (transfer.Term, bool, error) {
	return s.findTerm(ctx, `SELECT id, taxonomy, name, slug FROM terms WHERE taxonomy = ? AND name = ? ORDER BY id LIMIT 1`, taxonomy, name)
}

func (s *Store) findTerm(ctx context.Context, query string, args ...any) (transfer.Term, bool, error) {
	var t transfer.Term
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Term{}, false, nil
	}
	if err != nil {
		return transfer.Term{}, false, err
	}
	return t, true, nil
}

// CreateTerm adds a term to taxonomy. Slugs are unique within a taxonomy.
func (s *Store) CreateTerm(ctx context.Context, taxonomy, name, slug string) (transfer.Term, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO terms (taxonomy, name, slug) VALUES (?, ?, ?)`, taxonomy, name, slug)
	if err != nil {
		return transfer.Term{}, fmt.Errorf("create %s term %q: %w", taxonomy, slug, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return transfer.Term{}, err
	}
	return transfer.Term{ID: id, Taxonomy: taxonomy, Name: name, Slug: slug}, nil
}

// SetPostTerms replaces the record's assignments in taxonomy with termIDs,
// keeping their order. Other taxonomies are untouched.
func (s *Store) SetPostTerms(ctx context.Context, postID int64, taxonomy string, termIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM term_relationships WHERE post_id = ?
		AND term_id IN (SELECT id FROM terms WHERE taxonomy = ?)`, postID, taxonomy); err != nil {
		return err
	}
	for i, id := range termIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO term_relationships (post_id, term_id, term_order)
			SELECT ?, id, ? FROM terms WHERE id = ? AND taxonomy = ?`, postID, i, id, taxonomy); err != nil {
			return err
		}
	}
	return tx.Commit()
}
