// Package dbindex maintains the relational index: a SQLite database kept in
// sync with each book's bundle so readers can query by genre, author, or
// status without opening every bundle. Sync is idempotent — a meta_hash
// short-circuits a book whose metadata has not changed since the last run.
package dbindex

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
	"github.com/FocuswithJustin/bookvault/core/sqlite"
	"github.com/FocuswithJustin/bookvault/internal/model"
)

// Index wraps the relational database connection used to sync book,
// author, genre, tag, and chapter rows.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, enabling WAL mode
// and foreign key enforcement.
func Open(path string) (*Index, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, bverrors.Wrap(err, "dbindex: open")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, WAL readers

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, bverrors.Wrap(err, "dbindex: pragma "+pragma)
		}
	}

	idx := &Index{db: db}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// ensureSchema creates the tables this package owns if they do not already
// exist. Schema ownership beyond these tables belongs to the application
// the index feeds, not to this package.
func (idx *Index) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS books (
	id INTEGER PRIMARY KEY,
	source TEXT NOT NULL,
	name TEXT NOT NULL,
	slug TEXT NOT NULL,
	synopsis TEXT,
	status INTEGER,
	author_id INTEGER,
	chapter_count INTEGER,
	word_count INTEGER,
	view_count INTEGER,
	comment_count INTEGER,
	bookmark_count INTEGER,
	vote_count INTEGER,
	review_score REAL,
	review_count INTEGER,
	cover_url TEXT,
	meta_hash TEXT NOT NULL,
	updated_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_books_source_slug ON books(source, slug);
CREATE TABLE IF NOT EXISTS authors (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS genres (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS book_genres (
	book_id INTEGER NOT NULL,
	genre_id INTEGER NOT NULL,
	PRIMARY KEY (book_id, genre_id)
);
CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS book_tags (
	book_id INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	PRIMARY KEY (book_id, tag_id)
);
CREATE TABLE IF NOT EXISTS chapters (
	book_id INTEGER NOT NULL,
	chapter_index INTEGER NOT NULL,
	title TEXT,
	word_count INTEGER,
	PRIMARY KEY (book_id, chapter_index)
);
`
	_, err := idx.db.Exec(schema)
	if err != nil {
		return bverrors.Wrap(err, "dbindex: ensure schema")
	}
	return nil
}

// MetaHash fingerprints the fields of b that, if unchanged, mean an
// UpsertBook call would be a no-op. encoding/json already sorts struct
// fields in declaration order and map keys alphabetically, so the hash is
// stable across runs without an explicit sort step.
func MetaHash(b model.Book) string {
	type fingerprint struct {
		Name          string
		Slug          string
		Synopsis      string
		Status        model.Status
		AuthorID      int64
		GenreIDs      []int64
		TagIDs        []int64
		ChapterCount  int
		WordCount     int64
		ViewCount     int64
		CommentCount  int64
		BookmarkCount int64
		VoteCount     int64
		ReviewScore   float64
		ReviewCount   int64
		CoverURL      string
	}
	fp := fingerprint{
		Name: b.Name, Slug: b.Slug, Synopsis: b.Synopsis, Status: b.Status,
		AuthorID: b.AuthorID, GenreIDs: b.GenreIDs, TagIDs: b.TagIDs,
		ChapterCount: b.ChapterCount, WordCount: b.WordCount, ViewCount: b.ViewCount,
		CommentCount: b.CommentCount, BookmarkCount: b.BookmarkCount, VoteCount: b.VoteCount,
		ReviewScore: b.ReviewScore, ReviewCount: b.ReviewCount, CoverURL: b.CoverURL,
	}
	data, _ := json.Marshal(fp)
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// BookMetaHash returns the stored meta_hash for bookID, or "" if the book
// is not yet indexed.
func (idx *Index) BookMetaHash(ctx context.Context, bookID int64) (string, error) {
	var hash string
	err := idx.db.QueryRowContext(ctx, `SELECT meta_hash FROM books WHERE id = ?`, bookID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", bverrors.Wrap(err, "dbindex: query meta_hash")
	}
	return hash, nil
}

// UpsertBook writes b's row, its author, genres, and tags. If an existing
// row at (source, slug) has a different id (a republished book, or a
// reassigned source ID), the stale row is evicted first to satisfy the
// unique index.
func (idx *Index) UpsertBook(ctx context.Context, b model.Book) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return bverrors.Wrap(err, "dbindex: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM books WHERE source = ? AND slug = ? AND id != ?`,
		b.Source, b.Slug, b.ID); err != nil {
		return bverrors.Wrap(err, "dbindex: evict slug collision")
	}

	if b.AuthorID != 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO authors (id, name) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			b.AuthorID, b.AuthorName); err != nil {
			return bverrors.Wrap(err, "dbindex: upsert author")
		}
	}

	metaHash := MetaHash(b)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO books (id, source, name, slug, synopsis, status, author_id,
			chapter_count, word_count, view_count, comment_count, bookmark_count,
			vote_count, review_score, review_count, cover_url, meta_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, name=excluded.name, slug=excluded.slug,
			synopsis=excluded.synopsis, status=excluded.status, author_id=excluded.author_id,
			chapter_count=excluded.chapter_count, word_count=excluded.word_count,
			view_count=excluded.view_count, comment_count=excluded.comment_count,
			bookmark_count=excluded.bookmark_count, vote_count=excluded.vote_count,
			review_score=excluded.review_score, review_count=excluded.review_count,
			cover_url=excluded.cover_url, meta_hash=excluded.meta_hash,
			updated_at=datetime('now')`,
		b.ID, b.Source, b.Name, b.Slug, b.Synopsis, b.Status, b.AuthorID,
		b.ChapterCount, b.WordCount, b.ViewCount, b.CommentCount, b.BookmarkCount,
		b.VoteCount, b.ReviewScore, b.ReviewCount, b.CoverURL, metaHash); err != nil {
		return bverrors.Wrap(err, "dbindex: upsert book")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM book_genres WHERE book_id = ?`, b.ID); err != nil {
		return bverrors.Wrap(err, "dbindex: clear genres")
	}
	for i, gid := range b.GenreIDs {
		name := ""
		if i < len(b.GenreNames) {
			name = b.GenreNames[i]
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO genres (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
			gid, name); err != nil {
			return bverrors.Wrap(err, "dbindex: upsert genre")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO book_genres (book_id, genre_id) VALUES (?, ?)`, b.ID, gid); err != nil {
			return bverrors.Wrap(err, "dbindex: link genre")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM book_tags WHERE book_id = ?`, b.ID); err != nil {
		return bverrors.Wrap(err, "dbindex: clear tags")
	}
	for i, tid := range b.TagIDs {
		name := ""
		if i < len(b.TagNames) {
			name = b.TagNames[i]
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
			tid, name); err != nil {
			return bverrors.Wrap(err, "dbindex: upsert tag")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO book_tags (book_id, tag_id) VALUES (?, ?)`, b.ID, tid); err != nil {
			return bverrors.Wrap(err, "dbindex: link tag")
		}
	}

	return tx.Commit()
}

// UpsertChapters writes one row per chapter in chapters, ignoring rows that
// already exist (chapter rows are immutable once a chapter is stored).
func (idx *Index) UpsertChapters(ctx context.Context, bookID int64, chapters []model.ChapterData) error {
	if len(chapters) == 0 {
		return nil
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return bverrors.Wrap(err, "dbindex: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chapters (book_id, chapter_index, title, word_count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return bverrors.Wrap(err, "dbindex: prepare chapter insert")
	}
	defer stmt.Close()

	for _, c := range chapters {
		if _, err := stmt.ExecContext(ctx, bookID, c.Index, c.Title, c.WordCount); err != nil {
			return bverrors.Wrap(err, fmt.Sprintf("dbindex: insert chapter %d", c.Index))
		}
	}
	return tx.Commit()
}

// ChapterCount returns how many chapter rows are indexed for bookID.
func (idx *Index) ChapterCount(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapters WHERE book_id = ?`, bookID).Scan(&n)
	if err != nil {
		return 0, bverrors.Wrap(err, "dbindex: count chapters")
	}
	return n, nil
}
