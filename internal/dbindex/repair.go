package dbindex

import (
	"context"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
)

// placeholderTitles are the titles RepairTitles treats as "not really a
// title", in addition to an empty string.
var placeholderTitles = []string{"", "untitled", "chapter", "(no title)"}

// ChaptersNeedingTitle returns the chapter indices of bookID whose stored
// title is empty or a known placeholder.
func (idx *Index) ChaptersNeedingTitle(ctx context.Context, bookID int64) ([]uint32, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT chapter_index FROM chapters
		 WHERE book_id = ? AND lower(trim(title)) IN (?, ?, ?, ?)`,
		bookID, placeholderTitles[0], placeholderTitles[1], placeholderTitles[2], placeholderTitles[3])
	if err != nil {
		return nil, bverrors.Wrap(err, "dbindex: query chapters needing title")
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var n uint32
		if err := rows.Scan(&n); err != nil {
			return nil, bverrors.Wrap(err, "dbindex: scan chapter index")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateChapterTitle sets the title of one indexed chapter row.
func (idx *Index) UpdateChapterTitle(ctx context.Context, bookID int64, chapterIndex uint32, title string) error {
	_, err := idx.db.ExecContext(ctx,
		`UPDATE chapters SET title = ? WHERE book_id = ? AND chapter_index = ?`,
		title, bookID, chapterIndex)
	if err != nil {
		return bverrors.Wrap(err, "dbindex: update chapter title")
	}
	return nil
}

// InlineMeta is the subset of a bundle's per-chapter metadata SyncSweep
// needs: just enough to populate a new chapter row without pulling in
// core/bundle.ChapterMeta's on-disk-layout concerns.
type InlineMeta struct {
	Title     string
	WordCount int
}

// SyncSweep reconciles a book's bundle indices against its DB chapter rows:
// any index present in the bundle but missing from the DB is inserted. The
// fast path takes titles/word counts from the bundle's v2 inline metadata;
// the slow path (used for v1 bundles or indices with no inline meta)
// decompresses the body and derives a title from its first non-blank line,
// via the caller-supplied decodeTitle function (kept out of this package to
// avoid a dependency on core/compressor for what is otherwise a pure SQL
// reconciliation).
func (idx *Index) SyncSweep(ctx context.Context, bookID int64, bundleIndices map[uint32]struct{}, inlineMeta map[uint32]InlineMeta, decodeTitle func(index uint32) (title string, wordCount int, ok bool)) (int, error) {
	existing := map[uint32]struct{}{}
	rows, err := idx.db.QueryContext(ctx, `SELECT chapter_index FROM chapters WHERE book_id = ?`, bookID)
	if err != nil {
		return 0, bverrors.Wrap(err, "dbindex: sync sweep query")
	}
	for rows.Next() {
		var n uint32
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return 0, bverrors.Wrap(err, "dbindex: sync sweep scan")
		}
		existing[n] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, bverrors.Wrap(err, "dbindex: sync sweep rows")
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, bverrors.Wrap(err, "dbindex: sync sweep begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chapters (book_id, chapter_index, title, word_count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, bverrors.Wrap(err, "dbindex: sync sweep prepare")
	}
	defer stmt.Close()

	inserted := 0
	for chapterIndex := range bundleIndices {
		if _, have := existing[chapterIndex]; have {
			continue
		}
		title, wordCount := "", 0
		if m, ok := inlineMeta[chapterIndex]; ok && m.Title != "" {
			title, wordCount = m.Title, m.WordCount
		} else if decodeTitle != nil {
			if t, wc, ok := decodeTitle(chapterIndex); ok {
				title, wordCount = t, wc
			}
		}
		if _, err := stmt.ExecContext(ctx, bookID, chapterIndex, title, wordCount); err != nil {
			return inserted, bverrors.Wrap(err, "dbindex: sync sweep insert")
		}
		inserted++
	}

	return inserted, tx.Commit()
}
