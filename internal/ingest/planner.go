// Package ingest implements the resumable per-book ingestion pipeline: fetch
// metadata, diff against the stored bundle, stream new chapters, merge and
// atomically rewrite the bundle, sync the relational index, and refresh the
// cover — then runs that pipeline across many books at bounded concurrency.
package ingest

import (
	"context"
	"time"

	"github.com/FocuswithJustin/bookvault/core/bundle"
	"github.com/FocuswithJustin/bookvault/core/compressor"
	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
	"github.com/FocuswithJustin/bookvault/internal/config"
	"github.com/FocuswithJustin/bookvault/internal/dbindex"
	"github.com/FocuswithJustin/bookvault/internal/logging"
	"github.com/FocuswithJustin/bookvault/internal/model"
	"github.com/FocuswithJustin/bookvault/internal/source"
)

// Planner drives one book through the full ingestion pipeline for one
// source. It holds no per-book state — the same Planner is shared by every
// worker in an Engine's pool.
type Planner struct {
	src  source.Source
	comp *compressor.Compressor
	idx  *dbindex.Index
	cfg  config.Config
}

// NewPlanner builds a Planner over an already-open source, compressor, and
// index. All three are shared, read-only-from-the-planner's-perspective
// resources owned by the caller.
func NewPlanner(src source.Source, comp *compressor.Compressor, idx *dbindex.Index, cfg config.Config) *Planner {
	return &Planner{src: src, comp: comp, idx: idx, cfg: cfg}
}

// Result summarizes what one book's ingestion run did, for the terminal
// report described in spec §7.
type Result struct {
	BookID        int64
	ChaptersAdded int
	Removed       bool // upstream reported not-found; book counted as removed
	Skipped       bool // below min_chapters, or meta_hash short-circuit
	Err           error
}

// Ingest runs the 8-step pipeline for one plan entry:
//  1. fetch metadata
//  2. read existing bundle indices
//  3. meta-hash-gated DB refresh (short-circuits steps 4-7 if unchanged)
//  4. fetch the chapter stream
//  5. compress and merge with the bundle's existing raw chapters
//  6. atomically rewrite the bundle
//  7. upsert the new chapter rows
//  8. download the cover
func (p *Planner) Ingest(ctx context.Context, entry model.PlanEntry) Result {
	start := time.Now()
	res := Result{BookID: entry.ID}

	meta, err := p.src.FetchBookMetadata(ctx, entry)
	if err != nil {
		if bverrors.Is(err, bverrors.ErrNotFound) {
			res.Removed = true
			return res
		}
		res.Err = err
		logging.BookError(string(entry.Source), entry.ID, "fetch_metadata", err)
		return res
	}
	res.BookID = meta.ID

	if p.cfg.MinChapters > 0 && meta.ChapterCount < p.cfg.MinChapters {
		res.Skipped = true
		return res
	}

	logging.BookStart(string(meta.Source), meta.ID, "plan")

	metaHash := dbindex.MetaHash(meta)
	bundlePath := p.cfg.BundlePath(meta.ID)

	existingHash, err := p.idx.BookMetaHash(ctx, meta.ID)
	if err != nil {
		res.Err = err
		return res
	}

	alreadyHave, err := bundle.ReadIndices(bundlePath)
	if err != nil {
		res.Err = err
		return res
	}

	upToDate := existingHash == metaHash && len(alreadyHave) >= meta.ChapterCount
	if upToDate {
		res.Skipped = true
		logging.DBSync(meta.ID, 0, true)
		p.refreshCover(ctx, meta)
		return res
	}

	if p.cfg.DryRun {
		res.ChaptersAdded = meta.ChapterCount - len(alreadyHave)
		return res
	}

	added, err := p.syncChapters(ctx, meta, alreadyHave, bundlePath)
	if err != nil {
		res.Err = err
		logging.BookError(string(meta.Source), meta.ID, "sync_chapters", err)
		return res
	}
	res.ChaptersAdded = added

	if err := p.idx.UpsertBook(ctx, meta); err != nil {
		res.Err = err
		logging.BookError(string(meta.Source), meta.ID, "upsert_book", err)
		return res
	}

	p.refreshCover(ctx, meta)

	logging.BookDone(string(meta.Source), meta.ID, added, time.Since(start))
	return res
}

// syncChapters streams new chapters from the source, compresses each body,
// merges the result with whatever the bundle already has, and rewrites the
// bundle atomically. Per-chapter fetch/parse/decrypt failures are counted
// and skipped; they never abort the book.
func (p *Planner) syncChapters(ctx context.Context, meta model.Book, alreadyHave map[uint32]struct{}, bundlePath string) (int, error) {
	stream, err := p.src.FetchChapters(ctx, meta, alreadyHave, bundlePath)
	if err != nil {
		return 0, err
	}

	existingRaw, err := bundle.ReadRaw(bundlePath)
	if err != nil {
		return 0, err
	}
	existingMeta, err := bundle.ReadMeta(bundlePath)
	if err != nil {
		return 0, err
	}

	bodies := make(map[uint32]bundle.RawChapter, len(existingRaw))
	for k, v := range existingRaw {
		bodies[k] = v
	}
	chapterMeta := make(map[uint32]model.ChapterMeta, len(existingMeta))
	for k, v := range existingMeta {
		chapterMeta[k] = v
	}

	var newRows []model.ChapterData
	errCount := 0
	for result := range stream {
		if result.Err != nil {
			errCount++
			logging.BookError(string(meta.Source), meta.ID, "fetch_chapter", result.Err)
			continue
		}
		c := result.Data
		compressed := p.comp.Compress([]byte(c.Body))
		bodies[c.Index] = bundle.RawChapter{Compressed: compressed, RawLen: uint32(len(c.Body))}
		chapterMeta[c.Index] = model.ChapterMeta{
			ChapterID: c.ChapterID,
			WordCount: c.WordCount,
			Title:     c.Title,
			Slug:      c.Slug,
		}
		newRows = append(newRows, c)
	}

	if len(newRows) == 0 {
		return 0, nil
	}

	if err := bundle.Write(bundlePath, bodies, chapterMeta); err != nil {
		return 0, err
	}
	if err := p.idx.UpsertChapters(ctx, meta.ID, newRows); err != nil {
		return 0, err
	}
	return len(newRows), nil
}

// refreshCover downloads the book's cover if missing (or unconditionally
// when force_cover is set). Cover failures are silent per §4.5 — the
// source's DownloadCover already swallows them, returning only a bool.
func (p *Planner) refreshCover(ctx context.Context, meta model.Book) {
	p.src.DownloadCover(ctx, meta.ID, meta, p.cfg.CoversDir, p.cfg.ForceCover)
}
