package ingest

import (
	"context"
	"strings"

	"github.com/FocuswithJustin/bookvault/core/bundle"
	"github.com/FocuswithJustin/bookvault/core/compressor"
	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
	"github.com/FocuswithJustin/bookvault/internal/dbindex"
)

// RepairTitles re-derives the chapter title for any indexed chapter row
// whose title is empty or a known placeholder, by decompressing the
// corresponding bundle body and taking its first non-blank line. It is
// idempotent: re-running it over already-repaired rows is a no-op.
func RepairTitles(ctx context.Context, idx *dbindex.Index, comp *compressor.Compressor, bookID int64, bundlePath string) (int, error) {
	raw, err := bundle.ReadRaw(bundlePath)
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}

	blank, err := idx.ChaptersNeedingTitle(ctx, bookID)
	if err != nil {
		return 0, err
	}
	if len(blank) == 0 {
		return 0, nil
	}

	repaired := 0
	for _, index := range blank {
		chapter, ok := raw[index]
		if !ok {
			continue
		}
		body, err := comp.Decompress(chapter.Compressed, chapter.RawLen)
		if err != nil {
			continue
		}
		title := firstNonBlankLine(string(body))
		if title == "" {
			continue
		}
		if err := idx.UpdateChapterTitle(ctx, bookID, index, title); err != nil {
			return repaired, bverrors.Wrap(err, "ingest: repair title")
		}
		repaired++
	}
	return repaired, nil
}

func firstNonBlankLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
