package source

import (
	"context"

	"github.com/FocuswithJustin/bookvault/internal/model"
)

// ChapterResult is one item of a FetchChapters stream: either a decoded
// chapter or a per-chapter failure (logged and skipped by the caller, never
// terminating the stream).
type ChapterResult struct {
	Data model.ChapterData
	Err  error
}

// Source is the uniform capability set every upstream exposes, per §4.5.
// Each implementation owns its own rate-limited Client and closes it in
// Close.
type Source interface {
	// FetchBookMetadata resolves a plan entry to normalized metadata.
	// bverrors.ErrNotFound is returned for an upstream 404.
	FetchBookMetadata(ctx context.Context, entry model.PlanEntry) (model.Book, error)

	// FetchChapters streams chapters not present in alreadyHave. The
	// channel is closed when the walk/iteration ends; bundlePath lets the
	// API source read v2 inline metadata for resume-anchor lookup.
	FetchChapters(ctx context.Context, meta model.Book, alreadyHave map[uint32]struct{}, bundlePath string) (<-chan ChapterResult, error)

	// DownloadCover writes <coversDir>/<bookID>.jpg. A no-op if the file
	// already exists unless force is set. All failures are silent
	// (success=false, nil error) per §4.5.
	DownloadCover(ctx context.Context, bookID int64, meta model.Book, coversDir string, force bool) (success bool)

	// Close releases the underlying HTTP client.
	Close() error
}
