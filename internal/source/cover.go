package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/FocuswithJustin/bookvault/core/cas"
)

// DownloadCoverHTTP is the shared cover-download routine used by every
// source: fetch coverURL through client and write it to
// <coversDir>/<bookID>.jpg. Already-present files are left untouched unless
// force is set. All failures are silent, returning false, per §4.5.
//
// Downloaded bytes are deduplicated through a content-addressed blob store
// rooted at <coversDir>/.blobs: many books on the same source share a
// "no cover available" placeholder image, and this avoids storing it once
// per book. The per-book path is a hard link into the blob store, falling
// back to a plain copy when the store lives on a different filesystem.
func DownloadCoverHTTP(ctx context.Context, client *Client, coverURL string, bookID int64, coversDir string, force bool) bool {
	if coverURL == "" {
		return false
	}
	dest := filepath.Join(coversDir, fmt.Sprintf("%d.jpg", bookID))
	if !force {
		if _, err := os.Stat(dest); err == nil {
			return true
		}
	}

	body, status, err := client.Get(ctx, coverURL)
	if err != nil || status != 200 || len(body) == 0 {
		return false
	}
	if err := os.MkdirAll(coversDir, 0o755); err != nil {
		return false
	}

	store, err := cas.NewStore(filepath.Join(coversDir, ".blobs"))
	if err != nil {
		return os.WriteFile(dest, body, 0o644) == nil
	}
	hash, err := store.Store(body)
	if err != nil {
		return os.WriteFile(dest, body, 0o644) == nil
	}

	os.Remove(dest)
	if err := os.Link(store.BlobPath(hash), dest); err == nil {
		return true
	}
	return os.WriteFile(dest, body, 0o644) == nil
}
