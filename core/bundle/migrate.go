package bundle

import (
	"bufio"
	"strings"

	"github.com/FocuswithJustin/bookvault/internal/model"
)

// Decompressor is the subset of compressor.Compressor that UpgradeToV2
// needs. Declared locally rather than imported to keep core/bundle free of
// a dependency on core/compressor beyond this one optional migration path.
type Decompressor interface {
	Decompress(compressed []byte, rawLen uint32) ([]byte, error)
}

// UpgradeToV2 rewrites a v1 bundle at path into v2 in place: every stored
// body is decompressed, a ChapterMeta is synthesized from its first
// non-blank line as a placeholder title, and the bundle is rewritten via
// the same atomic Write path used for ordinary syncs. A bundle already at
// v2, or missing, is left untouched.
func UpgradeToV2(path string, comp Decompressor) error {
	f, h, err := openTolerant(path)
	if err != nil {
		return err
	}
	if f != nil {
		f.Close()
	}
	if h == nil || h.version != VersionV1 {
		return nil
	}

	raw, err := ReadRaw(path)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	meta := make(map[uint32]model.ChapterMeta, len(raw))
	for idx, chapter := range raw {
		body, err := comp.Decompress(chapter.Compressed, chapter.RawLen)
		if err != nil {
			// Leave this chapter's metadata synthetic-empty rather than
			// aborting the whole migration over one corrupt body.
			meta[idx] = model.ChapterMeta{}
			continue
		}
		meta[idx] = model.ChapterMeta{Title: firstNonBlankLine(string(body))}
	}

	return Write(path, raw, meta)
}

// firstNonBlankLine returns the first line of body with leading/trailing
// whitespace trimmed that is not itself empty, or "" if every line is blank.
func firstNonBlankLine(body string) string {
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line
		}
	}
	return ""
}
