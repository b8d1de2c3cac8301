// Package bundle implements the BLIB binary container: one file per book
// holding every stored chapter's compressed body, with an optional inline
// per-chapter metadata block (v2). Readers tolerate missing or truncated
// files; the writer always emits v2 and replaces the file atomically.
package bundle

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
	"github.com/FocuswithJustin/bookvault/internal/model"
)

// Magic identifies a BLIB container.
var Magic = [4]byte{'B', 'L', 'I', 'B'}

const (
	// VersionV1 is the original bodies-only layout.
	VersionV1 = 1
	// VersionV2 adds an inline 256-byte metadata block before each body.
	VersionV2 = 2

	headerSizeV1 = 12
	headerSizeV2 = 16

	indexEntrySize = 16 // chapter_index, block_offset, comp_len, raw_len (u32 each)

	// MetaEntrySize is the fixed size of a v2 inline ChapterMeta block.
	MetaEntrySize = 256

	metaTitleLen = 200
	metaSlugLen  = 48
)

// IndexEntry describes where one chapter's compressed body lives in the file.
type IndexEntry struct {
	ChapterIndex uint32
	BlockOffset  uint32
	CompLen      uint32
	RawLen       uint32
}

// RawChapter is a chapter's on-disk payload: its compressed bytes and the
// length of the body once decompressed.
type RawChapter struct {
	Compressed []byte
	RawLen     uint32
}

// header is the parsed, version-normalized file preamble.
type header struct {
	version      uint32
	chapterCount uint32
	metaSize     uint32 // 0 for v1
	entries      []IndexEntry
	bodyStart    int64 // offset where per-chapter data begins
}

// readHeader parses the magic, version, and index table. A short file, a
// bad magic, or an unknown version yields a nil header and nil error —
// callers treat that as "no usable bundle", per §4.1 tolerance. A truncated
// index table yields a header holding only the entries read before the cut.
func readHeader(f *os.File) (*header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, nil //nolint:nilerr // missing/short file: tolerated
	}
	if magic != Magic {
		return nil, nil
	}

	var version, count uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, nil //nolint:nilerr
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, nil //nolint:nilerr
	}

	var metaSize uint32
	var bodyStart int64
	switch version {
	case VersionV1:
		bodyStart = headerSizeV1
	case VersionV2:
		var entrySize, reserved uint16
		if err := binary.Read(f, binary.LittleEndian, &entrySize); err != nil {
			return nil, nil //nolint:nilerr
		}
		if err := binary.Read(f, binary.LittleEndian, &reserved); err != nil {
			return nil, nil //nolint:nilerr
		}
		metaSize = uint32(entrySize)
		bodyStart = headerSizeV2
	default:
		return nil, nil
	}

	entries := make([]IndexEntry, 0, count)
	buf := make([]byte, indexEntrySize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			// truncated index: return what we parsed so far
			return &header{version: version, chapterCount: uint32(len(entries)), metaSize: metaSize, entries: entries, bodyStart: bodyStart + int64(count)*indexEntrySize}, nil
		}
		entries = append(entries, IndexEntry{
			ChapterIndex: binary.LittleEndian.Uint32(buf[0:4]),
			BlockOffset:  binary.LittleEndian.Uint32(buf[4:8]),
			CompLen:      binary.LittleEndian.Uint32(buf[8:12]),
			RawLen:       binary.LittleEndian.Uint32(buf[12:16]),
		})
	}

	return &header{
		version:      version,
		chapterCount: count,
		metaSize:     metaSize,
		entries:      entries,
		bodyStart:    bodyStart + int64(count)*indexEntrySize,
	}, nil
}

func openTolerant(path string) (*os.File, *header, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, bverrors.NewIO("open", path, err)
	}
	h, err := readHeader(f)
	if err != nil || h == nil {
		f.Close()
		return nil, nil, err
	}
	return f, h, nil
}

// ReadIndices returns the set of chapter indices stored in the bundle at
// path. A missing or corrupt file yields an empty set and no error.
func ReadIndices(path string) (map[uint32]struct{}, error) {
	f, h, err := openTolerant(path)
	if err != nil {
		return nil, err
	}
	if f != nil {
		defer f.Close()
	}
	out := make(map[uint32]struct{})
	if h == nil {
		return out, nil
	}
	for _, e := range h.entries {
		out[e.ChapterIndex] = struct{}{}
	}
	return out, nil
}

// ReadMeta returns the inline per-chapter metadata of a v2 bundle. v1
// bundles and missing files yield an empty map.
func ReadMeta(path string) (map[uint32]model.ChapterMeta, error) {
	f, h, err := openTolerant(path)
	if err != nil {
		return nil, err
	}
	if f != nil {
		defer f.Close()
	}
	out := make(map[uint32]model.ChapterMeta)
	if h == nil || h.version != VersionV2 {
		return out, nil
	}

	for _, e := range h.entries {
		metaBuf := make([]byte, MetaEntrySize)
		if _, err := f.ReadAt(metaBuf, int64(e.BlockOffset)); err != nil {
			continue // truncated: skip remaining, tolerate
		}
		out[e.ChapterIndex] = decodeMeta(metaBuf)
	}
	return out, nil
}

// ReadRaw returns every chapter's compressed body and raw length, keyed by
// index. Used by migration and re-encoding, which must preserve prior
// bodies byte-for-byte without recompressing.
func ReadRaw(path string) (map[uint32]RawChapter, error) {
	f, h, err := openTolerant(path)
	if err != nil {
		return nil, err
	}
	if f != nil {
		defer f.Close()
	}
	out := make(map[uint32]RawChapter)
	if h == nil {
		return out, nil
	}
	for _, e := range h.entries {
		bodyOff := int64(e.BlockOffset)
		if h.version == VersionV2 {
			bodyOff += int64(h.metaSize)
		}
		comp := make([]byte, e.CompLen)
		if _, err := f.ReadAt(comp, bodyOff); err != nil {
			continue
		}
		out[e.ChapterIndex] = RawChapter{Compressed: comp, RawLen: e.RawLen}
	}
	return out, nil
}

func decodeMeta(b []byte) model.ChapterMeta {
	chapterID := binary.LittleEndian.Uint32(b[0:4])
	wordCount := binary.LittleEndian.Uint32(b[4:8])
	titleLen := int(b[8])
	title := decodeUTF8Field(b[9 : 9+metaTitleLen])
	if titleLen < len(title) {
		title = title[:titleLen]
	}
	slugOff := 9 + metaTitleLen
	slugLen := int(b[slugOff])
	slug := decodeUTF8Field(b[slugOff+1 : slugOff+1+metaSlugLen])
	if slugLen < len(slug) {
		slug = slug[:slugLen]
	}
	return model.ChapterMeta{
		ChapterID: int64(chapterID),
		WordCount: int(wordCount),
		Title:     title,
		Slug:      slug,
	}
}

// decodeUTF8Field trims trailing zero padding from a fixed-size field.
func decodeUTF8Field(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// encodeMeta packs a ChapterMeta into its fixed 256-byte on-disk block.
// Title/slug longer than their field width are truncated at a UTF-8 rune
// boundary, never mid-codepoint.
func encodeMeta(m model.ChapterMeta) [MetaEntrySize]byte {
	var buf [MetaEntrySize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.ChapterID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.WordCount))

	title := truncateUTF8(m.Title, metaTitleLen)
	buf[8] = byte(len(title))
	copy(buf[9:9+metaTitleLen], title)

	slugOff := 9 + metaTitleLen
	slug := truncateUTF8(m.Slug, metaSlugLen)
	buf[slugOff] = byte(len(slug))
	copy(buf[slugOff+1:slugOff+1+metaSlugLen], slug)
	// remaining 2 reserved bytes stay zero.
	return buf
}

// truncateUTF8 cuts s to at most maxBytes bytes without splitting a
// multi-byte rune in the middle.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := s[:maxBytes]
	// back up until the first dropped byte starts a rune, so a rune that
	// straddles the cut is dropped whole.
	for len(b) > 0 && !utf8RuneStart(s[len(b)]) {
		b = b[:len(b)-1]
	}
	return b
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func utf8SeqLen(lead byte) int {
	switch {
	case lead&0x80 == 0:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// Write always emits v2. It is atomic: the new content is written to
// "<path>.tmp" in the same directory, fsynced, then renamed over path. Any
// failure removes the tmp file and leaves the prior bundle untouched. An
// empty bodies map is a no-op.
func Write(path string, bodies map[uint32]RawChapter, meta map[uint32]model.ChapterMeta) error {
	if len(bodies) == 0 {
		return nil
	}

	indices := make([]uint32, 0, len(bodies))
	for idx := range bodies {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	entries := make([]IndexEntry, len(indices))
	offset := uint32(headerSizeV2) + uint32(len(indices))*indexEntrySize
	for i, idx := range indices {
		body := bodies[idx]
		entries[i] = IndexEntry{
			ChapterIndex: idx,
			BlockOffset:  offset,
			CompLen:      uint32(len(body.Compressed)),
			RawLen:       body.RawLen,
		}
		offset += MetaEntrySize + uint32(len(body.Compressed))
	}

	var out bytes.Buffer
	out.Write(Magic[:])
	binary.Write(&out, binary.LittleEndian, uint32(VersionV2))
	binary.Write(&out, binary.LittleEndian, uint32(len(indices)))
	binary.Write(&out, binary.LittleEndian, uint16(MetaEntrySize))
	binary.Write(&out, binary.LittleEndian, uint16(0))
	for _, e := range entries {
		binary.Write(&out, binary.LittleEndian, e.ChapterIndex)
		binary.Write(&out, binary.LittleEndian, e.BlockOffset)
		binary.Write(&out, binary.LittleEndian, e.CompLen)
		binary.Write(&out, binary.LittleEndian, e.RawLen)
	}
	for _, idx := range indices {
		body := bodies[idx]
		m, ok := meta[idx]
		if !ok {
			m = model.ChapterMeta{}
		}
		metaBlock := encodeMeta(m)
		out.Write(metaBlock[:])
		out.Write(body.Compressed)
	}

	return atomicWrite(path, out.Bytes())
}

// atomicWrite writes data to "<path>.tmp" in path's directory, fsyncs, then
// renames over path. The tmp file is removed on any failure.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return bverrors.NewIO("create", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return bverrors.NewIO("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return bverrors.NewIO("fsync", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return bverrors.NewIO("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return bverrors.NewIO("rename", tmp, err)
	}
	return nil
}

// ChapterCount returns the number of chapters currently stored in the
// bundle at path (0 for a missing or empty bundle).
func ChapterCount(path string) (int, error) {
	indices, err := ReadIndices(path)
	if err != nil {
		return 0, err
	}
	return len(indices), nil
}
