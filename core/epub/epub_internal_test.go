package epub

import (
	"archive/zip"
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/bookvault/core/bundle"
	"github.com/FocuswithJustin/bookvault/core/compressor"
	"github.com/FocuswithJustin/bookvault/internal/model"
)

func compressorForTest(t *testing.T) (*compressor.Compressor, error) {
	t.Helper()
	return compressor.New(compressor.DefaultLevel, "")
}

func writeTestBundle(t *testing.T, comp *compressor.Compressor) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.blib")

	bodies := map[uint32]bundle.RawChapter{}
	meta := map[uint32]model.ChapterMeta{}
	for i, text := range []string{"First chapter body.\n\nSecond paragraph.", "Second chapter body."} {
		idx := uint32(i + 1)
		compressed := comp.Compress([]byte(text))
		bodies[idx] = bundle.RawChapter{Compressed: compressed, RawLen: uint32(len(text))}
		meta[idx] = model.ChapterMeta{Title: "Chapter", WordCount: len(text)}
	}
	if err := bundle.Write(path, bodies, meta); err != nil {
		t.Fatalf("bundle.Write: %v", err)
	}
	return path
}

func TestBuildInternalStructure(t *testing.T) {
	epub := New()
	epub.SetTitle("Internal Test")
	epub.AddChapter("Chapter 1", "<p>Content</p>")

	data, err := epub.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Invalid ZIP: %v", err)
	}
	if len(r.File) == 0 {
		t.Fatal("No files in ZIP")
	}
	if r.File[0].Name != "mimetype" {
		t.Errorf("First file should be mimetype, got %q", r.File[0].Name)
	}
	if r.File[0].Method != zip.Store {
		t.Errorf("Mimetype should use Store method, got %v", r.File[0].Method)
	}
}

func TestAddContainerXMLDirect(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	epub := New()
	if err := epub.addContainerXML(zw); err != nil {
		t.Fatalf("addContainerXML failed: %v", err)
	}
	zw.Close()

	r, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	found := false
	for _, f := range r.File {
		if f.Name == "META-INF/container.xml" {
			found = true
			break
		}
	}
	if !found {
		t.Error("container.xml not found")
	}
}

func TestAddContentOPFDirect(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	epub := New()
	epub.SetTitle("Test")
	epub.AddChapter("Ch1", "Content")

	if err := epub.addContentOPF(zw); err != nil {
		t.Fatalf("addContentOPF failed: %v", err)
	}
	zw.Close()

	r, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	found := false
	for _, f := range r.File {
		if f.Name == "OEBPS/content.opf" {
			found = true
			break
		}
	}
	if !found {
		t.Error("content.opf not found")
	}
}

func TestAddTocNCXDirect(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	epub := New()
	epub.SetTitle("Test")
	epub.AddChapter("Ch1", "Content")

	if err := epub.addTocNCX(zw); err != nil {
		t.Fatalf("addTocNCX failed: %v", err)
	}
	zw.Close()

	r, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	found := false
	for _, f := range r.File {
		if f.Name == "OEBPS/toc.ncx" {
			found = true
			break
		}
	}
	if !found {
		t.Error("toc.ncx not found")
	}
}

func TestAddTocXHTMLDirect(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	epub := New()
	epub.SetTitle("Test")
	epub.AddChapter("Ch1", "Content")

	if err := epub.addTocXHTML(zw); err != nil {
		t.Fatalf("addTocXHTML failed: %v", err)
	}
	zw.Close()

	r, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	found := false
	for _, f := range r.File {
		if f.Name == "OEBPS/toc.xhtml" {
			found = true
			break
		}
	}
	if !found {
		t.Error("toc.xhtml not found")
	}
}

func TestAddCSSDirect(t *testing.T) {
	tests := []struct {
		name string
		css  string
	}{
		{"Default CSS", ""},
		{"Custom CSS", "body { color: red; }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)

			epub := New()
			if tt.css != "" {
				epub.SetCSS(tt.css)
			}

			if err := epub.addCSS(zw); err != nil {
				t.Fatalf("addCSS failed: %v", err)
			}
			zw.Close()

			r, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			found := false
			for _, f := range r.File {
				if f.Name == "OEBPS/style.css" {
					found = true
					rc, _ := f.Open()
					content, _ := io.ReadAll(rc)
					rc.Close()
					if tt.css != "" && string(content) != tt.css {
						t.Errorf("CSS content mismatch")
					} else if tt.css == "" && len(content) == 0 {
						t.Error("Default CSS should not be empty")
					}
					break
				}
			}
			if !found {
				t.Error("style.css not found")
			}
		})
	}
}

func TestAddCoverDirect(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		wantExt  string
	}{
		{"PNG", "image/png", "png"},
		{"JPEG", "image/jpeg", "jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)

			epub := New()
			epub.SetCover([]byte("test"), tt.mimeType)

			if err := epub.addCover(zw); err != nil {
				t.Fatalf("addCover failed: %v", err)
			}
			zw.Close()

			r, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			found := false
			expectedName := "OEBPS/images/cover." + tt.wantExt
			for _, f := range r.File {
				if f.Name == expectedName {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("cover.%s not found", tt.wantExt)
			}
		})
	}
}

func TestAddChapterDirect(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	epub := New()
	chapter := Chapter{Title: "Test Chapter", Content: "<p>Test content</p>"}

	if err := epub.addChapter(zw, 0, chapter); err != nil {
		t.Fatalf("addChapter failed: %v", err)
	}
	zw.Close()

	r, _ := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	found := false
	for _, f := range r.File {
		if f.Name == "OEBPS/text/chapter1.xhtml" {
			found = true
			rc, _ := f.Open()
			content, _ := io.ReadAll(rc)
			rc.Close()
			if !bytes.Contains(content, []byte("Test Chapter")) {
				t.Error("Chapter title not found in content")
			}
			if !bytes.Contains(content, []byte("<p>Test content</p>")) {
				t.Error("Chapter content not found")
			}
			break
		}
	}
	if !found {
		t.Error("chapter1.xhtml not found")
	}
}

func TestParseOPFDirect(t *testing.T) {
	epub := New()

	opfContent := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Title</dc:title>
    <dc:creator>Test Author</dc:creator>
    <dc:language>en-US</dc:language>
    <dc:identifier>test-123</dc:identifier>
    <dc:publisher>Test Publisher</dc:publisher>
    <dc:description>Test Description</dc:description>
  </metadata>
</package>`

	epub.parseOPF(opfContent)

	if epub.Metadata.Title != "Test Title" {
		t.Errorf("Title = %q, want %q", epub.Metadata.Title, "Test Title")
	}
	if epub.Metadata.Author != "Test Author" {
		t.Errorf("Author = %q, want %q", epub.Metadata.Author, "Test Author")
	}
	if epub.Metadata.Language != "en-US" {
		t.Errorf("Language = %q, want %q", epub.Metadata.Language, "en-US")
	}
}

func TestBuildWithBundle(t *testing.T) {
	comp, err := compressorForTest(t)
	if err != nil {
		t.Fatalf("compressor: %v", err)
	}
	defer comp.Close()

	path := writeTestBundle(t, comp)

	data, err := BuildFromBundle(path, comp, BookMetadata{Title: "Bundle Book", Author: "Someone"}, nil, "")
	if err != nil {
		t.Fatalf("BuildFromBundle failed: %v", err)
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	chapterFiles := 0
	for _, f := range r.File {
		if bytes.HasPrefix([]byte(f.Name), []byte("OEBPS/text/chapter")) {
			chapterFiles++
		}
	}
	if chapterFiles != 2 {
		t.Errorf("expected 2 chapter files, got %d", chapterFiles)
	}
}
