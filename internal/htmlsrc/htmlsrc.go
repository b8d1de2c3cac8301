// Package htmlsrc implements the HTML scraping parsers for the two
// non-API sources (TTV, TF). Each sibling parser exposes the same three
// entry points — listing, book detail, chapter — and emits the same record
// shapes the API source yields, so downstream ingestion code is
// source-agnostic.
package htmlsrc

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
	"github.com/FocuswithJustin/bookvault/internal/textnorm"
)

// ListingEntry is one book stub enumerated from a listing page.
type ListingEntry struct {
	Slug         string
	Name         string
	ChapterCount int // 0 if the listing page did not carry an explicit count
}

// ChapterPage is the result of parsing one chapter's HTML page.
type ChapterPage struct {
	Title string
	Body  string
}

var chapterCountRe = regexp.MustCompile(`(?i)ch[uư][oơ]ng:?\s+(\d+)`)

// parseChapterCountText extracts the trailing integer from strings like
// "Chương 2500" or "Chương: 2500". Returns 0 if no match.
func parseChapterCountText(s string) int {
	m := chapterCountRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n := 0
	for _, r := range m[1] {
		n = n*10 + int(r-'0')
	}
	return n
}

// cleanBody removes noise nodes matching the given selectors from container
// (mutating it in place — callers must have already selected a fresh,
// single-use container), then returns the remaining text with paragraph
// breaks collapsed to double newlines.
func cleanBody(container *goquery.Selection, noise ...string) string {
	for _, n := range noise {
		container.Find(n).Remove()
	}

	var paragraphs []string
	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		t := strings.TrimSpace(p.Text())
		if t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	if len(paragraphs) == 0 {
		// Source doesn't wrap content in <p> tags; fall back to splitting
		// the remaining text on line breaks.
		for _, line := range strings.Split(container.Text(), "\n") {
			t := strings.TrimSpace(line)
			if t != "" {
				paragraphs = append(paragraphs, t)
			}
		}
	}
	return textnorm.NFC(strings.Join(paragraphs, "\n\n"))
}

// wordCount counts whitespace-delimited tokens, matching the upstream's
// own simple word-count convention.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

func parseFailure(source, op, detail string) error {
	return bverrors.NewParse(source, "", op+": "+detail)
}
