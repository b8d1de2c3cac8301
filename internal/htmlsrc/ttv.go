package htmlsrc

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/FocuswithJustin/bookvault/internal/model"
	"github.com/FocuswithJustin/bookvault/internal/textnorm"
)

// TTV parses the HTML shapes served by the TTV source.
type TTV struct{}

// ParseListing enumerates book stubs from a /tong-hop listing page.
func (TTV) ParseListing(htmlBody string) ([]ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil, parseFailure("ttv", "parse-listing", err.Error())
	}

	var entries []ListingEntry
	doc.Find(".book-item, .col-xs-6").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("h3 a, .book-title a").First()
		href, _ := link.Attr("href")
		name := textnorm.NormalizeTitle(link.Text())
		if name == "" {
			return
		}
		slug := slugFromHref(href)
		count := parseChapterCountText(s.Find(".chapter-text, .text-info").Text())
		entries = append(entries, ListingEntry{Slug: slug, Name: name, ChapterCount: count})
	})
	return entries, nil
}

// ParseBookDetail parses a book's full metadata page.
func (TTV) ParseBookDetail(htmlBody string, slug string) (model.Book, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return model.Book{}, parseFailure("ttv", "parse-detail", err.Error())
	}

	name := textnorm.NormalizeTitle(doc.Find("h1.title, h1.story-title").First().Text())
	author := textnorm.NormalizeTitle(doc.Find("a[itemprop=author]").First().Text())
	synopsis := textnorm.NFC(strings.TrimSpace(doc.Find("div.desc-text, .story-detail-info").First().Text()))

	var genres []string
	doc.Find("a[itemprop=genre]").Each(func(_ int, s *goquery.Selection) {
		g := textnorm.NormalizeTitle(s.Text())
		if g != "" {
			genres = append(genres, g)
		}
	})

	// Listing-page count (authoritative) is not available here; fall back
	// to the detail page's chapter list length, which may round up — the
	// caller prefers a listing-derived count when one is known.
	chapterCount := doc.Find("ul.list-chapter li").Length()
	if explicit := parseChapterCountText(doc.Find(".chapter-title, .header").Text()); explicit > 0 {
		chapterCount = explicit
	}

	coverURL, _ := doc.Find("meta[property='og:image']").Attr("content")

	book := model.Book{
		Name:         name,
		Slug:         slug,
		Synopsis:     synopsis,
		AuthorName:   author,
		GenreNames:   genres,
		ChapterCount: chapterCount,
		CoverURL:     coverURL,
		Source:       model.SourceTTV,
		Status:       model.StatusOngoing,
	}
	return book, nil
}

// ParseChapter parses one chapter page. The title is read from the heading
// element, the body from div.box-chap with ad/script/heading noise
// removed, and a leading-title duplicate line stripped per §4.4.
func (TTV) ParseChapter(htmlBody string) (ChapterPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return ChapterPage{}, parseFailure("ttv", "parse-chapter", err.Error())
	}

	title := textnorm.NormalizeTitle(doc.Find("h2").First().Text())

	container := doc.Find("div.box-chap").First()
	if container.Length() == 0 {
		return ChapterPage{}, parseFailure("ttv", "parse-chapter", "missing div.box-chap container")
	}
	body := cleanBody(container, "h5", "script", "ins", ".ads-holder", ".box-ads")

	if title != "" && textnorm.NormalizedColonPrefix(body, title) {
		body = stripLeadingLine(body)
	}

	return ChapterPage{Title: title, Body: body}, nil
}

func slugFromHref(href string) string {
	href = strings.TrimSuffix(href, "/")
	parts := strings.Split(href, "/")
	return parts[len(parts)-1]
}

func stripLeadingLine(body string) string {
	idx := strings.Index(body, "\n")
	if idx < 0 {
		return ""
	}
	return strings.TrimLeft(body[idx:], "\n")
}

// LooksThrottled reports whether a 200 response lacks the expected chapter
// container — the soft-throttle signal described in §4.5.2.
func (TTV) LooksThrottled(htmlBody string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return true
	}
	return doc.Find("div.box-chap").Length() == 0
}
