package htmlsrc

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/FocuswithJustin/bookvault/internal/model"
	"github.com/FocuswithJustin/bookvault/internal/textnorm"
)

// TF parses the HTML shapes served by the TF source.
type TF struct{}

// ParseListing enumerates book stubs from a /danh-sach/truyen-hot/trang-N/
// listing page.
func (TF) ParseListing(htmlBody string) ([]ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil, parseFailure("tf", "parse-listing", err.Error())
	}

	var entries []ListingEntry
	doc.Find(".story-item, .row").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("h3 a, .title a").First()
		href, _ := link.Attr("href")
		name := textnorm.NormalizeTitle(link.Text())
		if name == "" {
			return
		}
		slug := slugFromHref(href)
		count := parseChapterCountText(s.Find(".chapter, .current-chap").Text())
		entries = append(entries, ListingEntry{Slug: slug, Name: name, ChapterCount: count})
	})
	return entries, nil
}

// ParseBookDetail parses a book's full metadata page. TF's detail-page
// chapter count is a rounded-up overestimate (last_page × page size); it is
// only used as a fallback when no listing-page count is available.
func (TF) ParseBookDetail(htmlBody string, slug string) (model.Book, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return model.Book{}, parseFailure("tf", "parse-detail", err.Error())
	}

	name := textnorm.NormalizeTitle(doc.Find("h1").First().Text())
	author := textnorm.NormalizeTitle(doc.Find(".info a[href*=tac-gia]").First().Text())
	synopsis := textnorm.NFC(strings.TrimSpace(doc.Find("#gioi-thieu, .desc").First().Text()))

	var genres []string
	doc.Find(".info a[href*=the-loai]").Each(func(_ int, s *goquery.Selection) {
		g := textnorm.NormalizeTitle(s.Text())
		if g != "" {
			genres = append(genres, g)
		}
	})

	chapterCount := 0
	if lastPage := doc.Find(".pagination li").Last().Find("a").Text(); lastPage != "" {
		if n := parseChapterCountText(lastPage); n > 0 {
			chapterCount = n * 50
		}
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
		Source:       model.SourceTF,
		Status:       model.StatusOngoing,
	}
	return book, nil
}

// ParseChapter parses one chapter page: body lives in #chapter-c, with
// .ads-holder noise removed. TF has no leading-title dedup rule (§4.4
// specifies that rule for TTV only).
func (TF) ParseChapter(htmlBody string) (ChapterPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return ChapterPage{}, parseFailure("tf", "parse-chapter", err.Error())
	}

	title := textnorm.NormalizeTitle(doc.Find("h2, .chapter-title").First().Text())

	container := doc.Find("#chapter-c").First()
	if container.Length() == 0 {
		return ChapterPage{}, parseFailure("tf", "parse-chapter", "missing #chapter-c container")
	}
	body := cleanBody(container, ".ads-holder", "script", "ins")

	return ChapterPage{Title: title, Body: body}, nil
}

// LooksThrottled reports whether a 200 response lacks the expected chapter
// container — the soft-throttle signal described in §4.5.2.
func (TF) LooksThrottled(htmlBody string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return true
	}
	return doc.Find("#chapter-c").Length() == 0
}
