// Package scrapesrc implements the sequential-iteration source abstraction
// shared by the TTV and TF HTML scrapers (§4.5.2): no linked list, chapter
// URLs are deterministic, and the engine walks 1..chapter_count in batches.
package scrapesrc

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/FocuswithJustin/bookvault/internal/htmlsrc"
	"github.com/FocuswithJustin/bookvault/internal/model"
	"github.com/FocuswithJustin/bookvault/internal/source"
)

// Parser is the subset of htmlsrc.TTV / htmlsrc.TF used by Scraper.
type Parser interface {
	ParseBookDetail(htmlBody string, slug string) (model.Book, error)
	ParseChapter(htmlBody string) (htmlsrc.ChapterPage, error)
	LooksThrottled(htmlBody string) bool
}

// Config configures a Scraper instance.
type Config struct {
	Name            model.Source
	BaseURL         string
	Parser          Parser
	ChapterURL      func(baseURL, slug string, n int) string
	DetailURL       func(baseURL, slug string) string
	BatchSize       int
	AdaptiveBackoff bool // TF only: penalize batches that mostly fail
	MaxConcurrent   int
	RequestDelay    time.Duration
	Jitter          time.Duration
}

// Scraper implements source.Source for a sequential-iteration HTML source.
type Scraper struct {
	cfg    Config
	client *source.Client

	mu      sync.Mutex
	penalty time.Duration // current adaptive inter-batch penalty (TF only)
}

// New builds a Scraper per cfg, defaulting BatchSize to 10 and
// MaxConcurrent to 20 (§5's default for TTV/TF).
func New(cfg Config) *Scraper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	return &Scraper{
		cfg: cfg,
		client: source.NewClient(source.ClientConfig{
			Name:          string(cfg.Name),
			MaxConcurrent: cfg.MaxConcurrent,
			RequestDelay:  cfg.RequestDelay,
			Jitter:        cfg.Jitter,
		}),
	}
}

// Close releases the underlying HTTP client's resources.
func (s *Scraper) Close() error { return nil }

// FetchBookMetadata downloads and parses the book detail page.
func (s *Scraper) FetchBookMetadata(ctx context.Context, entry model.PlanEntry) (model.Book, error) {
	slug := entry.Slug
	if s.cfg.Name == model.SourceTF && entry.TFSlug != "" {
		slug = entry.TFSlug
	}
	url := s.cfg.DetailURL(s.cfg.BaseURL, slug)
	body, _, err := s.client.Get(ctx, url)
	if err != nil {
		return model.Book{}, err
	}
	book, err := s.cfg.Parser.ParseBookDetail(string(body), slug)
	if err != nil {
		return model.Book{}, err
	}
	book.ID = entry.ID
	book.Source = s.cfg.Name
	return book, nil
}

// FetchChapters iterates 1..meta.ChapterCount in batches, fetching
// concurrently within a batch (bounded by the client's semaphore), and
// yields successful parses in index order.
func (s *Scraper) FetchChapters(ctx context.Context, meta model.Book, alreadyHave map[uint32]struct{}, bundlePath string) (<-chan source.ChapterResult, error) {
	out := make(chan source.ChapterResult)
	go s.run(ctx, out, meta, alreadyHave)
	return out, nil
}

func (s *Scraper) run(ctx context.Context, out chan<- source.ChapterResult, meta model.Book, alreadyHave map[uint32]struct{}) {
	defer close(out)

	for start := 1; start <= meta.ChapterCount; start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize - 1
		if end > meta.ChapterCount {
			end = meta.ChapterCount
		}

		s.sleepPenalty(ctx)

		results := s.fetchBatch(ctx, meta.Slug, start, end, alreadyHave)
		sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

		failures := 0
		for _, r := range results {
			if r.err != nil {
				failures++
				out <- source.ChapterResult{Err: r.err}
				continue
			}
			out <- source.ChapterResult{Data: r.data}
		}

		if s.cfg.AdaptiveBackoff {
			s.adjustPenalty(failures, end-start+1)
		}
	}
}

type batchItem struct {
	index uint32
	data  model.ChapterData
	err   error
}

func (s *Scraper) fetchBatch(ctx context.Context, slug string, start, end int, alreadyHave map[uint32]struct{}) []batchItem {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []batchItem

	for n := start; n <= end; n++ {
		idx := uint32(n)
		if _, known := alreadyHave[idx]; known {
			continue
		}
		wg.Add(1)
		go func(n int, idx uint32) {
			defer wg.Done()
			item := s.fetchOne(ctx, slug, n, idx)
			mu.Lock()
			results = append(results, item)
			mu.Unlock()
		}(n, idx)
	}
	wg.Wait()
	return results
}

func (s *Scraper) fetchOne(ctx context.Context, slug string, n int, idx uint32) batchItem {
	url := s.cfg.ChapterURL(s.cfg.BaseURL, slug, n)

	var page htmlsrc.ChapterPage
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var body []byte
		body, _, err = s.client.Get(ctx, url)
		if err != nil {
			break
		}
		if s.cfg.Parser.LooksThrottled(string(body)) {
			err = fmt.Errorf("%s: chapter %d: soft throttle detected", s.cfg.Name, n)
			select {
			case <-time.After(3*time.Second + time.Duration(rand.Int63n(int64(7*time.Second)))):
			case <-ctx.Done():
				return batchItem{index: idx, err: ctx.Err()}
			}
			continue
		}
		page, err = s.cfg.Parser.ParseChapter(string(body))
		break
	}
	if err != nil {
		return batchItem{index: idx, err: err}
	}
	return batchItem{index: idx, data: model.ChapterData{
		Index:     idx,
		Title:     page.Title,
		Body:      page.Body,
		WordCount: wordCount(page.Body),
	}}
}

func wordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// sleepPenalty waits out any accumulated adaptive backoff penalty (TF
// only) before starting the next batch.
func (s *Scraper) sleepPenalty(ctx context.Context) {
	s.mu.Lock()
	p := s.penalty
	s.mu.Unlock()
	if p <= 0 {
		return
	}
	select {
	case <-time.After(p):
	case <-ctx.Done():
	}
}

const (
	maxPenalty   = 30 * time.Second
	penaltyStep  = 5 * time.Second
	penaltyDecay = 2 * time.Second
)

// adjustPenalty raises the inter-batch delay by 5s (capped at 30s) when
// more than half a batch fails, and decays it by 2s after a fully
// successful batch — dampening bursts when the server starts returning 503
// (§4.5.2).
func (s *Scraper) adjustPenalty(failures, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case failures*2 > total:
		s.penalty += penaltyStep
		if s.penalty > maxPenalty {
			s.penalty = maxPenalty
		}
	case failures == 0:
		s.penalty -= penaltyDecay
		if s.penalty < 0 {
			s.penalty = 0
		}
	}
}

// DownloadCover writes <coversDir>/<bookID>.jpg from meta.CoverURL.
func (s *Scraper) DownloadCover(ctx context.Context, bookID int64, meta model.Book, coversDir string, force bool) bool {
	return source.DownloadCoverHTTP(ctx, s.client, meta.CoverURL, bookID, coversDir, force)
}
