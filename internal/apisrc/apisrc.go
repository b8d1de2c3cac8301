// Package apisrc implements the encrypted mobile API source: metadata
// fetch, the chapter-envelope decrypt pipeline, and the walk-planning state
// machine (FORWARD / RESUME / REVERSE) described in spec §4.5.1 — the
// single most delicate algorithm in the ingestion core.
package apisrc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FocuswithJustin/bookvault/core/bundle"
	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
	apicrypto "github.com/FocuswithJustin/bookvault/core/crypto"
	"github.com/FocuswithJustin/bookvault/internal/model"
	"github.com/FocuswithJustin/bookvault/internal/source"
)

// API implements source.Source for the encrypted JSON API.
type API struct {
	client    *source.Client
	baseURL   string
	verifyMAC bool
}

// Config configures an API source instance.
type Config struct {
	BaseURL       string
	BearerToken   string
	VerifyMAC     bool
	MaxConcurrent int           // default 180 per §5
	RequestDelay  time.Duration // default: none beyond the semaphore
}

// New builds an API source.
func New(cfg Config) *API {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 180
	}
	headers := map[string]string{}
	if cfg.BearerToken != "" {
		headers["Authorization"] = "Bearer " + cfg.BearerToken
	}

	return &API{
		client: source.NewClient(source.ClientConfig{
			Name:          "api",
			MaxConcurrent: maxConcurrent,
			RequestDelay:  cfg.RequestDelay,
			Headers:       headers,
		}),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		verifyMAC: cfg.VerifyMAC,
	}
}

// Close releases the underlying HTTP client's resources.
func (a *API) Close() error { return nil }

// bookEnvelope is the upstream JSON shape for a book metadata response.
// Field names mirror the mobile API's JSON keys; the upstream wire format
// is opaque per §6.5, so this struct is the narrow contract the spec
// authorizes us to assume.
type bookEnvelope struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Slug            string  `json:"slug"`
	Description     string  `json:"description"`
	Status          int     `json:"status"`
	ChapterCount    int     `json:"chapter_count"`
	WordCount       int64   `json:"word_count"`
	ViewCount       int64   `json:"view_count"`
	CommentCount    int64   `json:"comment_count"`
	BookmarkCount   int64   `json:"bookmark_count"`
	VoteCount       int64   `json:"vote_count"`
	ReviewScore     float64 `json:"review_score"`
	ReviewCount     int64   `json:"review_count"`
	CoverURL        string  `json:"cover_url"`
	FirstChapterID  int64   `json:"first_chapter"`
	LatestChapterID int64   `json:"latest_chapter"`
	CreatorID       int64   `json:"creator_id"`
	Author          *struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"author"`
	Genres []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
	Tags []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"tags"`
}

// FetchBookMetadata resolves a plan entry's book ID to normalized metadata.
func (a *API) FetchBookMetadata(ctx context.Context, entry model.PlanEntry) (model.Book, error) {
	url := fmt.Sprintf("%s/books/%d", a.baseURL, entry.ID)
	body, _, err := a.client.Get(ctx, url)
	if err != nil {
		return model.Book{}, err
	}

	var env bookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.Book{}, bverrors.NewParse("api", url, "bad book json: "+err.Error())
	}
	if env.ID != entry.ID {
		return model.Book{}, bverrors.NewInvariant(entry.ID, fmt.Sprintf("metadata returned wrong id %d", env.ID))
	}

	return a.toBook(env), nil
}

func (a *API) toBook(env bookEnvelope) model.Book {
	b := model.Book{
		ID:              env.ID,
		Name:            env.Name,
		Slug:            env.Slug,
		Synopsis:        env.Description,
		Status:          model.Status(env.Status),
		ChapterCount:    env.ChapterCount,
		WordCount:       env.WordCount,
		ViewCount:       env.ViewCount,
		CommentCount:    env.CommentCount,
		BookmarkCount:   env.BookmarkCount,
		VoteCount:       env.VoteCount,
		ReviewScore:     env.ReviewScore,
		ReviewCount:     env.ReviewCount,
		CoverURL:        env.CoverURL,
		FirstChapterID:  env.FirstChapterID,
		LatestChapterID: env.LatestChapterID,
		Source:          model.SourceAPI,
	}
	if env.Author != nil && !isPlaceholderAuthor(env.Author.Name) {
		b.AuthorID = env.Author.ID
		b.AuthorName = env.Author.Name
	} else {
		b.AuthorID = model.SyntheticAuthorID(env.CreatorID)
		b.AuthorName = env.Name + " (unknown author)"
	}
	for _, g := range env.Genres {
		b.GenreIDs = append(b.GenreIDs, g.ID)
		b.GenreNames = append(b.GenreNames, g.Name)
	}
	for _, t := range env.Tags {
		b.TagIDs = append(b.TagIDs, t.ID)
		b.TagNames = append(b.TagNames, t.Name)
	}
	return b
}

func isPlaceholderAuthor(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, "đang cập nhật")
}

// chapterEnvelope is the upstream JSON shape for one linked-list chapter.
type chapterEnvelope struct {
	ID      int64  `json:"id"`
	Index   uint32 `json:"index"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Next    *struct {
		ID int64 `json:"id"`
	} `json:"next"`
	Previous *struct {
		ID int64 `json:"id"`
	} `json:"previous"`
}

func (a *API) fetchChapterByID(ctx context.Context, id int64) (chapterEnvelope, error) {
	url := fmt.Sprintf("%s/chapters/%d", a.baseURL, id)
	body, _, err := a.client.Get(ctx, url)
	if err != nil {
		return chapterEnvelope{}, err
	}
	var env chapterEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return chapterEnvelope{}, bverrors.NewParse("api", url, "bad chapter json: "+err.Error())
	}
	return env, nil
}

func (a *API) decodeChapter(env chapterEnvelope) (model.ChapterData, error) {
	plain, err := apicrypto.Decrypt(env.Content, a.verifyMAC)
	if err != nil {
		return model.ChapterData{}, err
	}
	body := apicrypto.DedupTitle(plain, env.Name)
	return model.ChapterData{
		Index:     env.Index,
		Title:     env.Name,
		Body:      body,
		WordCount: len(strings.Fields(body)),
		ChapterID: env.ID,
	}, nil
}

// FetchChapters implements the walk-planning state machine of §4.5.1.
func (a *API) FetchChapters(ctx context.Context, meta model.Book, alreadyHave map[uint32]struct{}, bundlePath string) (<-chan source.ChapterResult, error) {
	out := make(chan source.ChapterResult)

	if len(alreadyHave) == 0 {
		go a.walkForward(ctx, out, meta.FirstChapterID, alreadyHave)
		return out, nil
	}

	maxIdx := maxUint32(alreadyHave)
	bundleMeta, _ := bundle.ReadMeta(bundlePath)
	if anchor, ok := bundleMeta[maxIdx]; ok && anchor.ChapterID != 0 {
		env, err := a.fetchChapterByID(ctx, anchor.ChapterID)
		switch {
		case err == nil && env.Index == maxIdx:
			if env.Next == nil || env.Next.ID == 0 {
				close(out)
				return out, nil
			}
			go a.walkForward(ctx, out, env.Next.ID, alreadyHave)
			return out, nil
		case err == nil:
			go func() {
				out <- source.ChapterResult{Err: bverrors.NewInvariant(meta.ID,
					fmt.Sprintf("resume anchor %d returned index %d, expected %d", anchor.ChapterID, env.Index, maxIdx))}
				close(out)
			}()
			return out, nil
		default:
			// 404/transient: fall through to reverse walk.
		}
	}

	go a.walkReverse(ctx, out, meta.LatestChapterID, alreadyHave)
	return out, nil
}

// walkForward repeatedly GETs and follows next.id, yielding chapters not in
// alreadyHave, until next is null or a fetch fails.
func (a *API) walkForward(ctx context.Context, out chan<- source.ChapterResult, startID int64, alreadyHave map[uint32]struct{}) {
	defer close(out)
	id := startID
	for id != 0 {
		env, err := a.fetchChapterByID(ctx, id)
		if err != nil {
			out <- source.ChapterResult{Err: err}
			return
		}
		if _, known := alreadyHave[env.Index]; !known {
			data, derr := a.decodeChapter(env)
			if derr != nil {
				out <- source.ChapterResult{Err: derr}
			} else {
				out <- source.ChapterResult{Data: data}
			}
		}
		if env.Next == nil {
			return
		}
		id = env.Next.ID
	}
}

// walkReverse repeatedly GETs and follows previous.id from startID,
// stopping the first time it reaches already-known territory.
func (a *API) walkReverse(ctx context.Context, out chan<- source.ChapterResult, startID int64, alreadyHave map[uint32]struct{}) {
	defer close(out)
	id := startID
	for id != 0 {
		env, err := a.fetchChapterByID(ctx, id)
		if err != nil {
			out <- source.ChapterResult{Err: err}
			return
		}
		if _, known := alreadyHave[env.Index]; known {
			return
		}
		data, derr := a.decodeChapter(env)
		if derr != nil {
			out <- source.ChapterResult{Err: derr}
		} else {
			out <- source.ChapterResult{Data: data}
		}
		if env.Previous == nil {
			return
		}
		id = env.Previous.ID
	}
}

// ResolveByKeyword searches the catalog by title when a plan entry lacks an
// id, verifying the returned book's id matches what was requested — the
// diacritics-insensitive search the original crawler falls back to
// (recovered from original_source/crawler-descryptor, see SPEC_FULL §7).
func (a *API) ResolveByKeyword(ctx context.Context, keyword string, expectedID int64) (model.Book, error) {
	url := fmt.Sprintf("%s/books?filter[keyword]=%s", a.baseURL, keyword)
	body, _, err := a.client.Get(ctx, url)
	if err != nil {
		return model.Book{}, err
	}
	var envs []bookEnvelope
	if err := json.Unmarshal(body, &envs); err != nil {
		return model.Book{}, bverrors.NewParse("api", url, "bad search json: "+err.Error())
	}
	for _, env := range envs {
		if expectedID == 0 || env.ID == expectedID {
			return a.toBook(env), nil
		}
	}
	return model.Book{}, bverrors.ErrNotFound
}

// DownloadCover writes <coversDir>/<bookID>.jpg from meta.CoverURL.
func (a *API) DownloadCover(ctx context.Context, bookID int64, meta model.Book, coversDir string, force bool) bool {
	return source.DownloadCoverHTTP(ctx, a.client, meta.CoverURL, bookID, coversDir, force)
}

func maxUint32(s map[uint32]struct{}) uint32 {
	keys := make([]uint32, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) == 0 {
		return 0
	}
	return keys[len(keys)-1]
}
