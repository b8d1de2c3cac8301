// Package model defines the entities shared across the ingestion pipeline:
// books, chapters, and the reference entities joined against them at read
// time. Entities are strictly acyclic — only IDs link them.
package model

import "time"

// Source tags the upstream a book was ingested from.
type Source string

// Recognized source tags.
const (
	SourceAPI Source = "api"
	SourceTTV Source = "ttv"
	SourceTF  Source = "tf"
)

// Book ID namespace partitions. Each upstream owns a disjoint range so that
// IDs never collide across sources and concurrent books never contend on
// the same bundle/cover/cache filename.
const (
	APIBookIDMin = 1
	APIBookIDMax = 1_000_000 // exclusive
	TTVBookIDMin = 10_000_000
	TFBookIDMin  = 30_000_000
)

// Author ID namespace partitions, mirroring the book partitioning.
const (
	APIAuthorIDMax       = 1_000_000 // exclusive; native API authors
	SyntheticAuthorBase  = 999_000_000_000
	TTVAuthorIDOffset    = 20_000_000
	TFAuthorIDHashOffset = 40_000_000
)

// Status enumerates a book's publication status.
type Status int

// Recognized status values.
const (
	StatusOngoing   Status = 1
	StatusCompleted Status = 2
	StatusPaused    Status = 3
)

// SyntheticAuthorID builds the placeholder author ID used when an API book's
// author name is missing or a placeholder ("đang cập nhật"). Collides in
// principle with real author IDs ≥ 999_000_000_000, but the observed ID
// space stays well below that threshold.
func SyntheticAuthorID(creatorID int64) int64 {
	return SyntheticAuthorBase + creatorID
}

// Book is the normalized metadata record every source's parser emits,
// regardless of upstream shape (API JSON vs. scraped HTML).
type Book struct {
	ID            int64
	Name          string
	Slug          string
	Synopsis      string
	Status        Status
	StatusName    string
	AuthorID      int64
	AuthorName    string
	GenreIDs      []int64
	GenreNames    []string
	TagIDs        []int64
	TagNames      []string
	ChapterCount  int
	WordCount     int64
	ViewCount     int64
	CommentCount  int64
	BookmarkCount int64
	VoteCount     int64
	ReviewScore   float64
	ReviewCount   int64
	CoverURL      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   time.Time
	NewChapAt     time.Time
	Source        Source

	// FirstChapterID and LatestChapterID are populated only by the API
	// source; they anchor the walk planner (§4.5.1).
	FirstChapterID  int64
	LatestChapterID int64
}

// ChapterData is what a source's fetch_chapters stream yields per chapter.
type ChapterData struct {
	Index     uint32
	Title     string
	Slug      string
	Body      string
	WordCount int
	ChapterID int64 // 0 when the source has no linked-list identifier (TTV/TF)
}

// ChapterMeta is the fixed-size inline metadata record stored in v2 bundles.
type ChapterMeta struct {
	ChapterID int64 // stored as u32 on disk; widened here for API chapter IDs
	WordCount int
	Title     string
	Slug      string
}

// Author, Genre, Tag are the reference entities looked up by stable ID.
type Author struct {
	ID        int64
	Name      string
	LocalName string
	Avatar    string
}

type Genre struct {
	ID   int64
	Name string
	Slug string
}

type Tag struct {
	ID     int64
	Name   string
	TypeID int
}

// PlanEntry is one line of a plan file (data_dir/plans/books_plan_<source>.json).
type PlanEntry struct {
	ID     int64  `json:"id"`
	Slug   string `json:"slug,omitempty"`
	TFSlug string `json:"tf_slug,omitempty"`
	Source Source `json:"source"`
}
