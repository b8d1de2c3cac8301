// Command bookvault drives ingestion, repair, migration, and EPUB export
// for the book vault.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/bookvault/core/bundle"
	"github.com/FocuswithJustin/bookvault/core/compressor"
	"github.com/FocuswithJustin/bookvault/core/epub"
	"github.com/FocuswithJustin/bookvault/internal/apisrc"
	"github.com/FocuswithJustin/bookvault/internal/config"
	"github.com/FocuswithJustin/bookvault/internal/dbindex"
	"github.com/FocuswithJustin/bookvault/internal/htmlsrc"
	"github.com/FocuswithJustin/bookvault/internal/ingest"
	"github.com/FocuswithJustin/bookvault/internal/logging"
	"github.com/FocuswithJustin/bookvault/internal/model"
	"github.com/FocuswithJustin/bookvault/internal/scrapesrc"
	"github.com/FocuswithJustin/bookvault/internal/source"
)

const version = "0.1.0"

// CLI defines the command-line interface for bookvault.
var CLI struct {
	Config string `name:"config" short:"c" help:"Path to config YAML" type:"path"`

	Ingest  IngestGroup  `cmd:"" help:"Run the ingestion pipeline against one or more sources"`
	Repair  RepairGroup  `cmd:"" help:"Run operator-facing repair sweeps against the relational index"`
	Migrate MigrateGroup `cmd:"" help:"Upgrade on-disk bundles to the current format"`
	Epub    EpubGroup    `cmd:"" help:"Build an EPUB artifact from a bundle"`
	Version VersionCmd   `cmd:"" help:"Print version information"`
}

// IngestGroup contains ingestion operations.
type IngestGroup struct {
	Run IngestRunCmd `cmd:"" help:"Ingest every plan entry for a source"`
}

// IngestRunCmd runs the full engine across a source's plan file.
type IngestRunCmd struct {
	Source  string `arg:"" enum:"api,ttv,tf" help:"Source to ingest (api, ttv, tf)"`
	Workers int    `help:"Override book_workers from config"`
}

func (c *IngestRunCmd) Run() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	src := model.Source(c.Source)
	plan, err := config.LoadPlan(cfg.PlanPath(src))
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}

	comp, err := compressor.New(cfg.CompressionLevel, cfg.DictPath())
	if err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	defer comp.Close()

	idx, err := dbindex.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("dbindex: %w", err)
	}
	defer idx.Close()

	upstream, err := buildSource(src, cfg)
	if err != nil {
		return err
	}
	defer upstream.Close()

	planner := ingest.NewPlanner(upstream, comp, idx, cfg)
	workers := cfg.BookWorkers
	if c.Workers > 0 {
		workers = c.Workers
	}
	engine := ingest.NewEngine(planner, workers)

	logging.Info("ingest run starting", "source", src, "books", len(plan))
	summary := engine.Run(context.Background(), plan)
	logging.Info("ingest run complete",
		"refreshed", summary.BooksRefreshed,
		"skipped", summary.BooksSkipped,
		"removed", summary.BooksRemoved,
		"errored", summary.BooksErrored,
		"chapters_added", summary.ChaptersAdded,
	)
	if summary.BooksErrored > 0 {
		return fmt.Errorf("%d book(s) failed to ingest", summary.BooksErrored)
	}
	return nil
}

// buildSource constructs the source.Source implementation for src per cfg.
func buildSource(src model.Source, cfg config.Config) (source.Source, error) {
	switch src {
	case model.SourceAPI:
		return apisrc.New(apisrc.Config{
			BaseURL:       cfg.APIBaseURL,
			BearerToken:   cfg.APIToken,
			VerifyMAC:     true,
			MaxConcurrent: cfg.MaxConcurrent,
			RequestDelay:  cfg.RequestDelay,
		}), nil
	case model.SourceTTV:
		return scrapesrc.New(scrapesrc.Config{
			Name:          model.SourceTTV,
			BaseURL:       cfg.TTVBaseURL,
			Parser:        htmlsrc.TTV{},
			ChapterURL:    ttvChapterURL,
			DetailURL:     ttvDetailURL,
			BatchSize:     cfg.FetchBatchSize,
			MaxConcurrent: cfg.MaxConcurrent,
			RequestDelay:  cfg.RequestDelay,
		}), nil
	case model.SourceTF:
		return scrapesrc.New(scrapesrc.Config{
			Name:            model.SourceTF,
			BaseURL:         cfg.TFBaseURL,
			Parser:          htmlsrc.TF{},
			ChapterURL:      tfChapterURL,
			DetailURL:       tfDetailURL,
			BatchSize:       cfg.FetchBatchSize,
			AdaptiveBackoff: true,
			MaxConcurrent:   cfg.MaxConcurrent,
			RequestDelay:    cfg.RequestDelay,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source %q", src)
	}
}

func ttvChapterURL(baseURL, slug string, n int) string {
	return fmt.Sprintf("%s/%s/chuong-%d", baseURL, slug, n)
}

func ttvDetailURL(baseURL, slug string) string {
	return fmt.Sprintf("%s/%s", baseURL, slug)
}

func tfChapterURL(baseURL, slug string, n int) string {
	return fmt.Sprintf("%s/%s-chuong-%d", baseURL, slug, n)
}

func tfDetailURL(baseURL, slug string) string {
	return fmt.Sprintf("%s/%s", baseURL, slug)
}

// RepairGroup contains operator-facing repair operations.
type RepairGroup struct {
	Titles RepairTitlesCmd `cmd:"" help:"Fill in blank chapter titles from bundle content"`
	Sync   RepairSyncCmd   `cmd:"" help:"Reconcile index chapter rows against a bundle's indices"`
}

// RepairTitlesCmd runs ingest.RepairTitles against one book.
type RepairTitlesCmd struct {
	BookID int64 `arg:"" help:"Book ID to repair"`
}

func (c *RepairTitlesCmd) Run() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := compressor.New(cfg.CompressionLevel, cfg.DictPath())
	if err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	defer comp.Close()
	idx, err := dbindex.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("dbindex: %w", err)
	}
	defer idx.Close()

	n, err := ingest.RepairTitles(context.Background(), idx, comp, c.BookID, cfg.BundlePath(c.BookID))
	if err != nil {
		return fmt.Errorf("repair titles: %w", err)
	}
	fmt.Printf("repaired %d chapter title(s) for book %d\n", n, c.BookID)
	return nil
}

// RepairSyncCmd reconciles the index against a bundle's on-disk chapter set.
type RepairSyncCmd struct {
	BookID int64 `arg:"" help:"Book ID to sync"`
}

func (c *RepairSyncCmd) Run() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := compressor.New(cfg.CompressionLevel, cfg.DictPath())
	if err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	defer comp.Close()
	idx, err := dbindex.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("dbindex: %w", err)
	}
	defer idx.Close()

	bundlePath := cfg.BundlePath(c.BookID)
	raw, err := bundle.ReadRaw(bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	metas, err := bundle.ReadMeta(bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle meta: %w", err)
	}

	bundleIndices := make(map[uint32]struct{}, len(raw))
	for idx := range raw {
		bundleIndices[idx] = struct{}{}
	}
	inlineMeta := make(map[uint32]dbindex.InlineMeta, len(metas))
	for idx, m := range metas {
		inlineMeta[idx] = dbindex.InlineMeta{Title: m.Title, WordCount: m.WordCount}
	}

	decodeTitle := func(i uint32) (string, int, bool) {
		chapter, ok := raw[i]
		if !ok {
			return "", 0, false
		}
		body, err := comp.Decompress(chapter.Compressed, chapter.RawLen)
		if err != nil {
			return "", 0, false
		}
		title := ""
		for _, line := range strings.Split(string(body), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				title = line
				break
			}
		}
		return title, len(strings.Fields(string(body))), true
	}

	n, err := idx.SyncSweep(context.Background(), c.BookID, bundleIndices, inlineMeta, decodeTitle)
	if err != nil {
		return fmt.Errorf("sync sweep: %w", err)
	}
	fmt.Printf("synced %d missing chapter row(s) for book %d\n", n, c.BookID)
	return nil
}

// MigrateGroup contains on-disk format migration operations.
type MigrateGroup struct {
	UpgradeV2 MigrateUpgradeV2Cmd `cmd:"" help:"Upgrade a v1 bundle to v2 (adds inline chapter titles)"`
}

// MigrateUpgradeV2Cmd upgrades a single bundle file in place.
type MigrateUpgradeV2Cmd struct {
	Path string `arg:"" help:"Path to the .bundle file" type:"existingfile"`
}

func (c *MigrateUpgradeV2Cmd) Run() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := compressor.New(cfg.CompressionLevel, cfg.DictPath())
	if err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	defer comp.Close()

	if err := bundle.UpgradeToV2(c.Path, comp); err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	fmt.Printf("upgraded %s to v2\n", c.Path)
	return nil
}

// EpubGroup contains EPUB export operations.
type EpubGroup struct {
	Build EpubBuildCmd `cmd:"" help:"Build an EPUB for a book from its bundle and index metadata"`
}

// EpubBuildCmd builds a single book's EPUB, caching the artifact.
type EpubBuildCmd struct {
	BookID int64  `arg:"" help:"Book ID to build"`
	Out    string `help:"Output path (defaults to the configured cache path)" type:"path"`
}

func (c *EpubBuildCmd) Run() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	comp, err := compressor.New(cfg.CompressionLevel, cfg.DictPath())
	if err != nil {
		return fmt.Errorf("compressor: %w", err)
	}
	defer comp.Close()
	idx, err := dbindex.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("dbindex: %w", err)
	}
	defer idx.Close()

	n, err := idx.ChapterCount(context.Background(), c.BookID)
	if err != nil {
		return fmt.Errorf("chapter count: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("book %d has no indexed chapters", c.BookID)
	}

	var cover []byte
	if data, err := os.ReadFile(cfg.CoverPath(c.BookID)); err == nil {
		cover = data
	}

	data, err := epub.BuildFromBundle(cfg.BundlePath(c.BookID), comp, epub.BookMetadata{
		Title: fmt.Sprintf("Book %d", c.BookID),
	}, cover, "image/jpeg")
	if err != nil {
		return fmt.Errorf("build epub: %w", err)
	}

	out := c.Out
	if out == "" {
		out = cfg.CachePath(c.BookID, n)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write epub: %w", err)
	}
	fmt.Printf("built %s (%d bytes)\n", out, len(data))
	return nil
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("bookvault %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("bookvault"),
		kong.Description("Multi-source book ingestion and packaging pipeline."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
