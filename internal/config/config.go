// Package config loads the ingestion engine's YAML configuration file and
// the per-source plan files it drives ingestion from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
	"github.com/FocuswithJustin/bookvault/internal/model"
)

// Config holds every option an ingestion run reads (§6.6), plus the
// on-disk layout (§6.4).
type Config struct {
	// Data directories.
	DataDir       string `yaml:"data_dir"`
	CompressedDir string `yaml:"compressed_dir"`
	CoversDir     string `yaml:"covers_dir"`
	CacheDir      string `yaml:"cache_dir"`
	DBName        string `yaml:"db_name"`

	// API source.
	APIBaseURL    string `yaml:"api_base_url"`
	APIToken      string `yaml:"api_token"`
	EncryptionKey string `yaml:"encryption_key"` // hex-encoded AES key

	// HTML sources.
	TTVBaseURL string `yaml:"ttv_base_url"`
	TFBaseURL  string `yaml:"tf_base_url"`

	// Concurrency and rate shaping (per source, §6.6).
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RequestDelay   time.Duration `yaml:"-"`
	RequestDelayMS int           `yaml:"request_delay_ms"`
	BookWorkers    int           `yaml:"book_workers"`
	FetchBatchSize int           `yaml:"fetch_batch_size"` // TF

	// Compression.
	CompressionLevel int `yaml:"compression_level"`

	// Plan filtering and behavior flags.
	MinChapters int  `yaml:"min_chapters"`
	ForceCover  bool `yaml:"force_cover"`
	DryRun      bool `yaml:"dry_run"`
}

// Default returns a Config populated with sensible defaults, mirroring
// the teacher's layered-default pattern: Load always starts here before
// applying the YAML file on top.
func Default() Config {
	return Config{
		DataDir:          "./data",
		CompressedDir:    "./data/compressed",
		CoversDir:        "./data/covers",
		CacheDir:         "./data/cache",
		DBName:           "bookvault",
		MaxConcurrent:    20,
		RequestDelayMS:   100,
		RequestDelay:     100 * time.Millisecond,
		BookWorkers:      4,
		FetchBatchSize:   10,
		CompressionLevel: 3,
		MinChapters:      0,
	}
}

// Load reads the YAML file at path over a Default() base. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, bverrors.Wrap(err, fmt.Sprintf("config: read %q", path))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, bverrors.Wrap(err, fmt.Sprintf("config: parse %q", path))
	}

	if cfg.RequestDelayMS > 0 {
		cfg.RequestDelay = time.Duration(cfg.RequestDelayMS) * time.Millisecond
	} else {
		cfg.RequestDelay = 0
	}

	return cfg, nil
}

// DBPath returns the full path to the SQLite index database.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBName+".db")
}

// DictPath returns the full path to the shared zstd dictionary.
func (c Config) DictPath() string {
	return filepath.Join(c.DataDir, "global.dict")
}

// PlanPath returns the full path to the plan file for one source.
func (c Config) PlanPath(source model.Source) string {
	return filepath.Join(c.DataDir, "plans", fmt.Sprintf("books_plan_%s.json", source))
}

// BundlePath returns the full path to a book's compressed bundle.
func (c Config) BundlePath(bookID int64) string {
	return filepath.Join(c.CompressedDir, fmt.Sprintf("%d.bundle", bookID))
}

// CoverPath returns the full path to a book's cover image.
func (c Config) CoverPath(bookID int64) string {
	return filepath.Join(c.CoversDir, fmt.Sprintf("%d.jpg", bookID))
}

// CachePath returns the full path to a book's cached EPUB artifact for a
// given chapter count. The chapter count is embedded in the filename so a
// stale cache (built before new chapters arrived) never matches.
func (c Config) CachePath(bookID int64, chapterCount int) string {
	return filepath.Join(c.CacheDir, fmt.Sprintf("%d_%d.epub", bookID, chapterCount))
}

// LoadPlan reads and decodes a plan file's array of entries. A missing
// file is not an error — it is treated as an empty plan, since a source
// may simply not have been configured yet.
func LoadPlan(path string) ([]model.PlanEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, bverrors.Wrap(err, fmt.Sprintf("config: read plan %q", path))
	}

	var entries []model.PlanEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, bverrors.Wrap(err, fmt.Sprintf("config: parse plan %q", path))
	}
	return entries, nil
}
