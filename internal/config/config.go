// Package config provides notearchive settings loaded from a YAML file and
// environment variables.
//
// Settings are created via Load which handles:
// - Default value application
// - YAML file parsing
// - Environment variable overrides with validation
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/notearchive/internal/db"
	"github.com/kimhsiao/notearchive/internal/logging"
	"github.com/kimhsiao/notearchive/internal/notes"
	"github.com/kimhsiao/notearchive/internal/parser"
	"github.com/kimhsiao/notearchive/internal/snippet"
	"github.com/kimhsiao/notearchive/internal/store"
)

// Environment variables read by Load.
const (
	EnvDataDir          = "DB_PATH"
	EnvDocument         = "NOTEARCHIVE_DOCUMENT"
	EnvStoreBackend     = "NOTEARCHIVE_STORE"
	EnvStorePath        = "NOTEARCHIVE_STORE_PATH"
	EnvMaxChainDepth    = "NOTEARCHIVE_MAX_CHAIN_DEPTH"
	EnvParseConcurrency = "NOTEARCHIVE_PARSE_CONCURRENCY"
	EnvFrontmatter      = "NOTEARCHIVE_INCLUDE_FRONTMATTER"
	EnvVerifyOnOpen     = "NOTEARCHIVE_VERIFY_ON_OPEN"
	EnvSaveInterval     = "NOTEARCHIVE_AUTOSAVE_INTERVAL"
	EnvPropertyInterval = "NOTEARCHIVE_PROPERTY_INTERVAL"
	EnvLogLevel         = "NOTEARCHIVE_LOG_LEVEL"
)

// Config holds all notearchive configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Document string         `yaml:"document"`
	Store    StoreConfig    `yaml:"store"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Autosave AutosaveConfig `yaml:"autosave"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path overrides the backend location derived from DataDir.
	Path string `yaml:"path"`
}

// ArchiveConfig tunes the note archive.
type ArchiveConfig struct {
	MaxChainDepth    int `yaml:"max_chain_depth"`
	ParseConcurrency int `yaml:"parse_concurrency"`

	// IncludeFrontmatter parses YAML frontmatter as page text, so its
	// hashtags and words count. Off by default.
	IncludeFrontmatter bool `yaml:"include_frontmatter"`

	// VerifyOnOpen materializes every snippet when a document is opened.
	VerifyOnOpen bool `yaml:"verify_on_open"`
}

// AutosaveConfig holds background job intervals. Zero disables a job.
type AutosaveConfig struct {
	PropertyInterval time.Duration `yaml:"property_interval"`
	SaveInterval     time.Duration `yaml:"save_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:  "notearchive-data",
		Document: "notes",
		Store: StoreConfig{
			Backend: store.BackendFile,
		},
		Archive: ArchiveConfig{
			MaxChainDepth:    snippet.DefaultMaxChainDepth,
			ParseConcurrency: notes.DefaultParseConcurrency,
			VerifyOnOpen:     true,
		},
		Autosave: AutosaveConfig{
			PropertyInterval: 30 * time.Second,
			SaveInterval:     5 * time.Minute,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvDocument); v != "" {
		c.Document = v
	}
	if v := os.Getenv(EnvStoreBackend); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}

	var err error
	if c.Archive.MaxChainDepth, err = getEnvInt(EnvMaxChainDepth, c.Archive.MaxChainDepth); err != nil {
		return err
	}
	if c.Archive.ParseConcurrency, err = getEnvInt(EnvParseConcurrency, c.Archive.ParseConcurrency); err != nil {
		return err
	}
	if c.Archive.IncludeFrontmatter, err = getEnvBool(EnvFrontmatter, c.Archive.IncludeFrontmatter); err != nil {
		return err
	}
	if c.Archive.VerifyOnOpen, err = getEnvBool(EnvVerifyOnOpen, c.Archive.VerifyOnOpen); err != nil {
		return err
	}
	if c.Autosave.SaveInterval, err = getEnvDuration(EnvSaveInterval, c.Autosave.SaveInterval); err != nil {
		return err
	}
	if c.Autosave.PropertyInterval, err = getEnvDuration(EnvPropertyInterval, c.Autosave.PropertyInterval); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for values no component can use.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case store.BackendFile, store.BackendSQLite, store.BackendBadger:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if err := store.ValidateName(c.Document); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	if c.DataDir == "" && c.Store.Path == "" {
		return fmt.Errorf("data_dir or store.path is required")
	}
	if c.Archive.MaxChainDepth < 1 {
		return fmt.Errorf("archive.max_chain_depth must be positive, got %d", c.Archive.MaxChainDepth)
	}
	if c.Archive.ParseConcurrency < 1 {
		return fmt.Errorf("archive.parse_concurrency must be positive, got %d", c.Archive.ParseConcurrency)
	}
	if c.Autosave.SaveInterval < 0 || c.Autosave.PropertyInterval < 0 {
		return fmt.Errorf("autosave intervals must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// StorePath returns the location handed to the store backend.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Backend {
	case store.BackendSQLite:
		return filepath.Join(c.DataDir, db.DefaultFileName)
	case store.BackendBadger:
		return filepath.Join(c.DataDir, "badger")
	default:
		return c.DataDir
	}
}

// LogLevel returns the parsed log level. Load has already validated it.
func (c Config) LogLevel() logging.LogLevel {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

// NotesOptions returns the note archive options the configuration implies.
func (c Config) NotesOptions() []notes.Option {
	p := parser.NewMarkdownParser()
	if c.Archive.IncludeFrontmatter {
		p = parser.NewMarkdownParserWithFrontmatter()
	}
	return []notes.Option{
		notes.WithMaxChainDepth(c.Archive.MaxChainDepth),
		notes.WithParseConcurrency(c.Archive.ParseConcurrency),
		notes.WithParser(p),
		notes.WithVerifyOnLoad(c.Archive.VerifyOnOpen),
	}
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
