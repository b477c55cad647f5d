// Package config loads and validates blogsearch configuration.
//
// Precedence, lowest to highest: built-in defaults, a YAML file
// (.blogsearch.yaml in the given directory), then BLOGSEARCH_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete blogsearch configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Paths   PathsConfig   `yaml:"paths" json:"paths"`
	Queue   QueueConfig   `yaml:"queue" json:"queue"`
	Indexer IndexerConfig `yaml:"indexer" json:"indexer"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PathsConfig locates the on-disk state.
type PathsConfig struct {
	// IndexDir holds index generations. Empty means in-memory only.
	IndexDir string `yaml:"index_dir" json:"index_dir"`

	// EntryDB is the SQLite entry database file.
	EntryDB string `yaml:"entry_db" json:"entry_db"`
}

// QueueConfig tunes operation queue backpressure.
type QueueConfig struct {
	// HighWater blocks producers when the queue reaches this depth.
	// Zero disables backpressure.
	HighWater int `yaml:"high_water" json:"high_water"`

	// LowWater unblocks producers once the queue drains to this depth.
	// Zero defaults to HighWater/2.
	LowWater int `yaml:"low_water" json:"low_water"`
}

// IndexerConfig tunes the background indexing worker.
type IndexerConfig struct {
	// BatchSize caps operations folded into one index batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// FetchRetries is the attempt count for transient entry fetch failures.
	FetchRetries int `yaml:"fetch_retries" json:"fetch_retries"`

	// RebuildOnStart forces a full rebuild at startup even without a
	// pending-rebuild marker.
	RebuildOnStart bool `yaml:"rebuild_on_start" json:"rebuild_on_start"`
}

// SearchConfig tunes query execution.
type SearchConfig struct {
	// TitleBoost multiplies title match scores.
	TitleBoost float64 `yaml:"title_boost" json:"title_boost"`

	// CommentsBoost multiplies comment match scores.
	CommentsBoost float64 `yaml:"comments_boost" json:"comments_boost"`

	// MaxResults is the default page size when the caller gives none.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// MaxConcurrent caps in-flight searches.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

// NotifyConfig tunes the change-log poller.
type NotifyConfig struct {
	// Enabled turns the change-log poller on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// PollInterval between change-log scans, e.g. "2s".
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`

	// Dir overrides the default log directory. Empty uses the
	// platform-specific state directory.
	Dir string `yaml:"dir" json:"dir"`
}

const configFileName = ".blogsearch.yaml"

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			IndexDir: "data/index",
			EntryDB:  "data/entries.db",
		},
		Queue: QueueConfig{
			HighWater: 10000,
			LowWater:  0, // derived from HighWater
		},
		Indexer: IndexerConfig{
			BatchSize:    32,
			FetchRetries: 3,
		},
		Search: SearchConfig{
			TitleBoost:    3.0,
			CommentsBoost: 0.5,
			MaxResults:    20,
			MaxConcurrent: 16,
		},
		Notify: NotifyConfig{
			Enabled:      true,
			PollInterval: "2s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration for the given directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	path := filepath.Join(dir, configFileName)
	if _, err := os.Stat(path); err != nil {
		// No config file is fine - use defaults
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Paths.IndexDir != "" {
		c.Paths.IndexDir = other.Paths.IndexDir
	}
	if other.Paths.EntryDB != "" {
		c.Paths.EntryDB = other.Paths.EntryDB
	}
	if other.Queue.HighWater != 0 {
		c.Queue.HighWater = other.Queue.HighWater
	}
	if other.Queue.LowWater != 0 {
		c.Queue.LowWater = other.Queue.LowWater
	}
	if other.Indexer.BatchSize != 0 {
		c.Indexer.BatchSize = other.Indexer.BatchSize
	}
	if other.Indexer.FetchRetries != 0 {
		c.Indexer.FetchRetries = other.Indexer.FetchRetries
	}
	if other.Indexer.RebuildOnStart {
		c.Indexer.RebuildOnStart = true
	}
	if other.Search.TitleBoost != 0 {
		c.Search.TitleBoost = other.Search.TitleBoost
	}
	if other.Search.CommentsBoost != 0 {
		c.Search.CommentsBoost = other.Search.CommentsBoost
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.MaxConcurrent != 0 {
		c.Search.MaxConcurrent = other.Search.MaxConcurrent
	}
	if other.Notify.PollInterval != "" {
		c.Notify.PollInterval = other.Notify.PollInterval
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Dir != "" {
		c.Logging.Dir = other.Logging.Dir
	}
}

// applyEnvOverrides applies BLOGSEARCH_* environment variables, which
// take precedence over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BLOGSEARCH_INDEX_DIR"); v != "" {
		c.Paths.IndexDir = v
	}
	if v := os.Getenv("BLOGSEARCH_ENTRY_DB"); v != "" {
		c.Paths.EntryDB = v
	}
	if v := os.Getenv("BLOGSEARCH_QUEUE_HIGH_WATER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.HighWater = n
		}
	}
	if v := os.Getenv("BLOGSEARCH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Indexer.BatchSize = n
		}
	}
	if v := os.Getenv("BLOGSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// PollInterval parses the notify poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	if c.Notify.PollInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Notify.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid notify.poll_interval %q: %w", c.Notify.PollInterval, err)
	}
	return d, nil
}

// Validate checks the final configuration for consistency.
func (c *Config) Validate() error {
	if c.Queue.HighWater < 0 {
		return fmt.Errorf("queue.high_water must be non-negative, got %d", c.Queue.HighWater)
	}
	if c.Queue.LowWater < 0 {
		return fmt.Errorf("queue.low_water must be non-negative, got %d", c.Queue.LowWater)
	}
	if c.Queue.HighWater > 0 && c.Queue.LowWater > c.Queue.HighWater {
		return fmt.Errorf("queue.low_water must not exceed queue.high_water, got %d > %d",
			c.Queue.LowWater, c.Queue.HighWater)
	}
	if c.Indexer.BatchSize < 1 {
		return fmt.Errorf("indexer.batch_size must be positive, got %d", c.Indexer.BatchSize)
	}
	if c.Indexer.FetchRetries < 0 {
		return fmt.Errorf("indexer.fetch_retries must be non-negative, got %d", c.Indexer.FetchRetries)
	}
	if c.Search.TitleBoost <= 0 {
		return fmt.Errorf("search.title_boost must be positive, got %f", c.Search.TitleBoost)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.MaxConcurrent < 1 {
		return fmt.Errorf("search.max_concurrent must be positive, got %d", c.Search.MaxConcurrent)
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
