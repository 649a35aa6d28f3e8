// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends supported for metadata persistence.
const (
	StoreCSV      = "csv"
	StorePostgres = "postgres"
)

// Config captures every knob the harvester consumes at startup.
type Config struct {
	Output  OutputConfig  `mapstructure:"output"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Rate    RateConfig    `mapstructure:"rate"`
	Search  SearchConfig  `mapstructure:"search"`
	Store   StoreConfig   `mapstructure:"store"`
	YtDlp   YtDlpConfig   `mapstructure:"ytdlp"`
	Ops     OpsConfig     `mapstructure:"ops"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// OutputConfig sets where artifacts land.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// HarvestConfig governs the orchestrator.
type HarvestConfig struct {
	MaxVideos          int      `mapstructure:"max_videos"`
	MinDurationSeconds int      `mapstructure:"min_duration_seconds"`
	MaxDurationSeconds int      `mapstructure:"max_duration_seconds"`
	Concurrency        int      `mapstructure:"concurrency"`
	SearchTerms        []string `mapstructure:"search_terms"`
}

// RetryConfig parameterizes the per-strategy retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateConfig parameterizes the shared request gate.
type RateConfig struct {
	MinInterval    time.Duration `mapstructure:"min_interval"`
	JitterInterval time.Duration `mapstructure:"jitter_interval"`
	MaxInterval    time.Duration `mapstructure:"max_interval"`
}

// SearchConfig selects and tunes the candidate source.
type SearchConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
	UseBrowser bool   `mapstructure:"use_browser"`
}

// StoreConfig selects the metadata backend.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// YtDlpConfig locates the extractor binary.
type YtDlpConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OpsConfig controls the diagnostics HTTP listener. Zero port disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VIDHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", "./downloaded_videos")
	v.SetDefault("harvest.max_videos", 50)
	v.SetDefault("harvest.min_duration_seconds", 5)
	v.SetDefault("harvest.max_duration_seconds", 300)
	v.SetDefault("harvest.concurrency", 1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("rate.min_interval", "1s")
	v.SetDefault("rate.jitter_interval", "2s")
	v.SetDefault("rate.max_interval", "60s")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.max_results", 30)
	v.SetDefault("search.use_browser", false)
	v.SetDefault("store.backend", StoreCSV)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.postgres_table", "video_metadata")
	v.SetDefault("ytdlp.path", "yt-dlp")
	v.SetDefault("ytdlp.timeout", "10m")
	v.SetDefault("ops.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and sane bounds. Violations are fatal at
// startup, before any candidate is touched.
func (c Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Harvest.MaxVideos <= 0 {
		return fmt.Errorf("harvest.max_videos must be > 0")
	}
	if c.Harvest.MinDurationSeconds < 0 {
		return fmt.Errorf("harvest.min_duration_seconds must be >= 0")
	}
	if c.Harvest.MinDurationSeconds > c.Harvest.MaxDurationSeconds {
		return fmt.Errorf("harvest.min_duration_seconds must not exceed harvest.max_duration_seconds")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Rate.MinInterval <= 0 {
		return fmt.Errorf("rate.min_interval must be > 0")
	}
	switch c.Store.Backend {
	case StoreCSV:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q", StoreCSV, StorePostgres)
	}
	if !c.Search.UseBrowser && c.Search.APIKey == "" {
		return fmt.Errorf("search.api_key must be set unless search.use_browser is enabled")
	}
	return nil
}
