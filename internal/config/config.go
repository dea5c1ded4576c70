// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/seoscope/geoaudit/internal/pipeline"
	"github.com/seoscope/geoaudit/internal/score"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Auth     AuthConfig            `mapstructure:"auth"`
	Audit    AuditConfig           `mapstructure:"audit"`
	Crawl    CrawlConfig           `mapstructure:"crawl"`
	Stages   pipeline.StageWeights `mapstructure:"stages"`
	Scoring  score.Weights         `mapstructure:"scoring"`
	Storage  StorageConfig         `mapstructure:"storage"`
	Archive  ArchiveConfig         `mapstructure:"archive"`
	DB       DBConfig              `mapstructure:"db"`
	PubSub   PubSubConfig          `mapstructure:"pubsub"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Progress ProgressConfig        `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AuditConfig governs pipeline behavior.
type AuditConfig struct {
	MaxConcurrent   int `mapstructure:"max_concurrent"`
	PageConcurrency int `mapstructure:"page_concurrency"`
	MaxPages        int `mapstructure:"max_pages"`
	StoreRetries    int `mapstructure:"store_retries"`
}

// CrawlConfig controls the site collector.
type CrawlConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Parallelism    int    `mapstructure:"parallelism"`
}

// StorageConfig picks the audit store backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
}

// ArchiveConfig picks where raw page HTML snapshots go.
type ArchiveConfig struct {
	// Backend is "memory", "local", or "gcs".
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds the completed-audit export topic; exporting is off when
// the project is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig tunes the batching hub behind the progress sinks.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GEOAUDIT")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("audit.max_concurrent", 4)
	v.SetDefault("audit.page_concurrency", 5)
	v.SetDefault("audit.max_pages", 50)
	v.SetDefault("audit.store_retries", 3)
	v.SetDefault("crawl.user_agent", "geoaudit-bot/0.1")
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("crawl.parallelism", 2)
	stages := pipeline.DefaultStageWeights()
	v.SetDefault("stages.crawling", stages.Crawling)
	v.SetDefault("stages.analyzing", stages.Analyzing)
	v.SetDefault("stages.scoring", stages.Scoring)
	v.SetDefault("stages.recommending", stages.Recommending)
	v.SetDefault("stages.comparing", stages.Comparing)
	scoring := score.DefaultWeights()
	v.SetDefault("scoring.structure", scoring.Structure)
	v.SetDefault("scoring.content", scoring.Content)
	v.SetDefault("scoring.eeat", scoring.EEAT)
	v.SetDefault("scoring.schema", scoring.Schema)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Audit.MaxConcurrent <= 0 {
		return fmt.Errorf("audit.max_concurrent must be > 0")
	}
	if c.Audit.PageConcurrency <= 0 {
		return fmt.Errorf("audit.page_concurrency must be > 0")
	}
	if c.Audit.MaxPages <= 0 {
		return fmt.Errorf("audit.max_pages must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if err := c.Stages.Validate(); err != nil {
		return err
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.backend is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be memory, local, or gcs, got %q", c.Archive.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CrawlTimeout converts the collector timeout into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// BatchWait converts the hub flush interval into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
