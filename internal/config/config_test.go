package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoadDefaults loads a valid config from defaults alone.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "memory", cfg.Archive.Backend)
	require.Equal(t, 4, cfg.Audit.MaxConcurrent)
	require.Equal(t, 50, cfg.Audit.MaxPages)
	require.NoError(t, cfg.Stages.Validate())
	require.NoError(t, cfg.Scoring.Validate())
}

// TestLoadFromFile overrides defaults from a YAML file.
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
audit:
  max_pages: 5
crawl:
  user_agent: test-agent
stages:
  crawling: 60
  analyzing: 10
  scoring: 10
  recommending: 10
  comparing: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 5, cfg.Audit.MaxPages)
	require.Equal(t, "test-agent", cfg.Crawl.UserAgent)
	require.Equal(t, 60, cfg.Stages.Crawling)
}

// TestLoadMissingFile surfaces the read error.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// TestValidateRejectsBadValues covers the validation rules.
func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"zero port":              func(c *Config) { c.Server.Port = 0 },
		"zero concurrency":       func(c *Config) { c.Audit.MaxConcurrent = 0 },
		"zero page concurrency":  func(c *Config) { c.Audit.PageConcurrency = 0 },
		"zero max pages":         func(c *Config) { c.Audit.MaxPages = 0 },
		"zero crawl timeout":     func(c *Config) { c.Crawl.TimeoutSeconds = 0 },
		"bad stage weights":      func(c *Config) { c.Stages.Crawling = 99 },
		"bad score weights":      func(c *Config) { c.Scoring.Structure = 0.9 },
		"unknown store backend":  func(c *Config) { c.Storage.Backend = "cassandra" },
		"postgres without dsn":   func(c *Config) { c.Storage.Backend = "postgres" },
		"unknown archive":        func(c *Config) { c.Archive.Backend = "s3" },
		"local without dir":      func(c *Config) { c.Archive.Backend = "local"; c.Archive.LocalDir = "" },
		"gcs without bucket":     func(c *Config) { c.Archive.Backend = "gcs" },
		"pubsub without topic":   func(c *Config) { c.PubSub.ProjectID = "proj" },
		"auth without key":       func(c *Config) { c.Auth.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

// TestEnvOverride picks configuration from the environment.
func TestEnvOverride(t *testing.T) {
	t.Setenv("GEOAUDIT_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}
