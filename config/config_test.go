package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"monitor": {"seed_nodes": ["https://file-seed.example:3001"], "crawl_chunk_size": 4},
		"node": {"request_timeout_ms": 2000}
	}`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ENRICH_CHUNK_SIZE", "7")
	t.Setenv("REQUEST_TIMEOUT_MARGIN", "1.5")
	t.Setenv("MONGODB_ENABLED", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://file-seed.example:3001"}, cfg.Monitor.SeedNodes)
	assert.Equal(t, 4, cfg.Monitor.CrawlChunkSize)
	assert.Equal(t, 7, cfg.Monitor.EnrichChunkSize)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeoutDuration())
	assert.Equal(t, 1.5, cfg.Node.TimeoutMargin)
	assert.False(t, cfg.MongoDB.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)

	// Untouched values keep their defaults.
	assert.Equal(t, 3001, cfg.Node.APIHTTPSPort)
	assert.Equal(t, 72*time.Hour, cfg.KeepStaleDuration())
	assert.Equal(t, 300*time.Second, cfg.IntervalDuration())
}

func TestSeedNodesFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("NODES", "https://one.example:3001,https://two.example:3001")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Monitor.SeedNodes, 2)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Monitor.SeedNodes = []string{"https://seed.example:3001"}
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no seeds", func(c *Config) { c.Monitor.SeedNodes = nil }},
		{"zero crawl chunk", func(c *Config) { c.Monitor.CrawlChunkSize = 0 }},
		{"zero enrich chunk", func(c *Config) { c.Monitor.EnrichChunkSize = 0 }},
		{"zero timeout", func(c *Config) { c.Node.RequestTimeout = 0 }},
		{"margin below one", func(c *Config) { c.Node.TimeoutMargin = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
