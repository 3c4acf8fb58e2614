package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, FeedNew, cfg.Fetch.Feed)
	assert.Equal(t, 0.7, cfg.Sync.HNWeight)
	assert.Equal(t, 75, cfg.Sync.MinRelevance)
	assert.Equal(t, 200, cfg.Content.MinTextLength)
	assert.Contains(t, cfg.Content.BlockedDomains, "x.com")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
fetch:
  feed: top
  limit: 50
content:
  timeout: 5s
  blocked_domains: [example.com]
sync:
  hn_weight: 1.5
scoring:
  domain_cache:
    mode: short_circuit
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, FeedTop, cfg.Fetch.Feed)
	assert.Equal(t, 50, cfg.Fetch.Limit)
	assert.Equal(t, 100, cfg.Fetch.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Content.Timeout)
	assert.Equal(t, []string{"example.com"}, cfg.Content.BlockedDomains)
	assert.Equal(t, 1.0, cfg.Sync.HNWeight, "weight is clamped")
	assert.Equal(t, CacheShortCircuit, cfg.Scoring.DomainCache.Mode)
}

func TestLoad_RejectsUnknownFeed(t *testing.T) {
	_, err := Load(writeConfig(t, "fetch:\n  feed: ask\n"))
	assert.ErrorContains(t, err, "fetch.feed")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("READWISE_API_KEY", "rw-token")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("HNPOLL_DB_PATH", "/tmp/hn.db")

	cfg, err := Load(writeConfig(t, "readwise:\n  api_token: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "rw-token", cfg.Readwise.APIToken)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
	assert.Equal(t, "/tmp/hn.db", cfg.Database.Path)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Fetch.Feed = FeedBest
	cfg.Readwise.RequestsPerSecond = 2

	require.NoError(t, Save(cfg, path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, FeedBest, loaded.Fetch.Feed)
	assert.Equal(t, 2.0, loaded.Readwise.RequestsPerSecond)
	assert.Equal(t, cfg.Content.ErrorBackoff, loaded.Content.ErrorBackoff)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data", "hn.db"), expandPath("~/data/hn.db"))
	assert.Equal(t, "/abs/hn.db", expandPath("/abs/hn.db"))
	assert.Equal(t, "~user/x", expandPath("~user/x"))
}
