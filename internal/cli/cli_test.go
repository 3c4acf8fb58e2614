package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnpoll/internal/config"
)

// run executes the command line against a throwaway config and database.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HNPOLL_DB_PATH", filepath.Join(dir, "hn.db"))
	t.Setenv("HNPOLL_CONFIG", "")

	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote ")

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.FeedNew, cfg.Fetch.Feed)

	_, err = run(t, dir, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, dir, "config", "init", "--force")
	require.NoError(t, err)
}

func TestShow_EmptyDatabase(t *testing.T) {
	out, err := run(t, t.TempDir(), "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No stories match.")
}

func TestCache_SetListClear(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "cache", "set", "www.Example.com", "85")
	require.NoError(t, err)
	assert.Equal(t, "pinned example.com at 85\n", out)

	out, err = run(t, dir, "cache", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "example.com")
	assert.Contains(t, out, "yes")

	out, err = run(t, dir, "cache", "clear", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "cleared example.com\n", out)

	out, err = run(t, dir, "cache", "clear", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com was not cached\n", out)
}

func TestCache_SetRejectsOutOfRange(t *testing.T) {
	_, err := run(t, t.TempDir(), "cache", "set", "example.com", "101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 100")
}

func TestReset_RequiresConfirmation(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "reset")
	require.Error(t, err)

	out, err := run(t, dir, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "reset complete")
	_, statErr := os.Stat(filepath.Join(dir, "hn.db"))
	assert.NoError(t, statErr)
}

func TestSync_WithoutTokenFails(t *testing.T) {
	t.Setenv("READWISE_API_KEY", "")
	_, err := run(t, t.TempDir(), "sync")
	assert.ErrorIs(t, err, errNoReadwiseToken)
}

func TestRun_WithoutScoringCredentialsStillFetches(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("READWISE_API_KEY", "")
	var itemHits atomic.Int32
	hn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/topstories.json":
			fmt.Fprint(w, `[1]`)
		case "/item/1.json":
			itemHits.Add(1)
			fmt.Fprintf(w, `{"id":1,"type":"story","title":"One","url":"https://one.example","score":5,"time":%d}`, time.Now().Unix())
		default:
			http.NotFound(w, r)
		}
	}))
	defer hn.Close()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.HackerNews.BaseURL = hn.URL
	require.NoError(t, config.Save(cfg, filepath.Join(dir, "config.yaml")))

	out, err := run(t, dir, "run", "--feed", "top")
	require.NoError(t, err)
	assert.Contains(t, out, "Run ")
	assert.NotContains(t, out, "score")
	assert.Equal(t, int32(1), itemHits.Load())

	out, err = run(t, dir, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "One")
}

func TestFlagOverridesOnlyWhenSet(t *testing.T) {
	a := &app{cfg: config.Default()}
	cmd := &cobra.Command{}
	cmd.Flags().Int("hours", 0, "")
	cmd.Flags().Int("min-relevance", 0, "")
	cmd.Flags().Float64("weight", 0, "")
	cmd.Flags().Bool("dry-run", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--min-relevance", "0", "--weight", "3", "--dry-run"}))

	opts := a.syncOptions(cmd)
	assert.Equal(t, 24, opts.Hours, "unset flag keeps the configured value")
	assert.Equal(t, 0, opts.MinRelevance, "explicit zero overrides the configured 75")
	assert.Equal(t, 1.0, opts.Weight)
	assert.True(t, opts.DryRun)
	assert.Equal(t, 20, opts.MaxStories, "flag not registered on this command")

	defaults := a.extractOptions(nil)
	assert.Equal(t, a.cfg.Content.ErrorBackoff, defaults.ErrorBackoff)
	assert.False(t, defaults.Force)
}
