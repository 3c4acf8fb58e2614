package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/thomaskoefod/hnpoll/internal/ai"
	"github.com/thomaskoefod/hnpoll/internal/cache"
	"github.com/thomaskoefod/hnpoll/internal/config"
	"github.com/thomaskoefod/hnpoll/internal/content"
	"github.com/thomaskoefod/hnpoll/internal/database"
	"github.com/thomaskoefod/hnpoll/internal/feed"
	"github.com/thomaskoefod/hnpoll/internal/hackernews"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/metrics"
	"github.com/thomaskoefod/hnpoll/internal/pipeline"
	"github.com/thomaskoefod/hnpoll/internal/readwise"
	"github.com/thomaskoefod/hnpoll/internal/retry"
)

// app carries everything commands share. Clients are built lazily so a
// command only needs the credentials it actually uses.
type app struct {
	cfgPath string
	debug   bool
	out     io.Writer

	cfg     *config.Config
	log     logger.Logger
	db      *database.DB
	redis   *redis.Client
	metrics *metrics.Recorder
}

func (a *app) setup() error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	path := a.cfgPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	a.metrics = metrics.New()
	return nil
}

// runE wraps a command body so metrics are pushed and resources released
// whether or not it fails.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.close()
		defer a.pushMetrics(cmd.Context())
		return fn(cmd, args)
	}
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("closing database", logger.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// pushMetrics sends this process's metrics to the Pushgateway, if one is
// configured. Failures are logged, never returned.
func (a *app) pushMetrics(ctx context.Context) {
	pusher := metrics.NewPusher(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, nil)
	if pusher == nil {
		return
	}
	host, _ := os.Hostname()
	if err := pusher.Push(ctx, a.metrics, host); err != nil {
		a.log.Warn("metrics push failed", logger.Error(err))
	}
}

func (a *app) openDB() (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.New(a.cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func policy(maxAttempts int, base, maxDelay time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if base > 0 {
		p.BaseDelay = base
	}
	if maxDelay > 0 {
		p.MaxDelay = maxDelay
	}
	return p
}

func (a *app) hnClient() *hackernews.Client {
	hn := a.cfg.HackerNews
	return hackernews.NewClient(hackernews.Options{
		BaseURL:           hn.BaseURL,
		Timeout:           hn.Timeout,
		Concurrency:       hn.Concurrency,
		RequestsPerSecond: hn.RequestsPerSecond,
		Policy:            policy(hn.MaxAttempts, 0, 0),
	}, a.log.With(logger.String("component", "hackernews")))
}

// domainCache returns the configured verdict cache backend.
func (a *app) domainCache(ctx context.Context) (cache.Store, error) {
	switch a.cfg.Scoring.DomainCache.Backend {
	case config.BackendRedis:
		if a.redis == nil {
			client, err := cache.NewClient(ctx, cache.Config{
				Addr:     a.cfg.Redis.Addr,
				Password: a.cfg.Redis.Password,
				DB:       a.cfg.Redis.DB,
			})
			if err != nil {
				return nil, err
			}
			a.redis = client
		}
		return cache.NewRedisDomainCache(a.redis, a.cfg.Redis.KeyPrefix), nil
	default:
		db, err := a.openDB()
		if err != nil {
			return nil, err
		}
		return database.NewDomainCache(db), nil
	}
}

// scoringConfigured reports whether the selected provider has what it needs
// to build a completer. Ollama needs no credentials.
func (a *app) scoringConfigured() bool {
	if a.cfg.Scoring.Provider == config.ProviderOllama {
		return true
	}
	return a.cfg.Anthropic.APIKey != ""
}

func (a *app) completer() (ai.Completer, error) {
	switch a.cfg.Scoring.Provider {
	case config.ProviderOllama:
		return ai.NewOllamaCompleter(a.cfg.Ollama.Host, a.cfg.Ollama.Model, nil), nil
	default:
		c := a.cfg.Anthropic
		return ai.NewAnthropicCompleter(ai.AnthropicOptions{
			APIKey:    c.APIKey,
			Model:     c.Model,
			BaseURL:   c.BaseURL,
			MaxTokens: c.MaxTokens,
			Timeout:   c.Timeout,
		})
	}
}

func (a *app) scorer(ctx context.Context, concurrency int) (*ai.Scorer, error) {
	completer, err := a.completer()
	if err != nil {
		return nil, err
	}

	sc := a.cfg.Scoring
	var dc ai.DomainCache
	if sc.DomainCache.Mode != config.CacheOff {
		store, err := a.domainCache(ctx)
		if err != nil {
			return nil, err
		}
		dc = store
	}

	system, tmpl, err := ai.LoadPrompts(sc.SystemPromptPath, sc.PromptTemplatePath)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = sc.Concurrency
	}

	return ai.NewScorer(completer, dc, ai.Options{
		CacheMode:      sc.DomainCache.Mode,
		MinSamples:     sc.DomainCache.MinSamples,
		IncludeContent: sc.IncludeContent,
		Concurrency:    concurrency,
		Policy:         policy(sc.MaxAttempts, 0, 0),
		SystemPrompt:   system,
		PromptTemplate: tmpl,
	}, a.log.With(logger.String("component", "scorer"), logger.String("provider", sc.Provider)))
}

func (a *app) extractor() *content.Extractor {
	c := a.cfg.Content
	return content.New(content.Options{
		Timeout:        c.Timeout,
		Policy:         policy(c.MaxAttempts, c.BaseDelay, c.MaxDelay),
		MinTextLength:  c.MinTextLength,
		SummaryChars:   c.SummaryChars,
		UserAgent:      c.UserAgent,
		BlockedDomains: c.BlockedDomains,
	}, a.log.With(logger.String("component", "extractor")))
}

var errNoReadwiseToken = errors.New("readwise api token is not set (READWISE_API_KEY)")

func (a *app) readwiseClient() (*readwise.Client, error) {
	rw := a.cfg.Readwise
	if rw.APIToken == "" {
		return nil, errNoReadwiseToken
	}
	return readwise.NewClient(readwise.Options{
		BaseURL:           rw.BaseURL,
		APIToken:          rw.APIToken,
		Timeout:           rw.Timeout,
		RequestsPerSecond: rw.RequestsPerSecond,
		Policy:            policy(rw.MaxAttempts, rw.BaseDelay, 0),
		Author:            rw.Author,
		Tags:              rw.Tags,
	}, a.log.With(logger.String("component", "readwise"))), nil
}

// needs selects which optional components a command builds.
type needs struct {
	scorer      bool
	concurrency int
	extractor   bool
	syncer      bool
	prober      bool
}

func (a *app) pipeline(ctx context.Context, n needs) (*pipeline.Pipeline, *database.DB, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, nil, err
	}
	hn := a.hnClient()

	deps := pipeline.Deps{
		Store:   db,
		Fetcher: feed.NewFetcher(hn, db, a.log.With(logger.Stage(pipeline.StageFetch))),
		Metrics: a.metrics,
	}
	if n.scorer {
		s, err := a.scorer(ctx, n.concurrency)
		if err != nil {
			return nil, nil, err
		}
		deps.Scorer = s
	}
	if n.extractor {
		deps.Extractor = a.extractor()
	}
	if n.syncer {
		rw, err := a.readwiseClient()
		if err != nil {
			return nil, nil, err
		}
		var prober readwise.Prober
		if a.cfg.Sync.VerifyExists {
			prober = hn
		}
		deps.Syncer = readwise.NewSyncer(rw, db, prober, a.log.With(logger.Stage(pipeline.StageSync)))
	}
	if n.prober {
		deps.Prober = hn
	}

	return pipeline.New(deps, a.log), db, nil
}
