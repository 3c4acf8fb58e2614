package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/thomaskoefod/hnpoll/internal/config"
	"github.com/thomaskoefod/hnpoll/internal/feed"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/pipeline"
	"github.com/thomaskoefod/hnpoll/internal/readwise"
	"github.com/thomaskoefod/hnpoll/internal/report"
	"github.com/thomaskoefod/hnpoll/internal/tui"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

// Flags only override config when the user set them explicitly. A nil
// command yields the configured defaults.

func changed(cmd *cobra.Command, name string) bool {
	return cmd != nil && cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name)
}

func overrideInt(cmd *cobra.Command, name string, dst *int) {
	if changed(cmd, name) {
		*dst, _ = cmd.Flags().GetInt(name)
	}
}

func overrideFloat(cmd *cobra.Command, name string, dst *float64) {
	if changed(cmd, name) {
		*dst, _ = cmd.Flags().GetFloat64(name)
	}
}

func overrideBool(cmd *cobra.Command, name string, dst *bool) {
	if changed(cmd, name) {
		*dst, _ = cmd.Flags().GetBool(name)
	}
}

func overrideString(cmd *cobra.Command, name string, dst *string) {
	if changed(cmd, name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}

func (a *app) fetchOptions(cmd *cobra.Command) feed.Options {
	f := a.cfg.Fetch
	opts := feed.Options{
		Feed:       f.Feed,
		Limit:      f.Limit,
		Hours:      f.Hours,
		MinScore:   f.MinScore,
		BatchSize:  f.BatchSize,
		MaxBatches: f.MaxBatches,

		SummaryChars: a.cfg.Content.SummaryChars,
	}
	overrideString(cmd, "feed", &opts.Feed)
	overrideInt(cmd, "limit", &opts.Limit)
	overrideInt(cmd, "hours", &opts.Hours)
	overrideInt(cmd, "min-score", &opts.MinScore)
	overrideInt(cmd, "batch-size", &opts.BatchSize)
	overrideInt(cmd, "max-batches", &opts.MaxBatches)
	return opts
}

func newFetchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Ingest stories from Hacker News",
		Long: `Ingest stories from the top, best or new list.

top and best take the ranked list once and keep stories inside the time window
with at least min-score points. new walks backwards from the newest item until
it reaches the previous run's watermark, or the time window on a first run.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String("feed", "", "top, best or new")
	cmd.Flags().Int("limit", 0, "max ids to take from top/best")
	cmd.Flags().Int("hours", 0, "time window in hours")
	cmd.Flags().Int("min-score", 0, "minimum HN points (top/best)")
	cmd.Flags().Int("batch-size", 0, "items per batch when walking new")
	cmd.Flags().Int("max-batches", 0, "max batches per run when walking new")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		p, db, err := a.pipeline(ctx, needs{})
		if err != nil {
			return err
		}
		meta, err := db.LoadRunMetadata(ctx)
		if err != nil {
			return err
		}

		rep, _, err := p.Fetch(ctx, meta, a.fetchOptions(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, report.Fetch(rep))
		return nil
	})
	return cmd
}

func (a *app) scoreOptions(cmd *cobra.Command) pipeline.ScoreOptions {
	s := a.cfg.Scoring
	opts := pipeline.ScoreOptions{Hours: s.Hours, MinScore: s.MinScore, MaxStories: s.MaxStories}
	overrideInt(cmd, "hours", &opts.Hours)
	overrideInt(cmd, "min-score", &opts.MinScore)
	overrideInt(cmd, "max-stories", &opts.MaxStories)
	overrideBool(cmd, "rescore", &opts.Rescore)
	return opts
}

func newScoreCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score unscored stories for relevance",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Int("hours", 0, "only stories submitted in the last N hours (0 = all)")
	cmd.Flags().Int("min-score", 0, "minimum HN points")
	cmd.Flags().Int("max-stories", 0, "max stories to score this run (0 = all)")
	cmd.Flags().Bool("rescore", false, "also re-score stories that already have a score")
	cmd.Flags().Int("concurrency", 0, "parallel scoring requests")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		p, _, err := a.pipeline(ctx, needs{scorer: true, concurrency: concurrency})
		if err != nil {
			return err
		}

		rep, err := p.Score(ctx, a.scoreOptions(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d candidates: %d scored (%d from cache), %d failed\n",
			rep.Candidates, rep.Scored, rep.FromCache, rep.Failed)
		return nil
	})
	return cmd
}

func (a *app) extractOptions(cmd *cobra.Command) pipeline.ExtractOptions {
	c := a.cfg.Content
	opts := pipeline.ExtractOptions{
		Hours:        c.Hours,
		MinRelevance: c.MinRelevance,
		Limit:        c.Limit,
		ErrorBackoff: c.ErrorBackoff,
		Concurrency:  c.Concurrency,
	}
	overrideInt(cmd, "hours", &opts.Hours)
	overrideInt(cmd, "min-relevance", &opts.MinRelevance)
	overrideInt(cmd, "limit", &opts.Limit)
	overrideBool(cmd, "retry-errors", &opts.RetryErrors)
	overrideBool(cmd, "force", &opts.Force)
	return opts
}

func newExtractCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Fetch article text for stored stories",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Int("hours", 0, "only stories submitted in the last N hours")
	cmd.Flags().Int("min-relevance", 0, "only stories with at least this relevance")
	cmd.Flags().Int("limit", 0, "max stories this run")
	cmd.Flags().Bool("retry-errors", false, "retry failed extractions without waiting for the backoff")
	cmd.Flags().Bool("force", false, "also retry stories marked unavailable")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		p, _, err := a.pipeline(ctx, needs{extractor: true})
		if err != nil {
			return err
		}
		rep, err := p.Extract(ctx, a.extractOptions(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d candidates: %d fetched, %d errors, %d unavailable\n",
			rep.Candidates, rep.Fetched, rep.Errors, rep.Unavailable)
		return nil
	})
	return cmd
}

func newShowCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List stored stories ranked by combined score",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Int("hours", 0, "time window in hours")
	cmd.Flags().Int("min-score", 0, "minimum HN points")
	cmd.Flags().Int("min-relevance", 0, "minimum relevance")
	cmd.Flags().Int("limit", 0, "max stories to list")
	cmd.Flags().Float64("weight", 0, "weight of HN points in the combined score, 0..1")
	cmd.Flags().Bool("content", false, "print the extracted summary under each story")
	cmd.Flags().Int64("id", 0, "print one story in full")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		p, db, err := a.pipeline(ctx, needs{})
		if err != nil {
			return err
		}

		if id, _ := cmd.Flags().GetInt64("id"); id > 0 {
			s, err := db.GetStory(ctx, id)
			if err != nil {
				return err
			}
			return report.StoryDetail(a.out, *s, a.cfg.UI.GlamourStyle)
		}

		sc := a.cfg.Show
		opts := pipeline.ShowOptions{
			Hours:        sc.Hours,
			MinScore:     sc.MinScore,
			MinRelevance: sc.MinRelevance,
			Limit:        sc.Limit,
			Weight:       sc.HNWeight,
		}
		overrideInt(cmd, "hours", &opts.Hours)
		overrideInt(cmd, "min-score", &opts.MinScore)
		overrideInt(cmd, "min-relevance", &opts.MinRelevance)
		overrideInt(cmd, "limit", &opts.Limit)
		overrideFloat(cmd, "weight", &opts.Weight)
		opts.Weight = config.ClampWeight(opts.Weight)

		ranked, err := p.Show(ctx, opts)
		if err != nil {
			return err
		}
		withContent, _ := cmd.Flags().GetBool("content")
		report.Stories(a.out, ranked, withContent)
		return nil
	})
	return cmd
}

func (a *app) syncOptions(cmd *cobra.Command) pipeline.SyncOptions {
	s := a.cfg.Sync
	opts := pipeline.SyncOptions{
		Hours:        s.Hours,
		MinScore:     s.MinScore,
		MinRelevance: s.MinRelevance,
		MinComments:  s.MinComments,
		MaxStories:   s.MaxStories,
		Weight:       s.HNWeight,
		VerifyExists: s.VerifyExists,
	}
	overrideInt(cmd, "hours", &opts.Hours)
	overrideInt(cmd, "min-score", &opts.MinScore)
	overrideInt(cmd, "min-relevance", &opts.MinRelevance)
	overrideInt(cmd, "min-comments", &opts.MinComments)
	overrideInt(cmd, "max", &opts.MaxStories)
	overrideFloat(cmd, "weight", &opts.Weight)
	overrideBool(cmd, "dry-run", &opts.DryRun)
	opts.Weight = config.ClampWeight(opts.Weight)
	return opts
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().Int("min-score", 0, "minimum HN points to sync")
	cmd.Flags().Int("min-relevance", 0, "minimum relevance to sync")
	cmd.Flags().Int("min-comments", 0, "minimum comment count to sync")
	cmd.Flags().Int("max", 0, "max documents to save this run")
	cmd.Flags().Float64("weight", 0, "weight of HN points in the combined score, 0..1")
}

func newSyncCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver the best unsynced stories to Readwise Reader",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Int("hours", 0, "time window in hours")
	addSyncFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "report what would be saved without saving")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		p, _, err := a.pipeline(ctx, needs{syncer: true})
		if err != nil {
			return err
		}
		opts := a.syncOptions(cmd)
		res, err := p.Sync(ctx, opts)
		if err != nil {
			return err
		}
		prefix := ""
		if opts.DryRun {
			prefix = "dry run: "
		}
		fmt.Fprintln(a.out, prefix+report.Sync(res))
		return nil
	})
	return cmd
}

func (a *app) cleanOptions(cmd *cobra.Command) pipeline.CleanOptions {
	opts := pipeline.CleanOptions{
		BatchSize:   a.cfg.Clean.BatchSize,
		MaxBatches:  a.cfg.Clean.MaxBatches,
		Concurrency: a.cfg.HackerNews.Concurrency,
	}
	overrideInt(cmd, "batch-size", &opts.BatchSize)
	overrideInt(cmd, "max-batches", &opts.MaxBatches)
	return opts
}

func newCleanCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete stored stories that are gone from Hacker News",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Int("batch-size", 0, "stories probed per batch")
	cmd.Flags().Int("max-batches", 0, "max batches this run")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		p, _, err := a.pipeline(ctx, needs{prober: true})
		if err != nil {
			return err
		}
		rep, err := p.Clean(ctx, a.cleanOptions(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d checked in %d batches: %d deleted, %d probe errors\n",
			rep.Checked, rep.Batches, rep.Deleted, rep.Errors)
		return nil
	})
	return cmd
}

func newRunCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run fetch, score and the enabled optional stages",
		Long: `Run the whole pipeline: fetch, score, then extract, sync and clean when
enabled. Extraction follows content.enabled and sync runs when a Readwise token
is configured; the flags override both.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String("feed", "", "top, best or new")
	cmd.Flags().Int("limit", 0, "max ids to take from top/best")
	cmd.Flags().Int("hours", 0, "fetch time window in hours")
	cmd.Flags().Int("min-score", 0, "minimum HN points for fetch and sync")
	cmd.Flags().Int("batch-size", 0, "items per batch when walking new")
	cmd.Flags().Int("max-batches", 0, "max batches per run when walking new")
	cmd.Flags().Bool("extract", false, "run content extraction")
	cmd.Flags().Bool("sync", false, "run Readwise sync")
	cmd.Flags().Bool("clean", false, "run the liveness clean")
	cmd.Flags().Bool("dry-run", false, "sync without saving")
	cmd.Flags().Int("min-relevance", 0, "minimum relevance to sync")
	cmd.Flags().Int("min-comments", 0, "minimum comment count to sync")
	cmd.Flags().Int("max", 0, "max documents to save this run")
	cmd.Flags().Float64("weight", 0, "weight of HN points in the combined score, 0..1")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := pipeline.RunOptions{
			Fetch:          a.fetchOptions(cmd),
			Score:          pipeline.ScoreOptions{Hours: a.cfg.Scoring.Hours, MinScore: a.cfg.Scoring.MinScore, MaxStories: a.cfg.Scoring.MaxStories},
			Extract:        a.extractOptions(nil),
			Sync:           a.syncOptions(cmd),
			Clean:          a.cleanOptions(nil),
			ExtractEnabled: a.cfg.Content.Enabled,
			SyncEnabled:    a.cfg.Readwise.APIToken != "",
		}
		opts.Sync.Hours = a.cfg.Sync.Hours
		overrideBool(cmd, "extract", &opts.ExtractEnabled)
		overrideBool(cmd, "sync", &opts.SyncEnabled)
		overrideBool(cmd, "clean", &opts.CleanEnabled)

		scoring := a.scoringConfigured()
		if !scoring {
			a.log.Warn("scoring provider has no credentials, run will skip scoring",
				logger.String("provider", a.cfg.Scoring.Provider))
		}

		p, db, err := a.pipeline(ctx, needs{
			scorer:    scoring,
			extractor: opts.ExtractEnabled,
			syncer:    opts.SyncEnabled,
			prober:    opts.CleanEnabled,
		})
		if err != nil {
			return err
		}
		meta, err := db.LoadRunMetadata(ctx)
		if err != nil {
			return err
		}

		rep, _, err := p.Run(ctx, meta, opts)
		report.Run(a.out, rep)
		return err
	})
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show relevance, content, sync and run statistics",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openDB()
			if err != nil {
				return err
			}

			var s report.Stats
			if s.Relevance, err = db.RelevanceStats(ctx); err != nil {
				return err
			}
			if s.Content, err = db.ContentStats(ctx); err != nil {
				return err
			}
			if s.Sync, err = db.SyncStats(ctx, a.cfg.Sync.MinRelevance); err != nil {
				return err
			}
			if s.Meta, err = db.LoadRunMetadata(ctx); err != nil {
				return err
			}
			report.PrintStats(a.out, s)
			return nil
		}),
	}
}

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and edit the per-domain relevance cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached domain verdicts",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			store, err := a.domainCache(cmd.Context())
			if err != nil {
				return err
			}
			verdicts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			report.DomainCache(a.out, verdicts)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <domain> <score>",
		Short: "Pin a domain to a fixed relevance score",
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			score, err := strconv.Atoi(args[1])
			if err != nil || score < 0 || score > 100 {
				return fmt.Errorf("score must be an integer between 0 and 100, got %q", args[1])
			}
			domain := models.Domain("https://" + args[0])
			if domain == "" {
				return fmt.Errorf("invalid domain %q", args[0])
			}
			store, err := a.domainCache(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Pin(cmd.Context(), domain, score); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "pinned %s at %d\n", domain, score)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [domain]",
		Short: "Drop one domain's verdict, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			store, err := a.domainCache(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				n, err := store.InvalidateAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "cleared %d domains\n", n)
				return nil
			}
			domain := models.Domain("https://" + args[0])
			removed, err := store.Invalidate(cmd.Context(), domain)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(a.out, "%s was not cached\n", domain)
				return nil
			}
			fmt.Fprintf(a.out, "cleared %s\n", domain)
			return nil
		}),
	})
	return cmd
}

func newBrowseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse ranked stories in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.browse(ctx)
		}),
	}
}

func newResetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all stories, run metadata and cached verdicts",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Bool("yes", false, "confirm the reset")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to reset without --yes")
		}
		ctx := cmd.Context()
		db, err := a.openDB()
		if err != nil {
			return err
		}
		if err := db.Reset(ctx); err != nil {
			return err
		}
		if a.cfg.Scoring.DomainCache.Backend == config.BackendRedis {
			store, err := a.domainCache(ctx)
			if err != nil {
				return err
			}
			if _, err := store.InvalidateAll(ctx); err != nil {
				return err
			}
		}
		a.log.Info("database reset", logger.String("path", a.cfg.Database.Path))
		fmt.Fprintln(a.out, "reset complete")
		return nil
	})
	return cmd
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the database, Readwise token and Redis connection",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var failed bool
			line := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Fprintf(a.out, "%-10s FAIL  %v\n", name, err)
					return
				}
				fmt.Fprintf(a.out, "%-10s ok\n", name)
			}

			_, err := a.openDB()
			line("database", err)

			if rw, err := a.readwiseClient(); err != nil {
				line("readwise", err)
			} else {
				line("readwise", rw.CheckAuth(ctx))
			}

			if a.cfg.Scoring.DomainCache.Backend == config.BackendRedis {
				_, err := a.domainCache(ctx)
				line("redis", err)
			}

			_, err = a.completer()
			line("scoring", err)

			if failed {
				return errors.New("some checks failed")
			}
			return nil
		}),
	}
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	initCmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		path := a.cfgPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		force, _ := cmd.Flags().GetBool("force")
		if !force && config.Exists(path) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %s\n", path)
		return nil
	})
	cmd.AddCommand(initCmd)
	return cmd
}

// browse wires the TUI to the pipeline. Fetching from the UI needs a scorer
// and saving needs a Readwise token; either is simply disabled when missing.
func (a *app) browse(ctx context.Context) error {
	p, db, err := a.pipeline(ctx, needs{scorer: true})
	if err != nil {
		a.log.Warn("scoring unavailable in browser", logger.Error(err))
		if p, db, err = a.pipeline(ctx, needs{}); err != nil {
			return err
		}
	}

	actions := tui.Actions{
		Load: func(ctx context.Context) ([]models.RankedStory, error) {
			return p.Show(ctx, pipeline.ShowOptions{
				Hours:  a.cfg.UI.Hours,
				Limit:  a.cfg.UI.Limit,
				Weight: a.cfg.Show.HNWeight,
			})
		},
		Refresh: func(ctx context.Context) (string, error) {
			meta, err := db.LoadRunMetadata(ctx)
			if err != nil {
				return "", err
			}
			fetched, _, err := p.Fetch(ctx, meta, a.fetchOptions(nil))
			if err != nil {
				return "", err
			}
			scored, err := p.Score(ctx, a.scoreOptions(nil))
			if errors.Is(err, pipeline.ErrScoringDisabled) {
				return fmt.Sprintf("Fetched %d new stories (scoring disabled)", fetched.Inserted), nil
			}
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Fetched %d new stories, scored %d", fetched.Inserted, scored.Scored), nil
		},
	}

	if rw, err := a.readwiseClient(); err == nil {
		actions.Save = func(ctx context.Context, s models.Story) error {
			if err := rw.Save(ctx, readwise.Document{URL: s.DeliveryURL(), Title: s.Title}); err != nil {
				return err
			}
			return db.MarkSynced(ctx, s.ID)
		}
	}

	m := tui.New(ctx, actions, a.cfg.UI.GlamourStyle)
	_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
