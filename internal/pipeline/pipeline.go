// Package pipeline drives stories through their lifecycle: ingest, score,
// extract, deliver and clean. It owns no state of its own; everything a run
// needs is handed in through Deps and RunMetadata.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thomaskoefod/hnpoll/internal/ai"
	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/content"
	"github.com/thomaskoefod/hnpoll/internal/database"
	"github.com/thomaskoefod/hnpoll/internal/feed"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/metrics"
	"github.com/thomaskoefod/hnpoll/internal/ranking"
	"github.com/thomaskoefod/hnpoll/internal/readwise"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

// Stage names, used in logs and metrics.
const (
	StageFetch   = "fetch"
	StageScore   = "score"
	StageExtract = "extract"
	StageSync    = "sync"
	StageClean   = "clean"
)

var (
	ErrScoringDisabled = errors.New("no relevance scorer configured")
	ErrExtractDisabled = errors.New("no content extractor configured")
	ErrSyncDisabled    = errors.New("readwise is not configured")
	ErrCleanDisabled   = errors.New("no liveness prober configured")
)

// Store is the part of the database each stage reads and writes.
type Store interface {
	ListStories(ctx context.Context, f database.StoryFilter) ([]models.Story, error)
	UnscoredStories(ctx context.Context, f database.StoryFilter) ([]models.Story, error)
	UnsyncedStories(ctx context.Context, f database.StoryFilter) ([]models.Story, error)
	UpdateRelevance(ctx context.Context, id int64, score int, force bool) (bool, error)
	RecordScoreError(ctx context.Context, id int64, fe *models.FetchError) error
	StoriesForExtraction(ctx context.Context, f database.ExtractionFilter) ([]models.Story, error)
	UpdateContent(ctx context.Context, id int64, u database.ContentUpdate, force bool) (bool, error)
	StoriesToVerify(ctx context.Context, limit int, exclude []int64) ([]int64, error)
	MarkVerified(ctx context.Context, ids ...int64) error
	DeleteStories(ctx context.Context, ids ...int64) (int64, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, meta models.RunMetadata, opts feed.Options) (feed.Report, models.RunMetadata, error)
}

type Scorer interface {
	ScoreBatch(ctx context.Context, stories []models.Story, onResult func(models.Story, ai.Result, error))
}

type Extractor interface {
	Extract(ctx context.Context, rawURL string) content.Result
}

type Syncer interface {
	Sync(ctx context.Context, candidates []models.RankedStory, opts readwise.SyncOptions) (models.SyncResult, error)
}

// Prober reports whether an item still exists upstream.
type Prober interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
}

// Deps wires the pipeline. Only Store is required; a stage whose component
// is nil returns its Err*Disabled sentinel.
type Deps struct {
	Store     Store
	Fetcher   Fetcher
	Scorer    Scorer
	Extractor Extractor
	Syncer    Syncer
	Prober    Prober
	Metrics   *metrics.Recorder
}

type Pipeline struct {
	store     Store
	fetcher   Fetcher
	scorer    Scorer
	extractor Extractor
	syncer    Syncer
	prober    Prober
	metrics   *metrics.Recorder
	log       logger.Logger
	now       func() time.Time
}

func New(deps Deps, log logger.Logger) *Pipeline {
	return &Pipeline{
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		scorer:    deps.Scorer,
		extractor: deps.Extractor,
		syncer:    deps.Syncer,
		prober:    deps.Prober,
		metrics:   deps.Metrics,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

func (p *Pipeline) since(hours int) time.Time {
	if hours <= 0 {
		return time.Time{}
	}
	return p.now().Add(-time.Duration(hours) * time.Hour)
}

// Fetch ingests new items and returns the metadata committed with the final
// batch. On error the returned metadata is the one passed in.
func (p *Pipeline) Fetch(ctx context.Context, meta models.RunMetadata, opts feed.Options) (feed.Report, models.RunMetadata, error) {
	if p.fetcher == nil {
		return feed.Report{}, meta, errors.New("no fetcher configured")
	}
	rep, next, err := p.fetcher.Fetch(ctx, meta, opts)
	p.metrics.ObserveFetch(rep.Inserted, rep.Updated, rep.Failed, next.LastOldestID)
	if err != nil {
		return rep, meta, err
	}
	return rep, next, nil
}

type ScoreOptions struct {
	Hours      int
	MinScore   int
	MaxStories int
	// Rescore also revisits scored stories and overwrites their score.
	Rescore bool
}

type ScoreReport struct {
	Candidates int `json:"candidates"`
	Scored     int `json:"scored"`
	FromCache  int `json:"from_cache"`
	Failed     int `json:"failed"`
	Unchanged  int `json:"unchanged"`
}

// Score rates unscored stories. A per-story failure is recorded against the
// story and the batch continues; a store failure stops the batch.
func (p *Pipeline) Score(ctx context.Context, opts ScoreOptions) (ScoreReport, error) {
	var rep ScoreReport
	if p.scorer == nil {
		return rep, ErrScoringDisabled
	}

	filter := database.StoryFilter{
		Since:    p.since(opts.Hours),
		MinScore: opts.MinScore,
		Limit:    opts.MaxStories,
	}
	var (
		stories []models.Story
		err     error
	)
	if opts.Rescore {
		stories, err = p.store.ListStories(ctx, filter)
	} else {
		stories, err = p.store.UnscoredStories(ctx, filter)
	}
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(stories)
	if len(stories) == 0 {
		return rep, nil
	}

	log := p.log.With(logger.Stage(StageScore))
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatal error
	p.scorer.ScoreBatch(batchCtx, stories, func(s models.Story, res ai.Result, err error) {
		if fatal != nil {
			return
		}
		if err != nil {
			if batchCtx.Err() != nil {
				return
			}
			rep.Failed++
			log.Warn("scoring failed",
				logger.StoryID(s.ID),
				logger.String("kind", apperr.KindOf(err).String()),
				logger.Error(err))
			if rerr := p.store.RecordScoreError(batchCtx, s.ID, apperr.ToFetchError(err)); rerr != nil {
				fatal = rerr
				cancel()
			}
			return
		}

		changed, uerr := p.store.UpdateRelevance(batchCtx, s.ID, res.Score, opts.Rescore)
		if uerr != nil {
			fatal = uerr
			cancel()
			return
		}
		if !changed {
			rep.Unchanged++
			return
		}
		rep.Scored++
		if res.FromCache {
			rep.FromCache++
		}
		log.Debug("story scored",
			logger.StoryID(s.ID),
			logger.Int("relevance", res.Score),
			logger.Bool("from_cache", res.FromCache))
	})

	p.metrics.ObserveScore(rep.Scored-rep.FromCache, rep.FromCache, rep.Failed)
	if fatal != nil {
		return rep, fatal
	}
	return rep, ctx.Err()
}

type ExtractOptions struct {
	Hours        int
	MinRelevance int
	Limit        int
	RetryErrors  bool
	Force        bool
	ErrorBackoff time.Duration
	Concurrency  int
}

type ExtractReport struct {
	Candidates  int `json:"candidates"`
	Fetched     int `json:"fetched"`
	Errors      int `json:"errors"`
	Unavailable int `json:"unavailable"`
	Unchanged   int `json:"unchanged"`
}

const defaultExtractConcurrency = 4

// Extract fetches article content for eligible stories and persists each
// outcome as it arrives.
func (p *Pipeline) Extract(ctx context.Context, opts ExtractOptions) (ExtractReport, error) {
	var rep ExtractReport
	if p.extractor == nil {
		return rep, ErrExtractDisabled
	}

	stories, err := p.store.StoriesForExtraction(ctx, database.ExtractionFilter{
		Since:        p.since(opts.Hours),
		MinRelevance: opts.MinRelevance,
		Limit:        opts.Limit,
		RetryErrors:  opts.RetryErrors,
		ErrorBackoff: opts.ErrorBackoff,
		Force:        opts.Force,
	})
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(stories)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultExtractConcurrency
	}
	log := p.log.With(logger.Stage(StageExtract))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, s := range stories {
		s := s
		g.Go(func() error {
			res := p.extractor.Extract(gctx, s.URL)
			if err := gctx.Err(); err != nil {
				return err
			}

			changed, err := p.store.UpdateContent(gctx, s.ID, database.ContentUpdate{
				Content:     res.Content,
				Summary:     res.Summary,
				State:       res.State,
				Err:         apperr.ToFetchError(res.Err),
				AttemptedAt: p.now(),
			}, opts.Force)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if !changed {
				rep.Unchanged++
				return nil
			}
			p.metrics.ObserveExtract(res.State.String())
			switch res.State {
			case models.ContentFetched:
				rep.Fetched++
				log.Debug("content extracted",
					logger.StoryID(s.ID),
					logger.String("strategy", res.Strategy),
					logger.Int("chars", len(res.Content)))
			case models.ContentUnavailable:
				rep.Unavailable++
				log.Debug("content unavailable", logger.StoryID(s.ID), logger.String("domain", s.Domain()))
			case models.ContentError:
				rep.Errors++
				log.Warn("extraction failed",
					logger.StoryID(s.ID),
					logger.String("kind", apperr.KindOf(res.Err).String()),
					logger.Error(res.Err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return rep, err
	}
	return rep, nil
}

type ShowOptions struct {
	Hours        int
	MinScore     int
	MinRelevance int
	Limit        int
	Weight       float64
}

// Show returns stored stories ranked by combined score.
func (p *Pipeline) Show(ctx context.Context, opts ShowOptions) ([]models.RankedStory, error) {
	stories, err := p.store.ListStories(ctx, database.StoryFilter{
		Since:        p.since(opts.Hours),
		MinScore:     opts.MinScore,
		MinRelevance: opts.MinRelevance,
	})
	if err != nil {
		return nil, err
	}
	return ranking.Top(stories, opts.Weight, opts.Limit), nil
}

type SyncOptions struct {
	Hours        int
	MinScore     int
	MinRelevance int
	MinComments  int
	MaxStories   int
	Weight       float64
	VerifyExists bool
	DryRun       bool
}

// Sync delivers the best unsynced scored stories to Readwise.
func (p *Pipeline) Sync(ctx context.Context, opts SyncOptions) (models.SyncResult, error) {
	if p.syncer == nil {
		return models.SyncResult{}, ErrSyncDisabled
	}

	stories, err := p.store.UnsyncedStories(ctx, database.StoryFilter{
		Since:        p.since(opts.Hours),
		MinScore:     opts.MinScore,
		MinRelevance: opts.MinRelevance,
		MinComments:  opts.MinComments,
	})
	if err != nil {
		return models.SyncResult{}, err
	}

	ranked := ranking.Rank(stories, opts.Weight)
	p.log.Debug("sync candidates", logger.Stage(StageSync), logger.Int("candidates", len(ranked)))

	res, err := p.syncer.Sync(ctx, ranked, readwise.SyncOptions{
		MaxToSync:    opts.MaxStories,
		VerifyExists: opts.VerifyExists,
		DryRun:       opts.DryRun,
	})
	if !opts.DryRun {
		p.metrics.ObserveSync(res.Synced, res.Skipped, res.Failed)
	}
	return res, err
}

type CleanOptions struct {
	BatchSize   int
	MaxBatches  int
	Concurrency int
}

type CleanReport struct {
	Batches int `json:"batches"`
	Checked int `json:"checked"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

const (
	defaultCleanBatchSize   = 100
	defaultCleanMaxBatches  = 5
	defaultCleanConcurrency = 10
)

// Clean probes stored stories upstream, least recently verified first, and
// deletes those that are gone. Probe failures leave the story untouched.
func (p *Pipeline) Clean(ctx context.Context, opts CleanOptions) (CleanReport, error) {
	var rep CleanReport
	if p.prober == nil {
		return rep, ErrCleanDisabled
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanBatchSize
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = defaultCleanMaxBatches
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultCleanConcurrency
	}
	log := p.log.With(logger.Stage(StageClean))

	var seen []int64
	for rep.Batches < opts.MaxBatches {
		ids, err := p.store.StoriesToVerify(ctx, opts.BatchSize, seen)
		if err != nil {
			return rep, err
		}
		if len(ids) == 0 {
			break
		}
		rep.Batches++
		seen = append(seen, ids...)

		alive, gone, failed, err := p.probe(ctx, ids, opts.Concurrency)
		if err != nil {
			return rep, err
		}
		rep.Checked += len(ids)
		rep.Errors += failed

		n, err := p.store.DeleteStories(ctx, gone...)
		if err != nil {
			return rep, err
		}
		rep.Deleted += int(n)
		if err := p.store.MarkVerified(ctx, alive...); err != nil {
			return rep, err
		}
		log.Debug("clean batch done",
			logger.Int("batch", rep.Batches),
			logger.Int("checked", len(ids)),
			logger.Int("deleted", int(n)))

		if len(ids) < opts.BatchSize {
			break
		}
	}

	p.metrics.ObserveClean(rep.Checked, rep.Deleted, rep.Errors)
	return rep, nil
}

func (p *Pipeline) probe(ctx context.Context, ids []int64, concurrency int) (alive, gone []int64, failed int, err error) {
	const (
		stateAlive = iota + 1
		stateGone
		stateFailed
	)
	states := make([]int, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			ok, err := p.prober.ItemExists(gctx, id)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.log.Warn("liveness probe failed",
					logger.StoryID(id),
					logger.Stage(StageClean),
					logger.String("kind", apperr.KindOf(err).String()),
					logger.Error(err))
				states[i] = stateFailed
			case ok:
				states[i] = stateAlive
			default:
				states[i] = stateGone
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}

	for i, id := range ids {
		switch states[i] {
		case stateAlive:
			alive = append(alive, id)
		case stateGone:
			gone = append(gone, id)
		default:
			failed++
		}
	}
	return alive, gone, failed, nil
}

type RunOptions struct {
	Fetch   feed.Options
	Score   ScoreOptions
	Extract ExtractOptions
	Sync    SyncOptions
	Clean   CleanOptions

	ExtractEnabled bool
	SyncEnabled    bool
	CleanEnabled   bool
}

type RunReport struct {
	RunID    string             `json:"run_id"`
	Fetch    feed.Report        `json:"fetch"`
	Score    *ScoreReport       `json:"score,omitempty"`
	Extract  *ExtractReport     `json:"extract,omitempty"`
	Sync     *models.SyncResult `json:"sync,omitempty"`
	Clean    *CleanReport       `json:"clean,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// Run executes fetch, score and the enabled optional stages in order. The
// first fatal stage error ends the run; per-item failures never do. The
// returned metadata reflects whatever fetch committed.
func (p *Pipeline) Run(ctx context.Context, meta models.RunMetadata, opts RunOptions) (RunReport, models.RunMetadata, error) {
	rep := RunReport{RunID: uuid.NewString()}
	start := time.Now()

	rp := *p
	rp.log = p.log.With(logger.String("run_id", rep.RunID))
	rp.log.Info("run started", logger.String("feed", opts.Fetch.Feed))

	err := rp.stage(StageFetch, func() error {
		var err error
		rep.Fetch, meta, err = rp.Fetch(ctx, meta, opts.Fetch)
		return err
	})
	if err != nil {
		return rep, meta, err
	}

	if rp.scorer == nil {
		rp.log.Warn("no scorer configured, skipping", logger.Stage(StageScore))
	} else if err := rp.stage(StageScore, func() error {
		r, err := rp.Score(ctx, opts.Score)
		rep.Score = &r
		return err
	}); err != nil {
		return rep, meta, err
	}

	if opts.ExtractEnabled {
		if err := rp.stage(StageExtract, func() error {
			r, err := rp.Extract(ctx, opts.Extract)
			rep.Extract = &r
			return err
		}); err != nil {
			return rep, meta, err
		}
	}

	if opts.SyncEnabled {
		if err := rp.stage(StageSync, func() error {
			r, err := rp.Sync(ctx, opts.Sync)
			rep.Sync = &r
			return err
		}); err != nil {
			return rep, meta, err
		}
	}

	if opts.CleanEnabled {
		if err := rp.stage(StageClean, func() error {
			r, err := rp.Clean(ctx, opts.Clean)
			rep.Clean = &r
			return err
		}); err != nil {
			return rep, meta, err
		}
	}

	rep.Duration = time.Since(start)
	rp.metrics.MarkSuccess(rp.now())
	rp.log.Info("run finished", logger.Duration("duration", rep.Duration))
	return rep, meta, nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	p.metrics.ObserveStage(name, d, err)

	if err != nil {
		p.log.Error("stage failed",
			logger.Stage(name),
			logger.String("kind", apperr.KindOf(err).String()),
			logger.Duration("duration", d),
			logger.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	p.log.Info("stage finished", logger.Stage(name), logger.Duration("duration", d))
	return nil
}
