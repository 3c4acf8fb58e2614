// Package feed turns Hacker News item ids into stored stories, either from a
// curated list (top, best) or by walking new ids down to the last watermark.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/thomaskoefod/hnpoll/internal/content"
	"github.com/thomaskoefod/hnpoll/internal/database"
	"github.com/thomaskoefod/hnpoll/internal/hackernews"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

// Source is the subset of the Hacker News client the fetcher needs.
type Source interface {
	FetchCandidateIDs(ctx context.Context, feed string, limit int) ([]int64, error)
	MaxItemID(ctx context.Context) (int64, error)
	FetchItems(ctx context.Context, ids []int64) []hackernews.ItemResult
}

type Store interface {
	SaveStories(ctx context.Context, stories []models.Story, meta *models.RunMetadata) (database.UpsertResult, error)
}

const (
	FeedTop  = "top"
	FeedBest = "best"
	FeedNew  = "new"

	defaultBatchSize  = 100
	defaultMaxBatches = 10
)

type Options struct {
	Feed       string
	Limit      int
	Hours      int
	MinScore   int
	BatchSize  int
	MaxBatches int

	// SummaryChars bounds text-post summaries; zero uses the content default.
	SummaryChars int
}

// Reasons a new-item walk ended.
const (
	StopWatermark  = "watermark"
	StopWindow     = "window"
	StopMaxBatches = "max_batches"
	StopExhausted  = "exhausted"
)

type Report struct {
	Feed       string `json:"feed"`
	Candidates int    `json:"candidates"`
	Fetched    int    `json:"fetched"`
	Failed     int    `json:"failed"`
	Filtered   int    `json:"filtered"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	Batches    int    `json:"batches"`
	OldestID   int64  `json:"oldest_id"`
	StoppedBy  string `json:"stopped_by,omitempty"`
}

type Fetcher struct {
	source Source
	store  Store
	log    logger.Logger
	now    func() time.Time
}

func NewFetcher(source Source, store Store, log logger.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		store:  store,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (f *Fetcher) SetClock(now func() time.Time) {
	f.now = now
}

// Fetch ingests one run and returns the metadata it persisted alongside the
// last write.
func (f *Fetcher) Fetch(ctx context.Context, meta models.RunMetadata, opts Options) (Report, models.RunMetadata, error) {
	switch opts.Feed {
	case FeedTop, FeedBest:
		return f.fetchCurated(ctx, meta, opts)
	case FeedNew, "":
		opts.Feed = FeedNew
		return f.fetchNew(ctx, meta, opts)
	default:
		return Report{}, meta, fmt.Errorf("unknown feed %q", opts.Feed)
	}
}

func (f *Fetcher) fetchCurated(ctx context.Context, meta models.RunMetadata, opts Options) (Report, models.RunMetadata, error) {
	rep := Report{Feed: opts.Feed, Batches: 1}
	now := f.now()

	ids, err := f.source.FetchCandidateIDs(ctx, opts.Feed, opts.Limit)
	if err != nil {
		return rep, meta, err
	}
	rep.Candidates = len(ids)

	cutoff := windowStart(now, opts.Hours)
	var stories []models.Story
	for _, r := range f.source.FetchItems(ctx, ids) {
		if r.Err != nil {
			rep.Failed++
			continue
		}
		if r.Item == nil || !r.Item.IsStory() {
			continue
		}
		rep.Fetched++
		if !cutoff.IsZero() && r.Item.Submitted().Before(cutoff) {
			rep.Filtered++
			continue
		}
		if r.Item.Score < opts.MinScore {
			rep.Filtered++
			continue
		}
		stories = append(stories, f.toStory(*r.Item, opts.SummaryChars))
	}

	next := meta
	next.LastPollTime = &now
	res, err := f.store.SaveStories(ctx, stories, &next)
	if err != nil {
		return rep, meta, err
	}
	rep.Inserted, rep.Updated = res.Inserted, res.Updated
	rep.OldestID = next.LastOldestID

	f.log.Info("curated feed ingested",
		logger.String("feed", opts.Feed),
		logger.Int("candidates", rep.Candidates),
		logger.Int("inserted", rep.Inserted),
		logger.Int("updated", rep.Updated),
		logger.Int("filtered", rep.Filtered),
		logger.Int("failed", rep.Failed))
	return rep, next, nil
}

// fetchNew walks ids downward from maxitem. The previous watermark always
// stops the walk; the time window only stops it when there is no watermark.
// Each batch commits on its own except the last, which carries the new
// watermark in its transaction.
func (f *Fetcher) fetchNew(ctx context.Context, meta models.RunMetadata, opts Options) (Report, models.RunMetadata, error) {
	rep := Report{Feed: FeedNew}
	now := f.now()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxBatches := opts.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatches
	}
	var cutoff time.Time
	if !meta.HasWatermark() {
		cutoff = windowStart(now, opts.Hours)
	}

	top, err := f.source.MaxItemID(ctx)
	if err != nil {
		return rep, meta, err
	}

	var (
		pending     []models.Story
		minObserved int64
		minFailed   int64
	)

	save := func(stories []models.Story, m *models.RunMetadata) error {
		res, err := f.store.SaveStories(ctx, stories, m)
		if err != nil {
			return err
		}
		rep.Inserted += res.Inserted
		rep.Updated += res.Updated
		return nil
	}

	next := top
	for {
		if rep.Batches >= maxBatches {
			rep.StoppedBy = StopMaxBatches
			break
		}
		floor := int64(1)
		if meta.HasWatermark() {
			floor = meta.LastOldestID + 1
		}
		if next < floor {
			if meta.HasWatermark() {
				rep.StoppedBy = StopWatermark
			} else {
				rep.StoppedBy = StopExhausted
			}
			break
		}

		lo := max(next-int64(batchSize)+1, floor)
		ids := make([]int64, 0, next-lo+1)
		for id := next; id >= lo; id-- {
			ids = append(ids, id)
		}
		rep.Batches++
		rep.Candidates += len(ids)

		if len(pending) > 0 {
			if err := save(pending, nil); err != nil {
				return rep, meta, err
			}
			pending = nil
		}

		windowHit := false
		for _, r := range f.source.FetchItems(ctx, ids) {
			if r.Err != nil {
				rep.Failed++
				if minFailed == 0 || r.ID < minFailed {
					minFailed = r.ID
				}
				continue
			}
			if minObserved == 0 || r.ID < minObserved {
				minObserved = r.ID
			}
			if r.Item == nil || !r.Item.IsStory() {
				continue
			}
			rep.Fetched++
			if !cutoff.IsZero() && r.Item.Submitted().Before(cutoff) {
				rep.Filtered++
				windowHit = true
				continue
			}
			pending = append(pending, f.toStory(*r.Item, opts.SummaryChars))
		}

		next = lo - 1
		if windowHit {
			rep.StoppedBy = StopWindow
			break
		}
	}

	result := meta
	result.LastPollTime = &now
	result.LastOldestID = nextWatermark(meta.LastOldestID, minObserved, minFailed)
	if err := save(pending, &result); err != nil {
		return rep, meta, err
	}
	rep.OldestID = result.LastOldestID

	f.log.Info("new items ingested",
		logger.Int64("max_item", top),
		logger.Int64("oldest_id", result.LastOldestID),
		logger.Int("batches", rep.Batches),
		logger.Int("inserted", rep.Inserted),
		logger.Int("updated", rep.Updated),
		logger.Int("failed", rep.Failed),
		logger.String("stopped_by", rep.StoppedBy))
	return rep, result, nil
}

// nextWatermark is the smallest id observed, lowered below the smallest failed
// id so the next walk revisits it. With nothing observed the old value stays.
func nextWatermark(prev, minObserved, minFailed int64) int64 {
	w := prev
	if minObserved > 0 {
		w = minObserved
	}
	if minFailed > 0 && (w == 0 || minFailed <= w) {
		w = minFailed - 1
	}
	return w
}

func windowStart(now time.Time, hours int) time.Time {
	if hours <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}

// toStory converts an item and, for text posts, stores their body as already
// fetched content.
func (f *Fetcher) toStory(item hackernews.Item, summaryChars int) models.Story {
	s := item.ToStory()
	if s.URL != "" {
		return s
	}

	md, err := content.HTMLToMarkdown(item.Text)
	if err != nil {
		f.log.Warn("converting text post", logger.StoryID(item.ID), logger.Error(err))
	}
	if md == "" {
		s.ContentState = models.ContentUnavailable
		return s
	}
	s.Content = md
	s.Summary = content.Summarize(md, summaryChars)
	s.ContentState = models.ContentFetched
	return s
}
