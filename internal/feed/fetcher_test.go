package feed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/database"
	"github.com/thomaskoefod/hnpoll/internal/hackernews"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	maxID     int64
	feedIDs   []int64
	items     map[int64]*hackernews.Item
	fail      map[int64]bool
	requested []int64
}

func (s *fakeSource) FetchCandidateIDs(_ context.Context, _ string, limit int) ([]int64, error) {
	ids := s.feedIDs
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *fakeSource) MaxItemID(context.Context) (int64, error) { return s.maxID, nil }

func (s *fakeSource) FetchItems(_ context.Context, ids []int64) []hackernews.ItemResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hackernews.ItemResult, len(ids))
	for i, id := range ids {
		s.requested = append(s.requested, id)
		if s.fail[id] {
			out[i] = hackernews.ItemResult{ID: id, Err: apperr.Newf(apperr.Transient, "fetch", "boom")}
			continue
		}
		out[i] = hackernews.ItemResult{ID: id, Item: s.items[id]}
	}
	return out
}

func storyItem(id int64, age time.Duration, score int) *hackernews.Item {
	return &hackernews.Item{
		ID:    id,
		Type:  "story",
		By:    "pg",
		Time:  testNow.Add(-age).Unix(),
		Title: "Story",
		URL:   fmt.Sprintf("https://example.com/%d", id),
		Score: score,
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "hn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetClock(func() time.Time { return testNow })
	return db
}

func newTestFetcher(src Source, store Store) *Fetcher {
	f := NewFetcher(src, store, logger.NewNop())
	f.SetClock(func() time.Time { return testNow })
	return f
}

func TestFetchNew_StopsAtWatermark(t *testing.T) {
	src := &fakeSource{maxID: 100, items: map[int64]*hackernews.Item{}}
	for id := int64(1); id <= 100; id++ {
		src.items[id] = storyItem(id, time.Duration(100-id)*time.Minute, 1)
	}
	db := newTestDB(t)

	rep, meta, err := newTestFetcher(src, db).Fetch(context.Background(),
		models.RunMetadata{LastOldestID: 50},
		Options{Feed: FeedNew, Hours: 24, BatchSize: 20, MaxBatches: 100})

	require.NoError(t, err)
	assert.Equal(t, StopWatermark, rep.StoppedBy)
	assert.Equal(t, int64(51), meta.LastOldestID)
	assert.Equal(t, 50, rep.Inserted)
	for _, id := range src.requested {
		assert.Greater(t, id, int64(50))
	}

	stored, err := db.LoadRunMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(51), stored.LastOldestID)
	require.NotNil(t, stored.LastPollTime)
	assert.True(t, testNow.Equal(*stored.LastPollTime))

	_, err = db.GetStory(context.Background(), 50)
	assert.ErrorIs(t, err, database.ErrStoryNotFound)
}

func TestFetchNew_WindowStopsFirstRun(t *testing.T) {
	src := &fakeSource{maxID: 30, items: map[int64]*hackernews.Item{}}
	for id := int64(1); id <= 30; id++ {
		// ids 21..30 are recent, the rest are two days old
		age := time.Hour
		if id <= 20 {
			age = 48 * time.Hour
		}
		src.items[id] = storyItem(id, age, 1)
	}
	db := newTestDB(t)

	rep, meta, err := newTestFetcher(src, db).Fetch(context.Background(), models.RunMetadata{},
		Options{Feed: FeedNew, Hours: 24, BatchSize: 5, MaxBatches: 100})

	require.NoError(t, err)
	assert.Equal(t, StopWindow, rep.StoppedBy)
	assert.Equal(t, 10, rep.Inserted)
	assert.Equal(t, 3, rep.Batches)
	assert.Equal(t, int64(16), meta.LastOldestID)
}

func TestFetchNew_MaxBatchesBoundsWalk(t *testing.T) {
	src := &fakeSource{maxID: 1000, items: map[int64]*hackernews.Item{}}
	for id := int64(1); id <= 1000; id++ {
		src.items[id] = storyItem(id, time.Minute, 1)
	}

	rep, meta, err := newTestFetcher(src, newTestDB(t)).Fetch(context.Background(), models.RunMetadata{},
		Options{Feed: FeedNew, Hours: 24, BatchSize: 10, MaxBatches: 3})

	require.NoError(t, err)
	assert.Equal(t, StopMaxBatches, rep.StoppedBy)
	assert.Len(t, src.requested, 30)
	assert.Equal(t, int64(971), meta.LastOldestID)
}

func TestFetchNew_SkipsNonStoriesAndConvertsTextPosts(t *testing.T) {
	src := &fakeSource{maxID: 3, items: map[int64]*hackernews.Item{
		3: {ID: 3, Type: "comment", Time: testNow.Unix(), Text: "a comment"},
		2: {ID: 2, Type: "story", Time: testNow.Unix(), Title: "Ask HN: Tools?", Text: "<p>What do you <i>use</i>?</p>"},
		1: {ID: 1, Type: "story", Time: testNow.Unix(), Title: "Ask HN: empty"},
	}}
	db := newTestDB(t)

	rep, _, err := newTestFetcher(src, db).Fetch(context.Background(), models.RunMetadata{},
		Options{Feed: FeedNew, Hours: 24, BatchSize: 10, MaxBatches: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)

	_, err = db.GetStory(context.Background(), 3)
	assert.ErrorIs(t, err, database.ErrStoryNotFound)

	ask, err := db.GetStory(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, models.ContentFetched, ask.ContentState)
	assert.Contains(t, ask.Content, "What do you")
	assert.NotEmpty(t, ask.Summary)

	empty, err := db.GetStory(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.ContentUnavailable, empty.ContentState)
}

func TestFetchNew_TextPostSummaryHonoursLength(t *testing.T) {
	body := "<p>" + strings.Repeat("Which editor do you use for Go and why. ", 10) + "</p>"
	src := &fakeSource{maxID: 1, items: map[int64]*hackernews.Item{
		1: {ID: 1, Type: "story", Time: testNow.Unix(), Title: "Ask HN: Editors?", Text: body},
	}}
	db := newTestDB(t)

	_, _, err := newTestFetcher(src, db).Fetch(context.Background(), models.RunMetadata{},
		Options{Feed: FeedNew, Hours: 24, BatchSize: 10, MaxBatches: 1, SummaryChars: 60})
	require.NoError(t, err)

	s, err := db.GetStory(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Which editor do you use for Go and why. ...", s.Summary)
	assert.Greater(t, len(s.Content), 300)
}

func TestFetchNew_FailedItemLowersWatermark(t *testing.T) {
	src := &fakeSource{maxID: 20, items: map[int64]*hackernews.Item{}, fail: map[int64]bool{12: true}}
	for id := int64(1); id <= 20; id++ {
		src.items[id] = storyItem(id, time.Minute, 1)
	}

	rep, meta, err := newTestFetcher(src, newTestDB(t)).Fetch(context.Background(),
		models.RunMetadata{LastOldestID: 11},
		Options{Feed: FeedNew, BatchSize: 5, MaxBatches: 10})

	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, int64(11), meta.LastOldestID)
	assert.Equal(t, int64(11), nextWatermark(11, 13, 12))
	assert.Equal(t, int64(13), nextWatermark(11, 13, 17))
	assert.Equal(t, int64(11), nextWatermark(11, 0, 0))
}

func TestFetchCurated_FiltersBeforeWrite(t *testing.T) {
	src := &fakeSource{
		feedIDs: []int64{1, 2, 3, 4},
		items: map[int64]*hackernews.Item{
			1: storyItem(1, time.Hour, 5),
			2: storyItem(2, time.Hour, 40),
			3: storyItem(3, time.Hour, 60),
			4: storyItem(4, 72*time.Hour, 500),
		},
	}
	db := newTestDB(t)

	rep, meta, err := newTestFetcher(src, db).Fetch(context.Background(), models.RunMetadata{LastOldestID: 9},
		Options{Feed: FeedTop, Limit: 10, Hours: 24, MinScore: 30})

	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, 2, rep.Filtered)
	assert.Equal(t, int64(9), meta.LastOldestID)
	require.NotNil(t, meta.LastPollTime)

	stories, err := db.ListStories(context.Background(), database.StoryFilter{})
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.ElementsMatch(t, []int64{2, 3}, []int64{stories[0].ID, stories[1].ID})
}

func TestFetch_TwiceIsIdempotent(t *testing.T) {
	src := &fakeSource{feedIDs: []int64{7, 8}, items: map[int64]*hackernews.Item{
		7: storyItem(7, time.Hour, 10),
		8: storyItem(8, time.Hour, 20),
	}}
	db := newTestDB(t)
	f := newTestFetcher(src, db)
	opts := Options{Feed: FeedBest, Limit: 10}

	first, meta, err := f.Fetch(context.Background(), models.RunMetadata{}, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	src.items[7].Score = 99
	src.items[7].Title = "Edited title"
	second, _, err := f.Fetch(context.Background(), meta, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Updated)

	s, err := db.GetStory(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 99, s.Score)
	assert.Equal(t, "Story", s.Title)
}

type failingStore struct{}

func (failingStore) SaveStories(context.Context, []models.Story, *models.RunMetadata) (database.UpsertResult, error) {
	return database.UpsertResult{}, apperr.New(apperr.Persistence, "save", errors.New("disk full"))
}

func TestFetch_PersistenceErrorKeepsOldMetadata(t *testing.T) {
	src := &fakeSource{feedIDs: []int64{1}, items: map[int64]*hackernews.Item{1: storyItem(1, time.Hour, 1)}}
	prev := models.RunMetadata{LastOldestID: 3}

	_, meta, err := newTestFetcher(src, failingStore{}).Fetch(context.Background(), prev, Options{Feed: FeedTop})

	assert.Equal(t, apperr.Persistence, apperr.KindOf(err))
	assert.Equal(t, prev, meta)
}

func TestFetch_UnknownFeed(t *testing.T) {
	_, _, err := newTestFetcher(&fakeSource{}, failingStore{}).Fetch(context.Background(), models.RunMetadata{}, Options{Feed: "ask"})
	assert.Error(t, err)
}
