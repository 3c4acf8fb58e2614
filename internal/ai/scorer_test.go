package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/retry"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

type fakeCompleter struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   func(call int, prompt string) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.reply(call, prompt)
}

func constReply(s string) func(int, string) (string, error) {
	return func(int, string) (string, error) { return s, nil }
}

type memCache struct {
	mu       sync.Mutex
	verdicts map[string]models.DomainVerdict
	lookups  int
}

func newMemCache() *memCache {
	return &memCache{verdicts: map[string]models.DomainVerdict{}}
}

func (c *memCache) Lookup(_ context.Context, domain string) (models.DomainVerdict, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	v, ok := c.verdicts[domain]
	return v, ok, nil
}

func (c *memCache) Record(_ context.Context, domain string, score int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.verdicts[domain]
	if v.Pinned {
		return nil
	}
	total := v.Score*v.Samples + score
	v.Domain = domain
	v.Samples++
	v.Score = total / v.Samples
	c.verdicts[domain] = v
	return nil
}

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func newTestScorer(t *testing.T, c Completer, cache DomainCache, opts Options) *Scorer {
	t.Helper()
	opts.Policy = fastPolicy
	s, err := NewScorer(c, cache, opts, logger.NewNop())
	require.NoError(t, err)
	return s
}

func story(id int64, url string) models.Story {
	return models.Story{ID: id, Title: fmt.Sprintf("Story %d", id), URL: url}
}

func TestParseScore(t *testing.T) {
	for _, in := range []string{"87", " 42\n", "0", "100"} {
		_, err := ParseScore(in)
		assert.NoError(t, err, in)
	}
	n, _ := ParseScore(" 42\n")
	assert.Equal(t, 42, n)

	for _, in := range []string{"abc", "101", "-1", "87.5", "Score: 80", ""} {
		_, err := ParseScore(in)
		assert.Equal(t, apperr.Parse, apperr.KindOf(err), in)
	}
}

func TestScore_RecordsIntoCache(t *testing.T) {
	c := &fakeCompleter{reply: constReply("80")}
	cache := newMemCache()
	s := newTestScorer(t, c, cache, Options{})

	res, err := s.Score(context.Background(), story(1, "https://www.github.com/a/b"))

	require.NoError(t, err)
	assert.Equal(t, Result{Score: 80}, res)
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, 1, cache.verdicts["github.com"].Samples)
	assert.Contains(t, c.prompts[0], "Title: Story 1")
	assert.Contains(t, c.prompts[0], "Domain: github.com")
}

func TestScore_PinnedDomainShortCircuits(t *testing.T) {
	c := &fakeCompleter{reply: constReply("99")}
	cache := newMemCache()
	cache.verdicts["prnewswire.com"] = models.DomainVerdict{Domain: "prnewswire.com", Score: 3, Samples: 1, Pinned: true}
	s := newTestScorer(t, c, cache, Options{CacheMode: CacheBias})

	res, err := s.Score(context.Background(), story(1, "https://prnewswire.com/release"))

	require.NoError(t, err)
	assert.Equal(t, Result{Score: 3, FromCache: true}, res)
	assert.Zero(t, c.calls)
}

func TestScore_ShortCircuitNeedsMinSamples(t *testing.T) {
	c := &fakeCompleter{reply: constReply("50")}
	cache := newMemCache()
	cache.verdicts["few.com"] = models.DomainVerdict{Score: 10, Samples: 2}
	cache.verdicts["many.com"] = models.DomainVerdict{Score: 10, Samples: 5}
	s := newTestScorer(t, c, cache, Options{CacheMode: CacheShortCircuit, MinSamples: 5})

	res, err := s.Score(context.Background(), story(1, "https://many.com/x"))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 10, res.Score)

	res, err = s.Score(context.Background(), story(2, "https://few.com/x"))
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 50, res.Score)
	assert.Equal(t, 1, c.calls)
}

func TestScore_BiasAddsHint(t *testing.T) {
	c := &fakeCompleter{reply: constReply("70")}
	cache := newMemCache()
	cache.verdicts["lwn.net"] = models.DomainVerdict{Score: 90, Samples: 6}
	s := newTestScorer(t, c, cache, Options{CacheMode: CacheBias, MinSamples: 5})

	res, err := s.Score(context.Background(), story(1, "https://lwn.net/Articles/1/"))

	require.NoError(t, err)
	assert.False(t, res.FromCache)
	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "6 earlier stories from lwn.net averaged a relevance of 90")
}

func TestScore_CacheOffSkipsLookups(t *testing.T) {
	c := &fakeCompleter{reply: constReply("70")}
	cache := newMemCache()
	cache.verdicts["lwn.net"] = models.DomainVerdict{Score: 1, Samples: 10, Pinned: true}
	s := newTestScorer(t, c, cache, Options{CacheMode: CacheOff})

	res, err := s.Score(context.Background(), story(1, "https://lwn.net/a"))

	require.NoError(t, err)
	assert.Equal(t, 70, res.Score)
	assert.Zero(t, cache.lookups)
}

func TestScore_RetriesTransientNotParse(t *testing.T) {
	c := &fakeCompleter{reply: func(call int, _ string) (string, error) {
		if call == 1 {
			return "", apperr.FromStatus("complete", 529, fmt.Errorf("overloaded"))
		}
		return "55", nil
	}}
	res, err := newTestScorer(t, c, nil, Options{}).Score(context.Background(), story(1, "https://a.com"))
	require.NoError(t, err)
	assert.Equal(t, 55, res.Score)
	assert.Equal(t, 2, c.calls)

	bad := &fakeCompleter{reply: constReply("I think 80")}
	_, err = newTestScorer(t, bad, nil, Options{}).Score(context.Background(), story(1, "https://a.com"))
	assert.Equal(t, apperr.Parse, apperr.KindOf(err))
	assert.Equal(t, 1, bad.calls)
}

func TestScore_IncludeContentAndCustomTemplate(t *testing.T) {
	c := &fakeCompleter{reply: constReply("12")}
	s := newTestScorer(t, c, nil, Options{
		IncludeContent: true,
		PromptTemplate: "{{.Title}}|{{.URL}}|{{.Content}}",
	})
	st := models.Story{ID: 9, Title: "Ask HN: Editors?", Summary: "Which editor do you use?"}

	_, err := s.Score(context.Background(), st)

	require.NoError(t, err)
	assert.Equal(t, "Ask HN: Editors?|https://news.ycombinator.com/item?id=9|Which editor do you use?", c.prompts[0])
}

func TestNewScorer_RejectsBadInput(t *testing.T) {
	_, err := NewScorer(&fakeCompleter{}, nil, Options{CacheMode: "sometimes"}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewScorer(&fakeCompleter{}, nil, Options{PromptTemplate: "{{.Title"}, logger.NewNop())
	assert.Error(t, err)
}

func TestScoreBatch_ReportsEveryStoryWithinLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := &fakeCompleter{reply: func(_ int, prompt string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		if strings.Contains(prompt, "Story 3\n") {
			return "", apperr.Newf(apperr.Permanent, "complete", "bad request")
		}
		return "40", nil
	}}
	s := newTestScorer(t, c, nil, Options{Concurrency: 2})

	var stories []models.Story
	for i := int64(1); i <= 10; i++ {
		stories = append(stories, story(i, fmt.Sprintf("https://s%d.com", i)))
	}

	got := map[int64]error{}
	s.ScoreBatch(context.Background(), stories, func(st models.Story, _ Result, err error) {
		got[st.ID] = err
	})

	require.Len(t, got, 10)
	assert.Error(t, got[3])
	assert.NoError(t, got[4])
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
