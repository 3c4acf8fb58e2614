// Package hackernews reads item ids and item bodies from the Hacker News
// Firebase API.
package hackernews

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/retry"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

const (
	DefaultBaseURL     = "https://hacker-news.firebaseio.com/v0"
	defaultConcurrency = 20
	maxErrorBody       = 1024
)

// Item is the raw item object returned by /item/{id}.json.
type Item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

// IsStory reports whether the item is a top-level submission.
func (i Item) IsStory() bool {
	switch i.Type {
	case "story", "job", "poll":
		return true
	default:
		return false
	}
}

func (i Item) Submitted() time.Time {
	return time.Unix(i.Time, 0).UTC()
}

func (i Item) ToStory() models.Story {
	return models.Story{
		ID:       i.ID,
		Title:    i.Title,
		URL:      i.URL,
		By:       i.By,
		Time:     i.Submitted(),
		Type:     i.Type,
		Score:    i.Score,
		Comments: i.Descendants,
		Text:     i.Text,
	}
}

// ItemResult is one outcome of FetchItems. Item is nil when the id is gone.
type ItemResult struct {
	ID   int64
	Item *Item
	Err  error
}

type Options struct {
	BaseURL           string
	Timeout           time.Duration
	Concurrency       int
	RequestsPerSecond float64
	Policy            retry.Policy
	HTTPClient        *http.Client
}

type Client struct {
	baseURL     string
	client      *http.Client
	policy      retry.Policy
	limiter     *rate.Limiter
	concurrency int
	log         logger.Logger
}

func NewClient(opts Options, log logger.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		client:      httpClient,
		policy:      opts.Policy,
		limiter:     rate.NewLimiter(limit, opts.Concurrency),
		concurrency: opts.Concurrency,
		log:         log,
	}
}

// FetchCandidateIDs returns up to limit ids from the top, best or new list.
func (c *Client) FetchCandidateIDs(ctx context.Context, feed string, limit int) ([]int64, error) {
	switch feed {
	case "top", "best", "new":
	default:
		return nil, fmt.Errorf("unknown feed %q", feed)
	}

	var ids []int64
	if err := c.getJSON(ctx, feed+"stories.json", &ids); err != nil {
		return nil, fmt.Errorf("fetching %s story ids: %w", feed, err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (c *Client) MaxItemID(ctx context.Context) (int64, error) {
	var id int64
	if err := c.getJSON(ctx, "maxitem.json", &id); err != nil {
		return 0, fmt.Errorf("fetching max item id: %w", err)
	}
	return id, nil
}

// FetchItem returns nil, nil when the item is null, deleted or dead.
func (c *Client) FetchItem(ctx context.Context, id int64) (*Item, error) {
	var item *Item
	if err := c.getJSON(ctx, fmt.Sprintf("item/%d.json", id), &item); err != nil {
		return nil, fmt.Errorf("fetching item %d: %w", id, err)
	}
	if item == nil || item.Deleted || item.Dead {
		return nil, nil
	}
	return item, nil
}

// FetchItems fetches ids with at most Concurrency requests in flight. Results
// keep the order of ids; a failed item carries its error and does not stop
// the others.
func (c *Client) FetchItems(ctx context.Context, ids []int64) []ItemResult {
	results := make([]ItemResult, len(ids))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			item, err := c.FetchItem(ctx, id)
			results[i] = ItemResult{ID: id, Item: item, Err: err}
			if err != nil {
				c.log.Warn("item fetch failed, skipping",
					logger.StoryID(id),
					logger.Stage("fetch"),
					logger.String("kind", apperr.KindOf(err).String()),
					logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ItemExists is the cheap liveness probe used by clean.
func (c *Client) ItemExists(ctx context.Context, id int64) (bool, error) {
	item, err := c.FetchItem(ctx, id)
	if err != nil {
		if apperr.StatusOf(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return item != nil, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	url := c.baseURL + "/" + path
	op := "GET " + path

	return c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return apperr.Classify(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return apperr.FromResponse(op, resp, strings.TrimSpace(string(body)))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.New(apperr.Parse, op, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
}
