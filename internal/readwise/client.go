// Package readwise delivers stories to Readwise Reader.
package readwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/retry"
)

const (
	DefaultBaseURL  = "https://readwise.io/api/v3"
	DefaultAuthor   = "hn-poll"
	defaultPageSize = 250
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 1024
)

type Options struct {
	BaseURL           string
	APIToken          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Policy            retry.Policy
	Author            string
	Tags              []string
	PageSize          int
	HTTPClient        *http.Client
}

type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
	limiter  *rate.Limiter
	policy   retry.Policy
	author   string
	tags     []string
	pageSize int
	log      logger.Logger
}

// Document is one save request.
type Document struct {
	URL   string
	Title string
}

type SaveRequest struct {
	URL             string   `json:"url"`
	Title           string   `json:"title,omitempty"`
	Author          string   `json:"author,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	ShouldCleanHTML bool     `json:"should_clean_html"`
}

type SaveResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type ListResponse struct {
	Count          int     `json:"count"`
	NextPageCursor *string `json:"nextPageCursor"`
	Results        []struct {
		ID        string `json:"id"`
		SourceURL string `json:"source_url"`
	} `json:"results"`
}

func NewClient(opts Options, log logger.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Author == "" {
		opts.Author = DefaultAuthor
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
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiToken: opts.APIToken,
		client:   httpClient,
		limiter:  rate.NewLimiter(limit, 1),
		policy:   opts.Policy,
		author:   opts.Author,
		tags:     opts.Tags,
		pageSize: opts.PageSize,
		log:      log,
	}
}

// ListURLs pages through every saved document and returns their source URLs.
func (c *Client) ListURLs(ctx context.Context) (map[string]struct{}, error) {
	urls := make(map[string]struct{})
	cursor := ""
	pages := 0

	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(c.pageSize))
		if cursor != "" {
			q.Set("pageCursor", cursor)
		}

		var page ListResponse
		if err := c.do(ctx, http.MethodGet, "/list/?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		pages++
		for _, r := range page.Results {
			if r.SourceURL != "" {
				urls[r.SourceURL] = struct{}{}
			}
		}

		if page.NextPageCursor == nil || *page.NextPageCursor == "" {
			break
		}
		cursor = *page.NextPageCursor
	}

	c.log.Debug("readwise documents listed", logger.Int("pages", pages), logger.Int("urls", len(urls)))
	return urls, nil
}

// Save adds one document to Reader.
func (c *Client) Save(ctx context.Context, doc Document) error {
	req := SaveRequest{
		URL:             doc.URL,
		Title:           doc.Title,
		Author:          c.author,
		Tags:            c.tags,
		ShouldCleanHTML: true,
	}
	var resp SaveResponse
	if err := c.do(ctx, http.MethodPost, "/save/", req, &resp); err != nil {
		return fmt.Errorf("saving %s: %w", doc.URL, err)
	}
	return nil
}

// CheckAuth verifies the token with a one-document list request.
func (c *Client) CheckAuth(ctx context.Context) error {
	var page ListResponse
	if err := c.do(ctx, http.MethodGet, "/list/?limit=1", nil, &page); err != nil {
		return fmt.Errorf("checking readwise token: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	return c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.apiToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return apperr.Classify(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			e := apperr.FromResponse(op, resp, strings.TrimSpace(string(b)))
			if e.Kind == apperr.RateLimit {
				c.log.Warn("readwise rate limited",
					logger.Int("attempt", attempt),
					logger.Duration("retry_after", e.RetryAfter))
			}
			return e
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return apperr.New(apperr.Parse, op, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
}
