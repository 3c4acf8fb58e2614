// Package content downloads linked articles and reduces them to markdown
// and a short summary.
package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/retry"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultMinTextLength = 200
	defaultMaxBodyBytes  = 5 << 20
	defaultUserAgent     = "Mozilla/5.0 (compatible; hnpoll/1.0)"
	maxErrorBody         = 512
)

type Options struct {
	Timeout        time.Duration
	Policy         retry.Policy
	MinTextLength  int
	SummaryChars   int
	MaxBodyBytes   int64
	UserAgent      string
	BlockedDomains []string
	HTTPClient     *http.Client
	Strategies     []Strategy
}

// Result is the outcome of one extraction. Err is set only for ERROR.
type Result struct {
	Content  string
	Summary  string
	State    models.ContentState
	Strategy string
	Err      error
}

type Extractor struct {
	client     *http.Client
	policy     retry.Policy
	timeout    time.Duration
	blocklist  Blocklist
	strategies []Strategy
	opts       Options
	log        logger.Logger
}

func New(opts Options, log logger.Logger) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = defaultMinTextLength
	}
	if opts.SummaryChars <= 0 {
		opts.SummaryChars = DefaultSummaryChars
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Extractor{
		client:     client,
		policy:     opts.Policy,
		timeout:    opts.Timeout,
		blocklist:  NewBlocklist(opts.BlockedDomains),
		strategies: opts.Strategies,
		opts:       opts,
		log:        log,
	}
}

// Extract fetches rawURL and returns its main content. Blocked domains come
// back UNAVAILABLE without any request being made.
func (e *Extractor) Extract(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return failed(apperr.Newf(apperr.Permanent, "parse url", "invalid article url %q", rawURL))
	}

	if e.blocklist.Blocks(u.Hostname()) {
		e.log.Debug("domain blocked, skipping fetch", logger.String("domain", u.Hostname()))
		return Result{State: models.ContentUnavailable}
	}

	html, err := e.fetch(ctx, u)
	if err != nil {
		return failed(err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return failed(apperr.New(apperr.Parse, "parse html", err))
	}
	stripChrome(doc)

	cand, strategy, ok := selectContainer(Page{Doc: doc, HTML: html, URL: u}, e.strategies, e.opts.MinTextLength)
	if !ok {
		return failed(apperr.Newf(apperr.Parse, "extract", "no main content found"))
	}

	markdown := CleanMarkdown(newConverter(u.Hostname()).Convert(cand.Selection))
	if markdown == "" {
		return failed(apperr.Newf(apperr.Parse, "extract", "content empty after cleanup"))
	}

	e.log.Debug("content extracted",
		logger.String("domain", u.Hostname()),
		logger.String("strategy", strategy),
		logger.Int("chars", len(markdown)))

	return Result{
		Content:  markdown,
		Summary:  Summarize(markdown, e.opts.SummaryChars),
		State:    models.ContentFetched,
		Strategy: strategy,
	}
}

func failed(err error) Result {
	return Result{State: models.ContentError, Err: err}
}

// fetch downloads an HTML page. Each attempt gets its own timeout; timeouts and
// 5xx responses are retried by the policy.
func (e *Extractor) fetch(ctx context.Context, u *url.URL) (string, error) {
	const op = "fetch article"
	var body string

	err := e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return apperr.New(apperr.Permanent, op, err)
		}
		req.Header.Set("User-Agent", e.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")

		resp, err := e.client.Do(req)
		if err != nil {
			return apperr.Classify(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return apperr.FromResponse(op, resp, strings.TrimSpace(string(b)))
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
			return apperr.Newf(apperr.Permanent, op, "unsupported content type %q", ct)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
		if err != nil {
			return apperr.Classify(op, fmt.Errorf("reading body: %w", err))
		}
		body, err = decodeBody(data, resp.Header.Get("Content-Type"))
		if err != nil {
			return apperr.New(apperr.Parse, op, err)
		}
		return nil
	})
	return body, err
}

// decodeBody converts a page to UTF-8 using, in order, a BOM, the
// Content-Type charset and a <meta> declaration. An undeclared page that is
// already valid UTF-8 is kept as is.
func decodeBody(data []byte, contentType string) (string, error) {
	enc, name, certain := charset.DetermineEncoding(data, contentType)
	if name == "utf-8" || (!certain && utf8.Valid(data)) {
		return string(data), nil
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s body: %w", name, err)
	}
	return string(decoded), nil
}
