package content

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

var testPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

const para = "Go programs are built from packages, and the toolchain resolves each import path to a module version before compiling anything at all."

func articlePage() string {
	return fmt.Sprintf(`<html><head><title>t</title><script>var x = 1;</script></head><body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<div class="sidebar-widget">Subscribe to our newsletter for weekly updates and offers.</div>
<article>
  <h1>Understanding Modules</h1>
  <p>%s</p>
  <p>%s <a href="https://go.dev/ref/mod">The reference</a> covers the details.</p>
  <div class="share-buttons">Share this on every network you know about today.</div>
</article>
<footer>Copyright footer text</footer>
</body></html>`, para, para)
}

func newTestExtractor(t *testing.T, srv *httptest.Server, opts Options) *Extractor {
	t.Helper()
	if srv != nil {
		opts.HTTPClient = srv.Client()
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = testPolicy
	}
	return New(opts, logger.NewNop())
}

func TestExtract_BlockedDomainMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	e := New(Options{
		Policy:         testPolicy,
		BlockedDomains: []string{"x.com", "nytimes.com"},
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls.Add(1)
			return nil, fmt.Errorf("unexpected request to %s", r.URL)
		})},
	}, logger.NewNop())

	for _, u := range []string{"https://x.com/user/status/1", "https://www.nytimes.com/2026/10/16/tech.html", "https://cooking.nytimes.com/r/1"} {
		res := e.Extract(context.Background(), u)
		assert.Equal(t, models.ContentUnavailable, res.State, u)
		assert.NoError(t, res.Err)
		assert.Empty(t, res.Content)
	}
	assert.Zero(t, calls.Load())
}

func TestExtract_TimeoutAttemptsBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	e := newTestExtractor(t, srv, Options{Timeout: 20 * time.Millisecond})
	res := e.Extract(context.Background(), srv.URL+"/slow")

	assert.Equal(t, models.ContentError, res.State)
	require.Error(t, res.Err)
	assert.Equal(t, apperr.Transient, apperr.KindOf(res.Err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestExtract_SemanticContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage())
	}))
	defer srv.Close()

	res := newTestExtractor(t, srv, Options{}).Extract(context.Background(), srv.URL+"/post")

	require.NoError(t, res.Err)
	assert.Equal(t, models.ContentFetched, res.State)
	assert.Equal(t, "semantic", res.Strategy)
	assert.Contains(t, res.Content, "Understanding Modules")
	assert.Contains(t, res.Content, "The reference covers the details.")
	assert.NotContains(t, res.Content, "https://go.dev")
	assert.NotContains(t, res.Content, "newsletter")
	assert.NotContains(t, res.Content, "Share this")
	assert.NotContains(t, res.Content, "var x")
	assert.NotEmpty(t, res.Summary)
	assert.True(t, strings.HasPrefix(res.Summary, "Understanding Modules Go programs"))
}

func TestExtract_DecodesDeclaredCharsets(t *testing.T) {
	// "Café crème, naïve résumé." in ISO-8859-1.
	latin1 := "Caf\xe9 cr\xe8me, na\xefve r\xe9sum\xe9."
	page := func(head string) string {
		return fmt.Sprintf(`<html><head>%s</head><body><article><p>%s</p><p>%s</p><p>%s</p></article></body></html>`,
			head, latin1, para, para)
	}

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"header charset", "text/html; charset=iso-8859-1", page("")},
		{"meta charset", "text/html", page(`<meta charset="windows-1252">`)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			res := newTestExtractor(t, srv, Options{}).Extract(context.Background(), srv.URL)

			require.NoError(t, res.Err)
			assert.Equal(t, models.ContentFetched, res.State)
			assert.Contains(t, res.Content, "Café crème, naïve résumé.")
			assert.NotContains(t, res.Content, "\uFFFD")
			assert.True(t, strings.HasPrefix(res.Summary, "Café crème"))
		})
	}
}

func TestDecodeBody_UndeclaredUTF8IsKept(t *testing.T) {
	// The non-ASCII text sits past the first 1024 bytes, where charset
	// sniffing would otherwise fall back to windows-1252.
	data := []byte("<html><body><p>" + strings.Repeat("a", 2048) + " Zürich 東京</p></body></html>")

	got, err := decodeBody(data, "text/html")

	require.NoError(t, err)
	assert.Contains(t, got, "Zürich 東京")
}

func TestExtract_DensityFallback(t *testing.T) {
	page := fmt.Sprintf(`<html><body>
<div id="page">
  <div class="links"><a href="/a">First link in a long list of links</a> <a href="/b">Second link in a long list</a></div>
  <div class="story-body"><p>%s</p><p>%s</p></div>
</div></body></html>`, para, para)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	res := newTestExtractor(t, srv, Options{}).Extract(context.Background(), srv.URL)

	require.NoError(t, res.Err)
	assert.Equal(t, "density", res.Strategy)
	assert.Contains(t, res.Content, "Go programs are built from packages")
	assert.NotContains(t, res.Content, "First link")
}

func TestExtract_NoMainContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>Too short.</p></body></html>")
	}))
	defer srv.Close()

	res := newTestExtractor(t, srv, Options{}).Extract(context.Background(), srv.URL)

	assert.Equal(t, models.ContentError, res.State)
	assert.Equal(t, apperr.Parse, apperr.KindOf(res.Err))
}

func TestExtract_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	res := newTestExtractor(t, srv, Options{}).Extract(context.Background(), srv.URL)

	assert.Equal(t, models.ContentError, res.State)
	assert.Equal(t, apperr.Permanent, apperr.KindOf(res.Err))
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(res.Err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtract_NonHTMLIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.7")
	}))
	defer srv.Close()

	res := newTestExtractor(t, srv, Options{}).Extract(context.Background(), srv.URL+"/paper.pdf")

	assert.Equal(t, models.ContentError, res.State)
	assert.Equal(t, apperr.Permanent, apperr.KindOf(res.Err))
}

func TestExtract_InvalidURL(t *testing.T) {
	res := New(Options{}, logger.NewNop()).Extract(context.Background(), "not a url")

	assert.Equal(t, models.ContentError, res.State)
	assert.Equal(t, apperr.Permanent, apperr.KindOf(res.Err))
}

type fixedStrategy struct {
	name  string
	cands []Candidate
}

func (f fixedStrategy) Name() string                { return f.name }
func (f fixedStrategy) Candidates(Page) []Candidate { return f.cands }

func TestSelectContainer_FirstQualifyingStrategyWins(t *testing.T) {
	strategies := []Strategy{
		fixedStrategy{name: "short", cands: []Candidate{{TextLen: 50, Score: 100}}},
		fixedStrategy{name: "good", cands: []Candidate{{TextLen: 300, Score: 1}, {TextLen: 250, Score: 7}, {TextLen: 10, Score: 99}}},
		fixedStrategy{name: "later", cands: []Candidate{{TextLen: 5000, Score: 500}}},
	}

	c, name, ok := selectContainer(Page{}, strategies, 200)

	require.True(t, ok)
	assert.Equal(t, "good", name)
	assert.Equal(t, 250, c.TextLen)

	_, _, ok = selectContainer(Page{}, strategies[:1], 200)
	assert.False(t, ok)
}

func TestBlocklist(t *testing.T) {
	b := NewBlocklist([]string{"x.com", "www.Medium.com"})

	assert.True(t, b.Blocks("x.com"))
	assert.True(t, b.Blocks("www.x.com"))
	assert.True(t, b.Blocks("mobile.x.com"))
	assert.True(t, b.Blocks("blog.medium.com"))
	assert.False(t, b.Blocks("box.com"))
	assert.False(t, b.Blocks("x.com.example.org"))
	assert.Equal(t, 2, b.Len())
}
