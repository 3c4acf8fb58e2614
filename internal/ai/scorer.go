package ai

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/sync/errgroup"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/logger"
	"github.com/thomaskoefod/hnpoll/internal/retry"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

//go:embed prompts/system.txt
var DefaultSystemPrompt string

//go:embed prompts/user.tmpl
var DefaultPromptTemplate string

// Domain cache modes.
const (
	CacheOff          = "off"
	CacheBias         = "bias"
	CacheShortCircuit = "short_circuit"

	defaultMinSamples  = 5
	defaultConcurrency = 5
)

// DomainCache stores per-domain verdicts. Both the SQLite and Redis caches
// implement it.
type DomainCache interface {
	Lookup(ctx context.Context, domain string) (models.DomainVerdict, bool, error)
	Record(ctx context.Context, domain string, score int) error
}

type Options struct {
	CacheMode      string
	MinSamples     int
	IncludeContent bool
	Concurrency    int
	Policy         retry.Policy
	SystemPrompt   string
	PromptTemplate string
}

// Result is a relevance verdict. FromCache is set when no model was called.
type Result struct {
	Score     int
	FromCache bool
}

type Scorer struct {
	completer Completer
	cache     DomainCache
	tmpl      *template.Template
	system    string
	opts      Options
	log       logger.Logger
}

// PromptData is what the prompt template sees.
type PromptData struct {
	Title      string
	URL        string
	Domain     string
	Content    string
	DomainHint string
}

// NewScorer builds a scorer. cache may be nil, which behaves like mode off.
func NewScorer(completer Completer, cache DomainCache, opts Options, log logger.Logger) (*Scorer, error) {
	switch opts.CacheMode {
	case "":
		opts.CacheMode = CacheBias
	case CacheOff, CacheBias, CacheShortCircuit:
	default:
		return nil, fmt.Errorf("unknown domain cache mode %q", opts.CacheMode)
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = defaultMinSamples
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.PromptTemplate == "" {
		opts.PromptTemplate = DefaultPromptTemplate
	}

	tmpl, err := template.New("prompt").Parse(opts.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}

	return &Scorer{
		completer: completer,
		cache:     cache,
		tmpl:      tmpl,
		system:    strings.TrimSpace(opts.SystemPrompt),
		opts:      opts,
		log:       log,
	}, nil
}

// LoadPrompts reads prompt overrides from disk. Empty paths yield empty
// strings, which NewScorer replaces with the embedded defaults.
func LoadPrompts(systemPath, templatePath string) (system, tmpl string, err error) {
	if systemPath != "" {
		b, err := os.ReadFile(systemPath)
		if err != nil {
			return "", "", fmt.Errorf("reading system prompt: %w", err)
		}
		system = string(b)
	}
	if templatePath != "" {
		b, err := os.ReadFile(templatePath)
		if err != nil {
			return "", "", fmt.Errorf("reading prompt template: %w", err)
		}
		tmpl = string(b)
	}
	return system, tmpl, nil
}

// Score rates one story. Pinned domains, and in short_circuit mode any domain
// with enough samples, are answered from the cache.
func (s *Scorer) Score(ctx context.Context, story models.Story) (Result, error) {
	domain := story.Domain()
	useCache := s.cache != nil && s.opts.CacheMode != CacheOff && domain != ""

	var hint string
	if useCache {
		v, ok, err := s.cache.Lookup(ctx, domain)
		if err != nil {
			s.log.Warn("domain cache lookup failed", logger.String("domain", domain), logger.Error(err))
		}
		if ok {
			enough := v.Samples >= s.opts.MinSamples
			if v.Pinned || (s.opts.CacheMode == CacheShortCircuit && enough) {
				return Result{Score: v.Score, FromCache: true}, nil
			}
			if s.opts.CacheMode == CacheBias && enough {
				hint = fmt.Sprintf("For reference, %d earlier stories from %s averaged a relevance of %d.", v.Samples, domain, v.Score)
			}
		}
	}

	prompt, err := s.BuildPrompt(story, hint)
	if err != nil {
		return Result{}, err
	}

	var reply string
	err = s.opts.Policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		reply, err = s.completer.Complete(ctx, s.system, prompt)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	score, err := ParseScore(reply)
	if err != nil {
		return Result{}, err
	}

	if useCache {
		if err := s.cache.Record(ctx, domain, score); err != nil {
			s.log.Warn("domain cache record failed", logger.String("domain", domain), logger.Error(err))
		}
	}
	return Result{Score: score}, nil
}

func (s *Scorer) BuildPrompt(story models.Story, hint string) (string, error) {
	data := PromptData{
		Title:      story.Title,
		URL:        story.DeliveryURL(),
		Domain:     story.Domain(),
		DomainHint: hint,
	}
	if s.opts.IncludeContent {
		data.Content = story.Summary
	}

	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

// ScoreBatch scores stories with bounded concurrency. onResult is called once
// per story, never concurrently; a failure is reported there and does not
// stop the batch.
func (s *Scorer) ScoreBatch(ctx context.Context, stories []models.Story, onResult func(models.Story, Result, error)) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(s.opts.Concurrency)

	for _, story := range stories {
		story := story
		g.Go(func() error {
			res, err := s.Score(ctx, story)
			mu.Lock()
			onResult(story, res, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// ParseScore accepts a bare integer in [0,100]. Anything else is a ParseError;
// out-of-range values are not clamped.
func ParseScore(reply string) (int, error) {
	trimmed := strings.TrimSpace(reply)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, apperr.Newf(apperr.Parse, "parse score", "reply %q is not an integer", trimmed)
	}
	if n < 0 || n > 100 {
		return 0, apperr.Newf(apperr.Parse, "parse score", "score %d outside [0,100]", n)
	}
	return n, nil
}
