package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
)

const (
	DefaultAnthropicModel = "claude-3-haiku-20240307"
	defaultMaxTokens      = 100
)

type AnthropicOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int64
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AnthropicCompleter calls the Messages API. SDK retries are disabled; the
// scorer's retry policy owns backoff.
type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicCompleter(opts AnthropicOptions) (*AnthropicCompleter, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic api key is not set (ANTHROPIC_API_KEY)")
	}
	if opts.Model == "" {
		opts.Model = DefaultAnthropicModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	return &AnthropicCompleter{
		client:    anthropic.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}, nil
}

func (c *AnthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	const op = "anthropic messages"

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAnthropic(op, err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", apperr.Newf(apperr.Parse, op, "reply has no text block")
}

func classifyAnthropic(op string, err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return apperr.Classify(op, err)
	}
	e := apperr.FromStatus(op, apiErr.StatusCode, err)
	if apiErr.Response != nil {
		e.RetryAfter = apperr.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return e
}
