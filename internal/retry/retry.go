// Package retry runs network calls under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
	defaultMultiplier  = 2.0
)

var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Policy is shared by every component that calls a remote service.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable decides whether a failed attempt is retried. Nil means
	// apperr.IsRetryable.
	Retryable func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		Multiplier:  defaultMultiplier,
		Retryable:   apperr.IsRetryable,
	}
}

// delayer is implemented by errors that carry a server-requested wait.
type delayer interface {
	Delay() time.Duration
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. attempt starts at 1.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry cancelled: %w", lastErr)
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := delay
		var d delayer
		if errors.As(lastErr, &d) && d.Delay() > 0 {
			wait = d.Delay()
		}
		if wait > p.MaxDelay {
			wait = p.MaxDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", lastErr)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, p.MaxAttempts, lastErr)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.Retryable == nil {
		p.Retryable = apperr.IsRetryable
	}
	return p
}
