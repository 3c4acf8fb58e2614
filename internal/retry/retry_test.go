package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return apperr.New(apperr.Transient, "get", errors.New("timeout"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), func(context.Context, int) error {
		calls++
		return apperr.New(apperr.Transient, "get", errors.New("timeout"))
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context, int) error {
		calls++
		return apperr.New(apperr.Permanent, "get", errors.New("not found"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NotErrorIs(t, err, ErrMaxAttemptsExceeded)
}

func TestDo_RateLimitIsRetried(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls == 1 {
			return &apperr.Error{Kind: apperr.RateLimit, RetryAfter: time.Millisecond}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_RetryAfterIsCappedByMaxDelay(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	start := time.Now()
	calls := 0
	_ = p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return &apperr.Error{Kind: apperr.RateLimit, RetryAfter: time.Hour}
	})

	assert.Equal(t, 2, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDo_CustomPredicate(t *testing.T) {
	sentinel := errors.New("flaky")
	p := fastPolicy(3)
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}

	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return apperr.New(apperr.Transient, "get", errors.New("reset"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
