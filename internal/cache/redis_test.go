package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
)

func newTestCache(t *testing.T) (*RedisDomainCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDomainCache(client, ""), mr
}

func TestRedisDomainCache_RunningAverage(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Lookup(ctx, "github.com")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, s := range []int{60, 70, 81} {
		require.NoError(t, c.Record(ctx, "github.com", s))
	}

	v, ok, err := c.Lookup(ctx, "github.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 70, v.Score)
	assert.Equal(t, 3, v.Samples)
	assert.False(t, v.Pinned)
	assert.Equal(t, "211", mr.HGet("hnpoll:domain:github.com", "sum"))
}

func TestRedisDomainCache_PinOverridesAverage(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, "prnewswire.com", 40))
	require.NoError(t, c.Pin(ctx, "prnewswire.com", 5))
	require.NoError(t, c.Record(ctx, "prnewswire.com", 90))

	v, ok, err := c.Lookup(ctx, "prnewswire.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Pinned)
	assert.Equal(t, 5, v.Score)
}

func TestRedisDomainCache_ListAndInvalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Record(ctx, "a.com", 10))
	require.NoError(t, c.Record(ctx, "b.com", 20))
	require.NoError(t, c.Record(ctx, "b.com", 30))
	require.NoError(t, mr.Set("unrelated", "x"))

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.com", list[0].Domain)
	assert.Equal(t, 25, list[0].Score)

	removed, err := c.Invalidate(ctx, "a.com")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.Invalidate(ctx, "a.com")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := c.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisDomainCache_ErrorsArePersistence(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, _, err := c.Lookup(context.Background(), "a.com")

	assert.Equal(t, apperr.Persistence, apperr.KindOf(err))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrEmptyAddress)

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	client.Close()
}
