// Package cache holds the domain verdict cache backends. The SQLite backend
// lives with the rest of the store in internal/database; this package adds a
// Redis backend so several machines can share verdicts.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
	"github.com/thomaskoefod/hnpoll/internal/database"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

// Store is the domain cache surface shared by both backends.
type Store interface {
	Lookup(ctx context.Context, domain string) (models.DomainVerdict, bool, error)
	Record(ctx context.Context, domain string, score int) error
	Pin(ctx context.Context, domain string, score int) error
	List(ctx context.Context) ([]models.DomainVerdict, error)
	Invalidate(ctx context.Context, domain string) (bool, error)
	InvalidateAll(ctx context.Context) (int64, error)
}

var (
	_ Store = (*database.DomainCache)(nil)
	_ Store = (*RedisDomainCache)(nil)
)

const DefaultKeyPrefix = "hnpoll:domain:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Hash fields of one domain entry.
const (
	fieldSum     = "sum"
	fieldSamples = "samples"
	fieldPinned  = "pinned"
	fieldScore   = "score"
	fieldUpdated = "updated_at"
)

// RedisDomainCache stores each domain as a hash under prefix+domain. Sums and
// sample counts are kept with HINCRBY so concurrent writers do not lose
// samples.
type RedisDomainCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisDomainCache(client *redis.Client, prefix string) *RedisDomainCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisDomainCache{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *RedisDomainCache) key(domain string) string {
	return c.prefix + domain
}

func (c *RedisDomainCache) Lookup(ctx context.Context, domain string) (models.DomainVerdict, bool, error) {
	fields, err := c.client.HGetAll(ctx, c.key(domain)).Result()
	if err != nil {
		return models.DomainVerdict{}, false, redisErr("looking up domain verdict", err)
	}
	if len(fields) == 0 {
		return models.DomainVerdict{}, false, nil
	}
	return verdictFromHash(domain, fields), true, nil
}

func verdictFromHash(domain string, fields map[string]string) models.DomainVerdict {
	atoi := func(k string) int64 {
		n, _ := strconv.ParseInt(fields[k], 10, 64)
		return n
	}

	v := models.DomainVerdict{
		Domain:    domain,
		Samples:   int(atoi(fieldSamples)),
		Pinned:    fields[fieldPinned] == "1",
		UpdatedAt: time.Unix(atoi(fieldUpdated), 0).UTC(),
	}
	switch {
	case v.Pinned:
		v.Score = int(atoi(fieldScore))
	case v.Samples > 0:
		v.Score = int(math.Round(float64(atoi(fieldSum)) / float64(v.Samples)))
	}
	return v
}

// Record adds one score to the running average.
func (c *RedisDomainCache) Record(ctx context.Context, domain string, score int) error {
	key := c.key(domain)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldSum, int64(score))
		pipe.HIncrBy(ctx, key, fieldSamples, 1)
		pipe.HSet(ctx, key, fieldUpdated, c.now().Unix())
		return nil
	})
	if err != nil {
		return redisErr("recording domain verdict", err)
	}
	return nil
}

func (c *RedisDomainCache) Pin(ctx context.Context, domain string, score int) error {
	err := c.client.HSet(ctx, c.key(domain),
		fieldPinned, 1,
		fieldScore, score,
		fieldUpdated, c.now().Unix(),
	).Err()
	if err != nil {
		return redisErr("pinning domain verdict", err)
	}
	return nil
}

// List returns every cached domain, most sampled first.
func (c *RedisDomainCache) List(ctx context.Context) ([]models.DomainVerdict, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.DomainVerdict, 0, len(keys))
	for _, key := range keys {
		fields, err := c.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, redisErr("listing domain verdicts", err)
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, verdictFromHash(strings.TrimPrefix(key, c.prefix), fields))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Samples != out[j].Samples {
			return out[i].Samples > out[j].Samples
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

func (c *RedisDomainCache) Invalidate(ctx context.Context, domain string) (bool, error) {
	n, err := c.client.Del(ctx, c.key(domain)).Result()
	if err != nil {
		return false, redisErr("invalidating domain verdict", err)
	}
	return n > 0, nil
}

func (c *RedisDomainCache) InvalidateAll(ctx context.Context) (int64, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, redisErr("clearing domain cache", err)
	}
	return n, nil
}

func (c *RedisDomainCache) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, redisErr("scanning domain cache", err)
	}
	return keys, nil
}

func redisErr(op string, err error) error {
	return apperr.New(apperr.Persistence, op, err)
}
