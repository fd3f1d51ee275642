// Package cache is a fail-soft key/value layer over Redis. It is an
// optimization only: every backend error degrades to a miss or a no-op.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache interface {
	// Get returns the value and true on a hit. Misses and backend failures
	// both return false.
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Del(ctx context.Context, key string)
}

type Options struct {
	Prefix    string
	TTL       time.Duration
	OpTimeout time.Duration
}

type redisCache struct {
	client redis.UniversalClient
	opts   Options
	log    *slog.Logger
}

func NewRedisCache(client redis.UniversalClient, opts Options, log *slog.Logger) Cache {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}
	return &redisCache{client: client, opts: opts, log: log}
}

// NewClient parses a redis:// URL into a client. Connections are lazy, so an
// unreachable server does not fail startup.
func NewClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (c *redisCache) key(k string) string {
	return c.opts.Prefix + k
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.log.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key, value string) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(key), value, c.opts.TTL).Err(); err != nil {
		c.log.WarnContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

func (c *redisCache) Del(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.log.WarnContext(ctx, "cache delete failed", "key", key, "error", err)
	}
}
