package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// JSONCache stores JSON encoded values under a namespace with a bounded TTL.
// A nil client turns every Fetch into a direct loader call.
type JSONCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
	group     singleflight.Group
}

// NewJSONCache instantiates the cache helper.
func NewJSONCache(client *redis.Client, namespace string, ttl time.Duration, logger *slog.Logger) *JSONCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONCache{client: client, namespace: namespace, ttl: ttl, logger: logger}
}

// TTL returns the configured lifetime of cached entries.
func (c *JSONCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Key composes a namespaced cache key.
func (c *JSONCache) Key(parts ...string) string {
	if c == nil {
		return strings.Join(parts, ":")
	}
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Fetch loads a cached value into dest or populates it using the loader.
// Concurrent misses for the same key share one loader call. Redis failures
// degrade to the loader instead of failing the read.
func (c *JSONCache) Fetch(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil || c.ttl <= 0 {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if err := json.Unmarshal(payload, dest); err == nil {
			return nil
		}
		c.logger.Warn("cache: discard undecodable entry", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache: get failed", slog.String("key", key), slog.Any("error", err))
	}

	// The shared load outlives any single waiter; each waiter still honours
	// its own ctx below.
	loadCtx := context.WithoutCancel(ctx)
	resultCh := c.group.DoChan(key, func() (any, error) {
		value, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %s: %w", key, err)
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache: set failed", slog.String("key", key), slog.Any("error", err))
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Invalidate removes the given keys. It runs synchronously with the write that
// made the entries stale.
func (c *JSONCache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		c.group.Forget(key)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}

// InvalidatePrefix removes every key under the namespace sharing prefix.
func (c *JSONCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	if c == nil || c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scan %s: %w", prefix, err)
	}
	return c.Invalidate(ctx, keys...)
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
