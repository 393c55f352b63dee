// Package cache implements the dogpile-style, region-prefixed result cache
// described in spec.md §4.13/§9: cache-aside reads with a soft expiration
// that triggers a rebuild and a longer hard (server-side) expiration as a
// safety net, plus bulk invalidation by region prefix.
//
// Grounded on the teacher's Redis usage in modules/bichat/services
// (github.com/redis/go-redis/v9, SETNX/EX-style TTL keys) generalized from
// a job-dedupe key into a region-scoped value cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Region names the two cache regions named in spec.md §4.13.
type Region string

const (
	RegionTraceback Region = "traceback"
	RegionJira      Region = "jira"
)

const (
	// SoftTTL is how long a cached value is considered fresh.
	SoftTTL = 15 * time.Minute
	// HardTTL is the server-side safety expiration: a value never outlives
	// this even if nothing invalidates or rebuilds it.
	HardTTL = 20 * time.Minute
)

// Coordinator is the contract CacheCoordinator (C13) exposes to readers.
type Coordinator interface {
	Invalidate(ctx context.Context, region Region) error
}

// InvalidatedEvent is published on the event bus whenever a region is
// invalidated, so the scheduler can react by queuing hydrate_cache()
// without CacheCoordinator depending on the scheduler directly.
type InvalidatedEvent struct {
	Region Region
}

type entry struct {
	Value         json.RawMessage `json:"value"`
	SoftExpiresAt time.Time       `json:"soft_expires_at"`
}

// RedisCoordinator is the live, Redis-backed CacheCoordinator.
type RedisCoordinator struct {
	client    *redis.Client
	logger    *logrus.Logger
	publisher interface{ Publish(any) }
}

// NewRedisCoordinator builds a Coordinator backed by client. publisher may
// be nil, in which case invalidation events are not published.
func NewRedisCoordinator(client *redis.Client, logger *logrus.Logger, publisher interface{ Publish(any) }) *RedisCoordinator {
	return &RedisCoordinator{client: client, logger: logger, publisher: publisher}
}

func regionKeysSet(region Region) string {
	return fmt.Sprintf("cache:%s:keys", region)
}

func entryKey(region Region, key string) string {
	return fmt.Sprintf("cache:%s:%s", region, key)
}

// Get performs a cache-aside read: on a hit within SoftTTL, the cached
// value is returned as-is; on a miss or a soft-expired hit, builder runs
// and its result is cached.
func Get[T any](ctx context.Context, c *RedisCoordinator, region Region, key string, builder func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.client.Get(ctx, entryKey(region, key)).Result()
	if err == nil {
		var e entry
		if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr == nil && time.Now().Before(e.SoftExpiresAt) {
			var v T
			if jsonErr := json.Unmarshal(e.Value, &v); jsonErr == nil {
				return v, nil
			}
		}
	} else if err != redis.Nil {
		c.logger.WithError(err).Warn("cache: redis read failed, falling through to builder")
	}

	v, err := builder(ctx)
	if err != nil {
		return zero, err
	}
	if storeErr := c.store(ctx, region, key, v); storeErr != nil {
		c.logger.WithError(storeErr).Warn("cache: failed to store built value")
	}
	return v, nil
}

func (c *RedisCoordinator) store(ctx context.Context, region Region, key string, v any) error {
	valueJSON, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal value: %w", err)
	}
	e := entry{Value: valueJSON, SoftExpiresAt: time.Now().Add(SoftTTL)}
	blob, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, entryKey(region, key), blob, HardTTL)
	pipe.SAdd(ctx, regionKeysSet(region), key)
	pipe.Expire(ctx, regionKeysSet(region), HardTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate deletes every cached key under region and publishes
// InvalidatedEvent so interested subscribers (the scheduler's
// hydrate_cache hook) can react.
func (c *RedisCoordinator) Invalidate(ctx context.Context, region Region) error {
	keysSet := regionKeysSet(region)
	keys, err := c.client.SMembers(ctx, keysSet).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("cache: list region keys: %w", err)
	}
	if len(keys) > 0 {
		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = entryKey(region, k)
		}
		if err := c.client.Del(ctx, full...).Err(); err != nil {
			return fmt.Errorf("cache: delete region keys: %w", err)
		}
	}
	if err := c.client.Del(ctx, keysSet).Err(); err != nil {
		return fmt.Errorf("cache: delete region key-set: %w", err)
	}
	if c.publisher != nil {
		c.publisher.Publish(InvalidatedEvent{Region: region})
	}
	return nil
}

// NullCoordinator is the "caching off" variant: every Get is a miss, and
// Invalidate is a no-op. Satisfies the same contract as RedisCoordinator so
// callers don't branch on USE_DOGPILE_CACHE themselves.
type NullCoordinator struct{}

func (NullCoordinator) Invalidate(ctx context.Context, region Region) error { return nil }

// GetNull runs builder unconditionally, matching Get's signature for a
// disabled cache.
func GetNull[T any](ctx context.Context, _ *NullCoordinator, _ Region, _ string, builder func(ctx context.Context) (T, error)) (T, error) {
	return builder(ctx)
}
