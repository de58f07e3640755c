package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"driftwatch/internal/core"
)

const redisKeyPrefix = "driftwatch:cache:"

// RedisBackend shares ledger entries between processes. Entries expire on
// their own after the TTL; Purge additionally drops anything older than the
// cutoff that outlived a longer TTL from an earlier configuration.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(ctx context.Context, redisURL string, ttl time.Duration) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBackend{client: client, ttl: ttl}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.CacheEntry{}, false, nil
	}
	if err != nil {
		return core.CacheEntry{}, false, err
	}
	var entry core.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return core.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

func (r *RedisBackend) Put(ctx context.Context, entry core.CacheEntry) (bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode cache entry: %w", err)
	}
	return r.client.SetNX(ctx, redisKeyPrefix+entry.Key, raw, r.ttl).Result()
}

func (r *RedisBackend) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	err := r.scan(ctx, func(key string, entry core.CacheEntry) error {
		if !entry.CreatedAt.Before(olderThan) {
			return nil
		}
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

func (r *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	s := Stats{ByKind: make(map[core.CacheKind]int)}
	err := r.scan(ctx, func(_ string, e core.CacheEntry) error {
		s.Entries++
		s.ByKind[e.Kind]++
		s.TotalCost += e.Cost
		if s.Oldest.IsZero() || e.CreatedAt.Before(s.Oldest) {
			s.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(s.Newest) {
			s.Newest = e.CreatedAt
		}
		return nil
	})
	return s, err
}

func (r *RedisBackend) scan(ctx context.Context, fn func(key string, entry core.CacheEntry) error) error {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		var entry core.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if err := fn(key, entry); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
