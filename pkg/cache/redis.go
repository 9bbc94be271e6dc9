package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signpostkit/signpost/pkg/models"
)

const defaultTTL = 5 * time.Minute

// Redis is an EffectiveCache backed by a redis instance. Entries carry a
// short TTL as a safety net on top of explicit invalidation.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache from a redis URL.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &Redis{
		client: redis.NewClient(opts),
		ttl:    defaultTTL,
	}, nil
}

// Get returns the cached list and true, or nil and false on a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]*models.WorkflowLandingItem, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	var items []*models.WorkflowLandingItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached list: %w", err)
	}

	return items, true, nil
}

// Set stores the list under key with the cache TTL.
func (r *Redis) Set(ctx context.Context, key string, items []*models.WorkflowLandingItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal list for cache: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}

	return nil
}

// InvalidateSurgery drops every entry for the surgery; an empty surgery id
// (a global-scope mutation) drops every effective entry.
func (r *Redis) InvalidateSurgery(ctx context.Context, surgeryID string) error {
	pattern := "effective:*"
	if surgeryID != "" {
		pattern = "effective:" + surgeryID + "*"
	}

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()

	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache key %s: %w", iter.Val(), err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	return nil
}

// Close closes the underlying redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
