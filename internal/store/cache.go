package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"homehub/internal/models"
	"homehub/internal/utils"
)

// RedisCache keeps the last known state per device under device:{id}.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps client. A non-positive ttl uses utils.StateCacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = utils.StateCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

// Get returns the cached state. ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, deviceID string) (models.State, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: cache get %s: %w", deviceID, err)
	}

	var state models.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("store: cache decode %s: %w", deviceID, err)
	}
	return state, true, nil
}

// Set overwrites the cached state.
func (c *RedisCache) Set(ctx context.Context, deviceID string, state models.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: cache encode %s: %w", deviceID, err)
	}
	if err := c.client.Set(ctx, cacheKey(deviceID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("store: cache set %s: %w", deviceID, err)
	}
	return nil
}

// Fill caches state only when the key is absent (SET NX).
func (c *RedisCache) Fill(ctx context.Context, deviceID string, state models.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: cache encode %s: %w", deviceID, err)
	}
	if err := c.client.SetNX(ctx, cacheKey(deviceID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("store: cache fill %s: %w", deviceID, err)
	}
	return nil
}
