package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Redis stores recognition results in Redis as JSON.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the Redis server at addr and verifies the connection.
// If addr is empty, defaults to localhost:6379
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Redis{client: client, ttl: ttl}, nil
}

// Set stores e under key with the configured TTL
func (r *Redis) Set(ctx context.Context, key string, e Entry) error {
	if r.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set result %s: %w", key, err)
	}
	return nil
}

// Get retrieves the entry stored under key. A missing key is not an error.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	if r.client == nil {
		return Entry{}, false, fmt.Errorf("cache client is nil")
	}

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get result %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode result %s: %w", key, err)
	}
	return e, true, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
