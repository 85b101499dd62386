package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/ocr-service/internal/metrics"
)

// Config sizes the cache tiers. An empty RedisAddr disables the Redis tier.
type Config struct {
	Capacity      int
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Cache consults the local tier first and falls back to Redis. Redis errors
// are logged and treated as misses.
type Cache struct {
	local  *Local
	remote *Redis
	logger *zap.Logger
}

// New builds the cache. Failing to reach Redis is an error so that a
// misconfigured address is noticed at startup.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		local:  NewLocal(cfg.Capacity, cfg.TTL),
		logger: logger.Named("cache"),
	}
	if cfg.RedisAddr != "" {
		remote, err := NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL)
		if err != nil {
			return nil, err
		}
		c.remote = remote
	}
	c.local.Start()
	c.logger.Info("Result cache ready",
		zap.Int("capacity", cfg.Capacity),
		zap.Duration("ttl", cfg.TTL),
		zap.Bool("redis", c.remote != nil))
	return c, nil
}

// NewWithTiers assembles a cache from existing tiers. remote may be nil.
func NewWithTiers(local *Local, remote *Redis, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{local: local, remote: remote, logger: logger}
}

func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if e, ok := c.local.Get(key); ok {
		metrics.RecordCacheLookup("local", true)
		return e, true
	}
	metrics.RecordCacheLookup("local", false)

	if c.remote == nil {
		return Entry{}, false
	}
	e, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Redis lookup failed", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	metrics.RecordCacheLookup("redis", ok)
	if ok {
		c.local.Set(key, e)
	}
	return e, ok
}

func (c *Cache) Set(ctx context.Context, key string, e Entry) {
	c.local.Set(key, e)
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, key, e); err != nil {
		c.logger.Warn("Redis store failed", zap.String("key", key), zap.Error(err))
	}
}

// Close stops the local expiry loop and closes the Redis connection.
func (c *Cache) Close() error {
	c.local.Stop()
	if c.remote != nil {
		return c.remote.Close()
	}
	return nil
}
