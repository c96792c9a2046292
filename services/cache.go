package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"atmos/models"
)

const (
	latestReadingKey = "atmos:reading:latest"
	cacheOpTimeout   = 2 * time.Second
)

// ReadingCache keeps the most recent accepted reading in Redis so the
// polling dashboards can be served without touching Postgres, including
// while the store is down. Every operation is fail-soft: a cache outage
// degrades to a store query, never to an error surfaced upward.
type ReadingCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewReadingCache(addr, password string, logger *zap.Logger) *ReadingCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &ReadingCache{
		client: client,
		logger: logger,
		ttl:    time.Hour,
	}
}

// SetLatest stores the reading. Errors are logged and swallowed.
func (c *ReadingCache) SetLatest(r *models.Reading) {
	payload, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("Failed to marshal reading for cache", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, latestReadingKey, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache latest reading", zap.Error(err))
	}
}

// GetLatest returns the cached reading, or nil on miss or cache failure.
func (c *ReadingCache) GetLatest(ctx context.Context) *models.Reading {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	payload, err := c.client.Get(ctx, latestReadingKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to read latest reading from cache", zap.Error(err))
		}
		return nil
	}

	var r models.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		c.logger.Warn("Discarding corrupt cached reading", zap.Error(err))
		return nil
	}
	return &r
}

// Close releases the client connection pool.
func (c *ReadingCache) Close() error {
	return c.client.Close()
}
