package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/menu-labeler/internal/logging"
	"github.com/example/menu-labeler/internal/retry"
)

// ErrCacheMiss is returned by Cache.Get when no reply is stored under the key.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores inference replies by key.
type Cache interface {
	Set(ctx context.Context, key, reply string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set stores a reply.
func (c *RedisCache) Set(ctx context.Context, key, reply string, expiration time.Duration) error {
	return c.client.Set(ctx, key, reply, expiration).Err()
}

// Get loads a reply, translating redis.Nil into ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	reply, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return reply, err
}

// ReplyCache keys replies by model, prompt and image content, so a change
// to any of them forces a fresh inference call.
type ReplyCache struct {
	cache  Cache
	model  string
	prompt string
	ttl    time.Duration
	retry  retry.Config
	logger *zap.Logger
}

// NewReplyCache wraps cache for replies produced by model under prompt.
func NewReplyCache(cache Cache, model, prompt string, ttl time.Duration, logger *zap.Logger) *ReplyCache {
	return &ReplyCache{
		cache:  cache,
		model:  model,
		prompt: prompt,
		ttl:    ttl,
		retry:  retry.DefaultConfig(),
		logger: logger.Named("reply_cache"),
	}
}

// Key returns the cache key for an image hash.
func (c *ReplyCache) Key(imageHash string) string {
	promptSum := sha1.Sum([]byte(c.prompt))
	return fmt.Sprintf("labels:reply:%s:%s:%s", c.model, hex.EncodeToString(promptSum[:]), imageHash)
}

// Lookup returns the stored reply for an image. Misses and cache failures
// both report false; failures are logged.
func (c *ReplyCache) Lookup(ctx context.Context, filename, imageHash string) (string, bool) {
	opLogger := logging.WithOperation(c.logger, "cache.get.reply", filename)
	var reply string
	err := retry.Do(ctx, c.retry, func() error {
		value, err := c.cache.Get(ctx, c.Key(imageHash))
		if err != nil {
			return err
		}
		reply = value
		return nil
	}, func(err error, attempt int) {
		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt))
	})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
		return "", false
	}
	return reply, true
}

// Store saves a reply for an image. Failures are logged and otherwise ignored.
func (c *ReplyCache) Store(ctx context.Context, filename, imageHash, reply string) {
	opLogger := logging.WithOperation(c.logger, "cache.set.reply", filename)
	err := retry.Do(ctx, c.retry, func() error {
		return c.cache.Set(ctx, c.Key(imageHash), reply, c.ttl)
	}, func(err error, attempt int) {
		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt))
	})
	if err != nil {
		opLogger.Warn("failed to cache reply", zap.Error(err))
	}
}
