package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
)

// CacheConfig configures the Redis embedding cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
	// Model is folded into the key so a model change never serves
	// stale vectors.
	Model string
}

// RedisCache stores vectors keyed by model and text hash.
type RedisCache struct {
	redis   *redis.Client
	config  CacheConfig
	logger  *logging.Logger
	metrics *Metrics
}

// NewRedisCache connects lazily; a Redis outage degrades every lookup
// to a miss.
func NewRedisCache(cfg CacheConfig, logger *logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisCache{
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		config:  cfg,
		logger:  logger.Named("embedding_cache"),
		metrics: NewMetrics(zap.NewNop()),
	}
}

func (c *RedisCache) key(text string) string {
	sum := sha256.Sum256([]byte(c.config.Model + "\x00" + text))
	return c.config.Prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached vector and whether it was found.
func (c *RedisCache) Get(ctx context.Context, text string) ([]float32, bool) {
	data, err := c.redis.Get(ctx, c.key(text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "embedding cache read failed", zap.Error(err))
		}
		c.metrics.RecordCache(ctx, false)
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		c.logger.Warn(ctx, "discarding corrupt cached embedding", zap.Error(err))
		c.metrics.RecordCache(ctx, false)
		return nil, false
	}
	c.metrics.RecordCache(ctx, true)
	return vec, true
}

// Set stores vec with the configured TTL. Failures are logged only.
func (c *RedisCache) Set(ctx context.Context, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(text), data, c.config.TTL).Err(); err != nil {
		c.logger.Warn(ctx, "embedding cache write failed", zap.Error(err))
	}
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.redis.Close()
}

// CachedEmbedder consults the cache before calling Embedder.
type CachedEmbedder struct {
	Embedder Embedder
	Cache    *RedisCache
}

// Embed returns a cached vector or embeds and stores text.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.Cache.Get(ctx, text); ok {
		return vec, nil
	}
	vec, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.Cache.Set(ctx, text, vec)
	return vec, nil
}

// CachedSource wraps every session Embedder with the cache.
type CachedSource struct {
	Source Source
	Cache  *RedisCache
}

func (s *CachedSource) ForSession(winner *provider.WinnerCache) Embedder {
	return &CachedEmbedder{Embedder: s.Source.ForSession(winner), Cache: s.Cache}
}
