package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/config"
)

// Cache key prefixes
const (
	decisionPrefix = "dnc:decision:" // Check verdict cache
)

// ErrCacheKeyNotFound is returned when a key is absent from the cache
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return fmt.Sprintf("cache key not found: %s", e.Key)
}

// Metrics tracks cache performance
type Metrics struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Errors        int64 `json:"errors"`
	Invalidations int64 `json:"invalidations"`
}

// DecisionCache caches check verdicts in Redis with a bounded TTL.
// It is a backstop only: Add and Remove invalidate the affected number
// explicitly before returning, so expiry is never load-bearing for
// correctness.
type DecisionCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	invalidations atomic.Int64
}

// cachedDecision wraps a verdict with cache bookkeeping
type cachedDecision struct {
	Result   *dnc.CheckResult `json:"result"`
	CachedAt time.Time        `json:"cached_at"`
}

// NewDecisionCache creates a Redis-backed decision cache and verifies
// connectivity before returning
func NewDecisionCache(cfg *config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*DecisionCache, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	logger.Info("decision cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Duration("ttl", ttl))

	return &DecisionCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}, nil
}

// GetDecision returns a cached verdict for the number, if present
func (c *DecisionCache) GetDecision(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*dnc.CheckResult, error) {
	key := c.decisionKey(orgID, phoneNumber)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			c.misses.Add(1)
			return nil, ErrCacheKeyNotFound{Key: key}
		}
		c.errors.Add(1)
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var cached cachedDecision
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	c.hits.Add(1)
	return cached.Result, nil
}

// SetDecision stores a verdict with the bounded TTL
func (c *DecisionCache) SetDecision(ctx context.Context, orgID uuid.UUID, phoneNumber string, result *dnc.CheckResult) error {
	key := c.decisionKey(orgID, phoneNumber)

	data, err := json.Marshal(cachedDecision{Result: result, CachedAt: time.Now().UTC()})
	if err != nil {
		c.errors.Add(1)
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

// Invalidate drops the cached verdict for one number. Called by Add and
// Remove before they return so no stale "clear" verdict survives a mutation.
func (c *DecisionCache) Invalidate(ctx context.Context, orgID uuid.UUID, phoneNumber string) error {
	key := c.decisionKey(orgID, phoneNumber)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("cache invalidate failed: %w", err)
	}

	c.invalidations.Add(1)
	return nil
}

// Ping reports cache health
func (c *DecisionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Stats returns a snapshot of cache metrics
func (c *DecisionCache) Stats() Metrics {
	return Metrics{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Errors:        c.errors.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Close releases the Redis client
func (c *DecisionCache) Close() error {
	return c.client.Close()
}

// decisionKey hashes the phone number so raw numbers never appear in Redis
func (c *DecisionCache) decisionKey(orgID uuid.UUID, phoneNumber string) string {
	sum := sha256.Sum256([]byte(phoneNumber))
	return decisionPrefix + orgID.String() + ":" + hex.EncodeToString(sum[:16])
}
