package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samplemind/samplemind-core/pkg/hasher"
	"github.com/samplemind/samplemind-core/pkg/kv"
	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
)

const (
	cacheKeyVersion = "v2"
	defaultCacheTTL = 7 * 24 * time.Hour
)

// Cache stores model responses keyed by provider and canonical request
// fingerprint. Reads never block a request: any store failure is a miss.
// Writes happen asynchronously and failures are logged, not surfaced.
type Cache struct {
	store   kv.Store
	ttl     time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewCache builds a response cache. store may be nil, which disables
// caching entirely. ttl 0 selects the 7-day default.
func NewCache(store kv.Store, ttl time.Duration, logger *logging.Logger, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Cache{store: store, ttl: ttl, logger: logger.WithComponent("ai.cache"), metrics: m}
}

// CacheKey derives the storage key for a provider and request payload.
func CacheKey(provider Provider, payload map[string]any) (string, error) {
	fp, err := hasher.RequestFingerprint(payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ai:%s:%s:%s", cacheKeyVersion, provider, fp), nil
}

// Get returns the cached response body for the request, if any.
func (c *Cache) Get(ctx context.Context, provider Provider, payload map[string]any) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	key, err := CacheKey(provider, payload)
	if err != nil {
		return nil, false
	}
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warn("ai cache read failed, treating as miss", "provider", provider, "error", err)
		}
		c.metrics.CacheMisses.WithLabelValues("ai").Inc()
		return nil, false
	}
	c.metrics.CacheHits.WithLabelValues("ai").Inc()
	return value, true
}

// Put caches a response asynchronously. TTL override 0 uses the default.
func (c *Cache) Put(ctx context.Context, provider Provider, payload map[string]any, body []byte, ttl time.Duration) {
	if c.store == nil {
		return
	}
	key, err := CacheKey(provider, payload)
	if err != nil {
		c.logger.Warn("ai cache key derivation failed", "provider", provider, "error", err)
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.store.Set(ctx, key, body, ttl); err != nil {
			c.logger.Warn("ai cache write failed", "provider", provider, "error", err)
		}
	}()
}

// InvalidateProvider drops every cached response for one provider and
// reports how many entries were removed.
func (c *Cache) InvalidateProvider(ctx context.Context, provider Provider) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.DeleteByPrefix(ctx, fmt.Sprintf("ai:%s:%s:", cacheKeyVersion, provider))
}

// Flush waits for in-flight writes. Primarily for shutdown and tests.
func (c *Cache) Flush() {
	c.wg.Wait()
}
