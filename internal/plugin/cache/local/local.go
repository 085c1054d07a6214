// Package local provides an in-process user cache for single-replica deployments.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/chirino/chat-service/internal/security"
	"github.com/dgraph-io/ristretto/v2"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.UserCache, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				d := config.DefaultConfig()
				cfg = &d
			}
			return New(cfg.LocalCacheNumCounters, cfg.LocalCacheMaxCost, cfg.CacheUserTTL)
		},
	})
}

// New returns a ristretto-backed cache holding up to maxCost users.
func New(numCounters, maxCost int64, ttl time.Duration) (*Cache, error) {
	if numCounters <= 0 {
		numCounters = 100_000
	}
	if maxCost <= 0 {
		maxCost = 10_000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, model.User]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &Cache{cache: c, ttl: ttl}, nil
}

// Cache implements registrycache.UserCache. Each user costs 1.
type Cache struct {
	cache *ristretto.Cache[string, model.User]
	ttl   time.Duration
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(_ context.Context, externalID string) (*model.User, error) {
	user, ok := c.cache.Get(externalID)
	security.RecordCacheLookup("local", ok)
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (c *Cache) Set(_ context.Context, user model.User, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(user.ExternalID, user, 1, ttl)
	c.cache.Wait()
	return nil
}

func (c *Cache) Remove(_ context.Context, externalID string) error {
	c.cache.Del(externalID)
	return nil
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() { c.cache.Close() }

var _ registrycache.UserCache = (*Cache)(nil)
