package local

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	registrycache "github.com/sheryldeakin/mindstorm-sub000/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.ResponseCache, error) {
			cfg := config.FromContext(ctx)
			maxBytes := int64(64 << 20)
			ttl := 5 * time.Minute
			if cfg != nil {
				if cfg.LocalCacheMaxBytes > 0 {
					maxBytes = cfg.LocalCacheMaxBytes
				}
				if cfg.CacheTTL > 0 {
					ttl = cfg.CacheTTL
				}
			}
			return New(maxBytes, ttl)
		},
	})
}

// New returns an in-process cache bounded to maxBytes of stored values.
func New(maxBytes int64, ttl time.Duration) (registrycache.ResponseCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &localCache{cache: c, ttl: ttl}, nil
}

type localCache struct {
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

func (c *localCache) Available() bool { return true }

func (c *localCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.cache.Get(key)
	return v, ok, nil
}

func (c *localCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	c.cache.Wait()
	return nil
}

var _ registrycache.ResponseCache = (*localCache)(nil)
