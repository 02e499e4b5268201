package noop

import (
	"context"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ResponseCache, error) {
			return &noopCache{}, nil
		},
	})
}

type noopCache struct{}

func (n *noopCache) Available() bool { return false }
func (n *noopCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
func (n *noopCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }

var _ cache.ResponseCache = (*noopCache)(nil)
