package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

// ResponseCache stores rendered read responses. Keys embed the scope revision
// and compute time, so a recompute or invalidation never serves an old entry.
type ResponseCache interface {
	Available() bool
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key builds the response cache key of a scope at a given revision. deps are
// the scopes the response is also built from; their revision and compute time
// join the key. A nil dep is recorded as missing.
func Key(kind model.DerivedKind, userID string, rangeKey model.RangeKey, revision int64, computedAt *time.Time, deps ...*model.DerivedScope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mindstorm:derived:%s:%s:%s:%d:%d", kind, userID, rangeKey, revision, stamp(computedAt))
	for _, dep := range deps {
		if dep == nil {
			b.WriteString(":-")
			continue
		}
		fmt.Fprintf(&b, ":%s@%d.%d", dep.Kind, dep.Revision, stamp(dep.ComputedAt))
	}
	return b.String()
}

func stamp(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (ResponseCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
