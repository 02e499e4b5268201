// Package service runs the derived analytics pipeline: staleness marking,
// per-kind recomputes, the background worker, and the read and write paths.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/narrative"
	registrycache "github.com/sheryldeakin/mindstorm-sub000/internal/registry/cache"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"golang.org/x/sync/singleflight"
)

// Service owns every derived-cache operation for all users.
type Service struct {
	store   registrystore.DerivedStore
	cache   registrycache.ResponseCache
	reducer *narrative.Reducer
	lookup  *labels.Lookup
	cfg     *config.Config
	now     func() time.Time

	// inflight deduplicates read-triggered recomputes per kind:user:range.
	inflight singleflight.Group
	bg       context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithCache sets the read-path response cache.
func WithCache(c registrycache.ResponseCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCollaborator sets the narrative merge collaborator used by snapshots.
// A disabled collaborator leaves weekly narratives out of snapshots entirely.
func WithCollaborator(c registrymerge.Collaborator) Option {
	return func(s *Service) {
		if c != nil && !registrymerge.IsDisabled(c) {
			s.reducer = narrative.NewReducer(c, s.cfg.MergeTimeout)
		}
	}
}

// WithLookup replaces the default label → theme table.
func WithLookup(l *labels.Lookup) Option {
	return func(s *Service) { s.lookup = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over store. A nil cfg uses config.DefaultConfig.
func New(cfg *config.Config, store registrystore.DerivedStore, opts ...Option) *Service {
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	bg, stop := context.WithCancel(context.Background())
	s := &Service{
		store:  store,
		lookup: labels.Default(),
		cfg:    cfg,
		now:    time.Now,
		bg:     bg,
		stop:   stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() registrystore.DerivedStore { return s.store }

// Wait blocks until every read-triggered recompute started so far has finished.
func (s *Service) Wait() { s.wg.Wait() }

// Close cancels in-flight read-triggered recomputes and waits for them.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Service) cacheAvailable() bool {
	return s.cache != nil && s.cache.Available()
}
