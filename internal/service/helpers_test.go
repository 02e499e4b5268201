package service_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	"github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/gormstore"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	registrymigrate "github.com/sheryldeakin/mindstorm-sub000/internal/registry/migrate"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
	"github.com/stretchr/testify/require"
)

// 2026-03-15 is a Sunday; 2026-03-09 is the Monday of its ISO week.
var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func daysAgo(n int) string {
	return model.DateISO(now.AddDate(0, 0, -n))
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "mindstorm.db")
	cfg.WorkerConcurrency = 2
	return &cfg
}

func openStore(t *testing.T, cfg *config.Config) (registrystore.DerivedStore, context.Context) {
	t.Helper()
	_ = gormstore.ForceImport
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), cfg))
	t.Cleanup(cancel)
	require.NoError(t, registrymigrate.RunAll(ctx))
	loader, err := registrystore.Select(cfg.DatastoreType)
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	return store, ctx
}

func newService(t *testing.T, opts ...service.Option) (*service.Service, context.Context) {
	t.Helper()
	cfg := testConfig(t)
	store, ctx := openStore(t, cfg)
	svc := service.New(cfg, store, append([]service.Option{service.WithClock(clock)}, opts...)...)
	t.Cleanup(svc.Close)
	return svc, ctx
}

func unit(label, severity, span string) model.EvidenceUnit {
	return model.EvidenceUnit{
		Span:       span,
		Label:      label,
		Attributes: model.EvidenceAttributes{Polarity: model.PolarityPresent, Severity: severity},
	}
}

func entry(date string, units ...model.EvidenceUnit) model.EntryFields {
	return model.EntryFields{DateISO: date, EvidenceUnits: units}
}

func putEntry(t *testing.T, svc *service.Service, ctx context.Context, userID, entryID string, fields model.EntryFields) {
	t.Helper()
	_, err := svc.OnEntryChanged(ctx, userID, entryID, fields, now.Add(-time.Hour))
	require.NoError(t, err)
}

// fakeCollaborator concatenates chunk summaries so the merge tree is visible.
type fakeCollaborator struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeCollaborator) Merge(_ context.Context, req registrymerge.Request) (*model.Narrative, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	parts := make([]string, len(req.Chunks))
	for i, c := range req.Chunks {
		parts[i] = c.OverTimeSummary
	}
	return &model.Narrative{
		OverTimeSummary:      strings.Join(parts, "+"),
		RecurringExperiences: []string{req.SignalContext},
	}, nil
}

// racingStore invalidates a scope the first time signals are listed, as a
// concurrent entry edit would.
type racingStore struct {
	registrystore.DerivedStore
	once   sync.Once
	onList func()
}

func (r *racingStore) ListEntrySignals(ctx context.Context, userID string, window model.DateWindow) ([]model.EntrySignal, error) {
	r.once.Do(r.onList)
	return r.DerivedStore.ListEntrySignals(ctx, userID, window)
}

// countingCache is an in-memory response cache that records traffic.
type countingCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
	sets int
}

func (c *countingCache) Available() bool { return true }

func (c *countingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = value
	c.sets++
	return nil
}
