package metrics

import (
	"context"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	"github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
)

// Wrap returns a DerivedStore that records StoreLatency for every operation.
func Wrap(inner store.DerivedStore) store.DerivedStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.DerivedStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) UpsertEntrySignal(ctx context.Context, signal *model.EntrySignal) error {
	defer observe("upsert_entry_signal", time.Now())
	return m.inner.UpsertEntrySignal(ctx, signal)
}

func (m *metricsStore) GetEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error) {
	defer observe("get_entry_signal", time.Now())
	return m.inner.GetEntrySignal(ctx, userID, entryID)
}

func (m *metricsStore) DeleteEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error) {
	defer observe("delete_entry_signal", time.Now())
	return m.inner.DeleteEntrySignal(ctx, userID, entryID)
}

func (m *metricsStore) ListEntrySignals(ctx context.Context, userID string, window model.DateWindow) ([]model.EntrySignal, error) {
	defer observe("list_entry_signals", time.Now())
	return m.inner.ListEntrySignals(ctx, userID, window)
}

func (m *metricsStore) EarliestSignalDate(ctx context.Context, userID string) (string, error) {
	defer observe("earliest_signal_date", time.Now())
	return m.inner.EarliestSignalDate(ctx, userID)
}

func (m *metricsStore) LatestSourceUpdate(ctx context.Context, userID string, window model.DateWindow) (*time.Time, error) {
	defer observe("latest_source_update", time.Now())
	return m.inner.LatestSourceUpdate(ctx, userID, window)
}

func (m *metricsStore) UpsertWeeklyNarrative(ctx context.Context, weekly *model.WeeklyNarrative) error {
	defer observe("upsert_weekly_narrative", time.Now())
	return m.inner.UpsertWeeklyNarrative(ctx, weekly)
}

func (m *metricsStore) ListWeeklyNarratives(ctx context.Context, userID string) ([]model.WeeklyNarrative, error) {
	defer observe("list_weekly_narratives", time.Now())
	return m.inner.ListWeeklyNarratives(ctx, userID)
}

func (m *metricsStore) MarkStale(ctx context.Context, userID string, rangeKeys []model.RangeKey, sourceVersion string) error {
	defer observe("mark_stale", time.Now())
	return m.inner.MarkStale(ctx, userID, rangeKeys, sourceVersion)
}

func (m *metricsStore) GetScope(ctx context.Context, userID string, rangeKey model.RangeKey, kind model.DerivedKind) (*model.DerivedScope, error) {
	defer observe("get_scope", time.Now())
	return m.inner.GetScope(ctx, userID, rangeKey, kind)
}

func (m *metricsStore) ListStaleScopes(ctx context.Context, kind model.DerivedKind, limit int) ([]model.ScopeKey, error) {
	defer observe("list_stale_scopes", time.Now())
	return m.inner.ListStaleScopes(ctx, kind, limit)
}

func (m *metricsStore) SaveThemeSeries(ctx context.Context, w store.ScopeWrite, rows []model.ThemeSeries) error {
	defer observe("save_theme_series", time.Now())
	return m.inner.SaveThemeSeries(ctx, w, rows)
}

func (m *metricsStore) ListThemeSeries(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.ThemeSeries, error) {
	defer observe("list_theme_series", time.Now())
	return m.inner.ListThemeSeries(ctx, userID, rangeKey)
}

func (m *metricsStore) SaveConnectionsGraph(ctx context.Context, w store.ScopeWrite, graph *model.ConnectionsGraph) error {
	defer observe("save_connections_graph", time.Now())
	return m.inner.SaveConnectionsGraph(ctx, w, graph)
}

func (m *metricsStore) GetConnectionsGraph(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.ConnectionsGraph, error) {
	defer observe("get_connections_graph", time.Now())
	return m.inner.GetConnectionsGraph(ctx, userID, rangeKey)
}

func (m *metricsStore) SaveCycles(ctx context.Context, w store.ScopeWrite, rows []model.Cycle) error {
	defer observe("save_cycles", time.Now())
	return m.inner.SaveCycles(ctx, w, rows)
}

func (m *metricsStore) ListCycles(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.Cycle, error) {
	defer observe("list_cycles", time.Now())
	return m.inner.ListCycles(ctx, userID, rangeKey)
}

func (m *metricsStore) SaveSnapshot(ctx context.Context, w store.ScopeWrite, summary *model.SnapshotSummary) error {
	defer observe("save_snapshot", time.Now())
	return m.inner.SaveSnapshot(ctx, w, summary)
}

func (m *metricsStore) GetSnapshot(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.SnapshotSummary, error) {
	defer observe("get_snapshot", time.Now())
	return m.inner.GetSnapshot(ctx, userID, rangeKey)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	return m.inner.Ping(ctx)
}

var _ store.DerivedStore = (*metricsStore)(nil)
