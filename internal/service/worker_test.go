package service_test

import (
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunOnceDrainsStaleScopes(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(1), unit("SYMPTOM_MOOD", model.SeverityMild, "meh")))
	putEntry(t, svc, ctx, "alice", "e2", entry(daysAgo(2), unit("SYMPTOM_SLEEP", model.SeverityMild, "late")))
	putEntry(t, svc, ctx, "bob", "x1", entry(daysAgo(3), unit("IMPACT_WORK", model.SeverityMild, "skipped work")))

	w := service.NewWorker(svc)
	stats := w.RunOnce(ctx)
	// 2 users x 5 ranges x 4 kinds, each scope visited once.
	assert.Equal(t, 40, stats.Scopes)
	assert.Equal(t, 40, stats.Recomputed)
	assert.Zero(t, stats.Failed)

	for _, kind := range model.DerivedKinds {
		stale, err := svc.Store().ListStaleScopes(ctx, kind, 100)
		require.NoError(t, err)
		assert.Empty(t, stale, kind)
	}

	stats = w.RunOnce(ctx)
	assert.Zero(t, stats.Scopes)
}

func TestWorker_RecomputesThemeSeriesScopesWithoutRows(t *testing.T) {
	svc, ctx := newService(t)
	require.NoError(t, svc.MarkStale(ctx, "carol", []model.RangeKey{model.RangeLast7Days}, ""))

	stale, err := svc.Store().ListStaleScopes(ctx, model.KindThemeSeries, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.ScopeKey{{UserID: "carol", RangeKey: model.RangeLast7Days}}, stale)

	stats := service.NewWorker(svc).RunOnce(ctx)
	assert.Equal(t, 4, stats.Scopes)
	assert.Equal(t, 4, stats.Recomputed)

	scope, err := svc.Store().GetScope(ctx, "carol", model.RangeLast7Days, model.KindThemeSeries)
	require.NoError(t, err)
	assert.True(t, scope.Fresh())
}
