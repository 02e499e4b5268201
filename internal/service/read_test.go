package service_test

import (
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_StaleServesAndTriggersRecompute(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(1), unit("SYMPTOM_MOOD", model.SeveritySevere, "could not get up")))

	res, err := svc.GetThemeSeries(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Empty(t, res.Data)
	assert.Equal(t, model.RangeLast7Days, res.RangeKey)

	svc.Wait()

	res, err = svc.GetThemeSeries(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Low mood", res.Data[0].Theme)
	require.NotNil(t, res.ComputedAt)
	assert.True(t, res.ComputedAt.Equal(now))
	assert.Equal(t, model.PipelineThemeSeries, res.PipelineVersion)
}

func TestRead_NeverComputedScope(t *testing.T) {
	svc, ctx := newService(t)

	snap, err := svc.GetSnapshot(ctx, "nobody", model.RangeLast30Days)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Nil(t, snap.Data)
	assert.Nil(t, snap.ComputedAt)

	graph, err := svc.GetConnections(ctx, "nobody", model.RangeLast30Days)
	require.NoError(t, err)
	assert.True(t, graph.Stale)
	assert.Empty(t, graph.Data.Nodes)
	assert.Empty(t, graph.Data.Edges)

	cycles, err := svc.GetCycles(ctx, "nobody", model.RangeLast30Days)
	require.NoError(t, err)
	assert.True(t, cycles.Stale)
	assert.Empty(t, cycles.Data)

	svc.Wait()
	cycles, err = svc.GetCycles(ctx, "nobody", model.RangeLast30Days)
	require.NoError(t, err)
	assert.False(t, cycles.Stale, "empty scope is computed with a sentinel")
	assert.Empty(t, cycles.Data)
}

func TestRead_InvalidRangeKey(t *testing.T) {
	svc, ctx := newService(t)
	var validation *registrystore.ValidationError
	_, err := svc.GetCycles(ctx, "alice", "yesterday")
	require.ErrorAs(t, err, &validation)
}

func TestRead_StaleCacheIsServedAfterInvalidation(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(1), unit("SYMPTOM_MOOD", model.SeverityMild, "meh")))
	require.NoError(t, svc.RecomputeScope(ctx, "alice", model.RangeLast7Days))

	putEntry(t, svc, ctx, "alice", "e2", entry(daysAgo(1), unit("SYMPTOM_SLEEP", model.SeverityMild, "late")))
	res, err := svc.GetSnapshot(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	require.NotNil(t, res.Data, "previous snapshot is still served")
	assert.Equal(t, 1, res.Data.EntryCount)

	svc.Wait()
	res, err = svc.GetSnapshot(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, 2, res.Data.EntryCount)
}

func TestRead_ConnectionsEnrichment(t *testing.T) {
	svc, ctx := newService(t)
	for i, d := range []int{6, 4, 2} {
		fields := entry(daysAgo(d),
			unit("SYMPTOM_MOOD", model.SeverityModerate, "heavy morning"),
			unit("SYMPTOM_SLEEP", model.SeverityMild, "woke at 4"))
		fields.EvidenceBySection.RecurringExperiences = []string{" ", "mornings feel heavy"}
		putEntry(t, svc, ctx, "alice", string(rune('a'+i)), fields)
	}
	require.NoError(t, svc.RecomputeScope(ctx, "alice", model.RangeLast7Days))

	res, err := svc.GetConnections(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	require.Len(t, res.Data.Nodes, 2)
	require.Len(t, res.Data.Edges, 1)
	edge := res.Data.Edges[0]
	assert.Equal(t, 100, edge.Weight)
	assert.Equal(t, "Low Mood <-> Sleep Changes", edge.Label)
	assert.Equal(t, 1.0, edge.Movement.Correlation)
	assert.Contains(t, edge.Movement.Summary, "tend to move together")
	assert.Len(t, edge.Movement.FromSeries, 7)
	require.Len(t, edge.Evidence, 2)
	assert.Equal(t, "mornings feel heavy", edge.Evidence[0].Quote)
}

func TestRead_FreshResponsesUseCache(t *testing.T) {
	cache := &countingCache{}
	svc, ctx := newService(t, service.WithCache(cache))
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(1), unit("SYMPTOM_MOOD", model.SeverityMild, "meh")))
	require.NoError(t, svc.RecomputeScope(ctx, "alice", model.RangeLast7Days))

	first, err := svc.GetSnapshot(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	second, err := svc.GetSnapshot(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first.Data.SnapshotOverview, second.Data.SnapshotOverview)

	// Invalidation changes the revision, so the cached entry is never served.
	require.NoError(t, svc.MarkStale(ctx, "alice", []model.RangeKey{model.RangeLast7Days}, ""))
	third, err := svc.GetSnapshot(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.True(t, third.Stale)
	assert.Equal(t, 1, cache.hits)
	svc.Wait()
}

func TestRead_ConnectionsCacheFollowsThemeSeries(t *testing.T) {
	cache := &countingCache{}
	svc, ctx := newService(t, service.WithCache(cache))
	for i, d := range []int{6, 4, 2} {
		putEntry(t, svc, ctx, "alice", string(rune('a'+i)), entry(daysAgo(d),
			unit("SYMPTOM_MOOD", model.SeverityModerate, "heavy morning"),
			unit("SYMPTOM_SLEEP", model.SeverityMild, "woke at 4")))
	}
	require.NoError(t, svc.Recompute(ctx, model.KindConnections, "alice", model.RangeLast7Days))

	early, err := svc.GetConnections(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.False(t, early.Stale)
	require.Len(t, early.Data.Edges, 1)
	assert.Empty(t, early.Data.Edges[0].Movement.FromSeries)

	require.NoError(t, svc.Recompute(ctx, model.KindThemeSeries, "alice", model.RangeLast7Days))

	late, err := svc.GetConnections(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)
	assert.Equal(t, 2, cache.sets)
	require.Len(t, late.Data.Edges, 1)
	assert.Equal(t, 1.0, late.Data.Edges[0].Movement.Correlation)
	assert.Len(t, late.Data.Edges[0].Movement.FromSeries, 7)
}
