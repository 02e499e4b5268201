// Package storetest holds the behavioural suite every DerivedStore must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store bound to the test's lifetime.
type Factory func(t *testing.T) (registrystore.DerivedStore, context.Context)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EntrySignals", func(t *testing.T) { testEntrySignals(t, newStore) })
	t.Run("MarkStaleIdempotent", func(t *testing.T) { testMarkStaleIdempotent(t, newStore) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newStore) })
	t.Run("ThemeSeriesReplacesDeselected", func(t *testing.T) { testThemeSeriesReplace(t, newStore) })
	t.Run("CyclesSentinel", func(t *testing.T) { testCyclesSentinel(t, newStore) })
	t.Run("SnapshotAndGraph", func(t *testing.T) { testSnapshotAndGraph(t, newStore) })
	t.Run("WeeklyNarratives", func(t *testing.T) { testWeeklyNarratives(t, newStore) })
}

func signal(userID, entryID, date string, updated time.Time, labels ...string) *model.EntrySignal {
	units := make([]model.EvidenceUnit, len(labels))
	for i, l := range labels {
		units[i] = model.EvidenceUnit{
			Span:       "span " + l,
			Label:      l,
			Attributes: model.EvidenceAttributes{Polarity: model.PolarityPresent, Severity: model.SeverityModerate},
		}
	}
	return &model.EntrySignal{
		UserID:          userID,
		EntryID:         entryID,
		DateISO:         date,
		Themes:          []string{},
		EvidenceUnits:   units,
		PipelineVersion: model.PipelineEntrySignals,
		SourceVersion:   updated.UTC().Format(time.RFC3339Nano),
		SourceUpdatedAt: updated.UTC(),
	}
}

func write(userID string, rk model.RangeKey, kind model.DerivedKind, revision int64) registrystore.ScopeWrite {
	return registrystore.ScopeWrite{
		UserID:          userID,
		RangeKey:        rk,
		Kind:            kind,
		Revision:        revision,
		SourceVersion:   "2026-03-10T00:00:00Z",
		PipelineVersion: model.PipelineVersion(kind),
		ComputedAt:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func revisionOf(t *testing.T, ctx context.Context, s registrystore.DerivedStore, userID string, rk model.RangeKey, kind model.DerivedKind) int64 {
	t.Helper()
	scope, err := s.GetScope(ctx, userID, rk, kind)
	require.NoError(t, err)
	if scope == nil {
		return 0
	}
	return scope.Revision
}

func testEntrySignals(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertEntrySignal(ctx, signal("alice", "e2", "2026-03-05", base, "SYMPTOM_MOOD")))
	require.NoError(t, s.UpsertEntrySignal(ctx, signal("alice", "e1", "2026-03-05", base.Add(time.Hour), "SYMPTOM_SLEEP")))
	require.NoError(t, s.UpsertEntrySignal(ctx, signal("alice", "e0", "2026-02-01", base.Add(-48*time.Hour))))
	require.NoError(t, s.UpsertEntrySignal(ctx, signal("bob", "x1", "2026-03-05", base.Add(10*time.Hour))))

	// Re-upsert replaces rather than duplicates.
	require.NoError(t, s.UpsertEntrySignal(ctx, signal("alice", "e2", "2026-03-06", base.Add(2*time.Hour), "SYMPTOM_MOOD", "IMPACT_WORK")))

	all, err := s.ListEntrySignals(ctx, "alice", model.DateWindow{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e0", "e1", "e2"}, []string{all[0].EntryID, all[1].EntryID, all[2].EntryID})
	assert.Len(t, all[2].EvidenceUnits, 2)
	assert.Equal(t, "2026-03-06", all[2].DateISO)

	window := model.DateWindow{Start: "2026-03-01", End: "2026-03-10"}
	inWindow, err := s.ListEntrySignals(ctx, "alice", window)
	require.NoError(t, err)
	assert.Len(t, inWindow, 2)

	earliest, err := s.EarliestSignalDate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", earliest)
	earliest, err = s.EarliestSignalDate(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, earliest)

	latest, err := s.LatestSourceUpdate(ctx, "alice", window)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(base.Add(2*time.Hour)), "latest=%s", latest)
	latest, err = s.LatestSourceUpdate(ctx, "alice", model.DateWindow{Start: "2027-01-01", End: "2027-01-02"})
	require.NoError(t, err)
	assert.Nil(t, latest)

	got, err := s.GetEntrySignal(ctx, "alice", "e2")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-06", got.DateISO)

	deleted, err := s.DeleteEntrySignal(ctx, "alice", "e1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-05", deleted.DateISO)
	_, err = s.DeleteEntrySignal(ctx, "alice", "e1")
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
	_, err = s.GetEntrySignal(ctx, "alice", "e1")
	require.ErrorAs(t, err, &notFound)
}

func testMarkStaleIdempotent(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	rks := []model.RangeKey{model.RangeLast7Days, model.RangeAllTime}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.MarkStale(ctx, "alice", rks, "2026-03-10T00:00:00Z"))
	}

	for _, rk := range rks {
		for _, kind := range model.DerivedKinds {
			scope, err := s.GetScope(ctx, "alice", rk, kind)
			require.NoError(t, err)
			require.NotNil(t, scope)
			assert.True(t, scope.Stale)
			assert.Nil(t, scope.ComputedAt)
			assert.Equal(t, int64(2), scope.Revision)
			assert.Equal(t, "2026-03-10T00:00:00Z", scope.SourceVersion)
		}
		cycles, err := s.ListCycles(ctx, "alice", rk)
		require.NoError(t, err)
		require.Len(t, cycles, 1)
		assert.True(t, cycles[0].Sentinel())
		assert.True(t, cycles[0].Stale)

		graph, err := s.GetConnectionsGraph(ctx, "alice", rk)
		require.NoError(t, err)
		require.NotNil(t, graph)
		assert.True(t, graph.Stale)

		snap, err := s.GetSnapshot(ctx, "alice", rk)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.True(t, snap.Stale)
	}

	stale, err := s.ListStaleScopes(ctx, model.KindThemeSeries, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ScopeKey{
		{UserID: "alice", RangeKey: model.RangeLast7Days},
		{UserID: "alice", RangeKey: model.RangeAllTime},
	}, stale)

	limited, err := s.ListStaleScopes(ctx, model.KindThemeSeries, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func series(theme string) model.ThemeSeries {
	return model.ThemeSeries{Theme: theme, Points: []model.SeriesPoint{{DateISO: "2026-03-10", Intensity: 0.7, Confidence: 0.8}}}
}

func testCompareAndSwap(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	rk := model.RangeLast30Days
	require.NoError(t, s.MarkStale(ctx, "alice", []model.RangeKey{rk}, "v1"))
	rev := revisionOf(t, ctx, s, "alice", rk, model.KindThemeSeries)

	require.NoError(t, s.SaveThemeSeries(ctx, write("alice", rk, model.KindThemeSeries, rev), []model.ThemeSeries{series("Low mood")}))
	scope, err := s.GetScope(ctx, "alice", rk, model.KindThemeSeries)
	require.NoError(t, err)
	assert.True(t, scope.Fresh())
	assert.Equal(t, model.PipelineThemeSeries, scope.PipelineVersion)

	// An invalidation between capture and commit wins.
	require.NoError(t, s.MarkStale(ctx, "alice", []model.RangeKey{rk}, "v2"))
	rows, err := s.ListThemeSeries(ctx, "alice", rk)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Stale)

	err = s.SaveThemeSeries(ctx, write("alice", rk, model.KindThemeSeries, rev), []model.ThemeSeries{series("Sleep problems")})
	require.Error(t, err)
	assert.True(t, registrystore.IsSuperseded(err))

	rows, err = s.ListThemeSeries(ctx, "alice", rk)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Low mood", rows[0].Theme)
	scope, err = s.GetScope(ctx, "alice", rk, model.KindThemeSeries)
	require.NoError(t, err)
	assert.True(t, scope.Stale)

	// A never-marked scope is created by its first commit.
	require.NoError(t, s.SaveThemeSeries(ctx, write("carol", rk, model.KindThemeSeries, 0), nil))
	scope, err = s.GetScope(ctx, "carol", rk, model.KindThemeSeries)
	require.NoError(t, err)
	require.NotNil(t, scope)
	assert.True(t, scope.Fresh())
	require.NoError(t, s.MarkStale(ctx, "carol", []model.RangeKey{rk}, "v3"))
	err = s.SaveThemeSeries(ctx, write("carol", rk, model.KindThemeSeries, 0), nil)
	assert.True(t, registrystore.IsSuperseded(err))
}

func testThemeSeriesReplace(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	rk := model.RangeLast7Days

	require.NoError(t, s.SaveThemeSeries(ctx, write("alice", rk, model.KindThemeSeries, 0), []model.ThemeSeries{series("Low mood"), series("Sleep problems")}))
	require.NoError(t, s.MarkStale(ctx, "alice", []model.RangeKey{rk}, "v2"))
	rev := revisionOf(t, ctx, s, "alice", rk, model.KindThemeSeries)
	require.NoError(t, s.SaveThemeSeries(ctx, write("alice", rk, model.KindThemeSeries, rev), []model.ThemeSeries{series("Sleep problems"), series("Work/School impact")}))

	rows, err := s.ListThemeSeries(ctx, "alice", rk)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Sleep problems", rows[0].Theme)
	assert.Equal(t, "Work/School impact", rows[1].Theme)
	for _, r := range rows {
		assert.False(t, r.Stale)
		require.NotNil(t, r.ComputedAt)
	}

	require.NoError(t, s.MarkStale(ctx, "alice", []model.RangeKey{rk}, "v3"))
	rev = revisionOf(t, ctx, s, "alice", rk, model.KindThemeSeries)
	require.NoError(t, s.SaveThemeSeries(ctx, write("alice", rk, model.KindThemeSeries, rev), nil))
	rows, err = s.ListThemeSeries(ctx, "alice", rk)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testCyclesSentinel(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	rk := model.RangeLast90Days

	require.NoError(t, s.SaveCycles(ctx, write("alice", rk, model.KindCycles, 0), nil))
	rows, err := s.ListCycles(ctx, "alice", rk)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Sentinel())
	assert.Zero(t, rows[0].Frequency)
	require.NotNil(t, rows[0].ComputedAt)

	require.NoError(t, s.MarkStale(ctx, "alice", []model.RangeKey{rk}, "v2"))
	rows, err = s.ListCycles(ctx, "alice", rk)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Stale)

	src, dst := "SYMPTOM_SLEEP", "SYMPTOM_MOOD"
	rev := revisionOf(t, ctx, s, "alice", rk, model.KindCycles)
	require.NoError(t, s.SaveCycles(ctx, write("alice", rk, model.KindCycles, rev), []model.Cycle{{
		SourceNode: &src, TargetNode: &dst, Frequency: 3, Confidence: 1, LagDaysMin: 2, AvgLag: 2,
		EvidenceEntryIDs: []string{"e1", "e2"},
	}}))
	rows, err = s.ListCycles(ctx, "alice", rk)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].Sentinel())
	assert.Equal(t, "SYMPTOM_SLEEP", *rows[0].SourceNode)
	assert.Equal(t, 3, rows[0].Frequency)
	assert.Equal(t, []string{"e1", "e2"}, rows[0].EvidenceEntryIDs)
	assert.False(t, rows[0].Stale)
}

func testSnapshotAndGraph(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	rk := model.RangeLast30Days

	graph, err := s.GetConnectionsGraph(ctx, "alice", rk)
	require.NoError(t, err)
	assert.Nil(t, graph)

	require.NoError(t, s.SaveConnectionsGraph(ctx, write("alice", rk, model.KindConnections, 0), &model.ConnectionsGraph{
		Nodes: []model.GraphNode{{ID: "sleep", Label: "Sleep"}, {ID: "work", Label: "Work"}},
		Edges: []model.GraphEdge{{ID: "sleep__work", From: "sleep", To: "work", Weight: 100, EvidenceEntryIDs: []string{"e1"}}},
	}))
	graph, err = s.GetConnectionsGraph(ctx, "alice", rk)
	require.NoError(t, err)
	require.NotNil(t, graph)
	assert.Len(t, graph.Nodes, 2)
	assert.Equal(t, 100, graph.Edges[0].Weight)
	assert.True(t, graph.Fresh())

	snap, err := s.GetSnapshot(ctx, "alice", rk)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, s.SaveSnapshot(ctx, write("alice", rk, model.KindSnapshot, 0), &model.SnapshotSummary{
		Snapshot: model.Snapshot{
			RangeKey:   rk,
			EntryCount: 4,
			Narrative:  &model.Narrative{OverTimeSummary: "Steady."},
			RangeCoverage: model.RangeCoverage{
				RequestedRangeKey: rk,
				EffectiveRangeKey: model.RangeAllTime,
				Reason:            model.CoverageInsufficientHistory,
				HistoryDays:       10,
			},
		},
	}))
	snap, err = s.GetSnapshot(ctx, "alice", rk)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 4, snap.Snapshot.EntryCount)
	assert.Equal(t, "Steady.", snap.Snapshot.Narrative.OverTimeSummary)
	assert.Equal(t, model.RangeAllTime, snap.Snapshot.RangeCoverage.EffectiveRangeKey)
	assert.True(t, snap.Fresh())
}

func testWeeklyNarratives(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	require.NoError(t, s.UpsertWeeklyNarrative(ctx, &model.WeeklyNarrative{UserID: "alice", WeekStartISO: "2026-03-09", Narrative: model.Narrative{OverTimeSummary: "late"}}))
	require.NoError(t, s.UpsertWeeklyNarrative(ctx, &model.WeeklyNarrative{UserID: "alice", WeekStartISO: "2026-03-02", Narrative: model.Narrative{OverTimeSummary: "early"}}))
	require.NoError(t, s.UpsertWeeklyNarrative(ctx, &model.WeeklyNarrative{UserID: "alice", WeekStartISO: "2026-03-09", Narrative: model.Narrative{OverTimeSummary: "late, revised"}}))

	weekly, err := s.ListWeeklyNarratives(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, weekly, 2)
	assert.Equal(t, "early", weekly[0].Narrative.OverTimeSummary)
	assert.Equal(t, "late, revised", weekly[1].Narrative.OverTimeSummary)
}
