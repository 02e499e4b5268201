package service_test

import (
	"context"
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/merge/none"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_SingleModerateMoodEntry(t *testing.T) {
	svc, ctx := newService(t)
	day := daysAgo(3)
	putEntry(t, svc, ctx, "alice", "e1", entry(day, unit("SYMPTOM_MOOD", model.SeverityModerate, "felt flat")))

	require.NoError(t, svc.RecomputeScope(ctx, "alice", model.RangeLast7Days))

	series, err := svc.Store().ListThemeSeries(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "Low mood", series[0].Theme)
	require.Len(t, series[0].Points, 7)
	for _, p := range series[0].Points {
		if p.DateISO == day {
			assert.Equal(t, 0.7, p.Intensity)
		} else {
			assert.Equal(t, 0.0, p.Intensity, p.DateISO)
			assert.Equal(t, 0.2, p.Confidence, p.DateISO)
		}
	}

	graph, err := svc.Store().GetConnectionsGraph(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	require.NotNil(t, graph)
	assert.Len(t, graph.Nodes, 1)
	assert.Empty(t, graph.Edges)

	cycles, err := svc.Store().ListCycles(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].Sentinel())
	assert.Equal(t, 0, cycles[0].Frequency)

	for _, kind := range model.DerivedKinds {
		scope, err := svc.Store().GetScope(ctx, "alice", model.RangeLast7Days, kind)
		require.NoError(t, err)
		assert.True(t, scope.Fresh(), kind)
		assert.Equal(t, model.PipelineVersion(kind), scope.PipelineVersion)
	}
}

func TestScenario_SleepThenMoodCycle(t *testing.T) {
	svc, ctx := newService(t)
	for i, start := range []int{24, 14, 4} {
		id := string(rune('a' + i))
		putEntry(t, svc, ctx, "alice", id+"-sleep", entry(daysAgo(start), unit("SYMPTOM_SLEEP", model.SeverityMild, "awake at 3am")))
		putEntry(t, svc, ctx, "alice", id+"-mood", entry(daysAgo(start-2), unit("SYMPTOM_MOOD", model.SeverityModerate, "low all day")))
	}

	require.NoError(t, svc.Recompute(ctx, model.KindCycles, "alice", model.RangeLast30Days))

	res, err := svc.GetCycles(ctx, "alice", model.RangeLast30Days)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	require.Len(t, res.Data, 1)
	c := res.Data[0]
	assert.Equal(t, "SYMPTOM_SLEEP", *c.SourceNode)
	assert.Equal(t, "SYMPTOM_MOOD", *c.TargetNode)
	assert.Equal(t, 3, c.Frequency)
	assert.Equal(t, 2, c.LagDaysMin)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Len(t, c.EvidenceEntryIDs, 6)
}

func TestScenario_InsufficientHistoryWidensSnapshot(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(10), unit("SYMPTOM_ANXIETY", model.SeverityMild, "on edge")))

	require.NoError(t, svc.Recompute(ctx, model.KindSnapshot, "alice", model.RangeLast365Days))

	summary, err := svc.Store().GetSnapshot(ctx, "alice", model.RangeLast365Days)
	require.NoError(t, err)
	require.NotNil(t, summary)
	cov := summary.Snapshot.RangeCoverage
	assert.Equal(t, model.RangeLast365Days, cov.RequestedRangeKey)
	assert.Equal(t, model.RangeAllTime, cov.EffectiveRangeKey)
	assert.Equal(t, model.CoverageInsufficientHistory, cov.Reason)
	assert.Equal(t, 11, cov.HistoryDays)
	assert.Equal(t, 1, summary.Snapshot.EntryCount)
	require.NotNil(t, summary.Snapshot.Narrative)
	assert.Equal(t, "Last 365 days", summary.Snapshot.Narrative.TimeRangeLabel)
	assert.Equal(t, summary.Snapshot.SnapshotOverview, summary.Snapshot.Narrative.OverTimeSummary)

	// The all_time theme series were refreshed on the way.
	scope, err := svc.Store().GetScope(ctx, "alice", model.RangeAllTime, model.KindThemeSeries)
	require.NoError(t, err)
	assert.True(t, scope.Fresh())

	// A covered range is computed on its own window.
	require.NoError(t, svc.Recompute(ctx, model.KindSnapshot, "alice", model.RangeLast7Days))
	short, err := svc.Store().GetSnapshot(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.Equal(t, model.RangeLast7Days, short.Snapshot.RangeCoverage.EffectiveRangeKey)
	assert.Empty(t, short.Snapshot.RangeCoverage.Reason)
	assert.Equal(t, 0, short.Snapshot.EntryCount)
}

func TestSnapshot_ClonesFreshAllTime(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(5), unit("SYMPTOM_SLEEP", model.SeverityMild, "restless")))

	require.NoError(t, svc.RecomputeScope(ctx, "alice", model.RangeAllTime))
	allTime, err := svc.Store().GetSnapshot(ctx, "alice", model.RangeAllTime)
	require.NoError(t, err)

	require.NoError(t, svc.Recompute(ctx, model.KindSnapshot, "alice", model.RangeLast90Days))
	cloned, err := svc.Store().GetSnapshot(ctx, "alice", model.RangeLast90Days)
	require.NoError(t, err)
	assert.Equal(t, allTime.Snapshot.SnapshotOverview, cloned.Snapshot.SnapshotOverview)
	assert.Equal(t, allTime.SourceVersion, cloned.SourceVersion)
	assert.Equal(t, model.RangeLast90Days, cloned.Snapshot.RangeKey)
	assert.Equal(t, "Last 90 days", cloned.Snapshot.Narrative.TimeRangeLabel)
	assert.Equal(t, "All time", allTime.Snapshot.Narrative.TimeRangeLabel)
}

func TestSnapshot_MergesWeeklyNarratives(t *testing.T) {
	collab := &fakeCollaborator{}
	svc, ctx := newService(t, service.WithCollaborator(collab))
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(20), unit("SYMPTOM_MOOD", model.SeverityModerate, "heavy")))
	for _, week := range []string{"2026-02-23", "2026-03-02", "2026-03-09"} {
		_, err := svc.PutWeeklyNarrative(ctx, "alice", week, model.Narrative{OverTimeSummary: week})
		require.NoError(t, err)
	}

	require.NoError(t, svc.Recompute(ctx, model.KindSnapshot, "alice", model.RangeAllTime))

	assert.Equal(t, int32(3), collab.calls.Load())
	summary, err := svc.Store().GetSnapshot(ctx, "alice", model.RangeAllTime)
	require.NoError(t, err)
	n := summary.Snapshot.Narrative
	require.NotNil(t, n)
	assert.Equal(t, "2026-02-23+2026-03-02+2026-03-09", n.OverTimeSummary)
	assert.Equal(t, []string{"SYMPTOM_MOOD: 1"}, n.RecurringExperiences)
	assert.Equal(t, "All time", n.TimeRangeLabel)
}

func TestSnapshot_MergeFailureKeepsHeuristics(t *testing.T) {
	collab := &fakeCollaborator{fail: true}
	svc, ctx := newService(t, service.WithCollaborator(collab))
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(20), unit("SYMPTOM_MOOD", model.SeverityModerate, "heavy")))
	for _, week := range []string{"2026-03-02", "2026-03-09"} {
		_, err := svc.PutWeeklyNarrative(ctx, "alice", week, model.Narrative{OverTimeSummary: week})
		require.NoError(t, err)
	}

	require.NoError(t, svc.Recompute(ctx, model.KindSnapshot, "alice", model.RangeAllTime))

	assert.Equal(t, int32(1), collab.calls.Load())
	summary, err := svc.Store().GetSnapshot(ctx, "alice", model.RangeAllTime)
	require.NoError(t, err)
	require.NotEmpty(t, summary.Snapshot.SnapshotOverview)
	assert.Equal(t, summary.Snapshot.SnapshotOverview, summary.Snapshot.Narrative.OverTimeSummary)
	assert.NotNil(t, summary.Snapshot.Narrative.ImpactAreas)
}

func TestSnapshot_DisabledMergeIgnoresWeeklyNarratives(t *testing.T) {
	loader, err := registrymerge.Select("none")
	require.NoError(t, err)
	for _, weeks := range [][]string{{"2026-03-09"}, {"2026-03-02", "2026-03-09"}} {
		collab, err := loader(context.Background())
		require.NoError(t, err)
		svc, ctx := newService(t, service.WithCollaborator(collab))
		putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(3), unit("SYMPTOM_MOOD", model.SeverityModerate, "heavy")))
		for _, week := range weeks {
			_, err := svc.PutWeeklyNarrative(ctx, "alice", week, model.Narrative{OverTimeSummary: "weekly " + week})
			require.NoError(t, err)
		}

		require.NoError(t, svc.Recompute(ctx, model.KindSnapshot, "alice", model.RangeAllTime))

		summary, err := svc.Store().GetSnapshot(ctx, "alice", model.RangeAllTime)
		require.NoError(t, err)
		require.NotEmpty(t, summary.Snapshot.SnapshotOverview)
		assert.Equal(t, summary.Snapshot.SnapshotOverview, summary.Snapshot.Narrative.OverTimeSummary, weeks)
	}
}

func TestRecompute_SupersededLeavesScopeStale(t *testing.T) {
	cfg := testConfig(t)
	inner, ctx := openStore(t, cfg)
	racing := &racingStore{DerivedStore: inner}
	racing.onList = func() {
		require.NoError(t, inner.MarkStale(context.Background(), "alice", []model.RangeKey{model.RangeLast7Days}, "edit"))
	}
	svc := service.New(cfg, racing, service.WithClock(clock))
	t.Cleanup(svc.Close)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(1), unit("SYMPTOM_MOOD", model.SeverityMild, "meh")))

	err := svc.Recompute(ctx, model.KindThemeSeries, "alice", model.RangeLast7Days)
	require.Error(t, err)
	assert.True(t, registrystore.IsSuperseded(err), err)

	scope, err := inner.GetScope(ctx, "alice", model.RangeLast7Days, model.KindThemeSeries)
	require.NoError(t, err)
	assert.True(t, scope.Stale)
	assert.Equal(t, int64(2), scope.Revision)

	// The next pass wins.
	require.NoError(t, svc.Recompute(ctx, model.KindThemeSeries, "alice", model.RangeLast7Days))
	scope, err = inner.GetScope(ctx, "alice", model.RangeLast7Days, model.KindThemeSeries)
	require.NoError(t, err)
	assert.True(t, scope.Fresh())
}

func TestRecompute_DeterministicOutput(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(2),
		unit("SYMPTOM_MOOD", model.SeverityModerate, "heavy"), unit("IMPACT_WORK", model.SeverityMild, "missed a deadline")))
	putEntry(t, svc, ctx, "alice", "e2", entry(daysAgo(1),
		unit("SYMPTOM_MOOD", model.SeverityMild, "low"), unit("SYMPTOM_SLEEP", model.SeverityMild, "late night")))

	require.NoError(t, svc.RecomputeScope(ctx, "alice", model.RangeLast30Days))
	series1, err := svc.Store().ListThemeSeries(ctx, "alice", model.RangeLast30Days)
	require.NoError(t, err)
	graph1, err := svc.Store().GetConnectionsGraph(ctx, "alice", model.RangeLast30Days)
	require.NoError(t, err)

	require.NoError(t, svc.MarkStale(ctx, "alice", []model.RangeKey{model.RangeLast30Days}, ""))
	require.NoError(t, svc.RecomputeScope(ctx, "alice", model.RangeLast30Days))
	series2, err := svc.Store().ListThemeSeries(ctx, "alice", model.RangeLast30Days)
	require.NoError(t, err)
	graph2, err := svc.Store().GetConnectionsGraph(ctx, "alice", model.RangeLast30Days)
	require.NoError(t, err)

	require.Len(t, series2, len(series1))
	for i := range series1 {
		assert.Equal(t, series1[i].Theme, series2[i].Theme)
		assert.Equal(t, series1[i].Points, series2[i].Points)
	}
	assert.Equal(t, graph1.Nodes, graph2.Nodes)
	assert.Equal(t, graph1.Edges, graph2.Edges)
}

func TestRecompute_UnknownKind(t *testing.T) {
	svc, ctx := newService(t)
	var validation *registrystore.ValidationError
	require.ErrorAs(t, svc.Recompute(ctx, "moods", "alice", model.RangeAllTime), &validation)
	require.ErrorAs(t, svc.Recompute(ctx, model.KindCycles, "alice", "last_week"), &validation)
}
