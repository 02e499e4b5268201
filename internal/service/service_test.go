package service_test

import (
	"testing"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnEntryChanged_MarksEveryScopeStale(t *testing.T) {
	svc, ctx := newService(t)
	signal, err := svc.OnEntryChanged(ctx, "alice", "e1", model.EntryFields{
		DateISO:          daysAgo(1),
		Themes:           []string{" sleep ", ""},
		ThemeIntensities: []model.ThemeIntensity{{Theme: "sleep", Intensity: 1.4}},
		EvidenceUnits:    []model.EvidenceUnit{unit("symptom_sleep", model.SeverityMild, "up late"), unit(" ", "", "")},
	}, now.Add(-2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, []string{"sleep"}, signal.Themes)
	assert.Equal(t, 1.0, signal.ThemeIntensities[0].Intensity)
	require.Len(t, signal.EvidenceUnits, 1)
	assert.Equal(t, "SYMPTOM_SLEEP", signal.EvidenceUnits[0].Label)
	assert.Equal(t, model.PipelineEntrySignals, signal.PipelineVersion)

	for _, rk := range model.RangeKeys {
		for _, kind := range model.DerivedKinds {
			scope, err := svc.Store().GetScope(ctx, "alice", rk, kind)
			require.NoError(t, err)
			require.NotNil(t, scope, "%s %s", rk, kind)
			assert.True(t, scope.Stale)
			assert.Equal(t, int64(1), scope.Revision)
			assert.Equal(t, signal.SourceVersion, scope.SourceVersion)
		}
	}
}

func TestOnEntryChanged_Validation(t *testing.T) {
	svc, ctx := newService(t)
	var validation *registrystore.ValidationError

	_, err := svc.OnEntryChanged(ctx, "alice", "", entry(daysAgo(1)), now)
	require.ErrorAs(t, err, &validation)
	_, err = svc.OnEntryChanged(ctx, "alice", "e1", entry("15/03/2026"), now)
	require.ErrorAs(t, err, &validation)
}

func TestOnEntryDeleted(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(2), unit("SYMPTOM_MOOD", model.SeverityModerate, "flat")))

	require.NoError(t, svc.OnEntryDeleted(ctx, "alice", "e1"))
	scope, err := svc.Store().GetScope(ctx, "alice", model.RangeLast7Days, model.KindCycles)
	require.NoError(t, err)
	assert.Equal(t, int64(2), scope.Revision)

	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, svc.OnEntryDeleted(ctx, "alice", "e1"), &notFound)
}

func TestAffectedRanges(t *testing.T) {
	cfg := testConfig(t)
	all := service.New(cfg, nil, service.WithClock(clock))
	assert.Equal(t, model.RangeKeys, all.AffectedRanges(daysAgo(400)))

	windowed := *cfg
	windowed.StaleRangePolicy = config.StaleRangesWindow
	svc := service.New(&windowed, nil, service.WithClock(clock))

	assert.Equal(t, []model.RangeKey{model.RangeLast30Days, model.RangeLast90Days, model.RangeLast365Days, model.RangeAllTime},
		svc.AffectedRanges(daysAgo(20)))
	assert.Equal(t, []model.RangeKey{model.RangeAllTime}, svc.AffectedRanges(daysAgo(400)))
	// An entry moved from yesterday to last year still invalidates the short ranges.
	assert.Equal(t, model.RangeKeys, svc.AffectedRanges(daysAgo(300), daysAgo(1)))
}

func TestMarkStale_RejectsUnknownRange(t *testing.T) {
	svc, ctx := newService(t)
	var validation *registrystore.ValidationError
	require.ErrorAs(t, svc.MarkStale(ctx, "alice", []model.RangeKey{"last_week"}, ""), &validation)
	require.NoError(t, svc.MarkStale(ctx, "alice", nil, ""))
}

func TestComputeSourceVersion(t *testing.T) {
	svc, ctx := newService(t)
	version, err := svc.ComputeSourceVersion(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.Equal(t, now.Format(time.RFC3339Nano), version)

	updated := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
	_, err = svc.OnEntryChanged(ctx, "alice", "e1", entry(daysAgo(3)), updated)
	require.NoError(t, err)
	_, err = svc.OnEntryChanged(ctx, "alice", "e0", entry(daysAgo(40)), updated.Add(time.Hour))
	require.NoError(t, err)

	version, err = svc.ComputeSourceVersion(ctx, "alice", model.RangeLast7Days)
	require.NoError(t, err)
	assert.Equal(t, updated.Format(time.RFC3339Nano), version)

	version, err = svc.ComputeSourceVersion(ctx, "alice", model.RangeAllTime)
	require.NoError(t, err)
	assert.Equal(t, updated.Add(time.Hour).Format(time.RFC3339Nano), version)
}

func TestPutWeeklyNarrative(t *testing.T) {
	svc, ctx := newService(t)
	var validation *registrystore.ValidationError

	_, err := svc.PutWeeklyNarrative(ctx, "alice", "2026-03-10", model.Narrative{OverTimeSummary: "x"})
	require.ErrorAs(t, err, &validation)

	weekly, err := svc.PutWeeklyNarrative(ctx, "alice", "2026-03-09", model.Narrative{OverTimeSummary: "steadier week"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", weekly.WeekStartISO)

	scope, err := svc.Store().GetScope(ctx, "alice", model.RangeLast7Days, model.KindSnapshot)
	require.NoError(t, err)
	require.NotNil(t, scope)
	assert.True(t, scope.Stale)
}

func TestRebuildUser(t *testing.T) {
	svc, ctx := newService(t)
	putEntry(t, svc, ctx, "alice", "e1", entry(daysAgo(2), unit("SYMPTOM_MOOD", model.SeverityModerate, "flat")))
	putEntry(t, svc, ctx, "bob", "x1", entry(daysAgo(2), unit("SYMPTOM_SLEEP", model.SeverityMild, "late")))

	require.NoError(t, svc.RebuildUser(ctx, "alice"))

	for _, rk := range model.RangeKeys {
		for _, kind := range model.DerivedKinds {
			scope, err := svc.Store().GetScope(ctx, "alice", rk, kind)
			require.NoError(t, err)
			assert.True(t, scope.Fresh(), "%s %s", rk, kind)
			assert.Equal(t, int64(2), scope.Revision)
		}
	}

	// Other users are left for the worker.
	scope, err := svc.Store().GetScope(ctx, "bob", model.RangeLast7Days, model.KindSnapshot)
	require.NoError(t, err)
	assert.True(t, scope.Stale)
}
