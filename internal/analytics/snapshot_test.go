package analytics

import (
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	"github.com/stretchr/testify/require"
)

func series(theme string, values ...float64) model.ThemeSeries {
	points := make([]model.SeriesPoint, len(values))
	for i, v := range values {
		points[i] = model.SeriesPoint{Intensity: v}
	}
	return model.ThemeSeries{Theme: theme, Points: points}
}

func TestBuildSnapshot_PatternsAndOverview(t *testing.T) {
	in := SnapshotInput{
		RangeKey: model.RangeLast30Days,
		Today:    "2026-03-10",
		Series: []model.ThemeSeries{
			series("Sleep changes", 0, 0, 0, 1, 1, 1, 1),
			series("Low mood", 1, 1, 1, 1, 1, 1, 1, 1, 1),
			series("Anxiety or worry", 1, 1, 0, 0, 0, 0, 0),
			series("empty", 0, 0, 0),
		},
		Signals: []model.EntrySignal{
			{DateISO: "2026-03-09", Summary: "Took a long walk and slept badly", LifeAreas: []string{"Work"}, Influences: []string{"Deadlines", "work"}},
			{DateISO: "2026-03-01", Summary: "Breathing exercises helped", LifeAreas: []string{"work", "Family"}},
			{DateISO: "2026-03-02", Summary: "Sunlight and a stretch", EvidenceBySection: model.EvidenceBySection{QuestionsToExplore: []string{"Why mornings?"}}},
		},
	}
	snap := BuildSnapshot(in)

	require.Len(t, snap.Patterns, 3)
	require.Equal(t, "Low Mood", snap.Patterns[0].Title)
	require.Equal(t, "theme-0", snap.Patterns[0].ID)
	require.Equal(t, "high", snap.Patterns[0].Confidence)
	require.Equal(t, "steady", snap.Patterns[0].Trend)
	require.Equal(t, "up", snap.Patterns[1].Trend)
	require.Equal(t, "down", snap.Patterns[2].Trend)
	require.Len(t, snap.Patterns[1].Sparkline, 7)

	require.Equal(t, []string{"Work", "Family"}, snap.ImpactAreas)
	require.Equal(t, []string{"Deadlines"}, snap.Influences)
	require.Equal(t, []string{"Why mornings?"}, snap.OpenQuestions)
	require.Equal(t, []string{"Morning walk", "Breath reset", "Stretch break", "Sunlight break"}, snap.WhatHelped)
	require.Equal(t, SnapshotPrompts, snap.Prompts)
	require.Equal(t, 3, snap.EntryCount)
	require.Empty(t, snap.TimeRangeSummary.MissingSignals)
	require.Equal(t,
		"Lately, your writing often touches on low mood, sleep changes, and anxiety or worry. "+
			"These experiences seem to affect Work and Family. "+
			"Things like Deadlines come up alongside these moments.",
		snap.SnapshotOverview)
}

func TestBuildSnapshot_FallsBackToWeeklyNarratives(t *testing.T) {
	in := SnapshotInput{
		RangeKey: model.RangeLast7Days,
		Today:    "2026-03-10",
		Weekly: []model.WeeklyNarrative{
			{Narrative: model.Narrative{ImpactAreas: []string{"Sleep"}, RelatedInfluences: []string{"sleep", "Caffeine"}, QuestionsToExplore: []string{"What helps?"}}},
			{Narrative: model.Narrative{ImpactAreas: []string{"Relationships", "sleep"}}},
		},
	}
	snap := BuildSnapshot(in)
	require.Empty(t, snap.Patterns)
	require.Equal(t, []string{"Sleep", "Relationships"}, snap.ImpactAreas)
	require.Equal(t, []string{"Caffeine"}, snap.Influences)
	require.Equal(t, []string{"What helps?"}, snap.OpenQuestions)
	require.Equal(t, []string{"Not enough entries for strong patterns yet."}, snap.TimeRangeSummary.MissingSignals)
}

func TestFormatList(t *testing.T) {
	require.Equal(t, "", FormatList(nil))
	require.Equal(t, "a", FormatList([]string{"a", " "}))
	require.Equal(t, "a and b", FormatList([]string{"a", "b"}))
	require.Equal(t, "a, b, and c", FormatList([]string{"a", "b", "c"}))
}

func TestWeekOverWeek(t *testing.T) {
	signals := []model.EntrySignal{{DateISO: "2026-03-10"}, {DateISO: "2026-03-09"}, {DateISO: "2026-03-01"}}
	require.Equal(t, "You wrote more this week than the week before.", weekOverWeek(signals, "2026-03-10"))
	require.Equal(t, "You wrote less this week than the week before.", weekOverWeek(signals[2:], "2026-03-10"))
}
