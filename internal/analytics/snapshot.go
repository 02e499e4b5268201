package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

const (
	maxSnapshotPatterns = 3
	maxSnapshotItems    = 3
	maxWhatHelped       = 4
	sparklinePoints     = 7
	minEntriesForTrends = 3
)

// SnapshotPrompts are the fixed reflection prompts shown with every snapshot.
var SnapshotPrompts = []string{
	"Which moment felt most steady this week?",
	"What would make tomorrow 10% softer?",
}

var helpKeywords = []struct {
	keyword string
	hint    string
}{
	{"walk", "Morning walk"},
	{"breath", "Breath reset"},
	{"sleep", "Sleep routine"},
	{"stretch", "Stretch break"},
	{"sunlight", "Sunlight break"},
}

// SnapshotInput is everything the heuristic snapshot reads.
type SnapshotInput struct {
	RangeKey model.RangeKey
	Today    string
	Signals  []model.EntrySignal
	Series   []model.ThemeSeries
	Weekly   []model.WeeklyNarrative
}

// BuildSnapshot assembles the deterministic part of a snapshot.
func BuildSnapshot(in SnapshotInput) model.Snapshot {
	patterns := buildPatterns(in.Series)
	topThemes := make([]string, len(patterns))
	for i, p := range patterns {
		topThemes[i] = strings.ToLower(p.Title)
	}

	var signalImpacts, signalInfluences, signalQuestions [][]string
	for _, s := range in.Signals {
		signalImpacts = append(signalImpacts, s.LifeAreas, s.EvidenceBySection.ImpactAreas)
		signalInfluences = append(signalInfluences, s.Influences, s.EvidenceBySection.RelatedInfluences)
		signalQuestions = append(signalQuestions, s.EvidenceBySection.QuestionsToExplore)
	}
	var weeklyImpacts, weeklyInfluences, weeklyQuestions [][]string
	for _, w := range in.Weekly {
		weeklyImpacts = append(weeklyImpacts, w.Narrative.ImpactAreas)
		weeklyInfluences = append(weeklyInfluences, w.Narrative.RelatedInfluences)
		weeklyQuestions = append(weeklyQuestions, w.Narrative.QuestionsToExplore)
	}

	impactAreas := TopItems(signalImpacts, maxSnapshotItems, nil)
	if len(impactAreas) == 0 {
		impactAreas = TopItems(weeklyImpacts, maxSnapshotItems, nil)
	}
	exclude := map[string]bool{}
	for _, item := range impactAreas {
		exclude[strings.ToLower(item)] = true
	}
	influences := TopItems(signalInfluences, maxSnapshotItems, exclude)
	if len(influences) == 0 {
		influences = TopItems(weeklyInfluences, maxSnapshotItems, exclude)
	}
	openQuestions := TopItems(signalQuestions, maxSnapshotItems, nil)
	if len(openQuestions) == 0 {
		openQuestions = TopItems(weeklyQuestions, maxSnapshotItems, nil)
	}

	missing := []string{}
	if len(in.Signals) < minEntriesForTrends {
		missing = append(missing, "Not enough entries for strong patterns yet.")
	}

	return model.Snapshot{
		RangeKey:         in.RangeKey,
		EntryCount:       len(in.Signals),
		SnapshotOverview: Overview(topThemes, impactAreas, influences),
		Patterns:         patterns,
		ImpactAreas:      impactAreas,
		Influences:       influences,
		OpenQuestions:    openQuestions,
		TimeRangeSummary: model.TimeRangeSummary{
			WeekOverWeekDelta: weekOverWeek(in.Signals, in.Today),
			MissingSignals:    missing,
		},
		WhatHelped: WhatHelped(in.Signals),
		Prompts:    append([]string{}, SnapshotPrompts...),
	}
}

func buildPatterns(series []model.ThemeSeries) []model.Pattern {
	ranked := append([]model.ThemeSeries{}, series...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ti, tj := ranked[i].Total(), ranked[j].Total()
		if ti != tj {
			return ti > tj
		}
		return ranked[i].Theme < ranked[j].Theme
	})
	patterns := []model.Pattern{}
	for _, s := range ranked {
		if len(patterns) == maxSnapshotPatterns {
			break
		}
		if s.Total() <= 0 {
			continue
		}
		sparkline := Sparkline(s.Intensities())
		patterns = append(patterns, model.Pattern{
			ID:          fmt.Sprintf("theme-%d", len(patterns)),
			Title:       labels.Title(s.Theme),
			Description: fmt.Sprintf("Patterns around %s show up across recent entries.", strings.ToLower(s.Theme)),
			Trend:       Trend(sparkline),
			Confidence:  patternConfidence(s),
			Sparkline:   sparkline,
		})
	}
	return patterns
}

// Sparkline compresses a series into seven 0-100 points.
func Sparkline(values []float64) []int {
	compressed := CompressSeries(values, sparklinePoints)
	out := make([]int, len(compressed))
	for i, v := range compressed {
		out[i] = int(math.Round(v * 100))
	}
	return out
}

// Trend compares the second half of a sparkline with the first half.
func Trend(sparkline []int) string {
	if len(sparkline) < 2 {
		return "steady"
	}
	half := len(sparkline) / 2
	first := meanInts(sparkline[:half])
	second := meanInts(sparkline[len(sparkline)-half:])
	switch {
	case second-first >= 5:
		return "up"
	case first-second >= 5:
		return "down"
	default:
		return "steady"
	}
}

func patternConfidence(s model.ThemeSeries) string {
	days := 0
	for _, p := range s.Points {
		if p.Intensity > 0 {
			days++
		}
	}
	switch {
	case days >= 8:
		return "high"
	case days >= 4:
		return "medium"
	default:
		return "low"
	}
}

func meanInts(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// TopItems counts case-insensitive items across groups and returns the most
// frequent, keeping the first spelling seen. Ties keep first-seen order.
func TopItems(groups [][]string, limit int, exclude map[string]bool) []string {
	counts := map[string]int{}
	originals := map[string]string{}
	var order []string
	for _, group := range groups {
		for _, item := range group {
			trimmed := strings.TrimSpace(item)
			key := strings.ToLower(trimmed)
			if key == "" || exclude[key] {
				continue
			}
			if _, ok := counts[key]; !ok {
				originals[key] = trimmed
				order = append(order, key)
			}
			counts[key]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]string, len(order))
	for i, key := range order {
		out[i] = originals[key]
	}
	return out
}

// FormatList joins up to three items in prose.
func FormatList(items []string) string {
	var filtered []string
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			filtered = append(filtered, item)
		}
	}
	switch len(filtered) {
	case 0:
		return ""
	case 1:
		return filtered[0]
	case 2:
		return filtered[0] + " and " + filtered[1]
	default:
		return fmt.Sprintf("%s, %s, and %s", filtered[0], filtered[1], filtered[2])
	}
}

// Overview assembles the templated snapshot prose.
func Overview(themes, impactAreas, influences []string) string {
	var parts []string
	if len(themes) > 0 {
		parts = append(parts, fmt.Sprintf("Lately, your writing often touches on %s.", FormatList(themes)))
	}
	if len(impactAreas) > 0 {
		parts = append(parts, fmt.Sprintf("These experiences seem to affect %s.", FormatList(impactAreas)))
	}
	if len(influences) > 0 {
		parts = append(parts, fmt.Sprintf("Things like %s come up alongside these moments.", FormatList(influences)))
	}
	return strings.Join(parts, " ")
}

// WhatHelped returns keyword-triggered coping hints from entry summaries.
func WhatHelped(signals []model.EntrySignal) []string {
	seen := map[string]bool{}
	hints := []string{}
	for _, s := range signals {
		summary := strings.ToLower(s.Summary)
		for _, k := range helpKeywords {
			if seen[k.hint] || !strings.Contains(summary, k.keyword) {
				continue
			}
			seen[k.hint] = true
			hints = append(hints, k.hint)
		}
	}
	if len(hints) > maxWhatHelped {
		hints = hints[:maxWhatHelped]
	}
	return hints
}

func weekOverWeek(signals []model.EntrySignal, today string) string {
	end, err := model.ParseDateISO(today)
	if err != nil {
		return "Trends are stabilizing across recent entries."
	}
	thisWeek := model.DateWindow{Start: model.DateISO(end.AddDate(0, 0, -6)), End: today}
	lastWeek := model.DateWindow{Start: model.DateISO(end.AddDate(0, 0, -13)), End: model.DateISO(end.AddDate(0, 0, -7))}
	var current, previous int
	for _, s := range signals {
		switch {
		case thisWeek.Contains(s.DateISO):
			current++
		case lastWeek.Contains(s.DateISO):
			previous++
		}
	}
	switch {
	case current > previous:
		return "You wrote more this week than the week before."
	case current < previous:
		return "You wrote less this week than the week before."
	default:
		return "Trends are stabilizing across recent entries."
	}
}
