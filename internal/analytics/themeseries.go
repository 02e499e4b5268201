// Package analytics holds the pure recompute algorithms behind every derived
// cache. Nothing here touches storage; callers pass signals in date order.
package analytics

import (
	"math"
	"sort"

	"github.com/sheryldeakin/mindstorm-sub000/internal/labels"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

// Confidence levels attached to daily theme points.
const (
	ConfidenceEvidence  = 0.8
	ConfidenceIntensity = 0.7
	ConfidenceTag       = 0.6
	ConfidenceNoData    = 0.2
)

const (
	maxSeriesThemes  = 12
	minRecurringDays = 3
)

// SeriesWindow is the dense date list a theme series covers.
type SeriesWindow struct {
	Dates []string
	// Truncated is set when an all_time window was clamped to the max history.
	Truncated bool
	// Earliest is the earliest signal date seen for all_time windows.
	Earliest string
}

// ResolveSeriesWindow returns the dense date list for rangeKey. Fixed ranges
// cover [today-N+1, today]. all_time starts at the earliest signal, clamped
// to the most recent maxDays days, and is empty when there are no signals.
func ResolveSeriesWindow(rangeKey model.RangeKey, window model.DateWindow, signals []model.EntrySignal, maxDays int) (SeriesWindow, error) {
	if rangeKey != model.RangeAllTime {
		dates, err := model.EachDate(window.Start, window.End)
		return SeriesWindow{Dates: dates}, err
	}
	earliest := ""
	for _, s := range signals {
		if s.DateISO != "" && (earliest == "" || s.DateISO < earliest) {
			earliest = s.DateISO
		}
	}
	if earliest == "" || earliest > window.End {
		return SeriesWindow{}, nil
	}
	end, err := model.ParseDateISO(window.End)
	if err != nil {
		return SeriesWindow{}, err
	}
	capStart := model.DateISO(end.AddDate(0, 0, -(maxDays - 1)))
	start, truncated := earliest, false
	if earliest < capStart {
		start, truncated = capStart, true
	}
	dates, err := model.EachDate(start, window.End)
	return SeriesWindow{Dates: dates, Truncated: truncated, Earliest: earliest}, err
}

type dayValue struct {
	intensity  float64
	confidence float64
}

// entryThemes returns the per-entry theme intensities. An entry with evidence
// units is read only from its present theme-bearing units, so absent or
// non-theme evidence yields nothing. Entries without evidence sum their
// themeIntensities, otherwise plain theme tags count as full presence. Every
// intensity is capped at 1.
func entryThemes(signal model.EntrySignal, lookup *labels.Lookup) map[string]dayValue {
	themes := map[string]dayValue{}
	if len(signal.EvidenceUnits) > 0 {
		return evidenceThemes(signal.EvidenceUnits, lookup)
	}
	for _, item := range signal.ThemeIntensities {
		theme := lookup.Normalize(item.Theme)
		if theme == "" {
			continue
		}
		prev := themes[theme]
		themes[theme] = dayValue{
			intensity:  math.Min(1, prev.intensity+clamp01(item.Intensity)),
			confidence: ConfidenceIntensity,
		}
	}
	if len(themes) > 0 {
		return themes
	}
	for _, tag := range signal.Themes {
		theme := lookup.Normalize(tag)
		if theme == "" {
			continue
		}
		themes[theme] = dayValue{intensity: 1, confidence: ConfidenceTag}
	}
	return themes
}

func evidenceThemes(units []model.EvidenceUnit, lookup *labels.Lookup) map[string]dayValue {
	themes := map[string]dayValue{}
	for _, unit := range units {
		if !unit.Present() || !labels.ThemeBearing(unit.Label) {
			continue
		}
		theme := lookup.Theme(unit.Label)
		prev := themes[theme]
		themes[theme] = dayValue{
			intensity:  math.Max(prev.intensity, unit.SeverityWeight()),
			confidence: ConfidenceEvidence,
		}
	}
	return themes
}

// BuildThemeSeries computes the selected themes' dense series over dates.
// Signals outside dates are ignored. Returned rows carry no versioning and
// are ordered by range total, highest first.
func BuildThemeSeries(signals []model.EntrySignal, dates []string, lookup *labels.Lookup) []model.ThemeSeries {
	if len(dates) == 0 {
		return nil
	}
	inWindow := model.DateWindow{Start: dates[0], End: dates[len(dates)-1]}

	days := map[string]map[string]dayValue{}
	for _, signal := range signals {
		if signal.DateISO == "" || !inWindow.Contains(signal.DateISO) {
			continue
		}
		day := days[signal.DateISO]
		if day == nil {
			day = map[string]dayValue{}
			days[signal.DateISO] = day
		}
		for theme, v := range entryThemes(signal, lookup) {
			prev := day[theme]
			day[theme] = dayValue{
				intensity:  math.Max(prev.intensity, v.intensity),
				confidence: math.Max(prev.confidence, v.confidence),
			}
		}
	}

	totals := map[string]float64{}
	dayCounts := map[string]int{}
	for _, day := range days {
		for theme, v := range day {
			totals[theme] += v.intensity
			if v.intensity > 0 {
				dayCounts[theme]++
			}
		}
	}

	selected := SelectThemes(totals, dayCounts)
	rows := make([]model.ThemeSeries, 0, len(selected))
	for _, theme := range selected {
		points := make([]model.SeriesPoint, len(dates))
		for i, date := range dates {
			v := days[date][theme]
			point := model.SeriesPoint{DateISO: date, Intensity: round4(v.intensity), Confidence: ConfidenceNoData}
			if v.intensity > 0 {
				point.Confidence = v.confidence
			}
			points[i] = point
		}
		rows = append(rows, model.ThemeSeries{Theme: theme, Points: points})
	}
	return rows
}

// SelectThemes keeps the top themes by total plus every theme seen on enough
// distinct days. When nothing qualifies the single highest theme is kept.
func SelectThemes(totals map[string]float64, dayCounts map[string]int) []string {
	ranked := rankByTotal(totals)
	keep := map[string]bool{}
	for i, theme := range ranked {
		if i < maxSeriesThemes {
			keep[theme] = true
		}
		if dayCounts[theme] >= minRecurringDays {
			keep[theme] = true
		}
	}
	if len(keep) == 0 && len(ranked) > 0 {
		keep[ranked[0]] = true
	}
	selected := make([]string, 0, len(keep))
	for _, theme := range ranked {
		if keep[theme] {
			selected = append(selected, theme)
		}
	}
	return selected
}

func rankByTotal(totals map[string]float64) []string {
	ranked := make([]string, 0, len(totals))
	for theme := range totals {
		ranked = append(ranked, theme)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if totals[ranked[i]] != totals[ranked[j]] {
			return totals[ranked[i]] > totals[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(1, v)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
