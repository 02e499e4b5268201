// Package labels maps evidence labels and free-text theme tags onto the
// patient-facing theme names shared by every recompute.
package labels

import (
	"strings"
	"unicode"
)

// Version identifies the default lookup table. Bump it whenever a mapping changes.
const Version = "labels_v1"

// Evidence label prefixes.
const (
	PrefixSymptom = "SYMPTOM_"
	PrefixImpact  = "IMPACT_"
	PrefixContext = "CONTEXT_"
)

// Safety-sensitive labels that are never mined for patterns.
const (
	LabelRisk   = "SYMPTOM_RISK"
	LabelTrauma = "SYMPTOM_TRAUMA"
)

var defaultThemes = map[string]string{
	"SYMPTOM_MOOD":      "Low mood",
	"SYMPTOM_ANHEDONIA": "Loss of interest",
	"SYMPTOM_COGNITIVE": "Foggy thinking or self-critical thoughts",
	"SYMPTOM_SOMATIC":   "Low energy or appetite changes",
	"SYMPTOM_SLEEP":     "Sleep changes",
	"SYMPTOM_ANXIETY":   "Anxiety or worry",
	"SYMPTOM_MANIA":     "Wired or unusually high energy",
	"SYMPTOM_PSYCHOSIS": "Unusual perceptions or beliefs",
	"SYMPTOM_TRAUMA":    "Trauma reminders or flashbacks",
	"IMPACT_WORK":       "Work/School impact",
	"IMPACT_SOCIAL":     "Relationship strain or isolation",
	"IMPACT_SELF_CARE":  "Self-care struggles",
	"CONTEXT_STRESSOR":  "Life stressors",
	"CONTEXT_MEDICAL":   "Physical health changes",
	"CONTEXT_SUBSTANCE": "Alcohol/substance/medication changes",
}

// Lookup is an immutable, versioned label → theme table.
type Lookup struct {
	version string
	themes  map[string]string
	byName  map[string]string
}

// New builds a Lookup from a label → theme table.
func New(version string, table map[string]string) *Lookup {
	l := &Lookup{
		version: version,
		themes:  make(map[string]string, len(table)),
		byName:  make(map[string]string, len(table)),
	}
	for label, theme := range table {
		l.themes[strings.ToUpper(label)] = theme
		l.byName[strings.ToLower(theme)] = theme
	}
	return l
}

// Default returns the built-in table.
func Default() *Lookup {
	return New(Version, defaultThemes)
}

// Version returns the table version.
func (l *Lookup) Version() string { return l.version }

// Theme maps an evidence label to its theme. Unmapped labels fall back to the
// de-prefixed label with underscores replaced by spaces, lower-cased.
func (l *Lookup) Theme(label string) string {
	key := strings.ToUpper(strings.TrimSpace(label))
	if theme, ok := l.themes[key]; ok {
		return theme
	}
	for _, prefix := range []string{PrefixSymptom, PrefixImpact, PrefixContext} {
		if strings.HasPrefix(key, prefix) {
			key = strings.TrimPrefix(key, prefix)
			break
		}
	}
	return strings.ToLower(strings.ReplaceAll(key, "_", " "))
}

// Normalize maps a free-text theme tag onto a theme key. Tags that spell an
// evidence label or a known theme resolve to that theme; anything else is
// trimmed and lower-cased. Empty tags return "".
func (l *Lookup) Normalize(tag string) string {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return ""
	}
	if theme, ok := l.themes[strings.ToUpper(trimmed)]; ok {
		return theme
	}
	lower := strings.ToLower(trimmed)
	if theme, ok := l.byName[lower]; ok {
		return theme
	}
	return lower
}

// ThemeBearing reports whether a label contributes to theme series.
func ThemeBearing(label string) bool {
	return strings.HasPrefix(label, PrefixSymptom) || strings.HasPrefix(label, PrefixImpact)
}

// Mineable reports whether a label may take part in lagged sequence mining.
func Mineable(label string) bool {
	if label == LabelRisk || label == LabelTrauma {
		return false
	}
	return strings.HasPrefix(label, PrefixSymptom) ||
		strings.HasPrefix(label, PrefixContext) ||
		strings.HasPrefix(label, PrefixImpact)
}

// Title upper-cases the first letter of every word.
func Title(s string) string {
	runes := []rune(s)
	start := true
	for i, r := range runes {
		if start && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
		}
		start = !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}
	return string(runes)
}
