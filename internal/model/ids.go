package model

import (
	"strings"

	"github.com/google/uuid"
)

var docNamespace = uuid.MustParse("6f1f0c1e-54a4-4cc4-9d6c-2b3f4f0d9a51")

// DocID derives a stable id from a natural key so that concurrent upserts of
// the same tuple collide on the primary key instead of duplicating rows.
func DocID(parts ...string) string {
	return uuid.NewSHA1(docNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

func EntrySignalID(userID, entryID string) string {
	return DocID("entry_signal", userID, entryID)
}

func ScopeID(userID string, rangeKey RangeKey, kind DerivedKind) string {
	return DocID("scope", userID, string(rangeKey), string(kind))
}

func ThemeSeriesID(userID string, rangeKey RangeKey, theme string) string {
	return DocID(string(KindThemeSeries), userID, string(rangeKey), theme)
}

func ConnectionsGraphID(userID string, rangeKey RangeKey) string {
	return DocID(string(KindConnections), userID, string(rangeKey))
}

// CycleID returns the id of a cycle row; empty source and target name the sentinel.
func CycleID(userID string, rangeKey RangeKey, source, target string) string {
	return DocID(string(KindCycles), userID, string(rangeKey), source, target)
}

func SnapshotID(userID string, rangeKey RangeKey) string {
	return DocID(string(KindSnapshot), userID, string(rangeKey))
}

func WeeklyNarrativeID(userID, weekStartISO string) string {
	return DocID("weekly_narrative", userID, weekStartISO)
}
