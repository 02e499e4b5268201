package model

import (
	"sort"
	"time"
)

// DerivedKind names one of the four derived cache families.
type DerivedKind string

const (
	KindThemeSeries DerivedKind = "theme_series"
	KindConnections DerivedKind = "connections"
	KindCycles      DerivedKind = "cycles"
	KindSnapshot    DerivedKind = "snapshot"
)

// DerivedKinds lists the kinds in recompute dependency order.
var DerivedKinds = []DerivedKind{KindThemeSeries, KindConnections, KindCycles, KindSnapshot}

// Versioning is carried by every derived doc.
type Versioning struct {
	ComputedAt      *time.Time `json:"computedAt"      gorm:"column:computed_at"               bson:"computed_at,omitempty"`
	PipelineVersion string     `json:"pipelineVersion" gorm:"column:pipeline_version;not null" bson:"pipeline_version"`
	SourceVersion   string     `json:"sourceVersion"   gorm:"column:source_version;not null"   bson:"source_version"`
	Stale           bool       `json:"stale"           gorm:"column:stale;not null;index"      bson:"stale"`
}

// Fresh reports whether the doc was computed and has not been invalidated since.
func (v Versioning) Fresh() bool {
	return !v.Stale && v.ComputedAt != nil
}

// DerivedScope is the staleness ledger row for one (user, rangeKey, kind).
// Revision increases on every invalidation and guards recompute writes.
type DerivedScope struct {
	ID       string      `json:"id"       gorm:"primaryKey"                                                     bson:"_id"`
	UserID   string      `json:"userId"   gorm:"not null;uniqueIndex:idx_derived_scopes_scope,priority:1"       bson:"user_id"`
	RangeKey RangeKey    `json:"rangeKey" gorm:"not null;uniqueIndex:idx_derived_scopes_scope,priority:2"       bson:"range_key"`
	Kind     DerivedKind `json:"kind"     gorm:"not null;uniqueIndex:idx_derived_scopes_scope,priority:3;index" bson:"kind"`
	Revision int64       `json:"revision" gorm:"not null;default:0"                                             bson:"revision"`

	Versioning `gorm:"embedded" bson:",inline"`
}

func (DerivedScope) TableName() string { return "derived_scopes" }

// ScopeKey identifies a (user, rangeKey) recompute scope.
type ScopeKey struct {
	UserID   string   `json:"userId"`
	RangeKey RangeKey `json:"rangeKey"`
}

func (k ScopeKey) String() string { return k.UserID + ":" + string(k.RangeKey) }

// SeriesPoint is one day of a theme series.
type SeriesPoint struct {
	DateISO    string  `json:"dateISO"    bson:"date_iso"`
	Intensity  float64 `json:"intensity"  bson:"intensity"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

// ThemeSeries holds the dense daily intensity series of one theme in a range.
type ThemeSeries struct {
	ID       string        `json:"id"       gorm:"primaryKey"                                             bson:"_id"`
	UserID   string        `json:"userId"   gorm:"not null;uniqueIndex:idx_theme_series_scope,priority:1" bson:"user_id"`
	RangeKey RangeKey      `json:"rangeKey" gorm:"not null;uniqueIndex:idx_theme_series_scope,priority:2" bson:"range_key"`
	Theme    string        `json:"theme"    gorm:"not null;uniqueIndex:idx_theme_series_scope,priority:3" bson:"theme"`
	Points   []SeriesPoint `json:"points"   gorm:"type:jsonb;serializer:json"                             bson:"points"`

	Versioning `gorm:"embedded" bson:",inline"`
}

func (ThemeSeries) TableName() string { return "theme_series" }

// Total returns the sum of the series intensities.
func (s ThemeSeries) Total() float64 {
	var total float64
	for _, p := range s.Points {
		total += p.Intensity
	}
	return total
}

// Intensities returns the series intensities in date order.
func (s ThemeSeries) Intensities() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Intensity
	}
	return values
}

// GraphNode is a theme in the connections graph.
type GraphNode struct {
	ID    string `json:"id"    bson:"id"`
	Label string `json:"label" bson:"label"`
}

// GraphEdge is an undirected co-occurrence between two nodes.
type GraphEdge struct {
	ID               string   `json:"id"               bson:"id"`
	From             string   `json:"from"             bson:"from"`
	To               string   `json:"to"               bson:"to"`
	Weight           int      `json:"weight"           bson:"weight"`
	EvidenceEntryIDs []string `json:"evidenceEntryIds" bson:"evidence_entry_ids"`
}

// ConnectionsGraph is the co-occurrence graph of a range.
type ConnectionsGraph struct {
	ID       string      `json:"id"       gorm:"primaryKey"                                                   bson:"_id"`
	UserID   string      `json:"userId"   gorm:"not null;uniqueIndex:idx_connections_graphs_scope,priority:1" bson:"user_id"`
	RangeKey RangeKey    `json:"rangeKey" gorm:"not null;uniqueIndex:idx_connections_graphs_scope,priority:2" bson:"range_key"`
	Nodes    []GraphNode `json:"nodes"    gorm:"type:jsonb;serializer:json"                                   bson:"nodes"`
	Edges    []GraphEdge `json:"edges"    gorm:"type:jsonb;serializer:json"                                   bson:"edges"`

	Versioning `gorm:"embedded" bson:",inline"`
}

func (ConnectionsGraph) TableName() string { return "connections_graphs" }

// Cycle is a directed lagged association between two evidence labels.
// A row with nil SourceNode and TargetNode marks a computed scope with no edges.
type Cycle struct {
	ID               string   `json:"id"               gorm:"primaryKey"                      bson:"_id"`
	UserID           string   `json:"userId"           gorm:"not null;index:idx_cycles_scope" bson:"user_id"`
	RangeKey         RangeKey `json:"rangeKey"         gorm:"not null;index:idx_cycles_scope" bson:"range_key"`
	SourceNode       *string  `json:"sourceNode"       gorm:"column:source_node"              bson:"source_node"`
	TargetNode       *string  `json:"targetNode"       gorm:"column:target_node"              bson:"target_node"`
	Frequency        int      `json:"frequency"        gorm:"not null"                        bson:"frequency"`
	Confidence       float64  `json:"confidence"       gorm:"not null"                        bson:"confidence"`
	LagDaysMin       int      `json:"lagDaysMin"       gorm:"not null"                        bson:"lag_days_min"`
	AvgLag           float64  `json:"avgLag"           gorm:"not null"                        bson:"avg_lag"`
	EvidenceEntryIDs []string `json:"evidenceEntryIds" gorm:"type:jsonb;serializer:json"      bson:"evidence_entry_ids"`

	Versioning `gorm:"embedded" bson:",inline"`
}

func (Cycle) TableName() string { return "cycles" }

// Sentinel reports whether c is the "computed, no edges found" marker.
func (c Cycle) Sentinel() bool {
	return c.SourceNode == nil && c.TargetNode == nil
}

// SortCycles orders cycle rows by frequency, then source and target label.
// Sentinel rows sort last.
func SortCycles(rows []Cycle) {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Sentinel() != rows[j].Sentinel() {
			return !rows[i].Sentinel()
		}
		if rows[i].Frequency != rows[j].Frequency {
			return rows[i].Frequency > rows[j].Frequency
		}
		if a, b := deref(rows[i].SourceNode), deref(rows[j].SourceNode); a != b {
			return a < b
		}
		return deref(rows[i].TargetNode) < deref(rows[j].TargetNode)
	})
}

// Narrative is the structured story produced for a week or merged across weeks.
type Narrative struct {
	TimeRangeLabel       string   `json:"timeRangeLabel,omitempty" bson:"time_range_label,omitempty" jsonschema:"description=Patient-facing label of the covered time range"`
	ConfidenceNote       string   `json:"confidenceNote,omitempty" bson:"confidence_note,omitempty"  jsonschema:"description=One sentence on how much evidence supports this summary"`
	RecurringExperiences []string `json:"recurringExperiences"     bson:"recurring_experiences"      jsonschema:"description=Experiences that recur across the period"`
	OverTimeSummary      string   `json:"overTimeSummary"          bson:"over_time_summary"          jsonschema:"description=Short paragraph describing change over time"`
	ImpactAreas          []string `json:"impactAreas"              bson:"impact_areas"               jsonschema:"description=Life areas affected"`
	RelatedInfluences    []string `json:"relatedInfluences"        bson:"related_influences"         jsonschema:"description=Contextual influences that show up alongside"`
	UnclearAreas         []string `json:"unclearAreas"             bson:"unclear_areas"              jsonschema:"description=Areas where the evidence is thin or mixed"`
	QuestionsToExplore   []string `json:"questionsToExplore"       bson:"questions_to_explore"       jsonschema:"description=Gentle questions for reflection"`
}

// Empty reports whether n carries no content at all.
func (n *Narrative) Empty() bool {
	if n == nil {
		return true
	}
	return n.OverTimeSummary == "" && len(n.RecurringExperiences) == 0 && len(n.ImpactAreas) == 0 &&
		len(n.RelatedInfluences) == 0 && len(n.UnclearAreas) == 0 && len(n.QuestionsToExplore) == 0
}

// WeeklyNarrative is the narrative chunk of one ISO week (Monday start).
type WeeklyNarrative struct {
	ID           string    `json:"id"           gorm:"primaryKey"                                                                            bson:"_id"`
	UserID       string    `json:"userId"       gorm:"not null;uniqueIndex:idx_weekly_narratives_user_week,priority:1"                       bson:"user_id"`
	WeekStartISO string    `json:"weekStartISO" gorm:"column:week_start_iso;not null;uniqueIndex:idx_weekly_narratives_user_week,priority:2" bson:"week_start_iso"`
	Narrative    Narrative `json:"narrative"    gorm:"type:jsonb;serializer:json"                                                            bson:"narrative"`
	UpdatedAt    time.Time `json:"updatedAt"    gorm:"not null"                                                                              bson:"updated_at"`
}

func (WeeklyNarrative) TableName() string { return "weekly_narratives" }

// Pattern is a top theme shown on the snapshot.
type Pattern struct {
	ID          string `json:"id"          bson:"id"`
	Title       string `json:"title"       bson:"title"`
	Description string `json:"description" bson:"description"`
	Trend       string `json:"trend"       bson:"trend"`
	Confidence  string `json:"confidence"  bson:"confidence"`
	Sparkline   []int  `json:"sparkline"   bson:"sparkline"`
}

// TimeRangeSummary describes data sufficiency for the snapshot window.
type TimeRangeSummary struct {
	WeekOverWeekDelta string   `json:"weekOverWeekDelta" bson:"week_over_week_delta"`
	MissingSignals    []string `json:"missingSignals"    bson:"missing_signals"`
}

// RangeCoverage records whether the requested range was served from a wider window.
type RangeCoverage struct {
	RequestedRangeKey RangeKey `json:"requestedRangeKey" bson:"requested_range_key"`
	EffectiveRangeKey RangeKey `json:"effectiveRangeKey" bson:"effective_range_key"`
	Reason            string   `json:"reason,omitempty"  bson:"reason,omitempty"`
	HistoryDays       int      `json:"historyDays"       bson:"history_days"`
}

// CoverageInsufficientHistory is the reason recorded when a range is widened to all_time.
const CoverageInsufficientHistory = "insufficient_history"

// Snapshot is the heuristic summary plus the merged narrative of a range.
type Snapshot struct {
	RangeKey         RangeKey         `json:"rangeKey"         bson:"range_key"`
	EntryCount       int              `json:"entryCount"       bson:"entry_count"`
	SnapshotOverview string           `json:"snapshotOverview" bson:"snapshot_overview"`
	Patterns         []Pattern        `json:"patterns"         bson:"patterns"`
	ImpactAreas      []string         `json:"impactAreas"      bson:"impact_areas"`
	Influences       []string         `json:"influences"       bson:"influences"`
	OpenQuestions    []string         `json:"openQuestions"    bson:"open_questions"`
	TimeRangeSummary TimeRangeSummary `json:"timeRangeSummary" bson:"time_range_summary"`
	WhatHelped       []string         `json:"whatHelped"       bson:"what_helped"`
	Prompts          []string         `json:"prompts"          bson:"prompts"`
	Narrative        *Narrative       `json:"narrative"        bson:"narrative,omitempty"`
	RangeCoverage    RangeCoverage    `json:"rangeCoverage"    bson:"range_coverage"`
}

// SnapshotSummary is the cached snapshot of a range.
type SnapshotSummary struct {
	ID       string   `json:"id"       gorm:"primaryKey"                                                   bson:"_id"`
	UserID   string   `json:"userId"   gorm:"not null;uniqueIndex:idx_snapshot_summaries_scope,priority:1" bson:"user_id"`
	RangeKey RangeKey `json:"rangeKey" gorm:"not null;uniqueIndex:idx_snapshot_summaries_scope,priority:2" bson:"range_key"`
	Snapshot Snapshot `json:"snapshot" gorm:"type:jsonb;serializer:json"                                   bson:"snapshot"`

	Versioning `gorm:"embedded" bson:",inline"`
}

func (SnapshotSummary) TableName() string { return "snapshot_summaries" }
