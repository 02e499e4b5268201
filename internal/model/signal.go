package model

import (
	"strings"
	"time"
)

// Evidence polarity, severity and uncertainty values produced by the evidence extractor.
const (
	PolarityPresent = "PRESENT"
	PolarityAbsent  = "ABSENT"

	SeveritySevere   = "SEVERE"
	SeverityModerate = "MODERATE"
	SeverityMild     = "MILD"

	UncertaintyLow  = "LOW"
	UncertaintyHigh = "HIGH"
)

// EvidenceAttributes qualifies a labeled evidence span.
type EvidenceAttributes struct {
	Polarity    string `json:"polarity"              bson:"polarity"`
	Severity    string `json:"severity,omitempty"    bson:"severity,omitempty"`
	Temporality string `json:"temporality,omitempty" bson:"temporality,omitempty"`
	Frequency   string `json:"frequency,omitempty"   bson:"frequency,omitempty"`
	Attribution string `json:"attribution,omitempty" bson:"attribution,omitempty"`
	Uncertainty string `json:"uncertainty,omitempty" bson:"uncertainty,omitempty"`
}

// EvidenceUnit is one labeled span of an entry.
type EvidenceUnit struct {
	Span       string             `json:"span"       bson:"span"`
	Label      string             `json:"label"      bson:"label"`
	Attributes EvidenceAttributes `json:"attributes" bson:"attributes"`
}

// Present reports whether the unit asserts its label: PRESENT polarity and not
// flagged as highly uncertain. Everything else is filtered out, never an error.
func (u EvidenceUnit) Present() bool {
	if !strings.EqualFold(u.Attributes.Polarity, PolarityPresent) {
		return false
	}
	return !strings.EqualFold(u.Attributes.Uncertainty, UncertaintyHigh)
}

// SeverityWeight maps the unit severity to an intensity in [0,1].
func (u EvidenceUnit) SeverityWeight() float64 {
	switch strings.ToUpper(u.Attributes.Severity) {
	case SeveritySevere:
		return 1.0
	case SeverityModerate:
		return 0.7
	default:
		return 0.4
	}
}

// ThemeIntensity is a free-text theme tag with an intensity in [0,1].
type ThemeIntensity struct {
	Theme     string  `json:"theme"     bson:"theme"`
	Intensity float64 `json:"intensity" bson:"intensity"`
}

// EvidenceBySection groups patient-facing phrases extracted for an entry.
type EvidenceBySection struct {
	RecurringExperiences []string `json:"recurringExperiences,omitempty" bson:"recurring_experiences,omitempty"`
	ImpactAreas          []string `json:"impactAreas,omitempty"          bson:"impact_areas,omitempty"`
	RelatedInfluences    []string `json:"relatedInfluences,omitempty"    bson:"related_influences,omitempty"`
	UnclearAreas         []string `json:"unclearAreas,omitempty"         bson:"unclear_areas,omitempty"`
	QuestionsToExplore   []string `json:"questionsToExplore,omitempty"   bson:"questions_to_explore,omitempty"`
}

// EntrySignal is the distilled per-entry view every recompute reads.
type EntrySignal struct {
	ID                string            `json:"id"                gorm:"primaryKey"                                                   bson:"_id"`
	UserID            string            `json:"userId"            gorm:"not null;uniqueIndex:idx_entry_signals_user_entry,priority:1" bson:"user_id"`
	EntryID           string            `json:"entryId"           gorm:"not null;uniqueIndex:idx_entry_signals_user_entry,priority:2" bson:"entry_id"`
	DateISO           string            `json:"dateISO"           gorm:"column:date_iso;not null;index"                               bson:"date_iso"`
	Summary           string            `json:"summary,omitempty" gorm:"not null;default:''"                                          bson:"summary"`
	Themes            []string          `json:"themes"            gorm:"type:jsonb;serializer:json"                                   bson:"themes"`
	ThemeIntensities  []ThemeIntensity  `json:"themeIntensities"  gorm:"type:jsonb;serializer:json"                                   bson:"theme_intensities"`
	EvidenceUnits     []EvidenceUnit    `json:"evidenceUnits"     gorm:"type:jsonb;serializer:json"                                   bson:"evidence_units"`
	LifeAreas         []string          `json:"lifeAreas"         gorm:"type:jsonb;serializer:json"                                   bson:"life_areas"`
	Influences        []string          `json:"influences"        gorm:"type:jsonb;serializer:json"                                   bson:"influences"`
	TimeMentions      []string          `json:"timeMentions"      gorm:"type:jsonb;serializer:json"                                   bson:"time_mentions"`
	EvidenceBySection EvidenceBySection `json:"evidenceBySection" gorm:"type:jsonb;serializer:json"                                   bson:"evidence_by_section"`
	PipelineVersion   string            `json:"pipelineVersion"   gorm:"not null"                                                     bson:"pipeline_version"`
	SourceVersion     string            `json:"sourceVersion"     gorm:"not null"                                                     bson:"source_version"`
	SourceUpdatedAt   time.Time         `json:"sourceUpdatedAt"   gorm:"not null;index"                                               bson:"source_updated_at"`
	CreatedAt         time.Time         `json:"createdAt"         gorm:"not null"                                                     bson:"created_at"`
	UpdatedAt         time.Time         `json:"updatedAt"         gorm:"not null"                                                     bson:"updated_at"`
}

func (EntrySignal) TableName() string { return "entry_signals" }

// EntryFields is the entry projection supplied by the write trigger.
type EntryFields struct {
	DateISO           string            `json:"dateISO"`
	Summary           string            `json:"summary,omitempty"`
	Themes            []string          `json:"themes,omitempty"`
	ThemeIntensities  []ThemeIntensity  `json:"themeIntensities,omitempty"`
	EvidenceUnits     []EvidenceUnit    `json:"evidenceUnits,omitempty"`
	LifeAreas         []string          `json:"lifeAreas,omitempty"`
	Influences        []string          `json:"influences,omitempty"`
	TimeMentions      []string          `json:"timeMentions,omitempty"`
	EvidenceBySection EvidenceBySection `json:"evidenceBySection"`
}
