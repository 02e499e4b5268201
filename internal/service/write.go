package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
)

// OnEntryChanged projects an entry onto its EntrySignal, upserts it, and
// marks stale every range the entry's old or new date falls in.
func (s *Service) OnEntryChanged(ctx context.Context, userID, entryID string, fields model.EntryFields, sourceUpdatedAt time.Time) (*model.EntrySignal, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(entryID) == "" {
		return nil, &registrystore.ValidationError{Field: "entryId", Message: "userId and entryId are required"}
	}
	if _, err := model.ParseDateISO(fields.DateISO); err != nil {
		return nil, &registrystore.ValidationError{Field: "dateISO", Message: fmt.Sprintf("invalid date %q", fields.DateISO)}
	}
	if sourceUpdatedAt.IsZero() {
		sourceUpdatedAt = s.now()
	}

	var previousDate string
	previous, err := s.store.GetEntrySignal(ctx, userID, entryID)
	var notFound *registrystore.NotFoundError
	switch {
	case err == nil:
		previousDate = previous.DateISO
	case !errors.As(err, &notFound):
		return nil, err
	}

	signal := projectSignal(userID, entryID, fields, sourceUpdatedAt)
	if err := s.store.UpsertEntrySignal(ctx, signal); err != nil {
		return nil, err
	}
	if err := s.MarkStale(ctx, userID, s.AffectedRanges(signal.DateISO, previousDate), signal.SourceVersion); err != nil {
		return nil, err
	}
	log.Debug("Entry signal updated", "user", userID, "entry", entryID, "date", signal.DateISO)
	return signal, nil
}

// OnEntryDeleted removes an entry's signal and marks its ranges stale.
func (s *Service) OnEntryDeleted(ctx context.Context, userID, entryID string) error {
	deleted, err := s.store.DeleteEntrySignal(ctx, userID, entryID)
	if err != nil {
		return err
	}
	if err := s.MarkStale(ctx, userID, s.AffectedRanges(deleted.DateISO), ""); err != nil {
		return err
	}
	log.Debug("Entry signal deleted", "user", userID, "entry", entryID)
	return nil
}

// PutWeeklyNarrative stores the narrative chunk of the ISO week starting on
// weekStartISO, which must be a Monday, and marks the week's ranges stale.
func (s *Service) PutWeeklyNarrative(ctx context.Context, userID, weekStartISO string, n model.Narrative) (*model.WeeklyNarrative, error) {
	monday, err := model.WeekStart(weekStartISO)
	if err != nil {
		return nil, &registrystore.ValidationError{Field: "weekStart", Message: fmt.Sprintf("invalid date %q", weekStartISO)}
	}
	if monday != weekStartISO {
		return nil, &registrystore.ValidationError{Field: "weekStart", Message: fmt.Sprintf("%s is not a Monday", weekStartISO)}
	}
	weekly := &model.WeeklyNarrative{UserID: userID, WeekStartISO: weekStartISO, Narrative: n}
	if err := s.store.UpsertWeeklyNarrative(ctx, weekly); err != nil {
		return nil, err
	}
	start, _ := model.ParseDateISO(weekStartISO)
	dates := make([]string, 7)
	for i := range dates {
		dates[i] = model.DateISO(start.AddDate(0, 0, i))
	}
	if err := s.MarkStale(ctx, userID, s.AffectedRanges(dates...), ""); err != nil {
		return nil, err
	}
	return weekly, nil
}

// RebuildUser invalidates and recomputes every scope of a user in worker
// order, returning the joined errors of any failed kind.
func (s *Service) RebuildUser(ctx context.Context, userID string) error {
	if err := s.MarkStale(ctx, userID, model.RangeKeys, ""); err != nil {
		return err
	}
	var errs []error
	for _, kind := range model.DerivedKinds {
		for _, rk := range model.RangeKeys {
			if err := s.Recompute(ctx, kind, userID, rk); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// projectSignal builds the stored signal from the entry fields, dropping
// blank tags and unlabeled units and clamping intensities to [0,1].
func projectSignal(userID, entryID string, f model.EntryFields, sourceUpdatedAt time.Time) *model.EntrySignal {
	intensities := make([]model.ThemeIntensity, 0, len(f.ThemeIntensities))
	for _, ti := range f.ThemeIntensities {
		theme := strings.TrimSpace(ti.Theme)
		if theme == "" {
			continue
		}
		v := ti.Intensity
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		intensities = append(intensities, model.ThemeIntensity{Theme: theme, Intensity: v})
	}
	units := make([]model.EvidenceUnit, 0, len(f.EvidenceUnits))
	for _, u := range f.EvidenceUnits {
		u.Label = strings.ToUpper(strings.TrimSpace(u.Label))
		if u.Label == "" {
			continue
		}
		units = append(units, u)
	}
	updated := sourceUpdatedAt.UTC()
	return &model.EntrySignal{
		UserID:            userID,
		EntryID:           entryID,
		DateISO:           f.DateISO,
		Summary:           strings.TrimSpace(f.Summary),
		Themes:            cleanStrings(f.Themes),
		ThemeIntensities:  intensities,
		EvidenceUnits:     units,
		LifeAreas:         cleanStrings(f.LifeAreas),
		Influences:        cleanStrings(f.Influences),
		TimeMentions:      cleanStrings(f.TimeMentions),
		EvidenceBySection: f.EvidenceBySection,
		PipelineVersion:   model.PipelineEntrySignals,
		SourceVersion:     formatVersion(updated),
		SourceUpdatedAt:   updated,
	}
}

func cleanStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
