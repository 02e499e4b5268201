// Package gormstore implements the DerivedStore on GORM. It registers the
// "postgres" and "sqlite" datastores.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// Store implements DerivedStore using GORM.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

var entrySignalUpdateColumns = []string{
	"date_iso", "summary", "themes", "theme_intensities", "evidence_units", "life_areas", "influences",
	"time_mentions", "evidence_by_section", "pipeline_version", "source_version", "source_updated_at", "updated_at",
}

func (s *Store) UpsertEntrySignal(ctx context.Context, signal *model.EntrySignal) error {
	if signal.UserID == "" || signal.EntryID == "" {
		return &registrystore.ValidationError{Field: "entryId", Message: "userId and entryId are required"}
	}
	now := time.Now().UTC()
	signal.ID = model.EntrySignalID(signal.UserID, signal.EntryID)
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = now
	}
	signal.UpdatedAt = now
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "entry_id"}},
		DoUpdates: clause.AssignmentColumns(entrySignalUpdateColumns),
	}).Create(signal).Error
	if err != nil {
		return fmt.Errorf("failed to upsert entry signal: %w", err)
	}
	return nil
}

func (s *Store) GetEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error) {
	var existing model.EntrySignal
	err := s.db.WithContext(ctx).Where("user_id = ? AND entry_id = ?", userID, entryID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "entry signal", ID: entryID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry signal: %w", err)
	}
	return &existing, nil
}

func (s *Store) DeleteEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error) {
	existing, err := s.GetEntrySignal(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&model.EntrySignal{}, "id = ?", existing.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to delete entry signal: %w", err)
	}
	return existing, nil
}

func windowQuery(q *gorm.DB, userID string, window model.DateWindow) *gorm.DB {
	q = q.Where("user_id = ?", userID)
	if window.Start != "" {
		q = q.Where("date_iso >= ?", window.Start)
	}
	if window.End != "" {
		q = q.Where("date_iso <= ?", window.End)
	}
	return q
}

func (s *Store) ListEntrySignals(ctx context.Context, userID string, window model.DateWindow) ([]model.EntrySignal, error) {
	var signals []model.EntrySignal
	err := windowQuery(s.db.WithContext(ctx), userID, window).
		Order("date_iso ASC, entry_id ASC").
		Find(&signals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list entry signals: %w", err)
	}
	return signals, nil
}

func (s *Store) EarliestSignalDate(ctx context.Context, userID string) (string, error) {
	var signal model.EntrySignal
	result := s.db.WithContext(ctx).Select("date_iso").
		Where("user_id = ?", userID).
		Order("date_iso ASC").
		Limit(1).
		Find(&signal)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", nil
	}
	return signal.DateISO, nil
}

func (s *Store) LatestSourceUpdate(ctx context.Context, userID string, window model.DateWindow) (*time.Time, error) {
	var signal model.EntrySignal
	result := windowQuery(s.db.WithContext(ctx).Select("source_updated_at"), userID, window).
		Order("source_updated_at DESC").
		Limit(1).
		Find(&signal)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	ts := signal.SourceUpdatedAt.UTC()
	return &ts, nil
}

func (s *Store) UpsertWeeklyNarrative(ctx context.Context, weekly *model.WeeklyNarrative) error {
	weekly.ID = model.WeeklyNarrativeID(weekly.UserID, weekly.WeekStartISO)
	weekly.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "week_start_iso"}},
		DoUpdates: clause.AssignmentColumns([]string{"narrative", "updated_at"}),
	}).Create(weekly).Error
	if err != nil {
		return fmt.Errorf("failed to upsert weekly narrative: %w", err)
	}
	return nil
}

func (s *Store) ListWeeklyNarratives(ctx context.Context, userID string) ([]model.WeeklyNarrative, error) {
	var weekly []model.WeeklyNarrative
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("week_start_iso ASC").Find(&weekly).Error; err != nil {
		return nil, fmt.Errorf("failed to list weekly narratives: %w", err)
	}
	return weekly, nil
}

func (s *Store) ListThemeSeries(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.ThemeSeries, error) {
	var rows []model.ThemeSeries
	if err := s.db.WithContext(ctx).Where("user_id = ? AND range_key = ?", userID, rangeKey).Order("theme ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list theme series: %w", err)
	}
	return rows, nil
}

func (s *Store) GetConnectionsGraph(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.ConnectionsGraph, error) {
	var graph model.ConnectionsGraph
	result := s.db.WithContext(ctx).Where("user_id = ? AND range_key = ?", userID, rangeKey).Limit(1).Find(&graph)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get connections graph: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &graph, nil
}

func (s *Store) ListCycles(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.Cycle, error) {
	var rows []model.Cycle
	if err := s.db.WithContext(ctx).Where("user_id = ? AND range_key = ?", userID, rangeKey).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	model.SortCycles(rows)
	return rows, nil
}

func (s *Store) GetSnapshot(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.SnapshotSummary, error) {
	var summary model.SnapshotSummary
	result := s.db.WithContext(ctx).Where("user_id = ? AND range_key = ?", userID, rangeKey).Limit(1).Find(&summary)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &summary, nil
}

var _ registrystore.DerivedStore = (*Store)(nil)
