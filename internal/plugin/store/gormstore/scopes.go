package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var versioningColumns = []string{"computed_at", "pipeline_version", "source_version", "stale"}

func staleAssignments(sourceVersion string) map[string]interface{} {
	return map[string]interface{}{"stale": true, "source_version": sourceVersion}
}

func (s *Store) MarkStale(ctx context.Context, userID string, rangeKeys []model.RangeKey, sourceVersion string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rk := range rangeKeys {
			for _, kind := range model.DerivedKinds {
				scope := model.DerivedScope{
					ID:       model.ScopeID(userID, rk, kind),
					UserID:   userID,
					RangeKey: rk,
					Kind:     kind,
					Revision: 1,
					Versioning: model.Versioning{
						PipelineVersion: model.PipelineVersion(kind),
						SourceVersion:   sourceVersion,
						Stale:           true,
					},
				}
				err := tx.Clauses(clause.OnConflict{
					Columns: []clause.Column{{Name: "user_id"}, {Name: "range_key"}, {Name: "kind"}},
					DoUpdates: clause.Assignments(map[string]interface{}{
						"revision":       gorm.Expr("derived_scopes.revision + 1"),
						"stale":          true,
						"source_version": sourceVersion,
					}),
				}).Create(&scope).Error
				if err != nil {
					return fmt.Errorf("failed to mark %s scope stale: %w", kind, err)
				}
			}

			if err := tx.Model(&model.ThemeSeries{}).
				Where("user_id = ? AND range_key = ?", userID, rk).
				Updates(staleAssignments(sourceVersion)).Error; err != nil {
				return fmt.Errorf("failed to mark theme series stale: %w", err)
			}

			graph := model.ConnectionsGraph{
				ID:         model.ConnectionsGraphID(userID, rk),
				UserID:     userID,
				RangeKey:   rk,
				Nodes:      []model.GraphNode{},
				Edges:      []model.GraphEdge{},
				Versioning: placeholderVersioning(model.KindConnections, sourceVersion),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "range_key"}},
				DoUpdates: clause.Assignments(staleAssignments(sourceVersion)),
			}).Create(&graph).Error; err != nil {
				return fmt.Errorf("failed to mark connections graph stale: %w", err)
			}

			summary := model.SnapshotSummary{
				ID:         model.SnapshotID(userID, rk),
				UserID:     userID,
				RangeKey:   rk,
				Snapshot:   model.Snapshot{RangeKey: rk},
				Versioning: placeholderVersioning(model.KindSnapshot, sourceVersion),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "range_key"}},
				DoUpdates: clause.Assignments(staleAssignments(sourceVersion)),
			}).Create(&summary).Error; err != nil {
				return fmt.Errorf("failed to mark snapshot stale: %w", err)
			}

			result := tx.Model(&model.Cycle{}).
				Where("user_id = ? AND range_key = ?", userID, rk).
				Updates(staleAssignments(sourceVersion))
			if result.Error != nil {
				return fmt.Errorf("failed to mark cycles stale: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				sentinel := sentinelCycle(userID, rk, placeholderVersioning(model.KindCycles, sourceVersion))
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sentinel).Error; err != nil {
					return fmt.Errorf("failed to create stale cycles placeholder: %w", err)
				}
			}
		}
		return nil
	})
}

func placeholderVersioning(kind model.DerivedKind, sourceVersion string) model.Versioning {
	return model.Versioning{
		PipelineVersion: model.PipelineVersion(kind),
		SourceVersion:   sourceVersion,
		Stale:           true,
	}
}

func sentinelCycle(userID string, rangeKey model.RangeKey, v model.Versioning) model.Cycle {
	return model.Cycle{
		ID:               model.CycleID(userID, rangeKey, "", ""),
		UserID:           userID,
		RangeKey:         rangeKey,
		EvidenceEntryIDs: []string{},
		Versioning:       v,
	}
}

func (s *Store) GetScope(ctx context.Context, userID string, rangeKey model.RangeKey, kind model.DerivedKind) (*model.DerivedScope, error) {
	var scope model.DerivedScope
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND range_key = ? AND kind = ?", userID, rangeKey, kind).
		First(&scope).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	return &scope, nil
}

func (s *Store) ListStaleScopes(ctx context.Context, kind model.DerivedKind, limit int) ([]model.ScopeKey, error) {
	var keys []model.ScopeKey
	q := s.db.WithContext(ctx).Model(&model.DerivedScope{}).
		Distinct("user_id", "range_key").
		Where("kind = ? AND stale = ?", kind, true).
		Order("user_id ASC, range_key ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale scopes: %w", err)
	}
	return keys, nil
}

// commit clears the scope's stale flag when its revision still matches and
// runs write in the same transaction.
func (s *Store) commit(ctx context.Context, w registrystore.ScopeWrite, write func(tx *gorm.DB, v model.Versioning) error) error {
	v := w.Versioning()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.DerivedScope{}).
			Where("user_id = ? AND range_key = ? AND kind = ? AND revision = ?", w.UserID, w.RangeKey, w.Kind, w.Revision).
			Updates(map[string]interface{}{
				"stale":            false,
				"computed_at":      v.ComputedAt,
				"pipeline_version": v.PipelineVersion,
				"source_version":   v.SourceVersion,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to commit %s scope: %w", w.Kind, result.Error)
		}
		if result.RowsAffected == 0 {
			if w.Revision != 0 {
				return registrystore.SupersededError(w)
			}
			scope := model.DerivedScope{
				ID:         model.ScopeID(w.UserID, w.RangeKey, w.Kind),
				UserID:     w.UserID,
				RangeKey:   w.RangeKey,
				Kind:       w.Kind,
				Versioning: v,
			}
			created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&scope)
			if created.Error != nil {
				return fmt.Errorf("failed to create %s scope: %w", w.Kind, created.Error)
			}
			if created.RowsAffected == 0 {
				return registrystore.SupersededError(w)
			}
		}
		return write(tx, v)
	})
}

func (s *Store) SaveThemeSeries(ctx context.Context, w registrystore.ScopeWrite, rows []model.ThemeSeries) error {
	return s.commit(ctx, w, func(tx *gorm.DB, v model.Versioning) error {
		themes := make([]string, len(rows))
		for i := range rows {
			rows[i].ID = model.ThemeSeriesID(w.UserID, w.RangeKey, rows[i].Theme)
			rows[i].UserID = w.UserID
			rows[i].RangeKey = w.RangeKey
			rows[i].Versioning = v
			themes[i] = rows[i].Theme
		}
		del := tx.Where("user_id = ? AND range_key = ?", w.UserID, w.RangeKey)
		if len(themes) > 0 {
			del = del.Where("theme NOT IN ?", themes)
		}
		if err := del.Delete(&model.ThemeSeries{}).Error; err != nil {
			return fmt.Errorf("failed to delete deselected theme series: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "range_key"}, {Name: "theme"}},
			DoUpdates: clause.AssignmentColumns(append([]string{"points"}, versioningColumns...)),
		}).CreateInBatches(rows, 100).Error
	})
}

func (s *Store) SaveConnectionsGraph(ctx context.Context, w registrystore.ScopeWrite, graph *model.ConnectionsGraph) error {
	return s.commit(ctx, w, func(tx *gorm.DB, v model.Versioning) error {
		graph.ID = model.ConnectionsGraphID(w.UserID, w.RangeKey)
		graph.UserID = w.UserID
		graph.RangeKey = w.RangeKey
		graph.Versioning = v
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "range_key"}},
			DoUpdates: clause.AssignmentColumns(append([]string{"nodes", "edges"}, versioningColumns...)),
		}).Create(graph).Error
	})
}

func (s *Store) SaveCycles(ctx context.Context, w registrystore.ScopeWrite, rows []model.Cycle) error {
	return s.commit(ctx, w, func(tx *gorm.DB, v model.Versioning) error {
		if err := tx.Where("user_id = ? AND range_key = ?", w.UserID, w.RangeKey).Delete(&model.Cycle{}).Error; err != nil {
			return fmt.Errorf("failed to clear cycles: %w", err)
		}
		if len(rows) == 0 {
			sentinel := sentinelCycle(w.UserID, w.RangeKey, v)
			return tx.Create(&sentinel).Error
		}
		for i := range rows {
			rows[i].ID = model.CycleID(w.UserID, w.RangeKey, deref(rows[i].SourceNode), deref(rows[i].TargetNode))
			rows[i].UserID = w.UserID
			rows[i].RangeKey = w.RangeKey
			rows[i].Versioning = v
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

func (s *Store) SaveSnapshot(ctx context.Context, w registrystore.ScopeWrite, summary *model.SnapshotSummary) error {
	return s.commit(ctx, w, func(tx *gorm.DB, v model.Versioning) error {
		summary.ID = model.SnapshotID(w.UserID, w.RangeKey)
		summary.UserID = w.UserID
		summary.RangeKey = w.RangeKey
		summary.Versioning = v
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "range_key"}},
			DoUpdates: clause.AssignmentColumns(append([]string{"snapshot"}, versioningColumns...)),
		}).Create(summary).Error
	})
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
