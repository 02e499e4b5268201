package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *MongoStore) MarkStale(ctx context.Context, userID string, rangeKeys []model.RangeKey, sourceVersion string) error {
	staleSet := bson.M{"stale": true, "source_version": sourceVersion}
	upsert := options.UpdateOne().SetUpsert(true)
	for _, rk := range rangeKeys {
		for _, kind := range model.DerivedKinds {
			_, err := s.col(colDerivedScopes).UpdateOne(ctx,
				bson.M{"_id": model.ScopeID(userID, rk, kind)},
				bson.M{
					"$inc": bson.M{"revision": 1},
					"$set": staleSet,
					"$setOnInsert": bson.M{
						"user_id":          userID,
						"range_key":        rk,
						"kind":             kind,
						"pipeline_version": model.PipelineVersion(kind),
					},
				}, upsert)
			if err != nil {
				return fmt.Errorf("failed to mark %s scope stale: %w", kind, err)
			}
		}

		if _, err := s.col(colThemeSeries).UpdateMany(ctx, scopeFilter(userID, rk), bson.M{"$set": staleSet}); err != nil {
			return fmt.Errorf("failed to mark theme series stale: %w", err)
		}

		_, err := s.col(colConnectionsGraphs).UpdateOne(ctx,
			bson.M{"_id": model.ConnectionsGraphID(userID, rk)},
			bson.M{
				"$set": staleSet,
				"$setOnInsert": bson.M{
					"user_id":          userID,
					"range_key":        rk,
					"nodes":            bson.A{},
					"edges":            bson.A{},
					"pipeline_version": model.PipelineConnectionsGraph,
				},
			}, upsert)
		if err != nil {
			return fmt.Errorf("failed to mark connections graph stale: %w", err)
		}

		_, err = s.col(colSnapshotSummaries).UpdateOne(ctx,
			bson.M{"_id": model.SnapshotID(userID, rk)},
			bson.M{
				"$set": staleSet,
				"$setOnInsert": bson.M{
					"user_id":          userID,
					"range_key":        rk,
					"snapshot":         model.Snapshot{RangeKey: rk},
					"pipeline_version": model.PipelineSnapshot,
				},
			}, upsert)
		if err != nil {
			return fmt.Errorf("failed to mark snapshot stale: %w", err)
		}

		res, err := s.col(colCycles).UpdateMany(ctx, scopeFilter(userID, rk), bson.M{"$set": staleSet})
		if err != nil {
			return fmt.Errorf("failed to mark cycles stale: %w", err)
		}
		if res.MatchedCount == 0 {
			_, err = s.col(colCycles).UpdateOne(ctx,
				bson.M{"_id": model.CycleID(userID, rk, "", "")},
				bson.M{
					"$set": staleSet,
					"$setOnInsert": bson.M{
						"user_id":            userID,
						"range_key":          rk,
						"source_node":        nil,
						"target_node":        nil,
						"frequency":          0,
						"confidence":         0.0,
						"lag_days_min":       0,
						"avg_lag":            0.0,
						"evidence_entry_ids": bson.A{},
						"pipeline_version":   model.PipelineCycles,
					},
				}, upsert)
			if err != nil {
				return fmt.Errorf("failed to create stale cycles placeholder: %w", err)
			}
		}
	}
	return nil
}

func (s *MongoStore) GetScope(ctx context.Context, userID string, rangeKey model.RangeKey, kind model.DerivedKind) (*model.DerivedScope, error) {
	var scope model.DerivedScope
	err := s.col(colDerivedScopes).FindOne(ctx, bson.M{"_id": model.ScopeID(userID, rangeKey, kind)}).Decode(&scope)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	return &scope, nil
}

func (s *MongoStore) ListStaleScopes(ctx context.Context, kind model.DerivedKind, limit int) ([]model.ScopeKey, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "range_key", Value: 1}}).
		SetProjection(bson.M{"user_id": 1, "range_key": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.col(colDerivedScopes).Find(ctx, bson.M{"kind": kind, "stale": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale scopes: %w", err)
	}
	var docs []struct {
		UserID   string         `bson:"user_id"`
		RangeKey model.RangeKey `bson:"range_key"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	keys := make([]model.ScopeKey, 0, len(docs))
	seen := map[model.ScopeKey]bool{}
	for _, d := range docs {
		k := model.ScopeKey{UserID: d.UserID, RangeKey: d.RangeKey}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// claim performs the revision compare-and-swap that commits a recompute.
func (s *MongoStore) claim(ctx context.Context, w registrystore.ScopeWrite) (model.Versioning, error) {
	v := w.Versioning()
	id := model.ScopeID(w.UserID, w.RangeKey, w.Kind)
	res, err := s.col(colDerivedScopes).UpdateOne(ctx,
		bson.M{"_id": id, "revision": w.Revision},
		bson.M{"$set": bson.M{
			"stale":            false,
			"computed_at":      v.ComputedAt,
			"pipeline_version": v.PipelineVersion,
			"source_version":   v.SourceVersion,
		}})
	if err != nil {
		return v, fmt.Errorf("failed to commit %s scope: %w", w.Kind, err)
	}
	if res.MatchedCount > 0 {
		return v, nil
	}
	if w.Revision != 0 {
		return v, registrystore.SupersededError(w)
	}
	_, err = s.col(colDerivedScopes).InsertOne(ctx, model.DerivedScope{
		ID:         id,
		UserID:     w.UserID,
		RangeKey:   w.RangeKey,
		Kind:       w.Kind,
		Versioning: v,
	})
	if mongo.IsDuplicateKeyError(err) {
		return v, registrystore.SupersededError(w)
	}
	if err != nil {
		return v, fmt.Errorf("failed to create %s scope: %w", w.Kind, err)
	}
	return v, nil
}

func (s *MongoStore) SaveThemeSeries(ctx context.Context, w registrystore.ScopeWrite, rows []model.ThemeSeries) error {
	v, err := s.claim(ctx, w)
	if err != nil {
		return err
	}
	themes := make([]string, len(rows))
	models := make([]mongo.WriteModel, len(rows))
	for i := range rows {
		rows[i].ID = model.ThemeSeriesID(w.UserID, w.RangeKey, rows[i].Theme)
		rows[i].UserID = w.UserID
		rows[i].RangeKey = w.RangeKey
		rows[i].Versioning = v
		themes[i] = rows[i].Theme
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": rows[i].ID}).
			SetReplacement(rows[i]).
			SetUpsert(true)
	}
	del := scopeFilter(w.UserID, w.RangeKey)
	if len(themes) > 0 {
		del["theme"] = bson.M{"$nin": themes}
	}
	if _, err := s.col(colThemeSeries).DeleteMany(ctx, del); err != nil {
		return fmt.Errorf("failed to delete deselected theme series: %w", err)
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := s.col(colThemeSeries).BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("failed to upsert theme series: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveConnectionsGraph(ctx context.Context, w registrystore.ScopeWrite, graph *model.ConnectionsGraph) error {
	v, err := s.claim(ctx, w)
	if err != nil {
		return err
	}
	graph.ID = model.ConnectionsGraphID(w.UserID, w.RangeKey)
	graph.UserID = w.UserID
	graph.RangeKey = w.RangeKey
	graph.Versioning = v
	if _, err := s.col(colConnectionsGraphs).ReplaceOne(ctx, bson.M{"_id": graph.ID}, graph, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert connections graph: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveCycles(ctx context.Context, w registrystore.ScopeWrite, rows []model.Cycle) error {
	v, err := s.claim(ctx, w)
	if err != nil {
		return err
	}
	if _, err := s.col(colCycles).DeleteMany(ctx, scopeFilter(w.UserID, w.RangeKey)); err != nil {
		return fmt.Errorf("failed to clear cycles: %w", err)
	}
	if len(rows) == 0 {
		rows = []model.Cycle{{EvidenceEntryIDs: []string{}}}
	}
	docs := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].ID = model.CycleID(w.UserID, w.RangeKey, deref(rows[i].SourceNode), deref(rows[i].TargetNode))
		rows[i].UserID = w.UserID
		rows[i].RangeKey = w.RangeKey
		rows[i].Versioning = v
		docs[i] = rows[i]
	}
	if _, err := s.col(colCycles).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert cycles: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveSnapshot(ctx context.Context, w registrystore.ScopeWrite, summary *model.SnapshotSummary) error {
	v, err := s.claim(ctx, w)
	if err != nil {
		return err
	}
	summary.ID = model.SnapshotID(w.UserID, w.RangeKey)
	summary.UserID = w.UserID
	summary.RangeKey = w.RangeKey
	summary.Versioning = v
	if _, err := s.col(colSnapshotSummaries).ReplaceOne(ctx, bson.M{"_id": summary.ID}, summary, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
