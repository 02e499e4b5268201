package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrymigrate "github.com/sheryldeakin/mindstorm-sub000/internal/registry/migrate"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DatabaseName is the MongoDB database holding every collection.
const DatabaseName = "mindstorm_derived"

const (
	colEntrySignals      = "entry_signals"
	colWeeklyNarratives  = "weekly_narratives"
	colDerivedScopes     = "derived_scopes"
	colThemeSeries       = "theme_series"
	colConnectionsGraphs = "connections_graphs"
	colCycles            = "cycles"
	colSnapshotSummaries = "snapshot_summaries"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.DerivedStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}
			return &MongoStore{client: client, db: client.Database(DatabaseName)}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(DatabaseName)
	unique := func(keys ...string) mongo.IndexModel {
		d := bson.D{}
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: 1})
		}
		return mongo.IndexModel{Keys: d, Options: options.Index().SetUnique(true)}
	}
	collections := map[string][]mongo.IndexModel{
		colEntrySignals: {
			unique("user_id", "entry_id"),
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date_iso", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "source_updated_at", Value: -1}}},
		},
		colWeeklyNarratives: {unique("user_id", "week_start_iso")},
		colDerivedScopes: {
			unique("user_id", "range_key", "kind"),
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "stale", Value: 1}, {Key: "user_id", Value: 1}}},
		},
		colThemeSeries:       {unique("user_id", "range_key", "theme")},
		colConnectionsGraphs: {unique("user_id", "range_key")},
		colCycles:            {{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "range_key", Value: 1}}}},
		colSnapshotSummaries: {unique("user_id", "range_key")},
	}

	for name, indexes := range collections {
		// Ensure collection exists
		_ = db.CreateCollection(ctx, name)
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

// MongoStore implements DerivedStore using MongoDB. Scope commits are not
// transactional: the revision compare-and-swap runs first and the derived
// doc writes follow, so the scope row is authoritative for freshness.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func (s *MongoStore) col(name string) *mongo.Collection { return s.db.Collection(name) }

// Database exposes the underlying database.
func (s *MongoStore) Database() *mongo.Database { return s.db }

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func scopeFilter(userID string, rangeKey model.RangeKey) bson.M {
	return bson.M{"user_id": userID, "range_key": rangeKey}
}

func windowFilter(userID string, window model.DateWindow) bson.M {
	filter := bson.M{"user_id": userID}
	date := bson.M{}
	if window.Start != "" {
		date["$gte"] = window.Start
	}
	if window.End != "" {
		date["$lte"] = window.End
	}
	if len(date) > 0 {
		filter["date_iso"] = date
	}
	return filter
}

func (s *MongoStore) UpsertEntrySignal(ctx context.Context, signal *model.EntrySignal) error {
	if signal.UserID == "" || signal.EntryID == "" {
		return &registrystore.ValidationError{Field: "entryId", Message: "userId and entryId are required"}
	}
	now := time.Now().UTC()
	signal.ID = model.EntrySignalID(signal.UserID, signal.EntryID)
	signal.UpdatedAt = now

	var existing struct {
		CreatedAt time.Time `bson:"created_at"`
	}
	err := s.col(colEntrySignals).FindOne(ctx, bson.M{"_id": signal.ID},
		options.FindOne().SetProjection(bson.M{"created_at": 1})).Decode(&existing)
	switch {
	case err == nil:
		signal.CreatedAt = existing.CreatedAt
	case errors.Is(err, mongo.ErrNoDocuments):
		if signal.CreatedAt.IsZero() {
			signal.CreatedAt = now
		}
	default:
		return fmt.Errorf("failed to read entry signal: %w", err)
	}

	_, err = s.col(colEntrySignals).ReplaceOne(ctx, bson.M{"_id": signal.ID}, signal, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert entry signal: %w", err)
	}
	return nil
}

func (s *MongoStore) GetEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error) {
	var existing model.EntrySignal
	err := s.col(colEntrySignals).FindOne(ctx, bson.M{"user_id": userID, "entry_id": entryID}).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "entry signal", ID: entryID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry signal: %w", err)
	}
	return &existing, nil
}

func (s *MongoStore) DeleteEntrySignal(ctx context.Context, userID, entryID string) (*model.EntrySignal, error) {
	var existing model.EntrySignal
	err := s.col(colEntrySignals).FindOneAndDelete(ctx, bson.M{"user_id": userID, "entry_id": entryID}).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "entry signal", ID: entryID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete entry signal: %w", err)
	}
	return &existing, nil
}

func (s *MongoStore) ListEntrySignals(ctx context.Context, userID string, window model.DateWindow) ([]model.EntrySignal, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date_iso", Value: 1}, {Key: "entry_id", Value: 1}})
	cur, err := s.col(colEntrySignals).Find(ctx, windowFilter(userID, window), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry signals: %w", err)
	}
	signals := []model.EntrySignal{}
	if err := cur.All(ctx, &signals); err != nil {
		return nil, fmt.Errorf("failed to decode entry signals: %w", err)
	}
	return signals, nil
}

func (s *MongoStore) EarliestSignalDate(ctx context.Context, userID string) (string, error) {
	var doc struct {
		DateISO string `bson:"date_iso"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "date_iso", Value: 1}}).SetProjection(bson.M{"date_iso": 1})
	err := s.col(colEntrySignals).FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.DateISO, nil
}

func (s *MongoStore) LatestSourceUpdate(ctx context.Context, userID string, window model.DateWindow) (*time.Time, error) {
	var doc struct {
		SourceUpdatedAt time.Time `bson:"source_updated_at"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "source_updated_at", Value: -1}}).SetProjection(bson.M{"source_updated_at": 1})
	err := s.col(colEntrySignals).FindOne(ctx, windowFilter(userID, window), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts := doc.SourceUpdatedAt.UTC()
	return &ts, nil
}

func (s *MongoStore) UpsertWeeklyNarrative(ctx context.Context, weekly *model.WeeklyNarrative) error {
	weekly.ID = model.WeeklyNarrativeID(weekly.UserID, weekly.WeekStartISO)
	weekly.UpdatedAt = time.Now().UTC()
	_, err := s.col(colWeeklyNarratives).ReplaceOne(ctx, bson.M{"_id": weekly.ID}, weekly, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert weekly narrative: %w", err)
	}
	return nil
}

func (s *MongoStore) ListWeeklyNarratives(ctx context.Context, userID string) ([]model.WeeklyNarrative, error) {
	opts := options.Find().SetSort(bson.D{{Key: "week_start_iso", Value: 1}})
	cur, err := s.col(colWeeklyNarratives).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly narratives: %w", err)
	}
	weekly := []model.WeeklyNarrative{}
	if err := cur.All(ctx, &weekly); err != nil {
		return nil, err
	}
	return weekly, nil
}

func (s *MongoStore) ListThemeSeries(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.ThemeSeries, error) {
	opts := options.Find().SetSort(bson.D{{Key: "theme", Value: 1}})
	cur, err := s.col(colThemeSeries).Find(ctx, scopeFilter(userID, rangeKey), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list theme series: %w", err)
	}
	rows := []model.ThemeSeries{}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *MongoStore) GetConnectionsGraph(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.ConnectionsGraph, error) {
	var graph model.ConnectionsGraph
	err := s.col(colConnectionsGraphs).FindOne(ctx, scopeFilter(userID, rangeKey)).Decode(&graph)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connections graph: %w", err)
	}
	return &graph, nil
}

func (s *MongoStore) ListCycles(ctx context.Context, userID string, rangeKey model.RangeKey) ([]model.Cycle, error) {
	cur, err := s.col(colCycles).Find(ctx, scopeFilter(userID, rangeKey))
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	rows := []model.Cycle{}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	model.SortCycles(rows)
	return rows, nil
}

func (s *MongoStore) GetSnapshot(ctx context.Context, userID string, rangeKey model.RangeKey) (*model.SnapshotSummary, error) {
	var summary model.SnapshotSummary
	err := s.col(colSnapshotSummaries).FindOne(ctx, scopeFilter(userID, rangeKey)).Decode(&summary)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &summary, nil
}

var _ registrystore.DerivedStore = (*MongoStore)(nil)
