package gormstore

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrymigrate "github.com/sheryldeakin/mindstorm-sub000/internal/registry/migrate"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Models lists every table the store owns, in creation order.
var Models = []interface{}{
	&model.EntrySignal{},
	&model.WeeklyNarrative{},
	&model.DerivedScope{},
	&model.ThemeSeries{},
	&model.ConnectionsGraph{},
	&model.Cycle{},
	&model.SnapshotSummary{},
}

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.DerivedStore, error) {
			cfg := config.FromContext(ctx)
			db, err := OpenSQLite(cfg)
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			watchPool(ctx, sqlDB, 1)
			return New(db), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// OpenSQLite opens the sqlite database named by cfg.DBURL. sqlite serializes
// writers, so the pool is pinned to one connection.
func OpenSQLite(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.DBURL
	if dsn == "" {
		dsn = "file:mindstorm.db"
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	return db, nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := OpenSQLite(cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(Models...); err != nil {
		return fmt.Errorf("migration: auto-migrate: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
