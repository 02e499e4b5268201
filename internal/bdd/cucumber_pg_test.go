package bdd

import (
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/gormstore"
	"github.com/sheryldeakin/mindstorm-sub000/internal/testutil/containers"
)

func TestFeaturesPostgres(t *testing.T) {
	_ = gormstore.ForceImport

	dbURL := containers.StartPostgres(t)
	redisURL := containers.StartRedis(t)

	cfg := testConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = dbURL
	cfg.CacheType = "redis"
	cfg.RedisURL = redisURL

	runFeatures(t, &cfg, &PostgresTestDB{DBURL: dbURL})
}
