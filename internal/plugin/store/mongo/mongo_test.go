package mongo_test

import (
	"context"
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/mongo"
	"github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/storetest"
	registrymigrate "github.com/sheryldeakin/mindstorm-sub000/internal/registry/migrate"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/testutil/containers"
	"github.com/stretchr/testify/require"
)

func TestMongoStore(t *testing.T) {
	uri := containers.StartMongo(t)
	_ = mongo.ForceImport

	storetest.Run(t, func(t *testing.T) (registrystore.DerivedStore, context.Context) {
		cfg := config.DefaultConfig()
		cfg.Mode = config.ModeTesting
		cfg.DatastoreType = "mongo"
		cfg.DBURL = uri
		ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
		t.Cleanup(cancel)

		loader, err := registrystore.Select("mongo")
		require.NoError(t, err)
		store, err := loader(ctx)
		require.NoError(t, err)
		require.NoError(t, store.(*mongo.MongoStore).Database().Drop(ctx))
		require.NoError(t, registrymigrate.RunAll(ctx))
		return store, ctx
	})
}
