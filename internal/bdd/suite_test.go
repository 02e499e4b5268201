package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/sheryldeakin/mindstorm-sub000/internal/cmd/serve"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/testutil/cucumber"
	"github.com/stretchr/testify/require"
)

// testConfig returns a server configuration with the background worker
// disabled so scenarios drive recomputes explicitly.
func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.WorkerDisabled = true
	cfg.Listener.Port = 0
	cfg.Listener.EnableTLS = false
	cfg.ManagementListenerEnabled = false
	return cfg
}

// runFeatures starts a server for cfg and runs every feature file against it.
func runFeatures(t *testing.T, cfg *config.Config, db cucumber.TestDB) {
	t.Helper()
	ctx := config.WithContext(context.Background(), cfg)
	srv, err := serve.StartServer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	featureFiles, err := filepath.Glob(filepath.Join("features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "no feature files found")

	opts := cucumber.DefaultOptions()
	opts.Concurrency = 1
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			srv.Service.Wait()
			require.NoError(t, db.ClearAll(context.Background()))

			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = fmt.Sprintf("http://localhost:%d", srv.Main.Port)
			suite.TestingT = t
			suite.DB = db
			suite.Extra[serverKey] = srv

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
