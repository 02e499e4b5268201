package migrate

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	registrymigrate "github.com/sheryldeakin/mindstorm-sub000/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their store loaders.
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/gormstore"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/mongo"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the derived analytics schema to the datastore",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("MINDSTORM_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("MINDSTORM_DB_KIND"),
				Usage:   "Store backend (postgres|sqlite|mongo)",
				Value:   "postgres",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations", "db", cfg.DatastoreType, "migrators", strings.Join(registrymigrate.Names(), ","))
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
