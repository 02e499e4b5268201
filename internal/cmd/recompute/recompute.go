package recompute

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	storemetrics "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/metrics"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	registrymigrate "github.com/sheryldeakin/mindstorm-sub000/internal/registry/migrate"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
	"github.com/urfave/cli/v3"

	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/merge/none"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/merge/openai"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/gormstore"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/mongo"
)

// Command returns the recompute sub-command. With --user it rebuilds every
// scope of that user; otherwise it runs one worker pass over all stale scopes.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "recompute",
		Usage: "Recompute stale derived caches once and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("MINDSTORM_DB_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Database connection URL",
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("MINDSTORM_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Store backend (postgres|sqlite|mongo)",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "Invalidate and rebuild every range of this user",
			},
			&cli.IntFlag{
				Name:        "concurrency",
				Sources:     cli.EnvVars("MINDSTORM_WORKER_CONCURRENCY"),
				Destination: &cfg.WorkerConcurrency,
				Value:       cfg.WorkerConcurrency,
				Usage:       "Scopes recomputed in parallel per kind",
			},
			&cli.StringFlag{
				Name:        "merge-kind",
				Sources:     cli.EnvVars("MINDSTORM_MERGE_KIND"),
				Destination: &cfg.MergeType,
				Value:       cfg.MergeType,
				Usage:       "Weekly narrative merge collaborator",
			},
			&cli.StringFlag{
				Name:        "openai-api-key",
				Sources:     cli.EnvVars("MINDSTORM_OPENAI_API_KEY", "OPENAI_API_KEY"),
				Destination: &cfg.OpenAIAPIKey,
				Usage:       "OpenAI API key",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = config.WithContext(ctx, &cfg)
			svc, err := open(ctx, &cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			start := time.Now()
			if user := cmd.String("user"); user != "" {
				if err := svc.RebuildUser(ctx, user); err != nil {
					return err
				}
				log.Info("User rebuilt", "user", user, "duration", time.Since(start))
				return nil
			}
			stats := service.NewWorker(svc).RunOnce(ctx)
			log.Info("Recompute pass finished",
				"scopes", stats.Scopes,
				"recomputed", stats.Recomputed,
				"superseded", stats.Superseded,
				"failed", stats.Failed,
				"duration", time.Since(start),
			)
			if stats.Failed > 0 {
				return fmt.Errorf("%d scope recomputes failed", stats.Failed)
			}
			return nil
		},
	}
}

func open(ctx context.Context, cfg *config.Config) (*service.Service, error) {
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	mergeLoader, err := registrymerge.Select(cfg.MergeType)
	if err != nil {
		return nil, err
	}
	collaborator, err := mergeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize narrative merge: %w", err)
	}
	return service.New(cfg, storemetrics.Wrap(store), service.WithCollaborator(collaborator)), nil
}
