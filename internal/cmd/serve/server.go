package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/plugin/route/derived"
	"github.com/sheryldeakin/mindstorm-sub000/internal/plugin/route/entries"
	routesystem "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/route/system"
	storemetrics "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/metrics"
	registrycache "github.com/sheryldeakin/mindstorm-sub000/internal/registry/cache"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	registrymigrate "github.com/sheryldeakin/mindstorm-sub000/internal/registry/migrate"
	registryroute "github.com/sheryldeakin/mindstorm-sub000/internal/registry/route"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/sheryldeakin/mindstorm-sub000/internal/security"
	"github.com/sheryldeakin/mindstorm-sub000/internal/service"
)

// Server holds the running listeners and the derived analytics service.
type Server struct {
	Config     *config.Config
	Service    *service.Service
	Router     *gin.Engine
	Main       *Listener
	Management *Listener
	stopWorker context.CancelFunc
}

// Shutdown stops the worker, drains pending read triggers, then closes the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if s.stopWorker != nil {
		s.stopWorker()
	}
	var err error
	if s.Management != nil {
		err = s.Management.Close(ctx)
	}
	if mainErr := s.Main.Close(ctx); mainErr != nil {
		err = mainErr
	}
	s.Service.Close()
	return err
}

// StartServer opens the store, starts the background worker, and serves the
// HTTP routes. Use cfg.Listener.Port=0 for a random port; see Server.Main.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting mindstorm derived service",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"merge", cfg.MergeType,
		"staleRanges", cfg.StaleRangePolicy,
	)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

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
	store = storemetrics.Wrap(store)

	opts := []service.Option{}
	// The response cache is optional; reads fall through to the store without it.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if cache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		opts = append(opts, service.WithCache(cache))
	}

	mergeLoader, err := registrymerge.Select(cfg.MergeType)
	if err != nil {
		return nil, err
	}
	collaborator, err := mergeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize narrative merge: %w", err)
	}
	opts = append(opts, service.WithCollaborator(collaborator))

	svc := service.New(cfg, store, opts...)

	if cfg.Mode == config.ModeTesting {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	derived.MountRoutes(router, svc)
	entries.MountRoutes(router, svc)

	var management *Listener
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := mountManagement(mgmtRouter); err != nil {
			return nil, err
		}
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		management, err = startListener("management", mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else if err := mountManagement(router); err != nil {
		return nil, err
	}

	mainListener, err := startListener("main", cfg.Listener, router)
	if err != nil {
		if management != nil {
			_ = management.Close(ctx)
		}
		return nil, err
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	go service.NewWorker(svc).Start(workerCtx)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Service:    svc,
		Router:     router,
		Main:       mainListener,
		Management: management,
		stopWorker: stopWorker,
	}, nil
}

func mountManagement(r *gin.Engine) error {
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(r); err != nil {
			return fmt.Errorf("failed to load management routes: %w", err)
		}
	}
	return nil
}
