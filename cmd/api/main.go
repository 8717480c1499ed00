package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"podforge/internal/adapter/repo"
	"podforge/internal/domain"
	"podforge/internal/http/handlers"
	"podforge/internal/http/httpapi"
	"podforge/internal/infra"
	"podforge/internal/media"
	"podforge/internal/orchestrator"
	"podforge/internal/progress"
	"podforge/internal/provider"
	"podforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jobs domain.JobRepository
	var parents domain.ParentSnapshotStore
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: db connection failed")
		}
		defer pool.Close()
		jobs = repo.NewJobRepository(pool)
		parents = repo.NewParentRepository(pool)
	} else {
		logger.Warn().Msg("api: DATABASE_URL not set, using in-memory job store")
		jobs = repo.NewJobRepositoryMemory()
	}

	fileStore, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	providerClient, err := provider.NewHTTPClient(provider.Options{
		APIKey:  cfg.ProviderAPIKey,
		BaseURL: cfg.ProviderBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure generation provider")
	}

	broker := progress.NewBroker()
	var publisher progress.Publisher = broker
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	if redisClient != nil {
		defer redisClient.Close()
		publisher = progress.NewRedisPublisher(redisClient, logger)
		go func() {
			if err := progress.RunRedisBridge(ctx, redisClient, broker, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("api: progress bridge stopped")
			}
		}()
	}

	var video orchestrator.VideoAssembler
	assembler, err := media.NewAssembler(filepath.Join(cfg.StoragePath, "work"), media.ConcatOptions{}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("api: video assembly disabled")
	} else {
		video = assembler
	}

	reconciler := orchestrator.NewReconciler(orchestrator.ReconcilerOptions{
		Jobs:    jobs,
		Store:   fileStore,
		Fetcher: storage.NewHTTPFetcher(),
		Parents: parents,
		Events:  publisher,
		Video:   video,
		Logger:  logger,
	})
	recoverer := orchestrator.NewRecoverer(jobs, providerClient, reconciler, logger)
	service := orchestrator.NewService(jobs)

	app := &handlers.App{
		Cfg:        cfg,
		Logger:     logger,
		Service:    service,
		Reconciler: reconciler,
		Recoverer:  recoverer,
		Broker:     broker,
	}
	router := httpapi.NewRouter(app, fileStore.BasePath())
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
