package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"podforge/internal/adapter/repo"
	"podforge/internal/domain"
	"podforge/internal/infra"
	"podforge/internal/orchestrator"
	"podforge/internal/progress"
	"podforge/internal/provider"
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

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required; an in-memory store is invisible to the API process")
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	jobs := repo.NewJobRepository(pool)

	providerClient, err := provider.NewHTTPClient(provider.Options{
		APIKey:  cfg.ProviderAPIKey,
		BaseURL: cfg.ProviderBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure generation provider")
	}

	callbackURL := ""
	if cfg.CallbackBaseURL != "" {
		callbackURL = strings.TrimRight(cfg.CallbackBaseURL, "/") + "/v1/callbacks/generation"
	} else {
		logger.Warn().Msg("worker: CALLBACK_BASE_URL not set, provider callbacks disabled; jobs complete via recovery only")
	}

	// Without Redis the worker's events have no cross-process audience; a
	// local broker absorbs them.
	var publisher progress.Publisher = progress.NewBroker()
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	if redisClient != nil {
		defer redisClient.Close()
		publisher = progress.NewRedisPublisher(redisClient, logger)
	}

	submitter := orchestrator.NewSubmitter(jobs, providerClient, callbackURL, cfg.SubmitMaxAttempts, publisher, logger)

	logger.Info().Msg("worker: started")
	if err := run(ctx, submitter, cfg.WorkerPollInterval, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func run(ctx context.Context, submitter *orchestrator.Submitter, pollInterval time.Duration, logger infra.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		more, err := submitter.RunOnce(ctx)
		if err != nil && !errors.Is(err, domain.ErrWorkerBusy) {
			logger.Error().Err(err).Msg("worker: submission pass failed")
		}
		if more && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
