package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pricebook/pricebook/internal/app"
	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/users"
	"github.com/pricebook/pricebook/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	pricingDeps := pricing.HandlerDeps{
		Router:         container.Router,
		Editor:         container.Editor,
		Ingestor:       container.Ingestor,
		Idempotency:    container.Idempotency,
		Subscriber:     container.Subscriber,
		RBAC:           container.RBAC,
		Logger:         logger,
		MaxUploadBytes: cfg.ImportMaxBytes,
	}
	routerParams := app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     container.RBAC,
		UsersHandler:       users.NewHandler(logger, container.Users, container.RBAC),
		PermissionsHandler: rbac.NewPermissionsHandler(logger),
		Metrics:            container.Metrics,
	}

	// Background imports need the asynq queue, which lives in Redis.
	if container.Redis != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()

		pricingDeps.Enqueuer = jobClient
		routerParams.JobHandler = jobs.NewHandler(inspector, logger)
	} else {
		routerParams.JobHandler = jobs.NewHandler(nil, logger)
	}
	routerParams.PricingHandler = pricing.NewHandler(pricingDeps)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.NewRouter(routerParams),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.Bool("redis", container.Redis != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
