package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/visualtesting/engine/internal/api"
	"github.com/visualtesting/engine/internal/api/handlers"
	"github.com/visualtesting/engine/internal/diff"
	"github.com/visualtesting/engine/internal/events"
	"github.com/visualtesting/engine/internal/imgdiff"
	"github.com/visualtesting/engine/internal/notify"
	"github.com/visualtesting/engine/internal/services"
	"github.com/visualtesting/engine/internal/storage"
	"github.com/visualtesting/engine/pkg/config"
	"github.com/visualtesting/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting visual testing engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("data_dir", cfg.DataDir),
	)

	store, err := storage.NewFSStore(cfg.DataDir)
	if err != nil {
		log.Fatal("failed to open data dir", zap.Error(err))
	}

	bus := events.NewBus()

	var notifyServices []notify.Service
	if cfg.GithubToken != "" {
		notifyServices = append(notifyServices, notify.NewGithubService(cfg.GithubToken, cfg.GithubStatusContext))
	} else {
		log.Warn("GITHUB_TOKEN not set, build statuses will not be reported")
	}
	relay := notify.NewRelay(store, bus, notifyServices...)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go relay.Run(relayCtx)

	orchestrator := diff.NewOrchestrator(store, imgdiff.PNGComparer{}, bus, cfg.DiffThreshold, cfg.PublicBaseURL)

	// Uploads go through the queue when Redis is configured, otherwise they
	// are diffed inline on the request path.
	var asynqClient *asynq.Client
	if cfg.RedisAddr != "" {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer asynqClient.Close()
		log.Info("task queue enabled", zap.String("redis", cfg.RedisAddr))
	} else {
		log.Info("no REDIS_ADDR configured, diffing uploads inline")
	}

	buildSvc := services.NewBuildService(store, bus, orchestrator, asynqClient)
	projectSvc := services.NewProjectService(store)

	router := api.NewRouter(api.Dependencies{
		ProjectsHandler: handlers.NewProjectsHandler(projectSvc),
		BuildsHandler:   handlers.NewBuildsHandler(buildSvc),
		ImagesHandler:   handlers.NewImagesHandler(buildSvc, store),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}

	stopRelay()
	bus.Close()
}
