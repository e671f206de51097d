package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/visualtesting/engine/internal/diff"
	"github.com/visualtesting/engine/internal/events"
	"github.com/visualtesting/engine/internal/imgdiff"
	"github.com/visualtesting/engine/internal/notify"
	"github.com/visualtesting/engine/internal/queue/tasks"
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

	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required for the worker")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

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

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	handler := tasks.NewDiffTaskHandler(orchestrator)
	mux.HandleFunc(tasks.TypeDiffSha, handler.HandleDiffSha)

	errCh := make(chan error, 1)
	go func() {
		log.Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("worker stopped with error", zap.Error(err))
	}

	// let in-flight diff tasks finish
	srv.Shutdown()
	stopRelay()
	bus.Close()
}
