package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/codedeck/execbox/internal/config"
	"github.com/codedeck/execbox/internal/domain"
	"github.com/codedeck/execbox/internal/engine"
	"github.com/codedeck/execbox/internal/platform/depstore"
	"github.com/codedeck/execbox/internal/platform/docker"
	"github.com/codedeck/execbox/internal/platform/queue"
	"github.com/codedeck/execbox/internal/worker"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
	slog.Info("Starting execbox worker...")

	cfg := config.Load()

	// Fail fast: without Docker or Redis the worker is useless.
	dockerClient := docker.MustNew()
	rdb := queue.Connect(cfg.RedisAddr)

	q := queue.NewRedisQueue(rdb, "execbox:jobs", "execbox:workers", "execbox:results")
	registry := engine.NewRegistry(engine.RegistryConfig{
		ContainerPrefix: cfg.ContainerPrefix,
		RunTimeout:      cfg.RunTimeout,
		ProjectTimeout:  cfg.ProjectTimeout,
	})
	runner := engine.NewCoordinator(dockerClient, registry, depstore.NewRedisMarkerStore(rdb), engine.Options{
		EphemeralContainers: cfg.EphemeralContainers,
		Logger:              logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report := func(rctx context.Context, job domain.Job, result domain.ExecutionResult) {
		if err := q.Broadcast(rctx, domain.JobResult{JobID: job.ID, Result: result}); err != nil {
			slog.Error("Failed to broadcast result", "jobID", job.ID, "error", err)
		}
		if job.RawID != "" {
			if err := q.Acknowledge(rctx, job.RawID); err != nil {
				slog.Error("Failed to acknowledge job", "jobID", job.ID, "error", err)
			}
		}
	}

	pool := worker.NewPool(cfg.Concurrency, runner, report)
	pool.Start()

	go q.StartRecoveryRoutine(ctx, time.Minute, 5*time.Minute)

	jobs, err := q.Subscribe(ctx)
	if err != nil {
		slog.Error("Failed to subscribe to job queue", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker ready", "languages", registry.Languages(), "concurrency", cfg.Concurrency)

	for job := range jobs {
		pool.Submit(job)
	}

	slog.Info("Job stream closed, shutting down")
	pool.Stop()
}
