package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/codedeck/execbox/internal/config"
	"github.com/codedeck/execbox/internal/domain"
	"github.com/codedeck/execbox/internal/platform/queue"
)

// Publishes a handful of representative jobs to smoke-test the pipeline:
// plain output, stdin echo, a runtime error and a cached dependency install.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	rdb := queue.Connect(cfg.RedisAddr)
	q := queue.NewRedisQueue(rdb, "execbox:jobs", "execbox:workers", "execbox:results")

	jobs := []domain.Job{
		{
			ID: "smoke-hello",
			Request: domain.ExecutionRequest{
				Language: "python",
				Code:     `print("hello from execbox")`,
			},
		},
		{
			ID: "smoke-stdin",
			Request: domain.ExecutionRequest{
				Language: "python",
				Code:     `print("you said: " + input())`,
				Input:    "ping",
			},
		},
		{
			ID: "smoke-error",
			Request: domain.ExecutionRequest{
				Language: "python",
				Code:     "1/0",
			},
		},
		{
			ID: "smoke-deps",
			Request: domain.ExecutionRequest{
				Language:     "python",
				Code:         "import requests\nprint(requests.__version__)",
				Dependencies: map[string]string{"requests": "*"},
				ProjectID:    "smoke-project",
			},
		},
	}

	for _, job := range jobs {
		slog.Info("Publishing job", "jobID", job.ID)
		if err := q.Publish(context.Background(), job); err != nil {
			slog.Error("Failed to publish job", "error", err)
			os.Exit(1)
		}
	}

	slog.Info(fmt.Sprintf("Published %d jobs", len(jobs)))
}
