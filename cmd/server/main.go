package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"

	"github.com/codedeck/execbox/internal/config"
	"github.com/codedeck/execbox/internal/domain"
	"github.com/codedeck/execbox/internal/platform/docker"
	"github.com/codedeck/execbox/internal/platform/queue"
	"github.com/codedeck/execbox/internal/platform/web"
)

// Hub of active WebSocket connections, keyed by job ID.
var (
	clientHub = make(map[string]*websocket.Conn)
	hubMu     sync.RWMutex
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	rdb := queue.Connect(cfg.RedisAddr)
	q := queue.NewRedisQueue(rdb, "execbox:jobs", "execbox:workers", "execbox:results")

	// The server stays up even when Docker is down; /api/health reports it.
	dockerClient, dockerErr := docker.New()
	if dockerErr != nil {
		slog.Warn("Container runtime unreachable at startup", "error", dockerErr)
	}

	go broadcastResults(q)

	// 1 request every 2s per IP, burst of 5.
	limiter := web.NewRateLimiter(0.5, 5.0)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/execute", limiter.Middleware(handleSubmit(q)))
	mux.HandleFunc("GET /api/ws", handleWS())
	mux.HandleFunc("GET /api/health", handleHealth(dockerClient, dockerErr))

	handler := enableCORS(mux)

	slog.Info("API server starting", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// handleSubmit validates the inbound request shape and enqueues the job.
// Execution happens on the workers; this layer never touches a container.
func handleSubmit(q domain.JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.ExecutionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		job := domain.Job{
			ID:      uuid.New().String(),
			Request: req,
		}

		slog.Info("Received submission", "jobID", job.ID, "language", req.Language)
		if err := q.Publish(r.Context(), job); err != nil {
			slog.Error("Failed to publish job", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"job_id": job.ID,
			"status": "queued",
		})
	}
}

// handleHealth reports whether the container runtime is reachable.
func handleHealth(dockerClient *docker.Client, startupErr error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := domain.Health{Available: false, Message: "container runtime unreachable"}
		if startupErr != nil {
			health.Message = startupErr.Error()
		} else if err := dockerClient.Ping(r.Context()); err != nil {
			health.Message = err.Error()
		} else {
			health = domain.Health{Available: true, Message: "container runtime reachable"}
		}

		w.Header().Set("Content-Type", "application/json")
		if !health.Available {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and registers it in the hub under its
// job ID so the broadcaster can deliver the result.
func handleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("job_id")
		if jobID == "" {
			http.Error(w, "job_id is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("WebSocket upgrade failed", "error", err)
			return
		}

		slog.Info("Client connected via WebSocket", "jobID", jobID)
		hubMu.Lock()
		clientHub[jobID] = conn
		hubMu.Unlock()

		defer func() {
			slog.Info("Client disconnected", "jobID", jobID)
			hubMu.Lock()
			delete(clientHub, jobID)
			hubMu.Unlock()
			conn.Close()
		}()

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// broadcastResults forwards results from the queue's Pub/Sub channel to the
// WebSocket client waiting on each job, if any.
func broadcastResults(q domain.JobQueue) {
	slog.Info("Starting result broadcaster...")

	results, err := q.SubscribeResults(context.Background())
	if err != nil {
		slog.Error("Failed to subscribe to results", "error", err)
		os.Exit(1)
	}

	for msg := range results {
		hubMu.RLock()
		conn, exists := clientHub[msg.JobID]
		hubMu.RUnlock()

		if exists {
			if err := conn.WriteJSON(msg); err != nil {
				slog.Error("Failed to write to websocket", "jobID", msg.JobID, "error", err)
			}
		}
	}
}
