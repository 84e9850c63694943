package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every knob the binaries read from the environment.
type Config struct {
	RedisAddr  string
	ListenAddr string

	// Concurrency is the worker-pool size: the number of executions allowed
	// to run at once against the shared containers.
	Concurrency int

	// ContainerPrefix names the persistent per-language containers
	// ("<prefix>-python" etc.).
	ContainerPrefix string

	// RunTimeout and ProjectTimeout override the wall-clock budgets for
	// single-file and multi-file runs when set.
	RunTimeout     time.Duration
	ProjectTimeout time.Duration

	// EphemeralContainers creates a fresh container per execution instead
	// of reusing the persistent one per language.
	EphemeralContainers bool
}

// Load reads the configuration from the environment, with an optional .env
// file for local development.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Could not load .env file", "error", err)
	}

	return &Config{
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		ListenAddr:          getEnv("EXECBOX_LISTEN_ADDR", ":8080"),
		Concurrency:         getEnvInt("EXECBOX_CONCURRENCY", 4),
		ContainerPrefix:     getEnv("EXECBOX_CONTAINER_PREFIX", "execbox"),
		RunTimeout:          getEnvDuration("EXECBOX_RUN_TIMEOUT", 0),
		ProjectTimeout:      getEnvDuration("EXECBOX_PROJECT_TIMEOUT", 0),
		EphemeralContainers: getEnvBool("EXECBOX_EPHEMERAL_CONTAINERS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Invalid boolean in environment", "key", key, "value", v)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Invalid duration in environment", "key", key, "value", v)
		return fallback
	}
	return d
}
