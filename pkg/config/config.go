// Package config loads the service configuration from the environment. A
// .env file is honored in development; real deployments set the variables
// directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend selects a substrate implementation.
type Backend string

// Substrate backends. The memory backends serve single-process deployments
// and tests; the external/relational backends serve distributed deployments.
const (
	BackendMemory     Backend = "memory"
	BackendExternal   Backend = "external"
	BackendRelational Backend = "relational"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// QueueBackend selects the request queue and response store: memory or
	// external (Redis).
	QueueBackend Backend

	// StoreBackend selects the progress log and thread store: memory or
	// relational (Postgres).
	StoreBackend Backend

	// RedisAddr is the Redis address used by the external queue backend.
	RedisAddr     string
	RedisPassword string

	// LLMModel is the chat completion model identifier.
	LLMModel string

	// LLMAPIKey authenticates against the model provider.
	LLMAPIKey string

	// LLMBaseURL overrides the provider endpoint (proxies, local gateways).
	LLMBaseURL string

	// RetrievalEndpoint is the base URL of the passage search service.
	RetrievalEndpoint string

	// ResponseTTL is how long completed responses stay readable in the
	// external response store.
	ResponseTTL time.Duration

	// TurnTimeout is the per-turn processing deadline.
	TurnTimeout time.Duration

	// WorkerCount is the number of pipeline workers.
	WorkerCount int
}

// LoadFromEnv reads the configuration from environment variables, applying
// defaults for everything optional.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:        getEnvOrDefault("LISTEN_ADDR", ":8080"),
		QueueBackend:      Backend(getEnvOrDefault("QUEUE_BACKEND", string(BackendMemory))),
		StoreBackend:      Backend(getEnvOrDefault("STORE_BACKEND", string(BackendMemory))),
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		LLMModel:          getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMBaseURL:        os.Getenv("LLM_BASE_URL"),
		RetrievalEndpoint: getEnvOrDefault("RETRIEVAL_ENDPOINT", "http://localhost:9200"),
	}

	var err error
	if cfg.ResponseTTL, err = durationEnv("RESPONSE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.TurnTimeout, err = durationEnv("TURN_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}

	workers, err := strconv.Atoi(getEnvOrDefault("WORKER_COUNT", "4"))
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("invalid WORKER_COUNT: %q", os.Getenv("WORKER_COUNT"))
	}
	cfg.WorkerCount = workers

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.QueueBackend {
	case BackendMemory, BackendExternal:
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q: must be memory or external", c.QueueBackend)
	}
	switch c.StoreBackend {
	case BackendMemory, BackendRelational:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: must be memory or relational", c.StoreBackend)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be positive")
	}
	return nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
