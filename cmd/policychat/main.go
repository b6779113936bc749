// policychat server: provides the chat HTTP API, manages pipeline workers,
// and orchestrates turn processing over the configured substrate.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/carebridge/policychat/pkg/api"
	"github.com/carebridge/policychat/pkg/config"
	"github.com/carebridge/policychat/pkg/database"
	"github.com/carebridge/policychat/pkg/llm"
	"github.com/carebridge/policychat/pkg/pipeline"
	"github.com/carebridge/policychat/pkg/retriever"
	"github.com/carebridge/policychat/pkg/services"
	"github.com/carebridge/policychat/pkg/state"
	"github.com/carebridge/policychat/pkg/transport"
	"github.com/carebridge/policychat/pkg/transport/memory"
	"github.com/carebridge/policychat/pkg/transport/pglog"
	"github.com/carebridge/policychat/pkg/transport/redisq"
	"github.com/carebridge/policychat/pkg/worker"
)

// memoryQueueCapacity bounds the in-process request queue.
const memoryQueueCapacity = 256

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	})))

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	podID := resolvePodID()
	slog.Info("Starting policychat",
		"listen_addr", cfg.ListenAddr,
		"pod_id", podID,
		"queue_backend", cfg.QueueBackend,
		"store_backend", cfg.StoreBackend)

	ctx := context.Background()

	// 1. Queue and response store substrate.
	var (
		queue     transport.RequestQueue
		responses transport.ResponseStore
	)
	if cfg.QueueBackend == config.BackendExternal {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = rdb.Close() }()

		rq := redisq.NewQueue(rdb)
		if err := rq.Ping(ctx); err != nil {
			slog.Error("Redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		queue = rq
		responses = redisq.NewResponseStore(rdb, cfg.ResponseTTL)
		slog.Info("Connected to Redis", "addr", cfg.RedisAddr)
	} else {
		queue = memory.NewQueue(memoryQueueCapacity)
		responses = memory.NewResponseStore()
	}

	// 2. Progress log and thread store substrate.
	var (
		progress transport.ProgressLog
		threads  state.ThreadStore
		dbClient *database.Client
	)
	if cfg.StoreBackend == config.BackendRelational {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		progress = pglog.NewProgressLog(dbClient.DB())
		threads = state.NewPostgresStore(dbClient.DB())
		slog.Info("Connected to PostgreSQL database")
	} else {
		progress = memory.NewProgressLog()
		threads = state.NewMemoryStore()
	}

	// 3. LLM client and retriever.
	llmClient, err := llm.NewOpenAI(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "model", cfg.LLMModel, "error", err)
		os.Exit(1)
	}
	retr := retriever.NewHTTP(cfg.RetrievalEndpoint)
	slog.Info("LLM client initialized", "model", cfg.LLMModel)

	// 4. Pipeline and worker pool.
	pl := pipeline.New(llmClient, retr, progress, responses, threads, slog.Default())
	pool := worker.NewPool(podID, queue, pl, cfg.WorkerCount, cfg.TurnTimeout)
	pool.Start(ctx)

	// 5. Services and HTTP server.
	chatService := services.NewChatService(queue, responses)
	historyService := services.NewHistoryService(threads)
	server := api.NewServer(chatService, historyService, progress, pool, dbClient)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("policychat started successfully", "pod_id", podID, "workers", cfg.WorkerCount)

	// 6. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: stop accepting requests, then drain workers.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.TurnTimeout+10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	pool.Stop()

	slog.Info("policychat stopped")
}
