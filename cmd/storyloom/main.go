// Storyloom server — provides the HTTP API, manages queue workers and
// orchestrates illustrated storybook generation.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/storyloom/storyloom/pkg/admission"
	"github.com/storyloom/storyloom/pkg/api"
	"github.com/storyloom/storyloom/pkg/clock"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/credits"
	"github.com/storyloom/storyloom/pkg/database"
	"github.com/storyloom/storyloom/pkg/imagegen"
	"github.com/storyloom/storyloom/pkg/llm"
	"github.com/storyloom/storyloom/pkg/moderation"
	"github.com/storyloom/storyloom/pkg/monitor"
	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/queue"
	"github.com/storyloom/storyloom/pkg/ratelimit"
	"github.com/storyloom/storyloom/pkg/storage"
	"github.com/storyloom/storyloom/pkg/store"
	"github.com/storyloom/storyloom/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

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
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()

	slog.Info("Starting storyloom",
		"version", version.Version,
		"http_port", httpPort,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())
	ledger := credits.NewLedger(dbClient.DB(), cfg.Admission.SignupBonusCredits)
	clk := clock.Real{}

	// 3. Redis-backed rate limiter
	rdb := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})
	defer func() { _ = rdb.Close() }()
	limiter := ratelimit.New(rdb, clk, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger)

	// 4. Providers
	llmClient, err := buildLLMClient(ctx, cfg.Providers)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	imageClient, err := buildImageClient(ctx, cfg.Providers)
	if err != nil {
		slog.Error("Failed to initialize image client", "error", err)
		os.Exit(1)
	}
	objectStore, err := buildObjectStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize object storage", "error", err)
		os.Exit(1)
	}
	slog.Info("Providers initialized",
		"llm", cfg.Providers.LLM,
		"image", cfg.Providers.Image,
		"storage", cfg.Storage.Provider)

	// 5. Pipeline orchestrator
	moderator := moderation.New(llmClient)
	orchestrator := pipeline.New(st, ledger, llmClient, imageClient, moderator, objectStore, cfg.Pipeline, clk, logger)

	// 6. Worker pool (before the HTTP server takes traffic)
	workerPool := queue.NewWorkerPool(podID, st, cfg.Queue, cfg.Pipeline.SLA, orchestrator)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 7. Stuck-job monitor
	mon := monitor.New(st, ledger, cfg.Monitor, cfg.Pipeline.SLA, clk, logger)
	mon.Start(ctx)

	// 8. HTTP server
	adm := admission.New(st, ledger, limiter, cfg.Admission, clk, logger)
	apiServer := api.NewServer(st, ledger, adm, workerPool, mon, cfg, logger)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Storyloom started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: workers drain before the HTTP server closes.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	mon.Stop()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete jobs will be monitor-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func buildLLMClient(ctx context.Context, cfg *config.ProviderConfig) (llm.Client, error) {
	if cfg.LLM == "gemini" {
		return llm.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), cfg.LLMModel)
	}
	return llm.NewMock(), nil
}

func buildImageClient(ctx context.Context, cfg *config.ProviderConfig) (imagegen.Client, error) {
	if cfg.Image == "gemini" {
		return imagegen.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), cfg.ImageModel)
	}
	return imagegen.NewMock(), nil
}

func buildObjectStore(ctx context.Context, cfg *config.StorageConfig) (storage.Store, error) {
	if cfg.Provider == "s3" {
		return storage.NewS3Store(ctx, *cfg)
	}
	return storage.NewMock(), nil
}
