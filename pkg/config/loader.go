package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Overlay storyloom.yaml from configDir (if present)
//  3. Validate the merged result
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := Default()

	path := filepath.Join(configDir, "storyloom.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("No storyloom.yaml found, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Info("Loaded configuration file", "path", path)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate rejects configurations that would violate pipeline or monitor
// contracts.
func validate(cfg *Config) error {
	if cfg.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be >= 1, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Queue.MaxConcurrentJobs < cfg.Queue.WorkerCount {
		return fmt.Errorf("queue.max_concurrent_jobs (%d) must be >= worker_count (%d)",
			cfg.Queue.MaxConcurrentJobs, cfg.Queue.WorkerCount)
	}
	if cfg.Queue.HeartbeatInterval >= cfg.Monitor.StuckTimeout {
		return fmt.Errorf("queue.heartbeat_interval (%v) must be shorter than monitor.stuck_timeout (%v)",
			cfg.Queue.HeartbeatInterval, cfg.Monitor.StuckTimeout)
	}
	if cfg.Pipeline.LLMTimeout <= 0 || cfg.Pipeline.ModerationTimeout <= 0 ||
		cfg.Pipeline.CharacterTimeout <= 0 || cfg.Pipeline.PromptTimeout <= 0 ||
		cfg.Pipeline.ImageTimeout <= 0 || cfg.Pipeline.PackageTimeout <= 0 {
		return fmt.Errorf("pipeline stage timeouts must all be positive")
	}
	if cfg.Pipeline.ImageMaxConcurrent < 1 {
		return fmt.Errorf("pipeline.image_max_concurrent must be >= 1, got %d", cfg.Pipeline.ImageMaxConcurrent)
	}
	if cfg.Pipeline.ImageMaxAttempts < 1 {
		return fmt.Errorf("pipeline.image_max_attempts must be >= 1, got %d", cfg.Pipeline.ImageMaxAttempts)
	}
	if cfg.Pipeline.SLA <= 0 {
		return fmt.Errorf("pipeline.sla must be positive, got %v", cfg.Pipeline.SLA)
	}
	if cfg.Admission.MaxPendingJobs < 1 {
		return fmt.Errorf("admission.max_pending_jobs must be >= 1, got %d", cfg.Admission.MaxPendingJobs)
	}
	if cfg.RateLimit.Requests < 1 || cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit requires requests >= 1 and a positive window")
	}
	if cfg.Monitor.MaxRetries < 0 {
		return fmt.Errorf("monitor.max_retries must be >= 0, got %d", cfg.Monitor.MaxRetries)
	}
	switch cfg.Providers.LLM {
	case "gemini", "mock":
	default:
		return fmt.Errorf("unknown llm provider: %q", cfg.Providers.LLM)
	}
	switch cfg.Providers.Image {
	case "gemini", "mock":
	default:
		return fmt.Errorf("unknown image provider: %q", cfg.Providers.Image)
	}
	switch cfg.Storage.Provider {
	case "s3", "mock":
	default:
		return fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
	}
	return nil
}
