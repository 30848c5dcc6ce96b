// Package config loads, validates and exposes service configuration from
// storyloom.yaml plus environment overrides.
package config

import (
	"time"
)

// Config is the fully merged, validated service configuration.
type Config struct {
	Queue     *QueueConfig     `yaml:"queue"`
	Pipeline  *PipelineConfig  `yaml:"pipeline"`
	Admission *AdmissionConfig `yaml:"admission"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Monitor   *MonitorConfig   `yaml:"monitor"`
	Providers *ProviderConfig  `yaml:"providers"`
	Storage   *StorageConfig   `yaml:"storage"`
}

// QueueConfig controls how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the global limit of jobs being processed across
	// all replicas. Enforced by a database COUNT(*) check before claiming.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking queued jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// HeartbeatInterval is how often a worker refreshes updated_at on the
	// job it is processing. Must be well under Monitor.StuckTimeout.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout bounds the wait for active jobs on shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// PipelineConfig holds per-stage budgets for the generation pipeline.
type PipelineConfig struct {
	// LLMTimeout bounds each story drafting call, including page rewrites.
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// ModerationTimeout bounds each safety classification call. Safety
	// gates get no retries, so this is the whole gate budget.
	ModerationTimeout time.Duration `yaml:"moderation_timeout"`

	// CharacterTimeout bounds each character sheet call.
	CharacterTimeout time.Duration `yaml:"character_timeout"`

	// PromptTimeout bounds the image prompt call.
	PromptTimeout time.Duration `yaml:"prompt_timeout"`

	// ImageTimeout bounds each single image generation call.
	ImageTimeout time.Duration `yaml:"image_timeout"`

	// ImageMaxConcurrent caps in-flight image calls per job. A process-wide
	// semaphore of the same size additionally protects the provider.
	ImageMaxConcurrent int `yaml:"image_max_concurrent"`

	// ImageMaxAttempts is the total attempt budget per image (first try
	// plus retries).
	ImageMaxAttempts int `yaml:"image_max_attempts"`

	// PackageTimeout bounds the Stage H upload-and-commit step.
	PackageTimeout time.Duration `yaml:"package_timeout"`

	// SLA is the wall-clock budget for a whole job.
	SLA time.Duration `yaml:"sla"`
}

// AdmissionConfig holds the intake guardrails.
type AdmissionConfig struct {
	// DailyJobLimitPerUser rejects a user's Nth+1 job of the UTC day.
	DailyJobLimitPerUser int `yaml:"daily_job_limit_per_user"`

	// MaxPendingJobs rejects new jobs while this many are queued or
	// running system-wide. Primary backpressure signal.
	MaxPendingJobs int `yaml:"max_pending_jobs"`

	// SignupBonusCredits is granted to a user on first contact with the
	// credit ledger.
	SignupBonusCredits int `yaml:"signup_bonus_credits"`
}

// RateLimitConfig holds the per-user sliding window parameters.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// MonitorConfig controls the stuck-job sweeper.
type MonitorConfig struct {
	// Interval between sweeps.
	Interval time.Duration `yaml:"interval"`

	// StuckTimeout is how long a running job may go without a heartbeat
	// before it is requeued or failed.
	StuckTimeout time.Duration `yaml:"stuck_timeout"`

	// MaxRetries bounds monitor-driven requeues before STUCK_TIMEOUT.
	MaxRetries int `yaml:"max_retries"`
}

// ProviderConfig selects the LLM and image generation backends.
type ProviderConfig struct {
	// LLM is "gemini" or "mock".
	LLM string `yaml:"llm"`

	// LLMModel is the completion model name for the gemini provider.
	LLMModel string `yaml:"llm_model"`

	// Image is "gemini" or "mock".
	Image string `yaml:"image"`

	// ImageModel is the image model name for the gemini provider.
	ImageModel string `yaml:"image_model"`
}

// StorageConfig configures the S3-compatible object store.
type StorageConfig struct {
	// Provider is "s3" or "mock".
	Provider string `yaml:"provider"`

	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	PublicURL string `yaml:"public_url"`

	// UsePathStyle must be true for MinIO-style endpoints.
	UsePathStyle bool `yaml:"use_path_style"`
}

// Default returns the built-in configuration, used when storyloom.yaml is
// absent and as the base every loaded file is merged onto.
func Default() *Config {
	return &Config{
		Queue: &QueueConfig{
			WorkerCount:             4,
			MaxConcurrentJobs:       8,
			PollInterval:            1 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			HeartbeatInterval:       30 * time.Second,
			GracefulShutdownTimeout: 10 * time.Minute,
		},
		Pipeline: &PipelineConfig{
			LLMTimeout:         30 * time.Second,
			ModerationTimeout:  10 * time.Second,
			CharacterTimeout:   20 * time.Second,
			PromptTimeout:      30 * time.Second,
			ImageTimeout:       90 * time.Second,
			ImageMaxConcurrent: 3,
			ImageMaxAttempts:   3,
			PackageTimeout:     30 * time.Second,
			SLA:                600 * time.Second,
		},
		Admission: &AdmissionConfig{
			DailyJobLimitPerUser: 20,
			MaxPendingJobs:       100,
			SignupBonusCredits:   10,
		},
		RateLimit: &RateLimitConfig{
			Requests: 10,
			Window:   60 * time.Second,
		},
		Monitor: &MonitorConfig{
			Interval:     5 * time.Minute,
			StuckTimeout: 15 * time.Minute,
			MaxRetries:   3,
		},
		Providers: &ProviderConfig{
			LLM:        "mock",
			LLMModel:   "gemini-2.0-flash",
			Image:      "mock",
			ImageModel: "gemini-2.0-flash-exp-image-generation",
		},
		Storage: &StorageConfig{
			Provider:     "mock",
			Region:       "us-east-1",
			Bucket:       "storyloom",
			UsePathStyle: true,
		},
	}
}
