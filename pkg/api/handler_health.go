package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storyloom/storyloom/pkg/database"
	"github.com/storyloom/storyloom/pkg/models"
)

// Health handles GET /health: a cheap liveness probe backed by a database
// ping.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.store.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}

// DetailedHealth handles GET /health/detailed: pool, queue, monitor and
// dependency state for operators, plus the effective tuning knobs.
func (s *Server) DetailedHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	poolHealth := s.pool.Health()
	lastSweep, recovered, failed := s.monitor.Stats()

	now := time.Now()
	jobs, err := s.jobCounts(ctx, now)
	if err != nil {
		s.respondError(c, err)
		return
	}

	dbStatus := "ok"
	if _, err := database.Health(ctx, s.store.DB()); err != nil {
		dbStatus = "unreachable"
	}

	status := http.StatusOK
	if !poolHealth.IsHealthy || dbStatus != "ok" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"pool": poolHealth,
		"monitor": gin.H{
			"last_sweep":     lastSweep,
			"jobs_recovered": recovered,
			"jobs_failed":    failed,
		},
		"jobs": jobs,
		"services": gin.H{
			"database":       dbStatus,
			"llm_provider":   s.cfg.Providers.LLM,
			"image_provider": s.cfg.Providers.Image,
			"storage":        s.cfg.Storage.Provider,
		},
		"config": gin.H{
			"worker_count":             s.cfg.Queue.WorkerCount,
			"max_concurrent_jobs":      s.cfg.Queue.MaxConcurrentJobs,
			"image_max_concurrent":     s.cfg.Pipeline.ImageMaxConcurrent,
			"daily_job_limit_per_user": s.cfg.Admission.DailyJobLimitPerUser,
			"max_pending_jobs":         s.cfg.Admission.MaxPendingJobs,
			"sla":                      s.cfg.Pipeline.SLA.String(),
			"stuck_timeout":            s.cfg.Monitor.StuckTimeout.String(),
		},
	})
}

// jobCounts assembles the queue-depth and recent-outcome numbers for the
// detailed health report.
func (s *Server) jobCounts(ctx context.Context, now time.Time) (gin.H, error) {
	queued, err := s.store.CountJobsByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return nil, err
	}
	running, err := s.store.CountJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	stuck, err := s.store.CountStuckRunningJobs(ctx, now.Add(-s.cfg.Monitor.StuckTimeout))
	if err != nil {
		return nil, err
	}
	hourAgo := now.Add(-time.Hour)
	completed, err := s.store.CountJobsByStatusSince(ctx, models.JobStatusDone, hourAgo)
	if err != nil {
		return nil, err
	}
	failedRecently, err := s.store.CountJobsByStatusSince(ctx, models.JobStatusFailed, hourAgo)
	if err != nil {
		return nil, err
	}

	// A quiet hour reads as fully successful.
	successRate := 1.0
	if completed+failedRecently > 0 {
		successRate = float64(completed) / float64(completed+failedRecently)
	}

	return gin.H{
		"queued":              queued,
		"running":             running,
		"stuck":               stuck,
		"completed_last_hour": completed,
		"failed_last_hour":    failedRecently,
		"success_rate":        successRate,
	}, nil
}
