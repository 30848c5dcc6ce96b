// Package monitor implements the stuck-job sweeper: running jobs with
// stale heartbeats are requeued or failed, and jobs past the end-to-end
// SLA are failed, with the admission debit refunded either way.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storyloom/storyloom/pkg/clock"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/credits"
	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/store"
)

// Monitor periodically sweeps for stuck and SLA-breached jobs. Every pod
// runs one independently; all recovery operations are compare-and-swap
// guarded, so concurrent sweeps are harmless.
type Monitor struct {
	store  *store.Store
	ledger *credits.Ledger
	cfg    *config.MonitorConfig
	sla    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	lastSweep time.Time
	recovered int
	failed    int
}

// New creates a Monitor. sla is the wall-clock budget for a whole job.
func New(st *store.Store, ledger *credits.Ledger, cfg *config.MonitorConfig, sla time.Duration, clk clock.Clock, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:  st,
		ledger: ledger,
		cfg:    cfg,
		sla:    sla,
		clock:  clk,
		logger: logger.With("component", "monitor"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop signals the sweep loop to exit and waits for it.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("Stuck-job monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Duration("stuck_timeout", m.cfg.StuckTimeout),
		slog.Duration("sla", m.sla))

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("Sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one pass over stuck and SLA-breached jobs. Exported so tests
// and operators can trigger it directly.
func (m *Monitor) Sweep(ctx context.Context) error {
	now := m.clock.Now()
	if err := m.sweepStuck(ctx, now); err != nil {
		return err
	}
	if err := m.sweepSLA(ctx, now); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSweep = now
	m.mu.Unlock()
	return nil
}

// sweepStuck requeues running jobs with stale heartbeats, or fails them
// once the retry budget is exhausted.
func (m *Monitor) sweepStuck(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-m.cfg.StuckTimeout)
	stuck, err := m.store.ListStaleRunningJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale jobs: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	m.logger.Warn("Detected stuck jobs", slog.Int("count", len(stuck)))

	for _, job := range stuck {
		log := m.logger.With(slog.String("job_id", job.ID), slog.Int("retry_count", job.RetryCount))

		if job.RetryCount < m.cfg.MaxRetries {
			swapped, err := m.store.RequeueJob(ctx, job.ID, cutoff)
			if err != nil {
				log.Error("Failed to requeue stuck job", slog.String("error", err.Error()))
				continue
			}
			if swapped {
				m.countRecovered()
				log.Warn("Stuck job requeued")
			}
			continue
		}

		msg := fmt.Sprintf("no heartbeat for %s after %d retries", m.cfg.StuckTimeout, job.RetryCount)
		swapped, err := m.store.FailStaleJob(ctx, job.ID, cutoff, models.ErrCodeStuckTimeout, msg)
		if err != nil {
			log.Error("Failed to fail stuck job", slog.String("error", err.Error()))
			continue
		}
		if swapped {
			m.countFailed()
			m.refund(ctx, log, job)
			log.Warn("Stuck job failed", slog.String("error_code", string(models.ErrCodeStuckTimeout)))
		}
	}
	return nil
}

// sweepSLA fails any non-terminal job older than the SLA budget.
func (m *Monitor) sweepSLA(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-m.sla)
	breached, err := m.store.ListSLABreachedJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list SLA-breached jobs: %w", err)
	}

	for _, job := range breached {
		log := m.logger.With(slog.String("job_id", job.ID), slog.String("status", string(job.Status)))

		age := now.Sub(job.CreatedAt).Round(time.Second)
		msg := fmt.Sprintf("job exceeded the %s generation budget (age %s)", m.sla, age)
		swapped, err := m.store.FailSLABreachedJob(ctx, job.ID, models.ErrCodeSLABreach, msg)
		if err != nil {
			log.Error("Failed to fail SLA-breached job", slog.String("error", err.Error()))
			continue
		}
		if swapped {
			m.countFailed()
			m.refund(ctx, log, job)
			log.Warn("SLA-breached job failed", slog.Duration("age", now.Sub(job.CreatedAt)))
		}
	}
	return nil
}

// refund pays back the admission debit after this sweep won the terminal
// compare-and-swap. The fixed reason keeps the refund idempotent across
// the monitor and the worker: both writers use it, and the ledger dedupes
// on (job, reason).
func (m *Monitor) refund(ctx context.Context, log *slog.Logger, job models.Job) {
	if err := m.ledger.Refund(ctx, job.UserKey, pipeline.CostPerBook, job.ID, credits.RefundReasonJobFailed); err != nil {
		log.Error("Failed to refund failed job", slog.String("error", err.Error()))
	}
}

func (m *Monitor) countRecovered() {
	m.mu.Lock()
	m.recovered++
	m.mu.Unlock()
}

func (m *Monitor) countFailed() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

// Stats reports sweep counters for the detailed health endpoint.
func (m *Monitor) Stats() (lastSweep time.Time, recovered, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSweep, m.recovered, m.failed
}
