package monitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/pkg/clock"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/credits"
	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/store"
	"github.com/storyloom/storyloom/test/util"
)

const testUser = "user-aaaaaaaaaa"

type monitorRig struct {
	db     *sqlx.DB
	store  *store.Store
	ledger *credits.Ledger
	clock  *clock.Fake
	mon    *Monitor
}

func newMonitorRig(t *testing.T) *monitorRig {
	db := util.SetupTestDatabase(t)
	st := store.New(db)
	ledger := credits.NewLedger(db, 10)

	cfg := &config.MonitorConfig{
		Interval:     time.Minute,
		StuckTimeout: 15 * time.Minute,
		MaxRetries:   2,
	}
	// Database rows get real now() timestamps, so the fake clock starts at
	// real time and is advanced from there.
	clk := clock.NewFake(time.Now())
	mon := New(st, ledger, cfg, 30*time.Minute, clk, slog.Default())

	return &monitorRig{db: db, store: st, ledger: ledger, clock: clk, mon: mon}
}

// startRunningJob enqueues, debits and claims a job so it looks exactly
// like one a worker picked up.
func (r *monitorRig) startRunningJob(t *testing.T) *models.Job {
	t.Helper()
	ctx := context.Background()

	job := &models.Job{
		ID:      models.NewJobID(time.Now()),
		UserKey: testUser,
		Spec: models.BookSpec{
			Topic: "a sleepy bear", Language: models.LanguageEnglish,
			TargetAge: models.Age5to7, Style: models.StyleCartoon, PageCount: 6,
		},
		Status: models.JobStatusQueued,
	}
	require.NoError(t, r.ledger.Debit(ctx, testUser, pipeline.CostPerBook, job.ID, "book generation"))
	require.NoError(t, r.store.CreateJob(ctx, job))
	claimed, err := r.store.ClaimNextQueuedJob(ctx, "pod-dead")
	require.NoError(t, err)
	return claimed
}

func (r *monitorRig) setRetryCount(t *testing.T, jobID string, n int) {
	t.Helper()
	_, err := r.db.ExecContext(context.Background(),
		`UPDATE jobs SET retry_count = $1 WHERE id = $2`, n, jobID)
	require.NoError(t, err)
}

func TestMonitor_Sweep_LeavesFreshJobsAlone(t *testing.T) {
	rig := newMonitorRig(t)
	ctx := context.Background()

	job := rig.startRunningJob(t)

	require.NoError(t, rig.mon.Sweep(ctx))

	got, err := rig.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)

	_, recovered, failed := rig.mon.Stats()
	assert.Zero(t, recovered)
	assert.Zero(t, failed)
}

func TestMonitor_Sweep_RequeuesStuckJob(t *testing.T) {
	rig := newMonitorRig(t)
	ctx := context.Background()

	job := rig.startRunningJob(t)
	rig.clock.Advance(16 * time.Minute)

	require.NoError(t, rig.mon.Sweep(ctx))

	got, err := rig.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.PodID)

	_, recovered, failed := rig.mon.Stats()
	assert.Equal(t, 1, recovered)
	assert.Zero(t, failed)

	// A requeue is a second chance, not a failure: no refund yet.
	balance, err := rig.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 9, balance)
}

func TestMonitor_Sweep_FailsExhaustedJobAndRefunds(t *testing.T) {
	rig := newMonitorRig(t)
	ctx := context.Background()

	job := rig.startRunningJob(t)
	rig.setRetryCount(t, job.ID, 2) // at MaxRetries
	rig.clock.Advance(16 * time.Minute)

	require.NoError(t, rig.mon.Sweep(ctx))

	got, err := rig.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, string(models.ErrCodeStuckTimeout), *got.ErrorCode)

	balance, err := rig.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	// A second sweep finds a terminal job and refunds nothing more.
	require.NoError(t, rig.mon.Sweep(ctx))
	balance, err = rig.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	_, _, failed := rig.mon.Stats()
	assert.Equal(t, 1, failed)
}

func TestMonitor_Sweep_FailsSLABreachedJob(t *testing.T) {
	rig := newMonitorRig(t)
	ctx := context.Background()

	// Still queued: nobody ever picked it up.
	job := &models.Job{
		ID:      models.NewJobID(time.Now()),
		UserKey: testUser,
		Spec: models.BookSpec{
			Topic: "a lost kite", Language: models.LanguageKorean,
			TargetAge: models.Age3to5, Style: models.StyleWatercolor, PageCount: 6,
		},
		Status: models.JobStatusQueued,
	}
	require.NoError(t, rig.ledger.Debit(ctx, testUser, pipeline.CostPerBook, job.ID, "book generation"))
	require.NoError(t, rig.store.CreateJob(ctx, job))

	rig.clock.Advance(31 * time.Minute) // past the 30m SLA

	require.NoError(t, rig.mon.Sweep(ctx))

	got, err := rig.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, string(models.ErrCodeSLABreach), *got.ErrorCode)

	balance, err := rig.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestMonitor_StartStop(t *testing.T) {
	rig := newMonitorRig(t)

	rig.mon.Start(context.Background())
	rig.mon.Stop()
	// Stop is idempotent.
	rig.mon.Stop()
}
