package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/store"
	"github.com/storyloom/storyloom/test/util"
)

// markDoneExecutor finishes every job immediately, recording what it saw.
type markDoneExecutor struct {
	store *store.Store
	seen  chan string
}

func (e *markDoneExecutor) Execute(ctx context.Context, job *models.Job) error {
	if err := e.store.MarkJobDone(ctx, job.ID); err != nil {
		return err
	}
	e.seen <- job.ID
	return nil
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             2,
		MaxConcurrentJobs:       4,
		PollInterval:            20 * time.Millisecond,
		PollIntervalJitter:      10 * time.Millisecond,
		HeartbeatInterval:       50 * time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
}

func enqueueJob(t *testing.T, st *store.Store) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:      models.NewJobID(time.Now()),
		UserKey: "user-aaaaaaaaaa",
		Spec: models.BookSpec{
			Topic: "a tiny robot", Language: models.LanguageEnglish,
			TargetAge: models.Age5to7, Style: models.Style3D, PageCount: 6,
		},
		Status: models.JobStatusQueued,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func TestWorkerPool_ProcessesQueuedJobs(t *testing.T) {
	st := store.New(util.SetupTestDatabase(t))
	executor := &markDoneExecutor{store: st, seen: make(chan string, 10)}

	first := enqueueJob(t, st)
	second := enqueueJob(t, st)

	pool := NewWorkerPool("pod-test", st, testQueueConfig(), time.Minute, executor)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	processed := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-executor.seen:
			processed[id] = true
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for jobs to be processed")
		}
	}
	assert.True(t, processed[first.ID])
	assert.True(t, processed[second.ID])

	require.Eventually(t, func() bool {
		job, err := st.GetJob(context.Background(), first.ID)
		return err == nil && job.Status == models.JobStatusDone
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWorkerPool_StartRecoversOwnOrphans(t *testing.T) {
	st := store.New(util.SetupTestDatabase(t))
	executor := &markDoneExecutor{store: st, seen: make(chan string, 10)}

	// A job this pod was running when it last died.
	orphan := enqueueJob(t, st)
	_, err := st.ClaimNextQueuedJob(context.Background(), "pod-test")
	require.NoError(t, err)

	pool := NewWorkerPool("pod-test", st, testQueueConfig(), time.Minute, executor)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	select {
	case id := <-executor.seen:
		assert.Equal(t, orphan.ID, id)
	case <-time.After(10 * time.Second):
		t.Fatal("orphaned job was never recovered and processed")
	}
}

func TestWorkerPool_StartIsIdempotent(t *testing.T) {
	st := store.New(util.SetupTestDatabase(t))
	executor := &markDoneExecutor{store: st, seen: make(chan string, 10)}

	pool := NewWorkerPool("pod-test", st, testQueueConfig(), time.Minute, executor)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	assert.Len(t, pool.workers, testQueueConfig().WorkerCount)
}

func TestWorkerPool_Health(t *testing.T) {
	st := store.New(util.SetupTestDatabase(t))
	executor := &markDoneExecutor{store: st, seen: make(chan string, 10)}

	pool := NewWorkerPool("pod-test", st, testQueueConfig(), time.Minute, executor)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	health := pool.Health()
	assert.True(t, health.IsHealthy)
	assert.True(t, health.DBReachable)
	assert.Equal(t, "pod-test", health.PodID)
	assert.Equal(t, 2, health.TotalWorkers)
	assert.Len(t, health.WorkerStats, 2)
}

func TestWorkerPool_CancelJob(t *testing.T) {
	st := store.New(util.SetupTestDatabase(t))
	pool := NewWorkerPool("pod-test", st, testQueueConfig(), time.Minute, nil)

	assert.False(t, pool.CancelJob("job_unknown"))

	cancelled := false
	pool.RegisterJob("job_x", func() { cancelled = true })
	assert.True(t, pool.CancelJob("job_x"))
	assert.True(t, cancelled)

	pool.UnregisterJob("job_x")
	assert.False(t, pool.CancelJob("job_x"))
}

func TestWorker_PollIntervalJitterBounds(t *testing.T) {
	cfg := testQueueConfig()
	w := &Worker{config: cfg}

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, cfg.PollInterval-cfg.PollIntervalJitter)
		assert.LessOrEqual(t, d, cfg.PollInterval+cfg.PollIntervalJitter)
	}
}

func TestWorker_PollIntervalWithoutJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollIntervalJitter = 0
	w := &Worker{config: cfg}
	assert.Equal(t, cfg.PollInterval, w.pollInterval())
}
