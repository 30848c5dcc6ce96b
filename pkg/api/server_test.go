package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/pkg/admission"
	"github.com/storyloom/storyloom/pkg/clock"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/credits"
	"github.com/storyloom/storyloom/pkg/monitor"
	"github.com/storyloom/storyloom/pkg/queue"
	"github.com/storyloom/storyloom/pkg/ratelimit"
	"github.com/storyloom/storyloom/pkg/store"
	"github.com/storyloom/storyloom/test/util"
)

const testUser = "user-aaaaaaaaaa"

type apiRig struct {
	router *gin.Engine
	clock  *clock.Fake
	store  *store.Store
}

func newAPIRig(t *testing.T, admCfg *config.AdmissionConfig, rateLimit int) *apiRig {
	gin.SetMode(gin.TestMode)

	db := util.SetupTestDatabase(t)
	st := store.New(db)
	ledger := credits.NewLedger(db, admCfg.SignupBonusCredits)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewFake(time.Now())
	limiter := ratelimit.New(rdb, clk, rateLimit, time.Minute, slog.Default())
	adm := admission.New(st, ledger, limiter, admCfg, clk, slog.Default())

	cfg := config.Default()
	cfg.Admission = admCfg
	cfg.Queue = &config.QueueConfig{WorkerCount: 1, MaxConcurrentJobs: 1, PollInterval: time.Second, HeartbeatInterval: time.Second}
	cfg.Monitor = &config.MonitorConfig{Interval: time.Minute, StuckTimeout: 15 * time.Minute, MaxRetries: 3}

	// Pool and monitor are wired but never started: handler tests drive
	// the queue through the store directly.
	pool := queue.NewWorkerPool("pod-test", st, cfg.Queue, time.Minute, nil)
	mon := monitor.New(st, ledger, cfg.Monitor, 30*time.Minute, clk, slog.Default())

	server := NewServer(st, ledger, adm, pool, mon, cfg, slog.Default())
	return &apiRig{router: server.Router(), clock: clk, store: st}
}

func defaultAPIRig(t *testing.T) *apiRig {
	return newAPIRig(t, &config.AdmissionConfig{
		DailyJobLimitPerUser: 20,
		MaxPendingJobs:       100,
		SignupBonusCredits:   10,
	}, 100)
}

func (r *apiRig) do(t *testing.T, method, path, userKey string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userKey != "" {
		req.Header.Set("X-User-Key", userKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func validBookBody() map[string]any {
	return map[string]any{
		"topic":      "a curious otter",
		"target_age": "5-7",
		"style":      "cartoon",
		"language":   "en",
		"page_count": 6,
	}
}

func TestRequireUserKey(t *testing.T) {
	rig := defaultAPIRig(t)

	rec := rig.do(t, http.MethodGet, "/v1/library", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = rig.do(t, http.MethodGet, "/v1/library", "short", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = rig.do(t, http.MethodGet, "/v1/library", testUser, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	rig := defaultAPIRig(t)

	rec := rig.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestDetailedHealth(t *testing.T) {
	rig := defaultAPIRig(t)
	ctx := context.Background()

	// One job taken all the way to done, so the last-hour window has data.
	created := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), nil)
	require.Equal(t, http.StatusAccepted, created.Code)
	jobID := decode(t, created)["job_id"].(string)

	_, err := rig.store.ClaimNextQueuedJob(ctx, "pod-test")
	require.NoError(t, err)
	require.NoError(t, rig.store.MarkJobDone(ctx, jobID))

	rec := rig.do(t, http.MethodGet, "/health/detailed", "", nil, nil)
	// The pool was never started, which the report surfaces as a 503.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)

	jobs, ok := body["jobs"].(map[string]any)
	require.True(t, ok, "body: %s", rec.Body.String())
	assert.Equal(t, float64(0), jobs["queued"])
	assert.Equal(t, float64(0), jobs["running"])
	assert.Equal(t, float64(0), jobs["stuck"])
	assert.Equal(t, float64(1), jobs["completed_last_hour"])
	assert.Equal(t, float64(0), jobs["failed_last_hour"])
	assert.Equal(t, float64(1), jobs["success_rate"])

	services, ok := body["services"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "mock", services["llm_provider"])
	assert.Equal(t, "mock", services["image_provider"])
	assert.Equal(t, "mock", services["storage"])

	knobs, ok := body["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), knobs["worker_count"])
	assert.Equal(t, float64(1), knobs["max_concurrent_jobs"])
	assert.Equal(t, "10m0s", knobs["sla"])
	assert.Equal(t, "15m0s", knobs["stuck_timeout"])
}

func TestCreateBook(t *testing.T) {
	rig := defaultAPIRig(t)

	t.Run("queues a job", func(t *testing.T) {
		rec := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), nil)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		body := decode(t, rec)
		assert.NotEmpty(t, body["job_id"])
		assert.Equal(t, "queued", body["status"])
		assert.Equal(t, float64(0), body["progress"])
	})

	t.Run("missing required fields", func(t *testing.T) {
		rec := rig.do(t, http.MethodPost, "/v1/books", testUser, map[string]any{"topic": "x"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid enum value", func(t *testing.T) {
		body := validBookBody()
		body["style"] = "crayon-on-napkin"
		rec := rig.do(t, http.MethodPost, "/v1/books", testUser, body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "style")
	})

	t.Run("idempotency replay returns 200", func(t *testing.T) {
		rig.clock.Advance(time.Second)
		headers := map[string]string{"Idempotency-Key": "retry-xyz789"}

		first := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), headers)
		require.Equal(t, http.StatusAccepted, first.Code)

		rig.clock.Advance(time.Second)
		second := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), headers)
		require.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, decode(t, first)["job_id"], decode(t, second)["job_id"])
	})
}

func TestCreateBook_RateLimited(t *testing.T) {
	rig := newAPIRig(t, &config.AdmissionConfig{
		DailyJobLimitPerUser: 20,
		MaxPendingJobs:       100,
		SignupBonusCredits:   10,
	}, 1)

	rec := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rig.clock.Advance(time.Second)
	rec = rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode(t, rec)["error_code"])
}

func TestCreateBook_NoCredits(t *testing.T) {
	rig := newAPIRig(t, &config.AdmissionConfig{
		DailyJobLimitPerUser: 20,
		MaxPendingJobs:       100,
		SignupBonusCredits:   0,
	}, 100)

	rec := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "NO_CREDITS", decode(t, rec)["error_code"])
}

func TestGetJob(t *testing.T) {
	rig := defaultAPIRig(t)

	created := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), nil)
	require.Equal(t, http.StatusAccepted, created.Code)
	jobID := decode(t, created)["job_id"].(string)

	t.Run("owner can read", func(t *testing.T) {
		rec := rig.do(t, http.MethodGet, "/v1/books/"+jobID, testUser, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, jobID, body["job_id"])
		assert.Equal(t, "queued", body["status"])
	})

	t.Run("other users see 404", func(t *testing.T) {
		rec := rig.do(t, http.MethodGet, "/v1/books/"+jobID, "user-bbbbbbbbbb", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := rig.do(t, http.MethodGet, "/v1/books/job_00000000_000000_deadbeef", testUser, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLibrary_EmptyIsAnEmptyList(t *testing.T) {
	rig := defaultAPIRig(t)

	rec := rig.do(t, http.MethodGet, "/v1/library", testUser, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"books":[]}`, rec.Body.String())
}

func TestRegeneratePage_Validation(t *testing.T) {
	rig := defaultAPIRig(t)

	t.Run("bad target", func(t *testing.T) {
		rec := rig.do(t, http.MethodPost, "/v1/books/book_x/pages/1/regenerate", testUser,
			map[string]any{"target": "everything"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad page number", func(t *testing.T) {
		rec := rig.do(t, http.MethodPost, "/v1/books/book_x/pages/0/regenerate", testUser,
			map[string]any{"target": "text"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown book", func(t *testing.T) {
		rec := rig.do(t, http.MethodPost, "/v1/books/book_00000000_000000_deadbeef/pages/1/regenerate", testUser,
			map[string]any{"target": "both"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCharacters(t *testing.T) {
	rig := defaultAPIRig(t)

	create := map[string]any{
		"name":               "Mila",
		"master_description": "a curious little fox with a red scarf",
		"appearance":         map[string]string{"fur": "orange"},
		"personality_traits": []string{"curious", "kind"},
	}

	rec := rig.do(t, http.MethodPost, "/v1/characters", testUser, create, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	charID := created["character_id"].(string)
	assert.Equal(t, "Mila", created["name"])

	t.Run("overlong name rejected", func(t *testing.T) {
		bad := map[string]any{
			"name":               "an exceedingly long character name well past forty characters",
			"master_description": "x",
		}
		rec := rig.do(t, http.MethodPost, "/v1/characters", testUser, bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := rig.do(t, http.MethodGet, "/v1/characters", testUser, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Len(t, body["characters"], 1)
	})

	t.Run("get", func(t *testing.T) {
		rec := rig.do(t, http.MethodGet, "/v1/characters/"+charID, testUser, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, map[string]any{"fur": "orange"}, body["appearance"])
	})

	t.Run("other users cannot see it", func(t *testing.T) {
		rec := rig.do(t, http.MethodGet, "/v1/characters/"+charID, "user-bbbbbbbbbb", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := rig.do(t, http.MethodDelete, "/v1/characters/"+charID, testUser, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = rig.do(t, http.MethodGet, "/v1/characters/"+charID, testUser, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCredits(t *testing.T) {
	rig := defaultAPIRig(t)

	rec := rig.do(t, http.MethodGet, "/v1/credits", testUser, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(10), body["balance"])
	assert.Equal(t, float64(0), body["total_used"])

	created := rig.do(t, http.MethodPost, "/v1/books", testUser, validBookBody(), nil)
	require.Equal(t, http.StatusAccepted, created.Code)

	rec = rig.do(t, http.MethodGet, "/v1/credits", testUser, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(9), decode(t, rec)["balance"])

	rec = rig.do(t, http.MethodGet, "/v1/credits/transactions?limit=10", testUser, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode(t, rec)["transactions"].([]any)
	require.Len(t, txs, 2)
	newest := txs[0].(map[string]any)
	assert.Equal(t, "debit", newest["type"])
	assert.Equal(t, float64(-1), newest["amount"])
}

func TestUnknownRoute(t *testing.T) {
	rig := defaultAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/v1/nope", testUser, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
