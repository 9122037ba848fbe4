package serve

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/feedbot/internal/metrics"
	"github.com/Dicklesworthstone/feedbot/internal/ratelimit"
	"github.com/Dicklesworthstone/feedbot/internal/retry"
	"github.com/Dicklesworthstone/feedbot/internal/scheduler"
	"github.com/Dicklesworthstone/feedbot/internal/state"
)

type testEnv struct {
	srv     *Server
	metrics *metrics.Store
	state   *state.Store
	budget  *ratelimit.Budget
}

func setupTestServer(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store, err := state.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		metrics: metrics.NewStore(""),
		state:   store,
		budget:  ratelimit.NewBudget(ratelimit.DefaultLimits(), ratelimit.DefaultDelays()),
	}
	cfg.Metrics = env.metrics
	cfg.State = env.state
	cfg.Budget = env.budget
	env.srv = New(cfg)
	return env
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestNew(t *testing.T) {
	srv := New(Config{})
	assert.Equal(t, 7337, srv.Port())
	assert.Equal(t, "127.0.0.1:7337", srv.Addr())

	srv = New(Config{Host: "0.0.0.0", Port: 8080})
	assert.Equal(t, "0.0.0.0:8080", srv.Addr())
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, Config{})

	rec := get(t, env.srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "healthy", body["status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := setupTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestHealthEndpointMethodNotAllowed(t *testing.T) {
	env := setupTestServer(t, Config{})

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := setupTestServer(t, Config{})
	rec := get(t, env.srv.Handler(), "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardStats_Empty(t *testing.T) {
	env := setupTestServer(t, Config{})

	rec := get(t, env.srv.Handler(), "/api/dashboard/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats DashboardStats
	decode(t, rec, &stats)
	assert.Zero(t, stats.TotalInteractions)
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.ErrorRate, "error rate stays 0 when nothing was tracked")
	assert.Len(t, stats.ActivityData, 24)
	assert.Empty(t, stats.RecentActivity)
	assert.Len(t, stats.Budget, 4)
}

func TestDashboardStats(t *testing.T) {
	env := setupTestServer(t, Config{})

	now := time.Now()
	for i := 0; i < 3; i++ {
		env.metrics.TrackAction("like", true, nil)
	}
	env.metrics.TrackAction("like", false, map[string]any{metrics.DetailErrorClass: retry.ClassRateLimit})

	_, err := env.state.RecordInteraction("ABC123", state.Interaction{Type: "like", UserID: "alice", CreatedAt: now})
	require.NoError(t, err)
	_, err = env.state.RecordInteraction("ABC123", state.Interaction{Type: "comment", Content: "Nice!", CreatedAt: now})
	require.NoError(t, err)

	stats, err := env.srv.Stats()
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalInteractions)
	assert.Equal(t, 75.0, stats.SuccessRate)
	assert.Equal(t, 25.0, stats.ErrorRate)
	assert.Equal(t, 1, stats.ActiveConversations)
	assert.Equal(t, 1, stats.ErrorData["rate_limit"])
	assert.Equal(t, 3, stats.DailyStats["likes"])

	require.Len(t, stats.ActivityData, 24)
	last := stats.ActivityData[23]
	assert.Equal(t, now.Format("15")+":00", last.Hour)
	assert.Equal(t, 2, last.Interactions)

	require.Len(t, stats.RecentActivity, 1)
	assert.Equal(t, "comment", stats.RecentActivity[0].Action)
	assert.Equal(t, "active", stats.RecentActivity[0].Status)
	assert.Equal(t, "Post: ABC123", stats.RecentActivity[0].Details)
}

func TestActivitySeries_Order(t *testing.T) {
	var hours [24]int
	hours[9] = 4
	hours[10] = 7
	now := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)

	series := activitySeries(hours, now)
	require.Len(t, series, 24)
	assert.Equal(t, "11:00", series[0].Hour)
	assert.Equal(t, HourActivity{Hour: "09:00", Interactions: 4}, series[22])
	assert.Equal(t, HourActivity{Hour: "10:00", Interactions: 7}, series[23])
}

func TestRunsEndpoint(t *testing.T) {
	env := setupTestServer(t, Config{})

	for i := 0; i < 3; i++ {
		run, err := env.state.StartRun()
		require.NoError(t, err)
		run.Processed = i
		require.NoError(t, env.state.FinishRun(run))
	}

	rec := get(t, env.srv.Handler(), "/api/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool        `json:"success"`
		Runs    []state.Run `json:"runs"`
	}
	decode(t, rec, &body)
	assert.True(t, body.Success)
	assert.Len(t, body.Runs, 2)

	rec = get(t, env.srv.Handler(), "/api/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationEndpoint(t *testing.T) {
	env := setupTestServer(t, Config{})

	_, err := env.state.RecordInteraction("XYZ", state.Interaction{Type: "like"})
	require.NoError(t, err)

	rec := get(t, env.srv.Handler(), "/api/conversations/XYZ")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Conversation state.Conversation  `json:"conversation"`
		Interactions []state.Interaction `json:"interactions"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "XYZ", body.Conversation.PostShortcode)
	assert.Len(t, body.Interactions, 1)

	rec = get(t, env.srv.Handler(), "/api/conversations/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBudgetEndpoint(t *testing.T) {
	env := setupTestServer(t, Config{Breaker: ratelimit.NewBreaker(ratelimit.DefaultBreakerConfig())})
	env.budget.LogAction("like")

	rec := get(t, env.srv.Handler(), "/api/budget")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Budget   []ratelimit.Usage         `json:"budget"`
		Breakers []ratelimit.BreakerStatus `json:"breakers"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Budget, 4)
	for _, u := range body.Budget {
		if u.Category == "like" {
			assert.Equal(t, 1, u.Daily)
		}
	}
}

func TestSchedulerEndpoint(t *testing.T) {
	env := setupTestServer(t, Config{})
	assert.Equal(t, http.StatusNotFound, get(t, env.srv.Handler(), "/api/scheduler").Code)

	sched := scheduler.New(time.Minute, func(context.Context) error { return nil })
	require.NoError(t, sched.RunOnce(context.Background()))
	env = setupTestServer(t, Config{Scheduler: sched})

	rec := get(t, env.srv.Handler(), "/api/scheduler")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Scheduler scheduler.Stats `json:"scheduler"`
	}
	decode(t, rec, &body)
	assert.EqualValues(t, 1, body.Scheduler.Runs)
}

func TestRateLimit(t *testing.T) {
	env := setupTestServer(t, Config{RequestsPerSecond: 0.001, Burst: 2})
	h := env.srv.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/api/budget").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/budget").Code)

	rec := get(t, h, "/api/budget")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code, "health is not rate limited")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := setupTestServer(t, Config{Gatherer: reg})
	metrics.NewCollector(reg, env.metrics)
	env.metrics.TrackAction("like", true, nil)

	rec := get(t, env.srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "feedbot_actions_total"))
}
