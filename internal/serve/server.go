// Package serve provides the read-only dashboard API for feedbot.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/Dicklesworthstone/feedbot/internal/metrics"
	"github.com/Dicklesworthstone/feedbot/internal/ratelimit"
	"github.com/Dicklesworthstone/feedbot/internal/scheduler"
	"github.com/Dicklesworthstone/feedbot/internal/state"
)

// Server provides the HTTP dashboard API.
type Server struct {
	host      string
	port      int
	metrics   *metrics.Store
	state     *state.Store
	budget    *ratelimit.Budget
	breaker   *ratelimit.Breaker
	scheduler *scheduler.Scheduler
	gatherer  prometheus.Gatherer
	limiter   *rate.Limiter
	server    *http.Server

	nowFn func() time.Time
}

// Config holds server configuration.
type Config struct {
	Host      string
	Port      int
	Metrics   *metrics.Store
	State     *state.Store
	Budget    *ratelimit.Budget
	Breaker   *ratelimit.Breaker
	Scheduler *scheduler.Scheduler
	Gatherer  prometheus.Gatherer

	// RequestsPerSecond and Burst bound /api traffic; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

const (
	defaultPort = 7337

	recentActivityLimit = 50
	defaultRunsLimit    = 20
	maxRunsLimit        = 200
)

const requestIDHeader = "X-Request-Id"

type ctxKey string

const requestIDKey ctxKey = "request_id"

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.RequestsPerSecond > 0 && cfg.Burst <= 0 {
		cfg.Burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
}

// New creates a Server.
func New(cfg Config) *Server {
	applyDefaults(&cfg)
	s := &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		metrics:   cfg.Metrics,
		state:     cfg.State,
		budget:    cfg.Budget,
		breaker:   cfg.Breaker,
		scheduler: cfg.Scheduler,
		gatherer:  cfg.Gatherer,
		nowFn:     time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Get("/dashboard/stats", s.handleDashboardStats)
		r.Get("/budget", s.handleBudget)
		r.Get("/runs", s.handleRuns)
		r.Get("/conversations/{shortcode}", s.handleConversation)
		r.Get("/scheduler", s.handleScheduler)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting dashboard server", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

// rateLimitMiddleware rejects requests beyond the configured rate with 429.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encoding JSON response", "error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "healthy",
		"time":    s.nowFn().UTC().Format(time.RFC3339),
	})
}

// HourActivity is one bar of the activity histogram.
type HourActivity struct {
	Hour         string `json:"hour"`
	Interactions int    `json:"interactions"`
}

// ActivityEntry is one row of the recent activity list.
type ActivityEntry struct {
	Time    string `json:"time"`
	Action  string `json:"action"`
	Status  string `json:"status"`
	Details string `json:"details"`
}

// DashboardStats is the payload of /api/dashboard/stats.
type DashboardStats struct {
	TotalInteractions   int                       `json:"total_interactions"`
	SuccessRate         float64                   `json:"success_rate"`
	ErrorRate           float64                   `json:"error_rate"`
	ActiveConversations int                       `json:"active_conversations"`
	ActivityData        []HourActivity            `json:"activity_data"`
	ErrorData           map[string]int            `json:"error_data"`
	RecentActivity      []ActivityEntry           `json:"recent_activity"`
	DailyStats          map[string]int            `json:"daily_stats"`
	Budget              []ratelimit.Usage         `json:"budget,omitempty"`
	Breakers            []ratelimit.BreakerStatus `json:"breakers,omitempty"`
}

// Stats assembles the dashboard payload.
func (s *Server) Stats() (*DashboardStats, error) {
	now := s.nowFn()
	out := &DashboardStats{
		ActivityData:   []HourActivity{},
		ErrorData:      map[string]int{},
		RecentActivity: []ActivityEntry{},
		DailyStats:     map[string]int{},
	}

	if s.metrics != nil {
		success := s.metrics.SuccessRate("")
		out.SuccessRate = round2(success)
		if success > 0 {
			out.ErrorRate = round2(100 - success)
		}
		out.ErrorData = s.metrics.ErrorDistribution()
		out.DailyStats = s.metrics.DailyStats()
	}

	if s.state != nil {
		var err error
		if out.TotalInteractions, err = s.state.TotalInteractions(); err != nil {
			return nil, err
		}
		y, m, d := now.Date()
		today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		if out.ActiveConversations, err = s.state.ActiveConversationsSince(today); err != nil {
			return nil, err
		}

		hours, err := s.state.HourlyActivity(now.Add(-24 * time.Hour))
		if err != nil {
			return nil, err
		}
		out.ActivityData = activitySeries(hours, now)

		convs, err := s.state.RecentConversations(recentActivityLimit)
		if err != nil {
			return nil, err
		}
		for _, c := range convs {
			status := "active"
			if !c.IsActive {
				status = "closed"
			}
			out.RecentActivity = append(out.RecentActivity, ActivityEntry{
				Time:    c.LastInteraction.In(now.Location()).Format("15:04:05"),
				Action:  c.LastAction,
				Status:  status,
				Details: "Post: " + c.PostShortcode,
			})
		}
	}

	if s.budget != nil {
		out.Budget = s.budget.Snapshot()
	}
	if s.breaker != nil {
		out.Breakers = s.breaker.StatusAll()
	}
	return out, nil
}

// activitySeries orders the per-hour counts chronologically, ending with
// the current hour.
func activitySeries(hours [24]int, now time.Time) []HourActivity {
	out := make([]HourActivity, 0, 24)
	for i := 23; i >= 0; i-- {
		h := now.Add(-time.Duration(i) * time.Hour).Hour()
		out = append(out, HourActivity{
			Hour:         fmt.Sprintf("%02d:00", h),
			Interactions: hours[h],
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats()
	if err != nil {
		slog.Error("dashboard stats", "error", err, "request_id", requestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"success": true}
	if s.budget != nil {
		resp["budget"] = s.budget.Snapshot()
	}
	if s.breaker != nil {
		resp["breakers"] = s.breaker.StatusAll()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.state == nil {
		writeError(w, http.StatusServiceUnavailable, "state store not available")
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.state.RecentRuns(limit)
	if err != nil {
		slog.Error("list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []state.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"runs":    runs,
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.state == nil {
		writeError(w, http.StatusServiceUnavailable, "state store not available")
		return
	}

	shortcode := chi.URLParam(r, "shortcode")
	conv, err := s.state.GetConversation(shortcode)
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		slog.Error("get conversation", "error", err, "shortcode", shortcode)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	interactions, err := s.state.Interactions(shortcode)
	if err != nil {
		slog.Error("list interactions", "error", err, "shortcode", shortcode)
		writeError(w, http.StatusInternalServerError, "failed to load interactions")
		return
	}
	if interactions == nil {
		interactions = []state.Interaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"conversation": conv,
		"interactions": interactions,
	})
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"scheduler": s.scheduler.Stats(),
	})
}
