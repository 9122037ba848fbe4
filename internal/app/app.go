// Package app constructs the feedbot components from configuration and
// runs the feed pass the scheduler triggers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Dicklesworthstone/feedbot/internal/action"
	"github.com/Dicklesworthstone/feedbot/internal/config"
	"github.com/Dicklesworthstone/feedbot/internal/executor"
	"github.com/Dicklesworthstone/feedbot/internal/feed"
	"github.com/Dicklesworthstone/feedbot/internal/metrics"
	"github.com/Dicklesworthstone/feedbot/internal/ratelimit"
	"github.com/Dicklesworthstone/feedbot/internal/remote"
	"github.com/Dicklesworthstone/feedbot/internal/retry"
	"github.com/Dicklesworthstone/feedbot/internal/scheduler"
	"github.com/Dicklesworthstone/feedbot/internal/serve"
	"github.com/Dicklesworthstone/feedbot/internal/state"
)

// ErrNotConnected is returned by operations that need the remote client
// before Connect has been called.
var ErrNotConnected = errors.New("remote client not connected")

// App owns every long-lived component. Nothing in feedbot is global; the
// CLI builds one App and passes it around.
type App struct {
	Config    *config.Config
	Registry  *prometheus.Registry
	Metrics   *metrics.Store
	Collector *metrics.Collector
	Budget    *ratelimit.Budget
	Breaker   *ratelimit.Breaker
	Policy    *retry.Policy
	State     *state.Store

	// Set by Connect.
	Remote    *remote.Client
	Evaluator *feed.Evaluator
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler
}

// Open builds the local components: metrics, budget, breaker, retry policy
// and the conversation database. Budget windows are rehydrated from
// today's successful records.
func Open(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := metrics.Open(cfg.MetricsPath())
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if n := store.Prune(cfg.Metrics.Retention.Duration); n > 0 {
		slog.Info("pruned old metric records", "count", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(reg, store)

	budget := ratelimit.NewBudget(cfg.Limits(), cfg.Delays())
	budget.SetDefaultDelay(cfg.Pacing.Default.Duration)
	restoreBudget(budget, store)

	db, err := state.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state: %w", err)
	}
	db.SetMaxInteractions(cfg.State.MaxInteractions)

	return &App{
		Config:    cfg,
		Registry:  reg,
		Metrics:   store,
		Collector: collector,
		Budget:    budget,
		Breaker:   ratelimit.NewBreaker(cfg.BreakerSettings()),
		Policy:    retry.NewPolicy(cfg.Retry.MaxRetries, cfg.Retry.RetryDelay.Duration, store),
		State:     db,
	}, nil
}

func restoreBudget(b *ratelimit.Budget, store *metrics.Store) {
	today := b.DayStart()
	for _, c := range b.Categories() {
		ts := store.SuccessTimestamps(string(c), today)
		if len(ts) == 0 {
			continue
		}
		if err := b.Restore(c, ts); err != nil {
			slog.Warn("restoring budget failed", "category", c, "error", err)
			continue
		}
		slog.Debug("budget restored", "category", c, "actions", len(ts))
	}
}

// Connect loads credentials and builds the remote client, the feed
// evaluator, the executor and the scheduler.
func (a *App) Connect() error {
	client, err := remote.New(a.Config.RemoteOptions())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return a.ConnectWith(client)
}

// ConnectWith is Connect with an existing client.
func (a *App) ConnectWith(client *remote.Client) error {
	exec, err := executor.New(executor.Options{
		Budget:   a.Budget,
		Breaker:  a.Breaker,
		Policy:   a.Policy,
		Metrics:  a.Metrics,
		Remote:   client,
		Session:  client,
		Journal:  a.State,
		Observer: a.Collector,
	})
	if err != nil {
		return err
	}

	fc := a.Config.Feed
	a.Remote = client
	a.Executor = exec
	a.Evaluator = feed.NewEvaluator(feed.Options{
		LikeAll:         fc.LikeAll,
		LikeKeywords:    fc.LikeKeywords,
		CommentKeywords: fc.CommentKeywords,
	}, a.State, feed.TemplateResponder{Template: fc.CommentTemplate, Fallback: fc.CommentFallback})

	a.Scheduler = scheduler.New(a.Config.Scheduler.Interval.Duration, a.RunFeed)
	a.Scheduler.SetPauseCheck(a.feedPaused)
	return nil
}

// feedPaused holds the scheduler while every category the evaluator can
// propose is refused by its circuit. A pass that is only waiting on
// credentials is held back only when the cookie watcher can recover it;
// otherwise RunFeed must keep running to attempt recovery itself.
func (a *App) feedPaused() (bool, string) {
	if !a.Breaker.AllOpen(a.Evaluator.Categories()) {
		return false, ""
	}
	if a.Breaker.NeedsRecovery() {
		if !a.Config.Remote.WatchCookies {
			return false, ""
		}
		return true, "all circuits open, waiting for new cookies"
	}
	return true, "all circuits open"
}

// recoverCredentials closes circuits opened for credentials once the
// session has been refreshed and validated. It reports whether they closed.
func (a *App) recoverCredentials(ctx context.Context) bool {
	if !a.Breaker.NeedsRecovery() {
		return false
	}
	if !retry.RecoverSession(ctx, a.Remote) {
		return false
	}
	a.Breaker.MarkRecovered()
	return true
}

// RunFeed performs one feed pass: fetch, evaluate, execute, persist. The
// pass is recorded as a run in the state database.
func (a *App) RunFeed(ctx context.Context) (err error) {
	if a.Executor == nil {
		return ErrNotConnected
	}

	run, err := a.State.StartRun()
	if err != nil {
		return err
	}
	log := slog.With("run", run.ID)
	defer func() {
		if err != nil {
			run.Error = err.Error()
		}
		if ferr := a.State.FinishRun(run); ferr != nil {
			log.Error("recording run failed", "error", ferr)
		}
	}()

	a.recoverCredentials(ctx)

	posts, err := a.Remote.FetchFeed(ctx, a.Config.Feed.MaxPosts)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}

	evals, err := a.Evaluator.Evaluate(ctx, posts)
	if err != nil {
		return fmt.Errorf("evaluate feed: %w", err)
	}

	reports := a.Executor.Process(ctx, feed.Candidates(evals))
	a.recordContent(posts, reports)

	s := executor.Summarize(reports)
	run.Processed = s.Processed
	run.Executed = s.Executed
	run.Skipped = s.Skipped
	run.Failed = s.Failed

	log.Info("feed pass finished",
		"posts", len(posts),
		"candidates", s.Processed,
		"executed", s.Executed,
		"skipped", s.Skipped,
		"failed", s.Failed,
	)
	return ctx.Err()
}

// recordContent stores the caption of every post that was engaged.
func (a *App) recordContent(posts []feed.Post, reports []executor.Report) {
	captions := make(map[string]string, len(posts))
	for _, p := range posts {
		captions[p.Shortcode] = p.Caption
	}
	for _, r := range reports {
		if !r.Success {
			continue
		}
		switch r.Candidate.Category {
		case action.Like, action.Comment:
		default:
			continue
		}
		if _, err := a.State.UpsertConversation(r.Candidate.Target, captions[r.Candidate.Target]); err != nil {
			slog.Warn("storing post content failed", "post", r.Candidate.Target, "error", err)
		}
	}
}

// Server builds the dashboard server over the app's components.
func (a *App) Server() *serve.Server {
	return serve.New(serve.Config{
		Host:              a.Config.Serve.Host,
		Port:              a.Config.Serve.Port,
		Metrics:           a.Metrics,
		State:             a.State,
		Budget:            a.Budget,
		Breaker:           a.Breaker,
		Scheduler:         a.Scheduler,
		Gatherer:          a.Registry,
		RequestsPerSecond: a.Config.Serve.RequestsPerSecond,
		Burst:             a.Config.Serve.Burst,
	})
}

// CookieWatcher returns a watcher that reloads credentials into the
// connected client, or nil when watching is disabled. A successful reload
// also recovers circuits opened for credentials.
func (a *App) CookieWatcher() *remote.CookieWatcher {
	if a.Remote == nil || !a.Config.Remote.WatchCookies {
		return nil
	}
	w := remote.NewCookieWatcher(a.Config.CookiesPath(), a.Remote)
	w.OnReload(func(ctx context.Context, err error) {
		if err == nil && a.recoverCredentials(ctx) {
			slog.Info("credentials recovered from updated cookie file")
		}
	})
	return w
}

// Close saves metrics and closes the database.
func (a *App) Close() error {
	var errs []error
	if err := a.Metrics.Save(); err != nil {
		errs = append(errs, fmt.Errorf("save metrics: %w", err))
	}
	if err := a.State.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state: %w", err))
	}
	return errors.Join(errs...)
}
