package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/feedbot/internal/action"
	"github.com/Dicklesworthstone/feedbot/internal/metrics"
	"github.com/Dicklesworthstone/feedbot/internal/ratelimit"
	"github.com/Dicklesworthstone/feedbot/internal/retry"
	"github.com/Dicklesworthstone/feedbot/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type call struct {
	Category action.Category
	Target   string
	Payload  map[string]string
}

// fakeRemote answers calls from a script; the last entry repeats.
type fakeRemote struct {
	calls  []call
	script []func() (action.Result, error)
}

func (r *fakeRemote) Perform(_ context.Context, c action.Category, target string, payload map[string]string) (action.Result, error) {
	r.calls = append(r.calls, call{c, target, payload})
	if len(r.script) == 0 {
		return action.Result{Fields: map[string]any{"status": "ok"}}, nil
	}
	i := len(r.calls) - 1
	if i >= len(r.script) {
		i = len(r.script) - 1
	}
	return r.script[i]()
}

func ok() (action.Result, error) {
	return action.Result{Fields: map[string]any{"status": "ok"}}, nil
}

func status(code int) func() (action.Result, error) {
	return func() (action.Result, error) {
		return action.Result{}, &retry.RemoteError{Op: "test", StatusCode: code}
	}
}

type fakeSession struct {
	refreshErr error
	healthy    bool
	refreshes  int
}

func (s *fakeSession) RefreshCredentials(context.Context) error {
	s.refreshes++
	return s.refreshErr
}

func (s *fakeSession) TestConnection(context.Context) (bool, error) {
	return s.healthy, nil
}

type fakeJournal struct {
	recorded []state.Interaction
	targets  []string
}

func (j *fakeJournal) RecordInteraction(shortcode string, in state.Interaction) (*state.Conversation, error) {
	j.targets = append(j.targets, shortcode)
	j.recorded = append(j.recorded, in)
	return &state.Conversation{PostShortcode: shortcode}, nil
}

type fakeObserver struct {
	daily map[string]int
}

func (o *fakeObserver) ObserveBudget(category string, daily, hourly int) {
	o.daily[category] = daily
}

type harness struct {
	exec     *Executor
	clock    *fakeClock
	budget   *ratelimit.Budget
	breaker  *ratelimit.Breaker
	metrics  *metrics.Store
	remote   *fakeRemote
	session  *fakeSession
	journal  *fakeJournal
	observer *fakeObserver
	paced    []time.Duration
	backoffs []time.Duration
}

func newHarness(t *testing.T, limits map[action.Category]ratelimit.Limits, breakerCfg ratelimit.BreakerConfig) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local)},
		remote:   &fakeRemote{},
		session:  &fakeSession{healthy: true},
		journal:  &fakeJournal{},
		observer: &fakeObserver{daily: map[string]int{}},
	}

	h.budget = ratelimit.NewBudget(limits, ratelimit.DefaultDelays())
	h.budget.SetClock(h.clock.Now)
	h.budget.SetSleep(func(ctx context.Context, d time.Duration) error {
		h.paced = append(h.paced, d)
		return ctx.Err()
	})

	h.breaker = ratelimit.NewBreaker(breakerCfg)
	h.breaker.SetClock(h.clock.Now)

	h.metrics = metrics.NewStore(filepath.Join(t.TempDir(), "metrics.json"))
	h.metrics.SetClock(h.clock.Now)

	policy := retry.NewPolicy(3, 5*time.Second, h.metrics)
	policy.SetSleep(func(ctx context.Context, d time.Duration) error {
		h.backoffs = append(h.backoffs, d)
		return ctx.Err()
	})

	exec, err := New(Options{
		Budget:   h.budget,
		Breaker:  h.breaker,
		Policy:   policy,
		Metrics:  h.metrics,
		Remote:   h.remote,
		Session:  h.session,
		Journal:  h.journal,
		Observer: h.observer,
	})
	require.NoError(t, err)
	exec.SetClock(h.clock.Now)
	h.exec = exec
	return h
}

func defaultHarness(t *testing.T) *harness {
	return newHarness(t, ratelimit.DefaultLimits(), ratelimit.BreakerConfig{FailureThreshold: 10})
}

func like(target string) action.Candidate {
	return action.Candidate{Category: action.Like, Target: target}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	budget := ratelimit.NewBudget(ratelimit.DefaultLimits(), nil)
	policy := retry.NewPolicy(0, 0, nil)

	_, err := New(Options{Policy: policy, Remote: &fakeRemote{}})
	assert.Error(t, err)
	_, err = New(Options{Budget: budget, Remote: &fakeRemote{}})
	assert.Error(t, err)
	_, err = New(Options{Budget: budget, Policy: policy})
	assert.Error(t, err)

	_, err = New(Options{Budget: budget, Policy: policy, Remote: &fakeRemote{}})
	require.NoError(t, err)
	assert.Nil(t, policy.Retryable, "caller's policy must not be modified")
}

func TestNew_CopiesPolicy(t *testing.T) {
	budget := ratelimit.NewBudget(ratelimit.DefaultLimits(), nil)
	shared := retry.NewPolicy(3, time.Second, nil)

	exec, err := New(Options{Budget: budget, Policy: shared, Remote: &fakeRemote{}})
	require.NoError(t, err)

	assert.Nil(t, shared.Retryable)
	require.NotNil(t, exec.policy.Retryable)
	assert.NotSame(t, shared, exec.policy)
	assert.False(t, exec.policy.Retryable(&retry.RemoteError{StatusCode: 401}))
	assert.True(t, exec.policy.Retryable(&retry.RemoteError{StatusCode: 503}))

	shared.MaxRetries = 1
	assert.Equal(t, 3, exec.policy.MaxRetries)
}

func TestExecute_LikeBudgetEndToEnd(t *testing.T) {
	h := newHarness(t, map[action.Category]ratelimit.Limits{
		action.Like: {DailyMax: 2, HourlyMax: 5},
	}, ratelimit.BreakerConfig{})

	reports := h.exec.Process(context.Background(), []action.Candidate{like("a"), like("b"), like("c")})
	require.Len(t, reports, 3)

	assert.True(t, reports[0].Success)
	assert.True(t, reports[1].Success)
	assert.Equal(t, StateSkipped, reports[2].State)
	assert.ErrorIs(t, reports[2].Err, ErrBudgetExceeded)

	usage, err := h.budget.Usage(action.Like)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Daily)
	assert.Len(t, h.remote.calls, 2)

	assert.Equal(t, []State{StateProposed, StateBudgetChecked, StateExecuting, StateRecorded}, reports[0].Transitions)
	assert.Equal(t, []State{StateProposed, StateBudgetChecked, StateSkipped}, reports[2].Transitions)

	// Pacing is paid per executed candidate only.
	assert.Equal(t, []time.Duration{ratelimit.DefaultDelayLike, ratelimit.DefaultDelayLike}, h.paced)
	assert.Equal(t, 2, h.observer.daily["like"])
	assert.Equal(t, Summary{Processed: 3, Executed: 2, Skipped: 1}, Summarize(reports))
}

func TestExecute_ResultErrorDoesNotConsumeBudget(t *testing.T) {
	h := defaultHarness(t)
	h.remote.script = []func() (action.Result, error){
		func() (action.Result, error) { return action.Result{Error: "media id not found"}, nil },
	}

	rep := h.exec.Execute(context.Background(), like("a"))
	assert.False(t, rep.Success)
	assert.Equal(t, StateRecorded, rep.State)
	assert.Equal(t, "media id not found", rep.Error)
	assert.Equal(t, retry.KindUnknown, rep.Outcome.Kind)
	assert.Len(t, h.remote.calls, 1, "result errors are not retried")

	usage, _ := h.budget.Usage(action.Like)
	assert.Zero(t, usage.Daily)
	assert.Empty(t, h.journal.recorded)

	stats := h.metrics.DailyStats()
	assert.Equal(t, 1, stats[metrics.StatFailedRequests])
	assert.Zero(t, stats["likes"])
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	h := defaultHarness(t)
	h.remote.script = []func() (action.Result, error){status(503), status(429), ok}

	rep := h.exec.Execute(context.Background(), like("a"))
	require.True(t, rep.Success, rep.Error)
	assert.Len(t, h.remote.calls, 3)
	assert.Equal(t, []time.Duration{retry.ServerErrorWait, retry.RateLimitWait}, h.backoffs)
	assert.Equal(t, []time.Duration{ratelimit.DefaultDelayLike}, h.paced, "pacing is paid once per candidate")

	usage, _ := h.budget.Usage(action.Like)
	assert.Equal(t, 1, usage.Daily, "budget consumed once per success")

	records := h.metrics.Records("like")
	require.Len(t, records, 3)
	assert.False(t, records[0].Success)
	assert.Equal(t, 1, records[0].Details["attempt"])
	assert.True(t, records[2].Success)
	assert.Equal(t, 3, records[2].Details["attempt"])

	stats := h.metrics.DailyStats()
	assert.Equal(t, 1, stats[metrics.StatNetworkErrors])
	assert.Equal(t, 1, stats[metrics.StatRateLimitErrors])
}

func TestExecute_RetryExhaustion(t *testing.T) {
	h := defaultHarness(t)
	h.remote.script = []func() (action.Result, error){status(429)}

	rep := h.exec.Execute(context.Background(), like("a"))
	assert.False(t, rep.Success)
	assert.Len(t, h.remote.calls, 3)
	assert.Equal(t, retry.KindRetryable, rep.Outcome.Kind)
	assert.Equal(t, 429, rep.Outcome.StatusCode)

	usage, _ := h.budget.Usage(action.Like)
	assert.Zero(t, usage.Daily)
	assert.Equal(t, 1, h.breaker.Status(action.Like).ConsecutiveFailures)
}

func TestExecute_FatalRecoversSession(t *testing.T) {
	h := defaultHarness(t)
	h.remote.script = []func() (action.Result, error){status(401), ok}

	rep := h.exec.Execute(context.Background(), like("a"))
	assert.False(t, rep.Success)
	assert.Equal(t, retry.KindFatal, rep.Outcome.Kind)
	assert.Equal(t, retry.ActionRefreshCredentials, rep.Outcome.Action)
	assert.Len(t, h.remote.calls, 1, "fatal errors are not retried")
	require.NotNil(t, rep.Recovered)
	assert.True(t, *rep.Recovered)
	assert.Equal(t, 1, h.session.refreshes)

	assert.Equal(t, ratelimit.BreakerClosed, h.breaker.Status(action.Like).Phase)
	next := h.exec.Execute(context.Background(), like("b"))
	assert.True(t, next.Success)
}

func TestExecute_FatalWithoutRecoveryPausesCategory(t *testing.T) {
	h := defaultHarness(t)
	h.session.refreshErr = errors.New("cookie file invalid")
	h.remote.script = []func() (action.Result, error){status(403)}

	reports := h.exec.Process(context.Background(), []action.Candidate{
		like("a"),
		like("b"),
		{Category: action.Comment, Target: "c", Payload: map[string]string{"text": "hi"}},
	})

	require.NotNil(t, reports[0].Recovered)
	assert.False(t, *reports[0].Recovered)
	assert.Equal(t, StateSkipped, reports[1].State)
	assert.ErrorIs(t, reports[1].Err, ErrCircuitOpen)
	assert.True(t, h.breaker.NeedsRecovery())

	// Other categories keep flowing; this one fails on its own 403.
	assert.Equal(t, StateRecorded, reports[2].State)
	assert.Len(t, h.remote.calls, 2)
}

func TestExecute_ConsecutiveFailuresTripBreaker(t *testing.T) {
	h := newHarness(t, ratelimit.DefaultLimits(), ratelimit.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	h.remote.script = []func() (action.Result, error){
		func() (action.Result, error) { return action.Result{Error: "rejected"}, nil },
	}

	reports := h.exec.Process(context.Background(), []action.Candidate{like("a"), like("b"), like("c")})
	assert.Equal(t, StateRecorded, reports[0].State)
	assert.Equal(t, StateRecorded, reports[1].State)
	assert.ErrorIs(t, reports[2].Err, ErrCircuitOpen)
	assert.Len(t, h.paced, 2)

	// After the cooldown a single probe is admitted and closes the circuit.
	h.clock.Advance(time.Minute)
	h.remote.script = nil
	rep := h.exec.Execute(context.Background(), like("d"))
	assert.True(t, rep.Success)
	assert.Equal(t, ratelimit.BreakerClosed, h.breaker.Status(action.Like).Phase)
}

func TestExecute_LowSuccessRateTripsBreaker(t *testing.T) {
	h := newHarness(t, ratelimit.DefaultLimits(), ratelimit.BreakerConfig{
		FailureThreshold: 100,
		MinSuccessRate:   50,
		MinSamples:       3,
		RateWindow:       time.Hour,
		Cooldown:         time.Minute,
	})
	h.remote.script = []func() (action.Result, error){
		func() (action.Result, error) { return action.Result{Error: "rejected"}, nil },
	}

	reports := h.exec.Process(context.Background(), []action.Candidate{like("a"), like("b"), like("c"), like("d")})
	assert.Equal(t, StateRecorded, reports[2].State)
	assert.ErrorIs(t, reports[3].Err, ErrCircuitOpen)
	assert.Equal(t, ratelimit.ReasonLowSuccessRate, h.breaker.Status(action.Like).Reason)
}

func TestExecute_UnknownCategory(t *testing.T) {
	h := defaultHarness(t)
	rep := h.exec.Execute(context.Background(), action.Candidate{Category: "story", Target: "x"})
	assert.Equal(t, StateSkipped, rep.State)
	assert.ErrorIs(t, rep.Err, ErrBudgetExceeded)
	assert.ErrorIs(t, rep.Err, ratelimit.ErrUnknownCategory)
	assert.Empty(t, h.remote.calls)
}

func TestExecute_JournalsSuccessfulPostActions(t *testing.T) {
	h := defaultHarness(t)
	h.exec.Process(context.Background(), []action.Candidate{
		{Category: action.Comment, Target: "p1", Payload: map[string]string{"text": "nice", "author": "ana"}},
		{Category: action.Follow, Target: "user-9"},
	})

	require.Len(t, h.journal.recorded, 1)
	assert.Equal(t, "p1", h.journal.targets[0])
	assert.Equal(t, "comment", h.journal.recorded[0].Type)
	assert.Equal(t, "nice", h.journal.recorded[0].Content)
	assert.Equal(t, "ana", h.journal.recorded[0].UserID)
	assert.Equal(t, []time.Duration{ratelimit.DefaultDelayComment, ratelimit.DefaultDelayFollow}, h.paced)
}

func TestProcess_CancelledSkipsRemaining(t *testing.T) {
	h := defaultHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.remote.script = []func() (action.Result, error){
		func() (action.Result, error) { cancel(); return ok() },
	}

	reports := h.exec.Process(ctx, []action.Candidate{like("a"), like("b")})
	assert.True(t, reports[0].Success)
	assert.Equal(t, StateSkipped, reports[1].State)
	assert.ErrorIs(t, reports[1].Err, context.Canceled)
	assert.Len(t, h.remote.calls, 1)
}

func TestExecute_CancelDuringPacingReleasesProbe(t *testing.T) {
	h := newHarness(t, ratelimit.DefaultLimits(), ratelimit.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	h.breaker.RecordFailure(action.Like)
	h.clock.Advance(time.Minute)

	h.budget.SetSleep(func(context.Context, time.Duration) error { return context.Canceled })

	rep := h.exec.Execute(context.Background(), like("a"))
	assert.Equal(t, StateSkipped, rep.State)
	assert.ErrorIs(t, rep.Err, context.Canceled)
	assert.True(t, h.breaker.Allow(action.Like), "probe slot returned")
}

func TestProcess_SavesMetrics(t *testing.T) {
	h := defaultHarness(t)
	h.exec.Process(context.Background(), []action.Candidate{like("a")})

	_, err := os.Stat(h.metrics.Path())
	assert.NoError(t, err)

	loaded, err := metrics.Open(h.metrics.Path())
	require.NoError(t, err)
	assert.Len(t, loaded.Records("like"), 1)
}

func TestProcess_FailureNeverAbortsBatch(t *testing.T) {
	h := defaultHarness(t)
	h.remote.script = []func() (action.Result, error){
		status(404),
		func() (action.Result, error) { return action.Result{}, errors.New("boom") },
		ok,
	}

	reports := h.exec.Process(context.Background(), []action.Candidate{like("a"), like("b"), like("c")})
	require.Len(t, reports, 3)
	assert.Equal(t, retry.KindUnknown, reports[0].Outcome.Kind)
	assert.Equal(t, retry.KindUnknown, reports[1].Outcome.Kind)
	assert.True(t, reports[2].Success)
	assert.Equal(t, Summary{Processed: 3, Executed: 1, Failed: 2}, Summarize(reports))
}
