// Package executor decides, for each candidate action, whether to execute,
// wait or skip, runs the remote call under the retry policy, and records
// the outcome in the budget, the metrics store and the circuit breaker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dicklesworthstone/feedbot/internal/action"
	"github.com/Dicklesworthstone/feedbot/internal/metrics"
	"github.com/Dicklesworthstone/feedbot/internal/ratelimit"
	"github.com/Dicklesworthstone/feedbot/internal/retry"
	"github.com/Dicklesworthstone/feedbot/internal/state"
)

// State is a step of a candidate's lifecycle.
type State string

const (
	StateProposed      State = "proposed"
	StateBudgetChecked State = "budget_checked"
	StateSkipped       State = "skipped"
	StateExecuting     State = "executing"
	StateRecorded      State = "recorded"
)

var (
	// ErrBudgetExceeded marks a candidate skipped by the quota check.
	ErrBudgetExceeded = errors.New("action budget exceeded")
	// ErrCircuitOpen marks a candidate skipped because its category is paused.
	ErrCircuitOpen = errors.New("circuit open for category")
)

// Performer is the remote action collaborator.
type Performer interface {
	Perform(ctx context.Context, c action.Category, target string, payload map[string]string) (action.Result, error)
}

// Journal records successful interactions per post.
type Journal interface {
	RecordInteraction(shortcode string, in state.Interaction) (*state.Conversation, error)
}

// BudgetObserver is told the budget usage after each consumed action.
type BudgetObserver interface {
	ObserveBudget(category string, daily, hourly int)
}

// Options wires an Executor. Budget, Policy and Remote are required.
type Options struct {
	Budget   *ratelimit.Budget
	Breaker  *ratelimit.Breaker
	Policy   *retry.Policy
	Metrics  *metrics.Store
	Remote   Performer
	Session  retry.SessionService
	Journal  Journal
	Observer BudgetObserver
}

// Executor runs candidates strictly one at a time.
type Executor struct {
	budget   *ratelimit.Budget
	breaker  *ratelimit.Breaker
	policy   *retry.Policy
	metrics  *metrics.Store
	remote   Performer
	session  retry.SessionService
	journal  Journal
	observer BudgetObserver

	// nowFn allows test time injection.
	nowFn func() time.Time
}

// New validates opts and returns an Executor. Retries apply only to
// retryable failures unless the policy sets its own predicate. Options.Policy
// is copied, so later changes to it do not affect the executor.
func New(opts Options) (*Executor, error) {
	if opts.Budget == nil {
		return nil, errors.New("executor: budget is required")
	}
	if opts.Policy == nil {
		return nil, errors.New("executor: retry policy is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("executor: remote is required")
	}
	// The executor works on its own copy so the caller's policy is untouched.
	policy := *opts.Policy
	if policy.Retryable == nil {
		policy.Retryable = retry.IsRetryable
	}
	return &Executor{
		budget:   opts.Budget,
		breaker:  opts.Breaker,
		policy:   &policy,
		metrics:  opts.Metrics,
		remote:   opts.Remote,
		session:  opts.Session,
		journal:  opts.Journal,
		observer: opts.Observer,
		nowFn:    time.Now,
	}, nil
}

// SetClock replaces the time source used for success-rate windows.
func (e *Executor) SetClock(now func() time.Time) {
	e.nowFn = now
}

// Report is the terminal record of one candidate.
type Report struct {
	Candidate   action.Candidate `json:"candidate"`
	State       State            `json:"state"`
	Success     bool             `json:"success"`
	Err         error            `json:"-"`
	Error       string           `json:"error,omitempty"`
	Outcome     retry.Outcome    `json:"outcome"`
	Result      action.Result    `json:"result"`
	Transitions []State          `json:"transitions"`
	Recovered   *bool            `json:"recovered,omitempty"`
}

func (r *Report) to(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Report) fail(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// Skipped reports whether the candidate never reached the remote.
func (r Report) Skipped() bool {
	return r.State == StateSkipped
}

// resultError carries a Result.Error through the retry policy. It is not a
// RemoteError, so it classifies as unknown and is never retried.
type resultError struct {
	msg string
}

func (e *resultError) Error() string { return e.msg }

// Execute drives one candidate through its lifecycle. It never panics on
// remote failure and never returns an error: the outcome is in the Report.
func (e *Executor) Execute(ctx context.Context, cand action.Candidate) Report {
	rep := Report{Candidate: cand}
	rep.to(StateProposed)
	c := cand.Category
	log := slog.With("category", c, "target", cand.Target)

	if err := ctx.Err(); err != nil {
		rep.to(StateSkipped)
		rep.fail(err)
		return rep
	}

	allowed := e.budget.CanPerform(c)
	rep.to(StateBudgetChecked)
	if !allowed {
		rep.to(StateSkipped)
		if !c.Valid() {
			rep.fail(fmt.Errorf("%w: %w", ErrBudgetExceeded, ratelimit.ErrUnknownCategory))
		} else {
			rep.fail(ErrBudgetExceeded)
		}
		log.Warn("action skipped", "state", rep.State, "reason", rep.Error)
		return rep
	}
	if e.breaker != nil && !e.breaker.Allow(c) {
		rep.to(StateSkipped)
		rep.fail(ErrCircuitOpen)
		log.Warn("action skipped", "state", rep.State, "reason", rep.Error, "guidance", e.breaker.Guidance(c))
		return rep
	}

	rep.to(StateExecuting)
	if err := e.budget.WaitIfNeeded(ctx, c); err != nil {
		if e.breaker != nil {
			e.breaker.Release(c)
		}
		rep.to(StateSkipped)
		rep.fail(err)
		log.Warn("action cancelled while pacing", "error", err)
		return rep
	}

	res, err := retry.Do(ctx, e.policy, string(c), func(ctx context.Context) (action.Result, error) {
		res, err := e.remote.Perform(ctx, c, cand.Target, cand.Payload)
		if err != nil {
			return res, err
		}
		if res.Failed() {
			return res, &resultError{msg: res.Error}
		}
		return res, nil
	})
	rep.Result = res
	rep.Outcome = retry.Classify(err)
	rep.to(StateRecorded)

	if err == nil {
		rep.Success = true
		e.recordSuccess(cand, log)
		return rep
	}

	rep.fail(err)
	e.recordFailure(ctx, &rep, log)
	return rep
}

func (e *Executor) recordSuccess(cand action.Candidate, log *slog.Logger) {
	c := cand.Category
	e.budget.LogAction(c)
	if e.breaker != nil {
		e.breaker.RecordSuccess(c)
	}

	usage, err := e.budget.Usage(c)
	if err == nil && e.observer != nil {
		e.observer.ObserveBudget(string(c), usage.Daily, usage.Hourly)
	}

	if e.journal != nil && (c == action.Like || c == action.Comment) {
		if _, err := e.journal.RecordInteraction(cand.Target, state.Interaction{
			Type:    string(c),
			Content: cand.Text(),
			UserID:  cand.Payload["author"],
		}); err != nil {
			log.Error("recording interaction failed", "error", err)
		}
	}

	log.Info("action succeeded",
		"state", StateRecorded,
		"daily", usage.Daily,
		"daily_max", usage.DailyMax,
		"hourly", usage.Hourly,
		"hourly_max", usage.HourlyMax,
	)
}

func (e *Executor) recordFailure(ctx context.Context, rep *Report, log *slog.Logger) {
	c := rep.Candidate.Category
	out := rep.Outcome

	log.Error("action failed",
		"state", rep.State,
		"status", out.Kind,
		"class", out.Class(),
		"status_code", out.StatusCode,
		"error", rep.Error,
	)

	if e.breaker == nil {
		if out.Kind == retry.KindFatal && e.session != nil {
			ok := retry.RecoverSession(ctx, e.session)
			rep.Recovered = &ok
		}
		return
	}

	if out.Kind == retry.KindFatal {
		e.breaker.TripCredentials(c)
		if e.session != nil {
			ok := retry.RecoverSession(ctx, e.session)
			rep.Recovered = &ok
			if ok {
				e.breaker.MarkRecovered()
			}
		}
		return
	}

	e.breaker.RecordFailure(c)
	if e.metrics != nil {
		since := e.nowFn().Add(-e.breaker.Config().RateWindow)
		rate, samples := e.metrics.SuccessRateSince(string(c), since)
		e.breaker.ObserveSuccessRate(c, rate, samples)
	}
}

// Process executes candidates in order. A failing candidate never stops
// the batch; once ctx is done the remaining candidates are skipped. The
// metrics store is saved after the batch.
func (e *Executor) Process(ctx context.Context, cands []action.Candidate) []Report {
	reports := make([]Report, 0, len(cands))
	for _, cand := range cands {
		reports = append(reports, e.Execute(ctx, cand))
	}

	if e.metrics != nil {
		if err := e.metrics.Save(); err != nil {
			slog.Error("saving metrics failed", "error", err)
		}
	}

	s := Summarize(reports)
	slog.Info("batch processed",
		"processed", s.Processed,
		"executed", s.Executed,
		"skipped", s.Skipped,
		"failed", s.Failed,
	)
	return reports
}

// Summary counts the terminal states of a batch.
type Summary struct {
	Processed int `json:"processed"`
	Executed  int `json:"executed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Summarize tallies reports.
func Summarize(reports []Report) Summary {
	s := Summary{Processed: len(reports)}
	for _, r := range reports {
		switch {
		case r.Skipped():
			s.Skipped++
		case r.Success:
			s.Executed++
		default:
			s.Failed++
		}
	}
	return s
}
