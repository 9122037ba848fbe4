// Package retry wraps fallible remote operations with bounded retries and
// linear backoff, and classifies their failures into recovery outcomes.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dicklesworthstone/feedbot/internal/util"
)

// Defaults for Policy.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
)

// Recorder receives one record per attempt.
type Recorder interface {
	TrackAction(category string, success bool, details map[string]any)
}

// Policy configures retries for an operation.
type Policy struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int

	// RetryDelay is the base of the linear backoff: before attempt n+1 the
	// policy waits RetryDelay*n.
	RetryDelay time.Duration

	// Recorder, when set, receives a success or failure record per attempt.
	Recorder Recorder

	// Retryable decides whether a failed attempt may be retried. Nil retries
	// every error.
	Retryable func(error) bool

	// sleepFn allows test time injection.
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a Policy, applying defaults to non-positive values.
func NewPolicy(maxRetries int, retryDelay time.Duration, rec Recorder) *Policy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryDelay < 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Policy{
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Recorder:   rec,
		sleepFn:    util.SleepContext,
	}
}

// Backoff returns the wait before the attempt following attemptIndex
// (0-based). It is linear in the attempt index, raised to the outcome's
// suggested wait when err classifies as retryable.
func (p *Policy) Backoff(attemptIndex int, err error) time.Duration {
	delay := p.RetryDelay * time.Duration(attemptIndex+1)
	if out := Classify(err); out.Kind == KindRetryable && out.Wait > delay {
		delay = out.Wait
	}
	return delay
}

// SetSleep replaces the backoff wait, e.g. with a no-op in tests.
func (p *Policy) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleepFn = fn
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.sleepFn != nil {
		return p.sleepFn(ctx, d)
	}
	return util.SleepContext(ctx, d)
}

func (p *Policy) record(name string, success bool, details map[string]any) {
	if p.Recorder != nil {
		p.Recorder.TrackAction(name, success, details)
	}
}

// Do runs op up to p.MaxRetries times. The first success is recorded with
// its attempt number and returned. Each failure is recorded with the attempt
// number and error; if attempts remain and the error is retryable, Do waits
// p.Backoff before retrying. When attempts are exhausted the last error is
// returned.
func Do[T any](ctx context.Context, p *Policy, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			p.record(name, true, map[string]any{"attempt": attempt + 1})
			return result, nil
		}

		lastErr = err
		out := Classify(err)
		details := map[string]any{
			"attempt":     attempt + 1,
			"error":       err.Error(),
			"error_class": out.Class(),
		}
		if out.StatusCode != 0 {
			details["status_code"] = out.StatusCode
		}
		p.record(name, false, details)

		slog.Warn("attempt failed",
			"operation", name,
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"status", out.Kind,
			"error", err,
		)

		if attempt == maxRetries-1 {
			break
		}
		if p.Retryable != nil && !p.Retryable(err) {
			break
		}

		delay := p.Backoff(attempt, err)
		if out.Class() == ClassRateLimit {
			slog.Warn("rate limit reached, backing off", "operation", name, "wait", delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}
