package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type trackedAction struct {
	category string
	success  bool
	details  map[string]any
}

type fakeRecorder struct {
	actions []trackedAction
}

func (r *fakeRecorder) TrackAction(category string, success bool, details map[string]any) {
	r.actions = append(r.actions, trackedAction{category, success, details})
}

func newTestPolicy(rec Recorder) (*Policy, *[]time.Duration) {
	var slept []time.Duration
	p := NewPolicy(3, 5*time.Second, rec)
	p.sleepFn = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func TestDo_AlwaysFails(t *testing.T) {
	rec := &fakeRecorder{}
	p, slept := newTestPolicy(rec)

	calls := 0
	finalErr := errors.New("boom 3")
	_, err := Do(context.Background(), p, "like", func(ctx context.Context) (string, error) {
		calls++
		if calls == 3 {
			return "", finalErr
		}
		return "", fmt.Errorf("boom %d", calls)
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, finalErr) {
		t.Errorf("err = %v, want last error", err)
	}
	if len(*slept) != 2 || (*slept)[0] != 5*time.Second || (*slept)[1] != 10*time.Second {
		t.Errorf("backoff = %v, want [5s 10s]", *slept)
	}
	if len(rec.actions) != 3 {
		t.Fatalf("recorded %d actions, want 3", len(rec.actions))
	}
	for i, a := range rec.actions {
		if a.success {
			t.Errorf("action %d recorded as success", i)
		}
		if a.details["attempt"] != i+1 {
			t.Errorf("action %d attempt = %v, want %d", i, a.details["attempt"], i+1)
		}
		if a.details["error"] == "" {
			t.Errorf("action %d missing error text", i)
		}
	}
}

func TestDo_FailsTwiceThenSucceeds(t *testing.T) {
	rec := &fakeRecorder{}
	p, _ := newTestPolicy(rec)

	calls := 0
	got, err := Do(context.Background(), p, "comment", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	last := rec.actions[len(rec.actions)-1]
	if !last.success || last.details["attempt"] != 3 {
		t.Errorf("last record = %+v, want success on attempt 3", last)
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	rec := &fakeRecorder{}
	p, slept := newTestPolicy(rec)

	calls := 0
	_, err := Do(context.Background(), p, "follow", func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("calls = %d err = %v, want 1 call and nil", calls, err)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no backoff", *slept)
	}
	if len(rec.actions) != 1 || !rec.actions[0].success {
		t.Errorf("records = %+v", rec.actions)
	}
}

func TestDo_RetryablePredicateStopsEarly(t *testing.T) {
	p, _ := newTestPolicy(nil)
	p.Retryable = IsRetryable

	calls := 0
	_, err := Do(context.Background(), p, "like", func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, &RemoteError{StatusCode: 401}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable error", calls)
	}
	if code, ok := StatusCode(err); !ok || code != 401 {
		t.Errorf("StatusCode(err) = %d, %v", code, ok)
	}
}

func TestDo_RateLimitUsesClassifiedWait(t *testing.T) {
	p, slept := newTestPolicy(nil)
	p.Retryable = IsRetryable

	calls := 0
	_, _ = Do(context.Background(), p, "like", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &RemoteError{StatusCode: 429}
		}
		return 0, &RemoteError{StatusCode: 503}
	})

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	want := []time.Duration{RateLimitWait, ServerErrorWait}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("backoff[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p, _ := newTestPolicy(nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.sleepFn = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	opErr := errors.New("fail")
	_, err := Do(ctx, p, "like", func(ctx context.Context) (int, error) {
		calls++
		return 0, opErr
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, opErr) {
		t.Errorf("err = %v, want last op error", err)
	}
}

func TestBackoff_Linear(t *testing.T) {
	p := NewPolicy(3, 5*time.Second, nil)
	plain := errors.New("x")
	for i, want := range []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second} {
		if got := p.Backoff(i, plain); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, want)
		}
	}
	// A classified wait shorter than the linear delay does not shrink it.
	p.RetryDelay = 40 * time.Second
	if got := p.Backoff(0, &RemoteError{StatusCode: 429}); got != 40*time.Second {
		t.Errorf("Backoff with 429 = %v, want 40s", got)
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, -1, nil)
	if p.MaxRetries != DefaultMaxRetries || p.RetryDelay != DefaultRetryDelay {
		t.Errorf("defaults = %d/%v", p.MaxRetries, p.RetryDelay)
	}
}
