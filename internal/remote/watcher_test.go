package remote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) RefreshCredentials(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func TestCookieWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeCookies(t, dir, validCookieJSON)

	target := &countingRefresher{err: errors.New("bad file")}
	w := NewCookieWatcher(path, target)
	w.debounce = 10 * time.Millisecond
	reloaded := make(chan error, 8)
	w.OnReload(func(_ context.Context, err error) { reloaded <- err })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Keep rewriting until the watcher has registered and fired.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case err := <-reloaded:
			if err == nil {
				t.Error("expected refresh error to be reported")
			}
			break wait
		case <-tick.C:
			writeCookies(t, dir, validCookieJSON)
		case <-deadline:
			t.Fatal("watcher did not reload")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if target.calls.Load() == 0 {
		t.Error("refresher was not called")
	}
}
