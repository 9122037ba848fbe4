package remote

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CredentialRefresher reloads credentials from their source.
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context) error
}

// CookieWatcher reloads the session cookies whenever the cookie file is
// written or replaced.
type CookieWatcher struct {
	path     string
	target   CredentialRefresher
	debounce time.Duration

	// onReload is called after every reload attempt.
	onReload func(ctx context.Context, err error)
}

// NewCookieWatcher watches path and refreshes target on change.
func NewCookieWatcher(path string, target CredentialRefresher) *CookieWatcher {
	return &CookieWatcher{
		path:     filepath.Clean(path),
		target:   target,
		debounce: 250 * time.Millisecond,
	}
}

// OnReload registers fn to run after every reload attempt with its result.
// It must be called before Run.
func (w *CookieWatcher) OnReload(fn func(ctx context.Context, err error)) {
	w.onReload = fn
}

// Run blocks until ctx is done. The parent directory is watched so editors
// and atomic renames that replace the file are noticed.
func (w *CookieWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	log := slog.With("source", "cookie_watcher", "file", w.path)
	log.Info("watching cookie file")

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		cancel = func() {
			if timer != nil {
				timer.Stop()
			}
		}
	)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			log.Debug("cookie file changed", "op", event.Op.String())
			cancel()
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			err := w.target.RefreshCredentials(ctx)
			if err != nil {
				log.Error("reloading cookies failed, keeping previous session", "error", err)
			}
			if w.onReload != nil {
				w.onReload(ctx, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "error", err)
		}
	}
}
