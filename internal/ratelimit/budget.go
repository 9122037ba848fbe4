// Package ratelimit enforces per-category action quotas, pacing between
// actions, and circuit breaking for categories that keep failing.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Dicklesworthstone/feedbot/internal/action"
	"github.com/Dicklesworthstone/feedbot/internal/util"
)

// ErrUnknownCategory is returned for categories without configured limits.
var ErrUnknownCategory = errors.New("no limits configured for category")

// Usage is a read-only view of one category's budget window.
type Usage struct {
	Category  action.Category `json:"category" yaml:"category"`
	Daily     int             `json:"daily" yaml:"daily"`
	Hourly    int             `json:"hourly" yaml:"hourly"`
	DailyMax  int             `json:"daily_max" yaml:"daily_max"`
	HourlyMax int             `json:"hourly_max" yaml:"hourly_max"`
	Delay     time.Duration   `json:"delay" yaml:"delay"`
}

// Exhausted reports whether either ceiling has been reached.
func (u Usage) Exhausted() bool {
	return u.Daily >= u.DailyMax || u.Hourly >= u.HourlyMax
}

// Budget tracks timestamps of successful actions per category and gates new
// actions against daily and hourly ceilings.
//
// Windows hold only confirmed successes; failed attempts never consume
// budget. Timestamps within a window are non-decreasing in insertion order.
type Budget struct {
	mu sync.Mutex

	limits       map[action.Category]Limits
	delays       map[action.Category]time.Duration
	defaultDelay time.Duration
	windows      map[action.Category][]time.Time

	// nowFn and sleepFn allow test time injection.
	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewBudget creates a Budget from a quota table and a pacing table. The
// tables are copied; categories missing from delays use DefaultDelay.
func NewBudget(limits map[action.Category]Limits, delays map[action.Category]time.Duration) *Budget {
	b := &Budget{
		limits:       make(map[action.Category]Limits, len(limits)),
		delays:       make(map[action.Category]time.Duration, len(delays)),
		defaultDelay: DefaultDelay,
		windows:      make(map[action.Category][]time.Time, len(limits)),
		nowFn:        time.Now,
		sleepFn:      util.SleepContext,
	}
	for c, l := range limits {
		b.limits[c] = l
		b.windows[c] = nil
	}
	for c, d := range delays {
		b.delays[c] = d
	}
	return b
}

// SetDefaultDelay overrides the pacing used for categories without an entry.
func (b *Budget) SetDefaultDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultDelay = d
}

// SetClock replaces the time source.
func (b *Budget) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFn = now
}

// SetSleep replaces the pacing wait.
func (b *Budget) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sleepFn = fn
}

func (b *Budget) now() time.Time {
	if b.nowFn != nil {
		return b.nowFn()
	}
	return time.Now()
}

// dayStart returns local midnight of t.
// DayStart returns local midnight of the budget's current day.
func (b *Budget) DayStart() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return dayStart(b.now())
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// pruneLocked drops entries before the current day boundary. Caller must
// hold b.mu.
func (b *Budget) pruneLocked(c action.Category, now time.Time) []time.Time {
	start := dayStart(now)
	window := b.windows[c]
	i := sort.Search(len(window), func(i int) bool {
		return !window[i].Before(start)
	})
	if i > 0 {
		window = append([]time.Time(nil), window[i:]...)
		b.windows[c] = window
	}
	return window
}

// countsLocked returns daily and hourly counts after pruning. Caller must
// hold b.mu.
func (b *Budget) countsLocked(c action.Category, now time.Time) (daily, hourly int) {
	window := b.pruneLocked(c, now)
	hourAgo := now.Add(-time.Hour)
	i := sort.Search(len(window), func(i int) bool {
		return !window[i].Before(hourAgo)
	})
	return len(window), len(window) - i
}

// CanPerform reports whether another action of category c fits within both
// the daily and the hourly ceilings. Unknown categories are refused.
func (b *Budget) CanPerform(c action.Category) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	limits, ok := b.limits[c]
	if !ok {
		return false
	}

	daily, hourly := b.countsLocked(c, b.now())
	if daily >= limits.DailyMax || hourly >= limits.HourlyMax {
		slog.Warn("rate limit reached",
			"category", c,
			"daily", daily,
			"daily_max", limits.DailyMax,
			"hourly", hourly,
			"hourly_max", limits.HourlyMax,
		)
		return false
	}
	return true
}

// LogAction records one confirmed successful action of category c. It must
// be called exactly once per success and never for a failed attempt.
func (b *Budget) LogAction(c action.Category) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.limits[c]; !ok {
		slog.Warn("ignoring action for unknown category", "category", c)
		return
	}

	now := b.now()
	window := b.windows[c]
	// Keep the window monotonic even if the clock steps backwards.
	if n := len(window); n > 0 && now.Before(window[n-1]) {
		now = window[n-1]
	}
	b.windows[c] = append(window, now)
}

// Restore seeds the window for c with previously recorded successes, e.g.
// from the durable metrics log after a restart. Entries outside the current
// day are ignored.
func (b *Budget) Restore(c action.Category, timestamps []time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.limits[c]; !ok {
		return ErrUnknownCategory
	}

	merged := append(append([]time.Time(nil), b.windows[c]...), timestamps...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })
	b.windows[c] = merged
	b.pruneLocked(c, b.now())
	return nil
}

// DelayFor returns the fixed pacing delay for category c.
func (b *Budget) DelayFor(c action.Category) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.delays[c]; ok {
		return d
	}
	return b.defaultDelay
}

// WaitIfNeeded blocks the calling flow for DelayFor(c). It is paid whenever
// an action is attempted, regardless of its eventual outcome.
func (b *Budget) WaitIfNeeded(ctx context.Context, c action.Category) error {
	d := b.DelayFor(c)
	b.mu.Lock()
	sleep := b.sleepFn
	b.mu.Unlock()
	if sleep == nil {
		sleep = util.SleepContext
	}
	slog.Debug("pacing before action", "category", c, "delay", FormatDelay(d))
	return sleep(ctx, d)
}

// Usage returns the current counts and limits for category c.
func (b *Budget) Usage(c action.Category) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	limits, ok := b.limits[c]
	if !ok {
		return Usage{}, ErrUnknownCategory
	}
	daily, hourly := b.countsLocked(c, b.now())
	delay, ok := b.delays[c]
	if !ok {
		delay = b.defaultDelay
	}
	return Usage{
		Category:  c,
		Daily:     daily,
		Hourly:    hourly,
		DailyMax:  limits.DailyMax,
		HourlyMax: limits.HourlyMax,
		Delay:     delay,
	}, nil
}

// Snapshot returns usage for every configured category in stable order.
func (b *Budget) Snapshot() []Usage {
	b.mu.Lock()
	cats := make([]action.Category, 0, len(b.limits))
	for c := range b.limits {
		cats = append(cats, c)
	}
	b.mu.Unlock()

	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	out := make([]Usage, 0, len(cats))
	for _, c := range cats {
		if u, err := b.Usage(c); err == nil {
			out = append(out, u)
		}
	}
	return out
}

// Categories returns the configured categories in stable order.
func (b *Budget) Categories() []action.Category {
	b.mu.Lock()
	defer b.mu.Unlock()
	cats := make([]action.Category, 0, len(b.limits))
	for c := range b.limits {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}
