package ratelimit

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Dicklesworthstone/feedbot/internal/action"
)

// BreakerPhase describes the current state of a category's circuit.
type BreakerPhase string

const (
	// BreakerClosed means actions flow normally.
	BreakerClosed BreakerPhase = "closed"
	// BreakerOpen means actions of the category are refused.
	BreakerOpen BreakerPhase = "open"
	// BreakerHalfOpen means a single probe action is admitted.
	BreakerHalfOpen BreakerPhase = "half_open"
)

// Trip reasons.
const (
	ReasonConsecutiveFailures = "consecutive_failures"
	ReasonLowSuccessRate      = "low_success_rate"
	ReasonCredentials         = "refresh_credentials"
)

// BreakerConfig configures circuit breaking.
type BreakerConfig struct {
	// FailureThreshold trips the circuit after N consecutive failed executions.
	FailureThreshold int `toml:"failure_threshold" json:"failure_threshold"`

	// MinSuccessRate trips the circuit when the success percentage over
	// RateWindow drops below it (0 disables).
	MinSuccessRate float64 `toml:"min_success_rate" json:"min_success_rate"`

	// MinSamples is the number of attempts needed before the rate is trusted.
	MinSamples int `toml:"min_samples" json:"min_samples"`

	// RateWindow is how far back the success rate is measured.
	RateWindow time.Duration `toml:"rate_window" json:"rate_window"`

	// Cooldown is how long the circuit stays open before a probe.
	Cooldown time.Duration `toml:"cooldown" json:"cooldown"`

	// MaxCooldown caps the cooldown growth on repeated trips.
	MaxCooldown time.Duration `toml:"max_cooldown" json:"max_cooldown"`
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		MinSuccessRate:   20,
		MinSamples:       10,
		RateWindow:       time.Hour,
		Cooldown:         15 * time.Minute,
		MaxCooldown:      time.Hour,
	}
}

// BreakerStatus is a read-only snapshot of one category's circuit.
type BreakerStatus struct {
	Category            action.Category `json:"category" yaml:"category"`
	Phase               BreakerPhase    `json:"phase" yaml:"phase"`
	Reason              string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures" yaml:"consecutive_failures"`
	CooldownRemaining   time.Duration   `json:"cooldown_remaining" yaml:"cooldown_remaining"`
	Trips               int             `json:"trips" yaml:"trips"`
}

type breakerState struct {
	phase               BreakerPhase
	reason              string
	consecutiveFailures int
	cooldown            time.Duration
	cooldownUntil       time.Time
	rateGraceUntil      time.Time
	probeInFlight       bool
	trips               int
}

// Breaker opens a per-category circuit when a category keeps failing, its
// success rate collapses, or its credentials are rejected. It is safe for
// concurrent use.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	states map[action.Category]*breakerState

	// nowFn allows test time injection.
	nowFn func() time.Time
}

// NewBreaker creates a Breaker, filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = def.MaxCooldown
		if cfg.MaxCooldown < cfg.Cooldown {
			cfg.MaxCooldown = cfg.Cooldown
		}
	}
	return &Breaker{
		config: cfg,
		states: make(map[action.Category]*breakerState),
		nowFn:  time.Now,
	}
}

// Config returns the effective configuration.
func (b *Breaker) Config() BreakerConfig {
	return b.config
}

// SetClock replaces the time source.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFn = now
}

func (b *Breaker) now() time.Time {
	if b.nowFn != nil {
		return b.nowFn()
	}
	return time.Now()
}

func (b *Breaker) stateLocked(c action.Category) *breakerState {
	if s, ok := b.states[c]; ok {
		return s
	}
	s := &breakerState{phase: BreakerClosed, cooldown: b.config.Cooldown}
	b.states[c] = s
	return s
}

// advanceLocked moves an open circuit to half-open once its cooldown has
// elapsed. Circuits opened for credentials only close via MarkRecovered.
func (b *Breaker) advanceLocked(s *breakerState, now time.Time) {
	if s.phase == BreakerOpen && s.reason != ReasonCredentials && !now.Before(s.cooldownUntil) {
		s.phase = BreakerHalfOpen
		s.probeInFlight = false
	}
}

// Allow reports whether an action of category c may proceed. In the
// half-open phase only one probe is admitted until it reports back.
func (b *Breaker) Allow(c action.Category) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateLocked(c)
	b.advanceLocked(s, b.now())

	switch s.phase {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if s.probeInFlight {
			return false
		}
		s.probeInFlight = true
		return true
	}
	return true
}

// Release returns an admitted half-open probe for c that never reached the
// remote, so the next Allow can admit another.
func (b *Breaker) Release(c action.Category) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.states[c]; ok && s.phase == BreakerHalfOpen {
		s.probeInFlight = false
	}
}

// RecordSuccess closes the circuit for c and resets its failure count.
func (b *Breaker) RecordSuccess(c action.Category) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateLocked(c)
	if s.phase != BreakerClosed {
		slog.Info("circuit closed", "category", c, "previous_phase", s.phase)
		s.rateGraceUntil = b.now().Add(b.config.RateWindow)
	}
	s.phase = BreakerClosed
	s.reason = ""
	s.consecutiveFailures = 0
	s.cooldown = b.config.Cooldown
	s.probeInFlight = false
}

// RecordFailure counts a failed execution for c, tripping the circuit at the
// threshold or re-opening a half-open circuit with a doubled cooldown.
func (b *Breaker) RecordFailure(c action.Category) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateLocked(c)
	s.consecutiveFailures++

	switch s.phase {
	case BreakerHalfOpen:
		next := s.cooldown * 2
		if next > b.config.MaxCooldown {
			next = b.config.MaxCooldown
		}
		s.cooldown = next
		b.tripLocked(c, s, s.reason)
	case BreakerClosed:
		if s.consecutiveFailures >= b.config.FailureThreshold {
			b.tripLocked(c, s, ReasonConsecutiveFailures)
		}
	}
}

// ObserveSuccessRate trips a closed circuit when rate (a percentage) over at
// least MinSamples attempts is below MinSuccessRate. Observations are ignored
// for one RateWindow after the circuit closes so stale failures do not
// re-trip it.
func (b *Breaker) ObserveSuccessRate(c action.Category, rate float64, samples int) {
	if b.config.MinSuccessRate <= 0 || samples < b.config.MinSamples {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateLocked(c)
	if s.phase != BreakerClosed || b.now().Before(s.rateGraceUntil) {
		return
	}
	if rate < b.config.MinSuccessRate {
		b.tripLocked(c, s, ReasonLowSuccessRate)
	}
}

// TripCredentials opens the circuit for c until MarkRecovered is called.
func (b *Breaker) TripCredentials(c action.Category) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(c, b.stateLocked(c), ReasonCredentials)
}

// MarkRecovered closes every circuit that was opened for credentials.
func (b *Breaker) MarkRecovered() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c, s := range b.states {
		if s.reason == ReasonCredentials {
			slog.Info("circuit closed after credential recovery", "category", c)
			s.phase = BreakerClosed
			s.reason = ""
			s.consecutiveFailures = 0
			s.probeInFlight = false
		}
	}
}

// NeedsRecovery reports whether any circuit is waiting on credentials.
func (b *Breaker) NeedsRecovery() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.states {
		if s.phase == BreakerOpen && s.reason == ReasonCredentials {
			return true
		}
	}
	return false
}

// tripLocked opens the circuit. Caller must hold b.mu.
func (b *Breaker) tripLocked(c action.Category, s *breakerState, reason string) {
	now := b.now()
	s.phase = BreakerOpen
	s.reason = reason
	s.cooldownUntil = now.Add(s.cooldown)
	s.probeInFlight = false
	s.trips++

	slog.Warn("circuit opened",
		"category", c,
		"reason", reason,
		"consecutive_failures", s.consecutiveFailures,
		"cooldown", FormatDelay(s.cooldown),
	)
}

// Status returns a snapshot for category c.
func (b *Breaker) Status(c action.Category) BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked(c, b.stateLocked(c))
}

func (b *Breaker) statusLocked(c action.Category, s *breakerState) BreakerStatus {
	now := b.now()
	b.advanceLocked(s, now)

	var remaining time.Duration
	if s.phase == BreakerOpen && s.reason != ReasonCredentials {
		remaining = s.cooldownUntil.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
	}
	return BreakerStatus{
		Category:            c,
		Phase:               s.phase,
		Reason:              s.reason,
		ConsecutiveFailures: s.consecutiveFailures,
		CooldownRemaining:   remaining,
		Trips:               s.trips,
	}
}

// StatusAll returns snapshots for every category seen so far.
func (b *Breaker) StatusAll() []BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	cats := make([]action.Category, 0, len(b.states))
	for c := range b.states {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	out := make([]BreakerStatus, 0, len(cats))
	for _, c := range cats {
		out = append(out, b.statusLocked(c, b.states[c]))
	}
	return out
}

// AllOpen reports whether every category in cats is currently refused.
func (b *Breaker) AllOpen(cats []action.Category) bool {
	if len(cats) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, c := range cats {
		s := b.stateLocked(c)
		b.advanceLocked(s, now)
		if s.phase != BreakerOpen {
			return false
		}
	}
	return true
}

// Guidance returns a human-readable description of the circuit for c.
func (b *Breaker) Guidance(c action.Category) string {
	st := b.Status(c)
	switch st.Phase {
	case BreakerOpen:
		if st.Reason == ReasonCredentials {
			return fmt.Sprintf("%s paused: credentials rejected, waiting for a successful session refresh.", c)
		}
		return fmt.Sprintf("%s paused (%s) for %s.", c, st.Reason, FormatDelay(st.CooldownRemaining))
	case BreakerHalfOpen:
		return fmt.Sprintf("%s probing: one action allowed to test recovery.", c)
	default:
		return fmt.Sprintf("%s active.", c)
	}
}
