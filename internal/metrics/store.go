// Package metrics keeps the durable log of action attempts and the daily
// counters derived from it.
package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/feedbot/internal/action"
	"github.com/Dicklesworthstone/feedbot/internal/util"
)

// Daily stat names.
const (
	StatErrors             = "errors"
	StatSuccessfulRequests = "successful_requests"
	StatFailedRequests     = "failed_requests"
	StatRateLimitErrors    = "rate_limit_errors"
	StatAuthErrors         = "auth_errors"
	StatNetworkErrors      = "network_errors"
	StatOtherErrors        = "other_errors"
)

// Detail keys understood by the store.
const (
	DetailErrorClass = "error_class"
)

var errorClassStats = map[string]string{
	"rate_limit": StatRateLimitErrors,
	"auth":       StatAuthErrors,
	"network":    StatNetworkErrors,
	"other":      StatOtherErrors,
}

// Record is one attempt. Records are immutable once appended.
type Record struct {
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details"`
}

// Store is the metrics store: an append-only log of records per category
// plus process-lifetime daily counters. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	path    string
	records map[string][]Record
	daily   map[string]int
	day     time.Time

	collector *Collector

	// nowFn allows test time injection.
	nowFn func() time.Time
}

// NewStore creates an empty store persisted at path. An empty path
// disables persistence.
func NewStore(path string) *Store {
	s := &Store{
		path:    path,
		records: make(map[string][]Record),
		nowFn:   time.Now,
	}
	s.daily = newDailyStats()
	s.day = dayStart(s.now())
	return s
}

// Open creates a store and loads any existing records from path.
func Open(path string) (*Store, error) {
	s := NewStore(path)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func newDailyStats() map[string]int {
	stats := map[string]int{
		StatErrors:             0,
		StatSuccessfulRequests: 0,
		StatFailedRequests:     0,
		StatRateLimitErrors:    0,
		StatAuthErrors:         0,
		StatNetworkErrors:      0,
		StatOtherErrors:        0,
	}
	for _, c := range action.All() {
		stats[c.StatKey()] = 0
	}
	return stats
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SetClock replaces the time source and restarts the daily window at the
// new current day.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
	s.day = dayStart(s.now())
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// SetCollector attaches a prometheus collector that mirrors TrackAction.
func (s *Store) SetCollector(c *Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collector = c
}

// Path returns the persistence path.
func (s *Store) Path() string {
	return s.path
}

// rolloverLocked resets the daily counters when the local day changed.
// Caller must hold s.mu.
func (s *Store) rolloverLocked(now time.Time) {
	today := dayStart(now)
	if today.After(s.day) {
		slog.Info("daily stats rolled over", "previous_day", s.day.Format("2006-01-02"))
		s.daily = newDailyStats()
		s.day = today
	}
}

// applyLocked updates the daily counters for one record. Caller must hold s.mu.
func (s *Store) applyLocked(category string, success bool, details map[string]any) {
	if success {
		if c, err := action.ParseCategory(category); err == nil {
			s.daily[c.StatKey()]++
		}
		s.daily[StatSuccessfulRequests]++
		return
	}

	s.daily[StatFailedRequests]++
	s.daily[StatErrors]++
	class, _ := details[DetailErrorClass].(string)
	if stat, ok := errorClassStats[class]; ok {
		s.daily[stat]++
	} else {
		s.daily[StatOtherErrors]++
	}
}

// TrackAction appends a record for category and updates the daily stats.
func (s *Store) TrackAction(category string, success bool, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}

	s.mu.Lock()
	now := s.now()
	s.rolloverLocked(now)
	recs := s.records[category]
	// Windowed queries binary-search by timestamp; keep each log ordered
	// even if the clock steps backwards.
	if n := len(recs); n > 0 && now.Before(recs[n-1].Timestamp) {
		now = recs[n-1].Timestamp
	}
	s.records[category] = append(recs, Record{
		ID:        uuid.NewString(),
		Timestamp: now,
		Success:   success,
		Details:   details,
	})
	s.applyLocked(category, success, details)
	collector := s.collector
	s.mu.Unlock()

	if collector != nil {
		class, _ := details[DetailErrorClass].(string)
		collector.observe(category, success, class)
	}
}

// DailyStats returns a copy of the current daily counters.
func (s *Store) DailyStats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(s.now())

	out := make(map[string]int, len(s.daily))
	for k, v := range s.daily {
		out[k] = v
	}
	return out
}

// SuccessRate returns the success percentage. With an empty category it
// uses the daily counters; otherwise it uses today's records of that
// category. It returns 0 when nothing has been recorded.
func (s *Store) SuccessRate(category string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rolloverLocked(now)

	if category == "" {
		ok := s.daily[StatSuccessfulRequests]
		total := ok + s.daily[StatFailedRequests]
		if total == 0 {
			return 0.0
		}
		return float64(ok) / float64(total) * 100
	}

	rate, _ := s.rateSinceLocked(category, dayStart(now))
	return rate
}

// SuccessRateSince returns the success percentage and sample count of the
// category's records at or after since.
func (s *Store) SuccessRateSince(category string, since time.Time) (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateSinceLocked(category, since)
}

func (s *Store) rateSinceLocked(category string, since time.Time) (float64, int) {
	records := s.records[category]
	i := sort.Search(len(records), func(i int) bool {
		return !records[i].Timestamp.Before(since)
	})
	total := len(records) - i
	if total == 0 {
		return 0.0, 0
	}
	ok := 0
	for _, r := range records[i:] {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(total) * 100, total
}

// ResetDailyStats zeroes every daily counter. The record log is untouched.
func (s *Store) ResetDailyStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily = newDailyStats()
	s.day = dayStart(s.now())
}

// ErrorDistribution returns today's error counts by class.
func (s *Store) ErrorDistribution() map[string]int {
	stats := s.DailyStats()
	return map[string]int{
		"rate_limit":     stats[StatRateLimitErrors],
		"authentication": stats[StatAuthErrors],
		"network":        stats[StatNetworkErrors],
		"other":          stats[StatOtherErrors],
	}
}

// Records returns a copy of the category's records in insertion order.
func (s *Store) Records(category string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records[category]...)
}

// Categories returns every category that has records, sorted.
func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats := make([]string, 0, len(s.records))
	for c := range s.records {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// SuccessTimestamps returns timestamps of successful records of category at
// or after since, oldest first.
func (s *Store) SuccessTimestamps(category string, since time.Time) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []time.Time
	for _, r := range s.records[category] {
		if r.Success && !r.Timestamp.Before(since) {
			out = append(out, r.Timestamp)
		}
	}
	return out
}

// Prune drops records older than retention and returns how many were
// removed. Daily counters are not affected.
func (s *Store) Prune(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	removed := 0
	for c, records := range s.records {
		i := sort.Search(len(records), func(i int) bool {
			return !records[i].Timestamp.Before(cutoff)
		})
		if i == 0 {
			continue
		}
		removed += i
		if i == len(records) {
			delete(s.records, c)
			continue
		}
		s.records[c] = append([]Record(nil), records[i:]...)
	}
	return removed
}

// Load reads the record log from disk and rebuilds today's daily counters
// from it. A missing file is not an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read metrics file: %w", err)
	}

	var records map[string][]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse metrics file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for c, list := range records {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		records[c] = list
	}
	if records == nil {
		records = make(map[string][]Record)
	}
	s.records = records

	now := s.now()
	s.daily = newDailyStats()
	s.day = dayStart(now)
	for c, list := range s.records {
		for _, r := range list {
			if !r.Timestamp.Before(s.day) {
				s.applyLocked(c, r.Success, r.Details)
			}
		}
	}
	return nil
}

// Save writes the full record log, pretty-printed, replacing the file
// atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	if err := util.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
