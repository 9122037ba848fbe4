package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one scheduler pass over the feed.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Processed  int        `json:"processed" yaml:"processed"`
	Executed   int        `json:"executed" yaml:"executed"`
	Skipped    int        `json:"skipped" yaml:"skipped"`
	Failed     int        `json:"failed" yaml:"failed"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StartRun inserts a new run and returns it.
func (s *Store) StartRun() (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Run{ID: uuid.NewString(), StartedAt: s.now()}
	if _, err := s.db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`, r.ID, r.StartedAt); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// FinishRun stamps the run as finished and stores its counters.
func (s *Store) FinishRun(r *Run) error {
	if r == nil || r.ID == "" {
		return errors.New("run is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r.FinishedAt = &now
	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, processed = ?, executed = ?, skipped = ?, failed = ?, error = ?
		WHERE id = ?`,
		now, r.Processed, r.Executed, r.Skipped, r.Failed, r.Error, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, processed, executed, skipped, failed, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Processed, &r.Executed, &r.Skipped, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
