package model

import "time"

// PeriodicTask is a scheduled invocation of a named task registered on the
// runner. One-off entries fire once at NextRunAt and are disabled after
// dispatch; recurring entries are re-armed with their interval.
type PeriodicTask struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Task      string        `json:"task"`
	RecordID  string        `json:"record_id,omitempty"`
	Enabled   bool          `json:"enabled"`
	OneOff    bool          `json:"one_off"`
	Interval  time.Duration `json:"interval,omitempty"`
	NextRunAt time.Time     `json:"next_run_at"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
