package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by entry lookups for unknown ids.
var ErrNotFound = errors.New("storage: entry not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, lost on restart; development and tests
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunState is one entry's bookkeeping delta after a dispatch: the new
// last-run timestamp, the new counter value, and whether a one-off entry
// must be disabled after this run.
//
// Saving a disable also clears last_run_at, the same way definition
// edits do, so re-enabling the entry later starts it fresh.
type RunState struct {
	ID            string
	LastRunAt     time.Time
	TotalRunCount int64
	Disable       bool
}

// ChangeEvent is the bus payload published after a committed definition
// change. Event types: "entry.created", "entry.updated", "entry.deleted".
type ChangeEvent struct {
	ID   string
	Name string
	At   time.Time
}
