package schedule

import (
	"errors"
	"time"
)

// Kind identifies which schedule variant an entry carries.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCrontab  Kind = "crontab"
	KindSolar    Kind = "solar"
	KindClocked  Kind = "clocked"
)

// NeverCheck is the recheck delay reported when a schedule can never fire
// again (e.g. a clocked entry that already ran). Large but finite so sleep
// arithmetic stays overflow-safe.
const NeverCheck = 100 * 365 * 24 * time.Hour

// Due is the outcome of a single schedule evaluation.
type Due struct {
	// Fire reports whether a run is due now.
	Fire bool

	// Wait is the delay until the next evaluation worth doing. When Fire
	// is set, Wait estimates the gap to the following occurrence; callers
	// normally re-evaluate after recording the run instead of trusting it.
	Wait time.Duration
}

// Schedule computes due times for one variant.
//
// lastRun is the wall time of the last attributed dispatch, zero if the
// entry never ran. Implementations must be safe for concurrent use.
type Schedule interface {
	Kind() Kind
	IsDue(lastRun, now time.Time) (Due, error)
}

var (
	// ErrInvalid marks a definition that can never be evaluated: bad
	// syntax, out-of-range fields, or variant conflicts. Entries failing
	// with it are rejected at create/load time.
	ErrInvalid = errors.New("invalid schedule")

	// ErrUnsatisfiable marks a well-formed schedule with no occurrence
	// inside the search horizon (e.g. day-of-month 30 in February).
	// Callers should stop evaluating the entry until its definition
	// changes.
	ErrUnsatisfiable = errors.New("schedule has no future occurrence")

	// ErrNoOccurrence marks a transient gap: the event does not occur in
	// the scanned window (e.g. sun events during polar day or night).
	// Callers should re-check after a day rather than give up.
	ErrNoOccurrence = errors.New("event does not occur in window")
)
