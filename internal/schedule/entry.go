package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry is one persisted periodic task definition: what to run, how to
// route it, and exactly one schedule variant saying when.
//
// The scheduling loop mutates only the run bookkeeping fields (LastRunAt,
// TotalRunCount, and Enabled for one-off entries). Everything else belongs
// to whoever edits the store.
type Entry struct {
	// ID is the stable store-assigned identity ("ent_" prefix + UUID).
	ID   string
	Name string

	// Task is the task path the runtime executes (e.g. "proj.tasks.sync").
	Task string

	// Args is a JSON array, Kwargs a JSON object. Nil means empty.
	Args   json.RawMessage
	Kwargs json.RawMessage

	// Exactly one of these is non-nil.
	Interval *Interval
	Crontab  *Crontab
	Solar    *Solar
	Clocked  *Clocked

	// Routing options passed through to the runtime verbatim.
	Queue      string
	Exchange   string
	RoutingKey string
	Headers    json.RawMessage // JSON object; nil means empty
	Priority   *int            // 0..255 when set

	// Expires (absolute) and ExpireSeconds (relative to dispatch) are
	// mutually exclusive ways to bound how long a dispatched run stays
	// valid.
	Expires       *time.Time
	ExpireSeconds *int

	// OneOff entries are disabled after their first recorded run.
	OneOff bool

	// StartTime suppresses evaluation until the given instant.
	StartTime *time.Time

	Enabled bool

	// LastRunAt is zero when the entry never ran.
	LastRunAt     time.Time
	TotalRunCount int64

	// LastUpdated advances on every definition or bookkeeping write; the
	// store's change detection diffs on it.
	LastUpdated time.Time

	Description string
}

// Kind returns the active variant's kind, or "" when the entry is
// malformed (no variant or several).
func (e *Entry) Kind() Kind {
	var k Kind
	n := 0
	if e.Interval != nil {
		k = KindInterval
		n++
	}
	if e.Crontab != nil {
		k = KindCrontab
		n++
	}
	if e.Solar != nil {
		k = KindSolar
		n++
	}
	if e.Clocked != nil {
		k = KindClocked
		n++
	}
	if n != 1 {
		return ""
	}
	return k
}

// Validate checks the whole definition. All failures wrap ErrInvalid.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: entry name is required", ErrInvalid)
	}
	if strings.TrimSpace(e.Task) == "" {
		return fmt.Errorf("%w: entry %q: task is required", ErrInvalid, e.Name)
	}

	n := 0
	if e.Interval != nil {
		n++
	}
	if e.Crontab != nil {
		n++
	}
	if e.Solar != nil {
		n++
	}
	if e.Clocked != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: entry %q: exactly one schedule required, got %d", ErrInvalid, e.Name, n)
	}

	switch {
	case e.Interval != nil:
		if err := e.Interval.Validate(); err != nil {
			return fmt.Errorf("entry %q: %w", e.Name, err)
		}
	case e.Crontab != nil:
		if err := e.Crontab.Validate(); err != nil {
			return fmt.Errorf("entry %q: %w", e.Name, err)
		}
	case e.Solar != nil:
		if err := e.Solar.Validate(); err != nil {
			return fmt.Errorf("entry %q: %w", e.Name, err)
		}
	case e.Clocked != nil:
		if err := e.Clocked.Validate(); err != nil {
			return fmt.Errorf("entry %q: %w", e.Name, err)
		}
		if !e.OneOff {
			return fmt.Errorf("%w: entry %q: clocked entries must be one-off", ErrInvalid, e.Name)
		}
	}

	if e.Expires != nil && e.ExpireSeconds != nil {
		return fmt.Errorf("%w: entry %q: expires and expire_seconds are mutually exclusive", ErrInvalid, e.Name)
	}
	if e.ExpireSeconds != nil && *e.ExpireSeconds < 0 {
		return fmt.Errorf("%w: entry %q: expire_seconds must be >= 0", ErrInvalid, e.Name)
	}
	if e.Priority != nil && (*e.Priority < 0 || *e.Priority > 255) {
		return fmt.Errorf("%w: entry %q: priority must be in [0, 255]", ErrInvalid, e.Name)
	}

	if len(e.Args) > 0 && !isJSONArray(e.Args) {
		return fmt.Errorf("%w: entry %q: args must be a JSON array", ErrInvalid, e.Name)
	}
	if len(e.Kwargs) > 0 && !isJSONObject(e.Kwargs) {
		return fmt.Errorf("%w: entry %q: kwargs must be a JSON object", ErrInvalid, e.Name)
	}
	if len(e.Headers) > 0 && !isJSONObject(e.Headers) {
		return fmt.Errorf("%w: entry %q: headers must be a JSON object", ErrInvalid, e.Name)
	}
	return nil
}

// Compile validates the entry and returns the runnable schedule for its
// single active variant. horizon bounds crontab due-time searches.
func (e *Entry) Compile(horizon time.Duration) (Schedule, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	switch {
	case e.Interval != nil:
		return *e.Interval, nil
	case e.Crontab != nil:
		return e.Crontab.Compile(horizon)
	case e.Solar != nil:
		return *e.Solar, nil
	default:
		return *e.Clocked, nil
	}
}

// IsDue evaluates the compiled schedule for this entry, honoring the
// enabled flag and the start-time gate.
func (e *Entry) IsDue(s Schedule, now time.Time) (Due, error) {
	if !e.Enabled {
		return Due{Wait: NeverCheck}, nil
	}
	if e.StartTime != nil && now.Before(*e.StartTime) {
		return Due{Wait: e.StartTime.Sub(now)}, nil
	}
	return s.IsDue(e.LastRunAt, now)
}

// ExpiresAt resolves the absolute expiry for a run dispatched at now.
// Nil means the run never expires.
func (e *Entry) ExpiresAt(now time.Time) *time.Time {
	if e.Expires != nil {
		t := *e.Expires
		return &t
	}
	if e.ExpireSeconds != nil {
		t := now.Add(time.Duration(*e.ExpireSeconds) * time.Second)
		return &t
	}
	return nil
}

func isJSONArray(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '[' && json.Valid(t)
}

func isJSONObject(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{' && json.Valid(t)
}
