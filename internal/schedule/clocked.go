package schedule

import (
	"fmt"
	"time"
)

// Clocked fires exactly once, at or after a fixed instant. Entries using
// it must be one-off; the loop disables them after the run is recorded.
type Clocked struct {
	At time.Time
}

func (c Clocked) Kind() Kind { return KindClocked }

func (c Clocked) Validate() error {
	if c.At.IsZero() {
		return fmt.Errorf("%w: clocked time is not set", ErrInvalid)
	}
	return nil
}

func (c Clocked) IsDue(lastRun, now time.Time) (Due, error) {
	// Once recorded, the schedule is spent. The one-off flag normally
	// disables the entry before this branch is ever hit.
	if !lastRun.IsZero() {
		return Due{Wait: NeverCheck}, nil
	}
	if now.Before(c.At) {
		return Due{Wait: c.At.Sub(now)}, nil
	}
	return Due{Fire: true, Wait: NeverCheck}, nil
}

func (c Clocked) String() string {
	return "at " + c.At.UTC().Format(time.RFC3339)
}
