package schedule

import (
	"fmt"
	"time"
)

// Period is the unit of an interval schedule.
type Period string

const (
	PeriodSeconds Period = "seconds"
	PeriodMinutes Period = "minutes"
	PeriodHours   Period = "hours"
	PeriodDays    Period = "days"
)

// Interval fires every fixed duration, measured from the last run.
type Interval struct {
	Every  int
	Period Period
}

func (iv Interval) Kind() Kind { return KindInterval }

func (iv Interval) Validate() error {
	if iv.Every <= 0 {
		return fmt.Errorf("%w: interval every must be > 0, got %d", ErrInvalid, iv.Every)
	}
	switch iv.Period {
	case PeriodSeconds, PeriodMinutes, PeriodHours, PeriodDays:
		return nil
	default:
		return fmt.Errorf("%w: unknown interval period %q", ErrInvalid, string(iv.Period))
	}
}

// Duration returns the full period length.
func (iv Interval) Duration() time.Duration {
	n := time.Duration(iv.Every)
	switch iv.Period {
	case PeriodSeconds:
		return n * time.Second
	case PeriodMinutes:
		return n * time.Minute
	case PeriodHours:
		return n * time.Hour
	case PeriodDays:
		return n * 24 * time.Hour
	default:
		return 0
	}
}

// IsDue fires immediately when the entry never ran, then whenever the full
// period has elapsed since lastRun. Elapsed exactly equal to the period
// counts as due.
func (iv Interval) IsDue(lastRun, now time.Time) (Due, error) {
	d := iv.Duration()
	if d <= 0 {
		return Due{}, fmt.Errorf("%w: interval %d %s", ErrInvalid, iv.Every, string(iv.Period))
	}
	if lastRun.IsZero() {
		return Due{Fire: true, Wait: d}, nil
	}
	elapsed := now.Sub(lastRun)
	if elapsed >= d {
		return Due{Fire: true, Wait: d}, nil
	}
	return Due{Wait: d - elapsed}, nil
}

func (iv Interval) String() string {
	if iv.Every == 1 {
		return fmt.Sprintf("every %s", trimPlural(string(iv.Period)))
	}
	return fmt.Sprintf("every %d %s", iv.Every, string(iv.Period))
}

func trimPlural(unit string) string {
	if len(unit) > 1 && unit[len(unit)-1] == 's' {
		return unit[:len(unit)-1]
	}
	return unit
}
