package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Crontab fires at wall-clock times matching five crontab constraint
// fields, evaluated in Timezone (IANA name; empty means UTC).
//
// Day-of-month and day-of-week combine the standard crontab way: when both
// are restricted, a day matching either fires; when at most one is
// restricted, both must match.
type Crontab struct {
	Minute      string
	Hour        string
	DayOfMonth  string
	MonthOfYear string
	DayOfWeek   string
	Timezone    string
}

// Five fields, no seconds, no descriptors. The parser handles the CRON_TZ
// prefix regardless of field options.
var crontabParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func (ct Crontab) Kind() Kind { return KindCrontab }

// Spec returns the five fields as a single crontab expression, with empty
// fields widened to "*".
func (ct Crontab) Spec() string {
	return strings.Join([]string{
		orStar(ct.Minute),
		orStar(ct.Hour),
		orStar(ct.DayOfMonth),
		orStar(ct.MonthOfYear),
		orStar(ct.DayOfWeek),
	}, " ")
}

func (ct Crontab) Location() string {
	if tz := strings.TrimSpace(ct.Timezone); tz != "" {
		return tz
	}
	return "UTC"
}

func (ct Crontab) Validate() error {
	_, err := ct.Compile(0)
	return err
}

// Compile parses the constraint fields and resolves the timezone. horizon
// bounds due-time searches; 0 leaves only the parser's own multi-year cap.
func (ct Crontab) Compile(horizon time.Duration) (Schedule, error) {
	spec := ct.Spec()
	tz := ct.Location()
	s, err := crontabParser.Parse("CRON_TZ=" + tz + " " + spec)
	if err != nil {
		return nil, fmt.Errorf("%w: crontab %q (tz %s): %v", ErrInvalid, spec, tz, err)
	}
	return &crontabSchedule{def: ct, sched: s, horizon: horizon}, nil
}

func (ct Crontab) String() string {
	return ct.Spec() + " " + ct.Location()
}

type crontabSchedule struct {
	def     Crontab
	sched   cron.Schedule
	horizon time.Duration
}

func (cs *crontabSchedule) Kind() Kind { return KindCrontab }

// IsDue searches for the earliest matching time strictly after lastRun
// (or after now when the entry never ran) and fires once it has arrived.
// A search that comes back empty, or lands beyond the horizon, reports
// ErrUnsatisfiable.
func (cs *crontabSchedule) IsDue(lastRun, now time.Time) (Due, error) {
	ref := lastRun
	if ref.IsZero() {
		ref = now
	}

	next := cs.sched.Next(ref)
	if next.IsZero() {
		return Due{}, fmt.Errorf("%w: crontab %q", ErrUnsatisfiable, cs.def.String())
	}

	if !next.After(now) {
		wait := NeverCheck
		if following := cs.sched.Next(now); !following.IsZero() {
			wait = following.Sub(now)
		}
		return Due{Fire: true, Wait: wait}, nil
	}

	if cs.horizon > 0 && next.Sub(now) > cs.horizon {
		return Due{}, fmt.Errorf("%w: crontab %q next occurrence %s exceeds horizon %s",
			ErrUnsatisfiable, cs.def.String(), next.UTC().Format(time.RFC3339), cs.horizon)
	}
	return Due{Wait: next.Sub(now)}, nil
}

func orStar(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "*"
	}
	return s
}
