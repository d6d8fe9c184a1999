package schedule

import (
	"errors"
	"testing"
	"time"
)

func mustCompile(t *testing.T, ct Crontab, horizon time.Duration) Schedule {
	t.Helper()
	s, err := ct.Compile(horizon)
	if err != nil {
		t.Fatalf("Compile(%v) error: %v", ct, err)
	}
	return s
}

func TestCrontabSpecDefaults(t *testing.T) {
	t.Parallel()
	if got := (Crontab{}).Spec(); got != "* * * * *" {
		t.Fatalf("Spec = %q, want all stars", got)
	}
	ct := Crontab{Minute: "30", Hour: "4", DayOfWeek: "1"}
	if got := ct.Spec(); got != "30 4 * * 1" {
		t.Fatalf("Spec = %q", got)
	}
	if got := ct.Location(); got != "UTC" {
		t.Fatalf("Location = %q, want UTC", got)
	}
}

func TestCrontabNextOccurrence(t *testing.T) {
	t.Parallel()

	// 2025-06-02 is a Monday.
	tests := []struct {
		name    string
		ct      Crontab
		lastRun time.Time
		now     time.Time
		want    time.Time
	}{
		{
			name:    "weekly monday morning",
			ct:      Crontab{Minute: "30", Hour: "4", DayOfWeek: "1"},
			lastRun: time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC),
			now:     time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC),
			want:    time.Date(2025, 6, 9, 4, 30, 0, 0, time.UTC),
		},
		{
			name:    "dom and dow both set fire on either: monday wins",
			ct:      Crontab{Minute: "0", Hour: "0", DayOfMonth: "1", DayOfWeek: "1"},
			lastRun: time.Date(2025, 6, 28, 0, 0, 0, 0, time.UTC),
			now:     time.Date(2025, 6, 28, 0, 0, 0, 0, time.UTC),
			want:    time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), // Monday before July 1st
		},
		{
			name:    "dom and dow both set fire on either: first of month wins",
			ct:      Crontab{Minute: "0", Hour: "0", DayOfMonth: "1", DayOfWeek: "1"},
			lastRun: time.Date(2025, 6, 30, 0, 0, 30, 0, time.UTC),
			now:     time.Date(2025, 6, 30, 0, 0, 30, 0, time.UTC),
			want:    time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "dom set dow unrestricted ignores weekday",
			ct:      Crontab{Minute: "0", Hour: "12", DayOfMonth: "15"},
			lastRun: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
			now:     time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
			want:    time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:    "timezone shifts wall clock",
			ct:      Crontab{Minute: "30", Hour: "9", Timezone: "America/New_York"},
			lastRun: time.Time{},
			now:     time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			want:    time.Date(2025, 6, 10, 13, 30, 0, 0, time.UTC), // 09:30 EDT
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := mustCompile(t, tt.ct, 0)
			got, err := s.IsDue(tt.lastRun, tt.now)
			if err != nil {
				t.Fatalf("IsDue error: %v", err)
			}
			if got.Fire {
				t.Fatalf("unexpectedly due; want wait until %v", tt.want)
			}
			if want := tt.want.Sub(tt.now); got.Wait != want {
				t.Fatalf("Wait = %v (next at %v), want %v (next at %v)",
					got.Wait, tt.now.Add(got.Wait), want, tt.want)
			}
		})
	}
}

func TestCrontabFiresOnBoundary(t *testing.T) {
	t.Parallel()
	s := mustCompile(t, Crontab{Minute: "0"}, 0)

	lastRun := time.Date(2025, 6, 2, 10, 59, 0, 0, time.UTC)
	now := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	got, err := s.IsDue(lastRun, now)
	if err != nil {
		t.Fatalf("IsDue error: %v", err)
	}
	if !got.Fire {
		t.Fatal("hourly schedule not due at the top of the hour")
	}

	// A missed window still fires exactly once: the next occurrence after
	// lastRun is in the past, so the entry is due now.
	now = time.Date(2025, 6, 2, 14, 7, 0, 0, time.UTC)
	got, err = s.IsDue(lastRun, now)
	if err != nil {
		t.Fatalf("IsDue error: %v", err)
	}
	if !got.Fire {
		t.Fatal("overdue schedule not due")
	}
}

func TestCrontabFirstRunWaits(t *testing.T) {
	t.Parallel()
	s := mustCompile(t, Crontab{Minute: "*/5"}, 0)
	now := time.Date(2025, 6, 2, 10, 1, 30, 0, time.UTC)
	got, err := s.IsDue(time.Time{}, now)
	if err != nil {
		t.Fatalf("IsDue error: %v", err)
	}
	if got.Fire {
		t.Fatal("entry with no run history fired immediately; want wait for next occurrence")
	}
	if want := 3*time.Minute + 30*time.Second; got.Wait != want {
		t.Fatalf("Wait = %v, want %v", got.Wait, want)
	}
}

func TestCrontabUnsatisfiable(t *testing.T) {
	t.Parallel()

	// February 30th does not exist; the search must terminate with an
	// error instead of firing or spinning.
	s := mustCompile(t, Crontab{Minute: "0", Hour: "0", DayOfMonth: "30", MonthOfYear: "2"}, 0)
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	_, err := s.IsDue(now, now)
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("got %v, want ErrUnsatisfiable", err)
	}
}

func TestCrontabHorizon(t *testing.T) {
	t.Parallel()

	// Next Feb 29 after mid-2025 is in 2028: fine without a horizon,
	// unsatisfiable under a 30-day one.
	leap := Crontab{Minute: "0", Hour: "0", DayOfMonth: "29", MonthOfYear: "2"}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s := mustCompile(t, leap, 0)
	got, err := s.IsDue(now, now)
	if err != nil {
		t.Fatalf("IsDue error: %v", err)
	}
	if want := time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC).Sub(now); got.Wait != want {
		t.Fatalf("Wait = %v, want %v", got.Wait, want)
	}

	s = mustCompile(t, leap, 30*24*time.Hour)
	if _, err := s.IsDue(now, now); !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("got %v, want ErrUnsatisfiable under short horizon", err)
	}
}

func TestCrontabValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ct   Crontab
		ok   bool
	}{
		{name: "defaults", ct: Crontab{}, ok: true},
		{name: "full", ct: Crontab{Minute: "0", Hour: "4", DayOfMonth: "1,15", MonthOfYear: "*/2", DayOfWeek: "1-5", Timezone: "Europe/Berlin"}, ok: true},
		{name: "minute out of range", ct: Crontab{Minute: "61"}},
		{name: "garbage field", ct: Crontab{Hour: "noon"}},
		{name: "bad timezone", ct: Crontab{Timezone: "Not/AZone"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ct.Validate()
			if tt.ok && err != nil {
				t.Fatalf("valid crontab rejected: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("got %v, want ErrInvalid", err)
			}
		})
	}
}
