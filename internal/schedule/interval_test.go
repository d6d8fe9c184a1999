package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestIntervalIsDue(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	iv := Interval{Every: 60, Period: PeriodSeconds}

	tests := []struct {
		name     string
		lastRun  time.Time
		now      time.Time
		wantFire bool
		wantWait time.Duration
	}{
		{name: "never ran fires immediately", now: base, wantFire: true, wantWait: time.Minute},
		{name: "just ran waits full period", lastRun: base, now: base, wantWait: time.Minute},
		{name: "one second early", lastRun: base, now: base.Add(59 * time.Second), wantWait: time.Second},
		{name: "exact boundary fires", lastRun: base, now: base.Add(time.Minute), wantFire: true, wantWait: time.Minute},
		{name: "overdue fires", lastRun: base, now: base.Add(5 * time.Minute), wantFire: true, wantWait: time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := iv.IsDue(tt.lastRun, tt.now)
			if err != nil {
				t.Fatalf("IsDue error: %v", err)
			}
			if got.Fire != tt.wantFire {
				t.Fatalf("Fire = %v, want %v", got.Fire, tt.wantFire)
			}
			if got.Wait != tt.wantWait {
				t.Fatalf("Wait = %v, want %v", got.Wait, tt.wantWait)
			}
		})
	}
}

func TestIntervalDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		iv   Interval
		want time.Duration
	}{
		{Interval{Every: 30, Period: PeriodSeconds}, 30 * time.Second},
		{Interval{Every: 5, Period: PeriodMinutes}, 5 * time.Minute},
		{Interval{Every: 2, Period: PeriodHours}, 2 * time.Hour},
		{Interval{Every: 7, Period: PeriodDays}, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := tt.iv.Duration(); got != tt.want {
			t.Fatalf("%v Duration = %v, want %v", tt.iv, got, tt.want)
		}
	}
}

func TestIntervalValidate(t *testing.T) {
	t.Parallel()
	if err := (Interval{Every: 1, Period: PeriodDays}).Validate(); err != nil {
		t.Fatalf("valid interval rejected: %v", err)
	}
	if err := (Interval{Every: 0, Period: PeriodSeconds}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("zero every: got %v, want ErrInvalid", err)
	}
	if err := (Interval{Every: -3, Period: PeriodSeconds}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("negative every: got %v, want ErrInvalid", err)
	}
	if err := (Interval{Every: 1, Period: "weeks"}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("unknown period: got %v, want ErrInvalid", err)
	}
}

func TestIntervalString(t *testing.T) {
	t.Parallel()
	if got := (Interval{Every: 1, Period: PeriodHours}).String(); got != "every hour" {
		t.Fatalf("String = %q", got)
	}
	if got := (Interval{Every: 10, Period: PeriodSeconds}).String(); got != "every 10 seconds" {
		t.Fatalf("String = %q", got)
	}
}
