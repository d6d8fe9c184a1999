package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestClockedIsDue(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := Clocked{At: at}

	tests := []struct {
		name     string
		lastRun  time.Time
		now      time.Time
		wantFire bool
		wantWait time.Duration
	}{
		{name: "before the instant", now: at.Add(-90 * time.Second), wantWait: 90 * time.Second},
		{name: "exactly at the instant", now: at, wantFire: true, wantWait: NeverCheck},
		{name: "late discovery still fires", now: at.Add(3 * time.Hour), wantFire: true, wantWait: NeverCheck},
		{name: "already ran never fires again", lastRun: at.Add(time.Second), now: at.Add(time.Hour), wantWait: NeverCheck},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.IsDue(tt.lastRun, tt.now)
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

func TestClockedValidate(t *testing.T) {
	t.Parallel()
	if err := (Clocked{At: time.Now()}).Validate(); err != nil {
		t.Fatalf("valid clocked rejected: %v", err)
	}
	if err := (Clocked{}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid for zero time", err)
	}
}
