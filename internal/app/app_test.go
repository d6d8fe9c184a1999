package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"beatd/internal/schedule"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beatd.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		sc, err := mapStorageConfig(&Config{})
		if err != nil {
			t.Fatalf("mapStorageConfig: %v", err)
		}
		if sc.Driver != "sqlite" || sc.Path != "./beatd.db" || sc.BusyTimeout != time.Second {
			t.Fatalf("unexpected defaults: %+v", sc)
		}
	})

	t.Run("memory", func(t *testing.T) {
		cfg := &Config{}
		cfg.Storage.Driver = "Memory"
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			t.Fatalf("mapStorageConfig: %v", err)
		}
		if sc.Driver != "memory" {
			t.Fatalf("driver = %q, want memory", sc.Driver)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := &Config{}
		cfg.Storage.Driver = "postgres"
		if _, err := mapStorageConfig(cfg); err == nil {
			t.Fatal("expected error for unknown driver")
		}
	})

	t.Run("bad busy_timeout", func(t *testing.T) {
		cfg := &Config{}
		cfg.Storage.BusyTimeout = "soon"
		if _, err := mapStorageConfig(cfg); err == nil {
			t.Fatal("expected error for unparseable duration")
		}
	})
}

func TestMapDispatchConfig(t *testing.T) {
	t.Parallel()

	t.Run("log driver defaults", func(t *testing.T) {
		cfg := &Config{}
		cfg.Dispatch.Driver = "log"
		dc, err := mapDispatchConfig(cfg)
		if err != nil {
			t.Fatalf("mapDispatchConfig: %v", err)
		}
		if dc.RetryMax != 2 {
			t.Fatalf("RetryMax = %d, want 2", dc.RetryMax)
		}
		if dc.Timeout != 10*time.Second {
			t.Fatalf("Timeout = %v, want 10s", dc.Timeout)
		}
		if dc.RetryWaitMin != 250*time.Millisecond || dc.RetryWaitMax != 2*time.Second {
			t.Fatalf("retry waits = %v/%v", dc.RetryWaitMin, dc.RetryWaitMax)
		}
	})

	t.Run("http requires endpoint", func(t *testing.T) {
		if _, err := mapDispatchConfig(&Config{}); err == nil {
			t.Fatal("expected error for missing endpoint")
		}
	})

	t.Run("http with endpoint", func(t *testing.T) {
		cfg := &Config{}
		cfg.Dispatch.Endpoint = " http://127.0.0.1:8080/api/tasks "
		dc, err := mapDispatchConfig(cfg)
		if err != nil {
			t.Fatalf("mapDispatchConfig: %v", err)
		}
		if dc.Driver != "http" || dc.Endpoint != "http://127.0.0.1:8080/api/tasks" {
			t.Fatalf("mapped = %q %q", dc.Driver, dc.Endpoint)
		}
	})

	t.Run("negative retry_max", func(t *testing.T) {
		cfg := &Config{}
		cfg.Dispatch.Driver = "log"
		cfg.Dispatch.RetryMax = -1
		if _, err := mapDispatchConfig(cfg); err == nil {
			t.Fatal("expected error for negative retry_max")
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := &Config{}
		cfg.Dispatch.Driver = "amqp"
		if _, err := mapDispatchConfig(cfg); err == nil {
			t.Fatal("expected error for unknown driver")
		}
	})
}

func TestMapBeatConfig(t *testing.T) {
	t.Parallel()

	t.Run("empty keeps loop defaults", func(t *testing.T) {
		bc, err := mapBeatConfig(&Config{})
		if err != nil {
			t.Fatalf("mapBeatConfig: %v", err)
		}
		if bc.MaxSleepInterval != 0 || bc.ReconcileInterval != 0 ||
			bc.SearchHorizon != 0 || bc.DispatchRetryDelay != 0 {
			t.Fatalf("expected zero config, got %+v", bc)
		}
	})

	t.Run("parses durations", func(t *testing.T) {
		cfg := &Config{}
		cfg.Beat.MaxSleepInterval = "10s"
		cfg.Beat.ReconcileInterval = "1m"
		bc, err := mapBeatConfig(cfg)
		if err != nil {
			t.Fatalf("mapBeatConfig: %v", err)
		}
		if bc.MaxSleepInterval != 10*time.Second || bc.ReconcileInterval != time.Minute {
			t.Fatalf("mapped = %+v", bc)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		cfg := &Config{}
		cfg.Beat.SearchHorizon = "5 years"
		if _, err := mapBeatConfig(cfg); err == nil {
			t.Fatal("expected error for unparseable duration")
		}
	})
}

func TestAppLifecycle(t *testing.T) {
	path := writeConfig(t, `{
  "logging": {"level": "ERROR", "console": false},
  "storage": {"driver": "memory"},
  "dispatch": {"driver": "log"},
  "beat": {"max_sleep_interval": "50ms", "reconcile_interval": "1h"}
}`)

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = a.Store().CreateEntry(ctx, schedule.Entry{
		Name:     "heartbeat",
		Task:     "tasks.heartbeat",
		Interval: &schedule.Interval{Every: 1, Period: schedule.PeriodHours},
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	// Never-run interval entries are due immediately; the create event
	// wakes the loop, so this should land well inside the deadline.
	deadline := time.Now().Add(3 * time.Second)
	for a.Beat().Snapshot().Dispatched == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("entry never dispatched; snapshot %+v", a.Beat().Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := a.Beat().Snapshot().State; st != "stopped" {
		t.Fatalf("state after stop = %q, want stopped", st)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}
}
