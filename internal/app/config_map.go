package app

import (
	"fmt"
	"strings"
	"time"

	"beatd/internal/beat"
	"beatd/internal/dispatch"
	"beatd/internal/observability/pprof"
	"beatd/internal/storage"
)

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	if cfg == nil {
		return storage.Config{}, fmt.Errorf("config is nil")
	}
	sc := cfg.Storage

	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	switch driver {
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = "./beatd.db"
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: driver}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDispatchConfig(cfg *Config) (dispatch.Config, error) {
	if cfg == nil {
		return dispatch.Config{}, fmt.Errorf("config is nil")
	}
	dc := cfg.Dispatch

	driver := strings.ToLower(strings.TrimSpace(dc.Driver))
	if driver == "" {
		driver = "http"
	}
	switch driver {
	case "http":
		if strings.TrimSpace(dc.Endpoint) == "" {
			return dispatch.Config{}, fmt.Errorf("dispatch.endpoint is required when dispatch.driver=http")
		}
	case "log":
	default:
		return dispatch.Config{}, fmt.Errorf("unknown dispatch.driver: %s", dc.Driver)
	}

	if dc.RetryMax < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.retry_max must be >= 0")
	}
	retryMax := dc.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}

	timeout, err := parseDurationOrDefault("dispatch.timeout", dc.Timeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	waitMin, err := parseDurationOrDefault("dispatch.retry_wait_min", dc.RetryWaitMin, 250*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	waitMax, err := parseDurationOrDefault("dispatch.retry_wait_max", dc.RetryWaitMax, 2*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	if waitMax < waitMin {
		waitMax = waitMin
	}

	return dispatch.Config{
		Driver:       driver,
		Endpoint:     strings.TrimSpace(dc.Endpoint),
		AuthToken:    dc.AuthToken,
		Timeout:      timeout,
		RetryMax:     retryMax,
		RetryWaitMin: waitMin,
		RetryWaitMax: waitMax,
	}, nil
}

func mapPprofConfig(cfg *Config) (pprof.Config, error) {
	if cfg == nil || cfg.Pprof == nil {
		return pprof.Config{}, nil
	}
	pc := cfg.Pprof

	readTimeout, err := parseDurationField("pprof.read_timeout", pc.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	writeTimeout, err := parseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idleTimeout, err := parseDurationField("pprof.idle_timeout", pc.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}

	return pprof.Config{
		Enabled:       pc.Enabled,
		Addr:          strings.TrimSpace(pc.Addr),
		Token:         pc.Token,
		AllowInsecure: pc.AllowInsecure,
		ReadTimeout:   readTimeout,
		WriteTimeout:  writeTimeout,
		IdleTimeout:   idleTimeout,
	}, nil
}

// mapBeatConfig only parses; zero values keep the loop's own defaults.
func mapBeatConfig(cfg *Config) (beat.Config, error) {
	if cfg == nil {
		return beat.Config{}, nil
	}
	bc := cfg.Beat

	maxSleep, err := parseDurationField("beat.max_sleep_interval", bc.MaxSleepInterval)
	if err != nil {
		return beat.Config{}, err
	}
	reconcile, err := parseDurationField("beat.reconcile_interval", bc.ReconcileInterval)
	if err != nil {
		return beat.Config{}, err
	}
	horizon, err := parseDurationField("beat.search_horizon", bc.SearchHorizon)
	if err != nil {
		return beat.Config{}, err
	}
	retryDelay, err := parseDurationField("beat.dispatch_retry_delay", bc.DispatchRetryDelay)
	if err != nil {
		return beat.Config{}, err
	}

	return beat.Config{
		MaxSleepInterval:   maxSleep,
		ReconcileInterval:  reconcile,
		SearchHorizon:      horizon,
		DispatchRetryDelay: retryDelay,
	}, nil
}
