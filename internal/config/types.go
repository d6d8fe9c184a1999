package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is the entry store shared with external editors.
	Storage StorageConfig `json:"storage"`

	// Dispatch controls how due tasks are handed to the task-queue runtime.
	Dispatch DispatchConfig `json:"dispatch"`

	// Beat controls the scheduling loop (wake cadence, reconciliation).
	Beat BeatConfig `json:"beat"`

	// Pprof controls the optional debug HTTP server (pprof, healthz,
	// statusz). Disabled unless configured.
	Pprof *PprofConfig `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./beatd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig controls the dispatcher that hands due tasks to the
// task-queue runtime.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Drivers:
//   - "http": JSON POST to Endpoint with bounded transient retries.
//   - "log":  log-only sink (dev/dry-run; accepts everything).
type DispatchConfig struct {
	Driver   string `json:"driver"`
	Endpoint string `json:"endpoint,omitempty"`

	// AuthToken is sent as a bearer token when set (do not log).
	AuthToken string `json:"auth_token,omitempty"`

	// Timeout bounds a single dispatch attempt. Default: "10s".
	Timeout string `json:"timeout,omitempty"`

	// RetryMax is the number of transient retries per dispatch. Default: 2.
	RetryMax     int    `json:"retry_max,omitempty"`
	RetryWaitMin string `json:"retry_wait_min,omitempty"` // default "250ms"
	RetryWaitMax string `json:"retry_wait_max,omitempty"` // default "2s"
}

// PprofConfig controls the optional debug HTTP server.
//
// Binding anywhere other than loopback requires token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// BeatConfig controls the scheduling loop.
//
// All durations are Go duration strings.
//
// Defaults (when fields are omitted/zero):
//   - max_sleep_interval: "30s"
//   - reconcile_interval: "5m"
//   - search_horizon: "43800h" (five years)
//   - dispatch_retry_delay: "5s"
type BeatConfig struct {
	// MaxSleepInterval caps how long the loop sleeps without re-checking
	// the store for changes, even when nothing is due.
	MaxSleepInterval string `json:"max_sleep_interval,omitempty"`

	// ReconcileInterval forces a full store reload and diff, catching
	// anything incremental sync may have missed.
	ReconcileInterval string `json:"reconcile_interval,omitempty"`

	// SearchHorizon bounds how far into the future a due-time search may
	// look before the schedule is treated as unsatisfiable.
	SearchHorizon string `json:"search_horizon,omitempty"`

	// DispatchRetryDelay is how soon a failed dispatch is retried.
	DispatchRetryDelay string `json:"dispatch_retry_delay,omitempty"`
}
