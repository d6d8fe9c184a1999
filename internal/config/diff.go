package config

import (
	"sort"
	"strings"

	logx "beatd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Dispatch (never log the auth token)
	if strings.TrimSpace(oldCfg.Dispatch.Driver) != strings.TrimSpace(newCfg.Dispatch.Driver) ||
		strings.TrimSpace(oldCfg.Dispatch.Endpoint) != strings.TrimSpace(newCfg.Dispatch.Endpoint) ||
		strings.TrimSpace(oldCfg.Dispatch.Timeout) != strings.TrimSpace(newCfg.Dispatch.Timeout) ||
		oldCfg.Dispatch.RetryMax != newCfg.Dispatch.RetryMax ||
		strings.TrimSpace(oldCfg.Dispatch.RetryWaitMin) != strings.TrimSpace(newCfg.Dispatch.RetryWaitMin) ||
		strings.TrimSpace(oldCfg.Dispatch.RetryWaitMax) != strings.TrimSpace(newCfg.Dispatch.RetryWaitMax) ||
		(strings.TrimSpace(oldCfg.Dispatch.AuthToken) != "") != (strings.TrimSpace(newCfg.Dispatch.AuthToken) != "") {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.driver", strings.TrimSpace(newCfg.Dispatch.Driver)),
			logx.String("dispatch.endpoint", strings.TrimSpace(newCfg.Dispatch.Endpoint)),
			logx.Bool("dispatch.token_set", strings.TrimSpace(newCfg.Dispatch.AuthToken) != ""),
			logx.Int("dispatch.retry_max", newCfg.Dispatch.RetryMax),
		)
	}

	// Pprof (never log the token)
	op, np := oldCfg.Pprof, newCfg.Pprof
	if op == nil {
		op = &PprofConfig{}
	}
	if np == nil {
		np = &PprofConfig{}
	}
	if op.Enabled != np.Enabled ||
		strings.TrimSpace(op.Addr) != strings.TrimSpace(np.Addr) ||
		(strings.TrimSpace(op.Token) != "") != (strings.TrimSpace(np.Token) != "") ||
		op.AllowInsecure != np.AllowInsecure ||
		strings.TrimSpace(op.ReadTimeout) != strings.TrimSpace(np.ReadTimeout) ||
		strings.TrimSpace(op.WriteTimeout) != strings.TrimSpace(np.WriteTimeout) ||
		strings.TrimSpace(op.IdleTimeout) != strings.TrimSpace(np.IdleTimeout) {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(np.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(np.Token) != ""),
		)
	}

	// Beat
	if strings.TrimSpace(oldCfg.Beat.MaxSleepInterval) != strings.TrimSpace(newCfg.Beat.MaxSleepInterval) ||
		strings.TrimSpace(oldCfg.Beat.ReconcileInterval) != strings.TrimSpace(newCfg.Beat.ReconcileInterval) ||
		strings.TrimSpace(oldCfg.Beat.SearchHorizon) != strings.TrimSpace(newCfg.Beat.SearchHorizon) ||
		strings.TrimSpace(oldCfg.Beat.DispatchRetryDelay) != strings.TrimSpace(newCfg.Beat.DispatchRetryDelay) {
		changed = append(changed, "beat")
		attrs = append(attrs,
			logx.String("beat.max_sleep_interval", strings.TrimSpace(newCfg.Beat.MaxSleepInterval)),
			logx.String("beat.reconcile_interval", strings.TrimSpace(newCfg.Beat.ReconcileInterval)),
			logx.String("beat.search_horizon", strings.TrimSpace(newCfg.Beat.SearchHorizon)),
			logx.String("beat.dispatch_retry_delay", strings.TrimSpace(newCfg.Beat.DispatchRetryDelay)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
