package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"beatd/internal/beat"
	"beatd/internal/dispatch"
	"beatd/internal/eventbus"
	"beatd/internal/observability/pprof"
	"beatd/internal/storage"
	logx "beatd/pkg/logx"
)

// App wires the daemon together: config, logging, the entry store, the
// dispatcher and the scheduling loop, plus the hot-reload plumbing
// between them.
type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	beat  *beat.Service
	pprof *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Logging service mapping
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")), bus)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	// Dispatcher
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp, err := dispatch.New(dc, log.With(logx.String("comp", "dispatch")))
	if err != nil {
		return nil, err
	}

	// Scheduling loop
	bc, err := mapBeatConfig(cfg)
	if err != nil {
		return nil, err
	}
	beatSvc := beat.New(bc, store, disp, log.With(logx.String("comp", "beat")), bus)

	// pprof debug server mapping (optional)
	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, beatSvc.Snapshot, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		beat:    beatSvc,
		pprof:   pprofSvc,
	}, nil
}

// Beat exposes the scheduling loop for status surfaces and tests.
func (a *App) Beat() *beat.Service { return a.beat }

// Store exposes the entry store for in-process editors.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			if _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			if _, err := mapDispatchConfig(cfg); err != nil {
				return err
			}
			if _, err := mapBeatConfig(cfg); err != nil {
				return err
			}
			// pprof validation (safe even when disabled)
			if _, err := mapPprofConfig(cfg); err != nil {
				return err
			}
			return nil
		})
	}

	a.beat.Start(a.sup.Context())

	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// In-process definition edits go through the store, which publishes
	// entry.* events; nudge the loop so it picks them up without waiting
	// for the next marker probe. External editors are covered by the
	// probe/reconcile cadence.
	if a.bus != nil {
		changes, unsub := a.bus.Subscribe(64)
		a.sup.Go0("beat.wake", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-changes:
					if !ok {
						return
					}
					switch e.Type {
					case "entry.created", "entry.updated", "entry.deleted":
						a.beat.Wake()
					}
				}
			}
		})
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level to avoid noise on busy schedules.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					switch s {
					case "storage":
						a.log.Warn("storage config changed; restart required for changes to take effect")
					case "dispatch":
						a.log.Warn("dispatch config changed; restart required for changes to take effect")
					}
				}

				// apply logging updates
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				// apply loop updates (live); Apply wakes the loop itself
				bc, err := mapBeatConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid beat config; keeping previous", logx.Any("err", err))
				} else {
					a.beat.Apply(bc)
				}

				// apply pprof updates (live)
				if a.pprof != nil {
					ppc, err := mapPprofConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid pprof config; keeping previous", logx.Any("err", err))
					} else {
						a.pprof.Reconfigure(c, ppc)
					}
				}

				// Keep the final log line concise and human-friendly (details are in debug logs).
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop the loop first so no dispatch or bookkeeping is in flight when
	// the store closes.
	step("beat", 3*time.Second, func(c context.Context) error { a.beat.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event logger, wake bridge).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if counters := a.sup.Counters(); counters.Active > 0 {
		a.log.Warn("goroutines still active after stop", logx.Int64("active", counters.Active), logx.Uint64("started", counters.Started))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
