package beat

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"beatd/internal/dispatch"
	"beatd/internal/eventbus"
	"beatd/internal/storage"
	logx "beatd/pkg/logx"
)

func New(cfg Config, store storage.Store, d dispatch.Dispatcher, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:        cfg.normalized(),
		log:        log,
		bus:        bus,
		store:      store,
		dispatcher: d,
		set:        newWorkingSet(),
		state:      StateIdle,
		wakeCh:     make(chan struct{}, 1),
		warnLimit:  rate.NewLimiter(rate.Limit(1), 5),
	}
}

// Start launches the loop goroutine. The first tick loads the full store
// before any sleeping happens. Calling Start on a running service is a
// no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.doneCh != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.doneCh = done
	s.runCancel = cancel
	cfg := s.cfg
	s.mu.Unlock()

	s.log.Info("service starting",
		logx.Duration("max_sleep", cfg.MaxSleepInterval),
		logx.Duration("reconcile", cfg.ReconcileInterval))

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in beat loop", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				s.setState(StateStopped)
			}
		}()
		s.run(runCtx)
	}()
}

// Stop cancels the loop and waits for it to exit, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	done := s.doneCh
	cancel := s.runCancel
	s.doneCh = nil
	s.runCancel = nil
	s.mu.Unlock()
	if done == nil {
		return
	}

	start := time.Now()
	s.log.Info("stop requested")
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		// loop finishes in the background
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the loop configuration live and wakes the loop so the new
// intervals take effect immediately. A horizon change triggers a
// recompile of every cached schedule on the next tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	if cfg.SearchHorizon != s.cfg.SearchHorizon {
		s.recompile = true
	}
	if !s.nextReconcile.IsZero() {
		if soonest := time.Now().Add(cfg.ReconcileInterval); s.nextReconcile.After(soonest) {
			s.nextReconcile = soonest
		}
	}
	s.cfg = cfg
	s.mu.Unlock()
	s.Wake()
}

// Wake nudges a sleeping loop to re-check the store now. Signals
// coalesce; calling Wake any number of times costs one extra tick.
func (s *Service) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:         s.state,
		Entries:       s.set.len(),
		Parked:        s.set.parkedCount(),
		LastTick:      s.lastTick,
		LastReconcile: s.lastReconcile,
		Dispatched:    s.dispatched,
		Rejected:      s.rejected,
		Failed:        s.failed,
	}
	if at, ok := s.set.nextWake(); ok {
		snap.NextWake = at
	}
	return snap
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}
