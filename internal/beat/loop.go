package beat

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"beatd/internal/dispatch"
	"beatd/internal/eventbus"
	"beatd/internal/schedule"
	"beatd/internal/storage"
	logx "beatd/pkg/logx"
)

func (s *Service) run(ctx context.Context) {
	// Fresh set per run; the first tick reconciles immediately because
	// nextReconcile is zero.
	s.mu.Lock()
	s.set = newWorkingSet()
	s.lastSync = time.Time{}
	s.nextReconcile = time.Time{}
	s.state = StateIdle
	s.mu.Unlock()

	for ctx.Err() == nil {
		next := s.nextWakeAt(time.Now().UTC())
		s.setState(StateSleeping)
		s.sleepUntil(ctx, next)
		if ctx.Err() != nil {
			break
		}
		s.tick(ctx, time.Now().UTC())
	}
	s.setState(StateStopped)
}

// tick runs one wake cycle: pick up store changes, evaluate what is due,
// dispatch it, and persist the bookkeeping in a single batch.
func (s *Service) tick(ctx context.Context, now time.Time) {
	s.setState(StateEvaluating)
	cfg := s.config()

	s.maybeRecompile(now, cfg)
	s.syncStore(ctx, now, cfg)

	due := s.collectDue(now)
	states := s.dispatchDue(ctx, due, now, cfg)
	s.persistStates(ctx, states)

	s.mu.Lock()
	s.lastTick = now
	s.state = StateIdle
	s.mu.Unlock()
}

// nextWakeAt picks the earliest of: next entry check, the periodic
// reconcile, and the sleep cap.
func (s *Service) nextWakeAt(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := now.Add(s.cfg.MaxSleepInterval)
	if at, ok := s.set.nextWake(); ok && at.Before(next) {
		next = at
	}
	if s.nextReconcile.Before(next) {
		next = s.nextReconcile
	}
	return next
}

// sleepUntil blocks until at, an external Wake, or cancellation,
// whichever comes first.
func (s *Service) sleepUntil(ctx context.Context, at time.Time) {
	d := time.Until(at)
	if d <= 0 {
		return
	}
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
	case <-s.wakeCh:
		if !tmr.Stop() {
			<-tmr.C
		}
	case <-tmr.C:
	}
}

// maybeRecompile rebuilds every cached schedule after a horizon change.
// Parked entries get another chance: a larger horizon may make them
// satisfiable.
func (s *Service) maybeRecompile(now time.Time, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recompile {
		return
	}
	s.recompile = false
	for _, sl := range s.set.slots {
		sc, err := sl.entry.Compile(cfg.SearchHorizon)
		if err != nil {
			continue
		}
		sl.sched = sc
		if sl.parked {
			s.set.unpark(sl, now)
		}
	}
	s.log.Debug("schedules recompiled", logx.Int("entries", s.set.len()), logx.Duration("horizon", cfg.SearchHorizon))
}

// syncStore keeps the working set aligned with the store. Most ticks this
// is one marker read; a moved marker triggers an incremental diff, and
// every ReconcileInterval a full load heals whatever incremental sync
// could not see (equal-timestamp edits, marker-less writers).
func (s *Service) syncStore(ctx context.Context, now time.Time, cfg Config) {
	s.mu.Lock()
	full := !now.Before(s.nextReconcile)
	since := s.lastSync
	s.mu.Unlock()

	if full {
		s.reconcile(ctx, now, cfg)
		return
	}

	marker, err := s.store.LastChange(ctx)
	if err != nil {
		s.log.Warn("change probe failed", logx.Any("err", err))
		return
	}
	if !marker.After(since) {
		return
	}
	s.syncChanged(ctx, now, cfg, since, marker)
}

// syncChanged applies adds, edits, disables, and deletes that landed
// after since, using two queries.
func (s *Service) syncChanged(ctx context.Context, now time.Time, cfg Config, since, marker time.Time) {
	var (
		changed []schedule.Entry
		ids     []string
	)
	err := backoff.RetryNotify(func() error {
		var err error
		if changed, err = s.store.ChangedSince(ctx, since); err != nil {
			return err
		}
		ids, err = s.store.ListIDs(ctx)
		return err
	}, storeBackoff(ctx), s.retryNotify("sync"))
	if err != nil {
		s.log.Warn("sync failed, keeping stale set", logx.Any("err", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	applied, removed := 0, 0
	for _, e := range changed {
		if !e.Enabled {
			if s.set.remove(e.ID) {
				removed++
			}
			continue
		}
		s.installLocked(e, now, cfg)
		applied++
	}
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	for id := range s.set.slots {
		if _, ok := present[id]; !ok {
			s.set.remove(id)
			removed++
		}
	}
	s.lastSync = marker
	if applied > 0 || removed > 0 {
		s.log.Debug("entries synced", logx.Int("changed", applied), logx.Int("removed", removed))
	}
}

// reconcile reloads every enabled entry and diffs it against the set by
// LastUpdated. The marker is read before the load so nothing slipping in
// between the two queries can be skipped forever.
func (s *Service) reconcile(ctx context.Context, now time.Time, cfg Config) {
	start := time.Now()
	var (
		marker  time.Time
		entries []schedule.Entry
	)
	err := backoff.RetryNotify(func() error {
		var err error
		if marker, err = s.store.LastChange(ctx); err != nil {
			return err
		}
		entries, err = s.store.LoadAll(ctx)
		return err
	}, storeBackoff(ctx), s.retryNotify("reconcile"))

	s.mu.Lock()
	s.nextReconcile = now.Add(cfg.ReconcileInterval)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("reconcile failed, keeping stale set", logx.Any("err", err))
		return
	}

	s.mu.Lock()
	added, updated, removed := 0, 0, 0
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
		cur, ok := s.set.get(e.ID)
		if ok && cur.entry.LastUpdated.Equal(e.LastUpdated) {
			continue
		}
		s.installLocked(e, now, cfg)
		if ok {
			updated++
		} else {
			added++
		}
	}
	for id := range s.set.slots {
		if _, ok := seen[id]; !ok {
			s.set.remove(id)
			removed++
		}
	}
	s.lastSync = marker
	s.lastReconcile = now
	total := s.set.len()
	s.mu.Unlock()

	took := time.Since(start)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "beat.reconciled", Time: now, Data: ReconcileEvent{
			Entries: total, Added: added, Updated: updated, Removed: removed, Took: took,
		}})
	}
	if added > 0 || updated > 0 || removed > 0 {
		s.log.Info("store reconciled", logx.Int("entries", total), logx.Int("added", added), logx.Int("updated", updated), logx.Int("removed", removed), logx.Duration("took", took))
	} else {
		s.log.Debug("store reconciled", logx.Int("entries", total), logx.Duration("took", took))
	}
}

// installLocked compiles and upserts one enabled entry; definitions that
// fail to compile are excluded from the set entirely.
func (s *Service) installLocked(e schedule.Entry, now time.Time, cfg Config) {
	sc, err := e.Compile(cfg.SearchHorizon)
	if err != nil {
		s.set.remove(e.ID)
		s.log.Warn("invalid entry excluded", logx.String("entry", e.Name), logx.String("id", e.ID), logx.Any("err", err))
		return
	}
	s.set.upsert(e, sc, now)
}

type candidate struct {
	sl  *slot
	due schedule.Due
}

// collectDue evaluates every slot whose check time has arrived. Entries
// that fire are returned for dispatch; the rest are pushed back at their
// next meaningful check time.
func (s *Service) collectDue(now time.Time) []candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []candidate
	for {
		sl, ok := s.set.popReady(now)
		if !ok {
			break
		}
		due, err := sl.entry.IsDue(sl.sched, now)
		if err != nil {
			s.evalErrorLocked(sl, err, now)
			continue
		}
		if due.Fire {
			out = append(out, candidate{sl: sl, due: due})
			continue
		}
		s.set.scheduleAt(sl, now.Add(clampWait(due.Wait)))
	}
	return out
}

func (s *Service) evalErrorLocked(sl *slot, err error, now time.Time) {
	switch {
	case errors.Is(err, schedule.ErrNoOccurrence):
		s.log.Debug("no occurrence in window", logx.String("entry", sl.entry.Name), logx.Any("err", err))
		s.set.scheduleAt(sl, now.Add(noOccurrenceRecheck))
	case errors.Is(err, schedule.ErrUnsatisfiable):
		s.set.park(sl)
		s.log.Warn("schedule unsatisfiable, entry parked", logx.String("entry", sl.entry.Name), logx.String("id", sl.entry.ID), logx.Any("err", err))
	default:
		s.set.park(sl)
		s.log.Warn("schedule evaluation failed, entry parked", logx.String("entry", sl.entry.Name), logx.String("id", sl.entry.ID), logx.Any("err", err))
	}
}

// dispatchDue hands each due entry to the dispatcher and applies run
// bookkeeping in memory. The returned batch is persisted once per tick.
func (s *Service) dispatchDue(ctx context.Context, due []candidate, now time.Time, cfg Config) []storage.RunState {
	if len(due) == 0 {
		return nil
	}
	s.setState(StateDispatching)
	states := make([]storage.RunState, 0, len(due))
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		req := dispatch.NewRequest(&c.sl.entry, now)
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			s.recordFailure(c, err, now, cfg)
			continue
		}
		states = append(states, s.recordDispatched(c, req, now))
	}
	return states
}

func (s *Service) recordDispatched(c candidate, req dispatch.Request, now time.Time) storage.RunState {
	s.mu.Lock()
	e := &c.sl.entry
	e.LastRunAt = now
	e.TotalRunCount++
	st := storage.RunState{ID: e.ID, LastRunAt: now, TotalRunCount: e.TotalRunCount}
	if e.OneOff {
		st.Disable = true
		e.Enabled = false
		s.set.remove(e.ID)
	} else {
		s.set.scheduleAt(c.sl, now.Add(clampWait(c.due.Wait)))
	}
	s.dispatched++
	name, task := e.Name, e.Task
	s.mu.Unlock()

	s.log.Info("entry dispatched", logx.String("entry", name), logx.String("task", task), logx.String("request_id", req.ID))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "beat.dispatched", Time: now, Data: DispatchEvent{
			RequestID: req.ID, EntryID: st.ID, EntryName: name, Task: task, At: now,
		}})
	}
	return st
}

// recordFailure leaves the bookkeeping untouched so the entry stays due,
// and re-checks it after a short delay.
func (s *Service) recordFailure(c candidate, err error, now time.Time, cfg Config) {
	rejected := dispatch.IsRejected(err)
	s.mu.Lock()
	if rejected {
		s.rejected++
	} else {
		s.failed++
	}
	s.set.scheduleAt(c.sl, now.Add(cfg.DispatchRetryDelay))
	name := c.sl.entry.Name
	s.mu.Unlock()

	if !s.warnLimit.Allow() {
		return
	}
	if rejected {
		s.log.Warn("dispatch rejected", logx.String("entry", name), logx.Any("err", err))
		return
	}
	s.log.Warn("dispatch failed", logx.String("entry", name), logx.Any("err", err))
}

// persistStates writes the tick's bookkeeping in one transaction. One
// retry; after that the loss is accepted and logged, and the affected
// entries may dispatch again after a restart.
func (s *Service) persistStates(ctx context.Context, states []storage.RunState) {
	if len(states) == 0 {
		return
	}
	s.setState(StatePersisting)
	err := s.store.SaveRunStates(ctx, states)
	if err != nil {
		s.log.Warn("run state save failed, retrying", logx.Any("err", err))
		err = s.store.SaveRunStates(ctx, states)
	}
	if err != nil {
		s.log.Error("run bookkeeping lost", logx.Int("entries", len(states)), logx.Any("err", err))
		return
	}
	// Mirror what SaveRunStates wrote so the next reconcile sees the rows
	// as unchanged.
	s.mu.Lock()
	for _, st := range states {
		if sl, ok := s.set.get(st.ID); ok && !st.Disable {
			sl.entry.LastUpdated = st.LastRunAt
		}
	}
	s.mu.Unlock()
}

func clampWait(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}

func storeBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, storeRetryMax), ctx)
}

func (s *Service) retryNotify(op string) func(error, time.Duration) {
	return func(err error, in time.Duration) {
		s.log.Warn("store operation failed, retrying", logx.String("op", op), logx.Duration("in", in), logx.Any("err", err))
	}
}
