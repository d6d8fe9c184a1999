package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"beatd/internal/eventbus"
	"beatd/internal/schedule"
	logx "beatd/pkg/logx"

	"github.com/google/uuid"
)

// memStore holds the full entry set in process memory with the same
// observable semantics as the sqlite driver, including the change marker.
// State is lost on restart.
type memStore struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	entries map[string]schedule.Entry
	mark    time.Time
}

func openMemory(log logx.Logger, bus eventbus.Bus) *memStore {
	return &memStore{log: log, bus: bus, entries: map[string]schedule.Entry{}}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) LoadAll(ctx context.Context) ([]schedule.Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []schedule.Entry
	for _, e := range s.entries {
		if e.Enabled {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *memStore) ChangedSince(ctx context.Context, since time.Time) ([]schedule.Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []schedule.Entry
	for _, e := range s.entries {
		if e.LastUpdated.After(since) {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *memStore) ListIDs(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) LastChange(ctx context.Context) (time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mark, nil
}

func (s *memStore) SaveRunStates(ctx context.Context, states []RunState) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range states {
		e, ok := s.entries[st.ID]
		if !ok {
			continue
		}
		e.LastRunAt = st.LastRunAt
		e.TotalRunCount = st.TotalRunCount
		e.LastUpdated = st.LastRunAt
		if st.Disable {
			e.Enabled = false
			e.LastRunAt = time.Time{}
		}
		s.entries[st.ID] = e
	}
	return nil
}

func (s *memStore) GetEntry(ctx context.Context, id string) (schedule.Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return schedule.Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *memStore) CreateEntry(ctx context.Context, e schedule.Entry) (schedule.Entry, error) {
	_ = ctx
	if err := e.Validate(); err != nil {
		return schedule.Entry{}, err
	}
	if strings.TrimSpace(e.ID) == "" {
		e.ID = "ent_" + uuid.NewString()
	}
	if !e.Enabled {
		e.LastRunAt = time.Time{}
	}
	now := time.Now().UTC()
	e.LastUpdated = now

	s.mu.Lock()
	if err := s.checkNameLocked(e); err != nil {
		s.mu.Unlock()
		return schedule.Entry{}, err
	}
	s.entries[e.ID] = cloneEntry(e)
	s.mark = now
	s.mu.Unlock()

	publishChange(s.bus, "entry.created", e.ID, e.Name, now)
	return e, nil
}

func (s *memStore) UpdateEntry(ctx context.Context, e schedule.Entry) (schedule.Entry, error) {
	_ = ctx
	if strings.TrimSpace(e.ID) == "" {
		return schedule.Entry{}, fmt.Errorf("storage: entry id is required")
	}
	if err := e.Validate(); err != nil {
		return schedule.Entry{}, err
	}
	if !e.Enabled {
		e.LastRunAt = time.Time{}
	}
	now := time.Now().UTC()
	e.LastUpdated = now

	s.mu.Lock()
	if _, ok := s.entries[e.ID]; !ok {
		s.mu.Unlock()
		return schedule.Entry{}, ErrNotFound
	}
	if err := s.checkNameLocked(e); err != nil {
		s.mu.Unlock()
		return schedule.Entry{}, err
	}
	s.entries[e.ID] = cloneEntry(e)
	s.mark = now
	s.mu.Unlock()

	publishChange(s.bus, "entry.updated", e.ID, e.Name, now)
	return e, nil
}

func (s *memStore) DeleteEntry(ctx context.Context, id string) error {
	_ = ctx
	now := time.Now().UTC()

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.entries, id)
	s.mark = now
	s.mu.Unlock()

	publishChange(s.bus, "entry.deleted", id, e.Name, now)
	return nil
}

func (s *memStore) checkNameLocked(e schedule.Entry) error {
	for _, other := range s.entries {
		if other.ID != e.ID && other.Name == e.Name {
			return fmt.Errorf("storage: entry name %q already exists", e.Name)
		}
	}
	return nil
}

// cloneEntry detaches the pointer and slice fields so stored state can
// never be mutated through a returned entry, matching the sqlite driver.
func cloneEntry(e schedule.Entry) schedule.Entry {
	if e.Interval != nil {
		iv := *e.Interval
		e.Interval = &iv
	}
	if e.Crontab != nil {
		ct := *e.Crontab
		e.Crontab = &ct
	}
	if e.Solar != nil {
		so := *e.Solar
		e.Solar = &so
	}
	if e.Clocked != nil {
		cl := *e.Clocked
		e.Clocked = &cl
	}
	if e.Expires != nil {
		t := *e.Expires
		e.Expires = &t
	}
	if e.ExpireSeconds != nil {
		n := *e.ExpireSeconds
		e.ExpireSeconds = &n
	}
	if e.Priority != nil {
		n := *e.Priority
		e.Priority = &n
	}
	if e.StartTime != nil {
		t := *e.StartTime
		e.StartTime = &t
	}
	e.Args = append(json.RawMessage(nil), e.Args...)
	e.Kwargs = append(json.RawMessage(nil), e.Kwargs...)
	e.Headers = append(json.RawMessage(nil), e.Headers...)
	return e
}

func sortEntries(out []schedule.Entry) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}
