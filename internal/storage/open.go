package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"beatd/internal/eventbus"
	"beatd/internal/schedule"
	logx "beatd/pkg/logx"
)

// Store is the persistence API consumed by the scheduling loop and by
// in-process schedule editors.
//
// LoadAll returns enabled entries only. ChangedSince returns every entry,
// enabled or not, whose row changed strictly after since. ListIDs returns
// every stored id so callers can detect deletions with one cheap query.
// LastChange reads the marker row: definition changes advance it, run
// bookkeeping does not.
type Store interface {
	LoadAll(ctx context.Context) ([]schedule.Entry, error)
	ChangedSince(ctx context.Context, since time.Time) ([]schedule.Entry, error)
	ListIDs(ctx context.Context) ([]string, error)
	LastChange(ctx context.Context) (time.Time, error)

	// SaveRunStates applies one tick's bookkeeping in a single
	// transaction. It advances each row's last_updated but leaves the
	// marker alone: the writer already knows, and peer processes converge
	// on their next full reconcile.
	SaveRunStates(ctx context.Context, states []RunState) error

	// CRUD for in-process editors and tests. Definitions are validated
	// before they are written; a disabled entry has its last_run_at
	// cleared. External editors write the database directly and are
	// expected to bump the marker row themselves.
	CreateEntry(ctx context.Context, e schedule.Entry) (schedule.Entry, error)
	UpdateEntry(ctx context.Context, e schedule.Entry) (schedule.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	GetEntry(ctx context.Context, id string) (schedule.Entry, error)

	Close() error
}

// Open initializes the configured store. An empty driver selects sqlite.
// bus may be nil; when set, committed definition changes are published on
// it as ChangeEvent payloads.
func Open(cfg Config, log logx.Logger, bus eventbus.Bus) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log, bus)
	case "memory":
		return openMemory(log, bus), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func publishChange(bus eventbus.Bus, typ, id, name string, at time.Time) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ChangeEvent{ID: id, Name: name, At: at}})
}
