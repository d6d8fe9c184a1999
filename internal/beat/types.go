package beat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"beatd/internal/dispatch"
	"beatd/internal/eventbus"
	"beatd/internal/storage"
	logx "beatd/pkg/logx"
)

// Config controls the scheduling loop. Zero fields take the defaults
// below.
type Config struct {
	// MaxSleepInterval caps how long the loop sleeps without probing the
	// store for changes, even when nothing is due sooner.
	MaxSleepInterval time.Duration

	// ReconcileInterval is how often the loop does a full load-and-diff
	// against the store, healing anything the marker probe missed.
	ReconcileInterval time.Duration

	// SearchHorizon bounds how far ahead a due-time search may look
	// before a schedule is treated as unsatisfiable.
	SearchHorizon time.Duration

	// DispatchRetryDelay is how soon an entry is re-evaluated after a
	// failed or rejected dispatch.
	DispatchRetryDelay time.Duration
}

const (
	defaultMaxSleepInterval   = 30 * time.Second
	defaultReconcileInterval  = 5 * time.Minute
	defaultSearchHorizon      = 5 * 365 * 24 * time.Hour
	defaultDispatchRetryDelay = 5 * time.Second

	// Recheck delay after a transient no-occurrence result (polar sun
	// events); the sun's geometry will not change faster than this.
	noOccurrenceRecheck = 24 * time.Hour

	// Attempts per store operation before the loop gives up for this
	// tick and keeps serving its stale in-memory set.
	storeRetryMax = 3
)

func (c Config) normalized() Config {
	if c.MaxSleepInterval <= 0 {
		c.MaxSleepInterval = defaultMaxSleepInterval
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = defaultReconcileInterval
	}
	if c.SearchHorizon <= 0 {
		c.SearchHorizon = defaultSearchHorizon
	}
	if c.DispatchRetryDelay <= 0 {
		c.DispatchRetryDelay = defaultDispatchRetryDelay
	}
	return c
}

// State is the loop's current phase, exported for introspection.
type State string

const (
	StateIdle        State = "idle"
	StateSleeping    State = "sleeping"
	StateEvaluating  State = "evaluating"
	StateDispatching State = "dispatching"
	StatePersisting  State = "persisting"
	StateStopped     State = "stopped"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	store      storage.Store
	dispatcher dispatch.Dispatcher

	set *workingSet

	state         State
	lastSync      time.Time // marker value covered by the working set
	nextReconcile time.Time // zero forces a full reconcile on the next tick
	recompile     bool      // set when SearchHorizon changes under Apply

	lastTick      time.Time
	lastReconcile time.Time
	dispatched    uint64
	rejected      uint64
	failed        uint64

	wakeCh    chan struct{}
	doneCh    chan struct{}
	runCancel func()

	// Throttles dispatch-failure warnings so a dead gateway cannot flood
	// the log.
	warnLimit *rate.Limiter
}

// Snapshot is a point-in-time view of the loop for status surfaces.
type Snapshot struct {
	State   State
	Entries int
	Parked  int

	NextWake      time.Time // zero when the set is empty
	LastTick      time.Time
	LastReconcile time.Time

	Dispatched uint64
	Rejected   uint64
	Failed     uint64
}

// DispatchEvent is the payload for "beat.dispatched" bus events.
type DispatchEvent struct {
	RequestID string
	EntryID   string
	EntryName string
	Task      string
	At        time.Time
}

// ReconcileEvent is the payload for "beat.reconciled" bus events.
type ReconcileEvent struct {
	Entries int
	Added   int
	Updated int
	Removed int
	Took    time.Duration
}
