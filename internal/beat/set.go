package beat

import (
	"container/heap"
	"time"

	"beatd/internal/schedule"
)

// slot is the loop's working copy of one enabled entry plus its compiled
// schedule. version advances on every definition change; heap items carry
// the version they were pushed under so stale ones can be skipped.
type slot struct {
	entry   schedule.Entry
	sched   schedule.Schedule
	version uint64

	// parked entries are excluded from evaluation until their definition
	// changes (unsatisfiable schedules).
	parked bool
}

type setItem struct {
	at      time.Time
	id      string
	version uint64
}

type wakeQueue []setItem

func (q wakeQueue) Len() int           { return len(q) }
func (q wakeQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q wakeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *wakeQueue) Push(x any)        { *q = append(*q, x.(setItem)) }
func (q *wakeQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// workingSet holds the entries the loop evaluates, indexed by id, with a
// min-heap over next-check times. Updates never search the heap: a
// version bump strands the old item, and pops skip strands.
//
// Invariant: a live (unparked) slot has exactly one heap item carrying
// its current version. upsert and unpark push it; popReady consumes it;
// scheduleAt pushes the replacement.
type workingSet struct {
	slots map[string]*slot
	queue wakeQueue
}

func newWorkingSet() *workingSet {
	return &workingSet{slots: map[string]*slot{}}
}

func (ws *workingSet) len() int { return len(ws.slots) }

func (ws *workingSet) get(id string) (*slot, bool) {
	sl, ok := ws.slots[id]
	return sl, ok
}

func (ws *workingSet) parkedCount() int {
	n := 0
	for _, sl := range ws.slots {
		if sl.parked {
			n++
		}
	}
	return n
}

// upsert installs or replaces the entry and queues it for evaluation at
// the given time. Any in-flight heap item for the id goes stale.
func (ws *workingSet) upsert(e schedule.Entry, sched schedule.Schedule, at time.Time) *slot {
	sl, ok := ws.slots[e.ID]
	if !ok {
		sl = &slot{}
		ws.slots[e.ID] = sl
	}
	sl.entry = e
	sl.sched = sched
	sl.version++
	sl.parked = false
	heap.Push(&ws.queue, setItem{at: at, id: e.ID, version: sl.version})
	return sl
}

func (ws *workingSet) remove(id string) bool {
	if _, ok := ws.slots[id]; !ok {
		return false
	}
	delete(ws.slots, id)
	return true
}

// scheduleAt queues the slot's next evaluation. Callers must hold the
// slot's just-popped heap item; pushing twice would double-evaluate.
func (ws *workingSet) scheduleAt(sl *slot, at time.Time) {
	heap.Push(&ws.queue, setItem{at: at, id: sl.entry.ID, version: sl.version})
}

// park excludes the slot from evaluation until a definition change bumps
// its version.
func (ws *workingSet) park(sl *slot) {
	sl.parked = true
}

func (ws *workingSet) unpark(sl *slot, at time.Time) {
	sl.parked = false
	sl.version++
	heap.Push(&ws.queue, setItem{at: at, id: sl.entry.ID, version: sl.version})
}

// live reports whether a heap item still refers to the current version
// of a present, unparked slot.
func (ws *workingSet) live(it setItem) (*slot, bool) {
	sl, ok := ws.slots[it.id]
	if !ok || sl.version != it.version || sl.parked {
		return nil, false
	}
	return sl, true
}

// popReady pops the earliest slot whose check time has arrived, dropping
// stale items along the way. ok is false when nothing is ready.
func (ws *workingSet) popReady(now time.Time) (*slot, bool) {
	for len(ws.queue) > 0 {
		top := ws.queue[0]
		sl, isLive := ws.live(top)
		if isLive && top.at.After(now) {
			return nil, false
		}
		heap.Pop(&ws.queue)
		if isLive {
			return sl, true
		}
	}
	return nil, false
}

// nextWake returns the earliest live check time, trimming stale heap
// prefixes as a side effect. ok is false when the set has nothing queued.
func (ws *workingSet) nextWake() (time.Time, bool) {
	for len(ws.queue) > 0 {
		top := ws.queue[0]
		if _, isLive := ws.live(top); isLive {
			return top.at, true
		}
		heap.Pop(&ws.queue)
	}
	return time.Time{}, false
}
