package beat

import (
	"testing"
	"time"

	"beatd/internal/schedule"
)

func setEntry(id string, every int) schedule.Entry {
	return schedule.Entry{
		ID:       id,
		Name:     id,
		Task:     "tasks." + id,
		Interval: &schedule.Interval{Every: every, Period: schedule.PeriodSeconds},
		Enabled:  true,
	}
}

func compiled(t *testing.T, e schedule.Entry) schedule.Schedule {
	t.Helper()
	sc, err := e.Compile(0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return sc
}

func TestWorkingSetPopOrder(t *testing.T) {
	t.Parallel()

	ws := newWorkingSet()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	c := setEntry("ent_c", 30)
	a := setEntry("ent_a", 30)
	b := setEntry("ent_b", 30)
	ws.upsert(c, compiled(t, c), base.Add(3*time.Second))
	ws.upsert(a, compiled(t, a), base.Add(1*time.Second))
	ws.upsert(b, compiled(t, b), base.Add(2*time.Second))

	if at, ok := ws.nextWake(); !ok || !at.Equal(base.Add(1*time.Second)) {
		t.Fatalf("nextWake = %v, %v", at, ok)
	}

	now := base.Add(5 * time.Second)
	var got []string
	for {
		sl, ok := ws.popReady(now)
		if !ok {
			break
		}
		got = append(got, sl.entry.ID)
	}
	want := []string{"ent_a", "ent_b", "ent_c"}
	if len(got) != len(want) {
		t.Fatalf("popped %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("popped %v, want %v", got, want)
		}
	}
	if _, ok := ws.popReady(now); ok {
		t.Fatal("second drain returned an entry")
	}
}

func TestWorkingSetStaleVersionSkipped(t *testing.T) {
	t.Parallel()

	ws := newWorkingSet()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	e := setEntry("ent_a", 30)
	ws.upsert(e, compiled(t, e), base.Add(time.Second))
	// Definition change: the first heap item must never surface again.
	ws.upsert(e, compiled(t, e), base.Add(2*time.Second))

	if at, ok := ws.nextWake(); !ok || !at.Equal(base.Add(2*time.Second)) {
		t.Fatalf("nextWake = %v, %v (stale item leaked)", at, ok)
	}

	now := base.Add(time.Minute)
	sl, ok := ws.popReady(now)
	if !ok || sl.entry.ID != "ent_a" {
		t.Fatalf("popReady = %v, %v", sl, ok)
	}
	if sl.version != 2 {
		t.Fatalf("version = %d, want 2", sl.version)
	}
	if _, ok := ws.popReady(now); ok {
		t.Fatal("stale heap item surfaced as live")
	}
}

func TestWorkingSetRemoveStrandsItems(t *testing.T) {
	t.Parallel()

	ws := newWorkingSet()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	e := setEntry("ent_a", 30)
	ws.upsert(e, compiled(t, e), base)
	if !ws.remove("ent_a") {
		t.Fatal("remove reported missing entry")
	}
	if ws.remove("ent_a") {
		t.Fatal("second remove succeeded")
	}
	if _, ok := ws.popReady(base.Add(time.Hour)); ok {
		t.Fatal("removed entry popped")
	}
	if _, ok := ws.nextWake(); ok {
		t.Fatal("removed entry still queued")
	}
	if ws.len() != 0 {
		t.Fatalf("len = %d, want 0", ws.len())
	}
}

func TestWorkingSetParkAndUnpark(t *testing.T) {
	t.Parallel()

	ws := newWorkingSet()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	e := setEntry("ent_a", 30)
	sl := ws.upsert(e, compiled(t, e), base)
	// Consume the live item, then park.
	if _, ok := ws.popReady(base); !ok {
		t.Fatal("expected ready entry")
	}
	ws.park(sl)

	if _, ok := ws.nextWake(); ok {
		t.Fatal("parked entry reported a wake time")
	}
	if n := ws.parkedCount(); n != 1 {
		t.Fatalf("parkedCount = %d, want 1", n)
	}

	ws.unpark(sl, base.Add(time.Second))
	if at, ok := ws.nextWake(); !ok || !at.Equal(base.Add(time.Second)) {
		t.Fatalf("nextWake after unpark = %v, %v", at, ok)
	}
	if sl.parked {
		t.Fatal("slot still parked")
	}
	if _, ok := ws.popReady(base.Add(2 * time.Second)); !ok {
		t.Fatal("unparked entry not evaluated")
	}
}

func TestWorkingSetUpsertUnparks(t *testing.T) {
	t.Parallel()

	ws := newWorkingSet()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	e := setEntry("ent_a", 30)
	sl := ws.upsert(e, compiled(t, e), base)
	if _, ok := ws.popReady(base); !ok {
		t.Fatal("expected ready entry")
	}
	ws.park(sl)

	// A definition change clears the parked flag and queues evaluation.
	ws.upsert(e, compiled(t, e), base.Add(time.Second))
	if sl2, ok := ws.get("ent_a"); !ok || sl2.parked {
		t.Fatal("upsert left entry parked")
	}
	if _, ok := ws.popReady(base.Add(time.Second)); !ok {
		t.Fatal("updated entry not queued")
	}
}
