package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	ch1, unsub1 := b.Subscribe(4)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(Event{Type: "entry.created", Data: "e1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != "entry.created" || e.Data != "e1" {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: zero Time not filled in", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Nobody reads ch; the second publish must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: "beat.dispatched"})
		b.Publish(Event{Type: "beat.dispatched"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	// Only the first event fit the buffer.
	<-ch
	select {
	case e := <-ch:
		t.Fatalf("expected second event dropped, got %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // must be idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "entry.deleted"})
}
