package eventbus

import (
	"testing"
	"time"
)

func TestBusFanout(t *testing.T) {
	t.Parallel()
	b := New()

	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: TaskStart, Task: "sync"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TaskStart || e.Task != "sync" {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: event time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	defer unsub()

	// The second publish must not block even though nobody is reading.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: TaskStart, Task: "a"})
		b.Publish(Event{Type: TaskEnd, Task: "a"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	e := <-ch
	if e.Type != TaskStart {
		t.Fatalf("kept event = %+v, want the first publish", e)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %+v, want drop", e)
	default:
	}
}

func TestBusUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // must be idempotent

	// Channel is closed after unsubscribe.
	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TaskEnd, Task: "a"})
}
