package eventbus

import (
	"context"
	"testing"
	"time"
)

func collect(t *testing.T, b *Bus, eventType EventType) (<-chan Event, func()) {
	t.Helper()
	ch := make(chan Event, 16)
	unsubscribe := b.Subscribe(eventType, func(e Event) { ch <- e })
	return ch, unsubscribe
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNone(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func closeBus(b *Bus) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Close(ctx)
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := New()
	defer closeBus(b)

	ch, _ := collect(t, b, EventTypeStatus)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: EventTypeStatus, Data: i})
	}

	for i := 0; i < 5; i++ {
		if got := receive(t, ch); got.Data != i {
			t.Fatalf("event %d: got %v", i, got.Data)
		}
	}
}

func TestBus_ReplaysLatestOnSubscribe(t *testing.T) {
	b := New()
	defer closeBus(b)

	b.Publish(Event{Type: EventTypeStatus, Data: "first"})
	b.Publish(Event{Type: EventTypeStatus, Data: "second"})

	ch, _ := collect(t, b, EventTypeStatus)
	if got := receive(t, ch); got.Data != "second" {
		t.Errorf("replayed %v, want latest", got.Data)
	}
	expectNone(t, ch)
}

func TestBus_NoReplayWithoutPriorEvent(t *testing.T) {
	b := New()
	defer closeBus(b)

	ch, _ := collect(t, b, EventTypeStatus)
	expectNone(t, ch)
}

func TestBus_FiltersByType(t *testing.T) {
	b := New()
	defer closeBus(b)

	ch, _ := collect(t, b, EventTypeOverlay)
	b.Publish(Event{Type: EventTypeStatus, Data: 1})
	expectNone(t, ch)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	defer closeBus(b)

	ch, unsubscribe := collect(t, b, EventTypeStatus)
	unsubscribe()
	unsubscribe()

	b.Publish(Event{Type: EventTypeStatus, Data: 1})
	expectNone(t, ch)
	if n := b.Subscribers(EventTypeStatus); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestBus_SlowHandlerDoesNotBlockPublish(t *testing.T) {
	b := NewWithQueueSize(2)
	release := make(chan struct{})
	defer func() {
		close(release)
		closeBus(b)
	}()

	b.Subscribe(EventTypeStatus, func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			b.Publish(Event{Type: EventTypeStatus, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow handler")
	}
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	b := New()
	defer closeBus(b)

	b.Subscribe(EventTypeStatus, func(Event) { panic("boom") })
	ch, _ := collect(t, b, EventTypeStatus)

	b.Publish(Event{Type: EventTypeStatus, Data: 1})
	if got := receive(t, ch); got.Data != 1 {
		t.Errorf("got %v after panicking handler", got.Data)
	}
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := New()
	closeBus(b)

	b.Publish(Event{Type: EventTypeStatus, Data: 1})
	if _, ok := b.Latest(EventTypeStatus); ok {
		t.Error("closed bus should not retain events")
	}
}

func TestBus_StampsTime(t *testing.T) {
	b := New()
	defer closeBus(b)

	b.Publish(Event{Type: EventTypeStatus})
	e, ok := b.Latest(EventTypeStatus)
	if !ok || e.At.IsZero() {
		t.Errorf("Latest() = %+v, %v; want stamped event", e, ok)
	}
}
