package events

import (
	"testing"
	"time"
)

func TestChannelSinkDelivers(t *testing.T) {
	sink := NewChannelSink(4)

	sink.Emit(Event{Type: EventTypeIdle, Timestamp: time.Now(), Project: "/p"})

	select {
	case ev := <-sink.Events():
		if ev.Type != EventTypeIdle {
			t.Errorf("got event type %s, want %s", ev.Type, EventTypeIdle)
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)

	sink.Emit(Event{Type: EventTypeStarted})
	// Buffer is full now; this must not block.
	done := make(chan struct{})
	go func() {
		sink.Emit(Event{Type: EventTypeStopped})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	ev := <-sink.Events()
	if ev.Type != EventTypeStarted {
		t.Errorf("got %s, want the first event to survive", ev.Type)
	}
}
