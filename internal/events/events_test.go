package events

import (
	"testing"
	"time"
)

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelB()

	h.Publish(Event{Type: EpisodeQueued, Identity: "id-1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			if e.Identity != "id-1" || e.At.IsZero() {
				t.Errorf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Error("channel still open after cancel")
	}
	if n := h.Subscribers(); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_, cancel := h.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		h.Publish(Event{Type: AttemptStarted})
	}
	if got := h.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestHub_NilDiscards(t *testing.T) {
	t.Parallel()

	var h *Hub
	h.Publish(Event{Type: EpisodeFailed})
}
