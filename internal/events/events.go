// Package events fans processing events out to live subscribers such as
// the websocket stream. Delivery is best-effort: a subscriber that falls
// behind loses events instead of slowing down the workers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names a processing event.
type Type string

// Event types.
const (
	EpisodeQueued    Type = "episode.queued"
	EpisodePending   Type = "episode.pending"
	AttemptStarted   Type = "attempt.started"
	AttemptFailed    Type = "attempt.failed"
	EpisodeCompleted Type = "episode.completed"
	EpisodeFailed    Type = "episode.failed"
)

// Event is one processing notification.
type Event struct {
	Type     Type      `json:"type"`
	Identity string    `json:"identity"`
	Group    string    `json:"group,omitempty"`
	Name     string    `json:"name,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Hub is an in-process Publisher with any number of subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

var _ Publisher = (*Hub)(nil)

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

// Publish delivers e to every subscriber whose buffer has room.
// A nil Hub discards events.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size. The
// returned cancel function removes it and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
