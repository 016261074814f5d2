package repository

import (
	"fmt"
	"log/slog"
	"sync"
)

// EventType is the kind of change an Event reports.
type EventType int

const (
	EventCreate EventType = iota + 1
	EventUpdate
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is a change made to the repository's table by another instance.
// NewValue is nil for deletes; PreviousValue is nil for creates.
type Event[V, K any] struct {
	Type          EventType
	Key           K
	NewValue      *V
	PreviousValue *V
}

// hub fans events out to subscriber channels. A subscriber whose buffer is
// full misses the event.
type hub[V, K any] struct {
	logger *slog.Logger
	name   string

	mu     sync.Mutex
	subs   map[int]chan Event[V, K]
	nextID int
	closed bool
}

func newHub[V, K any](logger *slog.Logger, name string) *hub[V, K] {
	return &hub[V, K]{
		logger: logger,
		name:   name,
		subs:   make(map[int]chan Event[V, K]),
	}
}

func (h *hub[V, K]) subscribe(buffer int) (<-chan Event[V, K], func()) {
	ch := make(chan Event[V, K], max(buffer, 0))

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *hub[V, K]) broadcast(ev Event[V, K]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("event subscriber is slow, dropping event",
				"repository", h.name, "subscriber", id, "type", ev.Type.String())
		}
	}
}

func (h *hub[V, K]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub[V, K]) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
