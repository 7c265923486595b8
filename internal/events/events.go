// Package events carries player status and cache invalidation notices to the UI
// layers. Delivery is fire-and-forget: emitters never block the audio path.
package events

import (
	"errors"
	"sync"
)

// Emitter publishes one named event. Callers treat errors as best-effort.
type Emitter interface {
	Emit(event string, payload any) error
}

type EmitterFunc func(event string, payload any) error

func (f EmitterFunc) Emit(event string, payload any) error { return f(event, payload) }

// Multi fans an event out to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Emit(event string, payload any) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub delivers events to in-process subscribers. A subscriber whose buffer is
// full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Message
	next int
}

func NewHub() *Hub {
	return &Hub{subs: map[int]chan Message{}}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Message, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
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

func (h *Hub) Emit(event string, payload any) error {
	msg := Message{Event: event, Payload: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
