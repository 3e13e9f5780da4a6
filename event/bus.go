package event

import (
	"sync"
)

type Handler[Key, Event any] interface {
	OnEvent(key Key, e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Key, Event any] func(Key, Event)

// OnEvent calls f(key, e).
func (f HandlerFunc[Key, Event]) OnEvent(key Key, e Event) {
	f(key, e)
}

// Bus fans events out to handlers. Unlike a fire-and-forget bus, OnEvent runs
// every handler on the caller's goroutine, so handlers observe events in the
// order they were emitted.
type Bus[Key, Event any] struct {
	handlersMu sync.RWMutex
	nextID     uint64
	handlers   []registration[Key, Event]
}

type registration[Key, Event any] struct {
	id      uint64
	handler Handler[Key, Event]
}

func NewBus[Key, Event any]() *Bus[Key, Event] {
	return &Bus[Key, Event]{}
}

// AddHandler registers h and returns a func that removes it again.
func (b *Bus[Key, Event]) AddHandler(h Handler[Key, Event]) (remove func()) {
	b.handlersMu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, registration[Key, Event]{id: id, handler: h})
	b.handlersMu.Unlock()

	return func() {
		b.handlersMu.Lock()
		defer b.handlersMu.Unlock()

		for i, r := range b.handlers {
			if r.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus[Key, Event]) OnEvent(key Key, e Event) error {
	b.handlersMu.RLock()
	// Copy handlers so that a handler may unsubscribe itself
	handlers := make([]registration[Key, Event], len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	for _, r := range handlers {
		r.handler.OnEvent(key, e)
	}

	return nil
}

func (b *Bus[Key, Event]) HandlerCount() int {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()

	return len(b.handlers)
}
