package gateway

import (
	"encoding/json"
	"sync"
)

// Handler receives the payload of one event.
type Handler func(payload json.RawMessage)

// Emitter is a small publish-subscribe registry keyed by event name.
// Handlers run on the emitting goroutine, never under the registry lock.
type Emitter struct {
	mu       sync.Mutex
	next     uint64
	handlers map[string][]subscription
}

type subscription struct {
	id   uint64
	fn   Handler
	once bool
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]subscription)}
}

// On registers fn for event and returns a function that removes it.
func (e *Emitter) On(event string, fn Handler) (off func()) {
	return e.add(event, fn, false)
}

// Once registers fn for the next occurrence of event only.
func (e *Emitter) Once(event string, fn Handler) (off func()) {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Handler, once bool) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	id := e.next
	e.handlers[event] = append(e.handlers[event], subscription{id: id, fn: fn, once: once})

	return func() { e.remove(event, id) }
}

func (e *Emitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.handlers[event]
	for i, s := range subs {
		if s.id == id {
			e.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.handlers[event]) == 0 {
		delete(e.handlers, event)
	}
}

// Emit invokes every handler registered for event and returns how many ran.
func (e *Emitter) Emit(event string, payload json.RawMessage) int {
	e.mu.Lock()
	subs := e.handlers[event]
	if len(subs) == 0 {
		e.mu.Unlock()
		return 0
	}
	run := make([]Handler, 0, len(subs))
	keep := subs[:0:0]
	for _, s := range subs {
		run = append(run, s.fn)
		if !s.once {
			keep = append(keep, s)
		}
	}
	if len(keep) == 0 {
		delete(e.handlers, event)
	} else {
		e.handlers[event] = keep
	}
	e.mu.Unlock()

	for _, fn := range run {
		fn(payload)
	}
	return len(run)
}

// Len returns the number of handlers registered for event.
func (e *Emitter) Len(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[event])
}

// Clear removes every handler.
func (e *Emitter) Clear() {
	e.mu.Lock()
	e.handlers = make(map[string][]subscription)
	e.mu.Unlock()
}
