// Package events provides a small synchronous publish/subscribe mechanism.
// Handlers run on the firing goroutine, in registration order.
package events

import (
	"errors"
	"fmt"
	"sync"

	"simplebot/internal/ports"
)

// Handler reacts to a fired value.
type Handler[T any] func(T) error

// Subscription identifies a registered handler so it can be removed.
type Subscription uint64

type entry[T any] struct {
	id Subscription
	h  Handler[T]
}

// Event holds an ordered list of handlers.
type Event[T any] struct {
	mu       sync.RWMutex
	next     Subscription
	handlers []entry[T]
}

// Handle registers h and returns its subscription.
func (e *Event[T]) Handle(h Handler[T]) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.handlers = append(e.handlers, entry[T]{id: e.next, h: h})
	return e.next
}

// Unhandle removes the handler registered under sub.
func (e *Event[T]) Unhandle(sub Subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, en := range e.handlers {
		if en.id == sub {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscription %d: %w", sub, ports.ErrHandlerNotRegistered)
}

// Fire invokes every handler with v. All handlers run even if one fails;
// the returned error joins the individual failures.
func (e *Event[T]) Fire(v T) error {
	e.mu.RLock()
	handlers := make([]entry[T], len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	var errs []error
	for _, en := range handlers {
		if err := en.h(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of registered handlers.
func (e *Event[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Registry maps names to events of the same payload type.
type Registry[T any] struct {
	mu     sync.Mutex
	events map[string]*Event[T]
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{events: make(map[string]*Event[T])}
}

// SetHandler attaches h to the named event, creating the event on first use.
func (r *Registry[T]) SetHandler(name string, h Handler[T]) Subscription {
	return r.event(name, true).Handle(h)
}

// FireEvent fires the named event. Unknown names are a no-op.
func (r *Registry[T]) FireEvent(name string, v T) error {
	ev := r.event(name, false)
	if ev == nil {
		return nil
	}
	return ev.Fire(v)
}

// Event returns the named event, or nil if nothing was registered under it.
func (r *Registry[T]) Event(name string) *Event[T] {
	return r.event(name, false)
}

func (r *Registry[T]) event(name string, create bool) *Event[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[name]
	if !ok && create {
		ev = &Event[T]{}
		r.events[name] = ev
	}
	return ev
}
