// Package events holds the small callback registries shared by the store, storage, bus and app
// lifecycle emitters.
package events

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type entry[T any] struct {
	id int
	fn func(T)
}

// Listeners is a copy-on-write callback list. Emit never holds the lock while calling out, so a
// listener may add or remove listeners (including itself) while being notified.
type Listeners[T any] struct {
	mutex   sync.Mutex
	nextID  int
	entries []entry[T]
}

// Add registers fn and returns an idempotent disposer.
func (l *Listeners[T]) Add(fn func(T)) func() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.nextID++
	id := l.nextID
	next := slices.Clone(l.entries)
	l.entries = append(next, entry[T]{id: id, fn: fn})
	return func() { l.remove(id) }
}

func (l *Listeners[T]) remove(id int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	i := slices.IndexFunc(l.entries, func(e entry[T]) bool { return e.id == id })
	if i < 0 {
		return
	}
	next := slices.Clone(l.entries)
	l.entries = slices.Delete(next, i, i+1)
}

func (l *Listeners[T]) get() []entry[T] {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.entries
}

// Len returns the number of registered listeners.
func (l *Listeners[T]) Len() int {
	return len(l.get())
}

// Clear drops every listener.
func (l *Listeners[T]) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = nil
}

// Emit calls every listener in registration order.
func (l *Listeners[T]) Emit(v T) {
	for _, e := range l.get() {
		e.fn(v)
	}
}

// SafeEmit is Emit with each listener isolated: a panicking listener is logged and the remaining
// listeners still run.
func (l *Listeners[T]) SafeEmit(scope string, v T) {
	for _, e := range l.get() {
		if err := Guard(func() { e.fn(v) }); err != nil {
			slog.Error("listener failed", "scope", scope, "err", err)
		}
	}
}

// Guard runs fn and converts a panic into an error.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", e)
			} else {
				err = fmt.Errorf("panic: %v", r)
			}
		}
	}()
	fn()
	return nil
}

// Emitter routes named events to their listeners.
type Emitter struct {
	scope     string
	mutex     sync.Mutex
	listeners map[string]*Listeners[any]
}

func NewEmitter(scope string) *Emitter {
	return &Emitter{scope: scope, listeners: make(map[string]*Listeners[any])}
}

func (e *Emitter) list(name string) *Listeners[any] {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	l, ok := e.listeners[name]
	if !ok {
		l = new(Listeners[any])
		e.listeners[name] = l
	}
	return l
}

// On registers fn for the named event.
func (e *Emitter) On(name string, fn func(payload any)) func() {
	return e.list(name).Add(fn)
}

// Once registers fn for a single delivery of the named event.
func (e *Emitter) Once(name string, fn func(payload any)) func() {
	var once sync.Once
	var dispose func()
	dispose = e.list(name).Add(func(payload any) {
		once.Do(func() {
			dispose()
			fn(payload)
		})
	})
	return dispose
}

// Emit notifies listeners of the named event; listener panics are recovered and logged.
func (e *Emitter) Emit(name string, payload any) {
	e.list(name).SafeEmit(e.scope+":"+name, payload)
}

// Count returns the number of listeners for the named event.
func (e *Emitter) Count(name string) int {
	return e.list(name).Len()
}

// Clear removes every listener of every event.
func (e *Emitter) Clear() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.listeners = make(map[string]*Listeners[any])
}
