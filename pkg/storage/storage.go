// Package storage gives an app (or the session) a namespaced, diffing view over one path of the
// attribute store.
//
// Object values (maps and pointers) are written boxed as RefValues carrying a process-local
// key. When the store echoes a RefValue back, with our key, the Storage hands out the very object
// the caller originally set instead of a decoded copy and reports no change for it. Slices are
// plain values compared element by element.
package storage

import (
	"log/slog"
	"sync"

	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/events"
)

// Change is the per-key difference delivered to listeners. Removed changes carry only OldValue.
type Change struct {
	OldValue any
	NewValue any
	Removed  bool
}

type Diff map[string]Change

type Storage struct {
	id    string
	path  []string
	store attributes.Store

	mutex     sync.Mutex
	state     map[string]any
	stateRefs map[string]string
	refs      *refCache
	destroyed bool

	listeners   events.Listeners[Diff]
	unsubscribe func()
}

// New opens the storage at path and, when the store is writable, seeds defaults for keys that
// are not present yet.
func New(store attributes.Store, id string, path []string, defaults map[string]any) *Storage {
	s := &Storage{
		id:        id,
		path:      attributes.Child(path),
		store:     store,
		state:     make(map[string]any),
		stateRefs: make(map[string]string),
		refs:      newRefCache(),
	}
	s.unsubscribe = store.Subscribe(s.path, s.onEvent)
	s.refresh(nil, false)
	if len(defaults) > 0 && store.Writable() {
		s.EnsureState(defaults)
	}
	return s
}

func (s *Storage) ID() string {
	return s.id
}

func (s *Storage) Path() []string {
	return attributes.Child(s.path)
}

// State returns a shallow copy of the current state.
func (s *Storage) State() map[string]any {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make(map[string]any, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// Get returns the current value of one key.
func (s *Storage) Get(key string) (any, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	v, ok := s.state[key]
	return v, ok
}

func (s *Storage) Destroyed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.destroyed
}

// AddStateChangedListener registers fn for every non-empty diff and returns its disposer.
func (s *Storage) AddStateChangedListener(fn func(Diff)) func() {
	return s.listeners.Add(fn)
}

func (s *Storage) canWrite(op string) bool {
	if s.Destroyed() {
		slog.Error("cannot write to destroyed storage", "storage", s.id, "op", op)
		return false
	}
	if !s.store.Writable() {
		slog.Error("cannot write to storage without write access", "storage", s.id, "op", op)
		return false
	}
	return true
}

// SetState writes the keys of partial that differ from the current state. A nil value deletes
// the key. Passing the same object again is not a change; pass a new object to publish edits.
func (s *Storage) SetState(partial map[string]any) {
	if !s.canWrite("setState") {
		return
	}
	writes := make(map[string]any, len(partial))
	s.mutex.Lock()
	for k, v := range partial {
		old, had := s.state[k]
		if v == nil {
			if had {
				writes[k] = nil
			}
			continue
		}
		if isObject(v) {
			key := s.refs.keyFor(v)
			if had && s.stateRefs[k] == key {
				continue
			}
			n, err := attributes.Normalize(v)
			if err != nil {
				slog.Error("failed to encode storage value", "storage", s.id, "key", k, "err", err)
				continue
			}
			writes[k] = boxRef(key, n)
			continue
		}
		n, err := attributes.Normalize(v)
		if err != nil {
			slog.Error("failed to encode storage value", "storage", s.id, "key", k, "err", err)
			continue
		}
		if had && s.stateRefs[k] == "" && attributes.Equal(old, n) {
			continue
		}
		writes[k] = n
	}
	s.mutex.Unlock()

	if len(writes) == 0 {
		return
	}
	if err := s.store.Update(s.path, writes); err != nil {
		slog.Error("failed to set storage state", "storage", s.id, "err", err)
	}
}

// EnsureState sets only the keys of partial that are currently absent. Each key is checked and
// written atomically against the local replica.
func (s *Storage) EnsureState(partial map[string]any) {
	if !s.canWrite("ensureState") {
		return
	}
	for k, v := range partial {
		if v == nil {
			continue
		}
		if _, ok := s.Get(k); ok {
			continue
		}
		value := v
		if isObject(v) {
			s.mutex.Lock()
			key := s.refs.keyFor(v)
			s.mutex.Unlock()
			n, err := attributes.Normalize(v)
			if err != nil {
				slog.Error("failed to encode storage value", "storage", s.id, "key", k, "err", err)
				continue
			}
			value = boxRef(key, n)
		}
		if _, err := s.store.SetIfAbsent(attributes.Child(s.path, k), value); err != nil {
			slog.Error("failed to ensure storage state", "storage", s.id, "key", k, "err", err)
		}
	}
}

// EmptyStorage removes every key but keeps the storage alive.
func (s *Storage) EmptyStorage() {
	if !s.canWrite("emptyStorage") {
		return
	}
	if err := s.store.UpdateAttributes(s.path, map[string]any{}); err != nil {
		slog.Error("failed to empty storage", "storage", s.id, "err", err)
	}
}

// DeleteStorage removes the storage from the store for everyone and destroys it locally.
func (s *Storage) DeleteStorage() {
	if !s.canWrite("deleteStorage") {
		return
	}
	if err := s.store.Delete(s.path); err != nil {
		slog.Error("failed to delete storage", "storage", s.id, "err", err)
	}
	s.Destroy()
}

// Destroy detaches the storage from the store and drops every listener. The stored data stays.
func (s *Storage) Destroy() {
	s.mutex.Lock()
	if s.destroyed {
		s.mutex.Unlock()
		return
	}
	s.destroyed = true
	s.mutex.Unlock()
	s.unsubscribe()
	s.listeners.Clear()
}

func (s *Storage) onEvent(ev attributes.Event) {
	if len(ev.Path) > len(s.path) {
		s.refresh([]string{ev.Path[len(s.path)]}, true)
		return
	}
	s.refresh(nil, true)
}

// refresh re-reads keys (all keys when nil) from the store, updates the cached state and
// notifies listeners of what actually changed.
func (s *Storage) refresh(keys []string, notify bool) {
	if keys == nil {
		seen := make(map[string]struct{})
		for _, k := range s.store.Keys(s.path...) {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		s.mutex.Lock()
		for k := range s.state {
			if _, ok := seen[k]; !ok {
				keys = append(keys, k)
			}
		}
		s.mutex.Unlock()
	}

	diff := make(Diff)
	for _, k := range keys {
		raw, ok := s.store.Get(attributes.Child(s.path, k)...)
		s.mutex.Lock()
		if s.destroyed {
			s.mutex.Unlock()
			return
		}
		old, had := s.state[k]
		oldRef := s.stateRefs[k]
		if !ok {
			if had {
				delete(s.state, k)
				delete(s.stateRefs, k)
				s.releaseLocked(oldRef)
				diff[k] = Change{OldValue: old, Removed: true}
			}
			s.mutex.Unlock()
			continue
		}
		value, refKey := raw, ""
		if key, payload, isRef := unboxRef(raw); isRef {
			refKey = key
			value = s.refs.resolve(key, payload)
		}
		unchanged := had && ((refKey != "" && refKey == oldRef) ||
			(refKey == "" && oldRef == "" && attributes.Equal(old, value)))
		if unchanged {
			s.mutex.Unlock()
			continue
		}
		s.state[k] = value
		if refKey != "" {
			s.stateRefs[k] = refKey
		} else {
			delete(s.stateRefs, k)
		}
		if oldRef != refKey {
			s.releaseLocked(oldRef)
		}
		change := Change{NewValue: value}
		if had {
			change.OldValue = old
		}
		diff[k] = change
		s.mutex.Unlock()
	}
	if notify && len(diff) > 0 {
		s.listeners.SafeEmit("storage:"+s.id, diff)
	}
}

// releaseLocked forgets a ref key once no key of this storage points at it anymore.
func (s *Storage) releaseLocked(refKey string) {
	if refKey == "" {
		return
	}
	for _, k := range s.stateRefs {
		if k == refKey {
			return
		}
	}
	s.refs.forget(refKey)
}
