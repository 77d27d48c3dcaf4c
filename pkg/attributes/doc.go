package attributes

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/appcanvas/pkg/events"
)

// DocStore is a Store backed by an automerge document. All document access is serialized behind
// one mutex; events are emitted after it is released.
type DocStore struct {
	mutex    sync.Mutex
	doc      *automerge.Doc
	writable atomic.Bool

	subscribers events.Listeners[Event]
	writableCh  events.Listeners[bool]
	changed     events.Listeners[struct{}]
}

var _ Store = (*DocStore)(nil)

// NewDocStore wraps doc, which the store owns from now on.
func NewDocStore(doc *automerge.Doc) *DocStore {
	s := &DocStore{doc: doc}
	s.writable.Store(true)
	return s
}

// New creates an empty store with the given actor id (empty keeps automerge's random one).
func New(actorID string) (*DocStore, error) {
	doc := automerge.New()
	if actorID != "" {
		if err := doc.SetActorID(actorHex(actorID)); err != nil {
			return nil, fmt.Errorf("failed to set actor id: %w", err)
		}
	}
	return NewDocStore(doc), nil
}

// Load restores a store from a saved document.
func Load(raw []byte, actorID string) (*DocStore, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	if actorID != "" {
		if err := doc.SetActorID(actorHex(actorID)); err != nil {
			return nil, fmt.Errorf("failed to set actor id: %w", err)
		}
	}
	return NewDocStore(doc), nil
}

// actorHex turns a participant id into an automerge actor id, which must be hex.
func actorHex(id string) string {
	if _, err := hex.DecodeString(id); err == nil {
		return id
	}
	return hex.EncodeToString([]byte(id))
}

func (s *DocStore) ActorID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.doc.ActorID()
}

func (s *DocStore) Writable() bool {
	return s.writable.Load()
}

// SetWritable toggles local write access and notifies writability listeners on change.
func (s *DocStore) SetWritable(writable bool) {
	if s.writable.Swap(writable) != writable {
		s.writableCh.SafeEmit("writable", writable)
	}
}

func (s *DocStore) OnWritableChanged(fn func(bool)) func() {
	return s.writableCh.Add(fn)
}

// OnChanged is notified whenever the document heads move, locally or by sync.
func (s *DocStore) OnChanged(fn func()) func() {
	return s.changed.Add(func(struct{}) { fn() })
}

func (s *DocStore) Subscribe(prefix []string, fn func(Event)) func() {
	prefix = Child(prefix)
	return s.subscribers.Add(func(ev Event) {
		if related(prefix, ev.Path) {
			fn(ev)
		}
	})
}

func (s *DocStore) emit(evs []Event) {
	for _, ev := range evs {
		s.subscribers.SafeEmit("attributes", ev)
	}
	if len(evs) > 0 {
		s.changed.SafeEmit("changed", struct{}{})
	}
}

func (s *DocStore) Attributes() map[string]any {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.snapshotLocked()
}

func (s *DocStore) snapshotLocked() map[string]any {
	values, err := s.doc.RootMap().Values()
	if err != nil {
		slog.Error("failed to read root map", "err", err)
		return map[string]any{}
	}
	out, err := plainMap(values)
	if err != nil {
		slog.Error("failed to convert root map", "err", err)
		return map[string]any{}
	}
	return out
}

func (s *DocStore) Get(path ...string) (any, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.getLocked(path)
}

func (s *DocStore) getLocked(path []string) (any, bool) {
	if len(path) == 0 {
		return s.snapshotLocked(), true
	}
	v, err := s.doc.Path(toSegments(path)...).Get()
	if err != nil || v == nil || v.Kind() == automerge.KindVoid {
		return nil, false
	}
	p, err := plain(v)
	if err != nil {
		slog.Error("failed to read attribute", "path", Join(path), "err", err)
		return nil, false
	}
	return p, true
}

func (s *DocStore) Keys(path ...string) []string {
	v, ok := s.Get(path...)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return sortedKeys(m)
}

func (s *DocStore) checkWrite(path []string) error {
	if !s.Writable() {
		return ErrReadOnly
	}
	if !validPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, Join(path))
	}
	return nil
}

func (s *DocStore) UpdateAttributes(path []string, value any) error {
	if len(path) == 0 {
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: root must be a map", ErrInvalidPath)
		}
		return s.SetAttributes(m)
	}
	if value == nil {
		return s.Delete(path)
	}
	if err := s.checkWrite(path); err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	ev, err := s.setLocked(path, v)
	if err == nil && ev != nil {
		s.commitLocked("set " + Join(path))
	}
	s.mutex.Unlock()
	if err != nil {
		return err
	}
	if ev != nil {
		s.emit([]Event{*ev})
	}
	return nil
}

func (s *DocStore) SetAttributes(partial map[string]any) error {
	return s.Update(nil, partial)
}

func (s *DocStore) Update(path []string, partial map[string]any) error {
	if err := s.checkWrite(path); err != nil {
		return err
	}
	normalized := make(map[string]any, len(partial))
	for k, v := range partial {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidPath)
		}
		n, err := Normalize(v)
		if err != nil {
			return err
		}
		normalized[k] = n
	}

	s.mutex.Lock()
	var evs []Event
	var firstErr error
	for _, k := range sortedKeys(normalized) {
		child := Child(path, k)
		var ev *Event
		var err error
		if normalized[k] == nil {
			ev, err = s.deleteLocked(child)
		} else {
			ev, err = s.setLocked(child, normalized[k])
		}
		if err != nil {
			firstErr = err
			break
		}
		if ev != nil {
			evs = append(evs, *ev)
		}
	}
	if len(evs) > 0 {
		s.commitLocked("update " + Join(path))
	}
	s.mutex.Unlock()
	s.emit(evs)
	return firstErr
}

func (s *DocStore) SetIfAbsent(path []string, value any) (bool, error) {
	if len(path) == 0 {
		return false, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if err := s.checkWrite(path); err != nil {
		return false, err
	}
	v, err := Normalize(value)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	s.mutex.Lock()
	if _, ok := s.getLocked(path); ok {
		s.mutex.Unlock()
		return false, nil
	}
	ev, err := s.setLocked(path, v)
	if err == nil && ev != nil {
		s.commitLocked("ensure " + Join(path))
	}
	s.mutex.Unlock()
	if err != nil {
		return false, err
	}
	if ev != nil {
		s.emit([]Event{*ev})
	}
	return true, nil
}

func (s *DocStore) Delete(path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: cannot delete root", ErrInvalidPath)
	}
	if err := s.checkWrite(path); err != nil {
		return err
	}
	s.mutex.Lock()
	ev, err := s.deleteLocked(path)
	if err == nil && ev != nil {
		s.commitLocked("delete " + Join(path))
	}
	s.mutex.Unlock()
	if err != nil {
		return err
	}
	if ev != nil {
		s.emit([]Event{*ev})
	}
	return nil
}

// setLocked writes v (already normalized) and returns the event, or nil when nothing changed.
func (s *DocStore) setLocked(path []string, v any) (*Event, error) {
	old, had := s.getLocked(path)
	if had && Equal(old, v) {
		return nil, nil
	}
	if err := s.ensureParentsLocked(path); err != nil {
		return nil, err
	}
	if err := s.doc.Path(toSegments(path)...).Set(v); err != nil {
		return nil, fmt.Errorf("failed to set %s: %w", Join(path), err)
	}
	ev := &Event{Kind: Updated, Path: path, OldValue: old, NewValue: v}
	if !had {
		ev.Kind = Inserted
		ev.OldValue = nil
	}
	return ev, nil
}

func (s *DocStore) ensureParentsLocked(path []string) error {
	for i := 1; i < len(path); i++ {
		parent := path[:i]
		v, ok := s.getLocked(parent)
		if ok {
			if _, isMap := v.(map[string]any); isMap {
				continue
			}
		}
		if err := s.doc.Path(toSegments(parent)...).Set(map[string]interface{}{}); err != nil {
			return fmt.Errorf("failed to create %s: %w", Join(parent), err)
		}
	}
	return nil
}

func (s *DocStore) deleteLocked(path []string) (*Event, error) {
	old, had := s.getLocked(path)
	if !had {
		return nil, nil
	}
	parent, key := path[:len(path)-1], path[len(path)-1]
	m := s.doc.RootMap()
	if len(parent) > 0 {
		m = s.doc.Path(toSegments(parent)...).Map()
	}
	if err := m.Delete(key); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", Join(path), err)
	}
	return &Event{Kind: Removed, Path: path, OldValue: old}, nil
}

func (s *DocStore) commitLocked(message string) {
	if _, err := s.doc.Commit(message); err != nil {
		slog.Debug("failed to commit doc", "message", message, "err", err)
	}
}

// Save serializes the full document.
func (s *DocStore) Save() []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.doc.Save()
}

// Heads returns the current change heads as strings.
func (s *DocStore) Heads() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	heads := s.doc.Heads()
	out := make([]string, len(heads))
	for i, h := range heads {
		out[i] = h.String()
	}
	return out
}

// Fork returns an independent copy of the current document.
func (s *DocStore) Fork() (*automerge.Doc, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.doc.Fork()
}
