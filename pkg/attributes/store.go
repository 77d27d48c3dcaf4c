// Package attributes is the replicated key-path tree shared by every participant of a room.
//
// The tree is an automerge document. Every mutating call commits a change and emits an explicit
// Event to subscribers whose prefix overlaps the mutated path; sync messages received from other
// participants are diffed against the previous state and emitted as remote Events, so consumers
// never need to watch values themselves.
package attributes

import (
	"errors"
	"strings"
)

var (
	ErrReadOnly    = errors.New("attributes are read-only")
	ErrInvalidPath = errors.New("invalid attribute path")
)

type EventKind int

const (
	Inserted EventKind = iota
	Updated
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes one mutation of the tree. Removed events carry only OldValue. Values are plain
// Go data (map[string]any, []any, string, int64, float64, bool, nil) and must not be mutated.
type Event struct {
	Kind     EventKind
	Path     []string
	OldValue any
	NewValue any
	Remote   bool
}

// Store is the contract the rest of the module consumes.
type Store interface {
	// Attributes returns a snapshot of the whole tree.
	Attributes() map[string]any
	// SetAttributes merges partial into the root; nil values delete keys.
	SetAttributes(partial map[string]any) error
	// UpdateAttributes replaces the value at path; a nil value deletes it.
	UpdateAttributes(path []string, value any) error
	// Update merges partial into the map at path; nil values delete keys.
	Update(path []string, partial map[string]any) error
	// SetIfAbsent writes value only when nothing is stored at path, atomically for this replica.
	SetIfAbsent(path []string, value any) (bool, error)
	Delete(path []string) error
	Get(path ...string) (any, bool)
	Keys(path ...string) []string
	// Subscribe delivers events whose path is under prefix, or which replace an ancestor of it.
	Subscribe(prefix []string, fn func(Event)) func()
	ActorID() string
	Writable() bool
	OnWritableChanged(fn func(bool)) func()
}

// Join renders a path for logs and change messages.
func Join(path []string) string {
	return "/" + strings.Join(path, "/")
}

// Child returns a new path with the extra segments appended, never aliasing base.
func Child(base []string, segments ...string) []string {
	out := make([]string, 0, len(base)+len(segments))
	out = append(out, base...)
	return append(out, segments...)
}

// related reports whether an event at path concerns a subscriber of prefix.
func related(prefix, path []string) bool {
	n := len(prefix)
	if len(path) < n {
		n = len(path)
	}
	for i := 0; i < n; i++ {
		if prefix[i] != path[i] {
			return false
		}
	}
	return true
}

func validPath(path []string) bool {
	for _, p := range path {
		if p == "" {
			return false
		}
	}
	return true
}
