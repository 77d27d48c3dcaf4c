// Package reconnect re-establishes subscriptions once the connection to the room recovers from an
// outage.
package reconnect

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/astromechza/appcanvas/pkg/events"
)

type Phase int

const (
	Connecting Phase = iota
	Connected
	Reconnecting
	Disconnecting
	Disconnected
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PhaseSource reports connection phase changes.
type PhaseSource interface {
	OnPhaseChanged(fn func(Phase)) func()
}

// Factory subscribes something and returns its disposer.
type Factory func() func()

type entry struct {
	factory Factory
	dispose func()
	seq     int
}

type Refresher struct {
	mutex     sync.Mutex
	phase     Phase
	entries   map[string]*entry
	seq       int
	destroyed bool

	reconnected events.Listeners[struct{}]
	detach      func()
}

// New creates a Refresher, following source when it is not nil.
func New(source PhaseSource) *Refresher {
	r := &Refresher{phase: Connected, entries: make(map[string]*entry), detach: func() {}}
	if source != nil {
		r.detach = source.OnPhaseChanged(r.SetPhase)
	}
	return r
}

func (r *Refresher) Phase() Phase {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.phase
}

// Add subscribes through factory and keeps it for refreshes. Adding an id twice is a no-op.
func (r *Refresher) Add(id string, factory Factory) {
	r.mutex.Lock()
	if r.destroyed {
		r.mutex.Unlock()
		return
	}
	if _, ok := r.entries[id]; ok {
		r.mutex.Unlock()
		return
	}
	r.seq++
	e := &entry{factory: factory, seq: r.seq}
	r.entries[id] = e
	r.mutex.Unlock()

	dispose := invoke(id, factory)
	r.mutex.Lock()
	if r.entries[id] == e {
		e.dispose = dispose
		dispose = nil
	}
	r.mutex.Unlock()
	// removed while subscribing
	if dispose != nil {
		dispose()
	}
}

// Remove disposes and forgets id. Unknown ids are ignored.
func (r *Refresher) Remove(id string) {
	r.mutex.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mutex.Unlock()
	if ok && e.dispose != nil {
		e.dispose()
	}
}

func (r *Refresher) Has(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.entries[id]
	return ok
}

// OnReconnected registers fn to run after every refresh.
func (r *Refresher) OnReconnected(fn func()) func() {
	return r.reconnected.Add(func(struct{}) { fn() })
}

// SetPhase records the connection phase. A Reconnecting to Connected transition disposes every
// subscription once, re-runs every factory once, then notifies OnReconnected listeners.
func (r *Refresher) SetPhase(phase Phase) {
	r.mutex.Lock()
	prev := r.phase
	r.phase = phase
	if r.destroyed || prev != Reconnecting || phase != Connected {
		r.mutex.Unlock()
		return
	}
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.entries[ids[i]].seq < r.entries[ids[j]].seq })
	r.mutex.Unlock()

	slog.Info("refreshing subscriptions after reconnect", "count", len(ids))
	for _, id := range ids {
		r.refresh(id)
	}
	r.reconnected.SafeEmit("reconnect", struct{}{})
}

func (r *Refresher) refresh(id string) {
	r.mutex.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mutex.Unlock()
		return
	}
	old := e.dispose
	e.dispose = nil
	r.mutex.Unlock()

	if old != nil {
		old()
	}
	dispose := invoke(id, e.factory)

	r.mutex.Lock()
	if r.entries[id] == e {
		e.dispose = dispose
		dispose = nil
	}
	r.mutex.Unlock()
	if dispose != nil {
		dispose()
	}
}

// Destroy disposes every subscription and stops following the phase source.
func (r *Refresher) Destroy() {
	r.mutex.Lock()
	if r.destroyed {
		r.mutex.Unlock()
		return
	}
	r.destroyed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mutex.Unlock()

	r.detach()
	for _, e := range entries {
		if e.dispose != nil {
			e.dispose()
		}
	}
	r.reconnected.Clear()
}

func invoke(id string, factory Factory) func() {
	var dispose func()
	if err := events.Guard(func() { dispose = factory() }); err != nil {
		slog.Error("reconnect subscription failed", "id", id, "err", err)
	}
	if dispose == nil {
		return func() {}
	}
	return dispose
}
