// Package bus carries fire-and-forget events between the participants of a room, next to the
// replicated state. Messages travel as JSON text frames over the same connection as sync.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/astromechza/appcanvas/pkg/events"
)

// WindowManager is the single multiplexed event the window manager uses on the wire.
const WindowManager = "WindowManager"

// Window manager event names carried inside WindowManager messages.
const (
	AppMove           = "AppMove"
	AppResize         = "AppResize"
	AppBoxStateChange = "AppBoxStateChange"
	SwitchScenePath   = "SwitchScenePath"
)

type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	From    string `json:"from"`
}

// Decode converts the payload into out.
func (m Message) Decode(out any) error {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode payload of %s: %w", m.Event, err)
	}
	return nil
}

// WindowManagerPayload is the envelope inside a WindowManager message.
type WindowManagerPayload struct {
	EventName string `json:"eventName"`
	Payload   any    `json:"payload"`
}

// Transport sends encoded messages to the other participants.
type Transport interface {
	SendText(raw []byte) error
}

type Bus struct {
	participant string

	mutex     sync.Mutex
	transport Transport
	listeners map[string]*events.Listeners[Message]
}

func New(participant string) *Bus {
	return &Bus{participant: participant, listeners: make(map[string]*events.Listeners[Message])}
}

func (b *Bus) Participant() string {
	return b.participant
}

// SetTransport replaces the outgoing transport. A nil transport keeps messages local.
func (b *Bus) SetTransport(t Transport) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.transport = t
}

func (b *Bus) group(event string) *events.Listeners[Message] {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	l, ok := b.listeners[event]
	if !ok {
		l = &events.Listeners[Message]{}
		b.listeners[event] = l
	}
	return l
}

// On registers fn for event and returns its disposer.
func (b *Bus) On(event string, fn func(Message)) func() {
	return b.group(event).Add(fn)
}

// Dispatch delivers the event locally and sends it to everyone else.
func (b *Bus) Dispatch(event string, payload any) error {
	msg := Message{Event: event, Payload: payload, From: b.participant}
	b.deliver(msg)

	b.mutex.Lock()
	t := b.transport
	b.mutex.Unlock()
	if t == nil {
		return nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := t.SendText(raw); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

// Deliver decodes a text frame from another participant and notifies listeners.
func (b *Bus) Deliver(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("dropping malformed bus message", "err", err)
		return
	}
	if msg.Event == "" {
		return
	}
	b.deliver(msg)
}

func (b *Bus) deliver(msg Message) {
	b.mutex.Lock()
	l, ok := b.listeners[msg.Event]
	b.mutex.Unlock()
	if ok {
		l.SafeEmit("bus:"+msg.Event, msg)
	}
}

// DispatchWindowManager sends a window manager event.
func (b *Bus) DispatchWindowManager(name string, payload any) error {
	return b.Dispatch(WindowManager, WindowManagerPayload{EventName: name, Payload: payload})
}

// OnWindowManager registers fn for one window manager event name. fn receives the inner payload
// with From preserved.
func (b *Bus) OnWindowManager(name string, fn func(Message)) func() {
	return b.On(WindowManager, func(msg Message) {
		var wm WindowManagerPayload
		if err := msg.Decode(&wm); err != nil {
			slog.Warn("dropping malformed window manager message", "err", err)
			return
		}
		if wm.EventName != name {
			return
		}
		fn(Message{Event: wm.EventName, Payload: wm.Payload, From: msg.From})
	})
}

// Scope namespaces events as "<prefix>:<event>" and disposes everything it registered at once.
type Scope struct {
	bus    *Bus
	prefix string

	mutex     sync.Mutex
	disposers []func()
	closed    bool
}

func (b *Bus) Scoped(prefix string) *Scope {
	return &Scope{bus: b, prefix: prefix}
}

func (s *Scope) name(event string) string {
	return s.prefix + ":" + event
}

func (s *Scope) On(event string, fn func(Message)) func() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return func() {}
	}
	prefix := s.prefix + ":"
	dispose := s.bus.On(s.name(event), func(msg Message) {
		msg.Event = strings.TrimPrefix(msg.Event, prefix)
		fn(msg)
	})
	s.disposers = append(s.disposers, dispose)
	return dispose
}

func (s *Scope) Dispatch(event string, payload any) error {
	s.mutex.Lock()
	closed := s.closed
	s.mutex.Unlock()
	if closed {
		return nil
	}
	return s.bus.Dispatch(s.name(event), payload)
}

func (s *Scope) Destroy() {
	s.mutex.Lock()
	disposers := s.disposers
	s.disposers = nil
	s.closed = true
	s.mutex.Unlock()
	for _, d := range disposers {
		d()
	}
}
