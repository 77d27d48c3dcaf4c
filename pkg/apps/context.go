package apps

import (
	"context"
	"log/slog"

	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/events"
	"github.com/astromechza/appcanvas/pkg/page"
	"github.com/astromechza/appcanvas/pkg/storage"
)

// Lifecycle events emitted on Context.Events.
const (
	EventDestroy          = "destroy"
	EventAttributesUpdate = "attributesUpdate"
	EventWritableChange   = "writableChange"
	EventSceneStateChange = "sceneStateChange"
	EventPageStateChange  = "pageStateChange"
)

// SceneState is the payload of EventSceneStateChange.
type SceneState struct {
	ScenePath string
	Index     int
}

// Context is what a module's Setup gets to drive its instance.
type Context struct {
	proxy *Proxy
}

func (c *Context) AppID() string {
	return c.proxy.id
}

func (c *Context) Kind() string {
	return c.proxy.kind
}

func (c *Context) Participant() string {
	return c.proxy.m.participant
}

// Context is cancelled when the app is destroyed. Long running setup work should watch it.
func (c *Context) Context() context.Context {
	return c.proxy.ctx
}

// Logger is tagged with the app id and kind.
func (c *Context) Logger() *slog.Logger {
	return c.proxy.log
}

func (c *Context) Destroyed() bool {
	return c.proxy.ctx.Err() != nil
}

// Storage is the app's own state, shared with every participant.
func (c *Context) Storage() *storage.Storage {
	return c.proxy.Storage()
}

// CreateStorage opens an extra named storage owned by the app. It is destroyed with the app.
func (c *Context) CreateStorage(name string, defaults map[string]any) *storage.Storage {
	return c.proxy.createStorage(name, defaults)
}

// Box returns the app's window.
func (c *Context) Box() (Box, error) {
	b := c.proxy.Box()
	if b == nil {
		return nil, &BoxNotCreatedError{AppID: c.proxy.id}
	}
	return b, nil
}

// View returns the app's render surface, or nil for apps without scenes.
func (c *Context) View() View {
	return c.proxy.View()
}

// Pages returns the page controller, or nil for apps without scenes.
func (c *Context) Pages() *page.Controller {
	return c.proxy.Pages()
}

// Entry returns the current registry entry.
func (c *Context) Entry() Entry {
	return c.proxy.Entry()
}

func (c *Context) Writable() bool {
	return c.proxy.m.store.Writable()
}

// Events is the lifecycle emitter of the app.
func (c *Context) Events() *events.Emitter {
	return c.proxy.emitter
}

// AddMagixEventListener listens to app scoped messages from every participant.
func (c *Context) AddMagixEventListener(event string, fn func(bus.Message)) func() {
	return c.proxy.busScope().On(event, fn)
}

// DispatchMagixEvent sends an app scoped message to every participant.
func (c *Context) DispatchMagixEvent(event string, payload any) error {
	return c.proxy.busScope().Dispatch(event, payload)
}
