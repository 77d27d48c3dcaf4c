// Package apps runs the app windows of a session: it watches the replicated registry, creates
// one proxy per entry through a sequential creation queue, keeps windows, focus and scenes in
// sync with the other participants and rebuilds everything after a reconnect.
package apps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/events"
	"github.com/astromechza/appcanvas/pkg/metrics"
	"github.com/astromechza/appcanvas/pkg/reconnect"
	"github.com/astromechza/appcanvas/pkg/scheduler"
	"github.com/astromechza/appcanvas/pkg/storage"
)

type ManagerOptions struct {
	Participant string
	Store       attributes.Store
	Registry    *Registry
	Bus         *bus.Bus
	Boxes       BoxManager
	// Views and Scenes are optional; apps with a scene path get no view without them.
	Views     ViewFactory
	Scenes    SceneDirectory
	Refresher *reconnect.Refresher
	Clock     clockwork.Clock

	CameraMode    camera.Mode
	CameraWindow  time.Duration
	BoxWindow     time.Duration
	CreateTimeout time.Duration
}

type Manager struct {
	participant  string
	store        attributes.Store
	registry     *Registry
	bus          *bus.Bus
	boxes        BoxManager
	views        ViewFactory
	scenes       SceneDirectory
	refresher    *reconnect.Refresher
	clock        clockwork.Clock
	cameraMode   camera.Mode
	cameraWindow time.Duration

	queue     *CreationQueue
	coalescer *scheduler.Coalescer

	mutex     sync.Mutex
	proxies   map[string]*Proxy
	pending   map[string]bool
	started   bool
	destroyed bool
	disposers []func()

	focusChanged events.Listeners[string]
	appsChanged  events.Listeners[[]string]
}

const subscriptionID = "apps-manager"

func NewManager(opts ManagerOptions) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(nil)
	}
	b := opts.Bus
	if b == nil {
		b = bus.New(opts.Participant)
	}
	return &Manager{
		participant:  opts.Participant,
		store:        opts.Store,
		registry:     registry,
		bus:          b,
		boxes:        opts.Boxes,
		views:        opts.Views,
		scenes:       opts.Scenes,
		refresher:    opts.Refresher,
		clock:        clock,
		cameraMode:   opts.CameraMode,
		cameraWindow: opts.CameraWindow,
		queue:        NewCreationQueue(opts.CreateTimeout),
		coalescer:    scheduler.NewCoalescer(clock, opts.BoxWindow),
		proxies:      make(map[string]*Proxy),
		pending:      make(map[string]bool),
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start subscribes to the store, the bus and the window chrome, restores every app already in
// the registry and starts the creation queue.
func (m *Manager) Start() {
	m.mutex.Lock()
	if m.started || m.destroyed {
		m.mutex.Unlock()
		return
	}
	m.started = true
	m.mutex.Unlock()

	if m.refresher != nil {
		m.refresher.Add(subscriptionID, m.subscribeStore)
		m.addDisposer(func() { m.refresher.Remove(subscriptionID) })
		m.addDisposer(m.refresher.OnReconnected(m.rebuild))
	} else {
		m.addDisposer(m.subscribeStore())
	}
	m.addDisposer(m.boxes.OnEvent(m.onBoxEvent))
	m.addDisposer(m.bus.OnWindowManager(bus.AppMove, m.onRemoteMove))
	m.addDisposer(m.bus.OnWindowManager(bus.AppResize, m.onRemoteResize))
	m.addDisposer(m.bus.OnWindowManager(bus.AppBoxStateChange, m.onRemoteBoxState))
	m.addDisposer(m.bus.OnWindowManager(bus.SwitchScenePath, m.onRemoteScenePath))

	m.applyBoxState()
	m.reconcile()
	m.queue.Start()
}

func (m *Manager) addDisposer(d func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.disposers = append(m.disposers, d)
}

func (m *Manager) subscribeStore() func() {
	disposers := []func(){
		m.store.Subscribe([]string{RegistryPath}, func(ev attributes.Event) {
			if len(ev.Path) <= 2 {
				m.reconcile()
			}
		}),
		m.store.Subscribe([]string{FocusKey}, func(attributes.Event) { m.onFocusChanged() }),
		m.store.Subscribe([]string{BoxStateKey}, func(attributes.Event) { m.applyBoxState() }),
	}
	return func() {
		for _, d := range disposers {
			d()
		}
	}
}

// Ready is closed once every app present when Start was called has been created or failed.
func (m *Manager) Ready() <-chan struct{} {
	return m.queue.Ready()
}

func (m *Manager) OnReady(fn func()) func() {
	return m.queue.OnReady(fn)
}

// App returns the live proxy of appID.
func (m *Manager) App(appID string) (*Proxy, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	p, ok := m.proxies[appID]
	return p, ok
}

// Apps lists the ids of live apps.
func (m *Manager) Apps() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]string, 0, len(m.proxies))
	for id := range m.proxies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnAppsChanged is told the live app ids after every create and destroy.
func (m *Manager) OnAppsChanged(fn func([]string)) func() {
	return m.appsChanged.Add(fn)
}

func (m *Manager) notifyApps() {
	metrics.AppsLive.Set(float64(len(m.Apps())))
	m.appsChanged.SafeEmit("apps", m.Apps())
}

func (m *Manager) liveKind(kind string) (string, bool) {
	for id, p := range m.proxies {
		if p.kind == kind {
			return id, true
		}
	}
	return "", false
}

// AddApp registers a new app and waits until it has been created. Singleton kinds use their kind
// as app id so concurrent creators collapse onto one registry key.
func (m *Manager) AddApp(ctx context.Context, params Params) (string, error) {
	if err := params.validate(); err != nil {
		return "", err
	}
	if !m.store.Writable() {
		return "", fmt.Errorf("failed to add app: %w", attributes.ErrReadOnly)
	}
	if !m.registry.Has(params.Kind) && params.Src == "" {
		return "", &NotRegisteredError{Kind: params.Kind}
	}
	module, err := m.registry.Resolve(ctx, params.Kind, params.Src)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if module.Config.Singleton {
		id = params.Kind
	}
	m.mutex.Lock()
	if m.destroyed {
		m.mutex.Unlock()
		return "", ErrDestroyed
	}
	_, live := m.proxies[id]
	if !live && module.Config.Singleton {
		_, live = m.liveKind(params.Kind)
	}
	if live || m.pending[id] {
		m.mutex.Unlock()
		return "", &DuplicateError{AppID: id, Kind: params.Kind}
	}
	m.pending[id] = true
	m.mutex.Unlock()

	entry := Entry{
		Kind:    params.Kind,
		Options: params.Options,
		State: WindowState{
			X:      (1 - module.Config.Width) / 2,
			Y:      (1 - module.Config.Height) / 2,
			Width:  module.Config.Width,
			Height: module.Config.Height,
			ZIndex: m.maxZIndex() + 1,
		},
		IsDynamicPPT: params.IsDynamicPPT,
		Src:          params.Src,
		CreatedBy:    m.participant,
		CreatedAt:    m.clock.Now().UnixMilli(),
	}
	wrote, err := m.store.SetIfAbsent(EntryPath(id), entry.toMap())
	if err != nil || !wrote {
		m.clearPending(id)
		if err != nil {
			return "", fmt.Errorf("failed to register app: %w", err)
		}
		return "", &DuplicateError{AppID: id, Kind: params.Kind}
	}
	slog.Info("adding app", "app", id, "kind", params.Kind)

	done := m.queue.Push(id, func(ctx context.Context) error {
		return m.createApp(ctx, id, params.Attributes, nil)
	})
	select {
	case err := <-done:
		if err != nil {
			if derr := m.store.Delete(EntryPath(id)); derr != nil {
				slog.Warn("failed to remove entry of failed app", "app", id, "err", derr)
			}
			return "", err
		}
	case <-ctx.Done():
		return "", fmt.Errorf("failed waiting for app %s: %w", id, ctx.Err())
	}
	if err := m.SetFocus(id); err != nil {
		slog.Warn("failed to focus new app", "app", id, "err", err)
	}
	return id, nil
}

func (m *Manager) clearPending(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.pending, id)
}

// createApp builds the proxy of a registry entry. It runs on the creation queue.
func (m *Manager) createApp(ctx context.Context, id string, attrs map[string]any, snap *Snapshot) error {
	defer m.clearPending(id)

	raw, ok := m.store.Get(EntryPath(id)...)
	if !ok {
		slog.Info("app vanished before creation", "app", id)
		return nil
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return &InvalidParamsError{Reason: err.Error()}
	}
	module, err := m.registry.Resolve(ctx, entry.Kind, entry.Src)
	if err != nil {
		metrics.AppsCreatedTotal.WithLabelValues(entry.Kind, "not_registered").Inc()
		return err
	}

	m.mutex.Lock()
	if m.destroyed {
		m.mutex.Unlock()
		return ErrDestroyed
	}
	if _, ok := m.proxies[id]; ok {
		m.mutex.Unlock()
		return &DuplicateError{AppID: id, Kind: entry.Kind}
	}
	if module.Config.Singleton {
		if other, ok := m.liveKind(entry.Kind); ok {
			m.mutex.Unlock()
			metrics.AppsCreatedTotal.WithLabelValues(entry.Kind, "duplicate").Inc()
			return &DuplicateError{AppID: other, Kind: entry.Kind}
		}
	}
	p := newProxy(m, id, entry, module)
	m.proxies[id] = p
	m.mutex.Unlock()

	if err := p.create(ctx, attrs); err != nil {
		m.mutex.Lock()
		if m.proxies[id] == p {
			delete(m.proxies, id)
		}
		m.mutex.Unlock()
		metrics.AppsCreatedTotal.WithLabelValues(entry.Kind, "failed").Inc()
		m.notifyApps()
		return err
	}
	metrics.AppsCreatedTotal.WithLabelValues(entry.Kind, "ok").Inc()
	if snap != nil {
		p.apply(*snap)
	}
	m.notifyApps()
	return nil
}

func proxyStorage(p *Proxy) *storage.Storage {
	if p == nil {
		return nil
	}
	return p.Storage()
}

// reconcile creates proxies for new registry entries and destroys proxies whose entry is gone.
func (m *Manager) reconcile() {
	keys := m.store.Keys(RegistryPath)
	present := make(map[string]bool, len(keys))
	var create []string
	var remove []*Proxy

	m.mutex.Lock()
	if m.destroyed || !m.started {
		m.mutex.Unlock()
		return
	}
	for _, id := range keys {
		present[id] = true
		if _, ok := m.proxies[id]; ok || m.pending[id] {
			continue
		}
		raw, _ := m.store.Get(EntryPath(id)...)
		entry, err := decodeEntry(raw)
		if err != nil {
			slog.Warn("skipping malformed registry entry", "app", id, "err", err)
			continue
		}
		if !m.registry.Has(entry.Kind) && entry.Src == "" {
			slog.Error("skipping app of unregistered kind", "app", id, "err", &NotRegisteredError{Kind: entry.Kind})
			continue
		}
		if cfg, ok := m.registry.Config(entry.Kind); ok && cfg.Singleton {
			if _, live := m.liveKind(entry.Kind); live || id != entry.Kind {
				slog.Warn("skipping duplicate singleton", "app", id, "kind", entry.Kind)
				continue
			}
		}
		m.pending[id] = true
		create = append(create, id)
	}
	for id, p := range m.proxies {
		if !present[id] {
			delete(m.proxies, id)
			remove = append(remove, p)
		}
	}
	m.mutex.Unlock()

	for _, p := range remove {
		p.destroy()
	}
	if len(remove) > 0 {
		m.notifyApps()
	}
	sort.Strings(create)
	for _, id := range create {
		id := id
		m.queue.Push(id, func(ctx context.Context) error {
			err := m.createApp(ctx, id, nil, nil)
			if err != nil {
				slog.Error("failed to create app", "app", id, "err", err)
			}
			return err
		})
	}
}

// CloseApp removes the app for every participant.
func (m *Manager) CloseApp(appID string) error {
	if !m.store.Writable() {
		return fmt.Errorf("failed to close app: %w", attributes.ErrReadOnly)
	}
	p, ok := m.App(appID)
	if !ok {
		if _, exists := m.store.Get(EntryPath(appID)...); !exists {
			return fmt.Errorf("failed to close app %s: %w", appID, ErrDestroyed)
		}
	}
	if st := proxyStorage(p); st != nil {
		st.DeleteStorage()
	} else if err := m.store.Delete(StoragePath(appID)); err != nil {
		slog.Warn("failed to delete app storage", "app", appID, "err", err)
	}
	if m.Focus() == appID {
		if err := m.store.UpdateAttributes([]string{FocusKey}, nil); err != nil {
			slog.Warn("failed to clear focus", "err", err)
		}
	}
	if err := m.store.Delete(EntryPath(appID)); err != nil {
		return fmt.Errorf("failed to remove app %s: %w", appID, err)
	}
	m.coalescer.Cancel(stateKey(appID))
	return nil
}

// Focus returns the focused app id, empty for the main surface.
func (m *Manager) Focus() string {
	v, _ := m.store.Get(FocusKey)
	s, _ := v.(string)
	return s
}

// OnFocusChanged is told the new focus after every change.
func (m *Manager) OnFocusChanged(fn func(string)) func() {
	return m.focusChanged.Add(fn)
}

// MainWritable reports whether the main surface is the writable one.
func (m *Manager) MainWritable() bool {
	return m.store.Writable() && m.Focus() == ""
}

// SetFocus makes appID the writable surface and raises it above the others. An empty id focuses
// the main surface.
func (m *Manager) SetFocus(appID string) error {
	if !m.store.Writable() {
		return fmt.Errorf("failed to focus: %w", attributes.ErrReadOnly)
	}
	if appID == "" {
		return m.store.UpdateAttributes([]string{FocusKey}, nil)
	}
	if _, ok := m.store.Get(EntryPath(appID)...); !ok {
		return fmt.Errorf("failed to focus %s: %w", appID, ErrDestroyed)
	}
	if m.Focus() != appID {
		if err := m.store.UpdateAttributes([]string{FocusKey}, appID); err != nil {
			return fmt.Errorf("failed to focus %s: %w", appID, err)
		}
	}
	z := m.maxZIndex()
	current, _ := m.store.Get(attributes.Child(EntryPath(appID), "state", "zIndex")...)
	if int(number(current)) < z || m.zIndexShared(appID, z) {
		if err := m.store.UpdateAttributes(attributes.Child(EntryPath(appID), "state", "zIndex"), z+1); err != nil {
			return fmt.Errorf("failed to raise %s: %w", appID, err)
		}
	}
	return nil
}

func (m *Manager) maxZIndex() int {
	z := 0
	for _, id := range m.store.Keys(RegistryPath) {
		v, _ := m.store.Get(attributes.Child(EntryPath(id), "state", "zIndex")...)
		if n := int(number(v)); n > z {
			z = n
		}
	}
	return z
}

func (m *Manager) zIndexShared(appID string, z int) bool {
	for _, id := range m.store.Keys(RegistryPath) {
		if id == appID {
			continue
		}
		v, _ := m.store.Get(attributes.Child(EntryPath(id), "state", "zIndex")...)
		if int(number(v)) == z {
			return true
		}
	}
	return false
}

func (m *Manager) onFocusChanged() {
	focus := m.Focus()
	m.mutex.Lock()
	proxies := make([]*Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		proxies = append(proxies, p)
	}
	m.mutex.Unlock()
	for _, p := range proxies {
		p.updateWritable()
	}
	if focus != "" {
		if p, ok := m.App(focus); ok && p.Box() != nil && !p.Box().Focused() {
			if err := m.boxes.FocusBox(focus); err != nil {
				slog.Warn("failed to focus box", "app", focus, "err", err)
			}
		}
	}
	m.focusChanged.SafeEmit("focus", focus)
}

// BoxState returns the shared window state.
func (m *Manager) BoxState() BoxState {
	v, _ := m.store.Get(BoxStateKey)
	s, _ := v.(string)
	if !BoxState(s).Valid() {
		return Normal
	}
	return BoxState(s)
}

// SetBoxState maximizes, minimizes or restores every window for every participant.
func (m *Manager) SetBoxState(state BoxState) error {
	if !state.Valid() {
		return &InvalidParamsError{Reason: fmt.Sprintf("unknown box state %q", state)}
	}
	if !m.store.Writable() {
		return fmt.Errorf("failed to set box state: %w", attributes.ErrReadOnly)
	}
	if err := m.store.UpdateAttributes([]string{BoxStateKey}, string(state)); err != nil {
		return fmt.Errorf("failed to set box state: %w", err)
	}
	if err := m.bus.DispatchWindowManager(bus.AppBoxStateChange, map[string]any{"state": string(state)}); err != nil {
		slog.Warn("failed to announce box state", "err", err)
	}
	return nil
}

func (m *Manager) applyBoxState() {
	state := m.BoxState()
	if m.boxes.BoxState() == state {
		return
	}
	if err := m.boxes.SetBoxState(state); err != nil {
		slog.Warn("failed to apply box state", "state", state, "err", err)
	}
}

func stateKey(appID string) string {
	return "state:" + appID
}

// onBoxEvent turns user interaction with a window into shared state. Moves and resizes are
// announced on the bus right away and written to the store coalesced.
func (m *Manager) onBoxEvent(ev BoxEvent) {
	p, ok := m.App(ev.AppID)
	if ev.Kind != BoxStateChanged && (!ok || p.Destroyed()) {
		return
	}
	switch ev.Kind {
	case BoxMoved:
		if !m.store.Writable() {
			return
		}
		m.dispatchWindowManager(bus.AppMove, map[string]any{"appId": ev.AppID, "x": ev.X, "y": ev.Y})
		m.coalescer.Schedule(stateKey(ev.AppID), func() { m.writeBoxState(ev.AppID) })
	case BoxResized:
		if !m.store.Writable() {
			return
		}
		m.dispatchWindowManager(bus.AppResize, map[string]any{"appId": ev.AppID, "width": ev.Width, "height": ev.Height, "x": ev.X, "y": ev.Y})
		m.coalescer.Schedule(stateKey(ev.AppID), func() { m.writeBoxState(ev.AppID) })
	case BoxFocused:
		if m.store.Writable() {
			if err := m.SetFocus(ev.AppID); err != nil {
				slog.Warn("failed to focus app", "app", ev.AppID, "err", err)
			}
		}
	case BoxClosed:
		if err := m.CloseApp(ev.AppID); err != nil {
			slog.Warn("failed to close app", "app", ev.AppID, "err", err)
		}
	case BoxStateChanged:
		if ev.State == m.BoxState() || !m.store.Writable() {
			return
		}
		if err := m.SetBoxState(ev.State); err != nil {
			slog.Warn("failed to set box state", "err", err)
		}
	}
}

func (m *Manager) dispatchWindowManager(name string, payload any) {
	if err := m.bus.DispatchWindowManager(name, payload); err != nil {
		slog.Warn("failed to dispatch window manager event", "event", name, "err", err)
	}
}

func (m *Manager) writeBoxState(appID string) {
	p, ok := m.App(appID)
	if !ok {
		return
	}
	box := p.Box()
	if box == nil || !m.store.Writable() {
		return
	}
	x, y, w, h := box.Rect()
	err := m.store.Update(attributes.Child(EntryPath(appID), "state"), map[string]any{
		"x": x, "y": y, "width": w, "height": h,
	})
	if err != nil {
		slog.Error("failed to store window state", "app", appID, "err", err)
	}
}

type boxPayload struct {
	AppID  string  `json:"appId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	State  string  `json:"state"`
	Path   string  `json:"scenePath"`
}

func (m *Manager) remotePayload(msg bus.Message) (boxPayload, bool) {
	if msg.From == m.participant {
		return boxPayload{}, false
	}
	var pl boxPayload
	if err := msg.Decode(&pl); err != nil {
		slog.Warn("dropping window manager event", "event", msg.Event, "err", err)
		return boxPayload{}, false
	}
	return pl, true
}

func (m *Manager) onRemoteMove(msg bus.Message) {
	pl, ok := m.remotePayload(msg)
	if !ok {
		return
	}
	if p, live := m.App(pl.AppID); live && p.Box() != nil {
		if err := m.boxes.MoveBox(pl.AppID, pl.X, pl.Y); err != nil {
			slog.Warn("failed to move box", "app", pl.AppID, "err", err)
		}
	}
}

func (m *Manager) onRemoteResize(msg bus.Message) {
	pl, ok := m.remotePayload(msg)
	if !ok || pl.Width <= 0 || pl.Height <= 0 {
		return
	}
	if p, live := m.App(pl.AppID); live && p.Box() != nil {
		if err := m.boxes.ResizeBox(pl.AppID, pl.Width, pl.Height); err != nil {
			slog.Warn("failed to resize box", "app", pl.AppID, "err", err)
		}
	}
}

func (m *Manager) onRemoteBoxState(msg bus.Message) {
	pl, ok := m.remotePayload(msg)
	if !ok {
		return
	}
	if state := BoxState(pl.State); state.Valid() && m.boxes.BoxState() != state {
		if err := m.boxes.SetBoxState(state); err != nil {
			slog.Warn("failed to apply box state", "err", err)
		}
	}
}

func (m *Manager) onRemoteScenePath(msg bus.Message) {
	pl, ok := m.remotePayload(msg)
	if !ok || pl.Path == "" {
		return
	}
	if p, live := m.App(pl.AppID); live {
		p.switchScenePath(pl.Path)
	}
}

// rebuild recreates every proxy after a reconnect, because handles from the old connection
// cannot be trusted. Visible state is captured first and restored on the new proxy.
func (m *Manager) rebuild() {
	m.mutex.Lock()
	if m.destroyed {
		m.mutex.Unlock()
		return
	}
	proxies := make([]*Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		proxies = append(proxies, p)
	}
	m.mutex.Unlock()
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].id < proxies[j].id })

	slog.Info("rebuilding apps after reconnect", "count", len(proxies))
	snapshots := make([]Snapshot, len(proxies))
	for i, p := range proxies {
		snapshots[i] = p.snapshot()
		m.coalescer.Flush(stateKey(p.id))
	}
	m.mutex.Lock()
	for _, p := range proxies {
		if m.proxies[p.id] == p {
			delete(m.proxies, p.id)
		}
	}
	m.mutex.Unlock()

	for i, p := range proxies {
		snap := snapshots[i]
		p.destroy()
		if _, ok := m.store.Get(EntryPath(p.id)...); !ok {
			continue
		}
		id := p.id
		m.mutex.Lock()
		m.pending[id] = true
		m.mutex.Unlock()
		metrics.AppRebuildsTotal.Inc()
		m.queue.Push(id, func(ctx context.Context) error {
			err := m.createApp(ctx, id, nil, &snap)
			if err != nil {
				slog.Error("failed to rebuild app", "app", id, "err", err)
			}
			return err
		})
	}
	m.notifyApps()
	m.reconcile()
}

// Destroy tears down every proxy locally. The registry is left untouched.
func (m *Manager) Destroy() {
	m.mutex.Lock()
	if m.destroyed {
		m.mutex.Unlock()
		return
	}
	m.destroyed = true
	proxies := m.proxies
	m.proxies = make(map[string]*Proxy)
	disposers := m.disposers
	m.disposers = nil
	m.mutex.Unlock()

	for _, d := range disposers {
		d()
	}
	m.queue.Close()
	m.coalescer.Stop()
	for _, p := range proxies {
		p.destroy()
	}
	m.focusChanged.Clear()
	m.appsChanged.Clear()
	metrics.AppsLive.Set(0)
}

// IsDuplicate reports whether err is a DuplicateError.
func IsDuplicate(err error) bool {
	var dup *DuplicateError
	return errors.As(err, &dup)
}
