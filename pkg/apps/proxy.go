package apps

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/events"
	"github.com/astromechza/appcanvas/pkg/page"
	"github.com/astromechza/appcanvas/pkg/storage"
)

type Phase int

const (
	PhaseStartCreate Phase = iota
	PhaseConstructed
	PhaseBoxCreated
	PhaseSetup
	PhaseReady
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseStartCreate:
		return "start-create"
	case PhaseConstructed:
		return "constructed"
	case PhaseBoxCreated:
		return "box-created"
	case PhaseSetup:
		return "setup"
	case PhaseReady:
		return "ready"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// EntryPath is where the registry entry of an app lives.
func EntryPath(appID string) []string {
	return []string{RegistryPath, appID}
}

// StoragePath is where the storage of an app lives.
func StoragePath(appID string) []string {
	return []string{"storage", appID}
}

// Snapshot is the visible state of an app kept across a rebuild.
type Snapshot struct {
	X          float64
	Y          float64
	Width      float64
	Height     float64
	SceneIndex int
	Focused    bool
	HasBox     bool
}

// Proxy is the live controller of one app instance.
type Proxy struct {
	m      *Manager
	id     string
	kind   string
	module Module
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	storage *storage.Storage
	scope   *bus.Scope
	emitter *events.Emitter

	mutex        sync.Mutex
	phase        Phase
	entry        Entry
	box          Box
	view         View
	cam          *camera.StoreSync
	pages        *page.Controller
	viewWritable bool
	storages     []*storage.Storage
	disposers    []func()
}

func newProxy(m *Manager, id string, entry Entry, module Module) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())
	return &Proxy{
		m:       m,
		id:      id,
		kind:    entry.Kind,
		module:  module,
		log:     slog.With("app", id, "kind", entry.Kind),
		ctx:     ctx,
		cancel:  cancel,
		entry:   entry,
		phase:   PhaseStartCreate,
		emitter: events.NewEmitter("app:" + id),
	}
}

func (p *Proxy) ID() string {
	return p.id
}

func (p *Proxy) Kind() string {
	return p.kind
}

func (p *Proxy) Phase() Phase {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.phase
}

func (p *Proxy) Destroyed() bool {
	return p.Phase() == PhaseDestroyed
}

func (p *Proxy) setPhase(phase Phase) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.phase == PhaseDestroyed {
		return false
	}
	p.phase = phase
	p.log.Debug("app phase", "phase", phase)
	return true
}

func (p *Proxy) Box() Box {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.box
}

func (p *Proxy) View() View {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.view
}

func (p *Proxy) Pages() *page.Controller {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.pages
}

func (p *Proxy) Entry() Entry {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.entry
}

func (p *Proxy) Storage() *storage.Storage {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.storage
}

func (p *Proxy) busScope() *bus.Scope {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.scope
}

func (p *Proxy) Events() *events.Emitter {
	return p.emitter
}

// addDisposer keeps d for teardown, or runs it right away when the proxy is already destroyed.
func (p *Proxy) addDisposer(d func()) {
	p.mutex.Lock()
	if p.phase == PhaseDestroyed {
		p.mutex.Unlock()
		d()
		return
	}
	p.disposers = append(p.disposers, d)
	p.mutex.Unlock()
}

// create drives the proxy from StartCreate to Ready. On failure the proxy is already destroyed.
// The proxy can be destroyed from outside at any step, by reconcile or by ctx ending; whatever
// create acquired after that is released before it returns.
func (p *Proxy) create(ctx context.Context, attrs map[string]any) error {
	stop := context.AfterFunc(ctx, func() {
		p.log.Warn("app creation abandoned", "err", ctx.Err())
		p.destroy()
	})
	defer stop()

	appStorage := storage.New(p.m.store, p.id, StoragePath(p.id), attrs)
	scope := p.m.bus.Scoped(p.id)
	p.mutex.Lock()
	p.storage, p.scope = appStorage, scope
	p.mutex.Unlock()
	if !p.setPhase(PhaseConstructed) {
		return p.abandon()
	}

	cfg := p.module.Config
	st := p.Entry().State
	if st.Width <= 0 {
		st.Width = cfg.Width
	}
	if st.Height <= 0 {
		st.Height = cfg.Height
	}
	box, err := p.m.boxes.CreateBox(BoxConfig{
		AppID:     p.id,
		Kind:      p.kind,
		Title:     p.Entry().Options.Title,
		X:         st.X,
		Y:         st.Y,
		Width:     st.Width,
		Height:    st.Height,
		MinWidth:  cfg.MinWidth,
		MinHeight: cfg.MinHeight,
		ZIndex:    st.ZIndex,
		Focus:     p.m.Focus() == p.id,
	})
	if err != nil {
		p.destroy()
		return fmt.Errorf("failed to create box: %w", err)
	}
	p.mutex.Lock()
	p.box = box
	p.mutex.Unlock()
	if !p.setPhase(PhaseBoxCreated) {
		return p.abandon()
	}

	if err := p.setupView(); err != nil {
		p.destroy()
		return err
	}
	p.addDisposer(p.m.store.Subscribe(EntryPath(p.id), func(attributes.Event) { p.onEntryChanged() }))
	p.addDisposer(p.m.store.OnWritableChanged(func(w bool) {
		p.updateWritable()
		p.emitter.Emit(EventWritableChange, w)
	}))
	p.updateWritable()

	if !p.setPhase(PhaseSetup) {
		return p.abandon()
	}
	if err := ctx.Err(); err != nil {
		p.destroy()
		return fmt.Errorf("failed to set up app: %w", err)
	}
	var setupErr error
	if perr := events.Guard(func() { setupErr = p.module.Setup(&Context{proxy: p}) }); perr != nil {
		setupErr = perr
	}
	if setupErr != nil {
		p.log.Error("app setup failed", "err", setupErr)
		p.destroy()
		return &SetupError{AppID: p.id, Cause: setupErr}
	}
	if !stop() || !p.setPhase(PhaseReady) {
		return p.abandon()
	}
	p.log.Info("app ready")
	return nil
}

// abandon releases what create acquired after the proxy was destroyed elsewhere.
func (p *Proxy) abandon() error {
	p.release()
	return ErrDestroyed
}

func (p *Proxy) setupView() error {
	entry := p.Entry()
	if entry.Options.ScenePath == "" || p.m.views == nil {
		return nil
	}
	view, err := p.m.views.CreateView(p.id)
	if err != nil {
		return fmt.Errorf("failed to create view: %w", err)
	}

	var pages *page.Controller
	if p.m.scenes != nil {
		dir := entry.Options.ScenePath
		if len(p.m.scenes.Scenes(dir)) == 0 && p.m.store.Writable() {
			names := entry.Options.Scenes
			if len(names) == 0 {
				names = []string{"1"}
			}
			for i, name := range names {
				if err := p.m.scenes.AddScene(dir, page.Scene{Name: name}, i); err != nil {
					p.log.Warn("failed to seed scene", "scene", name, "err", err)
				}
			}
		}
		pages = page.NewController(dir, p.m.scenes, entry.State.SceneIndex)
	}

	cam := camera.NewStoreSync(p.m.store, p.id, p.m.participant, view, p.m.clock, p.m.cameraWindow)
	cam.SetMode(p.m.cameraMode)
	rect := view.Rect()
	cam.SetRect(rect)
	cam.Seed(view.Camera(), camera.Size{Width: rect.Width, Height: rect.Height, ID: p.m.participant})

	p.mutex.Lock()
	p.view = view
	p.pages = pages
	p.cam = cam
	p.mutex.Unlock()

	view.SetFocusScenePath(p.scenePath())
	p.addDisposer(view.OnCameraUpdated(cam.OnLocalCamera))
	p.addDisposer(view.OnSizeUpdated(cam.SetRect))
	if pages != nil {
		p.addDisposer(pages.OnChange(p.onPageChanged))
	}
	return nil
}

// scenePath is the full path of the scene currently shown.
func (p *Proxy) scenePath() string {
	p.mutex.Lock()
	dir := p.entry.Options.ScenePath
	pages := p.pages
	p.mutex.Unlock()
	if pages == nil {
		return dir
	}
	scenes := p.m.scenes.Scenes(dir)
	idx := pages.State().Index
	if idx < 0 || idx >= len(scenes) {
		return dir
	}
	return dir + "/" + scenes[idx].Name
}

func (p *Proxy) onPageChanged(st page.State) {
	p.mutex.Lock()
	local := p.entry.State.SceneIndex != st.Index
	view := p.view
	p.mutex.Unlock()

	path := p.scenePath()
	if view != nil {
		view.SetFocusScenePath(path)
	}
	if local && p.m.store.Writable() {
		if err := p.m.store.UpdateAttributes(attributes.Child(EntryPath(p.id), "state", "sceneIndex"), st.Index); err != nil {
			p.log.Error("failed to store scene index", "err", err)
		}
		if err := p.m.bus.DispatchWindowManager(bus.SwitchScenePath, map[string]any{"appId": p.id, "scenePath": path}); err != nil {
			p.log.Warn("failed to announce scene path", "err", err)
		}
	}
	p.emitter.Emit(EventPageStateChange, st)
}

// onEntryChanged applies a changed registry entry to the window and view.
func (p *Proxy) onEntryChanged() {
	raw, ok := p.m.store.Get(EntryPath(p.id)...)
	if !ok || p.Destroyed() {
		return
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		p.log.Warn("ignoring malformed registry entry", "err", err)
		return
	}
	p.mutex.Lock()
	prev := p.entry
	p.entry = entry
	box := p.box
	pages := p.pages
	view := p.view
	p.mutex.Unlock()

	if box != nil {
		x, y, w, h := box.Rect()
		if (entry.State.X != prev.State.X || entry.State.Y != prev.State.Y) && (x != entry.State.X || y != entry.State.Y) {
			if err := p.m.boxes.MoveBox(p.id, entry.State.X, entry.State.Y); err != nil {
				p.log.Warn("failed to move box", "err", err)
			}
		}
		sizeChanged := entry.State.Width != prev.State.Width || entry.State.Height != prev.State.Height
		if sizeChanged && entry.State.Width > 0 && entry.State.Height > 0 && (w != entry.State.Width || h != entry.State.Height) {
			if err := p.m.boxes.ResizeBox(p.id, entry.State.Width, entry.State.Height); err != nil {
				p.log.Warn("failed to resize box", "err", err)
			}
		}
		if entry.State.ZIndex != prev.State.ZIndex && box.ZIndex() != entry.State.ZIndex {
			if err := p.m.boxes.SetZIndex(p.id, entry.State.ZIndex); err != nil {
				p.log.Warn("failed to set z-index", "err", err)
			}
		}
	}
	if entry.State.SceneIndex != prev.State.SceneIndex {
		if pages != nil {
			pages.Sync(entry.State.SceneIndex)
		}
		path := p.scenePath()
		if view != nil {
			view.SetFocusScenePath(path)
		}
		p.emitter.Emit(EventSceneStateChange, SceneState{ScenePath: path, Index: entry.State.SceneIndex})
	}
	p.emitter.Emit(EventAttributesUpdate, entry)
}

// updateWritable makes the view writable only while the store is writable and the app has focus.
func (p *Proxy) updateWritable() {
	w := p.m.store.Writable() && p.m.Focus() == p.id
	p.mutex.Lock()
	view := p.view
	changed := p.viewWritable != w
	p.viewWritable = w
	p.mutex.Unlock()
	if view != nil && changed {
		view.SetWritable(w)
	}
}

func (p *Proxy) switchScenePath(path string) {
	if view := p.View(); view != nil && view.FocusScenePath() != path {
		view.SetFocusScenePath(path)
	}
}

func (p *Proxy) createStorage(name string, defaults map[string]any) *storage.Storage {
	id := p.id + ":" + name
	s := storage.New(p.m.store, id, []string{"storage", id}, defaults)
	p.mutex.Lock()
	destroyed := p.phase == PhaseDestroyed
	if !destroyed {
		p.storages = append(p.storages, s)
	}
	p.mutex.Unlock()
	if destroyed {
		s.Destroy()
	}
	return s
}

func (p *Proxy) snapshot() Snapshot {
	p.mutex.Lock()
	box := p.box
	pages := p.pages
	idx := p.entry.State.SceneIndex
	p.mutex.Unlock()
	if box == nil {
		return Snapshot{}
	}
	x, y, w, h := box.Rect()
	if pages != nil {
		idx = pages.State().Index
	}
	return Snapshot{X: x, Y: y, Width: w, Height: h, SceneIndex: idx, Focused: box.Focused(), HasBox: true}
}

func (p *Proxy) apply(s Snapshot) {
	if !s.HasBox || p.Destroyed() {
		return
	}
	if err := p.m.boxes.MoveBox(p.id, s.X, s.Y); err != nil {
		p.log.Warn("failed to restore box position", "err", err)
	}
	if err := p.m.boxes.ResizeBox(p.id, s.Width, s.Height); err != nil {
		p.log.Warn("failed to restore box size", "err", err)
	}
	if pages := p.Pages(); pages != nil {
		pages.Sync(s.SceneIndex)
		p.switchScenePath(p.scenePath())
	}
	if s.Focused {
		if err := p.m.boxes.FocusBox(p.id); err != nil {
			p.log.Warn("failed to restore focus", "err", err)
		}
	}
}

// destroy tears the proxy down locally. The registry entry and storage data are left alone.
func (p *Proxy) destroy() {
	p.mutex.Lock()
	if p.phase == PhaseDestroyed {
		p.mutex.Unlock()
		return
	}
	p.phase = PhaseDestroyed
	p.mutex.Unlock()

	p.cancel()
	p.emitter.Emit(EventDestroy, nil)
	p.emitter.Clear()
	p.release()
	p.log.Info("app destroyed")
}

// release tears down everything the proxy currently holds. Each resource is taken under the lock
// so that concurrent calls from destroy and create never release the same thing twice.
func (p *Proxy) release() {
	p.mutex.Lock()
	box, view, cam := p.box, p.view, p.cam
	disposers, storages := p.disposers, p.storages
	st, scope := p.storage, p.scope
	p.box, p.view, p.cam, p.pages = nil, nil, nil, nil
	p.disposers, p.storages = nil, nil
	p.mutex.Unlock()

	for _, d := range disposers {
		d()
	}
	if cam != nil {
		cam.Destroy()
	}
	if view != nil {
		view.Destroy()
	}
	if scope != nil {
		scope.Destroy()
	}
	if st != nil {
		st.Destroy()
	}
	for _, s := range storages {
		s.Destroy()
	}
	if box != nil {
		if err := p.m.boxes.CloseBox(p.id); err != nil {
			p.log.Warn("failed to close box", "err", err)
		}
	}
}
