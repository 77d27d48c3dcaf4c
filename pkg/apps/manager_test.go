package apps_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/headless"
	"github.com/astromechza/appcanvas/pkg/reconnect"
)

type harness struct {
	store     *attributes.DocStore
	boxes     *headless.Boxes
	views     *headless.Views
	scenes    *headless.Scenes
	refresher *reconnect.Refresher
	clock     clockwork.FakeClock
	manager   *apps.Manager
}

func newHarness(t *testing.T, participant string, modules ...apps.Module) *harness {
	t.Helper()
	store, err := attributes.New(participant)
	require.NoError(t, err)
	h := &harness{
		store:     store,
		boxes:     headless.NewBoxes(),
		views:     headless.NewViews(800, 600),
		scenes:    headless.NewScenes(),
		refresher: reconnect.New(nil),
		clock:     clockwork.NewFakeClock(),
	}
	registry := apps.NewRegistry(nil)
	for _, m := range modules {
		require.NoError(t, registry.Register(m))
	}
	h.manager = apps.NewManager(apps.ManagerOptions{
		Participant:   participant,
		Store:         store,
		Registry:      registry,
		Bus:           bus.New(participant),
		Boxes:         h.boxes,
		Views:         h.views,
		Scenes:        h.scenes,
		Refresher:     h.refresher,
		Clock:         h.clock,
		CreateTimeout: 5 * time.Second,
	})
	h.manager.Start()
	t.Cleanup(h.manager.Destroy)
	return h
}

func noopModule(kind string, singleton bool) apps.Module {
	return apps.Module{
		Kind:   kind,
		Config: apps.Config{Width: 0.4, Height: 0.3, Singleton: singleton},
		Setup:  func(*apps.Context) error { return nil },
	}
}

func TestManager_AddApp(t *testing.T) {
	var setupCtx *apps.Context
	module := noopModule("Note", false)
	module.Setup = func(ctx *apps.Context) error {
		setupCtx = ctx
		ctx.Storage().SetState(map[string]any{"text": "hello"})
		return nil
	}
	h := newHarness(t, "alice", module)

	id, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Note", Attributes: map[string]any{"color": "red"}})
	require.NoError(t, err)

	p, ok := h.manager.App(id)
	require.True(t, ok)
	assert.Equal(t, apps.PhaseReady, p.Phase())
	assert.Equal(t, id, h.manager.Focus())

	box, ok := h.boxes.Get(id)
	require.True(t, ok)
	x, y, w, hgt := box.Rect()
	assert.InDelta(t, 0.3, x, 1e-9)
	assert.InDelta(t, 0.35, y, 1e-9)
	assert.Equal(t, 0.4, w)
	assert.Equal(t, 0.3, hgt)
	assert.True(t, box.Focused())

	require.NotNil(t, setupCtx)
	assert.Equal(t, map[string]any{"color": "red", "text": "hello"}, setupCtx.Storage().State())
	b, err := setupCtx.Box()
	require.NoError(t, err)
	assert.Equal(t, id, b.AppID())

	kind, ok := h.store.Get("apps", id, "kind")
	require.True(t, ok)
	assert.Equal(t, "Note", kind)
}

func TestManager_AddAppErrors(t *testing.T) {
	h := newHarness(t, "alice", noopModule("Note", false))

	_, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Missing"})
	var notRegistered *apps.NotRegisteredError
	assert.ErrorAs(t, err, &notRegistered)

	_, err = h.manager.AddApp(context.Background(), apps.Params{Kind: ""})
	var invalid *apps.InvalidParamsError
	assert.ErrorAs(t, err, &invalid)

	h.store.SetWritable(false)
	_, err = h.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	assert.ErrorIs(t, err, attributes.ErrReadOnly)
}

func TestManager_SingletonRace(t *testing.T) {
	h := newHarness(t, "alice", noopModule("Clock", true))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	ids := make([]string, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = h.manager.AddApp(context.Background(), apps.Params{Kind: "Clock"})
		}(i)
	}
	wg.Wait()

	successes, duplicates := 0, 0
	for i, err := range errs {
		switch {
		case err == nil:
			successes++
			assert.Equal(t, "Clock", ids[i])
		case apps.IsDuplicate(err):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, []string{"Clock"}, h.manager.Apps())
}

func TestManager_SetupFailureTearsDown(t *testing.T) {
	module := noopModule("Broken", false)
	destroyed := false
	module.Setup = func(ctx *apps.Context) error {
		ctx.Events().On(apps.EventDestroy, func(any) { destroyed = true })
		panic("setup exploded")
	}
	h := newHarness(t, "alice", module)

	_, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Broken"})
	var setupErr *apps.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.True(t, destroyed)
	assert.Empty(t, h.manager.Apps())
	assert.Empty(t, h.boxes.IDs())
	assert.Empty(t, h.store.Keys("apps"))
}

func TestManager_ReplicatesToOtherParticipants(t *testing.T) {
	a := newHarness(t, "alice", noopModule("Note", false))
	b := newHarness(t, "bob", noopModule("Note", false))
	pa, pb := a.store.NewPeer(), b.store.NewPeer()

	id, err := a.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)
	require.NoError(t, attributes.SyncPeers(pa, pb))

	assert.Eventually(t, func() bool {
		p, ok := b.manager.App(id)
		return ok && p.Phase() == apps.PhaseReady
	}, 5*time.Second, time.Millisecond)
	_, ok := b.boxes.Get(id)
	assert.True(t, ok)

	// a moves the window; the coalesced write reaches b through the store
	require.NoError(t, a.boxes.Drag(id, 0.05, 0.1))
	a.clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		v, _ := a.store.Get("apps", id, "state", "x")
		return v == 0.05
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, attributes.SyncPeers(pa, pb))
	box, _ := b.boxes.Get(id)
	x, y, _, _ := box.Rect()
	assert.Equal(t, 0.05, x)
	assert.Equal(t, 0.1, y)

	// b closes it for everyone
	b.boxes.ClickClose(id)
	require.NoError(t, attributes.SyncPeers(pa, pb))
	assert.Empty(t, a.manager.Apps())
	assert.Empty(t, a.boxes.IDs())
	assert.Empty(t, b.boxes.IDs())
}

func TestManager_RestoresExistingAppsAndSignalsReady(t *testing.T) {
	a := newHarness(t, "alice", noopModule("Note", false))
	_, err := a.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)
	_, err = a.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)

	store, err := attributes.Load(a.store.Save(), "bob")
	require.NoError(t, err)
	registry := apps.NewRegistry(nil)
	require.NoError(t, registry.Register(noopModule("Note", false)))
	boxes := headless.NewBoxes()
	m := apps.NewManager(apps.ManagerOptions{Participant: "bob", Store: store, Registry: registry, Boxes: boxes})
	defer m.Destroy()
	m.Start()

	select {
	case <-m.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("never ready")
	}
	assert.Len(t, m.Apps(), 2)
	assert.Len(t, boxes.IDs(), 2)
}

func TestManager_FocusAndZIndex(t *testing.T) {
	h := newHarness(t, "alice", noopModule("Note", false))
	first, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)
	second, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, h.boxes.IDs())

	var focuses []string
	h.manager.OnFocusChanged(func(f string) { focuses = append(focuses, f) })
	require.NoError(t, h.boxes.Click(first))
	assert.Equal(t, first, h.manager.Focus())
	assert.Equal(t, []string{second, first}, h.boxes.IDs())
	assert.Equal(t, []string{first}, focuses)
	assert.False(t, h.manager.MainWritable())

	require.NoError(t, h.manager.SetFocus(""))
	assert.True(t, h.manager.MainWritable())
}

func TestManager_BoxStateIsShared(t *testing.T) {
	a := newHarness(t, "alice", noopModule("Note", false))
	b := newHarness(t, "bob", noopModule("Note", false))
	pa, pb := a.store.NewPeer(), b.store.NewPeer()

	require.NoError(t, a.boxes.ClickState(apps.Maximized))
	assert.Equal(t, apps.Maximized, a.manager.BoxState())
	require.NoError(t, attributes.SyncPeers(pa, pb))
	assert.Equal(t, apps.Maximized, b.boxes.BoxState())

	var invalid *apps.InvalidParamsError
	assert.ErrorAs(t, a.manager.SetBoxState("sideways"), &invalid)
}

func TestManager_PagesAndScenes(t *testing.T) {
	var ctx *apps.Context
	module := noopModule("Slide", false)
	module.Setup = func(c *apps.Context) error {
		ctx = c
		return nil
	}
	h := newHarness(t, "alice", module)
	id, err := h.manager.AddApp(context.Background(), apps.Params{
		Kind:    "Slide",
		Options: apps.Options{ScenePath: "/slide", Scenes: []string{"one", "two", "three"}},
	})
	require.NoError(t, err)

	pages := ctx.Pages()
	require.NotNil(t, pages)
	require.NotNil(t, ctx.View())
	assert.Equal(t, "/slide/one", ctx.View().FocusScenePath())

	var pageStates []any
	ctx.Events().On(apps.EventPageStateChange, func(v any) { pageStates = append(pageStates, v) })
	ok, err := pages.NextPage()
	require.NoError(t, err)
	require.True(t, ok)

	idx, _ := h.store.Get("apps", id, "state", "sceneIndex")
	assert.Equal(t, int64(1), idx)
	assert.Equal(t, "/slide/two", ctx.View().FocusScenePath())
	assert.Len(t, pageStates, 1)

	// a remote scene change arrives through the registry entry
	var scenes []any
	ctx.Events().On(apps.EventSceneStateChange, func(v any) { scenes = append(scenes, v) })
	require.NoError(t, h.store.UpdateAttributes([]string{"apps", id, "state", "sceneIndex"}, 2))
	assert.Equal(t, 2, pages.State().Index)
	assert.Equal(t, "/slide/three", ctx.View().FocusScenePath())
	require.Len(t, scenes, 1)
	assert.Equal(t, apps.SceneState{ScenePath: "/slide/three", Index: 2}, scenes[0])
}

func TestManager_ViewWritableFollowsFocus(t *testing.T) {
	h := newHarness(t, "alice", noopModule("Slide", false))
	id, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Slide", Options: apps.Options{ScenePath: "/s"}})
	require.NoError(t, err)
	view, ok := h.views.Get(id)
	require.True(t, ok)
	assert.True(t, view.Writable())

	require.NoError(t, h.manager.SetFocus(""))
	assert.False(t, view.Writable())
}

func TestManager_RebuildsAfterReconnect(t *testing.T) {
	h := newHarness(t, "alice", noopModule("Note", false))
	id, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)
	gone, err := h.manager.AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)
	before, _ := h.manager.App(id)

	require.NoError(t, h.boxes.Drag(id, 0.01, 0.02))

	h.refresher.SetPhase(reconnect.Reconnecting)
	// removed while disconnected
	require.NoError(t, h.store.Delete([]string{"apps", gone}))
	h.refresher.SetPhase(reconnect.Connected)

	assert.Eventually(t, func() bool {
		p, ok := h.manager.App(id)
		return ok && p != before && p.Phase() == apps.PhaseReady
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, apps.PhaseDestroyed, before.Phase())
	assert.Equal(t, []string{id}, h.manager.Apps())

	box, ok := h.boxes.Get(id)
	require.True(t, ok)
	x, y, _, _ := box.Rect()
	assert.Equal(t, 0.01, x)
	assert.Equal(t, 0.02, y)
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, apps.IsDuplicate(&apps.DuplicateError{AppID: "a"}))
	assert.False(t, apps.IsDuplicate(errors.New("other")))
}

// gatedBoxes holds CreateBox until release is closed.
type gatedBoxes struct {
	*headless.Boxes
	entered chan string
	release chan struct{}
}

func (g *gatedBoxes) CreateBox(cfg apps.BoxConfig) (apps.Box, error) {
	g.entered <- cfg.AppID
	<-g.release
	return g.Boxes.CreateBox(cfg)
}

func TestManager_EntryRemovedDuringCreateBoxReleasesEverything(t *testing.T) {
	store, err := attributes.New("alice")
	require.NoError(t, err)
	registry := apps.NewRegistry(nil)
	require.NoError(t, registry.Register(noopModule("Note", false)))
	boxes := &gatedBoxes{Boxes: headless.NewBoxes(), entered: make(chan string, 1), release: make(chan struct{})}
	m := apps.NewManager(apps.ManagerOptions{Participant: "alice", Store: store, Registry: registry, Boxes: boxes, CreateTimeout: 5 * time.Second})
	defer m.Destroy()
	m.Start()

	errs := make(chan error, 1)
	go func() {
		_, err := m.AddApp(context.Background(), apps.Params{Kind: "Note"})
		errs <- err
	}()

	var id string
	select {
	case id = <-boxes.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("box never requested")
	}
	p, ok := m.App(id)
	require.True(t, ok)
	st := p.Storage()
	require.NotNil(t, st)

	require.NoError(t, store.Delete(apps.EntryPath(id)))
	close(boxes.release)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, apps.ErrDestroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("AddApp never returned")
	}
	assert.Equal(t, apps.PhaseDestroyed, p.Phase())
	assert.True(t, st.Destroyed())
	_, live := m.App(id)
	assert.False(t, live)
	assert.Empty(t, boxes.IDs())
}

func TestManager_CreateTimeoutCancelsAppContext(t *testing.T) {
	cancelled := make(chan struct{})
	module := noopModule("Slow", false)
	module.Setup = func(ctx *apps.Context) error {
		select {
		case <-ctx.Context().Done():
			close(cancelled)
		case <-time.After(5 * time.Second):
		}
		return nil
	}
	store, err := attributes.New("alice")
	require.NoError(t, err)
	registry := apps.NewRegistry(nil)
	require.NoError(t, registry.Register(module))
	boxes := headless.NewBoxes()
	m := apps.NewManager(apps.ManagerOptions{Participant: "alice", Store: store, Registry: registry, Boxes: boxes, CreateTimeout: 50 * time.Millisecond})
	defer m.Destroy()
	m.Start()

	_, err = m.AddApp(context.Background(), apps.Params{Kind: "Slow"})
	require.Error(t, err)

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("setup context was never cancelled")
	}
	assert.Eventually(t, func() bool {
		return len(m.Apps()) == 0 && len(boxes.IDs()) == 0
	}, 5*time.Second, time.Millisecond)
}
