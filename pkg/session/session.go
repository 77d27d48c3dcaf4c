// Package session assembles one participant's view of a room: the replicated store, the bus,
// the reconnect refresher, the app registry and manager, and the camera of the main board.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/reconnect"
)

// MainScope is the camera scope of the main board.
const MainScope = "main"

type Options struct {
	Participant string
	Store       *attributes.DocStore
	// Bus defaults to a local-only bus.
	Bus *bus.Bus
	// Phases drives reconnection refreshes; nil means the session never reconnects.
	Phases reconnect.PhaseSource
	Loader apps.Loader

	Boxes  apps.BoxManager
	Views  apps.ViewFactory
	Scenes apps.SceneDirectory
	// MainView is the main board. It is optional.
	MainView apps.View

	Clock         clockwork.Clock
	CameraMode    camera.Mode
	CameraWindow  time.Duration
	BoxWindow     time.Duration
	CreateTimeout time.Duration
}

// Session replaces process-wide state: everything a participant runs hangs off one value and
// goes away with Destroy.
type Session struct {
	participant string
	store       *attributes.DocStore
	bus         *bus.Bus
	refresher   *reconnect.Refresher
	registry    *apps.Registry
	manager     *apps.Manager
	mainView    apps.View
	clock       clockwork.Clock
	opts        Options

	mutex     sync.Mutex
	mainCam   *camera.StoreSync
	disposers []func()
	started   bool
	destroyed bool
}

func New(opts Options) (*Session, error) {
	if opts.Participant == "" {
		return nil, errors.New("participant is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Boxes == nil {
		return nil, errors.New("box manager is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(opts.Participant)
	}
	s := &Session{
		participant: opts.Participant,
		store:       opts.Store,
		bus:         opts.Bus,
		refresher:   reconnect.New(opts.Phases),
		registry:    apps.NewRegistry(opts.Loader),
		mainView:    opts.MainView,
		clock:       opts.Clock,
		opts:        opts,
	}
	s.manager = apps.NewManager(apps.ManagerOptions{
		Participant:   opts.Participant,
		Store:         opts.Store,
		Registry:      s.registry,
		Bus:           opts.Bus,
		Boxes:         opts.Boxes,
		Views:         opts.Views,
		Scenes:        opts.Scenes,
		Refresher:     s.refresher,
		Clock:         opts.Clock,
		CameraMode:    opts.CameraMode,
		CameraWindow:  opts.CameraWindow,
		BoxWindow:     opts.BoxWindow,
		CreateTimeout: opts.CreateTimeout,
	})
	return s, nil
}

func (s *Session) Participant() string {
	return s.participant
}

func (s *Session) Store() *attributes.DocStore {
	return s.store
}

func (s *Session) Bus() *bus.Bus {
	return s.bus
}

func (s *Session) Refresher() *reconnect.Refresher {
	return s.refresher
}

func (s *Session) Registry() *apps.Registry {
	return s.registry
}

func (s *Session) Manager() *apps.Manager {
	return s.manager
}

// MainCamera returns the synchronizer of the main board, or nil without a main view.
func (s *Session) MainCamera() *camera.StoreSync {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.mainCam
}

// Register adds built-in app kinds.
func (s *Session) Register(modules ...apps.Module) error {
	for _, m := range modules {
		if err := s.registry.Register(m); err != nil {
			return fmt.Errorf("failed to register %q: %w", m.Kind, err)
		}
	}
	return nil
}

// Start restores the apps already in the room and binds the main board camera.
func (s *Session) Start() {
	s.mutex.Lock()
	if s.started || s.destroyed {
		s.mutex.Unlock()
		return
	}
	s.started = true
	s.mutex.Unlock()

	if s.mainView != nil {
		s.startMainView()
	}
	s.manager.Start()
	slog.Info("session started", "participant", s.participant, "kinds", s.registry.Kinds())
}

func (s *Session) startMainView() {
	view := s.mainView
	cam := camera.NewStoreSync(s.store, MainScope, s.participant, view, s.clock, s.opts.CameraWindow)
	cam.SetMode(s.opts.CameraMode)
	rect := view.Rect()
	cam.SetRect(rect)
	cam.Seed(view.Camera(), camera.Size{Width: rect.Width, Height: rect.Height, ID: s.participant})

	updateWritable := func() {
		view.SetWritable(s.manager.MainWritable())
	}
	updateWritable()

	s.mutex.Lock()
	s.mainCam = cam
	s.disposers = append(s.disposers,
		view.OnCameraUpdated(cam.OnLocalCamera),
		view.OnSizeUpdated(cam.SetRect),
		s.manager.OnFocusChanged(func(string) { updateWritable() }),
		s.store.OnWritableChanged(func(bool) { updateWritable() }),
		s.refresher.OnReconnected(cam.Refresh),
	)
	s.mutex.Unlock()
}

// Destroy tears down every app, the main camera and the refresher. The store is left as is.
func (s *Session) Destroy() {
	s.mutex.Lock()
	if s.destroyed {
		s.mutex.Unlock()
		return
	}
	s.destroyed = true
	disposers := s.disposers
	s.disposers = nil
	cam := s.mainCam
	s.mainCam = nil
	s.mutex.Unlock()

	for _, d := range disposers {
		d()
	}
	if cam != nil {
		cam.Destroy()
	}
	s.manager.Destroy()
	s.refresher.Destroy()
	s.bus.SetTransport(nil)
	slog.Info("session destroyed", "participant", s.participant)
}
