package apps

import (
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/page"
)

// BoxConfig describes the window to create for an app.
type BoxConfig struct {
	AppID     string
	Kind      string
	Title     string
	X         float64
	Y         float64
	Width     float64
	Height    float64
	MinWidth  float64
	MinHeight float64
	ZIndex    int
	Focus     bool
}

type BoxEventKind int

const (
	BoxMoved BoxEventKind = iota
	BoxResized
	BoxFocused
	BoxClosed
	BoxStateChanged
)

// BoxEvent is raised by the window chrome on user interaction.
type BoxEvent struct {
	Kind   BoxEventKind
	AppID  string
	X      float64
	Y      float64
	Width  float64
	Height float64
	State  BoxState
}

// Box is one created window.
type Box interface {
	AppID() string
	Rect() (x, y, width, height float64)
	ZIndex() int
	Focused() bool
}

// BoxManager is the window chrome hosting every app.
type BoxManager interface {
	CreateBox(cfg BoxConfig) (Box, error)
	CloseBox(appID string) error
	MoveBox(appID string, x, y float64) error
	ResizeBox(appID string, width, height float64) error
	FocusBox(appID string) error
	SetZIndex(appID string, z int) error
	SetBoxState(state BoxState) error
	BoxState() BoxState
	OnEvent(fn func(BoxEvent)) func()
}

// View is a render surface attached to an app window.
type View interface {
	camera.Viewport
	Camera() camera.Camera
	Rect() camera.Rect
	FocusScenePath() string
	SetFocusScenePath(path string)
	SetWritable(writable bool)
	OnCameraUpdated(fn func(camera.Camera)) func()
	OnSizeUpdated(fn func(camera.Rect)) func()
	Destroy()
}

type ViewFactory interface {
	CreateView(appID string) (View, error)
}

// SceneDirectory lists and edits the scenes of apps that have pages.
type SceneDirectory = page.SceneDirectory
