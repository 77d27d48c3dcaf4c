// Package headless has in-memory window chrome, views and scene directories. The host binary runs
// on them, and tests use them to drive the app lifecycle without a renderer.
package headless

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/events"
)

type box struct {
	appID   string
	title   string
	x       float64
	y       float64
	width   float64
	height  float64
	minW    float64
	minH    float64
	z       int
	focused bool
}

// Box is a read-only view of one window.
type Box struct {
	owner *Boxes
	appID string
}

func (b Box) AppID() string {
	return b.appID
}

func (b Box) Rect() (float64, float64, float64, float64) {
	b.owner.mutex.Lock()
	defer b.owner.mutex.Unlock()
	if bx, ok := b.owner.boxes[b.appID]; ok {
		return bx.x, bx.y, bx.width, bx.height
	}
	return 0, 0, 0, 0
}

func (b Box) ZIndex() int {
	b.owner.mutex.Lock()
	defer b.owner.mutex.Unlock()
	if bx, ok := b.owner.boxes[b.appID]; ok {
		return bx.z
	}
	return 0
}

func (b Box) Focused() bool {
	b.owner.mutex.Lock()
	defer b.owner.mutex.Unlock()
	if bx, ok := b.owner.boxes[b.appID]; ok {
		return bx.focused
	}
	return false
}

// Boxes is an apps.BoxManager keeping windows in memory. Programmatic calls never raise events;
// the user methods (Drag, Resize, Click, ClickClose, ClickState) do.
type Boxes struct {
	mutex     sync.Mutex
	boxes     map[string]*box
	state     apps.BoxState
	listeners events.Listeners[apps.BoxEvent]
}

func NewBoxes() *Boxes {
	return &Boxes{boxes: make(map[string]*box), state: apps.Normal}
}

func (b *Boxes) CreateBox(cfg apps.BoxConfig) (apps.Box, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.boxes[cfg.AppID]; ok {
		return nil, fmt.Errorf("box %s already exists", cfg.AppID)
	}
	bx := &box{
		appID:  cfg.AppID,
		title:  cfg.Title,
		x:      cfg.X,
		y:      cfg.Y,
		width:  math.Max(cfg.Width, cfg.MinWidth),
		height: math.Max(cfg.Height, cfg.MinHeight),
		minW:   cfg.MinWidth,
		minH:   cfg.MinHeight,
		z:      cfg.ZIndex,
	}
	b.boxes[cfg.AppID] = bx
	if cfg.Focus {
		b.focusLocked(cfg.AppID)
	}
	return Box{owner: b, appID: cfg.AppID}, nil
}

func (b *Boxes) get(appID string) (*box, error) {
	bx, ok := b.boxes[appID]
	if !ok {
		return nil, fmt.Errorf("box %s not found", appID)
	}
	return bx, nil
}

func (b *Boxes) CloseBox(appID string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, err := b.get(appID); err != nil {
		return err
	}
	delete(b.boxes, appID)
	return nil
}

func (b *Boxes) MoveBox(appID string, x, y float64) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	bx, err := b.get(appID)
	if err != nil {
		return err
	}
	bx.x, bx.y = x, y
	return nil
}

func (b *Boxes) ResizeBox(appID string, width, height float64) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	bx, err := b.get(appID)
	if err != nil {
		return err
	}
	bx.width = math.Max(width, bx.minW)
	bx.height = math.Max(height, bx.minH)
	return nil
}

func (b *Boxes) focusLocked(appID string) {
	for id, bx := range b.boxes {
		bx.focused = id == appID
	}
}

func (b *Boxes) FocusBox(appID string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, err := b.get(appID); err != nil {
		return err
	}
	b.focusLocked(appID)
	return nil
}

func (b *Boxes) SetZIndex(appID string, z int) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	bx, err := b.get(appID)
	if err != nil {
		return err
	}
	bx.z = z
	return nil
}

func (b *Boxes) SetBoxState(state apps.BoxState) error {
	if !state.Valid() {
		return fmt.Errorf("unknown box state %q", state)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.state = state
	return nil
}

func (b *Boxes) BoxState() apps.BoxState {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.state
}

func (b *Boxes) OnEvent(fn func(apps.BoxEvent)) func() {
	return b.listeners.Add(fn)
}

// Get returns the window of appID.
func (b *Boxes) Get(appID string) (apps.Box, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.boxes[appID]; !ok {
		return nil, false
	}
	return Box{owner: b, appID: appID}, true
}

// IDs lists open windows, bottom to top.
func (b *Boxes) IDs() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	out := make([]string, 0, len(b.boxes))
	for id := range b.boxes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := b.boxes[out[i]], b.boxes[out[j]]
		if bi.z != bj.z {
			return bi.z < bj.z
		}
		return out[i] < out[j]
	})
	return out
}

// Drag moves a window as the user would.
func (b *Boxes) Drag(appID string, x, y float64) error {
	if err := b.MoveBox(appID, x, y); err != nil {
		return err
	}
	b.listeners.SafeEmit("boxes", apps.BoxEvent{Kind: apps.BoxMoved, AppID: appID, X: x, Y: y})
	return nil
}

// Resize resizes a window as the user would.
func (b *Boxes) Resize(appID string, width, height float64) error {
	if err := b.ResizeBox(appID, width, height); err != nil {
		return err
	}
	x, y, w, h := Box{owner: b, appID: appID}.Rect()
	b.listeners.SafeEmit("boxes", apps.BoxEvent{Kind: apps.BoxResized, AppID: appID, X: x, Y: y, Width: w, Height: h})
	return nil
}

// Click focuses a window as the user would.
func (b *Boxes) Click(appID string) error {
	if err := b.FocusBox(appID); err != nil {
		return err
	}
	b.listeners.SafeEmit("boxes", apps.BoxEvent{Kind: apps.BoxFocused, AppID: appID})
	return nil
}

// ClickClose presses the close button of a window.
func (b *Boxes) ClickClose(appID string) {
	b.listeners.SafeEmit("boxes", apps.BoxEvent{Kind: apps.BoxClosed, AppID: appID})
}

// ClickState presses maximize, minimize or restore.
func (b *Boxes) ClickState(state apps.BoxState) error {
	if err := b.SetBoxState(state); err != nil {
		return err
	}
	b.listeners.SafeEmit("boxes", apps.BoxEvent{Kind: apps.BoxStateChanged, State: state})
	return nil
}
