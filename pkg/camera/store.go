package camera

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/astromechza/appcanvas/pkg/attributes"
)

const (
	cameraKey = "camera"
	sizeKey   = "size"
)

// ViewPath is where the camera of scope lives in the attribute store.
func ViewPath(scope string) []string {
	return []string{"views", scope}
}

// StoreSync binds a Synchronizer to views/<scope> of an attribute store.
type StoreSync struct {
	*Synchronizer
	store       attributes.Store
	path        []string
	unsubscribe func()
}

func NewStoreSync(store attributes.Store, scope, participant string, view Viewport, clock clockwork.Clock, window time.Duration) *StoreSync {
	ss := &StoreSync{store: store, path: ViewPath(scope)}
	ss.Synchronizer = NewSynchronizer(participant, view, ss.write, clock, window)
	ss.unsubscribe = store.Subscribe(ss.path, func(attributes.Event) { ss.read() })
	ss.read()
	return ss
}

func (ss *StoreSync) write(cam Camera, size Size) {
	if !ss.store.Writable() {
		return
	}
	err := ss.store.Update(ss.path, map[string]any{
		cameraKey: map[string]any{"centerX": cam.CenterX, "centerY": cam.CenterY, "scale": cam.Scale},
		sizeKey:   map[string]any{"width": size.Width, "height": size.Height, "id": size.ID},
	})
	if err != nil {
		slog.Error("failed to publish camera", "path", attributes.Join(ss.path), "err", err)
	}
}

func (ss *StoreSync) read() {
	cam, size, ok := Decode(ss.store, ss.path)
	if !ok {
		return
	}
	ss.OnRemote(cam, size)
}

// Refresh re-applies whatever camera is stored, as after a reconnect.
func (ss *StoreSync) Refresh() {
	ss.read()
}

// Seed writes an initial camera and size when the scope has none yet.
func (ss *StoreSync) Seed(cam Camera, size Size) {
	if _, _, ok := Decode(ss.store, ss.path); ok || !ss.store.Writable() {
		return
	}
	ss.write(cam, size)
}

func (ss *StoreSync) Destroy() {
	ss.unsubscribe()
	ss.Synchronizer.Destroy()
}

// Decode reads the camera and size stored under path.
func Decode(store attributes.Store, path []string) (Camera, Size, bool) {
	rawCam, ok := store.Get(attributes.Child(path, cameraKey)...)
	if !ok {
		return Camera{}, Size{}, false
	}
	rawSize, ok := store.Get(attributes.Child(path, sizeKey)...)
	if !ok {
		return Camera{}, Size{}, false
	}
	c, ok1 := rawCam.(map[string]any)
	s, ok2 := rawSize.(map[string]any)
	if !ok1 || !ok2 {
		return Camera{}, Size{}, false
	}
	id, _ := s["id"].(string)
	cam := Camera{CenterX: number(c["centerX"]), CenterY: number(c["centerY"]), Scale: number(c["scale"])}
	size := Size{Width: number(s["width"]), Height: number(s["height"]), ID: id}
	return cam, size, true
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
