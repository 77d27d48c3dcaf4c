package headless

import (
	"fmt"
	"slices"
	"sync"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/events"
	"github.com/astromechza/appcanvas/pkg/page"
)

// View is an apps.View that records what the synchronizer does to it.
type View struct {
	id     string
	owner  *Views
	mutex  sync.Mutex
	cam    camera.Camera
	rect   camera.Rect
	path   string
	write  bool
	closed bool

	cameraListeners events.Listeners[camera.Camera]
	sizeListeners   events.Listeners[camera.Rect]
}

func (v *View) ID() string {
	return v.id
}

// MoveCamera is the programmatic move. Like a real engine it reports the new camera.
func (v *View) MoveCamera(c camera.Camera) {
	v.mutex.Lock()
	v.cam = c
	v.mutex.Unlock()
	v.cameraListeners.SafeEmit("view:"+v.id, c)
}

// Pan moves the camera as the user would.
func (v *View) Pan(c camera.Camera) {
	v.MoveCamera(c)
}

// SetRect resizes the viewport and reports it.
func (v *View) SetRect(r camera.Rect) {
	v.mutex.Lock()
	v.rect = r
	v.mutex.Unlock()
	v.sizeListeners.SafeEmit("view:"+v.id, r)
}

func (v *View) Camera() camera.Camera {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.cam
}

func (v *View) Rect() camera.Rect {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.rect
}

func (v *View) FocusScenePath() string {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.path
}

func (v *View) SetFocusScenePath(path string) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.path = path
}

func (v *View) Writable() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.write
}

func (v *View) SetWritable(w bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.write = w
}

func (v *View) OnCameraUpdated(fn func(camera.Camera)) func() {
	return v.cameraListeners.Add(fn)
}

func (v *View) OnSizeUpdated(fn func(camera.Rect)) func() {
	return v.sizeListeners.Add(fn)
}

func (v *View) Destroyed() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.closed
}

func (v *View) Destroy() {
	v.mutex.Lock()
	v.closed = true
	v.mutex.Unlock()
	v.cameraListeners.Clear()
	v.sizeListeners.Clear()
	v.owner.release(v)
}

// Views creates views of a fixed default size.
type Views struct {
	rect  camera.Rect
	mutex sync.Mutex
	views map[string]*View
}

func NewViews(width, height float64) *Views {
	return &Views{rect: camera.Rect{Width: width, Height: height}, views: make(map[string]*View)}
}

func (vs *Views) CreateView(id string) (apps.View, error) {
	return vs.Create(id)
}

// Create returns the concrete view, for callers that want to drive it.
func (vs *Views) Create(id string) (*View, error) {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()
	if _, ok := vs.views[id]; ok {
		return nil, fmt.Errorf("view %s already exists", id)
	}
	v := &View{id: id, owner: vs, rect: vs.rect, cam: camera.Camera{Scale: 1}}
	vs.views[id] = v
	return v, nil
}

func (vs *Views) Get(id string) (*View, bool) {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()
	v, ok := vs.views[id]
	return v, ok
}

func (vs *Views) release(v *View) {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()
	if vs.views[v.id] == v {
		delete(vs.views, v.id)
	}
}

// Scenes is an in-memory scene directory.
type Scenes struct {
	mutex sync.Mutex
	dirs  map[string][]page.Scene
	index map[string]int
}

func NewScenes() *Scenes {
	return &Scenes{dirs: make(map[string][]page.Scene), index: make(map[string]int)}
}

func (s *Scenes) Scenes(dir string) []page.Scene {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return slices.Clone(s.dirs[dir])
}

func (s *Scenes) AddScene(dir string, scene page.Scene, at int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	scenes := s.dirs[dir]
	if slices.ContainsFunc(scenes, func(x page.Scene) bool { return x.Name == scene.Name }) {
		return fmt.Errorf("scene %s/%s already exists", dir, scene.Name)
	}
	if at < 0 || at > len(scenes) {
		at = len(scenes)
	}
	s.dirs[dir] = slices.Insert(scenes, at, scene)
	return nil
}

func (s *Scenes) RemoveScene(dir, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	scenes := s.dirs[dir]
	i := slices.IndexFunc(scenes, func(x page.Scene) bool { return x.Name == name })
	if i < 0 {
		return fmt.Errorf("scene %s/%s not found", dir, name)
	}
	s.dirs[dir] = slices.Delete(slices.Clone(scenes), i, i+1)
	return nil
}

func (s *Scenes) SetSceneIndex(dir string, index int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if index < 0 || index >= len(s.dirs[dir]) {
		return fmt.Errorf("scene index %d out of range for %s", index, dir)
	}
	s.index[dir] = index
	return nil
}

// SceneIndex returns the index last set for dir.
func (s *Scenes) SceneIndex(dir string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.index[dir]
}
