// Package page keeps {index,length} bookkeeping for the scenes of a multi-page app.
package page

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/astromechza/appcanvas/pkg/events"
)

var (
	ErrLastPage   = errors.New("cannot remove the last page")
	ErrOutOfRange = errors.New("page index out of range")
)

type State struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// Scene is one entry of a scene directory.
type Scene struct {
	Name string
}

// SceneDirectory is the scene listing of one app, rooted at its scene path.
type SceneDirectory interface {
	Scenes(dir string) []Scene
	AddScene(dir string, scene Scene, at int) error
	RemoveScene(dir string, name string) error
	SetSceneIndex(dir string, index int) error
}

// CalculateNextIndex returns the pre-removal index focus should move to when the page at
// removed goes away. Removing the focused page moves to the page after it, or the page before
// it when it is the last one. Removing any other page keeps focus on the current page.
func CalculateNextIndex(removed int, state State) int {
	if removed != state.Index {
		return state.Index
	}
	if state.Index >= state.Length-1 {
		if state.Index == 0 {
			return 0
		}
		return state.Index - 1
	}
	return state.Index + 1
}

// Controller moves between and edits the pages under dir.
type Controller struct {
	dir     string
	scenes  SceneDirectory
	names   func() string
	mutex   sync.Mutex
	index   int
	changed events.Listeners[State]
}

type Option func(*Controller)

// WithNames sets the generator for the scene names of added pages.
func WithNames(names func() string) Option {
	return func(c *Controller) {
		c.names = names
	}
}

func newSceneName() string {
	return strings.ToLower(ulid.Make().String())
}

func NewController(dir string, scenes SceneDirectory, index int, opts ...Option) *Controller {
	c := &Controller{dir: dir, scenes: scenes, names: newSceneName}
	for _, opt := range opts {
		opt(c)
	}
	c.index = c.clamp(index)
	return c
}

func (c *Controller) clamp(index int) int {
	n := len(c.scenes.Scenes(c.dir))
	if n == 0 || index < 0 {
		return 0
	}
	if index >= n {
		return n - 1
	}
	return index
}

func (c *Controller) Dir() string {
	return c.dir
}

// State reads the length from the scene directory. When the directory shrank under the current
// index, the index is pulled back in range and listeners are notified.
func (c *Controller) State() State {
	c.mutex.Lock()
	n := len(c.scenes.Scenes(c.dir))
	index := c.clamp(c.index)
	moved := index != c.index
	c.index = index
	c.mutex.Unlock()

	s := State{Index: index, Length: max(n, 1)}
	if moved {
		c.changed.SafeEmit("page:"+c.dir, s)
	}
	return s
}

// OnChange registers fn for page state changes.
func (c *Controller) OnChange(fn func(State)) func() {
	return c.changed.Add(fn)
}

// Sync records an index that was changed elsewhere (replication) and notifies listeners.
func (c *Controller) Sync(index int) {
	c.mutex.Lock()
	index = c.clamp(index)
	if index == c.index {
		c.mutex.Unlock()
		return
	}
	c.index = index
	c.mutex.Unlock()
	c.changed.SafeEmit("page:"+c.dir, c.State())
}

func (c *Controller) NextPage() (bool, error) {
	s := c.State()
	if s.Index+1 >= s.Length {
		return false, nil
	}
	return true, c.JumpPage(s.Index + 1)
}

func (c *Controller) PrevPage() (bool, error) {
	s := c.State()
	if s.Index <= 0 {
		return false, nil
	}
	return true, c.JumpPage(s.Index - 1)
}

func (c *Controller) JumpPage(index int) error {
	s := c.State()
	if index < 0 || index >= s.Length {
		return fmt.Errorf("failed to jump to page %d of %d: %w", index, s.Length, ErrOutOfRange)
	}
	if err := c.scenes.SetSceneIndex(c.dir, index); err != nil {
		return fmt.Errorf("failed to set scene index: %w", err)
	}
	c.Sync(index)
	return nil
}

// AddPage inserts a new page after the current one, or at the end when after is false.
func (c *Controller) AddPage(after bool) (string, error) {
	s := c.State()
	at := len(c.scenes.Scenes(c.dir))
	if after {
		at = s.Index + 1
	}
	name := c.names()
	if err := c.scenes.AddScene(c.dir, Scene{Name: name}, at); err != nil {
		return "", fmt.Errorf("failed to add page: %w", err)
	}
	c.changed.SafeEmit("page:"+c.dir, c.State())
	return name, nil
}

// RemovePage removes the page at index and moves focus per CalculateNextIndex.
func (c *Controller) RemovePage(index int) error {
	s := c.State()
	if s.Length <= 1 {
		return ErrLastPage
	}
	if index < 0 || index >= s.Length {
		return fmt.Errorf("failed to remove page %d of %d: %w", index, s.Length, ErrOutOfRange)
	}
	scenes := c.scenes.Scenes(c.dir)
	next := CalculateNextIndex(index, s)
	if next != s.Index {
		if err := c.scenes.SetSceneIndex(c.dir, next); err != nil {
			return fmt.Errorf("failed to move off removed page: %w", err)
		}
	}
	if err := c.scenes.RemoveScene(c.dir, scenes[index].Name); err != nil {
		return fmt.Errorf("failed to remove page: %w", err)
	}
	if next > index {
		next--
	}
	c.mutex.Lock()
	c.index = c.clamp(next)
	c.mutex.Unlock()
	if err := c.scenes.SetSceneIndex(c.dir, next); err != nil {
		slog.Warn("failed to renumber scene index", "dir", c.dir, "err", err)
	}
	c.changed.SafeEmit("page:"+c.dir, c.State())
	return nil
}
