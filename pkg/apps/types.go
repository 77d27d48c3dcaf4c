package apps

import (
	"fmt"
	"strings"
)

// RegistryPath is the store subtree holding one entry per app.
const RegistryPath = "apps"

const (
	FocusKey    = "focus"
	BoxStateKey = "boxState"
)

type BoxState string

const (
	Normal    BoxState = "normal"
	Maximized BoxState = "maximized"
	Minimized BoxState = "minimized"
)

func (s BoxState) Valid() bool {
	return s == Normal || s == Maximized || s == Minimized
}

// Config is the window configuration a module declares. Sizes are relative to the board, 0..1.
type Config struct {
	Width     float64
	Height    float64
	MinWidth  float64
	MinHeight float64
	Singleton bool
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 0.5
	}
	if c.Height <= 0 {
		c.Height = 0.5
	}
	if c.MinWidth <= 0 {
		c.MinWidth = 0.1
	}
	if c.MinHeight <= 0 {
		c.MinHeight = 0.1
	}
	return c
}

// Module is what an app kind provides: its window config and a Setup run once per instance.
type Module struct {
	Kind   string
	Config Config
	Setup  func(ctx *Context) error
}

type Options struct {
	ScenePath string   `json:"scenePath,omitempty"`
	Title     string   `json:"title,omitempty"`
	Scenes    []string `json:"scenes,omitempty"`
}

// WindowState is the replicated placement of an app window.
type WindowState struct {
	X          float64
	Y          float64
	Width      float64
	Height     float64
	SceneIndex int
	ZIndex     int
}

// Entry is one app in the registry.
type Entry struct {
	Kind         string
	Options      Options
	State        WindowState
	IsDynamicPPT bool
	Src          string
	CreatedBy    string
	CreatedAt    int64
}

// Params requests a new app.
type Params struct {
	Kind    string
	Options Options
	// Attributes seed the app's storage.
	Attributes   map[string]any
	Src          string
	IsDynamicPPT bool
}

func (p Params) validate() error {
	if p.Kind == "" {
		return &InvalidParamsError{Reason: "kind is required"}
	}
	if strings.ContainsAny(p.Kind, "/:") {
		return &InvalidParamsError{Reason: fmt.Sprintf("kind %q must not contain '/' or ':'", p.Kind)}
	}
	if p.Options.ScenePath != "" && !strings.HasPrefix(p.Options.ScenePath, "/") {
		return &InvalidParamsError{Reason: fmt.Sprintf("scene path %q must start with '/'", p.Options.ScenePath)}
	}
	if p.IsDynamicPPT && p.Options.ScenePath == "" {
		return &InvalidParamsError{Reason: "dynamic ppt apps need a scene path"}
	}
	return nil
}

func (s WindowState) toMap() map[string]any {
	return map[string]any{
		"x":          s.X,
		"y":          s.Y,
		"width":      s.Width,
		"height":     s.Height,
		"sceneIndex": s.SceneIndex,
		"zIndex":     s.ZIndex,
	}
}

func (e Entry) toMap() map[string]any {
	opts := map[string]any{}
	if e.Options.ScenePath != "" {
		opts["scenePath"] = e.Options.ScenePath
	}
	if e.Options.Title != "" {
		opts["title"] = e.Options.Title
	}
	if len(e.Options.Scenes) > 0 {
		scenes := make([]any, len(e.Options.Scenes))
		for i, s := range e.Options.Scenes {
			scenes[i] = s
		}
		opts["scenes"] = scenes
	}
	out := map[string]any{
		"kind":         e.Kind,
		"options":      opts,
		"state":        e.State.toMap(),
		"isDynamicPPT": e.IsDynamicPPT,
		"createdBy":    e.CreatedBy,
		"createdAt":    e.CreatedAt,
	}
	if e.Src != "" {
		out["src"] = e.Src
	}
	return out
}

func decodeEntry(raw any) (Entry, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Entry{}, fmt.Errorf("registry entry is %T, not a map", raw)
	}
	kind, _ := m["kind"].(string)
	if kind == "" {
		return Entry{}, fmt.Errorf("registry entry has no kind")
	}
	e := Entry{Kind: kind}
	e.Src, _ = m["src"].(string)
	e.IsDynamicPPT, _ = m["isDynamicPPT"].(bool)
	e.CreatedBy, _ = m["createdBy"].(string)
	e.CreatedAt = int64(number(m["createdAt"]))
	if opts, ok := m["options"].(map[string]any); ok {
		e.Options.ScenePath, _ = opts["scenePath"].(string)
		e.Options.Title, _ = opts["title"].(string)
		if scenes, ok := opts["scenes"].([]any); ok {
			for _, s := range scenes {
				if name, ok := s.(string); ok {
					e.Options.Scenes = append(e.Options.Scenes, name)
				}
			}
		}
	}
	if state, ok := m["state"].(map[string]any); ok {
		e.State = decodeWindowState(state)
	}
	return e, nil
}

func decodeWindowState(m map[string]any) WindowState {
	return WindowState{
		X:          number(m["x"]),
		Y:          number(m["y"]),
		Width:      number(m["width"]),
		Height:     number(m["height"]),
		SceneIndex: int(number(m["sceneIndex"])),
		ZIndex:     int(number(m["zIndex"])),
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
