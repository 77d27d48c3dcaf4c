package apps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Loader fetches and instantiates the module of a remote app kind.
type Loader interface {
	Load(ctx context.Context, kind, src string) (Module, error)
}

// Registry maps app kinds to modules. Remote kinds are loaded on first use and kept.
type Registry struct {
	loader Loader

	mutex   sync.Mutex
	modules map[string]Module
	remotes map[string]string
}

func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader:  loader,
		modules: make(map[string]Module),
		remotes: make(map[string]string),
	}
}

func (r *Registry) Register(m Module) error {
	if m.Kind == "" {
		return &InvalidParamsError{Reason: "module kind is required"}
	}
	if m.Setup == nil {
		return &InvalidParamsError{Reason: fmt.Sprintf("module %q has no setup", m.Kind)}
	}
	m.Config = m.Config.withDefaults()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.modules[m.Kind] = m
	delete(r.remotes, m.Kind)
	return nil
}

// RegisterRemote records that kind is served from src and loaded through the Loader.
func (r *Registry) RegisterRemote(kind, src string) error {
	if kind == "" || src == "" {
		return &InvalidParamsError{Reason: "remote kind and src are required"}
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.modules, kind)
	r.remotes[kind] = src
	return nil
}

func (r *Registry) Unregister(kind string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.modules, kind)
	delete(r.remotes, kind)
}

// Has reports whether kind is known, loaded or not.
func (r *Registry) Has(kind string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.modules[kind]
	_, remote := r.remotes[kind]
	return ok || remote
}

// Config returns the window config of a loaded kind.
func (r *Registry) Config(kind string) (Config, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	m, ok := r.modules[kind]
	return m.Config, ok
}

func (r *Registry) Kinds() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]string, 0, len(r.modules)+len(r.remotes))
	for k := range r.modules {
		out = append(out, k)
	}
	for k := range r.remotes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the module for kind, loading it when it is remote. src overrides the
// registered source for entries that carry their own.
func (r *Registry) Resolve(ctx context.Context, kind, src string) (Module, error) {
	r.mutex.Lock()
	if m, ok := r.modules[kind]; ok {
		r.mutex.Unlock()
		return m, nil
	}
	registered := r.remotes[kind]
	r.mutex.Unlock()
	if src == "" {
		src = registered
	}
	if src == "" {
		return Module{}, &NotRegisteredError{Kind: kind}
	}
	if r.loader == nil {
		return Module{}, fmt.Errorf("failed to load %q: no loader configured", kind)
	}
	slog.Info("loading remote app", "kind", kind, "src", src)
	m, err := r.loader.Load(ctx, kind, src)
	if err != nil {
		return Module{}, fmt.Errorf("failed to load %q from %s: %w", kind, src, err)
	}
	m.Kind = kind
	if err := r.Register(m); err != nil {
		return Module{}, err
	}
	r.mutex.Lock()
	m = r.modules[kind]
	r.mutex.Unlock()
	return m, nil
}
