// Package loader fetches the code of remote app kinds and runs it in a JavaScript sandbox. A
// script declares a global config object and a setup(app) function:
//
//	var config = { width: 0.4, height: 0.3, singleton: false };
//	function setup(app) {
//	  app.storage.ensure({ count: 0 });
//	  app.on("bump", function (payload) { app.storage.set({ count: app.storage.get("count") + 1 }); });
//	}
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dop251/goja"

	"github.com/astromechza/appcanvas/pkg/apps"
)

const (
	// MaxScriptSize bounds a downloaded script.
	MaxScriptSize = 1 << 20

	ConfigVariable = "config"
	SetupFunction  = "setup"

	DefaultFetchTimeout = 10 * time.Second
	DefaultCallTimeout  = 5 * time.Second
)

// ScriptLoader implements apps.Loader over http with an optional sqlite cache.
type ScriptLoader struct {
	client      *http.Client
	cache       *Cache
	callTimeout time.Duration
}

type Option func(*ScriptLoader)

// WithCache keeps fetched code in c.
func WithCache(c *Cache) Option {
	return func(l *ScriptLoader) { l.cache = c }
}

func WithHTTPClient(client *http.Client) Option {
	return func(l *ScriptLoader) { l.client = client }
}

// WithCallTimeout bounds every call into a script, setup included.
func WithCallTimeout(d time.Duration) Option {
	return func(l *ScriptLoader) { l.callTimeout = d }
}

func New(opts ...Option) *ScriptLoader {
	l := &ScriptLoader{
		client:      &http.Client{Timeout: DefaultFetchTimeout},
		callTimeout: DefaultCallTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

var _ apps.Loader = (*ScriptLoader)(nil)

// Load fetches src, checks that it evaluates and exposes setup, and returns the module.
func (l *ScriptLoader) Load(ctx context.Context, kind, src string) (apps.Module, error) {
	code, cached, err := l.source(ctx, src)
	if err != nil {
		return apps.Module{}, err
	}
	program, err := goja.Compile(src, code, false)
	if err != nil {
		l.forget(ctx, src, cached)
		return apps.Module{}, fmt.Errorf("failed to compile %s: %w", src, err)
	}

	vm := goja.New()
	bindConsole(vm, slog.With("kind", kind))
	if _, err := vm.RunProgram(program); err != nil {
		l.forget(ctx, src, cached)
		return apps.Module{}, fmt.Errorf("failed to evaluate %s: %w", src, err)
	}
	if _, ok := goja.AssertFunction(vm.Get(SetupFunction)); !ok {
		l.forget(ctx, src, cached)
		return apps.Module{}, fmt.Errorf("script %s does not define %s()", src, SetupFunction)
	}
	cfg, err := readConfig(vm.Get(ConfigVariable))
	if err != nil {
		l.forget(ctx, src, cached)
		return apps.Module{}, fmt.Errorf("failed to read config of %s: %w", src, err)
	}
	if !cached && l.cache != nil {
		if err := l.cache.Put(ctx, src, code); err != nil {
			slog.Warn("failed to cache app code", "src", src, "err", err)
		}
	}
	slog.Info("loaded app script", "kind", kind, "src", src, "cached", cached)
	return apps.Module{Kind: kind, Config: cfg, Setup: l.setup(kind, program)}, nil
}

func (l *ScriptLoader) forget(ctx context.Context, src string, cached bool) {
	if !cached || l.cache == nil {
		return
	}
	if err := l.cache.Forget(ctx, src); err != nil {
		slog.Warn("failed to drop broken script from cache", "src", src, "err", err)
	}
}

func (l *ScriptLoader) source(ctx context.Context, src string) (string, bool, error) {
	if l.cache != nil {
		if code, ok, err := l.cache.Get(ctx, src); err != nil {
			slog.Warn("app code cache unavailable", "src", src, "err", err)
		} else if ok {
			return code, true, nil
		}
	}
	code, err := l.fetch(ctx, src)
	if err != nil {
		return "", false, err
	}
	return code, false, nil
}

func (l *ScriptLoader) fetch(ctx context.Context, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", src, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code fetching %s: %d", src, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxScriptSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", src, err)
	}
	if len(raw) > MaxScriptSize {
		return "", fmt.Errorf("script %s exceeds maximum size of %d bytes", src, MaxScriptSize)
	}
	return string(raw), nil
}

// setup returns the Setup of a script module. Every instance gets its own runtime.
func (l *ScriptLoader) setup(kind string, program *goja.Program) func(*apps.Context) error {
	return func(ctx *apps.Context) error {
		sb := newSandbox(ctx.AppID(), l.callTimeout)
		bindConsole(sb.vm, ctx.Logger())
		if _, err := sb.vm.RunProgram(program); err != nil {
			return fmt.Errorf("failed to evaluate %s: %w", kind, err)
		}
		fn, ok := goja.AssertFunction(sb.vm.Get(SetupFunction))
		if !ok {
			return fmt.Errorf("script of %s does not define %s()", kind, SetupFunction)
		}
		app := sb.bind(ctx)
		if err := sb.call(fn, app); err != nil {
			return fmt.Errorf("failed to run setup of %s: %w", kind, err)
		}
		go sb.loop(ctx.Context())
		return nil
	}
}

func bindConsole(vm *goja.Runtime, log *slog.Logger) {
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		log.Info("app log", "msg", fmt.Sprint(args...))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
}

func readConfig(v goja.Value) (apps.Config, error) {
	var cfg apps.Config
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return cfg, nil
	}
	raw, ok := v.Export().(map[string]any)
	if !ok {
		return cfg, fmt.Errorf("%s must be an object", ConfigVariable)
	}
	var err error
	for key, dst := range map[string]*float64{
		"width":     &cfg.Width,
		"height":    &cfg.Height,
		"minWidth":  &cfg.MinWidth,
		"minHeight": &cfg.MinHeight,
	} {
		if x, present := raw[key]; present {
			f, ok := number(x)
			if !ok || f < 0 || f > 1 {
				err = fmt.Errorf("%s.%s must be a number between 0 and 1", ConfigVariable, key)
				continue
			}
			*dst = f
		}
	}
	if s, present := raw["singleton"]; present {
		b, ok := s.(bool)
		if !ok {
			return cfg, fmt.Errorf("%s.singleton must be a boolean", ConfigVariable)
		}
		cfg.Singleton = b
	}
	return cfg, err
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}
