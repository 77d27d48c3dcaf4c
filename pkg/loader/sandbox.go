package loader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/storage"
)

// sandbox owns one goja runtime. A runtime is not safe for concurrent use, so after setup every
// callback into the script is queued and run by loop.
type sandbox struct {
	appID   string
	vm      *goja.Runtime
	timeout time.Duration

	mutex     sync.Mutex
	jobs      []func()
	stopped   bool
	onDestroy []goja.Callable
	wake      chan struct{}
}

func newSandbox(appID string, timeout time.Duration) *sandbox {
	return &sandbox{
		appID:   appID,
		vm:      goja.New(),
		timeout: timeout,
		wake:    make(chan struct{}, 1),
	}
}

// call runs fn with a watchdog that interrupts a runaway script.
func (s *sandbox) call(fn goja.Callable, args ...goja.Value) error {
	timer := time.AfterFunc(s.timeout, func() {
		s.vm.Interrupt("call timeout")
	})
	_, err := fn(goja.Undefined(), args...)
	if !timer.Stop() {
		s.vm.ClearInterrupt()
	}
	return err
}

func (s *sandbox) enqueue(job func()) {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	s.jobs = append(s.jobs, job)
	s.mutex.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// callback queues a call of fn with the arguments built by args. args runs on the loop.
func (s *sandbox) callback(fn goja.Callable, args func() []goja.Value) {
	s.enqueue(func() {
		if err := s.call(fn, args()...); err != nil {
			slog.Error("app callback failed", "app", s.appID, "err", err)
		}
	})
}

func (s *sandbox) loop(ctx context.Context) {
	done := ctx.Done()
	var grace <-chan time.Time
	for {
		s.mutex.Lock()
		jobs := s.jobs
		s.jobs = nil
		stopped := s.stopped
		s.mutex.Unlock()

		for _, job := range jobs {
			job()
		}
		if stopped {
			return
		}
		if len(jobs) > 0 {
			continue
		}
		select {
		case <-s.wake:
		case <-done:
			// the destroy event follows the cancellation and stops the loop
			done = nil
			grace = time.After(s.timeout)
		case <-grace:
			return
		}
	}
}

// stop runs the destroy callbacks as the final job.
func (s *sandbox) stop() {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	callbacks := s.onDestroy
	s.jobs = append(s.jobs, func() {
		for _, fn := range callbacks {
			if err := s.call(fn); err != nil {
				slog.Error("app destroy callback failed", "app", s.appID, "err", err)
			}
		}
	})
	s.stopped = true
	s.mutex.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *sandbox) function(v goja.Value, name string) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(s.vm.NewTypeError("%s expects a function", name))
	}
	return fn
}

// bind builds the app object handed to setup.
func (s *sandbox) bind(ctx *apps.Context) *goja.Object {
	vm := s.vm
	app := vm.NewObject()
	_ = app.Set("appId", ctx.AppID())
	_ = app.Set("kind", ctx.Kind())
	_ = app.Set("participant", ctx.Participant())
	_ = app.Set("writable", func() bool { return ctx.Writable() })
	_ = app.Set("storage", s.bindStorage(ctx.Storage()))

	_ = app.Set("dispatch", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		if err := ctx.DispatchMagixEvent(event, call.Argument(1).Export()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = app.Set("on", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		fn := s.function(call.Argument(1), "on")
		dispose := ctx.AddMagixEventListener(event, func(msg bus.Message) {
			s.callback(fn, func() []goja.Value {
				return []goja.Value{vm.ToValue(msg.Payload), vm.ToValue(msg.From)}
			})
		})
		return vm.ToValue(func() { dispose() })
	})
	_ = app.Set("onEvent", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fn := s.function(call.Argument(1), "onEvent")
		if name == apps.EventDestroy {
			s.mutex.Lock()
			s.onDestroy = append(s.onDestroy, fn)
			s.mutex.Unlock()
			return vm.ToValue(func() {})
		}
		dispose := ctx.Events().On(name, func(payload any) {
			s.callback(fn, func() []goja.Value { return []goja.Value{vm.ToValue(payload)} })
		})
		return vm.ToValue(func() { dispose() })
	})

	ctx.Events().On(apps.EventDestroy, func(any) { s.stop() })
	return app
}

func (s *sandbox) bindStorage(st *storage.Storage) *goja.Object {
	vm := s.vm
	obj := vm.NewObject()
	partial := func(call goja.FunctionCall, name string) map[string]any {
		m, ok := call.Argument(0).Export().(map[string]any)
		if !ok {
			panic(vm.NewTypeError("storage.%s expects an object", name))
		}
		return m
	}
	_ = obj.Set("state", func() goja.Value { return vm.ToValue(st.State()) })
	_ = obj.Set("get", func(key string) goja.Value {
		if v, ok := st.Get(key); ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		st.SetState(partial(call, "set"))
		return goja.Undefined()
	})
	_ = obj.Set("ensure", func(call goja.FunctionCall) goja.Value {
		st.EnsureState(partial(call, "ensure"))
		return goja.Undefined()
	})
	_ = obj.Set("onChange", func(call goja.FunctionCall) goja.Value {
		fn := s.function(call.Argument(0), "storage.onChange")
		dispose := st.AddStateChangedListener(func(d storage.Diff) {
			s.callback(fn, func() []goja.Value { return []goja.Value{vm.ToValue(diffObject(d))} })
		})
		return vm.ToValue(func() { dispose() })
	})
	return obj
}

func diffObject(d storage.Diff) map[string]any {
	out := make(map[string]any, len(d))
	for key, c := range d {
		entry := map[string]any{"oldValue": c.OldValue, "removed": c.Removed}
		if !c.Removed {
			entry["newValue"] = c.NewValue
		}
		out[key] = entry
	}
	return out
}
