package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/headless"
)

const counterScript = `
var config = { width: 0.25, height: 0.2, singleton: true };
var destroyed = false;
function setup(app) {
  console.log("counter starting", app.appId);
  app.storage.ensure({ count: 0 });
  app.on("bump", function (payload) {
    app.storage.set({ count: app.storage.get("count") + payload.by });
  });
  app.storage.onChange(function (diff) {
    if (diff.count && diff.count.newValue >= 2) {
      app.storage.set({ done: true });
    }
  });
  app.onEvent("destroy", function () { destroyed = true; });
}
`

func scriptServer(t *testing.T, scripts map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		code, ok := scripts[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte(code))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)

	_, ok, err := c.Get(ctx, "https://example.test/a.js")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "https://example.test/a.js", "one"))
	require.NoError(t, c.Put(ctx, "https://example.test/a.js", "two"))
	code, ok, err := c.Get(ctx, "https://example.test/a.js")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", code)

	require.NoError(t, c.Forget(ctx, "https://example.test/a.js"))
	_, ok, err = c.Get(ctx, "https://example.test/a.js")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, err := OpenCache(":memory:", time.Nanosecond)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Put(ctx, "src", "code"))
	time.Sleep(time.Millisecond)
	_, ok, err := c.Get(ctx, "src")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_UsesCache(t *testing.T) {
	srv, hits := scriptServer(t, map[string]string{"/counter.js": counterScript})
	cache := openCache(t)

	m, err := New(WithCache(cache)).Load(context.Background(), "Counter", srv.URL+"/counter.js")
	require.NoError(t, err)
	assert.Equal(t, "Counter", m.Kind)
	assert.Equal(t, apps.Config{Width: 0.25, Height: 0.2, Singleton: true}, m.Config)
	assert.NotNil(t, m.Setup)

	_, err = New(WithCache(cache)).Load(context.Background(), "Counter", srv.URL+"/counter.js")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoad_Errors(t *testing.T) {
	srv, _ := scriptServer(t, map[string]string{
		"/nosetup.js":   `var config = {};`,
		"/badconfig.js": `var config = { width: 4 }; function setup(app) {}`,
		"/syntax.js":    `function setup(app) {`,
		"/throws.js":    `throw new Error("nope");`,
	})
	l := New(WithCache(openCache(t)))
	ctx := context.Background()

	_, err := l.Load(ctx, "X", srv.URL+"/missing.js")
	assert.ErrorContains(t, err, "unexpected status code")
	_, err = l.Load(ctx, "X", srv.URL+"/nosetup.js")
	assert.ErrorContains(t, err, "does not define setup()")
	_, err = l.Load(ctx, "X", srv.URL+"/badconfig.js")
	assert.ErrorContains(t, err, "config.width")
	_, err = l.Load(ctx, "X", srv.URL+"/syntax.js")
	assert.ErrorContains(t, err, "failed to compile")
	_, err = l.Load(ctx, "X", srv.URL+"/throws.js")
	assert.ErrorContains(t, err, "nope")

	// broken scripts are not kept
	_, ok, err := l.cache.Get(ctx, srv.URL+"/syntax.js")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_RunsRemoteAppThroughManager(t *testing.T) {
	srv, _ := scriptServer(t, map[string]string{"/counter.js": counterScript})
	store, err := attributes.New("alice")
	require.NoError(t, err)
	registry := apps.NewRegistry(New(WithCallTimeout(time.Second)))
	require.NoError(t, registry.RegisterRemote("Counter", srv.URL+"/counter.js"))

	b := bus.New("alice")
	m := apps.NewManager(apps.ManagerOptions{
		Participant:   "alice",
		Store:         store,
		Registry:      registry,
		Bus:           b,
		Boxes:         headless.NewBoxes(),
		Views:         headless.NewViews(800, 600),
		Scenes:        headless.NewScenes(),
		Clock:         clockwork.NewFakeClock(),
		CreateTimeout: 5 * time.Second,
	})
	m.Start()
	defer m.Destroy()

	id, err := m.AddApp(context.Background(), apps.Params{Kind: "Counter"})
	require.NoError(t, err)
	assert.Equal(t, "Counter", id, "singleton kinds use the kind as id")

	p, ok := m.App(id)
	require.True(t, ok)
	count, _ := p.Storage().Get("count")
	assert.Equal(t, int64(0), count)

	require.NoError(t, b.Dispatch(id+":bump", map[string]any{"by": 2}))
	assert.Eventually(t, func() bool {
		done, _ := p.Storage().Get("done")
		return done == true
	}, 5*time.Second, 5*time.Millisecond)
	count, _ = p.Storage().Get("count")
	assert.Equal(t, int64(2), count)

	require.NoError(t, m.CloseApp(id))
	assert.Eventually(t, func() bool {
		_, ok := m.App(id)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)
}
