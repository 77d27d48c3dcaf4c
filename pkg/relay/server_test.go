package relay_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/reconnect"
	"github.com/astromechza/appcanvas/pkg/relay"
	"github.com/astromechza/appcanvas/pkg/transport"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startRelay(t *testing.T, db *sql.DB) (*relay.Server, *httptest.Server, *url.URL) {
	t.Helper()
	s := relay.New(db, relay.Options{SyncInterval: 20 * time.Millisecond})
	require.NoError(t, s.Init(context.Background()))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return s, srv, base
}

type participant struct {
	store  *attributes.DocStore
	bus    *bus.Bus
	client *transport.Client
	phases []reconnect.Phase
	mutex  sync.Mutex
}

func (p *participant) seen() []reconnect.Phase {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]reconnect.Phase(nil), p.phases...)
}

func join(t *testing.T, ctx context.Context, base *url.URL, room, id string) *participant {
	t.Helper()
	return joinWith(t, ctx, base, room, id, nil)
}

func joinWith(t *testing.T, ctx context.Context, base *url.URL, room, id string, dialer *websocket.Dialer) *participant {
	t.Helper()
	store, err := transport.Join(ctx, http.DefaultClient, base, room, id)
	require.NoError(t, err)
	p := &participant{store: store, bus: bus.New(id)}
	p.client = transport.NewClient(base, room, store, p.bus, transport.ClientOptions{
		Participant:  id,
		SyncInterval: 20 * time.Millisecond,
		MinBackoff:   10 * time.Millisecond,
		MaxBackoff:   50 * time.Millisecond,
		Dialer:       dialer,
	})
	p.client.OnPhaseChanged(func(ph reconnect.Phase) {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.phases = append(p.phases, ph)
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.client.Run(ctx)
	}()
	t.Cleanup(func() { <-done })
	require.Eventually(t, func() bool { return p.client.Phase() == reconnect.Connected }, 5*time.Second, 5*time.Millisecond)
	return p
}

func TestRelay_SyncsStateAndBusBetweenParticipants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, base := startRelay(t, openDB(t))

	alice := join(t, ctx, base, "room1", "alice")
	bob := join(t, ctx, base, "room1", "bob")

	require.NoError(t, alice.store.Update([]string{"apps", "a1"}, map[string]any{"kind": "Note"}))
	assert.Eventually(t, func() bool {
		v, ok := bob.store.Get("apps", "a1", "kind")
		return ok && v == "Note"
	}, 5*time.Second, 10*time.Millisecond)

	var received atomic.Value
	bob.bus.On("hello", func(msg bus.Message) { received.Store(msg) })
	assert.Eventually(t, func() bool {
		_ = alice.bus.Dispatch("hello", map[string]any{"n": 1})
		return received.Load() != nil
	}, 5*time.Second, 20*time.Millisecond)
	msg := received.Load().(bus.Message)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, map[string]any{"n": float64(1)}, msg.Payload)
}

func TestRelay_LatestListAndBackup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := openDB(t)
	s, srv, base := startRelay(t, db)

	resp, err := http.Get(srv.URL + "/rooms/nope/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/rooms/bad%20name/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	alice := join(t, ctx, base, "room2", "alice")
	require.NoError(t, alice.store.SetAttributes(map[string]any{"focus": "a1"}))
	require.Eventually(t, func() bool {
		st, ok := s.Store("room2")
		if !ok {
			return false
		}
		v, _ := st.Get("focus")
		return v == "a1"
	}, 5*time.Second, 10*time.Millisecond)

	raw, err := transport.FetchLatest(ctx, http.DefaultClient, base, "room2")
	require.NoError(t, err)
	loaded, err := attributes.Load(raw, "")
	require.NoError(t, err)
	v, _ := loaded.Get("focus")
	assert.Equal(t, "a1", v)

	resp, err = http.Get(srv.URL + "/rooms")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	var rooms []map[string]any
	require.NoError(t, json.Unmarshal(body, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "room2", rooms[0]["id"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Backup(ctx)
	restored := relay.New(db, relay.Options{})
	require.NoError(t, restored.Init(ctx))
	assert.Equal(t, []string{"room2"}, restored.Rooms())
	st, ok := restored.Store("room2")
	require.True(t, ok)
	v, _ = st.Get("focus")
	assert.Equal(t, "a1", v)
}

func TestRelay_ClientReconnectsAndRefreshes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, base := startRelay(t, openDB(t))

	var connMutex sync.Mutex
	var conns []net.Conn
	dialer := &websocket.Dialer{NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := (&net.Dialer{}).DialContext(ctx, network, addr)
		if err == nil {
			connMutex.Lock()
			conns = append(conns, c)
			connMutex.Unlock()
		}
		return c, err
	}}
	alice := joinWith(t, ctx, base, "room3", "alice", dialer)
	refresher := reconnect.New(alice.client)
	defer refresher.Destroy()
	var refreshed atomic.Int32
	refresher.OnReconnected(func() { refreshed.Add(1) })

	connMutex.Lock()
	require.Len(t, conns, 1)
	_ = conns[0].Close()
	connMutex.Unlock()
	assert.Eventually(t, func() bool { return refreshed.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, reconnect.Connected, alice.client.Phase())
	assert.Contains(t, alice.seen(), reconnect.Reconnecting)

	// still syncing after the reconnect
	bob := join(t, ctx, base, "room3", "bob")
	require.NoError(t, alice.store.SetAttributes(map[string]any{"boxState": "maximized"}))
	assert.Eventually(t, func() bool {
		v, _ := bob.store.Get("boxState")
		return v == "maximized"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return alice.client.Phase() == reconnect.Disconnected }, 5*time.Second, 5*time.Millisecond)
}
