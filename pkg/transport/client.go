package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/bus"
	"github.com/astromechza/appcanvas/pkg/events"
	"github.com/astromechza/appcanvas/pkg/metrics"
	"github.com/astromechza/appcanvas/pkg/reconnect"
)

var ErrNotConnected = errors.New("not connected")

const (
	DefaultMinBackoff = 250 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
)

// RoomURL returns the http url of a room endpoint on the relay at base.
func RoomURL(base *url.URL, room, endpoint string) *url.URL {
	return base.JoinPath("rooms", room, endpoint)
}

// FetchLatest downloads the relay's current document of room. A missing room returns nil.
func FetchLatest(ctx context.Context, client *http.Client, base *url.URL, room string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, RoomURL(base, room, "latest").String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body from get: %w", err)
		}
		return raw, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

// Join fetches the latest document of room and loads it as the participant's store. A room the
// relay does not know yet starts empty.
func Join(ctx context.Context, client *http.Client, base *url.URL, room, participant string) (*attributes.DocStore, error) {
	raw, err := FetchLatest(ctx, client, base, room)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		slog.Info("room is new, starting from an empty document", "room", room)
		return attributes.New(participant)
	}
	store, err := attributes.Load(raw, participant)
	if err != nil {
		return nil, err
	}
	slog.Info("established base doc", "room", room, "heads", store.Heads())
	return store, nil
}

type ClientOptions struct {
	Participant  string
	SyncInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Clock        clockwork.Clock
	Dialer       *websocket.Dialer
}

// Client keeps one participant connected to a relay room, reconnecting with backoff. It feeds
// connection phases to the refresher and carries the bus.
type Client struct {
	base  *url.URL
	room  string
	store *attributes.DocStore
	bus   *bus.Bus
	opts  ClientOptions

	mutex     sync.Mutex
	conn      *Conn
	phase     reconnect.Phase
	connected bool

	phases events.Listeners[reconnect.Phase]
}

var (
	_ bus.Transport         = (*Client)(nil)
	_ reconnect.PhaseSource = (*Client)(nil)
)

func NewClient(base *url.URL, room string, store *attributes.DocStore, b *bus.Bus, opts ClientOptions) *Client {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	c := &Client{base: base, room: room, store: store, bus: b, opts: opts, phase: reconnect.Connecting}
	if b != nil {
		b.SetTransport(c)
	}
	return c
}

func (c *Client) Phase() reconnect.Phase {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.phase
}

func (c *Client) OnPhaseChanged(fn func(reconnect.Phase)) func() {
	return c.phases.Add(fn)
}

func (c *Client) setPhase(p reconnect.Phase) {
	c.mutex.Lock()
	if c.phase == p {
		c.mutex.Unlock()
		return
	}
	c.phase = p
	c.mutex.Unlock()
	slog.Info("connection phase changed", "room", c.room, "phase", p)
	c.phases.SafeEmit("transport", p)
}

// SendText sends a bus frame to the room.
func (c *Client) SendText(raw []byte) error {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteText(raw)
}

func (c *Client) syncURL() string {
	u := RoomURL(c.base, c.room, "sync")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.opts.Participant != "" {
		q := u.Query()
		q.Set("participant", c.opts.Participant)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) connectAndSync(ctx context.Context) error {
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.syncURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	conn := NewConn(ws)
	c.mutex.Lock()
	c.conn = conn
	c.connected = true
	c.mutex.Unlock()
	c.setPhase(reconnect.Connected)

	var onText func([]byte)
	if c.bus != nil {
		onText = c.bus.Deliver
	}
	err = Sync(ctx, conn, c.store.NewPeer(), c.store, onText, c.opts.SyncInterval)

	c.mutex.Lock()
	c.conn = nil
	c.mutex.Unlock()
	if err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	return nil
}

// Run connects and keeps reconnecting until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		err := c.connectAndSync(ctx)
		if ctx.Err() != nil {
			c.setPhase(reconnect.Disconnecting)
			c.setPhase(reconnect.Disconnected)
			slog.Info("stopping scheduled sync", "room", c.room)
			return nil
		}

		c.mutex.Lock()
		wasConnected := c.connected
		c.connected = false
		c.mutex.Unlock()
		if wasConnected {
			backoff = c.opts.MinBackoff
			c.setPhase(reconnect.Reconnecting)
		}
		metrics.ReconnectsTotal.Inc()
		slog.Warn("connection lost, retrying", "room", c.room, "err", err, "backoff", backoff)

		select {
		case <-c.opts.Clock.After(backoff):
		case <-ctx.Done():
			c.setPhase(reconnect.Disconnected)
			return nil
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}
