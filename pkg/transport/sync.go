// Package transport moves a room over one websocket: binary frames carry document sync messages
// and text frames carry bus messages.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/metrics"
)

// DefaultSyncInterval is how often the writer retries generating a message without a change.
const DefaultSyncInterval = time.Second

// Conn is a websocket connection that many goroutines may write to.
type Conn struct {
	ws    *websocket.Conn
	mutex sync.Mutex
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) write(mt int, raw []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.ws.WriteMessage(mt, raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Conn) WriteBinary(raw []byte) error {
	return c.write(websocket.BinaryMessage, raw)
}

// WriteText sends a bus frame.
func (c *Conn) WriteText(raw []byte) error {
	return c.write(websocket.TextMessage, raw)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Notifier reports local or remote document changes.
type Notifier interface {
	OnChanged(fn func()) func()
}

func readAndReceiveMessage(conn *Conn, peer *attributes.Peer, onText func([]byte)) (bool, error) {
	mt, p, err := conn.ws.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("failed to read message: %w", err)
	}
	switch mt {
	case websocket.BinaryMessage:
		metrics.SyncMessagesTotal.WithLabelValues("received").Inc()
		if err := peer.Receive(p); err != nil {
			return false, err
		}
		return true, nil
	case websocket.TextMessage:
		if onText != nil {
			onText(p)
		}
	default:
	}
	return false, nil
}

func generateAndWriteMessages(conn *Conn, peer *attributes.Peer) error {
	for {
		msg, ok := peer.Generate()
		if !ok {
			return nil
		}
		if err := conn.WriteBinary(msg); err != nil {
			return err
		}
		metrics.SyncMessagesTotal.WithLabelValues("sent").Inc()
	}
}

// Sync runs the sync protocol for peer over conn until ctx is done or the connection fails. Text
// frames are handed to onText. The connection is closed on return.
func Sync(
	ctx context.Context,
	conn *Conn,
	peer *attributes.Peer,
	changes Notifier,
	onText func([]byte),
	interval time.Duration,
) error {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wake := make(chan struct{}, 1)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	if changes != nil {
		defer changes.OnChanged(signal)()
	}

	var errMutex sync.Mutex
	var firstErr error
	fail := func(err error) {
		errMutex.Lock()
		defer errMutex.Unlock()
		if firstErr == nil {
			firstErr = err
		}
		cancel()
	}

	slog.Debug("syncing")
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			received, err := readAndReceiveMessage(conn, peer, onText)
			if err != nil {
				fail(err)
				return
			}
			if received {
				// the remote may be waiting on our reply
				signal()
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := generateAndWriteMessages(conn, peer); err != nil {
			fail(err)
			return
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
			case <-wake:
			case <-ctx.Done():
				return
			}
			if err := generateAndWriteMessages(conn, peer); err != nil {
				fail(err)
				return
			}
		}
	}()

	<-ctx.Done()
	_ = conn.Close()
	wg.Wait()

	if parent.Err() != nil {
		return nil
	}
	errMutex.Lock()
	defer errMutex.Unlock()
	return firstErr
}
