// Package relay hosts rooms: one replicated document per room, synced with every connected
// participant over websockets and backed up to sqlite. Bus frames are fanned out to the other
// participants of the room.
package relay

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/metrics"
	"github.com/astromechza/appcanvas/pkg/transport"
)

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Options struct {
	SyncInterval time.Duration
	// BusRate and BusBurst limit the bus frames one connection may fan out.
	BusRate  rate.Limit
	BusBurst int
}

type Server struct {
	database *sql.DB
	opts     Options
	upgrader websocket.Upgrader

	mutex sync.Mutex
	rooms map[string]*room
}

type room struct {
	id    string
	store *attributes.DocStore

	mutex   sync.Mutex
	members map[*member]struct{}
}

type member struct {
	participant string
	conn        *transport.Conn
	limiter     *rate.Limiter
}

func New(database *sql.DB, opts Options) *Server {
	if opts.BusRate <= 0 {
		opts.BusRate = 50
	}
	if opts.BusBurst <= 0 {
		opts.BusBurst = 100
	}
	return &Server{
		database: database,
		opts:     opts,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		rooms:    make(map[string]*room),
	}
}

// Init ensures the rooms table exists and loads every stored room.
func (s *Server) Init(ctx context.Context) error {
	if _, err := s.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS rooms (
		id text not null primary key,
		content text
		)`,
	); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}

	res, err := s.database.QueryContext(ctx, `SELECT id, content FROM rooms`)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for res.Next() {
		var roomID, rawSave string
		if err := res.Scan(&roomID, &rawSave); err != nil {
			return fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return fmt.Errorf("failed to decode room %s: %w", roomID, err)
		}
		store, err := attributes.Load(raw, "")
		if err != nil {
			return fmt.Errorf("failed to load room %s: %w", roomID, err)
		}
		s.rooms[roomID] = &room{id: roomID, store: store, members: make(map[*member]struct{})}
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to read rooms: %w", err)
	}
	slog.Info("loaded rooms", "count", len(s.rooms))
	return nil
}

// room returns the named room, creating it when create is set.
func (s *Server) room(id string, create bool) (*room, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if r, ok := s.rooms[id]; ok {
		return r, nil
	}
	if !create {
		return nil, nil
	}
	store, err := attributes.New("")
	if err != nil {
		return nil, err
	}
	r := &room{id: id, store: store, members: make(map[*member]struct{})}
	s.rooms[id] = r
	slog.Info("created room", "room", id)
	return r, nil
}

// Store returns the document of a room.
func (s *Server) Store(id string) (*attributes.DocStore, bool) {
	r, _ := s.room(id, false)
	if r == nil {
		return nil, false
	}
	return r.store, true
}

// Rooms returns the ids of every known room.
func (s *Server) Rooms() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Backup writes every room whose document changed since the last backup.
func (s *Server) Backup(ctx context.Context) {
	s.mutex.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mutex.Unlock()

	for _, r := range rooms {
		newContent := base64.StdEncoding.EncodeToString(r.store.Save())
		res, err := s.database.ExecContext(
			ctx, `INSERT INTO rooms (id, content) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET content = excluded.content WHERE content != excluded.content`,
			r.id, newContent,
		)
		if err != nil {
			metrics.RoomBackupsTotal.WithLabelValues("error").Inc()
			slog.Error("failed to backup doc in database", "room", r.id, "err", err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			metrics.RoomBackupsTotal.WithLabelValues("written").Inc()
			slog.Info("backed up", "room", r.id, "heads", r.store.Heads())
		}
	}
}

// RunBackups backs up every interval until ctx is done, then once more.
func (s *Server) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Backup(ctx)
		case <-ctx.Done():
			s.Backup(context.Background())
			return
		}
	}
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

// Handler routes the relay endpoints.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)
	r.Methods(http.MethodGet).Path("/rooms").HandlerFunc(s.listRooms)
	r.Methods(http.MethodGet).Path("/rooms/{room}/latest").HandlerFunc(s.getRoom)
	r.Methods(http.MethodGet).Path("/rooms/{room}/sync").HandlerFunc(s.syncRoom)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	return r
}

type roomSummary struct {
	ID      string   `json:"id"`
	Heads   []string `json:"heads"`
	Members int      `json:"members"`
}

func (s *Server) listRooms(writer http.ResponseWriter, _ *http.Request) {
	ids := s.Rooms()
	out := make([]roomSummary, 0, len(ids))
	for _, id := range ids {
		r, _ := s.room(id, false)
		if r == nil {
			continue
		}
		r.mutex.Lock()
		n := len(r.members)
		r.mutex.Unlock()
		out = append(out, roomSummary{ID: id, Heads: r.store.Heads(), Members: n})
	}
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(out); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getRoom(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["room"]
	if !roomPattern.MatchString(id) {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	r, _ := s.room(id, false)
	if r == nil {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(r.store.Save()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) syncRoom(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["room"]
	if !roomPattern.MatchString(id) {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	r, err := s.room(id, true)
	if err != nil {
		slog.Error("failed to create room", "room", id, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	m := &member{
		participant: request.URL.Query().Get("participant"),
		conn:        transport.NewConn(ws),
		limiter:     rate.NewLimiter(s.opts.BusRate, s.opts.BusBurst),
	}
	r.join(m)
	defer r.leave(m)

	if err := transport.Sync(request.Context(), m.conn, r.store.NewPeer(), r.store, func(raw []byte) {
		r.broadcast(m, raw)
	}, s.opts.SyncInterval); err != nil {
		slog.Info("sync ended", "room", id, "participant", m.participant, "err", err)
	}
}

func (r *room) join(m *member) {
	r.mutex.Lock()
	r.members[m] = struct{}{}
	r.mutex.Unlock()
	metrics.RelayConnectionsCurrent.WithLabelValues(r.id).Inc()
	slog.Info("participant joined", "room", r.id, "participant", m.participant)
}

func (r *room) leave(m *member) {
	r.mutex.Lock()
	delete(r.members, m)
	r.mutex.Unlock()
	metrics.RelayConnectionsCurrent.WithLabelValues(r.id).Dec()
	slog.Info("participant left", "room", r.id, "participant", m.participant)
}

// broadcast forwards a bus frame from one member to all others, within the sender's rate.
func (r *room) broadcast(from *member, raw []byte) {
	if !from.limiter.Allow() {
		metrics.BusMessagesTotal.WithLabelValues("dropped").Inc()
		slog.Warn("dropping bus message over rate", "room", r.id, "participant", from.participant)
		return
	}
	r.mutex.Lock()
	targets := make([]*member, 0, len(r.members))
	for m := range r.members {
		if m != from {
			targets = append(targets, m)
		}
	}
	r.mutex.Unlock()
	for _, m := range targets {
		if err := m.conn.WriteText(raw); err != nil {
			slog.Warn("failed to relay bus message", "room", r.id, "participant", m.participant, "err", err)
			continue
		}
	}
	metrics.BusMessagesTotal.WithLabelValues("relayed").Inc()
}
