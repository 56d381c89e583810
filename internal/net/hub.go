package net

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyuha/server/internal/world"
)

const sessionQueue = 8

// snapshotMsg is the websocket frame pushed to observers.
type snapshotMsg struct {
	Type    string       `json:"type"`
	Version uint64       `json:"version"`
	State   *world.State `json:"state"`
}

// Hub fans committed world snapshots out to websocket observers. Publish
// is called from the tick goroutine and never blocks on a peer.
type Hub struct {
	upgrader websocket.Upgrader
	read     func(ctx context.Context) (*world.State, error)
	nextID   atomic.Uint64
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[uint64]*Session
	last     []byte
}

// NewHub builds a hub. read supplies the first snapshot for observers
// that join before anything was published. An empty allowedOrigins list
// accepts any origin.
func NewHub(allowedOrigins []string, read func(ctx context.Context) (*world.State, error), log *zap.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		read:     read,
		log:      log,
		sessions: make(map[uint64]*Session),
	}
}

// Publish sends s to every observer.
func (h *Hub) Publish(s *world.State) {
	data, err := encodeSnapshot(s)
	if err != nil {
		h.log.Error("encode snapshot", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.last = data
	targets := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		targets = append(targets, sess)
	}
	h.mu.Unlock()

	for _, sess := range targets {
		sess.Send(data)
	}
}

// ServeWS upgrades the request and registers the observer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sess := NewSession(conn, h.nextID.Add(1), sessionQueue, h.log)

	h.mu.Lock()
	h.sessions[sess.ID] = sess
	first := h.last
	h.mu.Unlock()

	if first == nil && h.read != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		st, err := h.read(ctx)
		cancel()
		if err == nil {
			first, _ = encodeSnapshot(st)
		} else {
			h.log.Warn("read world for new observer", zap.Error(err))
		}
	}

	sess.Start(h.remove)
	if first != nil {
		sess.Send(first)
	}
	h.log.Info("observer connected", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP))
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		targets = append(targets, sess)
	}
	h.mu.Unlock()
	for _, sess := range targets {
		sess.Close()
	}
}

func (h *Hub) remove(sess *Session) {
	h.mu.Lock()
	delete(h.sessions, sess.ID)
	h.mu.Unlock()
	h.log.Info("observer disconnected", zap.Uint64("session", sess.ID))
}

func encodeSnapshot(s *world.State) ([]byte, error) {
	return json.Marshal(snapshotMsg{Type: "state", Version: s.Version, State: s})
}
