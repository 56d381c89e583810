package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Session is one websocket observer. Snapshots are queued by the hub and
// written by a dedicated goroutine; the read goroutine only services
// control frames and notices the peer going away.
type Session struct {
	ID   uint64
	IP   string
	conn *websocket.Conn

	OutQueue chan []byte

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(conn *websocket.Conn, id uint64, outSize int, log *zap.Logger) *Session {
	return &Session{
		ID:       id,
		IP:       conn.RemoteAddr().String(),
		conn:     conn,
		OutQueue: make(chan []byte, outSize),
		closeCh:  make(chan struct{}),
		log:      log.With(zap.Uint64("session", id)),
	}
}

// Start launches the reader and writer goroutines. onClose runs once the
// session is closed for any reason.
func (s *Session) Start(onClose func(*Session)) {
	go func() {
		<-s.closeCh
		onClose(s)
	}()
	go s.readLoop()
	go s.writeLoop()
}

// Send queues a snapshot. A full queue means the peer cannot keep up and
// the session is dropped.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.OutQueue <- data:
	default:
		s.log.Warn("output queue full, dropping slow observer")
		s.Close()
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) readLoop() {
	defer s.Close()

	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.Close()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case data := <-s.OutQueue:
			// only the newest snapshot matters
			for len(s.OutQueue) > 0 {
				select {
				case data = <-s.OutQueue:
				default:
				}
			}
			if !s.write(websocket.TextMessage, data) {
				return
			}
		case <-ping.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) write(kind int, data []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(kind, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
