package server

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"deriflow/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Session is the capability a broadcast target must provide. The server
// logic depends only on this interface, so it can be unit-tested with an
// in-memory fake.
type Session interface {
	// ID returns the session identifier used as the key in the client
	// table and the subscription registry.
	ID() string
	// Send enqueues a payload for delivery. It reports false when the
	// payload was dropped because the session is closing or its outbound
	// queue overflowed.
	Send(payload []byte) bool
	// Close tears the session down. Safe to call repeatedly and
	// concurrently with in-flight sends.
	Close()
}

// wsSession is one downstream client connection. Outbound writes are
// serialized through the send channel and a single writer goroutine; the
// queue is bounded, and a session that overflows it is disconnected rather
// than allowed to accumulate unbounded pending writes.
type wsSession struct {
	id     string
	conn   *websocket.Conn
	server *Server
	log    *logger.Log

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// newSessionID generates the 16-hex-character session identifier.
func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; at that point a timestamp id is the best we can do.
		return hex.EncodeToString([]byte(time.Now().Format("15040506")))
	}
	return hex.EncodeToString(b[:])
}

func newWsSession(conn *websocket.Conn, server *Server, sendBuffer int) *wsSession {
	return &wsSession{
		id:     newSessionID(),
		conn:   conn,
		server: server,
		log:    logger.GetLogger(),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *wsSession) ID() string {
	return s.id
}

// Send enqueues without blocking. A full queue means the client cannot
// keep up with the broadcast rate; the session is closed so it cannot
// stall anyone else.
func (s *wsSession) Send(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- payload:
		return true
	case <-s.done:
		return false
	default:
		s.log.WithComponent("session").WithFields(logger.Fields{"session_id": s.id}).Warn("outbound queue full, disconnecting slow client")
		s.Close()
		return false
	}
}

// Close shuts the session down and notifies the server exactly once,
// regardless of whether closure was client-initiated, server-initiated or
// caused by a transport error.
func (s *wsSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.server.onClose(s)
	})
}

// readPump consumes client control messages until the connection drops,
// then tears the session down.
func (s *wsSession) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithComponent("session").WithFields(logger.Fields{"session_id": s.id}).WithError(err).Debug("read failed")
			}
			return
		}
		s.server.onMessage(s, message)
	}
}

// writePump drains the outbound queue onto the connection and keeps the
// client alive with pings. It is the only goroutine that writes to the
// transport.
func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.WithComponent("session").WithFields(logger.Fields{"session_id": s.id}).WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
