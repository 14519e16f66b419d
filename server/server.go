package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"deriflow/config"
	"deriflow/logger"
	"deriflow/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const defaultWelcome = "Welcome to Deriflow WebSocket Server"

// Server accepts downstream connections and routes broadcast payloads to
// the sessions subscribed to the relevant instrument. Session objects live
// only in the client table; the subscription registry references them by
// identifier.
type Server struct {
	cfg config.ServerConfig
	log *logger.Log

	registry *Registry

	clientsMu sync.RWMutex
	clients   map[string]Session

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
}

// NewServer builds a broadcast server from configuration.
func NewServer(cfg config.ServerConfig) *Server {
	if cfg.Welcome == "" {
		cfg.Welcome = defaultWelcome
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Server{
		cfg:      cfg,
		log:      logger.GetLogger(),
		registry: NewRegistry(),
		clients:  make(map[string]Session),
	}
}

// Start launches the accept loop. Calling Start on a running server is a
// no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", s.handleWebSocket)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.ClientCount()})
	})

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}
	s.running = true

	log := s.log.WithComponent("broadcast_server").WithFields(logger.Fields{"address": s.cfg.Address})
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped unexpectedly")
		}
	}()

	log.Info("broadcast server started")
	return nil
}

// Stop closes every live session, then tears down the accept loop. Safe
// to call repeatedly and from any goroutine.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	httpServer := s.httpServer
	s.mu.Unlock()

	log := s.log.WithComponent("broadcast_server")
	log.Info("stopping broadcast server")

	s.clientsMu.RLock()
	sessions := make([]Session, 0, len(s.clients))
	for _, session := range s.clients {
		sessions = append(sessions, session)
	}
	s.clientsMu.RUnlock()

	for _, session := range sessions {
		session.Close()
	}

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("http shutdown failed")
		}
	}

	log.Info("broadcast server stopped")
}

// Running reports whether the accept loop is up.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ClientCount returns the number of live sessions.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("broadcast_server").WithError(err).Warn("websocket upgrade failed")
		return
	}

	session := newWsSession(conn, s, s.cfg.SendBuffer)
	s.onAccept(session)

	go session.writePump()
	go session.readPump()
}

// onAccept registers the session and greets the client.
func (s *Server) onAccept(session Session) {
	s.clientsMu.Lock()
	s.clients[session.ID()] = session
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.log.WithComponent("broadcast_server").WithFields(logger.Fields{
		"session_id": session.ID(),
		"clients":    count,
	}).Info("client connected")

	s.sendJSON(session, models.WelcomeMessage{Type: models.MsgTypeWelcome, Message: s.cfg.Welcome})
}

// onMessage handles one client control message. Only subscribe and
// unsubscribe are recognized; anything else earns an error reply, never a
// dropped session.
func (s *Server) onMessage(session Session, message []byte) {
	var cmd models.ClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.sendJSON(session, models.ErrorMessage{Type: models.MsgTypeError, Message: "Unknown command"})
		return
	}

	switch {
	case cmd.Type == models.MsgTypeSubscribe && cmd.Instrument != "":
		s.Subscribe(session, cmd.Instrument)
	case cmd.Type == models.MsgTypeUnsubscribe && cmd.Instrument != "":
		s.Unsubscribe(session, cmd.Instrument)
	default:
		s.sendJSON(session, models.ErrorMessage{Type: models.MsgTypeError, Message: "Unknown command"})
	}
}

// Subscribe registers the session for an instrument and confirms.
func (s *Server) Subscribe(session Session, instrument string) {
	s.registry.Add(session.ID(), instrument)

	s.log.WithComponent("broadcast_server").WithFields(logger.Fields{
		"session_id": session.ID(),
		"instrument": instrument,
	}).Info("client subscribed")

	s.sendJSON(session, models.SubscriptionMessage{
		Type:       models.MsgTypeSubscription,
		Instrument: instrument,
		Status:     models.StatusSubscribed,
	})
}

// Unsubscribe removes the registration and confirms regardless of whether
// the session was subscribed.
func (s *Server) Unsubscribe(session Session, instrument string) {
	s.registry.Remove(session.ID(), instrument)

	s.log.WithComponent("broadcast_server").WithFields(logger.Fields{
		"session_id": session.ID(),
		"instrument": instrument,
	}).Info("client unsubscribed")

	s.sendJSON(session, models.SubscriptionMessage{
		Type:       models.MsgTypeSubscription,
		Instrument: instrument,
		Status:     models.StatusUnsubscribed,
	})
}

// Subscriptions returns the instruments the session is subscribed to.
func (s *Server) Subscriptions(session Session) []string {
	return s.registry.Subscriptions(session.ID())
}

// onClose removes every subscription of the session in one batched update,
// then removes it from the client table. Sessions guarantee this runs
// exactly once per connection.
func (s *Server) onClose(session Session) {
	removed := s.registry.RemoveAll(session.ID())

	s.clientsMu.Lock()
	delete(s.clients, session.ID())
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.log.WithComponent("broadcast_server").WithFields(logger.Fields{
		"session_id":    session.ID(),
		"subscriptions": len(removed),
		"clients":       count,
	}).Info("client disconnected")
}

// BroadcastToSubscribers snapshots the subscriber set for the instrument,
// resolves each identifier against the live client table and enqueues the
// payload. Sessions that raced a concurrent close are skipped silently.
func (s *Server) BroadcastToSubscribers(instrument string, payload []byte) {
	clientIDs := s.registry.Subscribers(instrument)
	if len(clientIDs) == 0 {
		return
	}

	s.clientsMu.RLock()
	sessions := make([]Session, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		if session, ok := s.clients[clientID]; ok {
			sessions = append(sessions, session)
		}
	}
	s.clientsMu.RUnlock()

	for _, session := range sessions {
		if session.Send(payload) {
			logger.IncrementBroadcast(len(payload))
		} else {
			logger.IncrementBroadcastDrop()
		}
	}
}

// BroadcastToAll enqueues the payload on every live session.
func (s *Server) BroadcastToAll(payload []byte) {
	s.clientsMu.RLock()
	sessions := make([]Session, 0, len(s.clients))
	for _, session := range s.clients {
		sessions = append(sessions, session)
	}
	s.clientsMu.RUnlock()

	for _, session := range sessions {
		if session.Send(payload) {
			logger.IncrementBroadcast(len(payload))
		} else {
			logger.IncrementBroadcastDrop()
		}
	}
}

// BroadcastOrderbook routes a serialized book snapshot to the instrument's
// subscribers.
func (s *Server) BroadcastOrderbook(instrument string, payload []byte) {
	s.BroadcastToSubscribers(instrument, payload)
}

func (s *Server) sendJSON(session Session, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.WithComponent("broadcast_server").WithError(err).Warn("failed to marshal reply")
		return
	}
	if !session.Send(data) {
		logger.IncrementBroadcastDrop()
	}
}
