// Package gateway is the WebSocket front door: it accepts chat messages
// from web clients, routes them into the runner, and streams agent events
// back out. A client disconnect never aborts an in-flight cycle; the
// result lands in the session and delivery is simply suppressed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/internal/observability"
	"github.com/aide-ai/aide/pkg/runner"
	"github.com/aide-ai/aide/pkg/session"
)

// Config holds server configuration. The runner is wired separately via
// SetRunner because it needs the server's broadcaster as its emitter.
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Store        *session.Store
	Logger       zerolog.Logger
}

// Server is the gateway server.
type Server struct {
	host         string
	port         int
	sharedSecret string
	server       *http.Server
	upgrader     websocket.Upgrader
	clients      *ClientRegistry
	broadcaster  *EventBroadcaster
	runner       *runner.Runner
	store        *session.Store
	logger       zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlight       sync.WaitGroup
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}

	clients := NewClientRegistry()

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		clients:      clients,
		broadcaster:  NewEventBroadcaster(clients, cfg.Logger),
		store:        cfg.Store,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	return s, nil
}

// Broadcaster exposes the event fan-out so the runner can be wired to it.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// SetRunner installs the runner that chat messages dispatch through. The
// runner must use this server's broadcaster as its emitter, otherwise
// clients never see agent events.
func (s *Server) SetRunner(r *runner.Runner) {
	s.runner = r
}

// Runner returns the installed runner.
func (s *Server) Runner() *runner.Runner {
	return s.runner
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	if s.runner == nil {
		return errors.New("no runner wired; call SetRunner before Start")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: mux,
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server, waiting for in-flight cycles.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.broadcaster.Stop()

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	if s.sharedSecret != "" && r.URL.Query().Get("token") != s.sharedSecret {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}

		s.clients.UpdateActivity(client.ID)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.WriteJSON(EventMessage{
				Type:      "error",
				Error:     "invalid message format",
				Timestamp: time.Now().UnixMilli(),
			})
			continue
		}

		s.routeMessage(client, msg)
	}
}

func (s *Server) routeMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case MsgPing:
		client.WriteJSON(EventMessage{Type: "pong", Timestamp: time.Now().UnixMilli()})

	case MsgChat:
		if msg.SessionID == "" || msg.Content == "" {
			client.WriteJSON(EventMessage{
				Type:      "error",
				Error:     "message requires session_id and content",
				Timestamp: time.Now().UnixMilli(),
			})
			return
		}
		client.BindSession(msg.SessionID)
		s.inFlight.Add(1)
		go s.dispatch(msg)

	case MsgReset:
		s.resetSession(client, msg.SessionID)

	case MsgStatus:
		s.reportStatus(client, msg.SessionID)

	default:
		client.WriteJSON(EventMessage{
			Type:      "error",
			Error:     fmt.Sprintf("unknown message type: %s", msg.Type),
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// dispatch runs one agent cycle. The cycle owns its own context: a client
// disconnect must not cancel an invocation already under way.
func (s *Server) dispatch(msg ClientMessage) {
	defer s.inFlight.Done()

	_, err := s.runner.Run(context.Background(), runner.RunRequest{
		SessionID:   msg.SessionID,
		Input:       msg.Content,
		ForcedAgent: msg.Agent,
	})
	if err != nil {
		// Failure events reach clients through the runner's emitter; lock
		// contention and policy rejections are reported here.
		if errors.Is(err, session.ErrSessionBusy) || errors.Is(err, session.ErrTimeout) ||
			errors.Is(err, runner.ErrSessionCompleted) {
			s.broadcaster.Emit(runner.Event{
				Type:      "error",
				SessionID: msg.SessionID,
				Error:     err.Error(),
			})
		}
		s.logger.Error().
			Err(err).
			Str("session_id", msg.SessionID).
			Msg("Run cycle failed")
	}
}

func (s *Server) resetSession(client *Client, sessionID string) {
	if sessionID == "" {
		return
	}

	guard, err := s.store.Acquire(context.Background(), sessionID)
	if err != nil {
		client.WriteJSON(EventMessage{
			Type:      "error",
			SessionID: sessionID,
			Error:     err.Error(),
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}
	guard.Reset()
	guard.Release()

	client.WriteJSON(EventMessage{
		Type:      "status",
		SessionID: sessionID,
		Content:   "session reset",
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) reportStatus(client *Client, sessionID string) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		client.WriteJSON(EventMessage{
			Type:      "error",
			SessionID: sessionID,
			Error:     err.Error(),
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	client.WriteJSON(EventMessage{
		Type:      "status",
		SessionID: sessionID,
		Content:   string(sess.Status),
		Ready:     runner.ReadyForGeneration(sess.AgentState),
		Timestamp: time.Now().UnixMilli(),
	})
}
