// Package ws provides the WebSocket event channel for client connections.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/optiqlabs/optiq/internal/config"
	"github.com/optiqlabs/optiq/internal/domain"
	"github.com/optiqlabs/optiq/internal/hub"
	"github.com/optiqlabs/optiq/internal/protocol"
)

// Runner starts a pipeline run for one chat message.
type Runner interface {
	Run(ctx context.Context, userRequest, threadID, userID, runID string) (*domain.RequestState, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	runner   Runner
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, runner Runner) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		runner: runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
// Malformed input yields an error event; unrecognized types are echoed
// back unchanged.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendEvent(conn, domain.EventTypeError, domain.ErrorPayload{
			Code:    "invalid_message",
			Message: "invalid JSON message",
		})
		return
	}

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(conn, data)
	case protocol.TypeChatMessage:
		s.handleChatMessage(conn, data)
	case protocol.TypePing:
		s.sendEvent(conn, domain.EventTypePong, protocol.PongPayload{Ts: time.Now().UnixMilli()})
	default:
		s.sendEvent(conn, domain.EventTypeEcho, protocol.EchoPayload{Received: data})
	}
}

// handleHello binds the connection to a validated identity and thread.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendEvent(conn, domain.EventTypeError, domain.ErrorPayload{
			Code:    "invalid_message",
			Message: "invalid hello message",
		})
		return
	}
	if msg.UserID == "" {
		s.sendEvent(conn, domain.EventTypeError, domain.ErrorPayload{
			Code:    "invalid_message",
			Message: "user_id is required",
		})
		return
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = "thr_" + uuid.New().String()[:8]
	}

	conn.UserID = msg.UserID
	s.hub.BindThread(conn, threadID)

	s.sendEvent(conn, domain.EventTypeConnectionEstablished, protocol.ConnectionEstablishedPayload{
		ThreadID: threadID,
		UserID:   msg.UserID,
	})

	log.Printf("Hello handshake completed for thread: %s", threadID)
}

// handleChatMessage starts a pipeline run for the bound user and thread.
func (s *Server) handleChatMessage(conn *hub.Connection, data []byte) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendEvent(conn, domain.EventTypeError, domain.ErrorPayload{
			Code:    "invalid_message",
			Message: "invalid chat_message",
		})
		return
	}

	if conn.ThreadID == "" || conn.UserID == "" {
		s.sendEvent(conn, domain.EventTypeError, domain.ErrorPayload{
			Code:    "thread_required",
			Message: "must send hello first",
		})
		return
	}
	if msg.Text == "" {
		s.sendEvent(conn, domain.EventTypeError, domain.ErrorPayload{
			Code:    "invalid_message",
			Message: "text is required",
		})
		return
	}

	runID := msg.RunID
	if runID == "" {
		runID = "run_" + uuid.New().String()[:8]
	}
	threadID := conn.ThreadID
	userID := conn.UserID

	// Run asynchronously; lifecycle events reach the client via the hub.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
		defer cancel()

		if _, err := s.runner.Run(ctx, msg.Text, threadID, userID, runID); err != nil {
			log.Printf("Run failed: run_id=%s: %v", runID, err)
			return
		}
		log.Printf("Run completed: run_id=%s", runID)
	}()
}

// sendEvent sends an auxiliary event directly to one connection.
func (s *Server) sendEvent(conn *hub.Connection, typ domain.EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: failed to marshal %s payload: %v", typ, err)
		return
	}
	event := domain.Event{
		EventID:  "evt_" + uuid.New().String()[:8],
		ThreadID: conn.ThreadID,
		Ts:       time.Now().UnixMilli(),
		Type:     typ,
		Payload:  raw,
	}
	if err := s.hub.SendJSONToConnection(conn, event); err != nil {
		log.Printf("WARN: failed to send %s event: %v", typ, err)
	}
}
