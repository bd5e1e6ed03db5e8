// Package protocol defines the WebSocket message protocol between
// clients and the event channel.
package protocol

import "encoding/json"

// Message types from client to server
const (
	TypeHello       = "hello"
	TypeChatMessage = "chat_message"
	TypePing        = "ping"
)

// BaseMessage contains common fields for all inbound messages.
type BaseMessage struct {
	Type     string `json:"type"`
	Ts       int64  `json:"ts,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

// HelloMessage binds a connection to a validated identity and thread.
// Authentication happens upstream; the identity bundle is trusted here.
type HelloMessage struct {
	BaseMessage
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// ChatMessage triggers a pipeline run for the bound user and thread.
type ChatMessage struct {
	BaseMessage
	Text  string `json:"text"`
	RunID string `json:"run_id,omitempty"`
}

// PingMessage elicits a pong event.
type PingMessage struct {
	BaseMessage
}

// PongPayload is the payload of a pong event.
type PongPayload struct {
	Ts int64 `json:"ts"`
}

// ConnectionEstablishedPayload acknowledges a hello handshake.
type ConnectionEstablishedPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

// EchoPayload carries an unrecognized inbound message back unchanged.
type EchoPayload struct {
	Received json.RawMessage `json:"received"`
}
