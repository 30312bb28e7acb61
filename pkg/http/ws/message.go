package ws

import "encoding/json"

// MessageType constants for the state-stream protocol.
const (
	// Server -> Client
	TypeState      = "state"      // full game snapshot
	TypeConnection = "connection" // backend connectivity changed
	TypeError      = "error"      // terminal stream error

	// Bidirectional keepalive
	TypePing = "ping"
	TypePong = "pong"
)

// Message wraps every frame on the wire with its type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionPayload reports backend connectivity to stream consumers.
type ConnectionPayload struct {
	IsConnected bool   `json:"isConnected"`
	Quality     string `json:"quality,omitempty"`
}

// ErrorPayload carries a terminal error with display guidance.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// StateMessage builds a snapshot frame from an already-encoded game state.
func StateMessage(state json.RawMessage) Message {
	return Message{Type: TypeState, Payload: state}
}

// ConnectionMessage builds a connectivity frame.
func ConnectionMessage(connected bool, quality string) Message {
	p, _ := json.Marshal(ConnectionPayload{IsConnected: connected, Quality: quality})
	return Message{Type: TypeConnection, Payload: p}
}

// ErrorMessage builds a terminal error frame.
func ErrorMessage(code, message, action string) Message {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: message, Action: action})
	return Message{Type: TypeError, Payload: p}
}
