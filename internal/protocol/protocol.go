// Package protocol defines the JSON message envelopes exchanged over
// terminal WebSocket connections.
package protocol

import "encoding/json"

// MessageType discriminates the message envelope.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeInput  MessageType = "input"
	MessageTypeResize MessageType = "resize"
	MessageTypePing   MessageType = "ping"

	// Server -> Client message types
	MessageTypeConnected MessageType = "connected"
	MessageTypeData      MessageType = "data"
	MessageTypeError     MessageType = "error"
	MessageTypePong      MessageType = "pong"
)

// Message is the envelope for all WebSocket traffic. Fields are populated
// according to Type; unknown types are ignored by the receiver.
type Message struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
	Cols uint16      `json:"cols,omitempty"`
	Rows uint16      `json:"rows,omitempty"`
}

// Connected is the handshake acknowledgement sent to a newly attached client.
func Connected() []byte {
	return mustMarshal(Message{Type: MessageTypeConnected})
}

// Data wraps a chunk of raw process output.
func Data(chunk []byte) []byte {
	return mustMarshal(Message{Type: MessageTypeData, Data: string(chunk)})
}

// Error wraps a human-readable error message, sent before a forced close.
func Error(msg string) []byte {
	return mustMarshal(Message{Type: MessageTypeError, Data: msg})
}

// Pong answers a client ping.
func Pong() []byte {
	return mustMarshal(Message{Type: MessageTypePong})
}

// Message values contain only strings and integers; marshalling cannot fail.
func mustMarshal(m Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return data
}
