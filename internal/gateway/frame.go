package gateway

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire format exchanged with clients in both directions: a named event with an opaque JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame serialises an event frame with the given payload.
func NewFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return NewRawFrame(event, raw)
}

// NewRawFrame serialises an event frame around an already-encoded payload.
func NewRawFrame(event string, data json.RawMessage) ([]byte, error) {
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return frame, nil
}

// errorData is the payload of an error frame.
type errorData struct {
	Message string `json:"message"`
}

// NewErrorFrame serialises an error frame. The payload shape is fixed, so serialisation cannot fail.
func NewErrorFrame(message string) []byte {
	frame, _ := NewFrame(EventError, errorData{Message: message})
	return frame
}

// connectedData is the greeting sent on accept: the assigned socket id and the authentication deadline hint in
// milliseconds.
type connectedData struct {
	SocketID    string `json:"socketId"`
	AuthTimeout int64  `json:"authTimeout"`
}

// authenticatedData confirms a successful authenticate with the effective room list.
type authenticatedData struct {
	UserID int64    `json:"userId"`
	Role   string   `json:"role"`
	Rooms  []string `json:"rooms"`
}

// presenceData is the payload of user:online and user:offline events.
type presenceData struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

// pongData carries the server timestamp in a pong reply.
type pongData struct {
	Time int64 `json:"time"`
}

// Client payload shapes.
type authenticatePayload struct {
	Token string `json:"token"`
}

type roomPayload struct {
	Room string `json:"room"`
}
