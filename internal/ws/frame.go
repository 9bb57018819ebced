package ws

import (
	"encoding/json"
	"time"
)

// Client frame types.
const (
	frameJoin    = "join"
	frameLeave   = "leave"
	frameMessage = "message"
)

// Error codes sent to clients.
const (
	codeBadFrame      = "bad_frame"
	codeJoinFailed    = "join_failed"
	codeNotJoined     = "not_joined"
	codePublishFailed = "publish_failed"
)

// ClientFrame is what clients send: join/leave carry a room,
// message carries a room + body.
type ClientFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Body string `json:"body,omitempty"`
}

// MessageFrame is a chat message as delivered to clients. It is built
// once by the publishing instance and fanned out read-only.
type MessageFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

type welcomeFrame struct {
	Type string `json:"type"`
	Conn string `json:"conn"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// encodeWelcome builds the ack sent right after a connection registers.
func encodeWelcome(connID string) []byte {
	raw, _ := json.Marshal(welcomeFrame{Type: "welcome", Conn: connID})
	return raw
}

func encodeError(code, msg string) []byte {
	raw, _ := json.Marshal(errorFrame{Type: "error", Code: code, Message: msg})
	return raw
}
