package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"log/slog"
	"realtime-chat/pkg/auth"
	"realtime-chat/pkg/metrics"
)

// Relay bridges client connections and the broker. Each connection is
// driven by its own read loop, so events from one connection are handled
// in arrival order while connections stay independent of each other.
type Relay struct {
	log   *slog.Logger
	reg   *Registry
	rooms *Router
}

func NewRelay(log *slog.Logger, reg *Registry, rooms *Router) *Relay {
	return &Relay{log: log, reg: reg, rooms: rooms}
}

// ServeWS handles a new /ws connection. Identity comes from the auth
// middleware when a token was presented; anonymous connections fall back
// to their connection id as sender.
func (rl *Relay) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sock, err := Accept(w, r)
	if err != nil {
		rl.log.Error("ws.accept", "err", err)
		return
	}

	c := NewConn(sock)
	connID := rl.reg.Register(c)

	sender := auth.UserID(ctx)
	if sender == "anon" || sender == "" {
		sender = connID
	}

	go c.WriteLoop(ctx)
	_ = c.Send(encodeWelcome(connID))
	rl.log.Info("relay.connect", "conn", connID, "sender", sender)

	for {
		payload, ok := c.Read(ctx)
		if !ok {
			break
		}
		rl.handleFrame(ctx, connID, sender, c, payload)
	}

	// Only teardown path: runs once whether the client closed, the
	// transport errored, or the server is shutting down. Unregister
	// leaves every room and closes the transport.
	rl.reg.Unregister(ctx, connID)
	rl.log.Info("relay.disconnect", "conn", connID)
}

func (rl *Relay) handleFrame(ctx context.Context, connID, sender string, c Transport, payload []byte) {
	var f ClientFrame
	if err := json.Unmarshal(payload, &f); err != nil || f.Room == "" {
		_ = c.Send(encodeError(codeBadFrame, "malformed frame"))
		return
	}

	switch f.Type {
	case frameJoin:
		if err := rl.rooms.Join(ctx, connID, f.Room); err != nil {
			rl.log.Warn("relay.join", "conn", connID, "room", f.Room, "err", err)
			_ = c.Send(encodeError(codeJoinFailed, "could not join "+f.Room))
		}

	case frameLeave:
		rl.rooms.Leave(ctx, connID, f.Room)

	case frameMessage:
		if !rl.rooms.Joined(connID, f.Room) {
			_ = c.Send(encodeError(codeNotJoined, "join "+f.Room+" first"))
			return
		}
		raw, _ := json.Marshal(MessageFrame{
			Type:      frameMessage,
			ID:        uuid.NewString(),
			Room:      f.Room,
			Sender:    sender,
			Body:      f.Body,
			Timestamp: time.Now().UTC(),
		})
		if err := rl.rooms.Publish(ctx, f.Room, raw); err != nil {
			rl.log.Warn("relay.publish", "conn", connID, "room", f.Room, "err", err)
			_ = c.Send(encodeError(codePublishFailed, "message not delivered"))
			return
		}
		metrics.MessagesRelayed.Inc()

	default:
		_ = c.Send(encodeError(codeBadFrame, "unknown frame type"))
	}
}
