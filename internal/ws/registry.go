package ws

import (
	"context"
	"sync"

	"github.com/rs/xid"

	"log/slog"
	"realtime-chat/pkg/metrics"
)

// roomLeaver is the slice of the router the registry needs for teardown.
type roomLeaver interface {
	LeaveAll(ctx context.Context, connID string)
}

// Registry is the single source of truth for which connections exist.
// Room membership lives in the Router; the registry only maps ids to
// transport handles and owns the disconnect path.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[string]Transport

	rooms roomLeaver
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log, conns: map[string]Transport{}}
}

// BindRouter wires the leave path. Must be called before connections are
// accepted; kept separate because Registry and Router reference each other.
func (r *Registry) BindRouter(rooms roomLeaver) { r.rooms = rooms }

// Register stores the transport under a fresh id. Never fails.
func (r *Registry) Register(t Transport) string {
	id := xid.New().String()
	r.mu.Lock()
	r.conns[id] = t
	n := len(r.conns)
	r.mu.Unlock()

	metrics.ActiveConnections.Inc()
	r.log.Debug("registry.register", "conn", id, "total", n)
	return id
}

// Unregister removes the connection, leaves every room it was joined to,
// then closes the transport. Idempotent: a second call for the same id is
// a no-op, which absorbs duplicate disconnect events.
func (r *Registry) Unregister(ctx context.Context, connID string) {
	r.mu.Lock()
	t, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	n := len(r.conns)
	r.mu.Unlock()

	r.rooms.LeaveAll(ctx, connID)
	_ = t.Close()

	metrics.ActiveConnections.Dec()
	r.log.Debug("registry.unregister", "conn", connID, "total", n)
}

// Send delivers best-effort to one connection. A dead transport degrades
// to unregister instead of surfacing the error, so one broken connection
// never halts fan-out to the rest of a room.
func (r *Registry) Send(ctx context.Context, connID string, payload []byte) {
	r.mu.RLock()
	t, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := t.Send(payload); err != nil {
		r.log.Debug("registry.send.dead", "conn", connID, "err", err)
		r.Unregister(ctx, connID)
	}
}

// Connected reports whether the id is live. Used by tests and handlers.
func (r *Registry) Connected(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}
