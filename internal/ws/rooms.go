package ws

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"log/slog"
)

// roomPrefix namespaces room channels on the broker.
const roomPrefix = "room:"

func channelFor(room string) string { return roomPrefix + room }

func roomFor(channel string) string { return strings.TrimPrefix(channel, roomPrefix) }

// roomEntry tracks one room's local members and the lifecycle of its
// broker subscription. ready is closed once the 0->1 subscribe resolves,
// with err recording the outcome; closing is non-nil while the 1->0
// unsubscribe is in flight, so a join arriving mid-teardown waits for it
// to finish instead of racing the unsubscribe.
type roomEntry struct {
	members map[string]struct{}
	ready   chan struct{}
	err     error
	closing chan struct{}
}

// Router owns room membership and the broker subscription lifecycle.
//
// Membership is kept in two maps (room -> entry and conn -> rooms) that
// are mutated together under one mutex, so neither side can dangle. The
// broker is subscribed to a room's channel iff the room has at least one
// local member. Broker subscribe/unsubscribe calls run with the mutex
// released; each room's entry serializes its own transitions through the
// ready/closing states, so a slow broker call for one room never blocks
// fan-out, joins or leaves on any other room.
type Router struct {
	log    *slog.Logger
	broker Broker
	reg    *Registry

	mu     sync.RWMutex
	byRoom map[string]*roomEntry
	byConn map[string]map[string]struct{}
}

func NewRouter(log *slog.Logger, broker Broker, reg *Registry) *Router {
	return &Router{
		log:    log,
		broker: broker,
		reg:    reg,
		byRoom: map[string]*roomEntry{},
		byConn: map[string]map[string]struct{}{},
	}
}

// Join adds the connection to the room. The first member subscribes the
// broker channel before the join is confirmed; members piling in while
// that subscribe is pending wait for the same outcome. On subscribe
// failure every pending member is rolled back and ErrJoinFailed is
// returned. Joining a room the connection is already in is a no-op
// success.
func (r *Router) Join(ctx context.Context, connID, room string) error {
	for {
		r.mu.Lock()
		if _, ok := r.byConn[connID][room]; ok {
			r.mu.Unlock()
			return nil
		}

		e := r.byRoom[room]
		if e != nil && e.closing != nil {
			// teardown in flight; wait for it, then start over
			done := e.closing
			r.mu.Unlock()
			<-done
			continue
		}

		creator := e == nil
		if creator {
			e = &roomEntry{members: map[string]struct{}{}, ready: make(chan struct{})}
			r.byRoom[room] = e
		}
		e.members[connID] = struct{}{}
		if r.byConn[connID] == nil {
			r.byConn[connID] = map[string]struct{}{}
		}
		r.byConn[connID][room] = struct{}{}
		r.mu.Unlock()

		if !creator {
			// first member's subscribe may still be pending
			<-e.ready
			if e.err != nil {
				return fmt.Errorf("%w: %s: %v", ErrJoinFailed, room, e.err)
			}
			r.log.Debug("rooms.join", "conn", connID, "room", room)
			return nil
		}

		err := r.broker.Subscribe(ctx, channelFor(room), r.onRoomMessage)

		r.mu.Lock()
		e.err = err
		close(e.ready)
		if err != nil {
			// roll back everyone who joined while the subscribe was pending
			for id := range e.members {
				delete(r.byConn[id], room)
				if len(r.byConn[id]) == 0 {
					delete(r.byConn, id)
				}
			}
			delete(r.byRoom, room)
			r.mu.Unlock()
			return fmt.Errorf("%w: %s: %v", ErrJoinFailed, room, err)
		}
		if len(e.members) == 0 {
			// every member left again before the subscribe resolved;
			// the creator is the one who tears the room back down
			r.teardown(ctx, room, e)
			return nil
		}
		members := len(e.members)
		r.mu.Unlock()

		r.log.Debug("rooms.join", "conn", connID, "room", room, "members", members)
		return nil
	}
}

// Leave removes the connection from the room. The last member out tears
// down the broker subscription and the room entry itself; a room with no
// members does not exist. Leaving a room not joined is a no-op.
func (r *Router) Leave(ctx context.Context, connID, room string) {
	r.mu.Lock()
	if _, ok := r.byConn[connID][room]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn[connID], room)
	if len(r.byConn[connID]) == 0 {
		delete(r.byConn, connID)
	}

	e := r.byRoom[room]
	delete(e.members, connID)

	pending := false
	select {
	case <-e.ready:
	default:
		// subscribe still in flight; its creator handles the
		// empty-room case once it resolves
		pending = true
	}

	if len(e.members) == 0 && !pending && e.closing == nil {
		r.teardown(ctx, room, e)
		r.log.Debug("rooms.leave", "conn", connID, "room", room)
		return
	}
	r.mu.Unlock()
	r.log.Debug("rooms.leave", "conn", connID, "room", room)
}

// LeaveAll runs the leave path for every room the connection is in.
// Called by the registry on disconnect.
func (r *Router) LeaveAll(ctx context.Context, connID string) {
	r.mu.RLock()
	rooms := make([]string, 0, len(r.byConn[connID]))
	for room := range r.byConn[connID] {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	for _, room := range rooms {
		r.Leave(ctx, connID, room)
	}
}

// teardown drops the empty room's broker subscription and removes the
// entry. Must be called with the mutex held and the member set empty;
// releases the mutex. The closing channel keeps concurrent joins parked
// until the unsubscribe has actually resolved, so a recreate cannot be
// cancelled by a stale unsubscribe.
func (r *Router) teardown(ctx context.Context, room string, e *roomEntry) {
	e.closing = make(chan struct{})
	r.mu.Unlock()

	if err := r.broker.Unsubscribe(ctx, channelFor(room)); err != nil {
		r.log.Warn("rooms.unsubscribe", "room", room, "err", err)
	}

	r.mu.Lock()
	delete(r.byRoom, room)
	close(e.closing)
	r.mu.Unlock()
}

// Publish sends a message to the room's broker channel. Membership is not
// required: publish and subscribe are independent rights.
func (r *Router) Publish(ctx context.Context, room string, payload []byte) error {
	return r.broker.Publish(ctx, channelFor(room), payload)
}

// Joined reports whether the connection is currently in the room.
func (r *Router) Joined(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[connID][room]
	return ok
}

// Rooms returns the rooms the connection is joined to.
func (r *Router) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byConn[connID]))
	for room := range r.byConn[connID] {
		out = append(out, room)
	}
	return out
}

// Members returns the current local member count of a room.
func (r *Router) Members(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.byRoom[room]
	if e == nil {
		return 0
	}
	return len(e.members)
}

// onRoomMessage is the broker-invoked fan-out: snapshot the member set,
// then send outside the lock. Connections joining or leaving mid-dispatch
// may or may not see the message; a dead connection is cleaned up by the
// registry without disturbing the rest.
func (r *Router) onRoomMessage(ctx context.Context, channel string, payload []byte) {
	room := roomFor(channel)

	r.mu.RLock()
	var members []string
	if e := r.byRoom[room]; e != nil {
		members = make([]string, 0, len(e.members))
		for connID := range e.members {
			members = append(members, connID)
		}
	}
	r.mu.RUnlock()

	for _, connID := range members {
		r.reg.Send(ctx, connID, payload)
	}
}
