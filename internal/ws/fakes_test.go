package ws

import (
	"context"
	"errors"
	"io"
	"sync"

	"log/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter wires a registry + router over a fake broker.
func newTestRouter(b Broker) (*Registry, *Router) {
	reg := NewRegistry(testLogger())
	router := NewRouter(testLogger(), b, reg)
	reg.BindRouter(router)
	return reg, router
}

// fakeBroker records subscriptions and publishes; Deliver simulates the
// broker echoing a published message back to the local handler.
type fakeBroker struct {
	mu            sync.Mutex
	handlers      map[string]Handler
	published     map[string][][]byte
	failSubscribe bool

	// stallOn parks Subscribe for that one channel: it signals
	// stallEntered, then waits for stallRelease before completing.
	// Models a slow broker round trip.
	stallOn      string
	stallEntered chan struct{}
	stallRelease chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  map[string]Handler{},
		published: map[string][][]byte{},
	}
}

// stallSubscribe arms the stall for one channel's next Subscribe.
func (b *fakeBroker) stallSubscribe(channel string) (entered <-chan struct{}, release chan<- struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stallOn = channel
	b.stallEntered = make(chan struct{})
	b.stallRelease = make(chan struct{})
	return b.stallEntered, b.stallRelease
}

func (b *fakeBroker) Subscribe(_ context.Context, channel string, h Handler) error {
	b.mu.Lock()
	stalled := b.stallOn == channel
	entered, release := b.stallEntered, b.stallRelease
	if stalled {
		// one-shot: only the next Subscribe for the channel stalls
		b.stallOn = ""
	}
	b.mu.Unlock()

	if stalled {
		entered <- struct{}{}
		<-release
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubscribe {
		return errors.New("broker unreachable")
	}
	b.handlers[channel] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, channel)
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBroker) Health() string { return StatusReady }

func (b *fakeBroker) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[channel]
	return ok
}

// Deliver invokes the registered handler as the real broker would.
func (b *fakeBroker) Deliver(ctx context.Context, channel string, payload []byte) {
	b.mu.Lock()
	h := b.handlers[channel]
	b.mu.Unlock()
	if h != nil {
		h(ctx, channel, payload)
	}
}

// fakeTransport captures sent payloads; dead transports report
// ErrConnClosed like a closed websocket.
type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	dead   bool
	closed bool
}

func (t *fakeTransport) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return ErrConnClosed
	}
	t.sent = append(t.sent, p)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) received() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}
