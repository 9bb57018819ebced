package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"log/slog"
	"realtime-chat/internal/app"
	"realtime-chat/pkg/metrics"
)

// Handler is invoked for every message delivered on a subscribed channel.
type Handler func(ctx context.Context, channel string, payload []byte)

// Broker abstracts the pub/sub bus so the router can be exercised against
// an in-memory fake in tests.
type Broker interface {
	Subscribe(ctx context.Context, channel string, h Handler) error
	Unsubscribe(ctx context.Context, channel string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Health() string
}

// Broker health states, reported via /readyz.
const (
	StatusReady        = "ready"
	StatusReconnecting = "reconnecting"
	StatusDown         = "down"
)

// messageBus is the slice of the redis client the broker machinery
// touches, carved out so the reconnect path can be driven in tests
// without a server.
type messageBus interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, channel string, payload []byte) error
	// Dial opens a fresh receive connection subscribed to channels.
	Dial(ctx context.Context, channels ...string) busConn
	Close() error
}

// busConn is one receive connection to the bus.
type busConn interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	// ReceiveMessage blocks for the next delivery; an error means the
	// connection is broken and a new one must be dialed.
	ReceiveMessage(ctx context.Context) (channel string, payload []byte, err error)
	Close() error
}

// RedisBroker carries a handler table keyed by channel. The table is the
// single source of truth for what must be resubscribed after a reconnect;
// no registration is lost when the bus connection drops.
type RedisBroker struct {
	bus messageBus
	log *slog.Logger

	backoffBase time.Duration
	backoffMax  time.Duration
	maxRetries  int

	mu       sync.Mutex
	handlers map[string]Handler
	pubsub   busConn

	status atomic.Int32 // 0 ready, 1 reconnecting, 2 down
}

// NewRedisBroker connects to redis, verifies connectivity and starts the
// receive loop. The loop owns reconnection; it stops when ctx is cancelled.
func NewRedisBroker(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisBroker, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	bus := redisBus{rdb: redis.NewClient(opts)}
	if err := bus.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return startBroker(ctx, bus, cfg, log), nil
}

// startBroker wires the receive loop over an already-verified bus.
func startBroker(ctx context.Context, bus messageBus, cfg app.Config, log *slog.Logger) *RedisBroker {
	b := &RedisBroker{
		bus:         bus,
		log:         log,
		backoffBase: cfg.BrokerBackoffBase,
		backoffMax:  cfg.BrokerBackoffMax,
		maxRetries:  cfg.BrokerMaxRetries,
		handlers:    map[string]Handler{},
		pubsub:      bus.Dial(ctx), // no channels yet
	}
	go b.run(ctx)
	return b
}

// Subscribe registers h for channel. Idempotent: a second subscribe to the
// same channel replaces the handler without issuing another SUBSCRIBE.
//
// During an outage the handler is still recorded and the wire
// subscription is deferred to the reconnect path, so membership stays a
// local fact while the broker is away. Only the terminal down state
// refuses new subscriptions.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, h Handler) error {
	if b.status.Load() == 2 {
		return fmt.Errorf("subscribe %s: %w", channel, ErrBrokerUnavailable)
	}

	b.mu.Lock()
	_, exists := b.handlers[channel]
	b.handlers[channel] = h
	ps := b.pubsub
	b.mu.Unlock()

	if exists {
		return nil
	}
	if err := ps.Subscribe(ctx, channel); err != nil {
		b.log.Warn("broker.subscribe.deferred", "channel", channel, "err", err)
	}
	return nil
}

// Unsubscribe drops the handler and the underlying subscription.
// Safe to call for a channel that was never subscribed.
func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	if _, exists := b.handlers[channel]; !exists {
		b.mu.Unlock()
		return nil
	}
	delete(b.handlers, channel)
	ps := b.pubsub
	b.mu.Unlock()

	// Handler is gone either way; a failed UNSUBSCRIBE just means the
	// connection is down and the channel won't be resubscribed.
	return ps.Unsubscribe(ctx, channel)
}

// Publish sends payload to channel. No buffering: when the bus is
// unreachable the caller gets ErrPublishFailed and decides what to do.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.bus.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublishFailed, channel, err)
	}
	return nil
}

// Health reports the broker connection state for readiness checks.
func (b *RedisBroker) Health() string {
	switch b.status.Load() {
	case 1:
		return StatusReconnecting
	case 2:
		return StatusDown
	default:
		return StatusReady
	}
}

// Close tears down the receive connection and the client.
func (b *RedisBroker) Close() {
	b.mu.Lock()
	ps := b.pubsub
	b.mu.Unlock()
	_ = ps.Close()
	_ = b.bus.Close()
}

// run receives messages and dispatches them to the handler table. Handlers
// are invoked from this single goroutine, so per-channel delivery order
// matches bus publish order.
func (b *RedisBroker) run(ctx context.Context) {
	for {
		b.mu.Lock()
		ps := b.pubsub
		b.mu.Unlock()

		channel, payload, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !b.reconnect(ctx) {
				return
			}
			continue
		}

		b.mu.Lock()
		h := b.handlers[channel]
		b.mu.Unlock()
		if h != nil {
			h(ctx, channel, payload)
		}
	}
}

// reconnect walks disconnected -> backoff -> connecting -> resubscribing
// -> ready. Resubscription is driven from the handler table, so every
// channel with a live local handler resumes before new traffic dispatches.
// Returns false once the retry budget is exhausted (status goes down) or
// ctx is cancelled mid-backoff.
func (b *RedisBroker) reconnect(ctx context.Context) bool {
	b.status.Store(1)
	metrics.BrokerReconnects.Inc()
	wait := b.backoffBase

	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}

		b.log.Info("broker.reconnect.attempt", "attempt", attempt, "wait", wait)

		if err := b.bus.Ping(ctx); err != nil {
			wait = nextBackoff(wait, b.backoffMax)
			continue
		}

		b.mu.Lock()
		channels := make([]string, 0, len(b.handlers))
		for ch := range b.handlers {
			channels = append(channels, ch)
		}
		old := b.pubsub
		b.pubsub = b.bus.Dial(ctx, channels...)
		b.mu.Unlock()
		_ = old.Close()

		b.status.Store(0)
		b.log.Info("broker.reconnect.ok", "channels", len(channels))
		return true
	}

	b.status.Store(2)
	b.log.Error("broker.down", "attempts", b.maxRetries)
	return false
}

// nextBackoff doubles the wait up to the cap.
func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// redisBus adapts go-redis to the messageBus surface.
type redisBus struct {
	rdb *redis.Client
}

func (r redisBus) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r redisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

func (r redisBus) Dial(ctx context.Context, channels ...string) busConn {
	return redisConn{ps: r.rdb.Subscribe(ctx, channels...)}
}

func (r redisBus) Close() error { return r.rdb.Close() }

type redisConn struct {
	ps *redis.PubSub
}

func (c redisConn) Subscribe(ctx context.Context, channels ...string) error {
	return c.ps.Subscribe(ctx, channels...)
}

func (c redisConn) Unsubscribe(ctx context.Context, channels ...string) error {
	return c.ps.Unsubscribe(ctx, channels...)
}

func (c redisConn) ReceiveMessage(ctx context.Context) (string, []byte, error) {
	msg, err := c.ps.ReceiveMessage(ctx)
	if err != nil {
		return "", nil, err
	}
	return msg.Channel, []byte(msg.Payload), nil
}

func (c redisConn) Close() error { return c.ps.Close() }
