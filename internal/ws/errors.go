package ws

import "errors"

// Error taxonomy for the relay. Per-connection errors (join, publish,
// protocol violations) are reported to the offending connection only;
// broker availability is surfaced through RedisBroker.Health.
var (
	ErrJoinFailed        = errors.New("join failed")
	ErrNotJoined         = errors.New("not joined to room")
	ErrPublishFailed     = errors.New("publish failed")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrConnClosed        = errors.New("connection closed")
)
