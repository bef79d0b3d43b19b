// Package bus carries remote job requests and forwarded telemetry between
// batchq processes. NATS is the networked backend; MemoryBus serves a single
// process and tests.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrTimeout means a request got no reply in time.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders means nothing was subscribed to a request's subject.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is safe for concurrent use.
type MessageBus interface {
	// Publish fans data out to every subscriber of subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe delivers matching messages to h. Patterns use NATS tokens:
	// "*" matches one token and a trailing ">" matches the rest.
	Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error)

	// QueueSubscribe joins group; each message reaches one member.
	QueueSubscribe(ctx context.Context, pattern, group string, h Handler) (Subscription, error)

	// Request publishes data and waits for the first reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	Close() error
}

// Handler consumes one message. A non-nil return is sent back as the reply
// when the message came from Request.
type Handler func(msg *Message) []byte

// Message is a delivered message.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription is a live subscription.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Options configures NewNATSBus.
type Options struct {
	// URL of the NATS server (default: nats.DefaultURL)
	URL string

	// Name identifies this client in server monitoring
	Name string

	// RequestTimeout applies when Request is called without one (default: 30s)
	RequestTimeout time.Duration

	// Logger receives connection state changes (optional)
	Logger *slog.Logger
}

const defaultRequestTimeout = 30 * time.Second
