package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus is a MessageBus over NATS core subjects.
type NATSBus struct {
	nc      *nats.Conn
	timeout time.Duration
	closed  atomic.Bool
}

// NewNATSBus dials opts.URL and reconnects forever on disconnect.
func NewNATSBus(opts Options) (*NATSBus, error) {
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	nc, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSBus{nc: nc, timeout: timeout}, nil
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.nc.Publish(subject, data)
}

func (b *NATSBus) Subscribe(_ context.Context, pattern string, h Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := b.nc.Subscribe(pattern, adapt(h))
	if err != nil {
		return nil, err
	}
	return natsSub{sub}, nil
}

func (b *NATSBus) QueueSubscribe(_ context.Context, pattern, group string, h Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := b.nc.QueueSubscribe(pattern, group, adapt(h))
	if err != nil {
		return nil, err
	}
	return natsSub{sub}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = b.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := b.nc.RequestWithContext(reqCtx, subject, data)
	switch {
	case err == nil:
		return msg.Data, nil
	case errors.Is(err, nats.ErrNoResponders):
		return nil, ErrNoResponders
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, ErrTimeout
	default:
		return nil, err
	}
}

// Close drains pending deliveries before closing the connection.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
	return nil
}

func adapt(h Handler) nats.MsgHandler {
	return func(m *nats.Msg) {
		out := h(&Message{Subject: m.Subject, Data: m.Data, ReplyTo: m.Reply})
		if out != nil && m.Reply != "" {
			_ = m.Respond(out)
		}
	}
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

func (s natsSub) Subject() string { return s.sub.Subject }
