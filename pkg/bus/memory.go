package bus

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const memoryInboxSize = 256

// MemoryBus is an in-process MessageBus. Messages are not persisted and a
// subscriber whose inbox is full misses the message.
type MemoryBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*memorySub
	cursor map[string]uint64
	closed bool
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[uint64]*memorySub),
		cursor: make(map[string]uint64),
	}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	b.route(&Message{Subject: subject, Data: data})
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	return b.add(ctx, pattern, "", h)
}

func (b *MemoryBus) QueueSubscribe(ctx context.Context, pattern, group string, h Handler) (Subscription, error) {
	return b.add(ctx, pattern, group, h)
}

func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	inbox := "_INBOX." + ulid.Make().String()
	replies := make(chan []byte, 1)
	sub, err := b.Subscribe(ctx, inbox, func(msg *Message) []byte {
		select {
		case replies <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if !b.route(&Message{Subject: subject, Data: data, ReplyTo: inbox}) {
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-replies:
		return data, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops every subscription. A second Close returns ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*memorySub)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (b *MemoryBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *MemoryBus) add(ctx context.Context, pattern, group string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	s := &memorySub{
		id:      b.nextID,
		pattern: pattern,
		group:   group,
		handler: h,
		inbox:   make(chan *Message, memoryInboxSize),
		quit:    make(chan struct{}),
		bus:     b,
	}
	b.subs[s.id] = s
	go s.loop(ctx)
	return s, nil
}

func (b *MemoryBus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// route hands msg to every plain subscriber and to one member per queue
// group, reporting whether anyone took it.
func (b *MemoryBus) route(msg *Message) bool {
	b.mu.Lock()
	var plain []*memorySub
	groups := make(map[string][]*memorySub)
	for _, s := range b.subs {
		if !matchSubject(s.pattern, msg.Subject) {
			continue
		}
		if s.group == "" {
			plain = append(plain, s)
		} else {
			groups[s.group] = append(groups[s.group], s)
		}
	}
	// Each group member gets its turn in subscription order.
	picks := make([][]*memorySub, 0, len(groups))
	for name, members := range groups {
		slices.SortFunc(members, func(x, y *memorySub) int { return cmp.Compare(x.id, y.id) })
		n := uint64(len(members))
		start := b.cursor[name] % n
		b.cursor[name]++
		rotated := append(append([]*memorySub{}, members[start:]...), members[:start]...)
		picks = append(picks, rotated)
	}
	b.mu.Unlock()

	taken := false
	for _, s := range plain {
		taken = s.offer(msg) || taken
	}
	for _, members := range picks {
		for _, s := range members {
			if s.offer(msg) {
				taken = true
				break
			}
		}
	}
	return taken
}

type memorySub struct {
	id      uint64
	pattern string
	group   string
	handler Handler
	inbox   chan *Message
	quit    chan struct{}
	once    sync.Once
	bus     *MemoryBus
}

func (s *memorySub) offer(msg *Message) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- msg:
		return true
	default:
		return false
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.quit) })
}

// Unsubscribe is idempotent.
func (s *memorySub) Unsubscribe() error {
	s.stop()
	s.bus.remove(s.id)
	return nil
}

func (s *memorySub) Subject() string { return s.pattern }

func (s *memorySub) loop(ctx context.Context) {
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			if out := s.handler(msg); out != nil && msg.ReplyTo != "" {
				s.bus.route(&Message{Subject: msg.ReplyTo, Data: out})
			}
		}
	}
}

// matchSubject applies NATS wildcard rules to dot-separated tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i < len(got)
		}
		if i >= len(got) {
			return false
		}
		if tok != "*" && tok != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
