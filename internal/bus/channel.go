// Package bus carries dataset events between the loader and every Kestrel
// instance.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var errClosed = errors.New("bus is closed")

// ChannelBus delivers events inside one process. Each subscription owns a
// buffered channel drained by its own goroutine; a subscriber whose buffer is
// full misses the message, which for refresh events only delays a flush
// until the next one or until the result TTL runs out.
type ChannelBus struct {
	bufferSize int

	mu     sync.RWMutex
	topics map[string]map[*channelSubscription]struct{}
	closed bool
}

type channelSubscription struct {
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates an in-process bus; bufferSize <= 0 means 100.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]map[*channelSubscription]struct{}),
	}
}

// Publish hands the message to every subscriber of topic without blocking.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}

	msg := envelope(ctx, topic, payload)
	for sub := range b.topics[topic] {
		select {
		case sub.inbox <- msg:
		default:
			slog.Warn("subscriber buffer full, message dropped",
				"topic", topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe runs handler on a dedicated goroutine for every message on topic
// until ctx is cancelled, the subscription is removed or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*channelSubscription]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}

	go sub.run()
	return sub, nil
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return nil
}

// Close stops every subscription. Further publishes fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, set := range b.topics {
		for sub := range set {
			sub.cancel()
		}
	}
	clear(b.topics)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.topics[sub.topic]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.topics, sub.topic)
	}
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if err := s.handler(deliveryContext(s.ctx, msg), msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
