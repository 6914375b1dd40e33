package event

import (
	"log/slog"
	"sync"
)

// Publisher is the port the scheduler emits through. Tests substitute a
// synchronous capture implementation.
type Publisher interface {
	Publish(topic string, evt Event)
}

// Sink consumes events pushed by the bus. Implementations must not assume
// they run on the publisher's goroutine; the bus isolates and never waits.
type Sink interface {
	OnEvent(topic string, evt Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(topic string, evt Event)

// OnEvent implements the Sink interface.
func (f SinkFunc) OnEvent(topic string, evt Event) {
	if f == nil {
		return
	}
	f(topic, evt)
}

const defaultSubscriptionBuffer = 64

// Bus is a topic-keyed fan-out for scheduler events. Publishing never
// blocks: each subscription owns a buffered channel and the oldest pending
// event is dropped when a subscriber falls behind. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	closed bool
	subs   map[string]map[*subscription]struct{}
}

type subscription struct {
	topic string
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

// BusOptions configure a Bus.
type BusOptions struct {
	Logger *slog.Logger
	// Buffer is the per-subscription channel depth. Zero uses the default.
	Buffer int
}

// NewBus constructs an event bus.
func NewBus(opts BusOptions) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &Bus{
		logger: logger.With("component", "event_bus"),
		buffer: buffer,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

// Publish delivers the event to every subscriber of topic. It returns
// immediately; slow subscribers lose their oldest pending event.
func (b *Bus) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for sub := range b.subs[topic] {
		sub.offer(evt)
	}
}

// offer enqueues without blocking, dropping the oldest pending event when
// the buffer is full. Callers hold the bus mutex, so the drain/retry pair
// cannot race with another offer on the same channel.
func (s *subscription) offer(evt Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}
}

// Subscribe registers interest in a topic. The returned channel closes when
// the subscription is cancelled or the bus shuts down.
func (b *Bus) Subscribe(topic string) (func(), <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		topic: topic,
		ch:    make(chan Event, b.buffer),
		done:  make(chan struct{}),
	}

	if b.closed {
		close(sub.done)
		close(sub.ch)
		return func() {}, sub.ch
	}

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}

	unsub := func() { b.cancel(sub) }
	return unsub, sub.ch
}

// AttachSink subscribes a callback-style sink to a topic. The sink runs on a
// dedicated forwarding goroutine; panics inside it are contained so one bad
// sink cannot take the scheduler down.
func (b *Bus) AttachSink(topic string, sink Sink) func() {
	unsub, ch := b.Subscribe(topic)
	go func() {
		for evt := range ch {
			b.deliver(topic, sink, evt)
		}
	}()
	return unsub
}

func (b *Bus) deliver(topic string, sink Sink, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event sink panicked",
				"topic", topic,
				"event_type", string(evt.Type),
				"panic", r)
		}
	}()
	sink.OnEvent(topic, evt)
}

func (b *Bus) cancel(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers := b.subs[sub.topic]
	if subscribers == nil {
		return
	}
	if _, ok := subscribers[sub]; !ok {
		return
	}
	delete(subscribers, sub)
	if len(subscribers) == 0 {
		delete(b.subs, sub.topic)
	}
	sub.close()
}

// Close drains and closes every subscription. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subscribers := range b.subs {
		for sub := range subscribers {
			sub.close()
		}
		delete(b.subs, topic)
	}
}

// close drains buffered events before closing so receivers observe a closed
// channel immediately.
func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
		for {
			select {
			case <-s.ch:
			default:
				close(s.ch)
				return
			}
		}
	})
}

var _ Publisher = (*Bus)(nil)
