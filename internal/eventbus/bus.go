package eventbus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultQueueDepth = 64

// Option configures a Bus.
type Option func(*Bus)

// WithQueueDepth sets the per-subscriber queue capacity.
func WithQueueDepth(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.depth = n
		}
	}
}

// WithOverflowPolicy sets what happens when a subscriber queue is full.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(b *Bus) {
		if p.Valid() {
			b.policy = p
		}
	}
}

// WithContext sets the parent of the context handlers receive. Cancelling
// it signals shutdown to subscribers; queued events are still delivered
// until Close.
func WithContext(ctx context.Context) Option {
	return func(b *Bus) {
		if ctx != nil {
			b.parent = ctx
		}
	}
}

// WithMetrics sets the delivery metrics sink.
func WithMetrics(m Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// Bus is a topic-keyed publish/subscribe hub.
//
// Every subscriber has its own bounded queue drained by its own goroutine,
// so a slow or faulting subscriber never delays the others (except under
// the Block policy, where a full queue holds back the publisher).
//
// Delivery order per topic is publish order. No order is kept across topics.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Bus struct {
	depth   int
	policy  OverflowPolicy
	metrics Metrics
	logger  Logger
	nowFunc func() time.Time

	mu      sync.RWMutex
	byTopic map[Topic][]*Subscription
	closed  bool

	topicMu sync.Map // Topic -> *sync.Mutex, serialises fan-out per topic

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bus. Defaults: queue depth 64, DropOldest.
func New(opts ...Option) *Bus {
	b := &Bus{
		depth:   defaultQueueDepth,
		policy:  DropOldest,
		metrics: noopMetrics{},
		logger:  noopLogger{},
		nowFunc: time.Now,
		byTopic: make(map[Topic][]*Subscription),
		parent:  context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ctx, b.cancel = context.WithCancel(b.parent)
	return b
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Policy returns the overflow policy in force.
func (b *Bus) Policy() OverflowPolicy {
	return b.policy
}

// Subscription is one subscriber's queue and consumer goroutine.
type Subscription struct {
	name    string
	topics  []Topic
	handler Handler
	queue   chan Event
	done    chan struct{}
	bus     *Bus
	once    sync.Once
}

// Name returns the subscriber name used in logs and metrics.
func (s *Subscription) Name() string {
	return s.name
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	return len(s.queue)
}

// Subscribe registers a handler for one or more topics and starts its
// consumer goroutine.
//
// Parameters:
//   - name: Subscriber name (logs and metrics)
//   - handler: Called once per event, sequentially, in queue order
//   - topics: Topics to receive
//
// Returns:
//   - *Subscription: Handle for Unsubscribe
//   - error: ErrClosed or ErrNoTopics
func (b *Bus) Subscribe(name string, handler Handler, topics ...Topic) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: subscriber %s", ErrNoTopics, name)
	}

	s := &Subscription{
		name:    name,
		topics:  slices.Clone(topics),
		handler: handler,
		queue:   make(chan Event, b.depth),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	for _, t := range s.topics {
		b.byTopic[t] = append(b.byTopic[t], s)
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go s.run()

	b.logger.Debug("subscriber added", "subscriber", name, "topics", topics)
	return s, nil
}

// Unsubscribe removes a subscriber and stops its goroutine after it drains.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	for _, t := range s.topics {
		b.byTopic[t] = slices.DeleteFunc(b.byTopic[t], func(x *Subscription) bool { return x == s })
	}
	b.mu.Unlock()
	s.stop()
}

// Publish delivers payload to every subscriber of topic.
//
// Under DropOldest it never blocks. Under Block it waits for queue room
// until ctx is done.
//
// Returns:
//   - Event: The published event (with its generated ID)
//   - error: ErrClosed, or ctx.Err() if a blocked delivery was abandoned
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) (Event, error) {
	ev := Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		Time:    b.nowFunc().UTC(),
		Payload: payload,
	}

	mu := b.topicLock(topic)
	mu.Lock()
	defer mu.Unlock()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ev, ErrClosed
	}
	subs := slices.Clone(b.byTopic[topic])
	b.mu.RUnlock()

	b.metrics.EventPublished(string(topic))
	for _, s := range subs {
		if err := b.enqueue(ctx, s, ev); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func (b *Bus) topicLock(t Topic) *sync.Mutex {
	if mu, ok := b.topicMu.Load(t); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := b.topicMu.LoadOrStore(t, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (b *Bus) enqueue(ctx context.Context, s *Subscription, ev Event) error {
	if b.policy == Block {
		select {
		case s.queue <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.metrics.QueueDepth(s.name, len(s.queue))
		return nil
	}

	for {
		select {
		case s.queue <- ev:
			b.metrics.QueueDepth(s.name, len(s.queue))
			return nil
		default:
		}
		select {
		case old := <-s.queue:
			b.metrics.EventDropped(s.name)
			b.logger.Warn("subscriber queue full, dropped oldest event",
				"subscriber", s.name, "topic", old.Topic, "event_id", old.ID)
		default:
		}
	}
}

// Close stops accepting events, lets every subscriber drain its queue, and
// waits for the consumer goroutines to finish or ctx to end.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.byTopic {
		for _, s := range subs {
			if !slices.Contains(all, s) {
				all = append(all, s)
			}
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("eventbus: close: %w", ctx.Err())
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// run consumes the queue until stopped, then drains what is left.
func (s *Subscription) run() {
	defer s.bus.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			s.deliver(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.queue:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver calls the handler with panic recovery so one bad message never
// kills the consumer.
func (s *Subscription) deliver(ev Event) {
	b := s.bus
	defer func() {
		if r := recover(); r != nil {
			b.metrics.SubscriberPanic(s.name)
			b.logger.Error("subscriber panic recovered",
				"subscriber", s.name,
				"topic", ev.Topic,
				"event_id", ev.ID,
				"panic", r,
			)
		}
	}()

	if err := s.handler(b.ctx, ev); err != nil {
		b.logger.Warn("subscriber returned error",
			"subscriber", s.name,
			"topic", ev.Topic,
			"event_id", ev.ID,
			"error", err,
		)
	}
	b.metrics.EventDelivered(s.name)
	b.metrics.QueueDepth(s.name, len(s.queue))
}
