// Package eventbus is the in-process publish/subscribe router between adapters and consumers.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-vitals/internal/events"

	"go.uber.org/zap"
)

// ErrBusStopped returned when subscribing to a bus that has shut down
var ErrBusStopped = errors.New("event bus stopped")

// Observer receives delivery accounting; implemented by the metrics package
type Observer interface {
	Published(kind events.Kind)
	Dropped(queue string, kind events.Kind)
}

type nopObserver struct{}

func (nopObserver) Published(events.Kind)       {}
func (nopObserver) Dropped(string, events.Kind) {}

// Option configures a Bus
type Option func(*Bus)

// WithCapacity sets the queue size of each subscription and of the main queue
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithIngressCapacity sets the size of the TrySend hand-off queue
func WithIngressCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.ingressCapacity = n
		}
	}
}

// WithObserver installs a delivery observer
func WithObserver(o Observer) Option {
	return func(b *Bus) {
		if o != nil {
			b.observer = o
		}
	}
}

type envelope struct {
	evt   events.Event
	topic string
}

type subscriberSet map[*Subscription]struct{}

// Bus non-blocking fan-out to global, topic and kind subscriptions plus one main queue
type Bus struct {
	logger          *zap.Logger
	observer        Observer
	capacity        int
	ingressCapacity int

	mu      sync.RWMutex
	running bool
	main    chan events.Event
	global  subscriberSet
	topics  map[string]subscriberSet
	kinds   map[events.Kind]subscriberSet

	ingress  chan envelope
	done     chan struct{}
	stopOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New builds a running bus. Call Run to drain TrySend hand-offs.
func New(logger *zap.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:          logger,
		observer:        nopObserver{},
		capacity:        100,
		ingressCapacity: 256,
		running:         true,
		global:          make(subscriberSet),
		topics:          make(map[string]subscriberSet),
		kinds:           make(map[events.Kind]subscriberSet),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.main = make(chan events.Event, b.capacity)
	b.ingress = make(chan envelope, b.ingressCapacity)
	return b
}

// Publish delivers evt to the main queue, the topic's queues (if topic != ""),
// the kind's queues and every global queue. A full queue drops the event for that queue only.
func (b *Bus) Publish(evt events.Event, topic string) {
	if evt == nil {
		return
	}

	dropped := b.deliver(evt, topic)
	for _, queue := range dropped {
		b.logger.Warn("Subscriber queue full, dropping event",
			zap.String("queue", queue),
			zap.String("kind", string(evt.Kind())),
		)
	}
}

// deliver fans out under the read lock and returns the names of queues that were full
func (b *Bus) deliver(evt events.Event, topic string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running {
		return nil
	}
	b.published.Add(1)
	b.observer.Published(evt.Kind())

	var dropped []string
	offer := func(ch chan events.Event, queue string) {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			b.observer.Dropped(queue, evt.Kind())
			dropped = append(dropped, queue)
		}
	}

	offer(b.main, "main")
	if topic != "" {
		for sub := range b.topics[topic] {
			offer(sub.ch, sub.name)
		}
	}
	for sub := range b.kinds[evt.Kind()] {
		offer(sub.ch, sub.name)
	}
	for sub := range b.global {
		offer(sub.ch, sub.name)
	}
	return dropped
}

// TrySend hands evt to the bus from any goroutine, waiting at most timeout for ingress space.
// A false return is a soft failure and has already been logged.
func (b *Bus) TrySend(evt events.Event, topic string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.ingress <- envelope{evt: evt, topic: topic}:
		return true
	case <-b.done:
		return false
	case <-timer.C:
		b.logger.Warn("Timed out handing event to bus",
			zap.String("kind", string(evt.Kind())),
			zap.Duration("timeout", timeout),
		)
		return false
	}
}

// Run drains the TrySend ingress queue until ctx is cancelled or the bus shuts down
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case env := <-b.ingress:
			b.Publish(env.evt, env.topic)
		}
	}
}

// Main returns the single main queue; it is closed on shutdown
func (b *Bus) Main() <-chan events.Event {
	return b.main
}

// Subscribe registers a queue receiving every event
func (b *Bus) Subscribe(ctx context.Context) (*Subscription, error) {
	return b.register(ctx, "global", func(s *Subscription) {
		b.global[s] = struct{}{}
	})
}

// SubscribeTopic registers a queue receiving events published under topic
func (b *Bus) SubscribeTopic(ctx context.Context, topic string) (*Subscription, error) {
	return b.register(ctx, "topic:"+topic, func(s *Subscription) {
		set, ok := b.topics[topic]
		if !ok {
			set = make(subscriberSet)
			b.topics[topic] = set
		}
		set[s] = struct{}{}
	})
}

// SubscribeKind registers one queue receiving events of any of the given kinds
func (b *Bus) SubscribeKind(ctx context.Context, kinds ...events.Kind) (*Subscription, error) {
	name := "kind"
	for _, k := range kinds {
		name += ":" + string(k)
	}
	return b.register(ctx, name, func(s *Subscription) {
		for _, k := range kinds {
			set, ok := b.kinds[k]
			if !ok {
				set = make(subscriberSet)
				b.kinds[k] = set
			}
			set[s] = struct{}{}
		}
	})
}

func (b *Bus) register(ctx context.Context, name string, add func(*Subscription)) (*Subscription, error) {
	s := &Subscription{
		bus:    b,
		name:   name,
		ch:     make(chan events.Event, b.capacity),
		closed: make(chan struct{}),
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil, ErrBusStopped
	}
	add(s)
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()

	return s, nil
}

// unregister removes s from every index and closes its queue
func (b *Bus) unregister(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.global, s)
	for topic, set := range b.topics {
		delete(set, s)
		if len(set) == 0 {
			delete(b.topics, topic)
		}
	}
	for kind, set := range b.kinds {
		delete(set, s)
		if len(set) == 0 {
			delete(b.kinds, kind)
		}
	}
	s.finish()
}

// Shutdown stops distribution and closes every queue so consumers observe completion
func (b *Bus) Shutdown() {
	b.stopOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		defer b.mu.Unlock()

		b.running = false
		close(b.main)
		for s := range b.global {
			s.finish()
		}
		for _, set := range b.topics {
			for s := range set {
				s.finish()
			}
		}
		for _, set := range b.kinds {
			for s := range set {
				s.finish()
			}
		}
		b.global = make(subscriberSet)
		b.topics = make(map[string]subscriberSet)
		b.kinds = make(map[events.Kind]subscriberSet)

		b.logger.Info("Event bus stopped",
			zap.Uint64("published", b.published.Load()),
			zap.Uint64("dropped", b.dropped.Load()),
		)
	})
}

// Running reports whether the bus still distributes events
func (b *Bus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Stats returns cumulative published and dropped counts
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// SubscriberCount number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[*Subscription]struct{}, len(b.global))
	for s := range b.global {
		seen[s] = struct{}{}
	}
	for _, set := range b.topics {
		for s := range set {
			seen[s] = struct{}{}
		}
	}
	for _, set := range b.kinds {
		for s := range set {
			seen[s] = struct{}{}
		}
	}
	return len(seen)
}
