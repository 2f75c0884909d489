package eventbus

import (
	"context"
	"sync"

	"wisefido-vitals/internal/events"
)

// Subscription bounded FIFO queue registered on the bus
type Subscription struct {
	bus    *Bus
	name   string
	ch     chan events.Event
	closed chan struct{}
	once   sync.Once
}

// C exposes the queue for select loops; it is closed when the subscription ends
func (s *Subscription) C() <-chan events.Event {
	return s.ch
}

// Next blocks for the next event. ok is false once the subscription is closed or ctx is done.
func (s *Subscription) Next(ctx context.Context) (events.Event, bool) {
	select {
	case evt, ok := <-s.ch:
		return evt, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Close deregisters the queue; safe to call more than once
func (s *Subscription) Close() {
	select {
	case <-s.closed:
		return
	default:
	}
	s.bus.unregister(s)
}

// finish closes the channels; caller holds the bus write lock
func (s *Subscription) finish() {
	s.once.Do(func() {
		close(s.ch)
		close(s.closed)
	})
}
