// Package pubsub provides a small generic broker for in-process events.
// Subscribers receive events on buffered channels; a slow subscriber drops
// events rather than blocking publishers.
package pubsub

import (
	"context"
	"sync"
)

// Event wraps a published payload.
type Event[T any] struct {
	Payload T
}

// Broker fans events out to subscribers.
type Broker[T any] struct {
	mu   sync.Mutex
	subs map[chan Event[T]]struct{}
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[chan Event[T]]struct{})}
}

// Subscribe registers a subscriber. The returned channel is closed when ctx
// is cancelled.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers payload to all current subscribers. Delivery is
// best-effort: a subscriber with a full buffer misses the event.
func (b *Broker[T]) Publish(payload T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- Event[T]{Payload: payload}:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
