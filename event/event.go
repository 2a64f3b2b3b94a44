// Package event provides a lightweight typed publish/subscribe stream used to
// surface scheduler task lifecycle events to monitoring code
// without slowing down the hot path: publishing never blocks, and events are
// dropped when no listener keeps up.
package event

import (
	"context"
	"time"

	"github.com/skaldb/skald/internal/clock"
)

// Event carries one occurrence with its payload.
type Event[T any] struct {
	CreatedAt time.Time
	Data      T
}

// NewEvent stamps a payload with the current time.
func NewEvent[T any](data T) *Event[T] {
	return &Event[T]{CreatedAt: clock.Now(), Data: data}
}

// Publisher fans events out to a single consumer through a bounded buffer.
type Publisher[T any] struct {
	events  chan *Event[T]
	dropped int64
}

// NewPublisher creates a publisher with the given buffer capacity.
func NewPublisher[T any](buffer int) *Publisher[T] {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher[T]{events: make(chan *Event[T], buffer)}
}

// Publish enqueues the event without blocking; when the buffer is full the
// event is dropped.
func (p *Publisher[T]) Publish(data T) {
	select {
	case p.events <- NewEvent(data):
	default:
	}
}

// Consume blocks until an event arrives or the context is cancelled.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	select {
	case event := <-p.events:
		return event, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Listener pumps published events into a handler on its own goroutine.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	cancel    context.CancelFunc
}

// NewListener wires a handler to the publisher.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	return &Listener[T]{publisher: publisher, handler: handler}
}

// Start begins delivering events until Stop is called.
func (l *Listener[T]) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go func() {
		for {
			event, err := l.publisher.Consume(ctx)
			if err != nil {
				return
			}
			l.handler(event)
		}
	}()
}

// Stop terminates delivery.
func (l *Listener[T]) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}
