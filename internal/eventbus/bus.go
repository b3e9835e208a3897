// Package eventbus routes domain events to registered handlers in-process.
// Delivery is synchronous on the publisher's goroutine; the bus owns no
// concurrency of its own.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/models"
)

// Handler processes one published event. Handlers must be idempotent:
// delivery is at-least-once.
type Handler func(ctx context.Context, event *models.Event) error

// Bus is an in-process publish/subscribe router from event type to
// handlers. Handlers for a type run in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[models.EventType][]Handler
	logger   *logging.Logger
}

func New(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		handlers: make(map[models.EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type. Multiple handlers per
// type are allowed; registration order determines invocation order.
func (b *Bus) Subscribe(eventType models.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish delivers the event to every subscribed handler synchronously.
// A handler failure (error or panic) is logged and does not prevent the
// remaining handlers from running, and never surfaces to the publisher.
func (b *Bus) Publish(ctx context.Context, event *models.Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	for i, handler := range handlers {
		if err := b.invoke(ctx, handler, event); err != nil {
			b.logger.ErrorContext(ctx, "event handler failed",
				"event_id", event.ID,
				"event_type", string(event.Type),
				"handler_index", i,
				"error", err,
			)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, handler Handler, event *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, event)
}

// SubscriberCount returns the total number of registrations across all
// event types, for diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, hs := range b.handlers {
		count += len(hs)
	}
	return count
}
