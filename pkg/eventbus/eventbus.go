// Package eventbus provides a minimal in-process publish/subscribe bus used
// to decouple settlement outcomes from their side effects (notifications,
// metrics). Handlers run asynchronously and must not affect the publishing
// transaction.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Event is anything routed through the bus.
type Event interface {
	EventType() string
}

// Handler consumes events. Errors and panics are contained per handler.
type Handler func(ctx context.Context, e Event)

// Bus dispatches events to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish dispatches the event to all handlers asynchronously. A slow or
// panicking handler never blocks or fails the publisher.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := b.handlers[e.EventType()]
	b.mu.RUnlock()

	for _, h := range subs {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "event_type", e.EventType(), "panic", r)
				}
			}()
			h(ctx, e)
		}(h)
	}
}

// Wait blocks until all in-flight handlers finish. Used on shutdown and in
// tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
