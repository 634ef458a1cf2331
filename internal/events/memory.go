package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/logger"
)

// MemoryBus delivers events inline to in-process subscribers.
type MemoryBus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus(log zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		logger:   logger.Component(log, "memory_bus"),
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers h for events called name.
func (b *MemoryBus) Subscribe(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("events: subscribe needs a name and handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers[name] = append(b.handlers[name], h)
	return nil
}

// Publish hands evt to every subscriber of its name in registration order
// and returns their joined errors. Events nobody subscribed to are dropped.
func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]Handler(nil), b.handlers[evt.Name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug().Str("event", evt.Name).Msg("no subscribers for event")
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := deliver(ctx, h, evt); err != nil {
			b.logger.Warn().Err(err).Str("event", evt.Name).Str("event_id", evt.ID).Msg("event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run implements Bus. Delivery is inline, so there is nothing to run.
func (b *MemoryBus) Run(context.Context) error {
	return nil
}

// Close rejects further publishes and subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Subscriptions returns the event names with at least one handler.
func (b *MemoryBus) Subscriptions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		out = append(out, name)
	}
	return out
}

func deliver(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("events: handler panic: %v", rec)
		}
	}()
	return h(ctx, evt)
}

// Dispatch runs every handler in set registered for evt.Name. It is shared
// by buses that receive events from an external transport.
func Dispatch(ctx context.Context, set map[string][]Handler, evt Event) error {
	var errs []error
	for _, h := range set[evt.Name] {
		if err := deliver(ctx, h, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
