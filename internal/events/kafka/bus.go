package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/logger"
)

// Header keys written on every published event record.
const (
	HeaderEventName   = "event-name"
	HeaderEventID     = "event-id"
	HeaderContentType = "content-type"
)

// Publisher is the producer surface the bus publishes through.
type Publisher interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// Subscriber is the consumer surface the bus reads through.
type Subscriber interface {
	Consume(ctx context.Context, topics []string, handler RecordHandler) error
}

// Bus carries events as JSON records on a single topic keyed by event name.
type Bus struct {
	logger zerolog.Logger
	topic  string
	pub    Publisher
	sub    Subscriber

	closers []func() error

	mu       sync.RWMutex
	handlers map[string][]events.Handler
	closed   bool
}

// NewBus builds a bus over pub and sub. Either may be nil for a publish-only
// or consume-only bus.
func NewBus(topic string, pub Publisher, sub Subscriber, log zerolog.Logger) (*Bus, error) {
	if topic == "" {
		return nil, errors.New("kafka bus: topic is required")
	}
	b := &Bus{
		logger:   logger.Component(log, "kafka_bus"),
		topic:    topic,
		pub:      pub,
		sub:      sub,
		handlers: make(map[string][]events.Handler),
	}
	if c, ok := pub.(interface{ Close() error }); ok {
		b.closers = append(b.closers, c.Close)
	}
	if c, ok := sub.(interface{ Close() error }); ok {
		b.closers = append(b.closers, c.Close)
	}
	return b, nil
}

// Dial connects a producer and a consumer group for brokers.
func Dial(brokers []string, topic, groupID string, commitOnSuccessOnly bool, log zerolog.Logger) (*Bus, error) {
	prod, err := NewProducer(brokers, log, nil)
	if err != nil {
		return nil, err
	}
	cons, err := NewConsumer(brokers, groupID, commitOnSuccessOnly, log, nil)
	if err != nil {
		prod.Close()
		return nil, err
	}
	return NewBus(topic, prod, cons, log)
}

// Publish encodes evt as JSON and writes it keyed by event name.
func (b *Bus) Publish(ctx context.Context, evt events.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return events.ErrClosed
	}
	if b.pub == nil {
		return errors.New("kafka bus: no producer configured")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka bus: encode event: %w", err)
	}
	headers := map[string][]byte{
		HeaderEventName:   []byte(evt.Name),
		HeaderContentType: []byte("application/json"),
	}
	if evt.ID != "" {
		headers[HeaderEventID] = []byte(evt.ID)
	}
	return b.pub.PublishSync(b.topic, []byte(evt.Name), headers, payload)
}

// Subscribe registers h for events called name.
func (b *Bus) Subscribe(name string, h events.Handler) error {
	if name == "" || h == nil {
		return errors.New("kafka bus: subscribe needs a name and handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return events.ErrClosed
	}
	b.handlers[name] = append(b.handlers[name], h)
	return nil
}

// Run consumes the events topic until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	if b.sub == nil {
		return errors.New("kafka bus: no consumer configured")
	}
	b.logger.Info().Str("topic", b.topic).Msg("consuming domain events")
	return b.sub.Consume(ctx, []string{b.topic}, b.handleRecord)
}

// Close releases the producer and consumer.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleRecord decodes a record and dispatches it. Undecodable records and
// records nobody subscribed to are acknowledged so they do not block the
// partition.
func (b *Bus) handleRecord(ctx context.Context, rec *Record) error {
	var evt events.Event
	if err := json.Unmarshal(rec.Value, &evt); err != nil {
		b.logger.Error().Err(err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("dropping undecodable event")
		return nil
	}
	if evt.Name == "" {
		evt.Name = string(rec.Headers[HeaderEventName])
	}
	if evt.Name == "" {
		b.logger.Error().Int64("offset", rec.Offset).Msg("dropping event without name")
		return nil
	}

	b.mu.RLock()
	set := map[string][]events.Handler{evt.Name: append([]events.Handler(nil), b.handlers[evt.Name]...)}
	b.mu.RUnlock()

	if len(set[evt.Name]) == 0 {
		b.logger.Debug().Str("event", evt.Name).Msg("no subscribers for event")
		return nil
	}
	return events.Dispatch(ctx, set, evt)
}
