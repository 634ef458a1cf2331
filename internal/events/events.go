// Package events defines the domain event envelope and the bus contract the
// notification service subscribes through.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("events: bus closed")

// Event is a named domain event with a JSON-shaped payload.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Source     string         `json:"source,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// New builds an event with a fresh id and timestamp.
func New(name string, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Handler processes one delivered event. Returning an error signals the
// bus that the event was not handled.
type Handler func(ctx context.Context, evt Event) error

// Bus delivers named events to subscribers at least once.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(name string, h Handler) error
	// Run delivers events until ctx is cancelled. Buses that deliver inline
	// return immediately.
	Run(ctx context.Context) error
	Close() error
}

// Validate checks the fields every bus relies on.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("events: event name is required")
	}
	return nil
}
