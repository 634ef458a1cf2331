package email

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultDevCapacity = 500

// SentMessage is a message captured by the DevProvider.
type SentMessage struct {
	Message   Message
	MessageID string
	SentAt    time.Time
}

// DevProvider records messages in memory instead of delivering them. It keeps
// the most recent sends up to its capacity.
type DevProvider struct {
	logger   zerolog.Logger
	now      func() time.Time
	capacity int

	mu   sync.RWMutex
	sent []SentMessage
}

// DevOption customises a DevProvider.
type DevOption func(*DevProvider)

// WithDevCapacity bounds the number of retained messages.
func WithDevCapacity(n int) DevOption {
	return func(p *DevProvider) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithDevClock overrides the clock used for timestamps.
func WithDevClock(now func() time.Time) DevOption {
	return func(p *DevProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewDevProvider constructs an in-memory recording provider.
func NewDevProvider(logger zerolog.Logger, opts ...DevOption) *DevProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &DevProvider{
		logger:   logger.With().Str("provider", "dev").Logger(),
		now:      time.Now,
		capacity: defaultDevCapacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Name implements Provider.
func (p *DevProvider) Name() string {
	return "dev"
}

// Send records msg and reports success.
func (p *DevProvider) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	id := msg.MessageID
	if id == "" {
		id = "dev-" + uuid.NewString()
	}
	now := p.now()

	p.mu.Lock()
	p.sent = append(p.sent, SentMessage{Message: *msg, MessageID: id, SentAt: now})
	if len(p.sent) > p.capacity {
		p.sent = p.sent[len(p.sent)-p.capacity:]
	}
	p.mu.Unlock()

	p.logger.Info().
		Str("message_id", id).
		Str("recipient", msg.To).
		Str("subject", msg.Subject).
		Msg("dev provider captured email")

	return &Result{Success: true, MessageID: id, Provider: p.Name(), Code: 250, Timestamp: now}, nil
}

// IsAvailable implements AvailabilityChecker.
func (p *DevProvider) IsAvailable(context.Context) bool {
	return true
}

// Sent returns the captured messages in send order.
func (p *DevProvider) Sent() []SentMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]SentMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

// Last returns the most recent capture.
func (p *DevProvider) Last() (SentMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.sent) == 0 {
		return SentMessage{}, false
	}
	return p.sent[len(p.sent)-1], true
}

// Reset clears captured messages.
func (p *DevProvider) Reset() {
	p.mu.Lock()
	p.sent = nil
	p.mu.Unlock()
}
