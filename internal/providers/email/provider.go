package email

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidMessage is returned when a message lacks a recipient or content.
var ErrInvalidMessage = errors.New("email: invalid message")

// Message is the canonical outbound email handed to a provider.
type Message struct {
	MessageID string
	To        string
	ToName    string
	From      string
	FromName  string
	Subject   string
	HTMLBody  string
	TextBody  string
	Headers   map[string]string
}

// Validate checks the fields every provider relies on.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return errors.Join(ErrInvalidMessage, errors.New("message is required"))
	case m.To == "":
		return errors.Join(ErrInvalidMessage, errors.New("recipient is required"))
	case m.Subject == "":
		return errors.Join(ErrInvalidMessage, errors.New("subject is required"))
	case m.HTMLBody == "" && m.TextBody == "":
		return errors.Join(ErrInvalidMessage, errors.New("body is required"))
	}
	return nil
}

// Result is the provider response for one message. On failure Error mirrors
// the returned error so callers that only keep the Result still see it.
type Result struct {
	Success   bool
	MessageID string
	Provider  string
	Code      int
	Error     string
	Timestamp time.Time
}

// Health is the outcome of a provider health check.
type Health struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Provider is the contract every email transport implements.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// BulkSender is implemented by providers with a native batch API.
type BulkSender interface {
	SendBulk(ctx context.Context, recipients []Recipient, msg BulkMessage, opts BulkOptions) []BulkResult
}

// AvailabilityChecker is implemented by providers that can cheaply report
// whether they are able to accept mail.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context) bool
}

// HealthChecker is implemented by providers with a richer health probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// IsAvailable reports availability, treating providers without a check as
// always available.
func IsAvailable(ctx context.Context, p Provider) bool {
	if c, ok := p.(AvailabilityChecker); ok {
		return c.IsAvailable(ctx)
	}
	if h, ok := p.(HealthChecker); ok {
		return h.HealthCheck(ctx).Healthy
	}
	return true
}

// CheckHealth runs the provider's health probe, falling back to IsAvailable.
func CheckHealth(ctx context.Context, p Provider) Health {
	if h, ok := p.(HealthChecker); ok {
		return h.HealthCheck(ctx)
	}
	if IsAvailable(ctx, p) {
		return Health{Healthy: true}
	}
	return Health{Healthy: false, Message: p.Name() + " unavailable"}
}

func failed(provider string, code int, err error, now time.Time) *Result {
	return &Result{
		Success:   false,
		Provider:  provider,
		Code:      code,
		Error:     err.Error(),
		Timestamp: now,
	}
}
