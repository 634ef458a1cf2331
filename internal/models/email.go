package models

import (
	"strings"
	"time"
)

// Priority ranks outbound mail. High priority mail is retried with the
// transactional policy and prefers providers flagged for it.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority maps a free-form value onto a Priority.
func ParsePriority(value string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityNormal:
		return PriorityNormal, true
	case PriorityLow:
		return PriorityLow, true
	default:
		return "", false
	}
}

// DefaultRecipientName is used when an event carries no usable display name.
const DefaultRecipientName = "Valued Customer"

// EmailMetadata records where a payload originated.
type EmailMetadata struct {
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"order_id,omitempty"`
	// LogData is copied verbatim into the send log entry.
	LogData map[string]any `json:"log_data,omitempty"`
}

// EmailPayload is the normalized form of an inbound event. RecipientEmail is
// always non-empty and email shaped, EmailType always a known string.
type EmailPayload struct {
	RecipientEmail string         `json:"recipient_email"`
	RecipientName  string         `json:"recipient_name"`
	EmailType      string         `json:"email_type"`
	Priority       Priority       `json:"priority"`
	Variables      map[string]any `json:"variables"`
	Metadata       EmailMetadata  `json:"metadata"`
}
