package models

import "time"

// Send log status values.
const (
	LogStatusSent   = "sent"
	LogStatusFailed = "failed"
)

// SendResult is the outcome of the send stage. MessageID is populated on
// success, Error on failure.
type SendResult struct {
	Success     bool      `json:"success"`
	MessageID   string    `json:"message_id,omitempty"`
	Provider    string    `json:"provider"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
}

// LogEntry is a persisted record of one pipeline run. Field names are part of
// the entity store contract.
type LogEntry struct {
	ID             string         `json:"id"`
	PipelineID     string         `json:"pipeline_id"`
	RecipientEmail string         `json:"recipient_email"`
	RecipientName  string         `json:"recipient_name"`
	OrderID        string         `json:"order_id,omitempty"`
	EmailType      string         `json:"email_type"`
	Subject        string         `json:"subject"`
	TemplateID     string         `json:"template_id,omitempty"`
	TemplateSource TemplateSource `json:"template_source"`
	Status         string         `json:"status"`
	Provider       string         `json:"provider"`
	MessageID      string         `json:"message_id,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	RetryCount     int            `json:"retry_count"`
	Attempts       int            `json:"attempts"`
	DurationMs     int64          `json:"duration_ms"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// LogStats aggregates persisted send logs.
type LogStats struct {
	Total    int            `json:"total"`
	Sent     int            `json:"sent"`
	Failed   int            `json:"failed"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
}
