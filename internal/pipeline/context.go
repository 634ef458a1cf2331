// Package pipeline turns a domain event into a rendered, delivered and
// logged email through six strictly ordered stages.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/providers/email"
)

// Stage names, in execution order.
const (
	StageNormalize      = "normalize"
	StageSelectTemplate = "select_template"
	StageRender         = "render"
	StageRoute          = "route"
	StageSend           = "send"
	StageHandleResult   = "handle_result"
)

// State marks how far a run has progressed.
type State string

const (
	StateNew              State = "new"
	StateNormalized       State = "normalized"
	StateTemplateSelected State = "template_selected"
	StateRendered         State = "rendered"
	StateProviderSelected State = "provider_selected"
	StateSent             State = "sent"
	StateHandled          State = "handled"
)

var (
	// ErrInvalidRecipient is returned when no shape-valid recipient address
	// can be extracted from the event.
	ErrInvalidRecipient = errors.New("pipeline: invalid recipient")
	// ErrMissingVariables is returned when a template declares required
	// variables the payload does not carry.
	ErrMissingVariables = errors.New("pipeline: missing template variables")
)

// StageError reports an input or routing failure that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Input is the raw request that starts a run: an event name (or email
// type) with its JSON-shaped payload.
type Input struct {
	EventType string
	EventID   string
	Source    string
	Data      map[string]any
	// Priority overrides the priority derived from the email type.
	Priority models.Priority
	// RetryCount above zero asks the router for a failover provider.
	RetryCount int
	// LogData is copied into the persisted send log.
	LogData map[string]any
	// Headers are passed through to the provider message.
	Headers map[string]string
}

// Context is threaded through the stages. Each stage receives a copy and
// returns the copy with its own fields filled in.
type Context struct {
	PipelineID string
	StartedAt  time.Time
	State      State
	Input      Input

	Payload  *models.EmailPayload
	Template *models.Template
	Rendered *models.RenderedContent
	Provider email.Provider
	Result   *models.SendResult
	// SendErr is the provider error behind a failed Result.
	SendErr error
	// Retryable is set by the result handler for failed sends.
	Retryable bool
}
