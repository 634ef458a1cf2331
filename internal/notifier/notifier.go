// Package notifier is the public entry point of the notification service:
// one method per business notification, template previews, diagnostics and
// the event bus subscriptions that feed the pipeline.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/logger"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/pipeline"
	"github.com/example/notification-pipeline/internal/providers/email"
	"github.com/example/notification-pipeline/internal/retry"
	"github.com/example/notification-pipeline/internal/templating"
)

// Runner executes the stage chain.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Context, error)
	Variables(data map[string]any) map[string]any
}

// TemplateStore is the template lookup used by previews and campaigns.
type TemplateStore interface {
	Get(ctx context.Context, id string) (*models.Template, error)
	FindActive(ctx context.Context, emailType string) (*models.Template, error)
}

// LogStore reads and writes persisted send logs.
type LogStore interface {
	Write(ctx context.Context, entry *models.LogEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]*models.LogEntry, error)
	Stats(ctx context.Context) (models.LogStats, error)
}

// Providers is the provider manager surface the facade needs.
type Providers interface {
	Primary() (email.Provider, bool)
	BulkProvider() (email.Provider, error)
	RecordUsage(name string)
}

// Dependencies collects the collaborators of a Notifier. Pipeline and
// Engine are required.
type Dependencies struct {
	Pipeline  Runner
	Templates TemplateStore
	Logs      LogStore
	Providers Providers
	Metrics   pipeline.MetricsRecorder
	Engine    *templating.Engine
	Marketing *retry.Policy
	Branding  pipeline.Branding
	BulkDelay time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Notifier is the facade over the pipeline.
type Notifier struct {
	pipeline  Runner
	templates TemplateStore
	logs      LogStore
	providers Providers
	metrics   pipeline.MetricsRecorder
	engine    *templating.Engine
	marketing *retry.Policy
	branding  pipeline.Branding
	bulkDelay time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// New validates deps and builds a Notifier.
func New(deps Dependencies) (*Notifier, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("notifier: pipeline dependency is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("notifier: template engine dependency is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	marketing := deps.Marketing
	if marketing == nil {
		marketing = retry.New("marketing", retry.Marketing())
	}
	return &Notifier{
		pipeline:  deps.Pipeline,
		templates: deps.Templates,
		logs:      deps.Logs,
		providers: deps.Providers,
		metrics:   deps.Metrics,
		engine:    deps.Engine,
		marketing: marketing,
		branding:  deps.Branding,
		bulkDelay: deps.BulkDelay,
		logger:    logger.Component(deps.Logger, "notifier"),
		now:       now,
	}, nil
}

// Request is a single notification handed to SendTransactional,
// SendMarketing or SendCustom.
type Request struct {
	Type           string         `json:"type"`
	RecipientEmail string         `json:"recipient_email"`
	RecipientName  string         `json:"recipient_name,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	LogData        map[string]any `json:"log_data,omitempty"`
	IsMarketing    bool           `json:"is_marketing,omitempty"`
}

// Outcome is what callers see of a finished send. Send failures are reported
// here rather than as errors.
type Outcome struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Provider   string `json:"provider,omitempty"`
	PipelineID string `json:"pipeline_id,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

// SendTransactional runs req through the pipeline with the priority derived
// from its email type. Only input and routing failures are returned as
// errors.
func (n *Notifier) SendTransactional(ctx context.Context, req Request) (Outcome, error) {
	return n.send(ctx, req, "")
}

// SendMarketing runs req through the pipeline at low priority.
func (n *Notifier) SendMarketing(ctx context.Context, req Request) (Outcome, error) {
	return n.send(ctx, req, models.PriorityLow)
}

// SendCustom dispatches req to SendMarketing or SendTransactional according
// to req.IsMarketing.
func (n *Notifier) SendCustom(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Type) == "" {
		req.Type = models.EmailTypeCustom
	}
	if req.IsMarketing {
		return n.SendMarketing(ctx, req)
	}
	return n.SendTransactional(ctx, req)
}

// SendEvent runs a raw event payload through the pipeline. The normaliser
// resolves recipient and email type from the payload shape.
func (n *Notifier) SendEvent(ctx context.Context, name, eventID, source string, payload map[string]any) (Outcome, error) {
	pc, err := n.pipeline.Run(ctx, pipeline.Input{
		EventType: name,
		EventID:   eventID,
		Source:    source,
		Data:      payload,
	})
	return outcome(pc), err
}

func (n *Notifier) send(ctx context.Context, req Request, priority models.Priority) (Outcome, error) {
	data := make(map[string]any, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	if req.RecipientEmail != "" {
		data["recipient_email"] = req.RecipientEmail
	}
	if req.RecipientName != "" {
		data["recipient_name"] = req.RecipientName
	}

	pc, err := n.pipeline.Run(ctx, pipeline.Input{
		EventType: req.Type,
		Source:    "facade",
		Data:      data,
		Priority:  priority,
		LogData:   req.LogData,
	})
	out := outcome(pc)
	if err != nil {
		return out, err
	}
	if !out.Success {
		n.logger.Warn().
			Str("email_type", req.Type).
			Str("pipeline_id", out.PipelineID).
			Str("error", out.Error).
			Msg("notification not delivered")
	}
	return out, nil
}

func outcome(pc pipeline.Context) Outcome {
	out := Outcome{PipelineID: pc.PipelineID}
	if pc.Result == nil {
		return out
	}
	out.Success = pc.Result.Success
	out.Error = pc.Result.Error
	out.MessageID = pc.Result.MessageID
	out.Provider = pc.Result.Provider
	out.Attempts = pc.Result.Attempts
	return out
}

// toData converts a typed value into the JSON-shaped map the pipeline
// consumes. Zero timestamps are dropped so templates treat them as absent.
func toData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("notifier: encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("notifier: decode payload: %w", err)
	}
	dropZeroTimes(out)
	return out, nil
}

var zeroTime = time.Time{}.Format(time.RFC3339)

func dropZeroTimes(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if val == zeroTime {
				delete(m, k)
			}
		case map[string]any:
			dropZeroTimes(val)
		}
	}
}
