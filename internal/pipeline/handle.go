package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/observability"
	"github.com/example/notification-pipeline/internal/retry"
	"github.com/example/notification-pipeline/internal/tasks"
)

// LogWriter persists send logs.
type LogWriter interface {
	Write(ctx context.Context, entry *models.LogEntry) error
}

// UsageTracker bumps a stored template's usage counter.
type UsageTracker interface {
	IncrementUsage(ctx context.Context, id string) error
}

// MetricsRecorder counts finished sends.
type MetricsRecorder interface {
	RecordSend(emailType, provider string, success bool, latency time.Duration, errMsg string)
}

// Auditor records stage outcomes.
type Auditor interface {
	Record(entry observability.AuditEntry)
}

// Scheduler runs detached work without blocking the caller.
type Scheduler interface {
	Go(name string, fn tasks.Func) error
}

// ResultHandler is stage 6. Every sub-step is isolated so a failing log
// write, metric or audit append never blocks the others, and the stage
// itself never fails.
type ResultHandler struct {
	logs    LogWriter
	usage   UsageTracker
	metrics MetricsRecorder
	audit   Auditor
	tasks   Scheduler
	logger  zerolog.Logger
	now     func() time.Time
}

// Name implements Stage.
func (h *ResultHandler) Name() string { return StageHandleResult }

// Run implements Stage.
func (h *ResultHandler) Run(ctx context.Context, pc Context) (Context, error) {
	start := h.now()
	result := pc.Result
	if result == nil {
		result = &models.SendResult{Error: "no send result", CompletedAt: start}
		pc.Result = result
	}
	duration := start.Sub(pc.StartedAt)

	log := h.logger.With().
		Str("pipeline_id", pc.PipelineID).
		Str("email_type", pc.Payload.EmailType).
		Str("provider", result.Provider).
		Str("recipient", pc.Payload.RecipientEmail).
		Logger()

	var failures []string
	step := func(name string, fn func() error) {
		if err := guard(fn); err != nil {
			failures = append(failures, name+": "+err.Error())
			log.Warn().Err(err).Str("step", name).Msg("result handler step failed")
		}
	}

	step("log", func() error {
		if h.logs == nil {
			return nil
		}
		return h.logs.Write(ctx, h.logEntry(pc, duration))
	})

	if !result.Success {
		step("classify", func() error {
			sendErr := pc.SendErr
			if sendErr == nil {
				sendErr = errors.New(result.Error)
			}
			pc.Retryable = retry.IsRetryable(sendErr)
			decision := "terminal failure"
			if pc.Retryable {
				decision = "eligible for retry queue"
			}
			log.Warn().
				Str("error", result.Error).
				Int("attempts", result.Attempts).
				Bool("retryable", pc.Retryable).
				Msgf("send failed; %s", decision)
			return nil
		})
	} else {
		log.Info().
			Str("message_id", result.MessageID).
			Int("attempts", result.Attempts).
			Dur("duration", duration).
			Msg("email sent")
	}

	step("metrics", func() error {
		if h.metrics != nil {
			h.metrics.RecordSend(pc.Payload.EmailType, result.Provider, result.Success, duration, result.Error)
		}
		return nil
	})

	usage := observability.AuditSkipped
	if result.Success && pc.Template != nil && pc.Template.Source == models.TemplateSourceDatabase && h.usage != nil {
		templateID := pc.Template.ID
		usage = observability.AuditSuccess
		step("usage", func() error {
			var err error
			if h.tasks == nil {
				err = h.usage.IncrementUsage(ctx, templateID)
			} else {
				err = h.tasks.Go("template_usage", func(ctx context.Context) error {
					return h.usage.IncrementUsage(ctx, templateID)
				})
			}
			if err != nil {
				usage = observability.AuditError
			}
			return err
		})
	}

	pc.State = StateHandled

	step("audit", func() error {
		if h.audit == nil {
			return nil
		}
		entry := observability.AuditEntry{
			PipelineID: pc.PipelineID,
			Stage:      StageHandleResult,
			Status:     observability.AuditSuccess,
			Timestamp:  h.now(),
			DurationMs: h.now().Sub(start).Milliseconds(),
			Data: map[string]any{
				"success":        result.Success,
				"provider":       result.Provider,
				"attempts":       result.Attempts,
				"template_usage": usage,
			},
		}
		if len(failures) > 0 {
			entry.Status = observability.AuditError
			entry.Error = fmt.Sprint(failures)
		}
		h.audit.Record(entry)
		return nil
	})

	return pc, nil
}

func (h *ResultHandler) logEntry(pc Context, duration time.Duration) *models.LogEntry {
	result := pc.Result
	status := models.LogStatusFailed
	var sentAt *time.Time
	if result.Success {
		status = models.LogStatusSent
		completed := result.CompletedAt
		sentAt = &completed
	}

	entry := &models.LogEntry{
		PipelineID:     pc.PipelineID,
		RecipientEmail: pc.Payload.RecipientEmail,
		RecipientName:  pc.Payload.RecipientName,
		OrderID:        pc.Payload.Metadata.OrderID,
		EmailType:      pc.Payload.EmailType,
		Status:         status,
		Provider:       result.Provider,
		MessageID:      result.MessageID,
		ErrorMessage:   result.Error,
		RetryCount:     pc.Input.RetryCount,
		Attempts:       result.Attempts,
		DurationMs:     duration.Milliseconds(),
		SentAt:         sentAt,
		CreatedAt:      h.now(),
		Metadata: map[string]any{
			"event_type": pc.Payload.Metadata.EventType,
			"event_id":   pc.Payload.Metadata.EventID,
			"source":     pc.Payload.Metadata.Source,
		},
	}
	if pc.Rendered != nil {
		entry.Subject = pc.Rendered.Subject
		if pc.Rendered.RenderError != "" {
			entry.Metadata["render_error"] = pc.Rendered.RenderError
		}
	}
	if pc.Template != nil {
		entry.TemplateID = pc.Template.ID
		entry.TemplateSource = pc.Template.Source
	}
	for k, v := range pc.Payload.Metadata.LogData {
		entry.Metadata[k] = v
	}
	return entry
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
