package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/pipeline/builtin"
	"github.com/example/notification-pipeline/internal/templating"
)

var errEmptyRender = errors.New("rendered template is empty")

// Renderer is stage 3. It never fails: a template that errors or renders
// empty is replaced by the branded fallback and the error is recorded.
type Renderer struct {
	engine *templating.Engine
	logger zerolog.Logger
	now    func() time.Time
}

// Name implements Stage.
func (r *Renderer) Name() string { return StageRender }

// Run implements Stage.
func (r *Renderer) Run(_ context.Context, pc Context) (Context, error) {
	vars := pc.Payload.Variables

	subject, body, err := r.render(pc.Template, vars)
	rendered := &models.RenderedContent{}
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("pipeline_id", pc.PipelineID).
			Str("email_type", pc.Payload.EmailType).
			Str("template_id", pc.Template.ID).
			Msg("template render failed; using fallback template")
		rendered.RenderError = err.Error()
		subject, body = r.fallback(vars)
	}

	rendered.Subject = subject
	rendered.HTMLBody = body
	rendered.TextBody = templating.PlainText(body)
	rendered.RenderedAt = r.now()

	pc.Rendered = rendered
	pc.State = StateRendered
	return pc, nil
}

func (r *Renderer) render(tpl *models.Template, vars map[string]any) (subject, body string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()
	if tpl == nil {
		return "", "", errors.New("no template selected")
	}

	subject, err = r.engine.Render(tpl.Subject, vars)
	if err != nil {
		return "", "", fmt.Errorf("subject: %w", err)
	}
	body, err = r.engine.Render(tpl.HTMLContent, vars)
	if err != nil {
		return "", "", fmt.Errorf("body: %w", err)
	}

	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" || body == "" {
		return "", "", errEmptyRender
	}
	return subject, body, nil
}

// fallback renders the branded fallback template. If even that fails a
// fixed message is used so the send can still be attempted.
func (r *Renderer) fallback(vars map[string]any) (string, string) {
	tpl := builtin.Fallback()
	if subject, body, err := r.render(tpl, vars); err == nil {
		return subject, body
	}
	name, _ := vars["recipient_name"].(string)
	return "A message for you", "<p>Hello " + html.EscapeString(name) + ",</p><p>We have an update for you.</p>"
}
