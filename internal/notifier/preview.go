package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/pipeline/builtin"
	"github.com/example/notification-pipeline/internal/repository"
	"github.com/example/notification-pipeline/internal/templating"
)

// ErrPreviewInput is returned when a preview request names neither a
// template, an email type nor inline content.
var ErrPreviewInput = errors.New("notifier: preview needs a template id, type or content")

// PreviewRequest selects what to render. An explicit Subject or HTMLContent
// overrides the corresponding part of the resolved template. Data defaults
// to the sample data of the resolved type.
type PreviewRequest struct {
	TemplateID  string         `json:"template_id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	HTMLContent string         `json:"html_content,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// PreviewResult is a rendered template that was not sent.
type PreviewResult struct {
	Subject   string   `json:"subject"`
	HTMLBody  string   `json:"html_body"`
	TextBody  string   `json:"text_body"`
	Variables []string `json:"variables"`
	Type      string   `json:"type"`
	Source    string   `json:"source,omitempty"`
}

// PreviewTemplate renders a template without sending it.
func (n *Notifier) PreviewTemplate(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	if req.TemplateID == "" && req.Type == "" && req.Subject == "" && req.HTMLContent == "" {
		return PreviewResult{}, ErrPreviewInput
	}

	tpl, err := n.resolveTemplate(ctx, req.TemplateID, req.Type)
	if err != nil {
		return PreviewResult{}, err
	}
	subject, body := tpl.Subject, tpl.HTMLContent
	if req.Subject != "" {
		subject = req.Subject
	}
	if req.HTMLContent != "" {
		body = req.HTMLContent
	}

	emailType := tpl.Type
	if req.Type != "" {
		emailType = models.EmailTypeForEvent(req.Type)
	}

	data := req.Data
	if data == nil {
		data = n.SampleData(emailType)
	}
	vars := n.pipeline.Variables(data)
	if _, ok := vars["recipient_name"]; !ok {
		vars["recipient_name"] = models.DefaultRecipientName
	}
	if _, ok := vars["recipientName"]; !ok {
		vars["recipientName"] = vars["recipient_name"]
	}

	renderedSubject, err := n.engine.Render(subject, vars)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("notifier: render subject: %w", err)
	}
	renderedBody, err := n.engine.Render(body, vars)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("notifier: render body: %w", err)
	}

	return PreviewResult{
		Subject:   strings.TrimSpace(renderedSubject),
		HTMLBody:  strings.TrimSpace(renderedBody),
		TextBody:  templating.PlainText(renderedBody),
		Variables: mergeVariables(templating.ExtractVariables(subject), templating.ExtractVariables(body)),
		Type:      emailType,
		Source:    string(tpl.Source),
	}, nil
}

// SampleData returns canned variables for emailType, or the custom sample
// when the type has none.
func (n *Notifier) SampleData(emailType string) map[string]any {
	if data := builtin.SampleData(emailType); data != nil {
		return data
	}
	return builtin.SampleData(models.EmailTypeCustom)
}

// ValidateTemplate checks subject and body syntax.
func (n *Notifier) ValidateTemplate(subject, body string) templating.ValidationResult {
	out := templating.ValidationResult{Valid: true, Errors: []string{}}
	parts := []struct{ name, src string }{{"subject", subject}, {"html_content", body}}
	for _, part := range parts {
		res := templating.Validate(part.src)
		if res.Valid {
			continue
		}
		out.Valid = false
		for _, e := range res.Errors {
			out.Errors = append(out.Errors, part.name+": "+e)
		}
	}
	return out
}

// resolveTemplate looks up id first, then the active stored template for
// emailType, then the built-in one, then the generic template. It mirrors
// template selection without the required-variable check.
func (n *Notifier) resolveTemplate(ctx context.Context, id, emailType string) (*models.Template, error) {
	if id != "" {
		if n.templates == nil {
			return nil, fmt.Errorf("notifier: template %s: %w", id, repository.ErrNotFound)
		}
		tpl, err := n.templates.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("notifier: template %s: %w", id, err)
		}
		return tpl, nil
	}

	resolved := models.EmailTypeForEvent(emailType)
	if emailType != "" && n.templates != nil {
		tpl, err := n.templates.FindActive(ctx, resolved)
		switch {
		case err == nil:
			return tpl, nil
		case !errors.Is(err, repository.ErrNotFound):
			n.logger.Warn().Err(err).Str("email_type", resolved).Msg("template lookup failed, using built-in")
		}
	}
	if tpl, ok := builtin.Template(resolved); ok {
		return tpl, nil
	}
	return builtin.Generic(), nil
}

func mergeVariables(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
