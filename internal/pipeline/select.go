package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/pipeline/builtin"
	"github.com/example/notification-pipeline/internal/repository"
)

// TemplateFinder looks up the active stored template for an email type.
// It returns repository.ErrNotFound when none exists.
type TemplateFinder interface {
	FindActive(ctx context.Context, emailType string) (*models.Template, error)
}

// TemplateSelector is stage 2: stored template, then built-in, then the
// generic template.
type TemplateSelector struct {
	finder TemplateFinder
	logger zerolog.Logger
}

// Name implements Stage.
func (s *TemplateSelector) Name() string { return StageSelectTemplate }

// Run implements Stage.
func (s *TemplateSelector) Run(ctx context.Context, pc Context) (Context, error) {
	tpl := s.lookup(ctx, pc)
	if tpl == nil {
		if b, ok := builtin.Template(pc.Payload.EmailType); ok {
			tpl = b
		} else {
			tpl = builtin.Generic()
		}
	}

	if missing := missingVariables(tpl.Required, pc.Payload.Variables); len(missing) > 0 {
		return pc, fmt.Errorf("%w: template %s needs %v", ErrMissingVariables, tpl.ID, missing)
	}

	pc.Template = tpl
	pc.State = StateTemplateSelected
	return pc, nil
}

func (s *TemplateSelector) lookup(ctx context.Context, pc Context) *models.Template {
	if s.finder == nil {
		return nil
	}
	tpl, err := s.finder.FindActive(ctx, pc.Payload.EmailType)
	switch {
	case err == nil && tpl != nil:
		tpl.Source = models.TemplateSourceDatabase
		return tpl
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		s.logger.Warn().
			Err(err).
			Str("pipeline_id", pc.PipelineID).
			Str("email_type", pc.Payload.EmailType).
			Msg("template lookup failed; using built-in template")
	}
	return nil
}

func missingVariables(required []string, vars map[string]any) []string {
	var missing []string
	for _, name := range required {
		v, ok := vars[name]
		if !ok || v == nil || v == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
