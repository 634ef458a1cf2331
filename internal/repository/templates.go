// Package repository maps email templates and send logs onto the entity store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/logger"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/store"
	"github.com/example/notification-pipeline/internal/templating"
)

// ErrNotFound is returned when no matching record exists.
var ErrNotFound = store.ErrNotFound

// ErrInvalidTemplate is returned by Save when the subject or body is malformed.
var ErrInvalidTemplate = errors.New("repository: invalid template")

// TemplateRepository reads and writes administrator-managed templates.
type TemplateRepository struct {
	store  store.EntityStore
	logger zerolog.Logger
	now    func() time.Time
}

// Option customises a repository.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// NewTemplateRepository wraps an entity store.
func NewTemplateRepository(s store.EntityStore, log zerolog.Logger, opts ...Option) *TemplateRepository {
	o := buildOptions(opts)
	return &TemplateRepository{
		store:  s,
		logger: logger.Component(log, "template_repository"),
		now:    o.now,
	}
}

// FindActive returns the active template for emailType, preferring the one
// flagged default and otherwise the most recently updated.
func (r *TemplateRepository) FindActive(ctx context.Context, emailType string) (*models.Template, error) {
	templates, err := r.list(ctx, map[string]any{"type": emailType, "is_active": true})
	if err != nil {
		return nil, fmt.Errorf("repository: find active %s: %w", emailType, err)
	}
	if len(templates) == 0 {
		return nil, ErrNotFound
	}
	for _, tpl := range templates {
		if tpl.IsDefault {
			return tpl, nil
		}
	}
	return templates[0], nil
}

// Get loads a template by id.
func (r *TemplateRepository) Get(ctx context.Context, id string) (*models.Template, error) {
	doc, err := r.store.Get(ctx, store.CollectionTemplates, id)
	if err != nil {
		return nil, fmt.Errorf("repository: get template %s: %w", id, err)
	}
	return decodeTemplate(doc)
}

// ListByType returns every template of a type, newest first.
func (r *TemplateRepository) ListByType(ctx context.Context, emailType string) ([]*models.Template, error) {
	templates, err := r.list(ctx, map[string]any{"type": emailType})
	if err != nil {
		return nil, fmt.Errorf("repository: list templates %s: %w", emailType, err)
	}
	return templates, nil
}

// list decodes matching templates ordered by UpdatedAt, newest first.
func (r *TemplateRepository) list(ctx context.Context, filter map[string]any) ([]*models.Template, error) {
	docs, err := r.store.Filter(ctx, store.CollectionTemplates, store.Query{Filter: filter})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Template, 0, len(docs))
	for _, doc := range docs {
		tpl, err := decodeTemplate(doc)
		if err != nil {
			r.logger.Warn().Err(err).Str("id", doc.ID()).Msg("skipping undecodable template")
			continue
		}
		out = append(out, tpl)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Save validates and stores tpl, creating it when it has no id. Usage
// counters are never overwritten by Save.
func (r *TemplateRepository) Save(ctx context.Context, tpl *models.Template) (*models.Template, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: template is required", ErrInvalidTemplate)
	}
	if strings.TrimSpace(tpl.Type) == "" || strings.TrimSpace(tpl.Subject) == "" || strings.TrimSpace(tpl.HTMLContent) == "" {
		return nil, fmt.Errorf("%w: type, subject and html_content are required", ErrInvalidTemplate)
	}
	var problems []string
	for _, part := range []string{tpl.Subject, tpl.HTMLContent} {
		problems = append(problems, templating.Validate(part).Errors...)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTemplate, strings.Join(problems, "; "))
	}

	now := r.now().UTC()
	tpl.Source = models.TemplateSourceDatabase
	tpl.UpdatedAt = now

	if tpl.ID == "" {
		tpl.CreatedAt = now
		doc, err := store.Encode(tpl)
		if err != nil {
			return nil, err
		}
		delete(doc, "id")
		created, err := r.store.Create(ctx, store.CollectionTemplates, doc)
		if err != nil {
			return nil, fmt.Errorf("repository: create template: %w", err)
		}
		return decodeTemplate(created)
	}

	doc, err := store.Encode(tpl)
	if err != nil {
		return nil, err
	}
	delete(doc, "usage_count")
	delete(doc, "last_used_at")
	delete(doc, "created_at")
	updated, err := r.store.Update(ctx, store.CollectionTemplates, tpl.ID, doc)
	if err != nil {
		return nil, fmt.Errorf("repository: update template %s: %w", tpl.ID, err)
	}
	return decodeTemplate(updated)
}

// SetDefault marks id as the default for its type and clears the flag on the
// other templates of that type.
func (r *TemplateRepository) SetDefault(ctx context.Context, id string) error {
	tpl, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	siblings, err := r.store.Filter(ctx, store.CollectionTemplates, store.Query{
		Filter: map[string]any{"type": tpl.Type, "is_default": true},
	})
	if err != nil {
		return fmt.Errorf("repository: list defaults: %w", err)
	}
	for _, doc := range siblings {
		if doc.ID() == id {
			continue
		}
		if _, err := r.store.Update(ctx, store.CollectionTemplates, doc.ID(), store.Document{"is_default": false}); err != nil {
			return fmt.Errorf("repository: clear default %s: %w", doc.ID(), err)
		}
	}
	_, err = r.store.Update(ctx, store.CollectionTemplates, id, store.Document{
		"is_default": true,
		"is_active":  true,
		"updated_at": r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("repository: set default %s: %w", id, err)
	}
	return nil
}

// Deactivate removes a template from selection without deleting it.
func (r *TemplateRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.store.Update(ctx, store.CollectionTemplates, id, store.Document{
		"is_active":  false,
		"is_default": false,
		"updated_at": r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("repository: deactivate %s: %w", id, err)
	}
	return nil
}

// IncrementUsage bumps the usage counter and last-used timestamp.
func (r *TemplateRepository) IncrementUsage(ctx context.Context, id string) error {
	_, err := r.store.Increment(ctx, store.CollectionTemplates, id, "usage_count", 1, store.Document{
		"last_used_at": r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("repository: increment usage %s: %w", id, err)
	}
	return nil
}

func decodeTemplate(doc store.Document) (*models.Template, error) {
	var tpl models.Template
	if err := store.Decode(doc, &tpl); err != nil {
		return nil, err
	}
	tpl.Source = models.TemplateSourceDatabase
	return &tpl, nil
}
