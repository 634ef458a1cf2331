package models

import "time"

// TemplateSource tags where a selected template came from.
type TemplateSource string

const (
	TemplateSourceDatabase TemplateSource = "database"
	TemplateSourceBuiltin  TemplateSource = "builtin"
)

// Template is an administrator-managed subject/body pair for an email type.
// The json names are the persisted field names in the entity store.
type Template struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Type        string         `json:"type" yaml:"type"`
	Subject     string         `json:"subject" yaml:"subject"`
	HTMLContent string         `json:"html_content" yaml:"html_content"`
	Source      TemplateSource `json:"source" yaml:"-"`
	// Generic marks the built-in catch-all and render-fallback templates.
	Generic     bool           `json:"generic,omitempty" yaml:"-"`
	IsActive    bool           `json:"is_active" yaml:"-"`
	IsDefault   bool           `json:"is_default" yaml:"-"`
	UsageCount  int64          `json:"usage_count" yaml:"-"`
	LastUsedAt  *time.Time     `json:"last_used_at,omitempty" yaml:"-"`
	Required    []string       `json:"required_variables,omitempty" yaml:"required"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// RenderedContent is the output of the render stage. Subject and HTMLBody
// are trimmed and non-empty; RenderError is set when a fallback was used.
type RenderedContent struct {
	Subject     string    `json:"subject"`
	HTMLBody    string    `json:"html_body"`
	TextBody    string    `json:"text_body"`
	RenderedAt  time.Time `json:"rendered_at"`
	RenderError string    `json:"render_error,omitempty"`
}
