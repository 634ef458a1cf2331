// Package builtin embeds the templates used when the store has no active
// template for an email type, and canned sample data for previews.
package builtin

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/example/notification-pipeline/internal/models"
)

var (
	//go:embed templates.yaml
	templatesYAML []byte
	//go:embed samples.yaml
	samplesYAML []byte
)

type catalog struct {
	Templates []models.Template `yaml:"templates"`
	Generic   models.Template   `yaml:"generic"`
	Fallback  models.Template   `yaml:"fallback"`

	byType  map[string]models.Template
	samples map[string]map[string]any
}

var (
	loadOnce sync.Once
	loaded   *catalog
	loadErr  error
)

func load() (*catalog, error) {
	loadOnce.Do(func() {
		var c catalog
		if err := yaml.Unmarshal(templatesYAML, &c); err != nil {
			loadErr = fmt.Errorf("builtin: parse templates: %w", err)
			return
		}
		c.byType = make(map[string]models.Template, len(c.Templates))
		for _, tpl := range c.Templates {
			tpl.Source = models.TemplateSourceBuiltin
			tpl.IsActive = true
			c.byType[tpl.Type] = tpl
		}
		for _, tpl := range []*models.Template{&c.Generic, &c.Fallback} {
			tpl.Source = models.TemplateSourceBuiltin
			tpl.IsActive = true
			tpl.Generic = true
		}

		if err := yaml.Unmarshal(samplesYAML, &c.samples); err != nil {
			loadErr = fmt.Errorf("builtin: parse samples: %w", err)
			return
		}
		loaded = &c
	})
	return loaded, loadErr
}

func mustLoad() *catalog {
	c, err := load()
	if err != nil {
		panic(err)
	}
	return c
}

// Template returns a copy of the built-in template for emailType.
func Template(emailType string) (*models.Template, bool) {
	tpl, ok := mustLoad().byType[emailType]
	if !ok {
		return nil, false
	}
	out := tpl
	out.Required = append([]string(nil), tpl.Required...)
	return &out, true
}

// Generic returns the minimal template parameterised only by recipientName.
func Generic() *models.Template {
	tpl := mustLoad().Generic
	return &tpl
}

// Fallback returns the branded template rendered when a template fails.
func Fallback() *models.Template {
	tpl := mustLoad().Fallback
	return &tpl
}

// Types lists the email types with a built-in template, sorted.
func Types() []string {
	c := mustLoad()
	out := make([]string, 0, len(c.byType))
	for t := range c.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SampleData returns a deep copy of the canned variables for emailType, or
// nil when none exist.
func SampleData(emailType string) map[string]any {
	data, ok := mustLoad().samples[emailType]
	if !ok {
		return nil
	}
	copied, _ := deepCopy(data).(map[string]any)
	return copied
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}
