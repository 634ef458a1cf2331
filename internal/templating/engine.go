package templating

import (
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	defaultLocale         = "vi-VN"
	defaultCurrencySuffix = "₫"
	defaultDateLayout     = "02/01/2006"
	defaultDateTimeLayout = "15:04 02/01/2006"
)

// Engine renders the {{placeholder}} micro-language used by email templates.
// It is safe for concurrent use.
type Engine struct {
	logger         zerolog.Logger
	printer        *message.Printer
	currencySuffix string
	dateLayout     string
	dateTimeLayout string
	location       *time.Location
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for unknown paths and filters.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLocale sets the BCP 47 locale used by the number and currency filters.
func WithLocale(locale string) Option {
	return func(e *Engine) {
		tag, err := language.Parse(locale)
		if err != nil {
			return
		}
		e.printer = message.NewPrinter(tag)
	}
}

// WithCurrencySuffix sets the symbol appended by the currency filter.
func WithCurrencySuffix(suffix string) Option {
	return func(e *Engine) {
		e.currencySuffix = suffix
	}
}

// WithDateLayouts overrides the layouts used by the date and datetime filters.
func WithDateLayouts(date, dateTime string) Option {
	return func(e *Engine) {
		if date != "" {
			e.dateLayout = date
		}
		if dateTime != "" {
			e.dateTimeLayout = dateTime
		}
	}
}

// WithLocation sets the zone dates are converted to before formatting.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// New constructs an Engine. Defaults format numbers for vi-VN with a ₫ suffix.
func New(opts ...Option) *Engine {
	e := &Engine{
		printer:        message.NewPrinter(language.MustParse(defaultLocale)),
		currencySuffix: defaultCurrencySuffix,
		dateLayout:     defaultDateLayout,
		dateTimeLayout: defaultDateTimeLayout,
		location:       time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	if reflect.ValueOf(e.logger).IsZero() {
		e.logger = zerolog.Nop()
	}
	return e
}

// Render expands tpl against data. Loop blocks are expanded with the loop
// item in scope, then conditionals, then plain placeholders. Missing paths
// render as empty strings. An error is returned only for unbalanced blocks.
func (e *Engine) Render(tpl string, data map[string]any) (string, error) {
	toks, _ := tokenize(tpl)
	nodes, err := parse(toks)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(tpl))
	e.renderNodes(&b, nodes, &scope{vars: data})
	return b.String(), nil
}

func (e *Engine) renderNodes(b *strings.Builder, nodes []node, s *scope) {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			b.WriteString(n.text)
		case varNode:
			b.WriteString(e.renderVar(n, s))
		case *blockNode:
			switch n.kind {
			case blockEach:
				e.renderEach(b, n, s)
			case blockIf:
				val, _ := s.resolve(n.path)
				if truthy(val) {
					e.renderNodes(b, n.body, s)
				}
			}
		}
	}
}

func (e *Engine) renderEach(b *strings.Builder, n *blockNode, s *scope) {
	val, found := s.resolve(n.path)
	if !found || val == nil {
		e.logger.Warn().Str("path", n.path).Msg("each target not found")
		return
	}

	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		e.logger.Warn().Str("path", n.path).Str("kind", rv.Kind().String()).Msg("each target is not a sequence")
		return
	}

	count := rv.Len()
	for i := 0; i < count; i++ {
		item := rv.Index(i).Interface()
		vars := map[string]any{}
		if m, ok := asStringMap(item); ok {
			for k, v := range m {
				vars[k] = v
			}
		}
		vars["this"] = item
		vars["@index"] = i
		vars["@first"] = i == 0
		vars["@last"] = i == count-1
		e.renderNodes(b, n.body, &scope{vars: vars, parent: s})
	}
}

func (e *Engine) renderVar(n varNode, s *scope) string {
	val, found := s.resolve(n.path)
	if !found {
		e.logger.Warn().Str("path", n.path).Msg("template variable not found")
		return ""
	}
	if n.filter == "" {
		return stringify(val)
	}
	return e.applyFilter(n.filter, val)
}
