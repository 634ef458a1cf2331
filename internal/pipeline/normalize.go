package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/templating"
	"github.com/example/notification-pipeline/internal/util"
)

// recipientExtractor pulls a recipient out of one known event shape.
type recipientExtractor func(data map[string]any) (address, name string, ok bool)

var (
	emailKeys = []string{"recipient_email", "recipientEmail", "customer_email", "customerEmail", "email", "to"}
	nameKeys  = []string{"recipient_name", "recipientName", "customer_name", "customerName", "full_name", "fullName", "name"}
	orderKeys = []string{"order_id", "orderId", "id"}
)

// defaultExtractors are tried in order; the first match wins.
var defaultExtractors = []recipientExtractor{
	fieldsExtractor(nil),
	fieldsExtractor([]string{"data"}),
	fieldsExtractor([]string{"order"}),
	fieldsExtractor([]string{"data", "order"}),
	fieldsExtractor([]string{"customer"}),
	fieldsExtractor([]string{"user"}),
}

func fieldsExtractor(path []string) recipientExtractor {
	return func(data map[string]any) (string, string, bool) {
		m := data
		for _, key := range path {
			nested, ok := m[key].(map[string]any)
			if !ok {
				return "", "", false
			}
			m = nested
		}
		address := firstString(m, emailKeys...)
		if address == "" {
			return "", "", false
		}
		return address, firstString(m, nameKeys...), true
	}
}

// Normalizer is stage 1: it resolves recipient, email type, priority and
// template variables from the raw event.
type Normalizer struct {
	engine     *templating.Engine
	branding   Branding
	extractors []recipientExtractor
	now        func() time.Time
}

func newNormalizer(engine *templating.Engine, branding Branding, now func() time.Time) *Normalizer {
	return &Normalizer{engine: engine, branding: branding, extractors: defaultExtractors, now: now}
}

// Name implements Stage.
func (n *Normalizer) Name() string { return StageNormalize }

// Run implements Stage.
func (n *Normalizer) Run(_ context.Context, pc Context) (Context, error) {
	data := pc.Input.Data
	if data == nil {
		data = map[string]any{}
	}

	address, name := "", ""
	for _, extract := range n.extractors {
		if a, nm, ok := extract(data); ok {
			address, name = a, nm
			break
		}
	}
	if address == "" {
		return pc, fmt.Errorf("%w: no recipient address in event", ErrInvalidRecipient)
	}
	normalized, err := util.NormalizeEmail(address)
	if err != nil {
		return pc, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if strings.TrimSpace(name) == "" {
		name = models.DefaultRecipientName
	}

	eventType := pc.Input.EventType
	if eventType == "" {
		eventType = firstString(data, "type", "event_type", "eventType", "email_type", "emailType")
	}
	emailType := models.EmailTypeForEvent(eventType)

	priority := pc.Input.Priority
	if priority == "" {
		if p, ok := models.ParsePriority(firstString(data, "priority")); ok {
			priority = p
		} else {
			priority = models.DefaultPriority(emailType)
		}
	}

	now := n.now()
	vars := n.variables(data, now)
	vars["recipient_email"] = normalized
	vars["recipient_name"] = name
	vars["recipientName"] = name
	vars["recipientEmail"] = normalized

	eventID := pc.Input.EventID
	if eventID == "" {
		eventID = firstString(data, "event_id", "eventId")
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}
	source := pc.Input.Source
	if source == "" {
		source = "direct"
	}

	pc.Payload = &models.EmailPayload{
		RecipientEmail: normalized,
		RecipientName:  name,
		EmailType:      emailType,
		Priority:       priority,
		Variables:      vars,
		Metadata: models.EmailMetadata{
			EventType: eventType,
			EventID:   eventID,
			Source:    source,
			Timestamp: now,
			OrderID:   orderID(vars),
			LogData:   pc.Input.LogData,
		},
	}
	pc.State = StateNormalized
	return pc, nil
}

// variables flattens nested data and order maps into the top level without
// overwriting, adds snake_case aliases for camelCase keys and *_formatted
// currency strings for amount fields.
func (n *Normalizer) variables(data map[string]any, now time.Time) map[string]any {
	vars := make(map[string]any, len(data)+16)
	for k, v := range data {
		vars[k] = v
	}
	for _, key := range []string{"data", "order"} {
		if nested, ok := data[key].(map[string]any); ok {
			merge(vars, nested)
		}
	}
	if nested, ok := data["data"].(map[string]any); ok {
		if order, ok := nested["order"].(map[string]any); ok {
			merge(vars, order)
		}
	}

	for k, v := range snakeAliases(vars) {
		if _, exists := vars[k]; !exists {
			vars[k] = v
		}
	}
	switch items := vars["items"].(type) {
	case []any:
		vars["items"] = n.normalizeItems(items)
	case []map[string]any:
		generic := make([]any, len(items))
		for i, item := range items {
			generic[i] = item
		}
		vars["items"] = n.normalizeItems(generic)
	}

	for k, v := range vars {
		if !isAmountKey(k) || !isNumber(v) {
			continue
		}
		formatted := k + "_formatted"
		if _, exists := vars[formatted]; !exists {
			vars[formatted] = n.engine.FormatCurrency(v)
		}
	}

	setDefault(vars, "brand_name", n.branding.Name)
	setDefault(vars, "support_email", n.branding.SupportEmail)
	setDefault(vars, "current_date", now.Format("02/01/2006"))
	setDefault(vars, "current_year", strconv.Itoa(now.Year()))
	return vars
}

func (n *Normalizer) normalizeItems(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			out[i] = item
			continue
		}
		copied := make(map[string]any, len(m)+4)
		merge(copied, m)
		for k, v := range snakeAliases(m) {
			setDefault(copied, k, v)
		}
		for k, v := range copied {
			if isAmountKey(k) && isNumber(v) {
				setDefault(copied, k+"_formatted", n.engine.FormatCurrency(v))
			}
		}
		out[i] = copied
	}
	return out
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}

func setDefault(m map[string]any, key string, value any) {
	if _, exists := m[key]; !exists {
		m[key] = value
	}
}

func snakeAliases(m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		if snake := toSnake(k); snake != k {
			out[snake] = v
		}
	}
	return out
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var amountMarkers = []string{"amount", "price", "total", "subtotal", "fee", "discount", "cost"}

func isAmountKey(key string) bool {
	if strings.HasSuffix(key, "_formatted") || key != toSnake(key) {
		return false
	}
	for _, marker := range amountMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func isNumber(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case fmt.Stringer:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

func orderID(vars map[string]any) string {
	if id := firstString(vars, orderKeys[:2]...); id != "" {
		return id
	}
	if order, ok := vars["order"].(map[string]any); ok {
		return firstString(order, orderKeys...)
	}
	return ""
}
