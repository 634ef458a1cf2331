package templating

import (
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/number"
)

// Filters lists the filter names understood after a pipe in a placeholder.
var Filters = []string{"uppercase", "lowercase", "capitalize", "number", "currency", "date", "datetime", "trim", "escape"}

func (e *Engine) applyFilter(name string, val any) string {
	switch name {
	case "uppercase":
		return strings.ToUpper(stringify(val))
	case "lowercase":
		return strings.ToLower(stringify(val))
	case "capitalize":
		return capitalize(stringify(val))
	case "trim":
		return strings.TrimSpace(stringify(val))
	case "escape":
		return html.EscapeString(stringify(val))
	case "number":
		return e.formatNumber(val)
	case "currency":
		return e.FormatCurrency(val)
	case "date":
		return e.formatTime(val, e.dateLayout)
	case "datetime":
		return e.formatTime(val, e.dateTimeLayout)
	default:
		e.logger.Warn().Str("filter", name).Msg("unknown template filter")
		return stringify(val)
	}
}

// FormatCurrency groups an amount for the configured locale and appends the
// currency suffix. Values are rounded to whole units. Non-numeric values are
// returned in their string form.
func (e *Engine) FormatCurrency(val any) string {
	f, ok := numeric(val)
	if !ok {
		return stringify(val)
	}
	grouped := e.groupWhole(math.Round(f))
	if e.currencySuffix == "" {
		return grouped
	}
	return grouped + " " + e.currencySuffix
}

func (e *Engine) formatNumber(val any) string {
	f, ok := numeric(val)
	if !ok {
		return stringify(val)
	}
	if f == math.Trunc(f) {
		return e.groupWhole(f)
	}
	return e.printer.Sprintf("%v", number.Decimal(f, number.MaxFractionDigits(2)))
}

// maxExactInt bounds the values grouped through the int64 path.
const maxExactInt = 1 << 62

// groupWhole groups an integral value for the locale. Values outside the
// int64 range go through the decimal formatter instead of being truncated.
func (e *Engine) groupWhole(f float64) string {
	if f == 0 {
		return e.printer.Sprintf("%d", 0)
	}
	if math.Abs(f) < maxExactInt {
		return e.printer.Sprintf("%d", int64(f))
	}
	return e.printer.Sprintf("%v", number.Decimal(f, number.MaxFractionDigits(0)))
}

func (e *Engine) formatTime(val any, layout string) string {
	ts, ok := asTime(val)
	if !ok {
		return stringify(val)
	}
	return ts.In(e.location).Format(layout)
}

func numeric(val any) (float64, bool) {
	f, ok := toFloat(val)
	if !ok {
		s, isString := val.(string)
		if !isString {
			return 0, false
		}
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func asTime(val any) (time.Time, bool) {
	switch v := val.(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
