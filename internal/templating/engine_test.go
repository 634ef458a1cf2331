package templating

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, e *Engine, tpl string, data map[string]any) string {
	t.Helper()
	out, err := e.Render(tpl, data)
	require.NoError(t, err)
	return out
}

func TestRenderSimpleVariables(t *testing.T) {
	e := New()
	data := map[string]any{
		"name":  "An",
		"order": map[string]any{"number": "X1", "customer": map[string]any{"city": "Hanoi"}},
	}

	out := render(t, e, "Hi {{ name }}, order {{order.number}} to {{order.customer.city}}", data)
	assert.Equal(t, "Hi An, order X1 to Hanoi", out)
}

func TestRenderMissingPathIsEmptyAndWarns(t *testing.T) {
	var buf bytes.Buffer
	e := New(WithLogger(zerolog.New(&buf)))

	out := render(t, e, "[{{missing.path}}]", map[string]any{})
	assert.Equal(t, "[]", out)
	assert.Contains(t, buf.String(), "missing.path")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestRenderFilters(t *testing.T) {
	e := New(WithLocation(time.UTC))
	data := map[string]any{
		"word":   "abc",
		"mixed":  "hELLO world",
		"amount": 1000,
		"big":    1234567.0,
		"pad":    "  spaced  ",
		"html":   `<b>"x"</b>`,
		"when":   "2026-03-05T14:30:00Z",
	}

	cases := map[string]string{
		"{{word|uppercase}}":     "ABC",
		"{{mixed|lowercase}}":    "hello world",
		"{{mixed|capitalize}}":   "Hello world",
		"{{amount|currency}}":    "1.000 ₫",
		"{{big|number}}":         "1.234.567",
		"{{pad|trim}}":           "spaced",
		"{{html|escape}}":        "&lt;b&gt;&#34;x&#34;&lt;/b&gt;",
		"{{when|date}}":          "05/03/2026",
		"{{when|datetime}}":      "14:30 05/03/2026",
		"{{word | UPPERCASE}}":   "ABC",
		"{{word|nonexistent}}":   "abc",
		"{{amount|nonexistent}}": "1000",
	}
	for tpl, want := range cases {
		assert.Equal(t, want, render(t, e, tpl, data), tpl)
	}
}

func TestCurrencyLocaleAndSuffix(t *testing.T) {
	e := New(WithLocale("en-US"), WithCurrencySuffix("USD"))
	assert.Equal(t, "10,000 USD", e.FormatCurrency(10000))
	assert.Equal(t, "n/a", e.FormatCurrency("n/a"))

	bare := New(WithCurrencySuffix(""))
	assert.Equal(t, "1.000", bare.FormatCurrency(1000.4))
}

func TestNumberFormattingBeyondInt64(t *testing.T) {
	e := New(WithLocale("en-US"), WithCurrencySuffix("USD"))
	assert.Equal(t, "10,000,000,000,000,000,000 USD", e.FormatCurrency(1e19))
	assert.Equal(t, "-1,500 USD", e.FormatCurrency(-1500))
	assert.Equal(t, "-10,000,000,000,000,000,000 USD", e.FormatCurrency(-1e19))
	assert.Equal(t, "0 USD", e.FormatCurrency(-0.2))

	out := render(t, New(), "{{x|number}}", map[string]any{"x": 1e20})
	assert.Equal(t, "100.000.000.000.000.000.000", out)
	assert.Equal(t, "-42", render(t, New(), "{{x|number}}", map[string]any{"x": -42}))
	assert.Equal(t, "NaN", render(t, New(), "{{x|currency}}", map[string]any{"x": "NaN"}))
}

func TestConditionalTruthiness(t *testing.T) {
	e := New()
	tpl := "{{#if flag}}X{{/if}}"

	cases := []struct {
		value any
		want  string
	}{
		{"0", ""},
		{"false", ""},
		{"", ""},
		{false, ""},
		{0, ""},
		{nil, ""},
		{[]any{}, ""},
		{map[string]any{}, ""},
		{true, "X"},
		{"yes", "X"},
		{1, "X"},
		{[]any{1}, "X"},
		{map[string]any{"k": 1}, "X"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, render(t, e, tpl, map[string]any{"flag": tc.value}), "flag=%#v", tc.value)
	}
	assert.Equal(t, "", render(t, e, tpl, map[string]any{}))
}

func TestNestedConditionals(t *testing.T) {
	e := New()
	tpl := "{{#if a}}A{{#if b}}B{{/if}}{{#if c}}C{{/if}}{{/if}}"
	out := render(t, e, tpl, map[string]any{"a": true, "b": "1", "c": "0"})
	assert.Equal(t, "AB", out)
}

func TestEachLoop(t *testing.T) {
	e := New()
	data := map[string]any{"items": []any{
		map[string]any{"n": 1},
		map[string]any{"n": 2},
	}}

	assert.Equal(t, "12", render(t, e, "{{#each items}}{{n}}{{/each}}", data))

	marks := render(t, e, "{{#each items}}{{#if @first}}<{{/if}}{{@index}}:{{n}}{{#if @last}}>{{/if}}{{/each}}", data)
	assert.Equal(t, "<0:11:2>", marks)
}

func TestEachMergesOuterScope(t *testing.T) {
	e := New()
	data := map[string]any{
		"currency": "VND",
		"n":        "outer",
		"items": []map[string]any{
			{"n": "a"},
			{"other": true},
		},
	}

	out := render(t, e, "{{#each items}}{{n}}-{{currency}};{{/each}}", data)
	assert.Equal(t, "a-VND;outer-VND;", out)
}

func TestEachScalarItemsAndLength(t *testing.T) {
	e := New()
	data := map[string]any{"tags": []string{"x", "y"}}
	out := render(t, e, "{{tags.length}}:{{#each tags}}{{this|uppercase}}{{/each}}", data)
	assert.Equal(t, "2:XY", out)
}

func TestEachOnNonSequenceIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	e := New(WithLogger(zerolog.New(&buf)))

	out := render(t, e, "[{{#each items}}x{{/each}}]", map[string]any{"items": "nope"})
	assert.Equal(t, "[]", out)
	assert.Contains(t, buf.String(), "not a sequence")
}

func TestLoopBodyCanUseConditionalsAndFilters(t *testing.T) {
	e := New()
	data := map[string]any{"items": []any{
		map[string]any{"name": "tea", "price": 25000, "gift": true},
		map[string]any{"name": "cup", "price": 1000},
	}}
	tpl := "{{#each items}}{{name|capitalize}} {{price|currency}}{{#if gift}} (gift){{/if}}\n{{/each}}"

	out := render(t, e, tpl, data)
	assert.Equal(t, "Tea 25.000 ₫ (gift)\nCup 1.000 ₫\n", out)
}

func TestRenderUnbalancedBlocks(t *testing.T) {
	e := New()
	for _, tpl := range []string{
		"{{#if a}}open",
		"close{{/if}}",
		"{{#each a}}{{#if b}}{{/each}}{{/if}}",
	} {
		_, err := e.Render(tpl, map[string]any{"a": true})
		assert.ErrorIs(t, err, ErrUnbalancedBlock, tpl)
	}
}

func TestRenderKeepsMalformedTagsLiteral(t *testing.T) {
	e := New()
	out := render(t, e, "a {{}} b {{ unclosed", map[string]any{})
	assert.Equal(t, "a {{}} b {{ unclosed", out)
}

func TestRoundTripAllVariablesPresent(t *testing.T) {
	e := New()
	tpl := "Dear {{recipientName}}, order {{order.number}} costs {{total}} on {{date}}."
	data := map[string]any{}
	for _, name := range ExtractVariables(tpl) {
		setPath(data, name, "v-"+name)
	}

	out := render(t, e, tpl, data)
	assert.NotContains(t, out, "  ")
	assert.Equal(t, "Dear v-recipientName, order v-order.number costs v-total on v-date.", out)
}

func setPath(data map[string]any, path, value string) {
	segs := strings.Split(path, ".")
	cur := data
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}
