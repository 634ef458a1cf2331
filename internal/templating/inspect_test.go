package templating

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVariables(t *testing.T) {
	tpl := `Hi {{recipientName}} {{#if order.paid}}paid {{total|currency}}{{/if}}
{{#each items}}{{@index}} {{name}} {{this}}{{/each}} {{recipientName}}`

	got := ExtractVariables(tpl)
	assert.Equal(t, []string{"recipientName", "order.paid", "total", "items", "name"}, got)
}

func TestExtractVariablesEmpty(t *testing.T) {
	assert.Empty(t, ExtractVariables("no placeholders here"))
}

func TestValidateBalanced(t *testing.T) {
	res := Validate("{{#each items}}{{#if ok}}{{name}}{{/if}}{{/each}}")
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateReportsProblems(t *testing.T) {
	cases := map[string]string{
		"{{#if a}}x":               "never closed",
		"x{{/each}}":               "no matching opening tag",
		"{{#if a}}{{/each}}":       "closes {{#if a}}",
		"{{name":                   "unclosed",
		"name}}":                   "unexpected \"}}\"",
		"{{}}":                     "empty tag",
		"{{#unless a}}{{/unless}}": "unknown block helper",
		"{{a b c}}":                "malformed placeholder",
	}
	for tpl, want := range cases {
		res := Validate(tpl)
		assert.False(t, res.Valid, tpl)
		found := false
		for _, e := range res.Errors {
			if strings.Contains(e, want) {
				found = true
			}
		}
		assert.True(t, found, "%q: expected %q in %v", tpl, want, res.Errors)
	}
}

func TestValidateCountsUnbalancedBlocks(t *testing.T) {
	res := Validate("{{#if a}}{{#if b}}{{/if}}")
	assert.Contains(t, res.Errors, "unbalanced #if blocks: 2 opened, 1 closed")
}

func TestValidateIsIdempotent(t *testing.T) {
	tpl := "{{#if a}}{{#each b}}{{/if}} {{"
	first := Validate(tpl)
	second := Validate(tpl)
	assert.Equal(t, first, second)
}

func TestPlainText(t *testing.T) {
	body := `<html><head><style>p{color:red}</style></head><body>
<h1>Order   X1</h1><p>Hello &amp; welcome</p><script>alert(1)</script><p>Total: 1.000 ₫</p></body></html>`

	assert.Equal(t, "Order X1\n\nHello & welcome\n\nTotal: 1.000 ₫", PlainText(body))
}
