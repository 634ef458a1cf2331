package templating

import (
	"fmt"
	"strings"
)

// ValidationResult reports whether a template is well formed.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ExtractVariables returns the distinct paths referenced by placeholders and
// block tags in order of first appearance. Loop helpers such as @index and
// this are skipped.
func ExtractVariables(tpl string) []string {
	toks, _ := tokenize(tpl)
	seen := map[string]struct{}{}
	out := []string{}
	for _, t := range toks {
		var path string
		switch t.kind {
		case tokVar:
			path, _ = splitExpr(t.value)
		case tokOpen:
			path = t.value
		default:
			continue
		}
		if path == "this" || strings.HasPrefix(path, "@") || strings.HasPrefix(path, "this.") {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}

// Validate checks tag syntax and #if/#each nesting. It never fails; problems
// are returned as human readable messages.
func Validate(tpl string) ValidationResult {
	toks, problems := tokenize(tpl)
	errs := append([]string{}, problems...)

	opened := map[string]int{}
	closed := map[string]int{}
	var stack []token
	for _, t := range toks {
		switch t.kind {
		case tokOpen:
			opened[t.block]++
			stack = append(stack, t)
		case tokClose:
			closed[t.block]++
			if len(stack) == 0 {
				errs = append(errs, fmt.Sprintf("{{/%s}} at offset %d has no matching opening tag", t.block, t.pos))
				continue
			}
			top := stack[len(stack)-1]
			if top.block != t.block {
				errs = append(errs, fmt.Sprintf("{{/%s}} at offset %d closes {{#%s %s}} opened at offset %d", t.block, t.pos, top.block, top.value, top.pos))
			}
			stack = stack[:len(stack)-1]
		}
	}
	for _, t := range stack {
		errs = append(errs, fmt.Sprintf("{{#%s %s}} at offset %d is never closed", t.block, t.value, t.pos))
	}
	for _, block := range []string{blockIf, blockEach} {
		if opened[block] != closed[block] {
			errs = append(errs, fmt.Sprintf("unbalanced #%s blocks: %d opened, %d closed", block, opened[block], closed[block]))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
