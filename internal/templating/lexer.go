package templating

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnbalancedBlock is returned when #if/#each blocks are not closed in order.
var ErrUnbalancedBlock = errors.New("templating: unbalanced block")

const (
	blockIf   = "if"
	blockEach = "each"
)

var placeholderPattern = regexp.MustCompile(`^[A-Za-z0-9_@$][A-Za-z0-9_@$.-]*(\s*\|\s*[A-Za-z_]+)?$`)

type tokenKind int

const (
	tokText tokenKind = iota
	tokVar
	tokOpen
	tokClose
)

type token struct {
	kind  tokenKind
	block string
	value string
	pos   int
}

// tokenize splits src into literal text and {{...}} tags. Malformed tags are
// kept as literal text and reported in problems; it never fails.
func tokenize(src string) ([]token, []string) {
	var (
		toks     []token
		problems []string
	)

	i := 0
	for i < len(src) {
		rel := strings.Index(src[i:], "{{")
		if rel < 0 {
			problems = append(problems, strayClosers(src, i, len(src))...)
			toks = append(toks, token{kind: tokText, value: src[i:], pos: i})
			break
		}
		start := i + rel
		problems = append(problems, strayClosers(src, i, start)...)
		if start > i {
			toks = append(toks, token{kind: tokText, value: src[i:start], pos: i})
		}

		relEnd := strings.Index(src[start+2:], "}}")
		if relEnd < 0 {
			problems = append(problems, fmt.Sprintf("unclosed \"{{\" at offset %d", start))
			toks = append(toks, token{kind: tokText, value: src[start:], pos: start})
			break
		}
		end := start + 2 + relEnd
		raw := src[start : end+2]
		inner := strings.TrimSpace(src[start+2 : end])

		tok, problem := classify(inner, start)
		if problem != "" {
			problems = append(problems, problem)
			tok = token{kind: tokText, value: raw, pos: start}
		}
		toks = append(toks, tok)
		i = end + 2
	}

	return toks, problems
}

func strayClosers(src string, from, to int) []string {
	var out []string
	seg := src[from:to]
	for {
		idx := strings.Index(seg, "}}")
		if idx < 0 {
			return out
		}
		out = append(out, fmt.Sprintf("unexpected \"}}\" at offset %d", from+idx))
		seg = seg[idx+2:]
		from += idx + 2
	}
}

func classify(inner string, pos int) (token, string) {
	switch {
	case inner == "":
		return token{}, fmt.Sprintf("empty tag at offset %d", pos)
	case strings.Contains(inner, "{{"):
		return token{}, fmt.Sprintf("nested \"{{\" at offset %d", pos)
	case strings.HasPrefix(inner, "#"):
		fields := strings.Fields(inner[1:])
		if len(fields) == 0 {
			return token{}, fmt.Sprintf("block tag without helper at offset %d", pos)
		}
		name := fields[0]
		if name != blockIf && name != blockEach {
			return token{}, fmt.Sprintf("unknown block helper #%s at offset %d", name, pos)
		}
		if len(fields) != 2 {
			return token{}, fmt.Sprintf("#%s expects exactly one path at offset %d", name, pos)
		}
		return token{kind: tokOpen, block: name, value: fields[1], pos: pos}, ""
	case strings.HasPrefix(inner, "/"):
		name := strings.TrimSpace(inner[1:])
		if name != blockIf && name != blockEach {
			return token{}, fmt.Sprintf("unknown closing tag {{/%s}} at offset %d", name, pos)
		}
		return token{kind: tokClose, block: name, pos: pos}, ""
	case !placeholderPattern.MatchString(inner):
		return token{}, fmt.Sprintf("malformed placeholder %q at offset %d", inner, pos)
	default:
		return token{kind: tokVar, value: inner, pos: pos}, ""
	}
}

type node interface{}

type textNode struct {
	text string
}

type varNode struct {
	path   string
	filter string
}

type blockNode struct {
	kind string
	path string
	body []node
}

// parse builds the block tree, failing on the first unbalanced tag.
func parse(toks []token) ([]node, error) {
	root := &blockNode{}
	stack := []*blockNode{root}

	for _, t := range toks {
		top := stack[len(stack)-1]
		switch t.kind {
		case tokText:
			top.body = append(top.body, textNode{text: t.value})
		case tokVar:
			path, filter := splitExpr(t.value)
			top.body = append(top.body, varNode{path: path, filter: filter})
		case tokOpen:
			child := &blockNode{kind: t.block, path: t.value}
			top.body = append(top.body, child)
			stack = append(stack, child)
		case tokClose:
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w: {{/%s}} at offset %d has no opening tag", ErrUnbalancedBlock, t.block, t.pos)
			}
			if top.kind != t.block {
				return nil, fmt.Errorf("%w: {{/%s}} at offset %d closes #%s", ErrUnbalancedBlock, t.block, t.pos, top.kind)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1]
		return nil, fmt.Errorf("%w: #%s %s is never closed", ErrUnbalancedBlock, open.kind, open.path)
	}
	return root.body, nil
}

func splitExpr(expr string) (string, string) {
	path, filter, found := strings.Cut(expr, "|")
	if !found {
		return strings.TrimSpace(expr), ""
	}
	return strings.TrimSpace(path), strings.ToLower(strings.TrimSpace(filter))
}
