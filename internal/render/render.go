package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Variables is the context template expressions are evaluated against
type Variables map[string]any

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

var (
	ErrUnclosedExpression = errors.New("unclosed template expression")
	ErrEmptyExpression    = errors.New("empty template expression")
	ErrMissingVariable    = errors.New("missing template variable")
	ErrInvalidExpression  = errors.New("invalid template expression")
)

// Render replaces every {{ path }} expression in the template with the value
// found at that path. String values are inserted as is, anything else is
// inserted as JSON
func Render(tmpl string, vars Variables) (string, error) {
	if !strings.Contains(tmpl, openDelim) {
		return tmpl, nil
	}
	doc, err := json.Marshal(vars)
	if err != nil {
		return "", err
	}
	return renderDocument(tmpl, string(doc))
}

// RenderMap renders every string found in the map, recursively through
// nested maps and slices
func RenderMap(in map[string]any, vars Variables) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	doc, err := json.Marshal(vars)
	if err != nil {
		return nil, err
	}
	res, err := renderValue(in, string(doc))
	if err != nil {
		return nil, err
	}
	return res.(map[string]any), nil
}

// Lookup evaluates a single path expression and returns its decoded value
func Lookup(expr string, vars Variables) (any, error) {
	doc, err := json.Marshal(vars)
	if err != nil {
		return nil, err
	}
	res, err := evaluate(strings.TrimSpace(expr), string(doc))
	if err != nil {
		return nil, err
	}
	return res.Value(), nil
}

func renderValue(v any, doc string) (any, error) {
	switch v := v.(type) {
	case string:
		return renderDocument(v, doc)
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, item := range v {
			r, err := renderValue(item, doc)
			if err != nil {
				return nil, err
			}
			res[k] = r
		}
		return res, nil
	case []any:
		res := make([]any, 0, len(v))
		for _, item := range v {
			r, err := renderValue(item, doc)
			if err != nil {
				return nil, err
			}
			res = append(res, r)
		}
		return res, nil
	default:
		return v, nil
	}
}

func renderDocument(tmpl, doc string) (string, error) {
	var buf strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			buf.WriteString(rest)
			return buf.String(), nil
		}
		buf.WriteString(rest[:start])
		rest = rest[start+len(openDelim):]

		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return "", fmt.Errorf("%w: %s", ErrUnclosedExpression, tmpl)
		}
		expr := strings.TrimSpace(rest[:end])
		rest = rest[end+len(closeDelim):]

		res, err := evaluate(expr, doc)
		if err != nil {
			return "", err
		}
		if res.Type == gjson.String {
			buf.WriteString(res.Str)
		} else {
			buf.WriteString(res.Raw)
		}
	}
}

func evaluate(expr, doc string) (gjson.Result, error) {
	if expr == "" {
		return gjson.Result{}, ErrEmptyExpression
	}
	if lit, ok := stringLiteral(expr); ok {
		return gjson.Result{Type: gjson.String, Str: lit, Raw: quote(lit)}, nil
	}
	path, err := toPath(expr, doc)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.Get(doc, path)
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrMissingVariable, expr)
	}
	return res, nil
}

// toPath converts an expression like outputs.each[taskrun.value].value into
// a gjson path. Bracketed segments are either quoted keys or expressions
// that are evaluated first
func toPath(expr, doc string) (string, error) {
	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, escapeKey(cur.String()))
			cur.Reset()
		}
	}

	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := matchingBracket(expr, i)
			if end < 0 {
				return "", fmt.Errorf("%w: %s", ErrInvalidExpression, expr)
			}
			inner := strings.TrimSpace(expr[i+1 : end])
			key, err := bracketKey(inner, doc)
			if err != nil {
				return "", err
			}
			segments = append(segments, escapeKey(key))
			i = end
		case ' ', '\t':
			return "", fmt.Errorf("%w: %s", ErrInvalidExpression, expr)
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidExpression, expr)
	}
	return strings.Join(segments, "."), nil
}

func bracketKey(inner, doc string) (string, error) {
	if lit, ok := stringLiteral(inner); ok {
		return lit, nil
	}
	res, err := evaluate(inner, doc)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func matchingBracket(expr string, open int) int {
	depth := 0
	for i := open; i < len(expr); i++ {
		switch expr[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stringLiteral(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '\'' && q != '"') || s[len(s)-1] != q {
		return "", false
	}
	return s[1 : len(s)-1], true
}

func escapeKey(k string) string {
	var buf strings.Builder
	for _, r := range k {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			buf.WriteRune('\\')
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
