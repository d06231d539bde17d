// Package template renders "{{ name }}" placeholders against the variable
// mapping of a virtual user. Rendering is pure: inputs are never mutated.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/drblury/vuflow/internal/runtime/jsoncodec"
)

var (
	placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	dollarBrace = regexp.MustCompile(`\$\{\s*([^{}]+?)\s*\}`)
)

// Render expands placeholders inside value. Strings, []any, []string and
// map[string]any are walked recursively; any other value is returned as is.
// A string that is exactly one placeholder yields the raw variable so types
// survive ("{{ count }}" renders to an int, not "3"). Unresolved placeholders
// are left in place.
func Render(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return renderString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[RenderString(k, vars)] = Render(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Render(item, vars)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = RenderString(item, vars)
		}
		return out
	default:
		return value
	}
}

// RenderString always returns text, stringifying whole-placeholder values.
func RenderString(s string, vars map[string]any) string {
	switch out := renderString(s, vars).(type) {
	case string:
		return out
	default:
		return stringify(out)
	}
}

func renderString(s string, vars map[string]any) any {
	if !strings.Contains(s, "{{") {
		return s
	}
	if m := placeholder.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		if val, ok := Lookup(vars, s[m[2]:m[3]]); ok {
			return val
		}
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		val, ok := Lookup(vars, name)
		if !ok {
			return match
		}
		return stringify(val)
	})
}

// Lookup resolves a dotted path such as "user.tags.0" against vars.
func Lookup(vars map[string]any, path string) (any, bool) {
	if vars == nil {
		return nil, false
	}
	if val, ok := vars[path]; ok {
		return val, true
	}

	parts := strings.Split(path, ".")
	current, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		switch node := current.(type) {
		case map[string]any:
			current, ok = node[part]
			if !ok {
				return nil, false
			}
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// TranslateAuth rewrites the "${name}" syntax accepted in auth blocks into
// the "{{ name }}" syntax understood by Render.
func TranslateAuth(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return dollarBrace.ReplaceAllString(s, "{{ $1 }}")
}

// RenderAuth translates and renders every field of an auth block.
func RenderAuth(fields map[string]string, vars map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = RenderString(TranslateAuth(v), vars)
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case map[string]any, []any:
		if data, err := jsoncodec.Marshal(val); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

// Text renders value and returns it as a single line of text. Maps and lists
// are JSON encoded.
func Text(value any, vars map[string]any) string {
	return stringify(Render(value, vars))
}
