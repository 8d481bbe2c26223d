// Package eval renders prompt and argv templates against a variable scope.
package eval

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// Resolve evaluates a template string against a variable map. Missing keys
// render as the empty string.
// Example: Resolve("Summarize {{ .input }}", {"input": "the text"}) → "Summarize the text"
func Resolve(tmpl string, data map[string]string) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // fast path for literals
	}

	t, err := template.New("").Option("missingkey=zero").Funcs(builtinFuncs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	if data == nil {
		data = map[string]string{}
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// Render evaluates a template against a scope. Keys are available under
// their original spelling and in lower case.
func Render(tmpl string, scope *vars.Scope) (string, error) {
	if scope == nil {
		return Resolve(tmpl, nil)
	}
	return Resolve(tmpl, scope.Map())
}

// RenderAll renders each template in order, stopping at the first error.
func RenderAll(tmpls []string, scope *vars.Scope) ([]string, error) {
	out := make([]string, len(tmpls))
	for i, t := range tmpls {
		r, err := Render(t, scope)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// builtinFuncs provides template functions for prompts.
func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"eq": func(a, b any) bool {
			return fmt.Sprint(a) == fmt.Sprint(b)
		},
		"ne": func(a, b any) bool {
			return fmt.Sprint(a) != fmt.Sprint(b)
		},
		"contains": func(s, substr any) bool {
			return strings.Contains(fmt.Sprint(s), fmt.Sprint(substr))
		},
		"hasPrefix": func(s, prefix any) bool {
			return strings.HasPrefix(fmt.Sprint(s), fmt.Sprint(prefix))
		},
		"hasSuffix": func(s, suffix any) bool {
			return strings.HasSuffix(fmt.Sprint(s), fmt.Sprint(suffix))
		},
		"upper": func(s any) string {
			return strings.ToUpper(fmt.Sprint(s))
		},
		"lower": func(s any) string {
			return strings.ToLower(fmt.Sprint(s))
		},
		"trim": func(s any) string {
			return strings.TrimSpace(fmt.Sprint(s))
		},
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
	}
}
