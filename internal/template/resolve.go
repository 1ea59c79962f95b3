// Package template expands {{variable}} references in step inputs.
package template

import (
	"regexp"
	"strings"
)

// varPattern matches {{name}} and {{name.sub}} references.
var varPattern = regexp.MustCompile(`\{\{\s*(\w+(?:\.\w+)*)\s*\}\}`)

// MissingMarker is what an unresolved reference renders as.
func MissingMarker(name string) string {
	return "[missing: " + name + "]"
}

// Resolve replaces every {{name}} in tmpl with its value from vars.
// A name is looked up verbatim, then lower-cased. Unknown names render as
// MissingMarker(name). The expansion is a single pass: values are never
// re-scanned for references.
func Resolve(tmpl string, vars map[string]string) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return varPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if v, ok := Lookup(vars, name); ok {
			return v
		}
		return MissingMarker(name)
	})
}

// Lookup finds name in vars, verbatim first, then lower-cased.
func Lookup(vars map[string]string, name string) (string, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	if v, ok := vars[strings.ToLower(name)]; ok {
		return v, true
	}
	return "", false
}
