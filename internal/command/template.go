package command

import (
	"fmt"
	"regexp"
	"strings"
)

// Template is a parsed command template: an ordered list of argument tokens,
// each of which may embed {placeholder} references. Templates are resolved
// token-by-token against a typed Vars map, so placeholder values can never
// split into extra arguments or inject shell syntax.
type Template struct {
	raw    string
	tokens []string
}

// Vars is a map of placeholder names to values for template resolution.
type Vars map[string]string

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Parse splits a template string into tokens on whitespace.
// An empty template is an error.
func Parse(raw string) (*Template, error) {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	return &Template{raw: raw, tokens: tokens}, nil
}

// String returns the original template text.
func (t *Template) String() string {
	return t.raw
}

// Placeholders returns the distinct placeholder names referenced by the
// template, in first-appearance order.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(t.raw, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Resolve expands every placeholder in the template and returns the argv.
// Missing variables cause an error naming all of them; resolution never
// produces a partially-expanded command.
func (t *Template) Resolve(vars Vars) ([]string, error) {
	var missing []string
	argv := make([]string, len(t.tokens))

	for i, tok := range t.tokens {
		argv[i] = placeholderRe.ReplaceAllStringFunc(tok, func(match string) string {
			name := placeholderRe.FindStringSubmatch(match)[1]
			if val, ok := vars[name]; ok {
				return val
			}
			missing = append(missing, name)
			return match
		})
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return argv, nil
}
