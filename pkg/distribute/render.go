package distribute

import (
	"fmt"
	"strings"
)

// Renderer substitutes data values into a text element's template
// content.
type Renderer interface {
	Render(template string, data map[string]string) (string, error)
}

// MapRenderer resolves "{{name}}" placeholders from a flat data map.
// Whitespace inside the braces is ignored. A placeholder with no
// matching key is an error; the pipeline falls back to the original
// content so a missing feed never blanks a sign.
type MapRenderer struct{}

// Render implements Renderer.
func (MapRenderer) Render(template string, data map[string]string) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			// Unterminated placeholder, emit literally.
			b.WriteString(rest)
			return b.String(), nil
		}
		end += start
		b.WriteString(rest[:start])

		name := strings.TrimSpace(rest[start+2 : end])
		value, ok := data[name]
		if !ok {
			return "", fmt.Errorf("distribute: undefined template variable %q", name)
		}
		b.WriteString(value)
		rest = rest[end+2:]
	}
}
