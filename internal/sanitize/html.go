// Package sanitize cleans text that came from outside the service (model
// replies, agent definitions, form input) before it is rendered as HTML.
package sanitize

import (
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// policy keeps basic formatting (paragraphs, emphasis, links, lists) and
// drops scripts, event handlers and styles.
var policy = bluemonday.UGCPolicy()

// HTML returns input with anything unsafe removed.
func HTML(input string) string {
	return policy.Sanitize(input)
}

// Paragraphs sanitizes model output and lays it out for a page: blank lines
// separate paragraphs, single newlines become line breaks.
func Paragraphs(input string) template.HTML {
	clean := HTML(strings.ReplaceAll(input, "\r\n", "\n"))
	var b strings.Builder
	for _, block := range strings.Split(clean, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(block, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return template.HTML(b.String()) // #nosec G203 -- sanitized above
}
