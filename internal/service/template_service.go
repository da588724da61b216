// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/campaign-consent/internal/model"
)

// RenderTemplate substitutes every {key} marker found in data. Markers whose
// key is absent are copied through verbatim, braces included. Substituted
// values are not rescanned.
func RenderTemplate(template string, data map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		b.WriteString(template[i:open])

		end := strings.IndexAny(template[open+1:], "{}")
		if end < 0 {
			b.WriteString(template[open:])
			break
		}
		end += open + 1

		// "{a {b}": the first brace is literal text, rescan from the second.
		if template[end] == '{' {
			b.WriteString(template[open:end])
			i = end
			continue
		}

		key := template[open+1 : end]
		if v, ok := data[key]; ok && key != "" {
			b.WriteString(v)
		} else {
			b.WriteString(template[open : end+1])
		}
		i = end + 1
	}
	return b.String()
}

// Placeholders lists the distinct keys referenced by template, in order of
// first appearance.
func Placeholders(template string) []string {
	var keys []string
	seen := map[string]bool{}
	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			break
		}
		open += i
		end := strings.IndexAny(template[open+1:], "{}")
		if end < 0 {
			break
		}
		end += open + 1
		if template[end] == '{' {
			i = end
			continue
		}
		if key := template[open+1 : end]; key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		i = end + 1
	}
	return keys
}

// RenderMessage personalizes a subject/body pair for one contact.
func RenderMessage(subject, body string, contact model.Contact) model.RenderedMessage {
	data := contact.TemplateData()
	return model.RenderedMessage{
		Subject: RenderTemplate(subject, data),
		Body:    RenderTemplate(body, data),
	}
}
