// Package markup holds the Telegram HTML helpers used when rendering posts and audit messages.
package markup

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeHTML escapes the three characters Telegram's HTML parse mode treats as markup.
func EscapeHTML(src string) string {
	return htmlReplacer.Replace(src)
}

var whitespace = regexp.MustCompile(`\s+`)

// Sanitizer turns a feed summary into plain text.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	p := bluemonday.StrictPolicy()
	// inline "read more" anchors carry no summary text
	p.SkipElementsContent("a")

	return &Sanitizer{policy: p}
}

// Text strips every tag, decodes entities and collapses runs of whitespace.
func (s *Sanitizer) Text(src string) string {
	text := html.UnescapeString(s.policy.Sanitize(src))
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
