// Package sanitize strips markup from inbound chat text.
package sanitize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// CleanHTML decodes entities, replaces every tag with a space and collapses
// runs of whitespace. Script and style bodies are dropped.
func CleanHTML(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(raw)
	if !strings.Contains(text, "<") {
		return collapse(text)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return collapse(text)
	}
	var b strings.Builder
	walk(doc.Selection, &b)
	return collapse(b.String())
}

func walk(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "#text":
			b.WriteString(s.Text())
		case "script", "style", "#comment":
		default:
			b.WriteByte(' ')
			walk(s, b)
			b.WriteByte(' ')
		}
	})
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
