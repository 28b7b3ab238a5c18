package analysis

import (
	"fmt"
	"strings"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/sanitize"
)

const maxHistory = 20

var summaryKeywords = []string{
	"summarize", "summary", "overview", "what's happening", "market update",
	"today's market", "movements today", "market movements", "how are markets",
	"market status", "market snapshot", "best performing", "worst performing",
	"top gainers", "top losers", "trending", "newly added", "new coins", "market overview",
}

// IsSummaryRequest reports whether text asks for a market-wide overview.
func IsSummaryRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range summaryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractText pulls the query out of the last message. Chat platforms that
// embed prior turns as a data part at parts[1] contribute the returned
// history (oldest first, at most 20) and their last turn becomes the query.
func ExtractText(msgs []a2a.Message) (string, []string) {
	if len(msgs) == 0 {
		return "", nil
	}
	last := msgs[len(msgs)-1]

	history := embeddedHistory(last)
	if len(history) > 0 {
		return history[len(history)-1], history
	}

	if len(last.Parts) > 0 && last.Parts[0].Kind == a2a.PartText {
		if text := sanitize.CleanHTML(last.Parts[0].Text); text != "" {
			return text, nil
		}
	}
	if text := sanitize.CleanHTML(last.Text); text != "" {
		return text, nil
	}
	return sanitize.CleanHTML(fromParts(last.Parts)), nil
}

func embeddedHistory(msg a2a.Message) []string {
	if len(msg.Parts) < 2 || msg.Parts[1].Kind != a2a.PartData {
		return nil
	}
	items, ok := msg.Parts[1].Data.([]any)
	if !ok {
		return nil
	}
	var history []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok || m["kind"] != a2a.PartText {
			continue
		}
		s, _ := m["text"].(string)
		if text := sanitize.CleanHTML(s); text != "" {
			history = append(history, text)
		}
	}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	return history
}

// fromParts joins every text part, or failing that any text found in data
// parts.
func fromParts(parts []a2a.Part) string {
	var out []string
	for _, p := range parts {
		if p.Kind == a2a.PartText && strings.TrimSpace(p.Text) != "" {
			out = append(out, strings.TrimSpace(p.Text))
		}
	}
	if len(out) > 0 {
		return strings.Join(out, " ")
	}
	for _, p := range parts {
		if p.Kind != a2a.PartData || p.Data == nil {
			continue
		}
		switch d := p.Data.(type) {
		case map[string]any:
			out = append(out, fromDataMap(d)...)
		case []any:
			out = append(out, fromItems(d)...)
		}
	}
	return strings.Join(out, " ")
}

func fromDataMap(d map[string]any) []string {
	if v, ok := d["text"]; ok && v != nil && v != "" {
		return []string{strings.TrimSpace(fmt.Sprint(v))}
	}
	for _, k := range []string{"message", "content"} {
		if s, ok := d[k].(string); ok {
			return []string{strings.TrimSpace(s)}
		}
	}
	if items, ok := d["items"].([]any); ok {
		return fromItems(items)
	}
	return nil
}

func fromItems(items []any) []string {
	var out []string
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if t, ok := v["text"]; ok {
				out = append(out, strings.TrimSpace(fmt.Sprint(t)))
			}
		}
	}
	return out
}
