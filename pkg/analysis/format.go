package analysis

import (
	"fmt"
	"strings"

	"github.com/morezero/market-agent/pkg/market"
	"github.com/morezero/market-agent/pkg/narrative"
)

type report struct {
	key     string
	outlook narrative.Analysis
	snap    Snapshot
	tech    *market.Technicals
	news    []market.Article
	pair    string
	coin    string
	notices []string
}

// newsSummary is the headline digest handed to the narrative model.
func newsSummary(news []market.Article, tech *market.Technicals) string {
	var lines []string
	for _, a := range news[:min(headlinesInText, len(news))] {
		lines = append(lines, fmt.Sprintf("• %s (%s)", a.Title, a.Source))
	}
	s := strings.Join(lines, "\n")
	if s == "" {
		s = "No recent headlines found."
	}
	if tech != nil {
		s += fmt.Sprintf("\n\n**Technical Analysis (7-day):**\n• Trend: %s\n• Price change: %.2f%%\n• Signal: %s\n• Position vs SMA: %s",
			tech.Trend, tech.ChangePct, tech.Signal, tech.PricePosition)
	}
	return s
}

// formatAnalysis renders the markdown reply shown to the user.
func formatAnalysis(r report) string {
	var lines []string
	add := func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }

	add("**%s Market Analysis**\n", r.key)
	if len(r.notices) > 0 {
		add("**Notices:**")
		for _, n := range r.notices {
			add("- %s", n)
		}
		add("")
	}
	add("**Outlook:** %s (Confidence: %.0f%%)", capitalize(r.outlook.Direction), r.outlook.Confidence*100)

	switch {
	case r.coin != "":
		if p, ok := r.snap.Crypto[r.coin]; ok && p > 0 {
			add("**Current Price:** $%s", formatPrice(p))
		} else if len(r.notices) > 0 {
			add("**Current Price:** Unavailable")
		}
	case r.pair != "":
		if r.snap.Pair != nil && r.snap.Pair.Rate != nil {
			add("**Exchange Rate:** %.4f", *r.snap.Pair.Rate)
		} else if len(r.notices) > 0 {
			add("**Exchange Rate:** Unavailable")
		}
	}

	if r.tech != nil {
		add("**7-Day Change:** %+.2f%%", r.tech.ChangePct)
		add("**Trend:** %s", capitalize(r.tech.Trend))
	}

	if len(r.outlook.Reasoning) > 0 && r.outlook.Reasoning[0] != "" {
		add("\n**Key Factors:**")
		for _, reason := range r.outlook.Reasoning[:min(3, len(r.outlook.Reasoning))] {
			add("- %s", reason)
		}
	}

	if len(r.news) > 0 {
		add("\n**Recent News:**")
		for _, a := range r.news[:min(headlinesShown, len(r.news))] {
			if a.Title != "" {
				add("- %s (%s)", a.Title, a.Source)
			}
		}
	}

	if len(r.notices) > 0 {
		add("\n**Tip:** Try common coin symbols (BTC, ETH, SOL) or forex pairs (EUR/USD, GBP/USD).")
	}
	return strings.Join(lines, "\n")
}

// formatPrice shows up to eight decimals without trailing zeros.
func formatPrice(p float64) string {
	s := market.FormatMoney(p, 8)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
