package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sentiment labels derived from the average 24h change.
const (
	SentimentVeryBullish = "very_bullish"
	SentimentBullish     = "bullish"
	SentimentNeutral     = "neutral"
	SentimentBearish     = "bearish"
	SentimentVeryBearish = "very_bearish"
)

// Performance ranks coins by 24h and 7d change.
type Performance struct {
	Best24h          []MarketCoin `json:"best_24h"`
	Worst24h         []MarketCoin `json:"worst_24h"`
	Best7d           []MarketCoin `json:"best_7d"`
	Worst7d          []MarketCoin `json:"worst_7d"`
	TotalMarketCap   float64      `json:"total_market_cap"`
	AverageChange24h float64      `json:"average_change_24h"`
}

// CryptoSummary is the crypto half of a Summary.
type CryptoSummary struct {
	TopByMarketCap   []MarketCoin   `json:"top_by_market_cap"`
	Best24h          []MarketCoin   `json:"best_performers_24h"`
	Worst24h         []MarketCoin   `json:"worst_performers_24h"`
	Best7d           []MarketCoin   `json:"best_performers_7d"`
	Worst7d          []MarketCoin   `json:"worst_performers_7d"`
	Trending         []TrendingCoin `json:"trending"`
	RecentlyAdded    []NewCoin      `json:"recently_added"`
	TotalMarketCap   float64        `json:"total_market_cap_usd"`
	AverageChange24h float64        `json:"average_change_24h"`
}

// ForexSummary lists major pair rates.
type ForexSummary struct {
	MajorPairs []ForexQuote `json:"major_pairs"`
}

// Summary is a market-wide overview.
type Summary struct {
	Timestamp string        `json:"timestamp"`
	Crypto    CryptoSummary `json:"crypto"`
	Forex     ForexSummary  `json:"forex"`
	Sentiment string        `json:"market_sentiment"`
}

// AnalyzePerformers ranks coins. Worst lists are only filled when more than
// three coins carry a change value.
func AnalyzePerformers(coins []MarketCoin) Performance {
	perf := Performance{
		Best24h:  []MarketCoin{},
		Worst24h: []MarketCoin{},
		Best7d:   []MarketCoin{},
		Worst7d:  []MarketCoin{},
	}
	if len(coins) == 0 {
		return perf
	}

	by24h := rankBy(coins, func(c MarketCoin) *float64 { return c.Change24h })
	by7d := rankBy(coins, func(c MarketCoin) *float64 { return c.Change7d })
	perf.Best24h, perf.Worst24h = bestWorst(by24h)
	perf.Best7d, perf.Worst7d = bestWorst(by7d)

	for _, c := range coins {
		perf.TotalMarketCap += c.MarketCap
	}
	if len(by24h) > 0 {
		var sum float64
		for _, c := range by24h {
			sum += *c.Change24h
		}
		perf.AverageChange24h = sum / float64(len(by24h))
	}
	return perf
}

func rankBy(coins []MarketCoin, change func(MarketCoin) *float64) []MarketCoin {
	var valid []MarketCoin
	for _, c := range coins {
		if change(c) != nil {
			valid = append(valid, c)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool { return *change(valid[i]) > *change(valid[j]) })
	return valid
}

func bestWorst(sorted []MarketCoin) (best, worst []MarketCoin) {
	best = append([]MarketCoin{}, sorted[:min(3, len(sorted))]...)
	worst = []MarketCoin{}
	if len(sorted) > 3 {
		worst = append(worst, sorted[len(sorted)-3:]...)
	}
	return best, worst
}

// SentimentFor maps an average 24h change to a sentiment label.
func SentimentFor(avgChange float64) string {
	switch {
	case avgChange > 5:
		return SentimentVeryBullish
	case avgChange > 2:
		return SentimentBullish
	case avgChange > -2:
		return SentimentNeutral
	case avgChange > -5:
		return SentimentBearish
	default:
		return SentimentVeryBearish
	}
}

// Summarizer builds market overviews from the providers.
type Summarizer struct {
	CoinGecko    *CoinGecko
	AlphaVantage *AlphaVantage
	now          func() time.Time
}

// NewSummarizer creates a Summarizer. Either provider may be nil.
func NewSummarizer(cg *CoinGecko, av *AlphaVantage) *Summarizer {
	return &Summarizer{CoinGecko: cg, AlphaVantage: av, now: time.Now}
}

// Summarize fetches rankings, trending coins, new listings and forex majors
// concurrently. Individual feed failures leave their section empty.
func (s *Summarizer) Summarize(ctx context.Context) *Summary {
	var (
		top      []MarketCoin
		trending []TrendingCoin
		added    []NewCoin
		majors   []ForexQuote
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.CoinGecko != nil {
		g.Go(func() error {
			v, err := s.CoinGecko.TopByMarketCap(gctx, 20)
			top = keep("top coins", v, err)
			return nil
		})
		g.Go(func() error {
			v, err := s.CoinGecko.Trending(gctx)
			trending = keep("trending", v, err)
			return nil
		})
		g.Go(func() error {
			v, err := s.CoinGecko.RecentlyAdded(gctx, 5)
			added = keep("recently added", v, err)
			return nil
		})
	}
	if s.AlphaVantage != nil && s.AlphaVantage.apiKey != "" {
		g.Go(func() error {
			for _, pair := range MajorPairs {
				q, err := s.AlphaVantage.Rate(gctx, pair)
				if err != nil {
					slog.Warn(fmt.Sprintf("%s - forex major %s: %v", logPrefix, pair, err))
					continue
				}
				majors = append(majors, *q)
			}
			return nil
		})
	}
	_ = g.Wait()

	perf := AnalyzePerformers(top)
	return &Summary{
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Crypto: CryptoSummary{
			TopByMarketCap:   nonNil(top[:min(10, len(top))]),
			Best24h:          perf.Best24h,
			Worst24h:         perf.Worst24h,
			Best7d:           perf.Best7d,
			Worst7d:          perf.Worst7d,
			Trending:         nonNil(trending),
			RecentlyAdded:    nonNil(added),
			TotalMarketCap:   perf.TotalMarketCap,
			AverageChange24h: perf.AverageChange24h,
		},
		Forex:     ForexSummary{MajorPairs: nonNil(majors)},
		Sentiment: SentimentFor(perf.AverageChange24h),
	}
}

func keep[T any](what string, v []T, err error) []T {
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - summary %s: %v", logPrefix, what, err))
		return nil
	}
	return v
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// FormatSummary renders a summary as markdown.
func FormatSummary(s *Summary) string {
	var b strings.Builder
	ts := s.Timestamp
	if t, err := time.Parse(time.RFC3339, s.Timestamp); err == nil {
		ts = t.UTC().Format("2006-01-02 15:04 UTC")
	}
	fmt.Fprintf(&b, "**Market Summary - %s**\n\n", ts)

	label := strings.ReplaceAll(s.Sentiment, "_", " ")
	fmt.Fprintf(&b, "**Overall Sentiment:** %s (Avg 24h: %+.2f%%)\n\n", titleCase(label), s.Crypto.AverageChange24h)

	writeCoins := func(title string, coins []MarketCoin) {
		fmt.Fprintf(&b, "**%s:**\n", title)
		for _, c := range coins {
			var change float64
			if c.Change24h != nil {
				change = *c.Change24h
			}
			fmt.Fprintf(&b, "• %s (%s): $%s (%+.2f%%)\n", strings.ToUpper(c.Symbol), c.Name, FormatMoney(c.CurrentPrice, 2), change)
		}
	}
	writeCoins("Top Performers (24h)", s.Crypto.Best24h)
	b.WriteString("\n")
	writeCoins("Worst Performers (24h)", s.Crypto.Worst24h)

	b.WriteString("\n**Trending Coins:**\n")
	for _, c := range s.Crypto.Trending[:min(5, len(s.Crypto.Trending))] {
		fmt.Fprintf(&b, "• %s - %s (Rank #%d)\n", c.Symbol, c.Name, c.MarketCapRank)
	}

	if n := len(s.Crypto.RecentlyAdded); n > 0 {
		b.WriteString("\n**Recently Added:**\n")
		for _, c := range s.Crypto.RecentlyAdded[:min(3, n)] {
			fmt.Fprintf(&b, "• %s - %s\n", strings.ToUpper(c.Symbol), c.Name)
		}
	}

	if len(s.Forex.MajorPairs) > 0 {
		b.WriteString("\n**Major Forex Pairs:**\n")
		for _, q := range s.Forex.MajorPairs {
			if q.Rate != nil {
				fmt.Fprintf(&b, "• %s: %.4f\n", q.Pair, *q.Rate)
			}
		}
	}

	if s.Crypto.TotalMarketCap > 0 {
		fmt.Fprintf(&b, "\n**Total Market Cap (Top 20):** $%s", FormatMoney(s.Crypto.TotalMarketCap, 0))
	}
	return b.String()
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// FormatMoney renders v with thousands separators and the given decimals.
func FormatMoney(v float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
