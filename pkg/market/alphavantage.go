package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/morezero/market-agent/pkg/cache"
	"github.com/morezero/market-agent/pkg/kv"
)

// DefaultAlphaVantageBase is the AlphaVantage query endpoint.
const DefaultAlphaVantageBase = "https://www.alphavantage.co/query"

// MajorPairs are reported in the market summary.
var MajorPairs = []string{"EUR/USD", "GBP/USD", "USD/JPY"}

// ForexQuote is the latest exchange rate for a pair.
type ForexQuote struct {
	Pair      string   `json:"pair"`
	Rate      *float64 `json:"rate"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// AlphaVantage reads forex rates.
type AlphaVantage struct {
	g      *httpGetter
	apiKey string
	store  kv.Store
}

// NewAlphaVantage creates a client. The free tier allows five calls a minute.
func NewAlphaVantage(apiKey string, store kv.Store, opts ...ClientOption) *AlphaVantage {
	return &AlphaVantage{
		g:      newGetter("alphavantage", DefaultAlphaVantageBase, rate.Every(12*time.Second), 5, opts),
		apiKey: apiKey,
		store:  store,
	}
}

// Rate returns the exchange rate for a "BASE/QUOTE" pair.
func (a *AlphaVantage) Rate(ctx context.Context, pair string) (*ForexQuote, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("%s - alphavantage: %w", logPrefix, ErrMissingAPIKey)
	}
	base, quote, ok := strings.Cut(strings.ToUpper(pair), "/")
	if !ok || base == "" || quote == "" {
		return nil, fmt.Errorf("%s - pair %q must look like BASE/QUOTE", logPrefix, pair)
	}

	return cache.GetOrLoad(ctx, a.store, cache.Key("alphavantage:rate", base, quote), cache.ForexTTL,
		func(ctx context.Context) (*ForexQuote, error) {
			var resp struct {
				Rate map[string]string `json:"Realtime Currency Exchange Rate"`
				Err  string            `json:"Error Message"`
				Note string            `json:"Note"`
			}
			params := url.Values{
				"function":      {"CURRENCY_EXCHANGE_RATE"},
				"from_currency": {base},
				"to_currency":   {quote},
				"apikey":        {a.apiKey},
			}
			if err := a.g.get(ctx, "", params, &resp); err != nil {
				return nil, err
			}
			if len(resp.Rate) == 0 {
				msg := resp.Err
				if msg == "" {
					msg = resp.Note
				}
				if msg == "" {
					msg = "no rate in response"
				}
				return nil, &APIError{Provider: "alphavantage", StatusCode: 200, Message: msg, Endpoint: "CURRENCY_EXCHANGE_RATE"}
			}
			r, err := strconv.ParseFloat(resp.Rate["5. Exchange Rate"], 64)
			if err != nil {
				return nil, fmt.Errorf("%s - invalid rate payload for %s/%s: %w", logPrefix, base, quote, err)
			}
			return &ForexQuote{
				Pair:      base + "/" + quote,
				Rate:      &r,
				Timestamp: normalizeTimestamp(resp.Rate["6. Last Refreshed"]),
			}, nil
		})
}
