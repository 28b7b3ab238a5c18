package market

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/morezero/market-agent/pkg/cache"
	"github.com/morezero/market-agent/pkg/kv"
)

// DefaultCoinGeckoBase is the public CoinGecko API.
const DefaultCoinGeckoBase = "https://api.coingecko.com/api/v3"

// CoinGecko reads crypto prices, history and listings.
type CoinGecko struct {
	g      *httpGetter
	apiKey string
	store  kv.Store
}

// NewCoinGecko creates a client. The demo key is optional; store may be nil.
func NewCoinGecko(apiKey string, store kv.Store, opts ...ClientOption) *CoinGecko {
	return &CoinGecko{
		g:      newGetter("coingecko", DefaultCoinGeckoBase, rate.Every(2*time.Second), 10, opts),
		apiKey: apiKey,
		store:  store,
	}
}

func (c *CoinGecko) params(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	if c.apiKey != "" {
		v.Set("x_cg_demo_api_key", c.apiKey)
	}
	return v
}

// Prices returns USD prices keyed by coin id. Ids missing from the answer are
// omitted.
func (c *CoinGecko) Prices(ctx context.Context, ids ...string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	sorted := append([]string{}, ids...)
	sort.Strings(sorted)
	joined := strings.Join(sorted, ",")

	return cache.GetOrLoad(ctx, c.store, cache.Key("coingecko:price", joined), cache.PriceTTL,
		func(ctx context.Context) (map[string]float64, error) {
			var raw map[string]map[string]float64
			if err := c.g.get(ctx, "/simple/price", c.params("ids", joined, "vs_currencies", "usd"), &raw); err != nil {
				return nil, err
			}
			out := make(map[string]float64, len(raw))
			for id, quote := range raw {
				if usd, ok := quote["usd"]; ok {
					out[id] = usd
				}
			}
			return out, nil
		})
}

// SearchID finds the coin id whose ticker equals symbol exactly. It returns
// "" when nothing matches.
func (c *CoinGecko) SearchID(ctx context.Context, symbol string) (string, error) {
	var resp struct {
		Coins []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"coins"`
	}
	if err := c.g.get(ctx, "/search", c.params("query", symbol), &resp); err != nil {
		return "", err
	}
	for _, coin := range resp.Coins {
		if strings.EqualFold(coin.Symbol, symbol) {
			return coin.ID, nil
		}
	}
	return "", nil
}

// PriceHistory returns closing USD prices for the last days days.
func (c *CoinGecko) PriceHistory(ctx context.Context, id string, days int) ([]float64, error) {
	return cache.GetOrLoad(ctx, c.store, cache.Key("coingecko:history", id, days), cache.PriceTTL,
		func(ctx context.Context) ([]float64, error) {
			var resp struct {
				Prices [][2]float64 `json:"prices"`
			}
			path := "/coins/" + url.PathEscape(id) + "/market_chart"
			if err := c.g.get(ctx, path, c.params("vs_currency", "usd", "days", strconv.Itoa(days)), &resp); err != nil {
				return nil, err
			}
			prices := make([]float64, 0, len(resp.Prices))
			for _, p := range resp.Prices {
				prices = append(prices, p[1])
			}
			return prices, nil
		})
}

// MarketCoin is one row of the market-cap ranking.
type MarketCoin struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	CurrentPrice float64  `json:"current_price"`
	MarketCap    float64  `json:"market_cap"`
	Change24h    *float64 `json:"price_change_percentage_24h,omitempty"`
	Change7d     *float64 `json:"price_change_percentage_7d_in_currency,omitempty"`
}

// TopByMarketCap lists the largest coins with 24h and 7d change.
func (c *CoinGecko) TopByMarketCap(ctx context.Context, limit int) ([]MarketCoin, error) {
	return cache.GetOrLoad(ctx, c.store, cache.Key("coingecko:markets", limit), cache.PriceTTL,
		func(ctx context.Context) ([]MarketCoin, error) {
			var out []MarketCoin
			p := c.params("vs_currency", "usd", "order", "market_cap_desc", "per_page", strconv.Itoa(limit),
				"page", "1", "sparkline", "false", "price_change_percentage", "24h,7d")
			if err := c.g.get(ctx, "/coins/markets", p, &out); err != nil {
				return nil, err
			}
			return out, nil
		})
}

// TrendingCoin is an entry of the trending search list.
type TrendingCoin struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	MarketCapRank int     `json:"market_cap_rank"`
	PriceBTC      float64 `json:"price_btc"`
}

// Trending returns up to seven trending coins.
func (c *CoinGecko) Trending(ctx context.Context) ([]TrendingCoin, error) {
	var resp struct {
		Coins []struct {
			Item TrendingCoin `json:"item"`
		} `json:"coins"`
	}
	if err := c.g.get(ctx, "/search/trending", c.params(), &resp); err != nil {
		return nil, err
	}
	out := make([]TrendingCoin, 0, 7)
	for i, entry := range resp.Coins {
		if i == 7 {
			break
		}
		item := entry.Item
		item.Symbol = strings.ToUpper(item.Symbol)
		out = append(out, item)
	}
	return out, nil
}

// NewCoin is a recently listed coin.
type NewCoin struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	ActivatedAt int64  `json:"activated_at"`
}

// RecentlyAdded returns the newest listings.
func (c *CoinGecko) RecentlyAdded(ctx context.Context, limit int) ([]NewCoin, error) {
	var out []NewCoin
	if err := c.g.get(ctx, "/coins/list/new", c.params(), &out); err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
