package market

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/morezero/market-agent/pkg/cache"
	"github.com/morezero/market-agent/pkg/kv"
)

const (
	DefaultCryptoPanicBase = "https://cryptopanic.com/api/v1"
	DefaultNewsAPIBase     = "https://newsapi.org/v2"
)

// Article is a normalized headline.
type Article struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"published_at,omitempty"`
	Source      string   `json:"source,omitempty"`
	Symbols     []string `json:"symbols,omitempty"`
}

// CryptoPanic reads important crypto headlines.
type CryptoPanic struct {
	g      *httpGetter
	apiKey string
	store  kv.Store
}

// NewCryptoPanic creates a client.
func NewCryptoPanic(apiKey string, store kv.Store, opts ...ClientOption) *CryptoPanic {
	return &CryptoPanic{g: newGetter("cryptopanic", DefaultCryptoPanicBase, rate.Every(time.Second), 5, opts), apiKey: apiKey, store: store}
}

// Headlines returns up to limit articles. Without a key it returns nothing.
func (c *CryptoPanic) Headlines(ctx context.Context, limit int) ([]Article, error) {
	if c.apiKey == "" || limit <= 0 {
		return nil, nil
	}
	return cache.GetOrLoad(ctx, c.store, cache.Key("cryptopanic:posts", limit), cache.NewsTTL,
		func(ctx context.Context) ([]Article, error) {
			var resp struct {
				Results []struct {
					Title       string `json:"title"`
					URL         string `json:"url"`
					PublishedAt string `json:"published_at"`
					Source      struct {
						Title string `json:"title"`
					} `json:"source"`
					Currencies []struct {
						Code string `json:"code"`
					} `json:"currencies"`
				} `json:"results"`
			}
			params := url.Values{
				"auth_token": {c.apiKey},
				"kind":       {"news"},
				"filter":     {"important"},
				"public":     {"true"},
			}
			if err := c.g.get(ctx, "/posts/", params, &resp); err != nil {
				return nil, err
			}
			out := make([]Article, 0, limit)
			for i, r := range resp.Results {
				if i == limit {
					break
				}
				a := Article{Title: r.Title, URL: r.URL, PublishedAt: normalizeTimestamp(r.PublishedAt), Source: r.Source.Title}
				for _, cur := range r.Currencies {
					if cur.Code != "" {
						a.Symbols = append(a.Symbols, cur.Code)
					}
				}
				out = append(out, a)
			}
			return out, nil
		})
}

// NewsAPI reads forex and central bank headlines.
type NewsAPI struct {
	g      *httpGetter
	apiKey string
	store  kv.Store
}

// NewNewsAPI creates a client.
func NewNewsAPI(apiKey string, store kv.Store, opts ...ClientOption) *NewsAPI {
	return &NewsAPI{g: newGetter("newsapi", DefaultNewsAPIBase, rate.Every(time.Second), 5, opts), apiKey: apiKey, store: store}
}

// Headlines returns up to limit articles. Without a key it returns nothing.
func (n *NewsAPI) Headlines(ctx context.Context, limit int) ([]Article, error) {
	if n.apiKey == "" || limit <= 0 {
		return nil, nil
	}
	return cache.GetOrLoad(ctx, n.store, cache.Key("newsapi:everything", limit), cache.NewsTTL,
		func(ctx context.Context) ([]Article, error) {
			var resp struct {
				Articles []struct {
					Title       string `json:"title"`
					URL         string `json:"url"`
					PublishedAt string `json:"publishedAt"`
					Source      struct {
						Name string `json:"name"`
					} `json:"source"`
				} `json:"articles"`
			}
			params := url.Values{
				"q":        {"forex OR currency OR exchange rate OR central bank"},
				"apiKey":   {n.apiKey},
				"language": {"en"},
				"pageSize": {strconv.Itoa(limit)},
			}
			if err := n.g.get(ctx, "/everything", params, &resp); err != nil {
				return nil, err
			}
			out := make([]Article, 0, limit)
			for i, r := range resp.Articles {
				if i == limit {
					break
				}
				out = append(out, Article{Title: r.Title, URL: r.URL, PublishedAt: normalizeTimestamp(r.PublishedAt), Source: r.Source.Name})
			}
			return out, nil
		})
}

// Dedupe merges article lists, dropping repeats by URL or, failing that, title.
func Dedupe(lists ...[]Article) []Article {
	seen := make(map[string]struct{})
	var out []Article
	for _, list := range lists {
		for _, a := range list {
			key := a.URL
			if key == "" {
				key = a.Title
			}
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// CombinedNews fetches crypto and forex headlines concurrently and returns at
// most limit deduplicated articles. A failing feed is logged and skipped.
func CombinedNews(ctx context.Context, crypto *CryptoPanic, forex *NewsAPI, limit int) []Article {
	if limit <= 0 {
		return nil
	}
	cryptoLimit := max(1, limit/2)
	forexLimit := limit - cryptoLimit

	var cryptoNews, forexNews []Article
	g, gctx := errgroup.WithContext(ctx)
	if crypto != nil {
		g.Go(func() error {
			items, err := crypto.Headlines(gctx, cryptoLimit)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - crypto news: %v", logPrefix, err))
				return nil
			}
			cryptoNews = items
			return nil
		})
	}
	if forex != nil {
		g.Go(func() error {
			items, err := forex.Headlines(gctx, forexLimit)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - forex news: %v", logPrefix, err))
				return nil
			}
			forexNews = items
			return nil
		})
	}
	_ = g.Wait()

	merged := Dedupe(cryptoNews, forexNews)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
