package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/market-agent/pkg/kv"
)

func ptr(v float64) *float64 { return &v }

func fastLimit() ClientOption { return WithRateLimit(time.Millisecond, 100) }

func TestCoinGecko_PricesCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "demo", r.URL.Query().Get("x_cg_demo_api_key"))
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000.5},"ethereum":{"usd":3100}}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko("demo", kv.NewMemoryStore(), WithBaseURL(srv.URL), fastLimit())
	prices, err := cg.Prices(context.Background(), "ethereum", "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 64000.5, prices["bitcoin"])
	assert.Equal(t, 3100.0, prices["ethereum"])

	_, err = cg.Prices(context.Background(), "bitcoin", "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCoinGecko_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	cg := NewCoinGecko("", nil, WithBaseURL(srv.URL), fastLimit())
	_, err := cg.Prices(context.Background(), "bitcoin")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.RateLimited())
	assert.Equal(t, "slow down", apiErr.Message)
}

func TestCoinGecko_SearchID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coins":[{"id":"wrapped-sol","symbol":"wsol"},{"id":"solana","symbol":"SOL"}]}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko("", nil, WithBaseURL(srv.URL), fastLimit())
	id, err := cg.SearchID(context.Background(), "sol")
	require.NoError(t, err)
	assert.Equal(t, "solana", id)

	id, err = cg.SearchID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCoinGecko_Technicals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/market_chart", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		_, _ = w.Write([]byte(`{"prices":[[1,100],[2,104],[3,110]]}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko("", nil, WithBaseURL(srv.URL), fastLimit())
	tech, err := cg.Technicals(context.Background(), "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, tech)
	assert.Equal(t, 110.0, tech.CurrentPrice)
	assert.Equal(t, 10.0, tech.ChangePct)
	assert.Equal(t, "uptrend", tech.Trend)
	assert.Equal(t, "bullish", tech.Signal)
	assert.Equal(t, 100.0, tech.Support)
	assert.Equal(t, 110.0, tech.Resistance)
	assert.Equal(t, 3, tech.DataPoints)
}

func TestComputeTechnicals(t *testing.T) {
	assert.Nil(t, ComputeTechnicals(nil))
	assert.Nil(t, ComputeTechnicals([]float64{1}))

	down := ComputeTechnicals([]float64{100, 98, 90})
	require.NotNil(t, down)
	assert.Equal(t, "downtrend", down.Trend)
	assert.Equal(t, "below_sma", down.PricePosition)
	assert.Equal(t, "bearish", down.Signal)

	flat := ComputeTechnicals([]float64{100, 99, 101})
	require.NotNil(t, flat)
	assert.Equal(t, "neutral", flat.Signal)
}

func TestAlphaVantage_Rate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "CURRENCY_EXCHANGE_RATE", q.Get("function"))
		if q.Get("from_currency") == "XXX" {
			_, _ = w.Write([]byte(`{"Error Message":"Invalid API call"}`))
			return
		}
		_, _ = w.Write([]byte(`{"Realtime Currency Exchange Rate":{"5. Exchange Rate":"1.0850","6. Last Refreshed":"2026-10-18 10:00:00"}}`))
	}))
	defer srv.Close()

	av := NewAlphaVantage("key", nil, WithBaseURL(srv.URL), fastLimit())
	q, err := av.Rate(context.Background(), "eur/usd")
	require.NoError(t, err)
	assert.Equal(t, "EUR/USD", q.Pair)
	require.NotNil(t, q.Rate)
	assert.InDelta(t, 1.085, *q.Rate, 1e-9)
	assert.Equal(t, "2026-10-18T10:00:00Z", q.Timestamp)

	_, err = av.Rate(context.Background(), "XXX/USD")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid API call", apiErr.Message)

	_, err = av.Rate(context.Background(), "EURUSD")
	assert.Error(t, err)

	_, err = NewAlphaVantage("", nil).Rate(context.Background(), "EUR/USD")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestCombinedNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/posts/":
			assert.Equal(t, "cp", r.URL.Query().Get("auth_token"))
			_, _ = w.Write([]byte(`{"results":[
				{"title":"BTC rallies","url":"https://n/1","published_at":"2026-10-18T09:00:00Z","source":{"title":"Desk"},"currencies":[{"code":"BTC"}]},
				{"title":"ETH upgrade","url":"https://n/2","source":{"title":"Desk"}}]}`))
		case "/everything":
			assert.Equal(t, "na", r.URL.Query().Get("apiKey"))
			_, _ = w.Write([]byte(`{"articles":[
				{"title":"BTC rallies","url":"https://n/1","source":{"name":"Wire"}},
				{"title":"ECB holds rates","url":"https://n/3","publishedAt":"2026-10-18T08:00:00Z","source":{"name":"Wire"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cp := NewCryptoPanic("cp", nil, WithBaseURL(srv.URL), fastLimit())
	na := NewNewsAPI("na", nil, WithBaseURL(srv.URL), fastLimit())

	news := CombinedNews(context.Background(), cp, na, 4)
	require.Len(t, news, 3)
	assert.Equal(t, []string{"BTC"}, news[0].Symbols)
	assert.Equal(t, "ECB holds rates", news[2].Title)

	assert.Len(t, CombinedNews(context.Background(), cp, na, 3), 2)
	assert.Nil(t, CombinedNews(context.Background(), cp, na, 0))
}

func TestHeadlines_NoKey(t *testing.T) {
	items, err := NewCryptoPanic("", nil).Headlines(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, items)
	items, err = NewNewsAPI("", nil).Headlines(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDedupe(t *testing.T) {
	out := Dedupe(
		[]Article{{Title: "a", URL: "u1"}, {Title: "b"}},
		[]Article{{Title: "a2", URL: "u1"}, {Title: "b"}, {}},
	)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Title)
	assert.Equal(t, "b", out[1].Title)
}

func TestAnalyzePerformers(t *testing.T) {
	coins := []MarketCoin{
		{Symbol: "a", MarketCap: 10, Change24h: ptr(1), Change7d: ptr(5)},
		{Symbol: "b", MarketCap: 20, Change24h: ptr(-4)},
		{Symbol: "c", MarketCap: 30, Change24h: ptr(9)},
		{Symbol: "d", MarketCap: 40, Change24h: ptr(2)},
		{Symbol: "e", MarketCap: 50},
	}
	perf := AnalyzePerformers(coins)
	require.Len(t, perf.Best24h, 3)
	assert.Equal(t, "c", perf.Best24h[0].Symbol)
	require.Len(t, perf.Worst24h, 3)
	assert.Equal(t, "b", perf.Worst24h[2].Symbol)
	assert.Len(t, perf.Best7d, 1)
	assert.Empty(t, perf.Worst7d)
	assert.Equal(t, 150.0, perf.TotalMarketCap)
	assert.Equal(t, 2.0, perf.AverageChange24h)

	empty := AnalyzePerformers(nil)
	assert.NotNil(t, empty.Best24h)
	assert.Zero(t, empty.AverageChange24h)
}

func TestSentimentFor(t *testing.T) {
	assert.Equal(t, SentimentVeryBullish, SentimentFor(5.1))
	assert.Equal(t, SentimentBullish, SentimentFor(2.5))
	assert.Equal(t, SentimentNeutral, SentimentFor(0))
	assert.Equal(t, SentimentBearish, SentimentFor(-3))
	assert.Equal(t, SentimentVeryBearish, SentimentFor(-5))
}

func TestSummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/coins/markets":
			_, _ = w.Write([]byte(`[
				{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":64000,"market_cap":1200000000000,"price_change_percentage_24h":3.5},
				{"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":3100,"market_cap":370000000000,"price_change_percentage_24h":1.5}]`))
		case "/search/trending":
			_, _ = w.Write([]byte(`{"coins":[{"item":{"id":"pepe","symbol":"pepe","name":"Pepe","market_cap_rank":30}}]}`))
		case "/coins/list/new":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewSummarizer(NewCoinGecko("", nil, WithBaseURL(srv.URL), fastLimit()), NewAlphaVantage("", nil))
	s.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }

	sum := s.Summarize(context.Background())
	assert.Equal(t, "2026-10-18T12:00:00Z", sum.Timestamp)
	assert.Len(t, sum.Crypto.TopByMarketCap, 2)
	assert.Equal(t, "bitcoin", sum.Crypto.Best24h[0].ID)
	assert.Equal(t, "PEPE", sum.Crypto.Trending[0].Symbol)
	assert.Empty(t, sum.Crypto.RecentlyAdded)
	assert.Empty(t, sum.Forex.MajorPairs)
	assert.Equal(t, SentimentBullish, sum.Sentiment)

	text := FormatSummary(sum)
	assert.Contains(t, text, "**Market Summary - 2026-10-18 12:00 UTC**")
	assert.Contains(t, text, "**Overall Sentiment:** Bullish (Avg 24h: +2.50%)")
	assert.Contains(t, text, "• BTC (Bitcoin): $64,000.00 (+3.50%)")
	assert.Contains(t, text, "• PEPE - Pepe (Rank #30)")
	assert.Contains(t, text, "$1,570,000,000,000")
	assert.False(t, strings.Contains(text, "Recently Added"))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "0.00", FormatMoney(0, 2))
	assert.Equal(t, "999", FormatMoney(999, 0))
	assert.Equal(t, "1,000.50", FormatMoney(1000.5, 2))
	assert.Equal(t, "-1,234,567", FormatMoney(-1234567, 0))
}
