// Package analysis produces market analyses for A2A requests.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/assets"
	"github.com/morezero/market-agent/pkg/kv"
	"github.com/morezero/market-agent/pkg/market"
	"github.com/morezero/market-agent/pkg/narrative"
	"github.com/morezero/market-agent/pkg/notify"
	"github.com/morezero/market-agent/pkg/session"
)

const logPrefix = "analysis:agent"

const (
	// LatestTTL is how long the latest analysis per instrument is kept.
	LatestTTL = time.Hour

	newsLimit        = 10
	headlinesInText  = 5
	headlinesShown   = 3
	storedHistoryMax = 5
)

// Options wires the MarketAgent collaborators. Nil providers disable their
// feed; nil stores disable persistence.
type Options struct {
	CoinGecko    *market.CoinGecko
	AlphaVantage *market.AlphaVantage
	CryptoPanic  *market.CryptoPanic
	NewsAPI      *market.NewsAPI
	Analyst      *narrative.Analyst
	Assets       *assets.Table
	Sessions     *session.Store
	Store        kv.Store
	Notifier     *notify.Notifier
}

// MarketAgent answers price, outlook and market summary questions.
type MarketAgent struct {
	opts       Options
	summarizer *market.Summarizer
}

// NewMarketAgent creates a MarketAgent.
func NewMarketAgent(opts Options) *MarketAgent {
	if opts.Assets == nil {
		opts.Assets = assets.Default()
	}
	if opts.Analyst == nil {
		opts.Analyst = narrative.NewAnalyst(nil, 0)
	}
	return &MarketAgent{opts: opts, summarizer: market.NewSummarizer(opts.CoinGecko, opts.AlphaVantage)}
}

// Latest is the record stored under analysis:<KEY>.
type Latest struct {
	Analysis      narrative.Analysis `json:"analysis"`
	News          []market.Article   `json:"news"`
	PriceSnapshot Snapshot           `json:"price_snapshot"`
}

// Snapshot holds whatever prices were fetched.
type Snapshot struct {
	Pair   *market.ForexQuote `json:"pair,omitempty"`
	Crypto map[string]float64 `json:"crypto,omitempty"`
}

// Analyze implements the dispatcher's analyzer contract.
func (m *MarketAgent) Analyze(ctx context.Context, req *Request) (*a2a.TaskResult, error) {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if req.ContextID == "" {
		req.ContextID = fmt.Sprintf("context-%d", time.Now().Unix())
	}
	if req.Summary {
		return m.summary(ctx, req)
	}

	text, history := ExtractText(req.Messages)
	if text == "" {
		return nil, fmt.Errorf("%s - %w: provide a coin symbol, name or forex pair (e.g. 'BTC price', 'EUR/USD rate')",
			logPrefix, ErrNoAnalyzableText)
	}
	m.remember(ctx, req.ContextID, history, req.Messages[len(req.Messages)-1])

	if IsSummaryRequest(text) {
		return m.summary(ctx, req)
	}
	return m.instrument(ctx, req, text)
}

func (m *MarketAgent) remember(ctx context.Context, contextID string, history []string, user a2a.Message) {
	if m.opts.Sessions == nil {
		return
	}
	msgs := make([]a2a.Message, 0, storedHistoryMax+1)
	for _, h := range history[max(0, len(history)-storedHistoryMax):] {
		msgs = append(msgs, a2a.NewUserMessage(h))
	}
	msgs = append(msgs, user)
	if err := m.opts.Sessions.Append(ctx, contextID, msgs...); err != nil {
		slog.Warn(fmt.Sprintf("%s - store history for %s: %v", logPrefix, contextID, err))
	}
}

func (m *MarketAgent) instrument(ctx context.Context, req *Request, text string) (*a2a.TaskResult, error) {
	pair := m.opts.Assets.ExtractPair(text)
	coin := m.resolveCoin(ctx, text)

	var (
		snap     Snapshot
		tech     *market.Technicals
		news     []market.Article
		notices  []string
		priceErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	if pair != "" {
		g.Go(func() error {
			q, err := m.forexRate(gctx, pair)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - forex rate %s: %v", logPrefix, pair, err))
				q = &market.ForexQuote{Pair: pair}
			}
			snap.Pair = q
			return nil
		})
	}
	if coin != "" {
		g.Go(func() error {
			prices, err := m.prices(gctx, coin)
			if err != nil {
				priceErr = err
				slog.Warn(fmt.Sprintf("%s - price %s: %v", logPrefix, coin, err))
				return nil
			}
			snap.Crypto = prices
			return nil
		})
		g.Go(func() error {
			t, err := m.technicals(gctx, coin)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - technicals %s: %v", logPrefix, coin, err))
				return nil
			}
			tech = t
			return nil
		})
	}
	g.Go(func() error {
		news = market.CombinedNews(gctx, m.opts.CryptoPanic, m.opts.NewsAPI, newsLimit)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if pair != "" && snap.Pair.Rate == nil {
		notices = append(notices, fmt.Sprintf("Unable to fetch forex rate for %s. The API may be unavailable or the pair may not be supported.", pair))
	}
	if coin != "" && (priceErr != nil || snap.Crypto[coin] == 0) {
		notices = append(notices, fmt.Sprintf("Unable to fetch price data for %s. Please verify the coin name/symbol is correct.", coin))
	}

	relevant := m.filterNews(news, pair, coin)
	subject := firstNonEmpty(pair, coin, "market")
	outlook := m.opts.Analyst.Analyze(ctx, subject, snap, newsSummary(relevant, tech))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := strings.ToUpper(subject)
	m.storeLatest(ctx, key, Latest{Analysis: outlook, News: relevant, PriceSnapshot: snap})
	m.opts.Notifier.Notify(ctx, notify.Event{
		Key:           key,
		Impact:        outlook.ImpactScore,
		Analysis:      outlook,
		News:          relevant[:min(headlinesShown, len(relevant))],
		PriceSnapshot: snap,
	})

	agentMsg := a2a.NewAgentMessage(req.TaskID, a2a.TextPart(formatAnalysis(report{
		key:     key,
		outlook: outlook,
		snap:    snap,
		tech:    tech,
		news:    relevant,
		pair:    pair,
		coin:    coin,
		notices: notices,
	})))

	shown := relevant[:min(headlinesShown, len(relevant))]
	if shown == nil {
		shown = []market.Article{}
	}
	artifacts := []a2a.Artifact{a2a.NewArtifact("analysis", a2a.DataPart(outlook))}
	if snap.Pair != nil || snap.Crypto != nil {
		artifacts = append(artifacts, a2a.NewArtifact("price_snapshot", a2a.DataPart(snap)))
	}
	if tech != nil {
		artifacts = append(artifacts, a2a.NewArtifact("technical_indicators", a2a.DataPart(tech)))
	}
	artifacts = append(artifacts, a2a.NewArtifact("recent_news", a2a.DataPart(map[string]any{"items": shown})))

	state := a2a.StateCompleted
	if pair != "" && snap.Pair.Rate == nil && coin == "" {
		state = a2a.StateFailed
	}
	return m.finish(ctx, req, state, agentMsg, artifacts), nil
}

func (m *MarketAgent) summary(ctx context.Context, req *Request) (*a2a.TaskResult, error) {
	sum := m.summarizer.Summarize(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agentMsg := a2a.NewAgentMessage(req.TaskID, a2a.TextPart(market.FormatSummary(sum)), a2a.DataPart(sum))
	artifacts := []a2a.Artifact{
		a2a.NewArtifact("market_summary", a2a.DataPart(sum)),
		a2a.NewArtifact("top_performers", a2a.DataPart(sum.Crypto.Best24h)),
		a2a.NewArtifact("worst_performers", a2a.DataPart(sum.Crypto.Worst24h)),
		a2a.NewArtifact("trending_coins", a2a.DataPart(sum.Crypto.Trending)),
	}
	return m.finish(ctx, req, a2a.StateCompleted, agentMsg, artifacts), nil
}

func (m *MarketAgent) finish(ctx context.Context, req *Request, state string, agentMsg a2a.Message, artifacts []a2a.Artifact) *a2a.TaskResult {
	if m.opts.Sessions != nil {
		if err := m.opts.Sessions.Append(ctx, req.ContextID, agentMsg); err != nil {
			slog.Warn(fmt.Sprintf("%s - store agent reply for %s: %v", logPrefix, req.ContextID, err))
		}
	}
	history := append(append([]a2a.Message{}, req.Messages...), agentMsg)
	return a2a.NewTaskResult(req.TaskID, req.ContextID, a2a.NewTaskStatus(state, &agentMsg), artifacts, history)
}

// resolveCoin asks the model first, then the alias table.
func (m *MarketAgent) resolveCoin(ctx context.Context, text string) string {
	if q := m.opts.Analyst.ExtractCoin(ctx, text); q != "" {
		if id, ok := m.opts.Assets.CoinID(q); ok {
			return id
		}
		if m.opts.CoinGecko != nil {
			if id, err := m.opts.CoinGecko.SearchID(ctx, q); err == nil && id != "" {
				return id
			}
		}
		return strings.ToLower(q)
	}
	return m.opts.Assets.ExtractSymbol(text)
}

func (m *MarketAgent) forexRate(ctx context.Context, pair string) (*market.ForexQuote, error) {
	if m.opts.AlphaVantage == nil {
		return nil, market.ErrMissingAPIKey
	}
	return m.opts.AlphaVantage.Rate(ctx, pair)
}

func (m *MarketAgent) prices(ctx context.Context, coin string) (map[string]float64, error) {
	if m.opts.CoinGecko == nil {
		return nil, fmt.Errorf("%s - no price provider configured", logPrefix)
	}
	return m.opts.CoinGecko.Prices(ctx, coin)
}

func (m *MarketAgent) technicals(ctx context.Context, coin string) (*market.Technicals, error) {
	if m.opts.CoinGecko == nil {
		return nil, nil
	}
	return m.opts.CoinGecko.Technicals(ctx, coin)
}

// filterNews keeps headlines about the coin's ticker, or the pair's base
// currency. With neither, everything is relevant.
func (m *MarketAgent) filterNews(news []market.Article, pair, coin string) []market.Article {
	var match func(market.Article) bool
	switch {
	case coin != "":
		ticker := m.opts.Assets.Symbol(coin)
		match = func(a market.Article) bool {
			for _, s := range a.Symbols {
				if strings.EqualFold(s, ticker) {
					return true
				}
			}
			return strings.Contains(strings.ToUpper(a.Title), ticker)
		}
	case pair != "":
		base, _, _ := strings.Cut(pair, "/")
		match = func(a market.Article) bool {
			return strings.Contains(strings.ToUpper(a.Title), base) || strings.Contains(strings.ToUpper(a.Source), base)
		}
	default:
		return news
	}
	var out []market.Article
	for _, a := range news {
		if match(a) {
			out = append(out, a)
		}
	}
	return out
}

func (m *MarketAgent) storeLatest(ctx context.Context, key string, rec Latest) {
	if m.opts.Store == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err == nil {
		err = m.opts.Store.Set(ctx, "analysis:"+key, raw, LatestTTL)
	}
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - store latest analysis %s: %v", logPrefix, key, err))
	}
}

// LoadLatest returns the most recent stored analysis for key.
func LoadLatest(ctx context.Context, store kv.Store, key string) (*Latest, error) {
	raw, err := store.Get(ctx, "analysis:"+strings.ToUpper(key))
	if err != nil {
		return nil, err
	}
	var rec Latest
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%s - decode latest %s: %w", logPrefix, key, err)
	}
	return &rec, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
