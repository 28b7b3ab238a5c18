// Package market fetches prices, forex rates and headlines from public
// market data providers.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const logPrefix = "market:client"

// DefaultTimeout bounds each provider request.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 512

// ErrMissingAPIKey is returned by providers that cannot operate without a key.
var ErrMissingAPIKey = errors.New("api key not configured")

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: %s (status: %d, endpoint: %s)", e.Provider, e.Message, e.StatusCode, e.Endpoint)
}

// RateLimited reports whether the provider throttled the request.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ClientOption configures a provider client.
type ClientOption func(*httpGetter)

// WithBaseURL overrides the provider base URL.
func WithBaseURL(base string) ClientOption {
	return func(g *httpGetter) {
		if base != "" {
			g.baseURL = base
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(g *httpGetter) {
		if hc != nil {
			g.http = hc
		}
	}
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(every time.Duration, burst int) ClientOption {
	return func(g *httpGetter) {
		g.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// httpGetter is the rate-limited JSON GET shared by every provider.
type httpGetter struct {
	provider string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	header   http.Header
}

func newGetter(provider, base string, limit rate.Limit, burst int, opts []ClientOption) *httpGetter {
	g := &httpGetter{
		provider: provider,
		baseURL:  base,
		http:     &http.Client{Timeout: DefaultTimeout},
		limiter:  rate.NewLimiter(limit, burst),
		header:   http.Header{"Accept": []string{"application/json"}},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *httpGetter) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s - %s rate limiter: %w", logPrefix, g.provider, err)
	}

	reqURL := g.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s - %s build request: %w", logPrefix, g.provider, err)
	}
	for k, v := range g.header {
		req.Header[k] = v
	}

	slog.Debug(fmt.Sprintf("%s - %s GET %s", logPrefix, g.provider, path))
	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s - %s request %s: %w", logPrefix, g.provider, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: g.provider, StatusCode: resp.StatusCode, Message: string(body), Endpoint: path}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s - %s decode %s: %w", logPrefix, g.provider, path, err)
	}
	return nil
}

func normalizeTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ts
}
