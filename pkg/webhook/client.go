// Package webhook delivers JSON payloads to caller-supplied callback URLs.
// A delivery is a single authenticated POST; retrying is left to the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/morezero/market-agent/pkg/a2a"
)

const logPrefix = "webhook:client"

const (
	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 10 * time.Second
	// maxErrorBody caps how much of a failed response body is kept.
	maxErrorBody = 512
)

// Target is where and how to deliver.
type Target struct {
	URL    string
	Scheme string
	Token  string
}

// TargetFrom builds a Target from an A2A push notification config.
func TargetFrom(cfg *a2a.PushNotificationConfig) Target {
	scheme, token := cfg.Credentials()
	return Target{URL: cfg.URL, Scheme: scheme, Token: token}
}

// DeliveryError describes a failed delivery. StatusCode is zero when no HTTP
// response was received.
type DeliveryError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook delivery to %s failed: status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook delivery to %s failed: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Temporary reports whether another attempt could succeed: transport
// failures, 408, 429 and 5xx responses.
func (e *DeliveryError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// Client posts payloads to webhook targets.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a Client with DefaultTimeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "market-agent/webhook",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver posts a full response envelope to target.
func (c *Client) Deliver(ctx context.Context, target Target, resp *a2a.Response) error {
	if resp == nil {
		return &DeliveryError{URL: target.URL, Err: errors.New("nil response envelope")}
	}
	return c.Post(ctx, target, resp)
}

// Post marshals payload as JSON and performs one POST to target.
func (c *Client) Post(ctx context.Context, target Target, payload any) error {
	if strings.TrimSpace(target.URL) == "" {
		return &DeliveryError{Err: errors.New("empty callback url")}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{URL: target.URL, Err: fmt.Errorf("encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{URL: target.URL, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if target.Token != "" {
		scheme := target.Scheme
		if scheme == "" {
			scheme = a2a.DefaultAuthScheme
		}
		req.Header.Set("Authorization", scheme+" "+target.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{URL: target.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{
			URL:        target.URL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	slog.Debug(fmt.Sprintf("%s - delivered %d bytes to %s status=%d in %s",
		logPrefix, len(body), target.URL, resp.StatusCode, time.Since(start)))
	return nil
}
