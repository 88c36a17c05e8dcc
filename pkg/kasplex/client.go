// Package kasplex is a client for the Kasplex KRC-20 indexer API.
package kasplex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Kasplex testnet KRC-20 endpoint.
const DefaultBaseURL = "https://tn11api.kasplex.org/v1/krc20"

// Config holds configuration for a Client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	// RequestsPerSecond caps outgoing requests. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a Config pointing at DefaultBaseURL.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      10 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		UserAgent:    "krc20bot/1.0",

		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// Client fetches token and holder data. It is safe for concurrent use.
type Client struct {
	baseURL   string
	userAgent string
	inner     *retryablehttp.Client
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// NewClient creates a Client.
func NewClient(cfg *Config, logger zerolog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL '%s': %w", cfg.BaseURL, err)
	}

	clientLogger := logger.With().Str("component", "KasplexClient").Logger()

	r := retryablehttp.NewClient()
	r.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		r.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		r.RetryWaitMax = cfg.RetryWaitMax
	}
	r.HTTPClient.Timeout = cfg.Timeout
	r.Logger = leveledLogger{logger: clientLogger}
	// Hand the last response back instead of a generic "giving up" error so
	// the status code can be inspected.
	r.ErrorHandler = retryablehttp.PassthroughErrorHandler

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		inner:     r,
		limiter:   limiter,
		logger:    clientLogger,
	}, nil
}

// TokenInfo returns the deployment and mint statistics of tick, including
// the holder list. A ticker the API does not know yields ErrNotFound.
func (c *Client) TokenInfo(ctx context.Context, tick string) (TokenInfo, error) {
	const op = "token info"
	var info TokenInfo
	u := fmt.Sprintf("%s/token/%s?stat=true&holder=true", c.baseURL, url.PathEscape(tick))
	if err := c.getJSON(ctx, op, tick, u, &info); err != nil {
		return TokenInfo{}, err
	}
	if len(info.Result) == 0 {
		return TokenInfo{}, &FetchError{Op: op, Key: tick, Err: ErrNotFound}
	}
	return info, nil
}

// AddressTokenList returns every KRC-20 balance held by address. An address
// that holds nothing returns an empty list, not an error.
func (c *Client) AddressTokenList(ctx context.Context, address string) (TokenList, error) {
	const op = "address token list"
	var list TokenList
	u := fmt.Sprintf("%s/address/%s/tokenlist", c.baseURL, url.PathEscape(address))
	if err := c.getJSON(ctx, op, address, u, &list); err != nil {
		return TokenList{}, err
	}
	if list.Result == nil {
		return TokenList{}, &FetchError{Op: op, Key: address, Err: ErrNotFound}
	}
	return list, nil
}

func (c *Client) getJSON(ctx context.Context, op, key, u string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &FetchError{Op: op, Key: key, Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &FetchError{Op: op, Key: key, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.inner.Do(req)
	if err != nil {
		// The retry policy reports 5xx as an error alongside the response.
		fe := &FetchError{Op: op, Key: key, Err: err}
		if resp != nil {
			fe.StatusCode = resp.StatusCode
			_ = resp.Body.Close()
		}
		return fe
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &FetchError{Op: op, Key: key, StatusCode: resp.StatusCode, Err: ErrNotFound}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{Op: op, Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body)))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	c.logger.Debug().Str("key", key).Str("op", op).Msg("Fetched from Kasplex API.")
	return nil
}
