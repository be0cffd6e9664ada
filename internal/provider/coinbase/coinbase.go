// Package coinbase implements a provider for Coinbase Exchange historical
// candles. The public candles endpoint needs no authentication.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/candle-backfill/internal/provider"
)

const (
	// DefaultBaseURL is the public Coinbase Exchange REST endpoint.
	DefaultBaseURL = "https://api.exchange.coinbase.com"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "candle-backfill/1.0"
	maxErrorBody     = 512
)

// Client fetches candles from the Coinbase Exchange API.
type Client struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithClient sets the HTTP client.
func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout on the current HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.client
		hc.Timeout = d
		c.client = &hc
	}
}

// WithUserAgent sets the User-Agent header. Coinbase rejects requests without one.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "coinbase" }

// FetchCandles requests the buckets between start and end. The bounds are
// passed through unchanged, without reordering. Rows are returned in the
// order the response lists them.
func (c *Client) FetchCandles(ctx context.Context, product string, start, end time.Time, granularity int) ([]provider.Row, error) {
	if product == "" {
		return nil, fmt.Errorf("product cannot be empty")
	}

	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	q.Set("granularity", strconv.Itoa(granularity))
	reqURL := fmt.Sprintf("%s/products/%s/candles?%s", c.baseURL, url.PathEscape(product), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &provider.StatusError{StatusCode: res.StatusCode, Body: errorMessage(body)}
	}

	var raw [][]decimal.Decimal
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse coinbase response: %w", err)
	}

	rows := make([]provider.Row, 0, len(raw))
	for i, r := range raw {
		if len(r) < 6 {
			return nil, fmt.Errorf("parse coinbase response: row %d has %d fields", i, len(r))
		}
		rows = append(rows, provider.Row{
			Time:   time.Unix(r[0].IntPart(), 0).UTC(),
			Low:    r[1],
			High:   r[2],
			Open:   r[3],
			Close:  r[4],
			Volume: r[5],
		})
	}

	slog.Debug("retrieved coinbase candles", "product", product,
		"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339),
		"granularity", granularity, "count", len(rows))

	return rows, nil
}

// errorMessage extracts the "message" field Coinbase puts in error bodies,
// falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
