package ipintel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/risk"
)

const maxResponseBytes = 64 << 10

// Client queries an HTTP IP-intelligence service:
//
//	GET {base}/{ip}  ->  {"countryCode": "...", "vpnDetected": true, ...}
//
// Concurrent lookups of the same address share one upstream request.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	group   singleflight.Group
	timeout time.Duration
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends a bearer token on every lookup.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithTimeout bounds each upstream request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("ipintel: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ipintel: unsupported scheme %q", u.Scheme)
	}
	c := &Client{base: u, http: &http.Client{}, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup returns intelligence for ip. Every failure wraps access.ErrUpstreamUnavailable.
func (c *Client) Lookup(ctx context.Context, ip string) (risk.IPIntelligence, error) {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return risk.IPIntelligence{}, fmt.Errorf("%w: invalid ip %q", access.ErrUpstreamUnavailable, ip)
	}
	key := addr.String()
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, key)
	})
	if err != nil {
		return risk.IPIntelligence{}, err
	}
	return v.(risk.IPIntelligence), nil
}

func (c *Client) fetch(ctx context.Context, ip string) (risk.IPIntelligence, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.base.JoinPath(ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return risk.IPIntelligence{}, upstream(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return risk.IPIntelligence{}, upstream(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return risk.IPIntelligence{}, upstream(fmt.Errorf("status %d", resp.StatusCode))
	}

	var out risk.IPIntelligence
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return risk.IPIntelligence{}, upstream(fmt.Errorf("decode: %w", err))
	}
	out.CountryCode = strings.ToUpper(strings.TrimSpace(out.CountryCode))
	return out, nil
}

func upstream(err error) error {
	if errors.Is(err, access.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: ipintel: %v", access.ErrUpstreamUnavailable, err)
}
