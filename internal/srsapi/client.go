// SPDX-License-Identifier: MIT

// Package srsapi is a client for SRS's own HTTP API (default port 1985):
// stream listing and lookup, a check that a publisher is actually
// flowing data, and a reachability ping. cmd/restreamerd uses Ping for
// its SRS API watchdog.
package srsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultAPIURL is where SRS listens for its HTTP API by default.
	DefaultAPIURL = "http://127.0.0.1:1985"

	// DefaultTimeout bounds a single API call (spec.md §8: "HTTP
	// callbacks: 2s" governs the hook side; the API client uses the same
	// order of magnitude).
	DefaultTimeout = 2 * time.Second
)

// Client talks to one SRS instance's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient swaps in a custom *http.Client (tests use this to point
// at an httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client against baseURL (e.g. "http://127.0.0.1:1985").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream is SRS's representation of one active RTMP/HLS stream, as
// returned by GET /api/v1/streams.
type Stream struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Vhost   string `json:"vhost"`
	App     string `json:"app"`
	TcURL   string `json:"tcUrl"`
	URL     string `json:"url"`
	LiveMS  int64  `json:"live_ms"`
	Clients int     `json:"clients"`
	Frames  int64  `json:"frames"`
	SendBytes int64 `json:"send_bytes"`
	RecvBytes int64 `json:"recv_bytes"`
	Kbps    struct {
		Recv30s int `json:"recv_30s"`
		Send30s int `json:"send_30s"`
	} `json:"kbps"`
	Publish struct {
		Active bool   `json:"active"`
		CID    string `json:"cid"`
	} `json:"publish"`
}

type streamsResponse struct {
	Code    int      `json:"code"`
	Streams []Stream `json:"streams"`
}

// ListStreams returns every stream SRS currently knows about.
func (c *Client) ListStreams(ctx context.Context) ([]Stream, error) {
	var body streamsResponse
	if err := c.get(ctx, "/api/v1/streams", &body); err != nil {
		return nil, err
	}
	if body.Code != 0 {
		return nil, fmt.Errorf("srs api returned code %d", body.Code)
	}
	return body.Streams, nil
}

// GetStream returns the stream matching vhost/app/name, or nil if SRS
// has no such stream currently.
func (c *Client) GetStream(ctx context.Context, vhost, app, name string) (*Stream, error) {
	streams, err := c.ListStreams(ctx)
	if err != nil {
		return nil, err
	}
	for i := range streams {
		s := &streams[i]
		if s.Vhost == vhost && s.App == app && s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

// IsPublishing reports whether a publisher is actively sending data to
// vhost/app/name: the stream exists, its publish side is active, and it
// has received at least one byte.
func (c *Client) IsPublishing(ctx context.Context, vhost, app, name string) (bool, error) {
	stream, err := c.GetStream(ctx, vhost, app, name)
	if err != nil {
		return false, err
	}
	return stream != nil && stream.Publish.Active && stream.RecvBytes > 0, nil
}

// summaryResponse is the shape of GET /api/v1/summaries, used only to
// verify the API is reachable.
type summaryResponse struct {
	Code int `json:"code"`
}

// Ping verifies the SRS HTTP API is reachable and responding.
func (c *Client) Ping(ctx context.Context) error {
	var body summaryResponse
	return c.get(ctx, "/api/v1/summaries", &body)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("srs api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("srs api %s returned status %d: %s", path, resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode srs api response: %w", err)
	}
	return nil
}
