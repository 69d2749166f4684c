// FediFetcher
// Copyright (C) FediFetcher Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package httpclient provides the per-peer-server HTTP client:
// keep-alive connections shared across clients, optional bearer
// auth, JSON decoding, Link-header pagination, rate-limit backoff
// with retries, and a per-server in-flight request gate.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
	"github.com/tomnomnom/linkheader"
)

// UserAgent is sent on all outbound requests. Browser-masquerading
// plus a project identifier, as some peers reject obvious bots.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 +https://github.com/superseriousbusiness/fedifetcher FediFetcher/1.0.0"

// maxBodySize bounds response bodies; don't trust
// content lengths reported by arbitrary peers.
const maxBodySize = 8 * 1024 * 1024

// transport is shared by every per-server client so that
// keep-alive connection pooling spans the whole run.
var transport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// Config provides configuration details
// for setting up a new Client instance.
type Config struct {
	// Host is the peer's hostname, no scheme or path.
	Host string

	// Token is an optional bearer token.
	Token string

	// Timeout is the total per-request timeout.
	// Defaults to a reasonable 60s.
	Timeout time.Duration

	// MaxOpenConns limits in-flight requests against
	// this one peer. Defaults to 1; the home server's
	// client is opened wider for bulk resolution.
	MaxOpenConns int

	// MaxRetries bounds retry attempts after 429
	// responses. Defaults to 5.
	MaxRetries int

	// BaseURL overrides the "https://<Host>" base;
	// set by tests pointing at a local listener.
	BaseURL string
}

// Pagination carries the RFC 5988 next / prev page URLs
// attached to a decoded response, when the server sent any.
type Pagination struct {
	Next string
	Prev string
}

// Client is an HTTP client pinned to one peer server.
type Client struct {
	base    string
	host    string
	token   string
	client  http.Client
	queue   chan struct{}
	retries int
}

// New returns a new Client for the given peer configuration.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	base := cfg.BaseURL
	if base == "" {
		base = "https://" + cfg.Host
	}

	c := &Client{
		base:    strings.TrimSuffix(base, "/"),
		host:    cfg.Host,
		token:   cfg.Token,
		queue:   make(chan struct{}, cfg.MaxOpenConns),
		retries: cfg.MaxRetries,
	}
	c.client.Timeout = cfg.Timeout
	c.client.Transport = transport
	return c
}

// Host returns the hostname this client is pinned to.
func (c *Client) Host() string {
	return c.host
}

// HasToken returns whether this client sends bearer auth.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// Get performs a GET request against the given API path and
// decodes the JSON response into out (if non-nil). Returned
// Pagination is zero unless the server sent Link headers.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) (Pagination, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

// GetURL is Get for a pre-built absolute URL, as handed
// back by Link-header pagination.
func (c *Client) GetURL(ctx context.Context, rawurl string, out any) (Pagination, error) {
	return c.do(ctx, http.MethodGet, rawurl, nil, out)
}

// GetRaw performs a GET request against the given API path,
// returning the raw (bounded) response body. Used for the odd
// non-JSON endpoint such as host-meta XRD.
func (c *Client) GetRaw(ctx context.Context, path string) ([]byte, error) {
	// Wait for our turn against this peer.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c.queue <- struct{}{}:
		defer func() { <-c.queue }()
	}

	rsp, err := c.once(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return nil, fferror.NewFromResponse(rsp)
	}

	b, err := io.ReadAll(io.LimitReader(rsp.Body, maxBodySize))
	if err != nil {
		return nil, fferror.Wrap(err)
	}
	return b, nil
}

// Post performs a POST request with a JSON body against the
// given API path, decoding the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fferror.Wrap(err)
	}
	_, err = c.do(ctx, http.MethodPost, c.base+path, b, out)
	return err
}

func (c *Client) do(ctx context.Context, method, rawurl string, body []byte, out any) (Pagination, error) {
	// Wait for our turn against this peer.
	select {
	case <-ctx.Done():
		return Pagination{}, ctx.Err()
	case c.queue <- struct{}{}:
		defer func() { <-c.queue }()
	}

	for tries := 0; ; tries++ {
		rsp, err := c.once(ctx, method, rawurl, body)
		if err != nil {
			// Transient transport-level error; the
			// caller proceeds with a missing result.
			return Pagination{}, err
		}

		if rsp.StatusCode == http.StatusTooManyRequests {
			retryAt := rateLimitReset(rsp.Header)
			_ = rsp.Body.Close()

			if tries >= c.retries {
				log.Errorf("too many requests to %s, giving up after %d retries", c.host, tries)
				return Pagination{}, fferror.WithStatusCode(
					fferror.Newf("%s: %w", c.host, fferror.ErrRateLimited),
					http.StatusTooManyRequests,
				)
			}

			log.Warnf("too many requests to %s, waiting until %s before trying again",
				c.host, retryAt.Format(time.RFC3339))
			if err := sleepUntil(ctx, retryAt); err != nil {
				return Pagination{}, err
			}
			continue
		}

		return c.handleResponse(rsp, out)
	}
}

func (c *Client) once(ctx context.Context, method, rawurl string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
	if err != nil {
		return nil, fferror.Wrap(err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rsp, err := c.client.Do(req)
	if err != nil {
		// Timeout / SSL / connection errors land here;
		// logged at warning per the error taxonomy.
		log.Warnf("request to %s failed: %v", c.host, err)
		return nil, fferror.Wrap(err)
	}
	return rsp, nil
}

func (c *Client) handleResponse(rsp *http.Response, out any) (Pagination, error) {
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		err := fferror.NewFromResponse(rsp)
		switch {
		case rsp.StatusCode == http.StatusUnauthorized,
			rsp.StatusCode == http.StatusForbidden,
			rsp.StatusCode == http.StatusBadRequest:
			log.Errorf("error with API on server %s: %v", c.host, err)
		case rsp.StatusCode >= 500:
			log.Warnf("error with API on server %s: %v", c.host, err)
		case rsp.StatusCode == http.StatusNotFound:
			log.Debugf("not found on server %s: %v", c.host, err)
		default:
			log.Errorf("error with API on server %s: %v", c.host, err)
		}
		return Pagination{}, err
	}

	if out != nil {
		b, err := io.ReadAll(io.LimitReader(rsp.Body, maxBodySize))
		if err != nil {
			log.Warnf("error reading response from %s: %v", c.host, err)
			return Pagination{}, fferror.Wrap(err)
		}
		if len(b) > 0 {
			if err := json.Unmarshal(b, out); err != nil {
				log.Errorf("server %s returned an unexpected response: %v", c.host, err)
				return Pagination{}, fferror.Wrap(err)
			}
		}
	}

	return parseLinkHeader(rsp.Header.Get("Link")), nil
}

// parseLinkHeader extracts next/prev page URLs
// from an RFC 5988 Link header value.
func parseLinkHeader(h string) Pagination {
	if h == "" {
		return Pagination{}
	}
	var pg Pagination
	for _, link := range linkheader.Parse(h) {
		switch link.Rel {
		case "next":
			pg.Next = link.URL
		case "prev":
			pg.Prev = link.URL
		}
	}
	return pg
}

// rateLimitReset returns one second past the time advertised by
// an x-ratelimit-reset header, or now+60s without a parseable one.
func rateLimitReset(h http.Header) time.Time {
	fallback := time.Now().Add(60 * time.Second)
	v := h.Get("x-ratelimit-reset")
	if v == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback
	}
	return t.Add(time.Second)
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
