// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package geo

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/siemens/blackdig/types"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults for talking to the lookup service.
const (
	DefaultBaseURL = "https://ipinfo.io"
	DefaultTimeout = 5 * time.Second
)

// maxBodySize limits the size of lookup responses we're willing to read.
const maxBodySize = 64 * 1024

// Locator looks up the geographic metadata of addresses. Lookups never fail
// with an error, but instead return the Failure variant of an
// [types.EnrichmentResult].
type Locator interface {
	Lookup(ctx context.Context, addr types.Address) types.EnrichmentResult
}

// Client queries an ipinfo.io-style lookup service via HTTP GET requests to
// "<base-url>/<address>/json".
type Client struct {
	baseURL string
	timeout time.Duration
	token   string
	client  *http.Client
	limiter *rate.Limiter // optional limit on outgoing lookups.
	log     *zap.SugaredLogger
}

var _ Locator = (*Client)(nil)

// ClientOption can be passed to NewClient when creating new [Client] objects.
type ClientOption func(*Client)

// NewClient returns a new lookup service [Client]. It defaults to querying
// ipinfo.io with a timeout of 5s per lookup. Clients can be configured using
// these options:
//   - [WithBaseURL]
//   - [WithTimeout]
//   - [WithToken]
//   - [WithRateLimit]
//   - [WithHTTPClient]
//   - [WithLogger]
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		client:  http.DefaultClient,
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithBaseURL sets the base URL of the lookup service.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithTimeout sets the maximum duration of a single lookup, including reading
// the response.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithToken sets the API token to send as bearer authorization.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithRateLimit limits the outgoing lookups to the specified number of
// queries per second, allowing for bursts of the specified size. Waiting for
// the rate limiter does not count towards the lookup timeout.
func WithRateLimit(qps float64, burst int) ClientOption {
	return func(c *Client) {
		if qps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// WithHTTPClient sets the HTTP client to use instead of http.DefaultClient.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the logger for reporting lookup outcomes at debug level.
func WithLogger(log *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// Lookup the specified address, making a single attempt only.
func (c *Client) Lookup(ctx context.Context, addr types.Address) types.EnrichmentResult {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return types.FailedWith(addr, types.FailureCancelled, "cancelled")
		}
	}
	start := time.Now()
	res := c.lookup(ctx, addr)
	if res.Failure != nil {
		c.log.Debugw("lookup failed",
			"address", addr, "kind", res.Failure.Kind, "reason", res.Failure.Reason,
			"duration", time.Since(start))
	} else {
		c.log.Debugw("lookup succeeded", "address", addr, "duration", time.Since(start))
	}
	return res
}

func (c *Client) lookup(ctx context.Context, addr types.Address) types.EnrichmentResult {
	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(lookupCtx, http.MethodGet,
		c.baseURL+"/"+url.PathEscape(addr.String())+"/json", nil)
	if err != nil {
		return types.FailedWith(addr, types.FailureTransport, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "blackdig")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return failure(ctx, addr, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.FailedWith(addr, types.FailureNotFound, "address not found")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return types.FailedWithStatus(addr, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return failure(ctx, addr, err)
	}
	geo, err := decode(body)
	switch {
	case errors.Is(err, errBogon):
		return types.FailedWith(addr, types.FailureNotFound, "address is a bogon")
	case err != nil:
		return types.FailedWith(addr, types.FailureMalformed, err.Error())
	}
	return types.Succeeded(addr, geo)
}

// failure classifies an error in talking to the lookup service. The parent
// context distinguishes the whole run getting cancelled from this particular
// lookup timing out.
func failure(parent context.Context, addr types.Address, err error) types.EnrichmentResult {
	if parent.Err() != nil {
		return types.FailedWith(addr, types.FailureCancelled, "cancelled")
	}
	var neterr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &neterr) && neterr.Timeout()) {
		return types.FailedWith(addr, types.FailureTimeout, "timeout")
	}
	return types.FailedWith(addr, types.FailureTransport, err.Error())
}
