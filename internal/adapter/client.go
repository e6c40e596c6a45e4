// Package adapter holds the HTTP plumbing shared by platform adapters:
// throttling, request building and mapping provider responses onto the
// fetch error taxonomy.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// DefaultUserAgent identifies the crawler to providers that require one.
const DefaultUserAgent = "socialmon/1.0 (+https://github.com/JakeFAU/social-monitor)"

const maxErrorBody = 512

// Throttle grants request permission per platform.
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Client performs throttled GET requests for one platform.
type Client struct {
	platform  monitor.Platform
	http      *http.Client
	throttle  Throttle
	userAgent string
}

// NewClient builds a Client. A nil httpClient gets a 30s timeout client and
// a nil throttle disables local rate limiting.
func NewClient(platform monitor.Platform, httpClient *http.Client, throttle Throttle, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{platform: platform, http: httpClient, throttle: throttle, userAgent: userAgent}
}

// Platform returns the platform the client is bound to.
func (c *Client) Platform() monitor.Platform {
	return c.platform
}

// HTTPClient exposes the underlying client for libraries that make their own requests.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// UserAgent returns the configured user agent.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Wait takes a throttle token and maps refusals to fetch errors.
func (c *Client) Wait(ctx context.Context) error {
	if c.throttle == nil {
		return nil
	}
	if err := c.throttle.Wait(ctx, string(c.platform)); err != nil {
		return c.Wrap(err)
	}
	return nil
}

// Get issues a throttled GET. On success the caller owns the body; any
// non-2xx response is drained, closed and returned as a *monitor.FetchError.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &monitor.FetchError{Platform: c.platform, Kind: monitor.FetchPermanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.Wrap(fmt.Errorf("get %s: %w", req.URL.Redacted(), err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, StatusError(c.platform, resp, strings.TrimSpace(string(snippet)))
}

// GetJSON performs Get and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}
	resp, err := c.Get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.Wrap(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Wrap converts an arbitrary error into a *monitor.FetchError for this
// platform, keeping an existing classification.
func (c *Client) Wrap(err error) error {
	return Wrap(c.platform, err)
}

// Wrap converts err into a *monitor.FetchError for platform.
func Wrap(platform monitor.Platform, err error) error {
	if err == nil {
		return nil
	}
	var fe *monitor.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &monitor.FetchError{Platform: platform, Kind: monitor.ClassifyFetchError(err), Err: err}
}

// StatusError maps a non-2xx response to a fetch error. 429 is rate
// limiting, 408 and 5xx are transient, other 4xx are permanent.
func StatusError(platform monitor.Platform, resp *http.Response, body string) *monitor.FetchError {
	code := resp.StatusCode
	msg := resp.Status
	if body != "" {
		msg += ": " + body
	}
	fe := &monitor.FetchError{Platform: platform, StatusCode: code, Err: errors.New(msg)}
	switch {
	case code == http.StatusTooManyRequests:
		fe.Kind = monitor.FetchRateLimited
		if retry := RetryAfter(resp.Header.Get("Retry-After"), time.Now()); retry > 0 {
			fe.Err = fmt.Errorf("%s (retry after %s)", msg, retry)
		}
	case code == http.StatusRequestTimeout || code >= 500:
		fe.Kind = monitor.FetchTransient
	default:
		fe.Kind = monitor.FetchPermanent
	}
	return fe
}

// RetryAfter parses a Retry-After header given either as seconds or an HTTP date.
func RetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Permanent builds a permanent error for invalid criteria or configuration.
func Permanent(platform monitor.Platform, format string, args ...any) error {
	return &monitor.FetchError{Platform: platform, Kind: monitor.FetchPermanent, Err: fmt.Errorf(format, args...)}
}
