package anime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const maxUpstreamBody = 8 << 20

// ClientConfig holds the connection settings shared by every HTTP adapter.
type ClientConfig struct {
	BaseURL string
	Token   string
	// RequestsPerSecond bounds outbound calls; zero disables client-side limiting.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

type upstreamClient struct {
	provider string
	baseURL  string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
}

func newUpstreamClient(provider string, cfg ClientConfig, defaultBase string) *upstreamClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &upstreamClient{
		provider: provider,
		baseURL:  base,
		token:    strings.TrimSpace(cfg.Token),
		http:     httpClient,
		limiter:  limiter,
	}
}

func (c *upstreamClient) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.wrap(op, 0, fmt.Errorf("%w: build request: %w", ErrUpstream, err))
	}
	return c.do(op, req, out)
}

func (c *upstreamClient) postJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return c.wrap(op, 0, fmt.Errorf("%w: encode request: %w", ErrUpstream, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return c.wrap(op, 0, fmt.Errorf("%w: build request: %w", ErrUpstream, err))
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *upstreamClient) do(op string, req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return c.wrap(op, 0, fmt.Errorf("%w: wait for rate limiter: %w", ErrUpstream, err))
		}
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.wrap(op, 0, fmt.Errorf("%w: %w", ErrUpstream, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return c.wrap(op, resp.StatusCode, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		err := c.wrap(op, resp.StatusCode, ErrRateLimited).(*UpstreamError)
		err.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return err
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return c.wrap(op, resp.StatusCode, ErrUpstream)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return c.wrap(op, resp.StatusCode, fmt.Errorf("%w: read body: %w", ErrUpstream, err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.wrap(op, resp.StatusCode, fmt.Errorf("%w: decode body: %w", ErrUpstream, err))
	}
	return nil
}

func (c *upstreamClient) wrap(op string, status int, err error) error {
	return &UpstreamError{Provider: c.provider, Op: op, StatusCode: status, Err: err}
}

func (c *upstreamClient) requireToken(op string) error {
	if c.token == "" {
		return c.wrap(op, 0, ErrCredentialsMissing)
	}
	return nil
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
