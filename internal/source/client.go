package source

import (
	"context"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
)

// Client is a throttled HTTP client shared by one source's requests. It
// retries transport errors and 429/503 responses with exponential,
// jittered backoff, honoring Retry-After when present.
type Client struct {
	HTTP        *http.Client
	Throttle    *Throttle
	Name        string
	UserAgent   string
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Headers     map[string]string
}

// ClientConfig configures a new Client.
type ClientConfig struct {
	Name           string
	MaxConcurrent  int
	RequestDelay   time.Duration
	Jitter         time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	MaxRetries     int
	Headers        map[string]string
}

// NewClient builds a Client per ClientConfig, filling in the spec's
// defaults (connect 10s, read 20s, 3 retries) for zero-valued fields.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 20 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "bookvault-ingest/1.0"
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{DialContext: dialer.DialContext}

	return &Client{
		HTTP: &http.Client{
			Timeout:   cfg.ReadTimeout,
			Transport: transport,
		},
		Throttle:    NewThrottle(cfg.MaxConcurrent, cfg.RequestDelay, cfg.Jitter),
		Name:        cfg.Name,
		UserAgent:   cfg.UserAgent,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
		Headers:     cfg.Headers,
	}
}

// result is the outcome of a single attempt.
type result struct {
	body       []byte
	status     int
	retryAfter time.Duration
	err        error
}

// Get fetches url, retrying transient failures. On success it returns the
// response body and status code. A 404 surfaces as bverrors.ErrNotFound
// without retry; other 4xx are permanent; 429/503/transport errors retry
// with exponential, jittered backoff capped at BackoffMax, honoring any
// Retry-After header.
func (c *Client) Get(ctx context.Context, url string) ([]byte, int, error) {
	var last result
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		r := c.doOnce(ctx, url)
		last = r

		if r.err == nil {
			return r.body, r.status, nil
		}
		if r.status == http.StatusNotFound {
			return nil, r.status, bverrors.ErrNotFound
		}
		if r.status >= 400 && r.status != http.StatusTooManyRequests && r.status != http.StatusServiceUnavailable {
			return nil, r.status, bverrors.Wrap(r.err, "permanent upstream error")
		}
		if attempt == c.MaxRetries {
			break
		}

		wait := c.backoffFor(attempt, r.retryAfter)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, r.status, ctx.Err()
		}
	}
	return nil, last.status, bverrors.NewTransient(c.Name, "get", last.status, last.err)
}

func (c *Client) doOnce(ctx context.Context, url string) result {
	release, err := c.Throttle.Acquire(ctx)
	if err != nil {
		return result{err: err}
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result{err: err}
	}
	req.Header.Set("User-Agent", c.UserAgent)
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return result{err: bverrors.NewTransient(c.Name, "get", 0, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result{status: resp.StatusCode, err: bverrors.NewTransient(c.Name, "read-body", resp.StatusCode, err)}
	}

	if resp.StatusCode >= 400 {
		return result{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			err:        bverrors.NewTransient(c.Name, "get", resp.StatusCode, errStatus(resp.StatusCode)),
		}
	}
	return result{body: body, status: resp.StatusCode}
}

func (c *Client) backoffFor(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > c.BackoffMax {
			return c.BackoffMax
		}
		return retryAfter
	}
	wait := c.BackoffBase * time.Duration(int64(1)<<uint(attempt))
	if wait > c.BackoffMax {
		wait = c.BackoffMax
	}
	wait += time.Duration(rand.Int63n(int64(time.Second)))
	return wait
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

type httpStatusError int

func errStatus(code int) error      { return httpStatusError(code) }
func (e httpStatusError) Error() string { return "http status " + strconv.Itoa(int(e)) }
