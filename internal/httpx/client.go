// Package httpx wraps the outbound HTTP calls the providers make against a
// flaky, rate-limited upstream: bounded retry with exponential backoff,
// Retry-After aware 429 handling that also arms the process-wide cooldown,
// and terminal treatment of caller-fault status codes.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const bodyLogLimit = 500

// StatusError is returned for non-2xx responses. Body is truncated so error
// strings and logs stay bounded. RetryAfterSec carries the Retry-After hint
// of a 429, when the upstream sent one.
type StatusError struct {
	StatusCode    int
	Body          string
	RetryAfterSec int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is returned when a 2xx body fails JSON decoding. It is distinct
// from StatusError so callers can tell a broken payload from a refused call.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode upstream response: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// IsStatus reports whether err is (or wraps) a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Response exposes the body of a successful call both as raw text and as
// decoded JSON.
type Response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// Text returns the raw body.
func (r *Response) Text() string { return string(r.body) }

// Bytes returns the raw body bytes.
func (r *Response) Bytes() []byte { return r.body }

// Options configures a Client. The zero value of each field falls back to a
// sane default.
type Options struct {
	HTTPClient  *http.Client
	MaxAttempts int
	// OnRateLimit is invoked with the backoff duration whenever the upstream
	// answers 429, before sleeping. The orchestration layer uses it to arm
	// the shared cooldown so queued requests hold back too.
	OnRateLimit func(time.Duration)
	Logger      zerolog.Logger
	// BackoffUnit scales the exponential backoff and Retry-After sleeps;
	// production keeps the default one second, tests shrink it.
	BackoffUnit time.Duration
}

// Client performs one logical HTTP call with retry semantics.
type Client struct {
	hc          *http.Client
	maxAttempts int
	onRateLimit func(time.Duration)
	logger      zerolog.Logger
	backoffUnit time.Duration
}

// NewClient constructs a resilient client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 120 * time.Second}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	unit := opts.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	return &Client{
		hc:          hc,
		maxAttempts: attempts,
		onRateLimit: opts.OnRateLimit,
		logger:      opts.Logger,
		backoffUnit: unit,
	}
}

// PostJSON marshals payload and issues a POST with Content-Type set.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	h := http.Header{}
	for k, vs := range header {
		h[k] = vs
	}
	h.Set("Content-Type", "application/json")
	return c.Do(ctx, http.MethodPost, url, h, body)
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, header, nil)
}

// Do performs the call, retrying transport failures and retryable status
// codes up to the attempt budget. 400/401/403 are treated as caller faults
// and never retried. 429 honours a Retry-After hint, arms the cooldown and
// retries without counting as a terminal failure until attempts run out.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.once(ctx, method, url, header, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) {
			switch se.StatusCode {
			case http.StatusTooManyRequests:
				delay := c.backoff(attempt)
				if se.RetryAfterSec > 0 {
					delay = time.Duration(se.RetryAfterSec) * c.backoffUnit
				}
				if c.onRateLimit != nil {
					c.onRateLimit(delay)
				}
				if attempt == c.maxAttempts {
					return nil, lastErr
				}
				c.logger.Warn().
					Int("attempt", attempt).
					Dur("backoff", delay).
					Msg("httpx: upstream rate limited, backing off")
				if err := sleep(ctx, delay); err != nil {
					return nil, err
				}
				continue
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return nil, err
			}
		}

		if attempt == c.maxAttempts {
			break
		}
		delay := c.backoff(attempt)
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("url", url).
			Msg("httpx: retrying upstream call")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data))}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			se.RetryAfterSec = secs
		}
		return nil, se
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, body: data}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * c.backoffUnit
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string) string {
	if len(s) > bodyLogLimit {
		return s[:bodyLogLimit] + "..."
	}
	return s
}
