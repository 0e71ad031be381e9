package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	backoffInitial    = 1 * time.Second
	backoffCap        = 10 * time.Second
)

// restClient issues authenticated calls against one vendor's REST API. It
// retries 429/502/503/504 and network failures with capped exponential
// backoff; other 4xx surface immediately. It holds no state beyond the
// base URL and auth decoration.
type restClient struct {
	provider   Provider
	baseURL    string
	authorize  func(*http.Request)
	httpClient *http.Client
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

func newRESTClient(provider Provider, baseURL string, authorize func(*http.Request)) *restClient {
	return &restClient{
		provider:   provider,
		baseURL:    baseURL,
		authorize:  authorize,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		sleep:      sleepCtx,
	}
}

// do performs one logical request. body (if non-nil) is JSON-encoded; out
// (if non-nil) receives the decoded JSON response. Returns a *Error for
// every failure so callers can classify.
func (c *restClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	start := time.Now()
	err := c.doWithRetry(ctx, method, path, query, body, out)
	vendorRequestDuration.WithLabelValues(string(c.provider)).Observe(time.Since(start).Seconds())
	return err
}

func (c *restClient) doWithRetry(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var lastErr error
	backoff := backoffInitial

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			vendorRetriesTotal.WithLabelValues(string(c.provider)).Inc()
			wait := backoff
			// A vendor Retry-After hint overrides our schedule, still capped.
			var ae *Error
			if errors.As(lastErr, &ae) && ae.RetryAfter > wait {
				wait = ae.RetryAfter
			}
			if wait > backoffCap {
				wait = backoffCap
			}
			if err := c.sleep(ctx, wait); err != nil {
				return networkError(c.provider, err)
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		}

		err := c.once(ctx, method, path, query, body, out)
		if err == nil {
			vendorRequestsTotal.WithLabelValues(string(c.provider), "ok").Inc()
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			vendorRequestsTotal.WithLabelValues(string(c.provider), "error").Inc()
			return err
		}
		logrus.WithFields(logrus.Fields{
			"provider": c.provider,
			"path":     path,
			"attempt":  attempt + 1,
		}).WithError(err).Warn("retryable vendor error")
	}

	vendorRequestsTotal.WithLabelValues(string(c.provider), "exhausted").Inc()
	return lastErr
}

func (c *restClient) once(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Code: CodeVendorRejected, Message: "encode request body", Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &Error{Code: CodeVendorRejected, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(c.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return networkError(c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ve := vendorError(c.provider, resp.StatusCode, string(raw))
		if resp.StatusCode == http.StatusTooManyRequests {
			vendorRateLimitedTotal.WithLabelValues(string(c.provider)).Inc()
			ve.RetryAfter = retryAfter(resp.Header)
		}
		return ve
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Code: CodeVendorRejected, Message: fmt.Sprintf("decode %s response", c.provider), Err: err}
		}
	}
	return nil
}

// doForm posts application/x-www-form-urlencoded data (OAuth token
// endpoints) with the same retry and classification rules as do.
func (c *restClient) doForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	start := time.Now()
	var lastErr error
	backoff := backoffInitial
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			vendorRetriesTotal.WithLabelValues(string(c.provider)).Inc()
			if err := c.sleep(ctx, backoff); err != nil {
				return networkError(c.provider, err)
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		}
		err := c.onceForm(ctx, path, form, out)
		if err == nil {
			vendorRequestsTotal.WithLabelValues(string(c.provider), "ok").Inc()
			vendorRequestDuration.WithLabelValues(string(c.provider)).Observe(time.Since(start).Seconds())
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			vendorRequestsTotal.WithLabelValues(string(c.provider), "error").Inc()
			vendorRequestDuration.WithLabelValues(string(c.provider)).Observe(time.Since(start).Seconds())
			return err
		}
	}
	vendorRequestsTotal.WithLabelValues(string(c.provider), "exhausted").Inc()
	vendorRequestDuration.WithLabelValues(string(c.provider)).Observe(time.Since(start).Seconds())
	return lastErr
}

func (c *restClient) onceForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Code: CodeVendorRejected, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.authorize != nil {
		c.authorize(req)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(c.provider, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return networkError(c.provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return vendorError(c.provider, resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Code: CodeVendorRejected, Message: fmt.Sprintf("decode %s response", c.provider), Err: err}
		}
	}
	return nil
}

// retryAfter parses a Retry-After header value in seconds; zero when absent
// or unparseable.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
