package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second
	resetBuffer        = 1 * time.Second
)

// retryTransport re-sends a request on 429 and 5xx responses.
//
// A 429 sleeps until the rate-limit reset reported by the response plus a
// one second buffer and does not grow the backoff. A 5xx sleeps for the
// current backoff, which starts at one second and doubles up to 30 seconds.
// Attempts are bounded; after the last one the response is returned as is.
// Transport errors are never retried.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

func newRetryTransport(base http.RoundTripper, logger *slog.Logger) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryTransport{
		base:        base,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		now:         time.Now,
		sleep:       sleepContext,
		logger:      logger,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	backoff := t.baseDelay
	for attempt := 1; ; attempt++ {
		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if err != nil {
			return nil, err
		}
		if attempt >= t.maxAttempts {
			return resp, nil
		}

		var wait time.Duration
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait = t.untilReset(resp.Header)
			t.logger.Warn("rate limited, waiting for reset",
				"url", req.URL.Path, "attempt", attempt, "wait", wait)
		case resp.StatusCode >= 500 && resp.StatusCode <= 599:
			wait = backoff
			backoff *= 2
			if backoff > t.maxDelay {
				backoff = t.maxDelay
			}
			t.logger.Warn("upstream error, backing off",
				"url", req.URL.Path, "status", resp.StatusCode, "attempt", attempt, "wait", wait)
		default:
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if err := t.sleep(req.Context(), wait); err != nil {
			return nil, err
		}
	}
}

// untilReset returns how long to wait for the rate limit window to reset
func (t *retryTransport) untilReset(h http.Header) time.Duration {
	now := t.now()
	reset := now
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			reset = time.Unix(secs, 0)
		}
	} else if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			reset = now.Add(time.Duration(secs) * time.Second)
		}
	}
	wait := reset.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait + resetBuffer
}

// rewind returns the request to send for the given attempt. Later attempts
// need a fresh body.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry %s %s: request body is not rewindable", req.Method, req.URL.Path)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
