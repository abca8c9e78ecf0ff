package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

type scriptedTransport struct {
	statuses []int
	headers  []http.Header
	bodies   []string
	calls    int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(data))
	}
	status := s.statuses[len(s.statuses)-1]
	if i < len(s.statuses) {
		status = s.statuses[i]
	}
	h := http.Header{}
	if i < len(s.headers) && s.headers[i] != nil {
		h = s.headers[i]
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
	}, nil
}

func newTestRetry(base http.RoundTripper, now time.Time) (*retryTransport, *[]time.Duration) {
	var slept []time.Duration
	rt := newRetryTransport(base, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rt.now = func() time.Time { return now }
	rt.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return rt, &slept
}

func sum(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total
}

func TestRetryRateLimitThenServerErrors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reset := http.Header{}
	reset.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(10*time.Second).Unix(), 10))

	base := &scriptedTransport{
		statuses: []int{429, 500, 500, 200},
		headers:  []http.Header{reset},
	}
	rt, slept := newTestRetry(base, now)

	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/repos/acme/widgets", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if base.calls != 4 {
		t.Errorf("attempts = %d, want 4", base.calls)
	}

	// 10s to reset plus the 1s buffer, then 1s and 2s of backoff; the 429 did
	// not grow the backoff.
	want := []time.Duration{11 * time.Second, time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
	if total := sum(*slept); total != 14*time.Second {
		t.Errorf("total sleep = %v, want 14s", total)
	}
}

func TestRetryGivesUpAfterFiveAttempts(t *testing.T) {
	base := &scriptedTransport{statuses: []int{502}}
	rt, slept := newTestRetry(base, time.Now())

	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 502 {
		t.Errorf("status = %d, want the last 502", resp.StatusCode)
	}
	if base.calls != 5 {
		t.Errorf("attempts = %d, want 5", base.calls)
	}
	if total := sum(*slept); total != 15*time.Second {
		t.Errorf("total sleep = %v, want 1+2+4+8s", total)
	}
}

func TestRetryBackoffCapped(t *testing.T) {
	base := &scriptedTransport{statuses: []int{500}}
	rt, slept := newTestRetry(base, time.Now())
	rt.baseDelay = 20 * time.Second

	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{20 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	base := &scriptedTransport{statuses: []int{429, 200}, headers: []http.Header{h}}
	rt, slept := newTestRetry(base, time.Now())

	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != 4*time.Second {
		t.Errorf("sleeps = %v, want [4s]", *slept)
	}
}

func TestRetryLeavesClientErrorsAlone(t *testing.T) {
	base := &scriptedTransport{statuses: []int{404, 200}}
	rt, slept := newTestRetry(base, time.Now())

	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 404 || base.calls != 1 || len(*slept) != 0 {
		t.Errorf("status=%d calls=%d sleeps=%v", resp.StatusCode, base.calls, *slept)
	}
}

type failingTransport struct{ calls int }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, errors.New("connection reset")
}

func TestRetryDoesNotRetryTransportErrors(t *testing.T) {
	base := &failingTransport{}
	rt, _ := newTestRetry(base, time.Now())

	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1", base.calls)
	}
}

func TestRetryResendsBody(t *testing.T) {
	base := &scriptedTransport{statuses: []int{503, 201}}
	rt, _ := newTestRetry(base, time.Now())

	req, _ := http.NewRequest(http.MethodPost, "https://api.github.com/x", strings.NewReader(`{"a":1}`))
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatal(err)
	}
	if len(base.bodies) != 2 || base.bodies[0] != `{"a":1}` || base.bodies[1] != `{"a":1}` {
		t.Errorf("bodies = %q", base.bodies)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	base := &scriptedTransport{statuses: []int{500}}
	rt := newRetryTransport(base, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/x", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1", base.calls)
	}
}
