package pos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// noSleep replaces the backoff wait so retry tests run instantly while
// still recording the requested delays.
func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newRESTClient(ProviderSquare, srv.URL, nil)
	c.sleep = noSleep(&waits)

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(context.Background(), http.MethodGet, "/v2/payments", nil, nil, &out); err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	// Exponential schedule from 1s.
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"code":"BAD_REQUEST"}]}`))
	}))
	defer srv.Close()

	c := newRESTClient(ProviderSquare, srv.URL, nil)
	c.sleep = noSleep(&[]time.Duration{})

	err := c.do(context.Background(), http.MethodGet, "/v2/payments", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 400)", calls)
	}
	if IsRetryable(err) {
		t.Error("400 must not be retryable")
	}
	if !HasCode(err, CodeVendorRejected) {
		t.Errorf("code = %v, want VENDOR_REJECTED", err)
	}
}

func TestClientHonorsRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "4")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newRESTClient(ProviderSquare, srv.URL, nil)
	c.sleep = noSleep(&waits)

	if err := c.do(context.Background(), http.MethodGet, "/", nil, nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(waits) != 1 || waits[0] != 4*time.Second {
		t.Errorf("waits = %v, want [4s] from Retry-After", waits)
	}
}

func TestClientRetryAfterCappedAtBackoffCap(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newRESTClient(ProviderSquare, srv.URL, nil)
	c.sleep = noSleep(&waits)

	if err := c.do(context.Background(), http.MethodGet, "/", nil, nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(waits) != 1 || waits[0] != backoffCap {
		t.Errorf("waits = %v, want [%v] (hint capped)", waits, backoffCap)
	}
}

func TestClientExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newRESTClient(ProviderZettle, srv.URL, nil)
	c.sleep = noSleep(&[]time.Duration{})

	err := c.do(context.Background(), http.MethodGet, "/", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != defaultMaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, defaultMaxRetries+1)
	}
	if !HasCode(err, CodeVendorUnavailable) {
		t.Errorf("code = %v, want VENDOR_UNAVAILABLE", err)
	}
}

func TestClientFormRetryOutcomeLabels(t *testing.T) {
	// Form posts report the same outcome labels as JSON requests: terminal
	// failures count as "error", exhausted retries as "exhausted".
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := newRESTClient(ProviderZettle, srv.URL, nil)
	c.sleep = noSleep(&[]time.Duration{})
	form := url.Values{"grant_type": {"authorization_code"}}

	errorBefore := testutil.ToFloat64(vendorRequestsTotal.WithLabelValues(string(ProviderZettle), "error"))
	exhaustedBefore := testutil.ToFloat64(vendorRequestsTotal.WithLabelValues(string(ProviderZettle), "exhausted"))

	status = http.StatusBadRequest
	if err := c.doForm(context.Background(), "/token", form, nil); err == nil {
		t.Fatal("expected error on 400")
	}
	if got := testutil.ToFloat64(vendorRequestsTotal.WithLabelValues(string(ProviderZettle), "error")) - errorBefore; got != 1 {
		t.Errorf("error outcomes = %v, want 1", got)
	}

	status = http.StatusServiceUnavailable
	if err := c.doForm(context.Background(), "/token", form, nil); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := testutil.ToFloat64(vendorRequestsTotal.WithLabelValues(string(ProviderZettle), "exhausted")) - exhaustedBefore; got != 1 {
		t.Errorf("exhausted outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(vendorRequestsTotal.WithLabelValues(string(ProviderZettle), "error")) - errorBefore; got != 1 {
		t.Errorf("exhaustion must not count as error; error outcomes = %v, want 1", got)
	}
}

func TestClientContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newRESTClient(ProviderShopify, srv.URL, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := c.do(ctx, http.MethodGet, "/", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error on cancellation")
	}
}

func TestClientAuthorizeDecoratesRequest(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newRESTClient(ProviderSquare, srv.URL, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer tok-123")
	})
	if err := c.do(context.Background(), http.MethodGet, "/", nil, nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestRetryAfterHeaderParsing(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"not-a-number", 0},
		{"-3", 0},
	}
	for _, tc := range cases {
		h := http.Header{}
		if tc.value != "" {
			h.Set("Retry-After", tc.value)
		}
		if got := retryAfter(h); got != tc.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}
