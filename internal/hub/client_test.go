package hub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hubclient/internal/config"
	"hubclient/internal/types"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker/v2"
)

func noopSleep(context.Context, time.Duration) error { return nil }

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: retries,
		MinWait:    1 * time.Millisecond,
		MaxWait:    10 * time.Millisecond,
	}
}

func newTestBaseClient(t *testing.T, policy RetryPolicy) *BaseClient {
	t.Helper()
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"hubclient-test/1.0",
		WithSleepFunc(noopSleep),
	)
}

func mustGet(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name":"acme"}`))
	}))
	defer server.Close()

	client := newTestBaseClient(t, DefaultRetryPolicy())

	resp, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"name":"acme"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestDo_InjectsHeaders(t *testing.T) {
	var traceID, ua, encoding string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = r.Header.Get("X-B3-TraceId")
		ua = r.Header.Get("User-Agent")
		encoding = r.Header.Get("Accept-Encoding")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, DefaultRetryPolicy())

	ctx := types.WithRequestID(context.Background(), "trace-abc-123")
	resp, err := client.Do(mustGet(t, ctx, server.URL+"/api/projects"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	resp.Body.Close()

	if traceID != "trace-abc-123" {
		t.Errorf("expected trace ID 'trace-abc-123', got '%s'", traceID)
	}
	if ua != "hubclient-test/1.0" {
		t.Errorf("expected User-Agent 'hubclient-test/1.0', got '%s'", ua)
	}
	if encoding != "gzip" {
		t.Errorf("expected Accept-Encoding 'gzip', got '%s'", encoding)
	}
}

func TestDo_DecodesGzipBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"totalCount":0,"items":[]}`))
	zw.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := newTestBaseClient(t, DefaultRetryPolicy())

	resp, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"totalCount":0,"items":[]}` {
		t.Errorf("unexpected decoded body: %q", body)
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Error("expected Content-Encoding to be removed after decoding")
	}
}

func TestDo_CorruptGzipMapsToResolutionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not gzip"))
	}))
	defer server.Close()

	client := newTestBaseClient(t, DefaultRetryPolicy())

	_, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
	if !types.IsCode(err, types.ErrCodeEntityResolution) {
		t.Fatalf("expected %s, got %v", types.ErrCodeEntityResolution, err)
	}
}

func TestDo_RetriesOn500(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, fastPolicy(3))

	resp, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	resp.Body.Close()

	if got := callCount.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestDo_RetriesPostBody(t *testing.T) {
	var callCount atomic.Int32
	var lastBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)
		if callCount.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, fastPolicy(2))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL+"/j_spring_security_check",
		bytes.NewReader([]byte("j_username=sysadmin")))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	resp.Body.Close()

	if lastBody != "j_username=sysadmin" {
		t.Errorf("expected body to be replayed, got %q", lastBody)
	}
}

func TestDo_ExhaustedRetriesReturnsResolutionError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantReason string
	}{
		{name: "server error", status: http.StatusServiceUnavailable, wantReason: "unavailable"},
		{name: "rate limited", status: http.StatusTooManyRequests, wantReason: "rate_limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var callCount atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				callCount.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestBaseClient(t, fastPolicy(2))

			resp, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
			if resp != nil {
				resp.Body.Close()
				t.Error("expected nil response on exhausted retries")
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *types.AppError, got %T: %v", err, err)
			}
			if appErr.Code != types.ErrCodeEntityResolution {
				t.Errorf("expected code %s, got %s", types.ErrCodeEntityResolution, appErr.Code)
			}
			if appErr.Details["reason"] != tt.wantReason {
				t.Errorf("expected reason %q, got %v", tt.wantReason, appErr.Details["reason"])
			}
			if got := callCount.Load(); got != 3 {
				t.Errorf("expected 3 calls, got %d", got)
			}
		})
	}
}

func TestDo_4xxNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound} {
		var callCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callCount.Add(1)
			w.WriteHeader(status)
		}))

		client := newTestBaseClient(t, fastPolicy(3))

		resp, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
		if err != nil {
			t.Fatalf("expected %d to be returned as-is, got error: %v", status, err)
		}
		if resp.StatusCode != status {
			t.Errorf("expected status %d, got %d", status, resp.StatusCode)
		}
		resp.Body.Close()
		if got := callCount.Load(); got != 1 {
			t.Errorf("expected 1 call for %d, got %d", status, got)
		}
		server.Close()
	}
}

func TestDo_CircuitBreakerOpensAfterThreshold(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "test-open",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	client := NewBaseClientWithBreaker(
		&http.Client{Timeout: 5 * time.Second},
		breaker,
		fastPolicy(0),
		"hubclient-test/1.0",
		WithSleepFunc(noopSleep),
	)

	for i := 0; i < 4; i++ {
		_, _ = client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
	}
	before := callCount.Load()

	_, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeEntityResolution || appErr.Details["reason"] != "circuit_open" {
		t.Errorf("expected circuit_open resolution error, got %v", appErr)
	}
	if callCount.Load() != before {
		t.Error("expected no server call while the breaker is open")
	}
}

func TestDo_CancelledContextMapsToCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, fastPolicy(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Do(mustGet(t, ctx, server.URL+"/api/projects"))
	if !types.IsCode(err, types.ErrCodeCancelled) {
		t.Fatalf("expected %s, got %v", types.ErrCodeCancelled, err)
	}
}

func TestDo_ClientTimeoutIsRetriedAsResolutionError(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	httpClient, err := NewHTTPClient(config.HubConfig{Timeout: 100 * time.Millisecond}, config.ProxyConfig{})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	client := NewBaseClient(httpClient, "test-timeout", fastPolicy(2), "hubclient-test/1.0", WithSleepFunc(noopSleep))

	_, err = client.Do(mustGet(t, context.Background(), server.URL+"/api/slow"))
	if types.CodeOf(err) != types.ErrCodeEntityResolution {
		t.Fatalf("expected %s, got %v", types.ErrCodeEntityResolution, err)
	}
	if types.IsCode(err, types.ErrCodeCancelled) {
		t.Errorf("a transport timeout must not be reported as cancelled: %v", err)
	}
	if got := callCount.Load(); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestDo_CancelDuringBackoffStopsRetrying(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-cancel",
		fastPolicy(5),
		"hubclient-test/1.0",
		WithSleepFunc(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	_, err := client.Do(mustGet(t, ctx, server.URL+"/api/projects"))
	if !types.IsCode(err, types.ErrCodeCancelled) {
		t.Fatalf("expected %s, got %v", types.ErrCodeCancelled, err)
	}
	if got := callCount.Load(); got != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", got)
	}
}

func TestDo_RespectsRetryAfterHeader(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-retry-after",
		RetryPolicy{MaxRetries: 1, MinWait: 100 * time.Millisecond, MaxWait: 10 * time.Second},
		"hubclient-test/1.0",
		WithSleepFunc(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)

	resp, err := client.Do(mustGet(t, context.Background(), server.URL+"/api/projects"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	resp.Body.Close()

	if len(sleeps) != 1 || sleeps[0] != 2*time.Second {
		t.Errorf("expected a single 2s sleep, got %v", sleeps)
	}
}

func TestComputeBackoff_ClampedToPolicy(t *testing.T) {
	client := newTestBaseClient(t, RetryPolicy{MaxRetries: 5, MinWait: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond})

	for attempt := 0; attempt < 6; attempt++ {
		got := client.computeBackoff(attempt, nil)
		if got < 10*time.Millisecond || got > 50*time.Millisecond {
			t.Errorf("attempt %d: backoff %v outside [10ms, 50ms]", attempt, got)
		}
	}

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"120"}}}
	if got := client.computeBackoff(0, resp); got != 50*time.Millisecond {
		t.Errorf("expected Retry-After to be capped at MaxWait, got %v", got)
	}
}
