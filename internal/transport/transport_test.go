package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// testConfig keeps backoff short so retry tests run quickly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.ReadTimeout = time.Second
	return cfg
}

// sequenceServer answers each request with the next status in statuses,
// repeating the last one, and counts hits.
func sequenceServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"n":` + strconv.Itoa(n) + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestTransport_Fetch_Success(t *testing.T) {
	srv, hits := sequenceServer(t, http.StatusOK)
	tr := New(testConfig(), nil)

	resp, err := tr.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Status != http.StatusOK || resp.Attempts != 1 {
		t.Errorf("Fetch() = status %d attempts %d, want 200 and 1", resp.Status, resp.Attempts)
	}
	if string(resp.Body) != `{"n":1}` {
		t.Errorf("Body = %q", resp.Body)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

// TestTransport_Fetch_RetryPolicy verifies which statuses are retried and
// how many attempts each sequence produces.
func TestTransport_Fetch_RetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		wantStatus   int
		wantAttempts int
	}{
		{"503 then 200", []int{503, 200}, 200, 2},
		{"429 then 200", []int{429, 200}, 200, 2},
		{"500 502 then 200", []int{500, 502, 200}, 200, 3},
		{"504 exhausts attempts", []int{504}, 504, 3},
		{"404 not retried", []int{404, 200}, 404, 1},
		{"401 not retried", []int{401, 200}, 401, 1},
		{"400 not retried", []int{400, 200}, 400, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := sequenceServer(t, tt.statuses...)
			tr := New(testConfig(), nil)

			resp, err := tr.Fetch(context.Background(), srv.URL)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", resp.Status, tt.wantStatus)
			}
			if resp.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", resp.Attempts, tt.wantAttempts)
			}
			if int(hits.Load()) != tt.wantAttempts {
				t.Errorf("server hits = %d, want %d", hits.Load(), tt.wantAttempts)
			}
		})
	}
}

// TestTransport_Fetch_CustomRetryableStatuses verifies that an explicit empty
// set disables status retries.
func TestTransport_Fetch_CustomRetryableStatuses(t *testing.T) {
	srv, hits := sequenceServer(t, 503, 200)
	cfg := testConfig()
	cfg.RetryableStatuses = []int{}
	tr := New(cfg, nil)

	resp, err := tr.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Status != 503 || hits.Load() != 1 {
		t.Errorf("Fetch() = status %d after %d hits, want 503 after 1", resp.Status, hits.Load())
	}
}

// TestTransport_Fetch_ConnectionError verifies that connection failures are
// retried and finally reported as ErrNetwork.
func TestTransport_Fetch_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := New(testConfig(), nil)
	resp, err := tr.Fetch(context.Background(), url)
	if err == nil {
		t.Fatal("Fetch() error = nil, want ErrNetwork")
	}
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Fetch() error = %v, want ErrNetwork", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}
}

// TestTransport_Fetch_ReadTimeout verifies that a slow upstream is cut off by
// the read timeout and the attempt is retried.
func TestTransport_Fetch_ReadTimeout(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	tr := New(cfg, nil)

	resp, err := tr.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Status != http.StatusOK || resp.Attempts != 2 {
		t.Errorf("Fetch() = status %d attempts %d, want 200 after 2", resp.Status, resp.Attempts)
	}
}

// TestTransport_Fetch_BadURL verifies that an unbuildable request fails once
// without retry.
func TestTransport_Fetch_BadURL(t *testing.T) {
	tr := New(testConfig(), nil)
	_, err := tr.Fetch(context.Background(), "://bad")
	if err == nil {
		t.Fatal("Fetch() error = nil, want error")
	}
	if errors.Is(err, ErrNetwork) {
		t.Errorf("Fetch() error = %v, want request error, not ErrNetwork", err)
	}
}

// TestTransport_Fetch_ContextCanceledDuringBackoff verifies that a cancelled
// context stops the retry loop.
func TestTransport_Fetch_ContextCanceledDuringBackoff(t *testing.T) {
	srv, hits := sequenceServer(t, 503)
	cfg := testConfig()
	cfg.BackoffBase = time.Second
	cfg.BackoffMax = 2 * time.Second
	tr := New(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Fetch(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() error = %v, want context.DeadlineExceeded", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestTransport_Backoff(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffBase = 300 * time.Millisecond
	cfg.BackoffMax = time.Second
	tr := New(cfg, nil)

	tests := []struct {
		retry    int
		min, max time.Duration
	}{
		{1, 300 * time.Millisecond, 330 * time.Millisecond},
		{2, 600 * time.Millisecond, 660 * time.Millisecond},
		{3, time.Second, 1100 * time.Millisecond},
	}
	for _, tt := range tests {
		got := tr.backoff(tt.retry)
		if got < tt.min || got > tt.max {
			t.Errorf("backoff(%d) = %v, want in [%v, %v]", tt.retry, got, tt.min, tt.max)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	d := DefaultConfig()
	if cfg.MaxAttempts != d.MaxAttempts || cfg.BackoffBase != d.BackoffBase ||
		cfg.ConnectTimeout != d.ConnectTimeout || cfg.ReadTimeout != d.ReadTimeout {
		t.Errorf("withDefaults() = %+v, want defaults %+v", cfg, d)
	}
	if len(cfg.RetryableStatuses) != 5 {
		t.Errorf("RetryableStatuses = %v, want 5 defaults", cfg.RetryableStatuses)
	}
	if d.ConnectTimeout >= d.ReadTimeout {
		t.Error("default connect timeout should be tighter than read timeout")
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{
		200: "success",
		204: "success",
		429: "rate_limited",
		404: "client_error",
		503: "server_error",
		101: "error",
	}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
