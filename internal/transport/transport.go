package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/zipcode-weather/internal/observability"
	"github.com/kjstillabower/zipcode-weather/internal/reqctx"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// ErrNetwork is returned when no attempt produced an HTTP response
// (dial failure, TLS failure, timeout, reset).
var ErrNetwork = errors.New("network error")

// Config is the retry, backoff and timeout policy for a Transport.
type Config struct {
	// MaxAttempts is the total number of attempts including the first. Default: 3
	MaxAttempts int
	// BackoffBase is the pause before the second attempt; it doubles for each
	// later attempt. Default: 300ms
	BackoffBase time.Duration
	// BackoffMax caps a single pause. Default: 5s
	BackoffMax time.Duration
	// RetryableStatuses are the HTTP statuses worth repeating.
	// Default: 429, 500, 502, 503, 504
	RetryableStatuses []int
	// ConnectTimeout bounds dialing and the TLS handshake. Default: 2s
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for response headers. Default: 10s
	ReadTimeout time.Duration
	// MaxIdleConnsPerHost sizes the keep-alive pool. Default: 8
	MaxIdleConnsPerHost int
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: 300 * time.Millisecond,
		BackoffMax:  5 * time.Second,
		RetryableStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		ConnectTimeout:      2 * time.Second,
		ReadTimeout:         10 * time.Second,
		MaxIdleConnsPerHost: 8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.RetryableStatuses == nil {
		c.RetryableStatuses = d.RetryableStatuses
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	return c
}

// Response is the outcome of the last attempt that reached the server.
type Response struct {
	Status   int
	Body     []byte
	Attempts int
}

// Transport performs read-only GETs with retry over one pooled http.Client.
// Create it once and share it; it is safe for concurrent use.
type Transport struct {
	cfg       Config
	client    *http.Client
	retryable map[int]struct{}
	logger    *zap.Logger
}

// New builds a Transport and its connection pool from cfg. Zero fields take
// DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *Transport {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	rt := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	retryable := make(map[int]struct{}, len(cfg.RetryableStatuses))
	for _, s := range cfg.RetryableStatuses {
		retryable[s] = struct{}{}
	}

	return &Transport{
		cfg:       cfg,
		client:    &http.Client{Transport: rt},
		retryable: retryable,
		logger:    logger,
	}
}

// Config returns the effective policy.
func (t *Transport) Config() Config {
	return t.cfg
}

// Fetch GETs rawURL, retrying connection errors and retryable statuses up to
// MaxAttempts. Any response that reached the server is returned without error,
// including a retryable status on the final attempt; the caller decides what a
// non-2xx means. An error is returned only when no attempt got a response.
func (t *Transport) Fetch(ctx context.Context, rawURL string) (Response, error) {
	var lastErr error

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := t.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return Response{}, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := t.attempt(ctx, rawURL)
		if err != nil {
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				return Response{}, err
			}
			lastErr = err
			t.logger.Debug("weather api attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		resp.Attempts = attempt

		if _, retry := t.retryable[resp.Status]; retry && attempt < t.cfg.MaxAttempts {
			t.logger.Debug("weather api retryable status",
				zap.Int("attempt", attempt), zap.Int("status", resp.Status))
			continue
		}
		return resp, nil
	}

	return Response{Attempts: t.cfg.MaxAttempts}, fmt.Errorf("%w: exhausted %d attempts: %w", ErrNetwork, t.cfg.MaxAttempts, lastErr)
}

// requestError marks failures that no retry can fix.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func (t *Transport) attempt(ctx context.Context, rawURL string) (Response, error) {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout+t.cfg.ReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, &requestError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if id := reqctx.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("request timeout: %w", err)
		}
		return Response{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	label := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(label).Inc()
	observability.WeatherAPIDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}

// backoff returns the pause after the given retry number (1 = first retry):
// base * 2^(n-1), capped at BackoffMax, plus up to 10% jitter.
func (t *Transport) backoff(n int) time.Duration {
	delay := float64(t.cfg.BackoffBase) * math.Pow(2, float64(n-1))
	if delay > float64(t.cfg.BackoffMax) {
		delay = float64(t.cfg.BackoffMax)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
