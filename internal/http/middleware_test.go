package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zipcode-weather/internal/reqctx"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{"client provided", "client-provided-id", true},
		{"generated when missing", "", false},
		{"replaced when oversized", strings.Repeat("a", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			var ctxID string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = reqctx.CorrelationID(r.Context())
				reqctx.Logger(r.Context(), zap.NewNop()).Info("handled")
			})
			h := CorrelationIDMiddleware(zap.New(core))(next)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Correlation-ID", tt.incoming)
			}
			w := serve(h, req)

			got := w.Header().Get("X-Correlation-ID")
			if got == "" {
				t.Fatal("X-Correlation-ID header missing")
			}
			if tt.wantSame && got != tt.incoming {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tt.incoming)
			}
			if !tt.wantSame && len(got) != 36 {
				t.Errorf("generated X-Correlation-ID = %q, want a UUID", got)
			}
			if ctxID != got {
				t.Errorf("context correlation ID = %q, want %q", ctxID, got)
			}
			entries := logs.FilterMessage("handled").All()
			if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != got {
				t.Errorf("request logger not tagged with correlation_id %q", got)
			}
		})
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	})
	serve(TimeoutMiddleware(time.Second)(next), httptest.NewRequest(http.MethodGet, "/", nil))

	if !ok {
		t.Fatal("context has no deadline")
	}
	if until := time.Until(deadline); until <= 0 || until > time.Second {
		t.Errorf("deadline in %v, want within 1s", until)
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	var err error
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		err = r.Context().Err()
	})
	serve(TimeoutMiddleware(10*time.Millisecond)(next), httptest.NewRequest(http.MethodGet, "/", nil))

	if err != context.DeadlineExceeded {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", err)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	router := newTestRouter(&mockLooker{reading: seattle}, Config{}, RouterConfig{Limiter: limiter})

	if w := serve(router, httptest.NewRequest(http.MethodGet, "/weather/98101", nil)); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/weather/98101", nil)
	req.Header.Set("X-Correlation-ID", "corr-429")
	w := serve(router, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	body := decodeError(t, w)
	if body.Error.Code != "RATE_LIMITED" || body.Error.RequestID != "corr-429" {
		t.Errorf("error = %+v, want RATE_LIMITED with requestId corr-429", body.Error)
	}

	// Health and the home page are not rate limited.
	for _, path := range []string{"/health", "/"} {
		if w := serve(router, httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, w.Code)
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	serve(RateLimitMiddleware(nil, nil)(next), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("handler not called with nil limiter")
	}
}

func TestGetRoute(t *testing.T) {
	var route string
	r := mux.NewRouter()
	r.HandleFunc("/weather/{location}", func(w http.ResponseWriter, req *http.Request) {
		route = getRoute(req)
	})
	serve(r, httptest.NewRequest(http.MethodGet, "/weather/98101", nil))
	if route != "/weather/{location}" {
		t.Errorf("getRoute() = %q, want /weather/{location}", route)
	}

	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nope", nil)); got != "unmatched" {
		t.Errorf("getRoute() without route = %q, want unmatched", got)
	}
}

func TestStatusRecorder_KeepsFirstStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rec.WriteHeader(http.StatusNotFound)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d, want 404", rec.statusCode)
	}
	if got := statusCodeString(rec.statusCode); got != "4xx" {
		t.Errorf("statusCodeString() = %q, want 4xx", got)
	}
}
