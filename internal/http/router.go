package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zipcode-weather/internal/observability"
)

// RouterConfig holds the middleware settings for NewRouter.
type RouterConfig struct {
	// Limiter throttles lookup routes. Nil disables rate limiting.
	Limiter *rate.Limiter
	// RequestTimeout bounds lookup routes. Zero disables it.
	RequestTimeout time.Duration
	// InFlight counts requests for graceful shutdown. May be nil.
	InFlight *InFlightTracker
}

// NewRouter wires the handlers and middleware. Only lookup routes
// (/weather/{location}, POST /results) are rate limited and time-bounded.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	if cfg.InFlight != nil {
		r.Use(cfg.InFlight.Middleware)
	}
	r.Use(MetricsMiddleware)

	r.HandleFunc("/", h.Home).Methods(http.MethodGet)
	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	lookups := r.NewRoute().Subrouter()
	lookups.Use(RateLimitMiddleware(cfg.Limiter, h.cfg.Health.Traffic))
	if cfg.RequestTimeout > 0 {
		lookups.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	lookups.HandleFunc("/weather/{location}", h.GetWeather).Methods(http.MethodGet)
	lookups.HandleFunc("/results", h.Results).Methods(http.MethodPost)

	return r
}
