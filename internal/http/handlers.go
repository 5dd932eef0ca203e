package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/zipcode-weather/internal/circuitbreaker"
	"github.com/kjstillabower/zipcode-weather/internal/client"
	"github.com/kjstillabower/zipcode-weather/internal/lifecycle"
	"github.com/kjstillabower/zipcode-weather/internal/models"
	"github.com/kjstillabower/zipcode-weather/internal/reqctx"
	"github.com/kjstillabower/zipcode-weather/internal/traffic"
	"github.com/kjstillabower/zipcode-weather/internal/validation"
)

// WeatherLooker is the lookup the handlers serve. *client.FetchClient implements it.
type WeatherLooker interface {
	Lookup(ctx context.Context, locationID string) (models.WeatherReading, error)
}

// HealthConfig holds the dependencies GetHealth inspects. Nil fields are skipped.
type HealthConfig struct {
	Lifecycle *lifecycle.State
	// BreakerState reports the upstream circuit breaker state.
	BreakerState func() circuitbreaker.State
	// CachePing checks cache reachability. Used when backend is memcached.
	CachePing func() error
	// Traffic records lookup outcomes; the last minute is reported.
	Traffic *traffic.Tracker
	Version string
}

// trafficWindow is the window GetHealth reports outcome counts for.
const trafficWindow = time.Minute

// Config holds handler settings.
type Config struct {
	Rules  validation.Rules
	Units  string
	Health HealthConfig
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherLooker
	cfg              Config
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weather WeatherLooker, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Units == "" {
		cfg.Units = client.DefaultUnits
	}
	if cfg.Health.Version == "" {
		cfg.Health.Version = "dev"
	}
	return &Handler{weather: weather, cfg: cfg, logger: logger}
}

type weatherResponse struct {
	PostalCode string `json:"postalCode"`
	Units      string `json:"units"`
	models.WeatherReading
}

// GetWeather handles GET /weather/{location}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	location, err := validation.ValidateLocation(mux.Vars(r)["location"], h.cfg.Rules)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", errorMessage(err))
		return
	}

	reading, err := h.lookup(r.Context(), location)
	if err != nil {
		le := classifyLookupError(err)
		reqctx.Logger(r.Context(), h.logger).Debug("lookup failed",
			zap.String("location", location),
			zap.String("code", le.code),
			zap.Error(err))
		writeError(w, r, le.status, le.code, le.message)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{
		PostalCode:     location,
		Units:          h.cfg.Units,
		WeatherReading: reading,
	})
}

type lookupResult struct {
	reading models.WeatherReading
	err     error
}

// lookup runs the fetch so the response can be written at the request
// deadline. The fetch itself keeps running and still fills the cache.
func (h *Handler) lookup(ctx context.Context, location string) (models.WeatherReading, error) {
	done := make(chan lookupResult, 1)
	go func() {
		reading, err := h.weather.Lookup(ctx, location)
		if t := h.cfg.Health.Traffic; t != nil {
			if err != nil {
				t.RecordError()
			} else {
				t.RecordSuccess()
			}
		}
		done <- lookupResult{reading, err}
	}()
	select {
	case res := <-done:
		return res.reading, res.err
	case <-ctx.Done():
		return models.WeatherReading{}, ctx.Err()
	}
}

type lookupError struct {
	status  int
	code    string
	message string
}

// classifyLookupError maps a lookup failure to the HTTP status and public
// error code shared by the JSON and HTML surfaces.
func classifyLookupError(err error) lookupError {
	var se *client.StatusError
	switch {
	case errors.Is(err, client.ErrInvalidInput):
		return lookupError{http.StatusBadRequest, "INVALID_LOCATION", "A ZIP code is required"}
	case errors.As(err, &se) && se.Status == http.StatusNotFound:
		return lookupError{http.StatusNotFound, "LOCATION_NOT_FOUND", "No weather found for that ZIP code"}
	case errors.Is(err, client.ErrMalformedResponse):
		return lookupError{http.StatusBadGateway, "BAD_UPSTREAM_RESPONSE", "The weather service sent an unreadable response"}
	case errors.Is(err, context.DeadlineExceeded):
		return lookupError{http.StatusGatewayTimeout, "TIMEOUT", "The weather service took too long to respond"}
	default:
		return lookupError{http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"}
	}
}

// errorMessage strips the shared sentinel prefix from a validation error.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, validation.ErrLocationEmpty):
		return "A ZIP code is required"
	case errors.Is(err, validation.ErrLocationTooShort):
		return "ZIP code is too short"
	case errors.Is(err, validation.ErrLocationTooLong):
		return "ZIP code is too long"
	case errors.Is(err, validation.ErrCountryCode):
		return "Country code must be two letters, e.g. 98101,us"
	default:
		return "ZIP code may contain only letters, digits, spaces and hyphens"
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]any{
		"status":    result.status,
		"service":   "zipcode-weather",
		"version":   h.cfg.Health.Version,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.cfg.Health.Lifecycle != nil {
		resp["uptimeSeconds"] = int64(h.cfg.Health.Lifecycle.Uptime().Seconds())
	}
	if h.cfg.Health.Traffic != nil {
		snap := h.cfg.Health.Traffic.Snapshot(trafficWindow)
		resp["traffic"] = map[string]any{
			"windowSeconds": int(trafficWindow.Seconds()),
			"requests":      snap.Requests,
			"errors":        snap.Errors,
			"denied":        snap.Denied,
			"errorRate":     snap.ErrorRate(),
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down > circuit open >
// cache unreachable > healthy. Checks are always all reported.
func (h *Handler) computeHealthStatus() healthResult {
	hc := h.cfg.Health
	checks := map[string]string{"weatherApi": "healthy"}
	breakerOpen := false
	if hc.BreakerState != nil {
		switch hc.BreakerState() {
		case circuitbreaker.StateOpen:
			checks["weatherApi"] = "unhealthy"
			breakerOpen = true
		case circuitbreaker.StateHalfOpen:
			checks["weatherApi"] = "recovering"
		}
	}
	cacheDown := false
	if hc.CachePing != nil {
		checks["cache"] = "healthy"
		if hc.CachePing() != nil {
			checks["cache"] = "unhealthy"
			cacheDown = true
		}
	}

	switch {
	case hc.Lifecycle != nil && hc.Lifecycle.ShuttingDown():
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	case breakerOpen:
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open", checks}
	case cacheDown:
		return healthResult{"degraded", http.StatusServiceUnavailable, "cache_unreachable", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": reqctx.CorrelationID(r.Context()),
		},
	})
}
