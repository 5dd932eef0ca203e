package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/zipcode-weather/internal/cache"
	"github.com/kjstillabower/zipcode-weather/internal/circuitbreaker"
	"github.com/kjstillabower/zipcode-weather/internal/models"
	"github.com/kjstillabower/zipcode-weather/internal/observability"
	"github.com/kjstillabower/zipcode-weather/internal/reqctx"
	"github.com/kjstillabower/zipcode-weather/internal/transport"
)

// Lookup failures. Every error returned by Lookup matches exactly one of the
// first three with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedResponse   = errors.New("malformed upstream response")

	// ErrInvalidConfig is returned by New.
	ErrInvalidConfig = errors.New("invalid client config")
)

// StatusError reports a non-2xx upstream status left after the transport's
// retries. It matches ErrUpstreamUnavailable.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", ErrUpstreamUnavailable, e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstreamUnavailable
}

// Fetcher performs one logical GET with retries. *transport.Transport
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (transport.Response, error)
}

// DefaultUnits is the unit system sent upstream and folded into cache keys.
const DefaultUnits = "imperial"

// Config is what the client needs from the outside world. The API key is
// resolved by the caller.
type Config struct {
	APIKey  string
	BaseURL string
	// Units defaults to DefaultUnits.
	Units string
	// TTL is how long a fetched reading is served from cache. Default: 5m
	TTL time.Duration
	// Coalesce collapses concurrent misses for the same key into one fetch.
	Coalesce bool
}

// FetchClient looks up current weather by postal code through a bounded
// cache in front of a retrying transport.
type FetchClient struct {
	cfg       Config
	baseURL   *url.URL
	transport Fetcher
	cache     cache.Cache
	breaker   *circuitbreaker.CircuitBreaker
	group     singleflight.Group
	stampede  *stampedeTracker
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a FetchClient.
type Option func(*FetchClient)

// WithLogger sets the fallback logger used when the request context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(c *FetchClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCircuitBreaker routes upstream fetches through cb.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *FetchClient) { c.breaker = cb }
}

// WithClock replaces time.Now for the FetchedAt stamp.
func WithClock(now func() time.Time) Option {
	return func(c *FetchClient) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a FetchClient. The transport and cache are owned by the caller
// and may be shared.
func New(cfg Config, fetcher Fetcher, store cache.Cache, opts ...Option) (*FetchClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidConfig)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q must be absolute", ErrInvalidConfig, cfg.BaseURL)
	}
	if fetcher == nil || store == nil {
		return nil, fmt.Errorf("%w: transport and cache are required", ErrInvalidConfig)
	}
	if cfg.Units == "" {
		cfg.Units = DefaultUnits
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	c := &FetchClient{
		cfg:       cfg,
		baseURL:   base,
		transport: fetcher,
		cache:     store,
		stampede:  newStampedeTracker(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(observability.TracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup outcomes, used as metric labels and span attributes.
const (
	outcomeHit                 = "hit"
	outcomeFetched             = "fetched"
	outcomeInvalidInput        = "invalid_input"
	outcomeUpstreamUnavailable = "upstream_unavailable"
	outcomeMalformed           = "malformed"
)

// Lookup returns the current reading for locationID. A live cached reading is
// returned without network access; otherwise the upstream is fetched, the
// payload validated, and the reading cached for the configured TTL.
//
// Caller cancellation does not interrupt an in-flight fetch; the transport
// timeouts bound it instead.
func (c *FetchClient) Lookup(ctx context.Context, locationID string) (models.WeatherReading, error) {
	location := strings.TrimSpace(locationID)
	logger := reqctx.Logger(ctx, c.logger)

	ctx, span := c.tracer.Start(ctx, "weather.lookup",
		trace.WithAttributes(attribute.String("weather.location", location)))
	defer span.End()

	if location == "" {
		c.finish(span, outcomeInvalidInput, ErrInvalidInput)
		logger.Debug("lookup rejected", zap.String("location", locationID), zap.Error(ErrInvalidInput))
		return models.WeatherReading{}, fmt.Errorf("%w: location is required", ErrInvalidInput)
	}

	key := cache.NewKey(location, c.cfg.Units)
	logger = logger.With(zap.String("location", key.Location))

	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.Inc()
		span.SetAttributes(attribute.Bool("weather.cache_hit", true))
		c.finish(span, outcomeHit, nil)
		logger.Debug("cache hit")
		return cached, nil
	}

	observability.CacheMissesTotal.Inc()
	span.SetAttributes(attribute.Bool("weather.cache_hit", false))
	logger.Debug("cache miss, fetching upstream")

	reading, err := c.load(ctx, key, logger)
	switch {
	case err == nil:
		c.finish(span, outcomeFetched, nil)
	case errors.Is(err, ErrMalformedResponse):
		c.finish(span, outcomeMalformed, err)
	default:
		c.finish(span, outcomeUpstreamUnavailable, err)
	}
	return reading, err
}

func (c *FetchClient) finish(span trace.Span, outcome string, err error) {
	observability.LookupsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("weather.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
}

// load fetches key, optionally sharing the fetch with concurrent callers.
func (c *FetchClient) load(ctx context.Context, key cache.Key, logger *zap.Logger) (models.WeatherReading, error) {
	if !c.cfg.Coalesce {
		return c.fetchAndStore(ctx, key, logger)
	}
	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		return c.fetchAndStore(ctx, key, logger)
	})
	if shared {
		observability.CoalescedLookupsTotal.Inc()
	}
	if err != nil {
		return models.WeatherReading{}, err
	}
	return v.(models.WeatherReading), nil
}

func (c *FetchClient) fetchAndStore(ctx context.Context, key cache.Key, logger *zap.Logger) (models.WeatherReading, error) {
	if n := c.stampede.RecordMiss(key); n > 1 {
		observability.CacheStampedeConcurrency.Observe(float64(n))
	}
	defer c.stampede.RecordDone(key)

	start := time.Now()
	fetchCtx := context.WithoutCancel(ctx)

	var resp transport.Response
	call := func(ctx context.Context) error {
		r, err := c.transport.Fetch(ctx, c.requestURL(key))
		resp = r
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		if r.Status < 200 || r.Status >= 300 {
			return &StatusError{Status: r.Status}
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(fetchCtx, call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
	} else {
		err = call(fetchCtx)
	}
	if err != nil {
		logger.Warn("weather fetch failed",
			zap.Error(err),
			zap.String("category", string(CategorizeError(err))),
			zap.Int("attempts", resp.Attempts),
			zap.Duration("duration", time.Since(start)))
		return models.WeatherReading{}, err
	}

	reading, err := decodeReading(resp.Body, key.Location, c.now())
	if err != nil {
		logger.Error("malformed weather payload",
			zap.Error(err),
			zap.Int("status", resp.Status),
			zap.Int("body_bytes", len(resp.Body)))
		return models.WeatherReading{}, err
	}

	if err := c.cache.Put(fetchCtx, key, reading, c.cfg.TTL); err != nil {
		logger.Warn("cache put failed", zap.Error(err))
	}
	logger.Info("weather fetched",
		zap.Int("attempts", resp.Attempts),
		zap.Duration("duration", time.Since(start)))
	return reading, nil
}

// requestURL builds the upstream URL for key, keeping any query parameters
// already present on the base URL.
func (c *FetchClient) requestURL(key cache.Key) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("zip", key.Location)
	q.Set("units", key.Units)
	q.Set("appid", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// IsBreakerFailure reports whether err should count against the upstream
// circuit. Client errors (4xx other than 429) say nothing about upstream
// health and are excluded.
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 && se.Status != 429 {
		return false
	}
	return true
}
