package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zipcode-weather/internal/cache"
	"github.com/kjstillabower/zipcode-weather/internal/circuitbreaker"
	"github.com/kjstillabower/zipcode-weather/internal/client"
	"github.com/kjstillabower/zipcode-weather/internal/config"
	httphandler "github.com/kjstillabower/zipcode-weather/internal/http"
	"github.com/kjstillabower/zipcode-weather/internal/lifecycle"
	"github.com/kjstillabower/zipcode-weather/internal/observability"
	"github.com/kjstillabower/zipcode-weather/internal/traffic"
	"github.com/kjstillabower/zipcode-weather/internal/transport"
	"github.com/kjstillabower/zipcode-weather/internal/validation"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	envErr := godotenv.Load()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	shutdownTracing, err := observability.SetupTracing(cfg.TracingExporter)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	state := lifecycle.New()
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	tr := transport.New(transport.Config{
		MaxAttempts:         cfg.RetryAttempts,
		BackoffBase:         cfg.RetryBaseDelay,
		BackoffMax:          cfg.RetryMaxDelay,
		RetryableStatuses:   cfg.RetryableStatuses,
		ConnectTimeout:      cfg.ConnectTimeout,
		ReadTimeout:         cfg.ReadTimeout,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
	}, logger)

	var (
		store     cache.Cache
		memcached *cache.MemcachedCache
	)
	switch cfg.CacheBackend {
	case "memcached":
		memcached = cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := memcached.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		store = memcached
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		mem := cache.NewInMemoryCache(cfg.CacheMaxEntries)
		go func() {
			if err := mem.RunJanitor(appCtx, cfg.CachePurgeInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("cache janitor stopped", zap.Error(err))
			}
		}()
		store = mem
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	opts := []client.Option{client.WithLogger(logger)}
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			IsFailure:        client.IsBreakerFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		opts = append(opts, client.WithCircuitBreaker(breaker))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	weatherClient, err := client.New(client.Config{
		APIKey:   cfg.WeatherAPIKey,
		BaseURL:  cfg.WeatherAPIURL,
		Units:    cfg.WeatherUnits,
		TTL:      cfg.CacheTTL,
		Coalesce: cfg.Coalesce,
	}, tr, store, opts...)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	if len(cfg.WarmLocations) > 0 {
		warmer := cache.NewWarmer(weatherClient, logger)
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(appCtx, cfg.WarmLocations, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			warmCtx, warmCancel := context.WithTimeout(appCtx, 30*time.Second)
			if err := warmer.Warm(warmCtx, cfg.WarmLocations); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
		}
	}

	health := httphandler.HealthConfig{
		Lifecycle: state,
		Traffic:   traffic.NewTracker(traffic.DefaultRetention),
		Version:   version,
	}
	if breaker != nil {
		health.BreakerState = breaker.State
	}
	if memcached != nil {
		health.CachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(weatherClient, httphandler.Config{
		Rules:  validation.Rules{MinLen: cfg.LocationMinLength, MaxLen: cfg.LocationMaxLength},
		Units:  cfg.WeatherUnits,
		Health: health,
	}, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		InFlight:       inFlight,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.BeginShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}
	cancelApp()

	if err := observability.FlushTelemetry(shutdownCtx, logger, shutdownTracing); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
