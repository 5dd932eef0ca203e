package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/zipcode-weather/internal/models"
	"github.com/kjstillabower/zipcode-weather/internal/observability"
)

// Looker is implemented by the fetch client. Declared here so the warmer does
// not import the client package.
type Looker interface {
	Lookup(ctx context.Context, locationID string) (models.WeatherReading, error)
}

// Warmer prefetches readings for a fixed list of postal codes so the first
// user request for them is a cache hit.
type Warmer struct {
	looker Looker
	logger *zap.Logger
}

// NewWarmer creates a Warmer that fills the cache through looker.
func NewWarmer(looker Looker, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{looker: looker, logger: logger}
}

// Warm looks up every location concurrently. Failures are joined into the
// returned error; successful lookups stay cached regardless.
func (w *Warmer) Warm(ctx context.Context, locations []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, loc := range locations {
		wg.Add(1)
		go func(loc string) {
			defer wg.Done()
			if _, err := w.looker.Lookup(ctx, loc); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", loc, err))
				mu.Unlock()
			}
		}(loc)
	}
	wg.Wait()

	duration := time.Since(start)
	observability.CacheWarmingDurationSeconds.Observe(duration.Seconds())
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs Warm immediately and then every interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, locations []string, interval time.Duration) error {
	if err := w.Warm(ctx, locations); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, locations); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
