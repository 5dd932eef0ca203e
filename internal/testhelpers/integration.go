//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/zipcode-weather/internal/cache"
	"github.com/kjstillabower/zipcode-weather/internal/client"
	"github.com/kjstillabower/zipcode-weather/internal/observability"
	"github.com/kjstillabower/zipcode-weather/internal/transport"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationClient builds a FetchClient against the live API. With
// INTEGRATION_CACHE_BACKEND=memcached and a reachable server it caches in
// memcached, otherwise in memory.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) (*client.FetchClient, cache.Cache) {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	var store cache.Cache = cache.NewInMemoryCache(cache.DefaultMaxEntries)
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err != nil {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
			_ = mc.Close()
		} else {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			t.Cleanup(func() { _ = mc.Close() })
			store = mc
		}
	}

	c, err := client.New(client.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.APIURL,
		TTL:     time.Minute,
	}, transport.New(transport.DefaultConfig(), logger), store, client.WithLogger(logger))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c, store
}
