package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey  string
	WeatherAPIURL  string
	WeatherUnits   string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxIdleConns   int

	RequestTimeout time.Duration

	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RetryableStatuses []int // nil means transport defaults

	CacheBackend       string // "in_memory" or "memcached"
	CacheTTL           time.Duration
	CacheMaxEntries    int
	CachePurgeInterval time.Duration
	Coalesce           bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	WarmLocations []string
	WarmInterval  time.Duration

	LocationMinLength int
	LocationMaxLength int

	TracingExporter string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL            string `yaml:"url"`
		Units          string `yaml:"units"`
		ConnectTimeout string `yaml:"connect_timeout"`
		ReadTimeout    string `yaml:"read_timeout"`
		MaxIdleConns   int    `yaml:"max_idle_conns"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend       string `yaml:"backend"`
		TTL           string `yaml:"ttl"`
		MaxEntries    int    `yaml:"max_entries"`
		PurgeInterval string `yaml:"purge_interval"`
		Coalesce      bool   `yaml:"coalesce"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Locations []string `yaml:"locations"`
			Interval  string   `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts  int    `yaml:"retry_max_attempts"`
		RetryBaseDelay    string `yaml:"retry_base_delay"`
		RetryMaxDelay     string `yaml:"retry_max_delay"`
		RetryableStatuses []int  `yaml:"retryable_statuses"`
		RateLimitRPS      int    `yaml:"rate_limit_rps"`
		RateLimitBurst    int    `yaml:"rate_limit_burst"`
		CircuitBreaker    struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Validation struct {
		LocationMinLength int `yaml:"location_min_length"`
		LocationMaxLength int `yaml:"location_max_length"`
	} `yaml:"validation"`

	Tracing struct {
		Exporter string `yaml:"exporter"`
	} `yaml:"tracing"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherUnits = strings.TrimSpace(strings.ToLower(fc.WeatherAPI.Units))
	if cfg.WeatherUnits == "" {
		cfg.WeatherUnits = "imperial"
	}
	cfg.ConnectTimeout = parseDurationOrZero(fc.WeatherAPI.ConnectTimeout, 2*time.Second)
	cfg.ReadTimeout = parseDurationOrZero(fc.WeatherAPI.ReadTimeout, 10*time.Second)
	cfg.MaxIdleConns = fc.WeatherAPI.MaxIdleConns
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 8
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 300*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.RetryableStatuses = fc.Reliability.RetryableStatuses

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 256
	}
	cfg.CachePurgeInterval = parseDuration(fc.Cache.PurgeInterval, time.Minute)
	cfg.Coalesce = fc.Cache.Coalesce

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	for _, loc := range fc.Cache.Warm.Locations {
		if loc = strings.TrimSpace(loc); loc != "" {
			cfg.WarmLocations = append(cfg.WarmLocations, loc)
		}
	}
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)

	cfg.LocationMinLength = fc.Validation.LocationMinLength
	if cfg.LocationMinLength <= 0 {
		cfg.LocationMinLength = 1
	}
	cfg.LocationMaxLength = fc.Validation.LocationMaxLength
	if cfg.LocationMaxLength <= 0 {
		cfg.LocationMaxLength = 100
	}

	cfg.TracingExporter = strings.TrimSpace(strings.ToLower(fc.Tracing.Exporter))

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKey returns WEATHER_API_KEY, falling back to config/secrets.yaml.
func loadAPIKey(cwd string) (string, error) {
	if key := os.Getenv("WEATHER_API_KEY"); key != "" {
		return key, nil
	}
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	data, err := os.ReadFile(secretsPath)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	if err == nil {
		var sec secretsFile
		if err := yaml.Unmarshal(data, &sec); err != nil {
			return "", fmt.Errorf("parse secrets file: %w", err)
		}
		if sec.WeatherAPIKey != "" {
			return sec.WeatherAPIKey, nil
		}
	}
	return "", fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is for validate to reject.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised to cover
// one full upstream attempt when configured lower.
func validate(cfg *Config) error {
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("weather_api.connect_timeout must be positive")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("weather_api.read_timeout must be positive")
	}
	if attempt := cfg.ConnectTimeout + cfg.ReadTimeout; cfg.RequestTimeout <= attempt {
		cfg.RequestTimeout = attempt + time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return fmt.Errorf("reliability.retry_max_delay (%v) must be >= retry_base_delay (%v)", cfg.RetryMaxDelay, cfg.RetryBaseDelay)
	}
	for _, code := range cfg.RetryableStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("reliability.retryable_statuses: %d is not an HTTP status", code)
		}
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.WeatherUnits {
	case "imperial", "metric", "standard":
	default:
		return fmt.Errorf("weather_api.units must be imperial, metric or standard, got %q", cfg.WeatherUnits)
	}
	if cfg.LocationMaxLength < cfg.LocationMinLength {
		return fmt.Errorf("validation.location_max_length (%d) must be >= location_min_length (%d)", cfg.LocationMaxLength, cfg.LocationMinLength)
	}
	switch cfg.TracingExporter {
	case "", "none", "stdout", "discard":
	default:
		return fmt.Errorf("tracing.exporter must be none, stdout or discard, got %q", cfg.TracingExporter)
	}
	return nil
}
