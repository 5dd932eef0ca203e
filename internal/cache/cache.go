package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/zipcode-weather/internal/models"
	"github.com/kjstillabower/zipcode-weather/internal/observability"
)

// DefaultMaxEntries bounds the in-memory cache when no size is configured.
const DefaultMaxEntries = 256

// Key identifies one cached lookup. Two lookups for the same location in the
// same unit system produce equal keys.
type Key struct {
	Location string
	Units    string
}

// NewKey builds a Key from a raw location identifier, trimming whitespace and
// lower-casing so "  SW1A " and "sw1a" share an entry.
func NewKey(location, units string) Key {
	return Key{
		Location: strings.ToLower(strings.TrimSpace(location)),
		Units:    units,
	}
}

// maxRemoteKeyLen is memcached's key length limit.
const maxRemoteKeyLen = 250

// String returns the external form of the key used by remote backends. The
// location is query-escaped so spaces and control bytes never reach the wire;
// a key still over the memcached limit falls back to a SHA-256 digest.
func (k Key) String() string {
	s := "weather:" + url.QueryEscape(k.Units) + ":" + url.QueryEscape(k.Location)
	if len(s) <= maxRemoteKeyLen {
		return s
	}
	sum := sha256.Sum256([]byte(k.Units + "\x00" + k.Location))
	return "weather:sha256:" + hex.EncodeToString(sum[:])
}

// Cache defines the interface for weather reading caching implementations.
// Get returns live data only; Put stores data with TTL and applies the
// backend's eviction policy; PurgeExpired removes every expired entry.
type Cache interface {
	Get(ctx context.Context, key Key) (models.WeatherReading, bool, error)
	Put(ctx context.Context, key Key, value models.WeatherReading, ttl time.Duration) error
	PurgeExpired(ctx context.Context) (int, error)
}

// InMemoryCache implements Cache using a mutex-guarded map bounded to
// maxEntries. When a new key would exceed the bound, the entry expiring
// soonest is evicted (earliest insertion wins a tie). This approximates
// recency eviction without tracking reads.
type InMemoryCache struct {
	mu         sync.Mutex
	data       map[Key]cacheEntry
	maxEntries int
	seq        uint64
	now        func() time.Time
}

// cacheEntry stores a cached reading with its expiration and insertion order.
type cacheEntry struct {
	value     models.WeatherReading
	expiresAt time.Time
	seq       uint64
}

// Option configures an InMemoryCache.
type Option func(*InMemoryCache)

// WithClock replaces time.Now, for tests that need to step past a TTL.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewInMemoryCache creates an in-memory cache holding at most maxEntries
// entries. maxEntries <= 0 uses DefaultMaxEntries.
func NewInMemoryCache(maxEntries int, opts ...Option) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &InMemoryCache{
		data:       make(map[Key]cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves the cached reading for key if present and not expired.
// An entry whose expiresAt is not after now is deleted and reported as a miss.
func (c *InMemoryCache) Get(ctx context.Context, key Key) (models.WeatherReading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherReading{}, false, nil
	}
	if !entry.expiresAt.After(c.now()) {
		delete(c.data, key)
		observability.CacheEntries.Set(float64(len(c.data)))
		return models.WeatherReading{}, false, nil
	}
	return entry.value, true, nil
}

// Put stores value under key until now+ttl. Replacing an existing key never
// evicts; inserting a new key into a full cache evicts one victim first.
// A non-positive ttl stores nothing.
func (c *InMemoryCache) Put(ctx context.Context, key Key, value models.WeatherReading, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxEntries {
		c.evictLocked()
	}
	c.seq++
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
		seq:       c.seq,
	}
	observability.CacheEntries.Set(float64(len(c.data)))
	return nil
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (c *InMemoryCache) PurgeExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.data {
		if !e.expiresAt.After(now) {
			delete(c.data, k)
			n++
		}
	}
	observability.CacheEntries.Set(float64(len(c.data)))
	return n, nil
}

// Len returns the number of entries currently held, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// RunJanitor calls PurgeExpired every interval until ctx is done. A
// non-positive interval disables purging; expired entries are still dropped
// lazily by Get.
func (c *InMemoryCache) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = c.PurgeExpired(ctx)
		}
	}
}

// evictLocked removes the entry with the smallest expiresAt. Caller holds mu.
func (c *InMemoryCache) evictLocked() {
	var (
		victim Key
		oldest cacheEntry
		found  bool
	)
	for k, e := range c.data {
		if !found || e.expiresAt.Before(oldest.expiresAt) ||
			(e.expiresAt.Equal(oldest.expiresAt) && e.seq < oldest.seq) {
			victim, oldest, found = k, e, true
		}
	}
	if found {
		delete(c.data, victim)
		observability.CacheEvictionsTotal.Inc()
	}
}

var _ Cache = (*InMemoryCache)(nil)
