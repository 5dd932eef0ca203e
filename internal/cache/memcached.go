package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/zipcode-weather/internal/models"
)

// maxRelativeExpiration is the largest TTL memcached treats as relative (30 days).
const maxRelativeExpiration = 30 * 24 * time.Hour

// MemcachedCache implements Cache on memcached. Size and eviction are left to
// the memcached server's own LRU; entries expire server-side.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). Zero timeout or
// maxIdleConns keep the gomemcache defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements Cache.Get. A miss is (zero, false, nil).
func (c *MemcachedCache) Get(ctx context.Context, key Key) (models.WeatherReading, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherReading{}, false, err
	}
	item, err := c.client.Get(key.String())
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherReading{}, false, nil
		}
		return models.WeatherReading{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var r models.WeatherReading
	if err := json.Unmarshal(item.Value, &r); err != nil {
		return models.WeatherReading{}, false, fmt.Errorf("memcached decode: %w", err)
	}
	return r, true, nil
}

// Put implements Cache.Put.
func (c *MemcachedCache) Put(ctx context.Context, key Key, value models.WeatherReading, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	if ttl > maxRelativeExpiration {
		ttl = maxRelativeExpiration
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memcached encode: %w", err)
	}
	exp := int32(ttl / time.Second)
	if exp < 1 {
		exp = 1
	}
	if err := c.client.Set(&memcache.Item{Key: key.String(), Value: raw, Expiration: exp}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op; memcached drops expired items itself.
func (c *MemcachedCache) PurgeExpired(ctx context.Context) (int, error) {
	return 0, ctx.Err()
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*MemcachedCache)(nil)
