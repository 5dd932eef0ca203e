package cache

import (
	"context"
	"strconv"
	"testing"
	"time"
)

// BenchmarkInMemoryCache_Get_Hit benchmarks Get on a live entry.
func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache(DefaultMaxEntries)
	ctx := context.Background()
	key := NewKey("30122", "imperial")
	_ = c.Put(ctx, key, reading("Lithia Springs"), 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, key)
	}
}

// BenchmarkInMemoryCache_Put_Evicting benchmarks Put on a full cache, where
// every insert scans for a victim.
func BenchmarkInMemoryCache_Put_Evicting(b *testing.B) {
	c := NewInMemoryCache(DefaultMaxEntries)
	ctx := context.Background()
	for i := 0; i < DefaultMaxEntries; i++ {
		_ = c.Put(ctx, NewKey(strconv.Itoa(i), "imperial"), reading("x"), time.Duration(i+1)*time.Second)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Put(ctx, NewKey("k"+strconv.Itoa(i), "imperial"), reading("x"), 5*time.Minute)
	}
}

// BenchmarkInMemoryCache_Parallel benchmarks mixed Get/Put under contention.
func BenchmarkInMemoryCache_Parallel(b *testing.B) {
	c := NewInMemoryCache(DefaultMaxEntries)
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := NewKey(strconv.Itoa(i%512), "imperial")
			if _, ok, _ := c.Get(ctx, key); !ok {
				_ = c.Put(ctx, key, reading("x"), time.Minute)
			}
			i++
		}
	})
}
