package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/redis/go-redis/v9"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("ValuesAreCopied", func(t *testing.T) {
		buf := []byte("original")
		_ = cache.Set(ctx, "copy", buf, time.Minute)
		buf[0] = 'X'

		val, _ := cache.Get(ctx, "copy")
		if string(val) != "original" {
			t.Errorf("stored value changed with caller buffer: %s", val)
		}

		val[0] = 'Y'
		again, _ := cache.Get(ctx, "copy")
		if string(again) != "original" {
			t.Errorf("returned buffer aliases stored value: %s", again)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		now := time.Now()
		c := NewLRUCache(10)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "expiring", []byte("temp"), time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("NoExpiry", func(t *testing.T) {
		now := time.Now()
		c := NewLRUCache(10)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "forever", []byte("v"), 0)
		now = now.Add(1000 * time.Hour)
		if val, _ := c.Get(ctx, "forever"); val == nil {
			t.Error("zero ttl entry should not expire")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes the eviction candidate.
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to survive")
		}
		if size, capacity := small.Stats(); size != 3 || capacity != 3 {
			t.Errorf("unexpected stats %d/%d", size, capacity)
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			n, err := cache.IncrementCounter(ctx, "analyses", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if n != i {
				t.Errorf("expected %d, got %d", i, n)
			}
		}
	})
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCache(t *testing.T) {
	mr, c := newMiniRedis(t)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := c.Get(ctx, "k")
		if err != nil || string(val) != "v" {
			t.Fatalf("Get = %q, %v", val, err)
		}
		if !mr.Exists("simguard:k") {
			t.Error("expected namespaced key in redis")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		_ = c.Set(ctx, "short", []byte("v"), time.Second)
		mr.FastForward(2 * time.Second)
		if val, _ := c.Get(ctx, "short"); val != nil {
			t.Error("expected key to expire")
		}
	})

	t.Run("Miss", func(t *testing.T) {
		val, err := c.Get(ctx, "missing")
		if err != nil || val != nil {
			t.Errorf("expected nil, nil on miss, got %v, %v", val, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "gone", []byte("v"), 0)
		_ = c.Delete(ctx, "gone")
		if val, _ := c.Get(ctx, "gone"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			n, err := c.IncrementCounter(ctx, "counter", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if n != i {
				t.Errorf("expected %d, got %d", i, n)
			}
		}
		if ttl := mr.TTL("simguard:counter"); ttl <= 0 {
			t.Errorf("expected counter TTL to be set, got %v", ttl)
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	mr, remote := newMiniRedis(t)
	ctx := context.Background()

	c := NewTwoPhaseCache(NewLRUCache(10), remote, time.Minute)

	if err := c.Set(ctx, "shared", []byte("v1"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// L2 populated.
	got, err := mr.Get("simguard:shared")
	if err != nil || got != "v1" {
		t.Fatalf("expected value in redis, got %q, %v", got, err)
	}

	// Value written by another node only reaches L1 on miss.
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()
	other.Set(ctx, "simguard:remote-only", "v2", 0)

	val, err := c.Get(ctx, "remote-only")
	if err != nil || string(val) != "v2" {
		t.Fatalf("expected L2 fallthrough, got %q, %v", val, err)
	}
	if l1, _ := c.local.Get(ctx, "remote-only"); string(l1) != "v2" {
		t.Error("expected L1 to be populated from L2")
	}

	if err := c.Delete(ctx, "shared"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val, _ := c.Get(ctx, "shared"); val != nil {
		t.Error("expected nil after delete")
	}

	n, err := c.IncrementCounter(ctx, "runs", time.Minute)
	if err != nil || n != 1 {
		t.Errorf("expected counter 1, got %d, %v", n, err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNew(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}

	mr := miniredis.RunT(t)
	c, err = New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	if _, ok := c.(*TwoPhaseCache); !ok {
		t.Errorf("expected *TwoPhaseCache, got %T", c)
	}

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
