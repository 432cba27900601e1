package cache_test

import (
	"context"
	"testing"
	"time"

	"judgecore/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	return rc, mr
}

func TestRedisCacheGetMissingKey(t *testing.T) {
	rc, _ := newTestCache(t)
	val, err := rc.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "" {
		t.Fatalf("expected empty value, got %q", val)
	}
}

func TestRedisCacheSetWithTTL(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()
	if err := rc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := rc.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("expected v, got %q (%v)", got, err)
	}
	mr.FastForward(2 * time.Minute)
	got, _ = rc.Get(ctx, "k")
	if got != "" {
		t.Fatalf("expected key to expire, got %q", got)
	}
}

func TestRedisCacheHashCounters(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := rc.HIncrBy(ctx, "stats", "accepted", 1); err != nil {
			t.Fatalf("hincrby failed: %v", err)
		}
	}
	if _, err := rc.HIncrBy(ctx, "stats", "wrong_answer", 2); err != nil {
		t.Fatalf("hincrby failed: %v", err)
	}
	all, err := rc.HGetAll(ctx, "stats")
	if err != nil {
		t.Fatalf("hgetall failed: %v", err)
	}
	if all["accepted"] != "3" || all["wrong_answer"] != "2" {
		t.Fatalf("unexpected counters: %v", all)
	}
}

func TestRedisCacheLockOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	newCache := func() *cache.RedisCache {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		rc, err := cache.NewRedisCacheWithClient(client)
		if err != nil {
			t.Fatalf("new cache failed: %v", err)
		}
		return rc
	}
	owner := newCache()
	other := newCache()
	ctx := context.Background()

	ok, err := owner.TryLock(ctx, "lock:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock acquired, got %v (%v)", ok, err)
	}
	ok, err = other.TryLock(ctx, "lock:1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second lock to fail, got %v (%v)", ok, err)
	}
	if err := other.Unlock(ctx, "lock:1"); err != nil {
		t.Fatalf("unlock by non-owner returned error: %v", err)
	}
	if !mr.Exists("lock:1") {
		t.Fatalf("expected non-owner unlock to keep the lock")
	}
	if err := other.ExtendLock(ctx, "lock:1", time.Minute); err == nil {
		t.Fatalf("expected extend by non-owner to fail")
	}
	if err := owner.ExtendLock(ctx, "lock:1", 2*time.Minute); err != nil {
		t.Fatalf("extend by owner failed: %v", err)
	}
	if err := owner.Unlock(ctx, "lock:1"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if mr.Exists("lock:1") {
		t.Fatalf("expected lock released")
	}
}

func TestJitterTTL(t *testing.T) {
	t.Parallel()
	ttl := 10 * time.Minute
	for i := 0; i < 20; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jittered ttl out of range: %s", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatalf("expected zero ttl unchanged")
	}
}
