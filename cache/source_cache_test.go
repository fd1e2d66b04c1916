package cache

import (
	"context"
	"testing"
	"time"

	"RadioRoyal/model"
)

func TestMemorySourceCacheExpiry(t *testing.T) {
	c := NewMemorySourceCache()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	src := model.ResolvedSource{Key: "k", DirectURL: "https://d", ExpiresAt: now.Add(10 * time.Minute)}
	if err := c.Set(ctx, src); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || got.DirectURL != "https://d" {
		t.Fatalf("Get = %+v, %v, %v", got, ok, err)
	}

	now = now.Add(10 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get at expiry = hit, want miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want expired entry evicted", c.Len())
	}
}

func TestMemorySourceCacheMiss(t *testing.T) {
	c := NewMemorySourceCache()
	if _, ok, err := c.Get(context.Background(), "nope"); ok || err != nil {
		t.Errorf("Get(nope) = %v, %v", ok, err)
	}
}

func TestRedisSourceKey(t *testing.T) {
	c := NewRedisSourceCache(nil)
	if got := c.GetSourceKey("https://www.youtube.com/watch?v=x"); got != "resolver:source:https://www.youtube.com/watch?v=x" {
		t.Errorf("GetSourceKey = %q", got)
	}
}
