package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/filen-community/filen-webdav/internal/cache"
	"github.com/filen-community/filen-webdav/internal/cache/redis"
)

func newCache(t *testing.T) (*redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.New(&redis.Config{Addr: mr.Addr(), DefaultTTLSeconds: 60}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSetGetDelete(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("get missing err = %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get = %q, %v", got, err)
	}
	ok, err := c.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
}

func TestExpiry(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(time.Second)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("get expired err = %v", err)
	}
}

func TestCounterFixedWindow(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.Increment(ctx, "cnt", 1, time.Second)
		if err != nil || n != want {
			t.Fatalf("increment = %d, %v; want %d", n, err, want)
		}
	}
	n, err := c.GetCount(ctx, "cnt")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}

	// Only the first increment arms the expiry; the window does not slide.
	mr.FastForward(2 * time.Second)
	n, err = c.Increment(ctx, "cnt", 1, time.Second)
	if err != nil || n != 1 {
		t.Fatalf("post-window increment = %d, %v; want fresh 1", n, err)
	}

	if err := c.Reset(ctx, "cnt"); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.GetCount(ctx, "cnt"); n != 0 {
		t.Fatalf("count after reset = %d", n)
	}
}

func TestDriverRegistration(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.New("redis", map[string]any{"addr": mr.Addr()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
}
