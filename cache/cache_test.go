package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aloks98/restauth/store"
)

func TestMemory(t *testing.T) {
	now := time.Now()
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("empty cache reported a hit")
	}

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}

	if err := m.Invalidate(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("invalidated key still present")
	}
}

func TestMemory_Expiry(t *testing.T) {
	now := time.Now()
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_ = m.Set(ctx, "a", "1", time.Minute)
	_ = m.Set(ctx, "b", "2", time.Hour)

	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Error("entry served at its expiry time")
	}
	if _, ok, _ := m.Get(ctx, "b"); !ok {
		t.Error("live entry missing")
	}

	_ = m.Set(ctx, "c", "3", time.Second)
	now = now.Add(2 * time.Second)
	if n := m.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestRedis_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	c := NewRedis(client, "")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
	if c.prefix != "restauth:cache:" {
		t.Errorf("default prefix = %q", c.prefix)
	}
}
