package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDeduper(client, time.Hour), m
}

func TestDeduperAdd(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	added, err := d.Add(ctx, "u1", "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Fatal("first add should succeed")
	}

	added, err = d.Add(ctx, "u1", "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Fatal("second add of the same key should be rejected")
	}
}

func TestDeduperKeysAreScopedPerUser(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("first add should succeed")
	}
	if added, _ := d.Add(ctx, "u2", "k1"); !added {
		t.Fatal("same key for another user should be independent")
	}
}

func TestDeduperRemoveAllowsRetry(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("first add should succeed")
	}
	if err := d.Remove(ctx, "u1", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("add after remove should succeed")
	}
}

func TestDeduperKeysExpire(t *testing.T) {
	d, m := newTestDeduper(t)
	ctx := context.Background()

	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("first add should succeed")
	}
	m.FastForward(2 * time.Hour)
	if added, _ := d.Add(ctx, "u1", "k1"); !added {
		t.Fatal("add after expiry should succeed")
	}
}
