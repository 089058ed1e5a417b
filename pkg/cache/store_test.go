package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis starts an in-process Redis.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
	})

	return mr, client
}

// storeContract exercises the behavior every Store must provide.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	if err != nil || found {
		t.Fatalf("Get(missing) = found %v, err %v", found, err)
	}

	if err := store.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, found, err := store.Get(ctx, "k")
	if err != nil || !found || string(value) != "v1" {
		t.Fatalf("Get(k) = %q, %v, %v", value, found, err)
	}

	won, err := store.SetIfAbsent(ctx, "k", []byte("v2"), time.Minute)
	if err != nil || won {
		t.Fatalf("SetIfAbsent on existing key = %v, %v", won, err)
	}
	value, _, _ = store.Get(ctx, "k")
	if string(value) != "v1" {
		t.Errorf("SetIfAbsent overwrote existing value: %q", value)
	}

	won, err = store.SetIfAbsent(ctx, "fresh", []byte("L"), time.Minute)
	if err != nil || !won {
		t.Fatalf("SetIfAbsent on absent key = %v, %v", won, err)
	}

	if err := store.Set(ctx, "k", []byte("v3"), time.Minute); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	value, _, _ = store.Get(ctx, "k")
	if string(value) != "v3" {
		t.Errorf("Set should overwrite, got %q", value)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete should be idempotent: %v", err)
	}
	if _, found, _ := store.Get(ctx, "k"); found {
		t.Error("key still present after Delete")
	}
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := setupTestRedis(t)
	storeContract(t, NewRedisStore(client))
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	if _, err := store.SetIfAbsent(ctx, "slot", []byte("L"), 120*time.Second); err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if ttl := mr.TTL("slot"); ttl != 120*time.Second {
		t.Errorf("TTL = %v, want 120s", ttl)
	}

	mr.FastForward(121 * time.Second)
	if _, found, _ := store.Get(ctx, "slot"); found {
		t.Error("slot should expire after its TTL")
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client)
	mr.Close()

	if _, _, err := store.Get(context.Background(), "k"); err == nil {
		t.Error("Get should fail when Redis is down")
	}
	if err := store.Set(context.Background(), "k", []byte("v"), time.Minute); err == nil {
		t.Error("Set should fail when Redis is down")
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	store.Set(ctx, "k", []byte("v"), 10*time.Second)
	if ttl := store.TTL("k"); ttl != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", ttl)
	}

	now = now.Add(10 * time.Second)
	if _, found, _ := store.Get(ctx, "k"); found {
		t.Error("entry should be expired")
	}

	won, _ := store.SetIfAbsent(ctx, "k", []byte("L"), time.Second)
	if !won {
		t.Error("SetIfAbsent should succeed on expired key")
	}
}
