package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreForTest(t *testing.T) (*RedisLinkNonceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLinkNonceStore(client), mr
}

func TestRedisNonceStoreSingleUse(t *testing.T) {
	store, _ := newRedisStoreForTest(t)
	ctx := context.Background()

	if err := store.Issue(ctx, "nonce-1", time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	won, err := store.Consume(ctx, "nonce-1")
	if err != nil || !won {
		t.Fatalf("first consume: won=%v err=%v", won, err)
	}
	won, err = store.Consume(ctx, "nonce-1")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if won {
		t.Fatal("second consume must lose")
	}
}

func TestRedisNonceStoreExpiry(t *testing.T) {
	store, mr := newRedisStoreForTest(t)
	ctx := context.Background()

	if err := store.Issue(ctx, "nonce-2", time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	won, err := store.Consume(ctx, "nonce-2")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if won {
		t.Fatal("expired nonce must not redeem")
	}
}

func TestRedisNonceStoreUnknownNonce(t *testing.T) {
	store, _ := newRedisStoreForTest(t)
	won, err := store.Consume(context.Background(), "never-issued")
	if err != nil || won {
		t.Fatalf("unknown nonce: won=%v err=%v", won, err)
	}
}

func TestMemoryNonceStoreSingleUseAndExpiry(t *testing.T) {
	store := NewMemoryLinkNonceStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Issue(ctx, "nonce-3", time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	won, err := store.Consume(ctx, "nonce-3")
	if err != nil || !won {
		t.Fatalf("first consume: won=%v err=%v", won, err)
	}
	if won, _ := store.Consume(ctx, "nonce-3"); won {
		t.Fatal("second consume must lose")
	}

	if err := store.Issue(ctx, "nonce-4", time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if won, _ := store.Consume(ctx, "nonce-4"); won {
		t.Fatal("expired nonce must not redeem")
	}
}
