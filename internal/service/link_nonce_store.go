package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LinkNonceStore is the server-side half of a linking grant. The signed
// cookie proves integrity; the store makes the grant single-use. Consume
// must be atomic so two callbacks racing on one grant yield one winner.
type LinkNonceStore interface {
	Issue(ctx context.Context, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (bool, error)
}

type RedisLinkNonceStore struct {
	client *redis.Client
}

func NewRedisLinkNonceStore(client *redis.Client) *RedisLinkNonceStore {
	return &RedisLinkNonceStore{client: client}
}

func nonceKey(nonce string) string { return "link:nonce:" + nonce }

func (s *RedisLinkNonceStore) Issue(ctx context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" || ttl <= 0 {
		return fmt.Errorf("invalid nonce issue request")
	}
	return s.client.Set(ctx, nonceKey(nonce), "1", ttl).Err()
}

// Consume relies on GETDEL atomicity: exactly one caller observes the value.
func (s *RedisLinkNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	if nonce == "" {
		return false, nil
	}
	val, err := s.client.GetDel(ctx, nonceKey(nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val != "", nil
}

// MemoryLinkNonceStore backs single-process deployments and tests.
type MemoryLinkNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewMemoryLinkNonceStore() *MemoryLinkNonceStore {
	return &MemoryLinkNonceStore{nonces: map[string]time.Time{}, now: time.Now}
}

func (s *MemoryLinkNonceStore) Issue(_ context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" || ttl <= 0 {
		return fmt.Errorf("invalid nonce issue request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce] = s.now().Add(ttl)
	return nil
}

func (s *MemoryLinkNonceStore) Consume(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(s.nonces, nonce)
	return s.now().Before(deadline), nil
}
