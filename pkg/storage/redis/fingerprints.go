package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const fingerprintKeyPrefix = "dedupe:fp:"

// FingerprintStore is a Redis-backed store for the dedupe detector, for
// deployments running more than one bot instance against the same account.
// Key liveness doubles as freshness: a key exists exactly while its TTL runs.
type FingerprintStore struct {
	client *redis.Client
}

// NewFingerprintStore initializes a new Redis client and verifies the
// connection.
func NewFingerprintStore(addr string) (*FingerprintStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &FingerprintStore{client: client}, nil
}

// NewFingerprintStoreFromClient wraps an existing client, for tests.
func NewFingerprintStoreFromClient(client *redis.Client) *FingerprintStore {
	return &FingerprintStore{client: client}
}

func (s *FingerprintStore) Close() error {
	return s.client.Close()
}

// CheckAndInsert implements send.FingerprintStore. SET NX is the atomic
// check-and-insert; a losing SET means the fingerprint was fresh, and its
// TTL is refreshed to match the in-memory store's behavior.
func (s *FingerprintStore) CheckAndInsert(ctx context.Context, fp string, now time.Time, ttl time.Duration) (bool, error) {
	key := fingerprintKeyPrefix + fp
	inserted, err := s.client.SetNX(ctx, key, now.UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	if inserted {
		return false, nil
	}
	if err := s.client.Set(ctx, key, now.UnixMilli(), ttl).Err(); err != nil {
		return true, fmt.Errorf("failed to refresh fingerprint: %w", err)
	}
	return true, nil
}
