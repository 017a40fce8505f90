// Package idempotency is a Redis fast path for duplicate event detection.
// The authoritative record is the processed_events table written inside the
// handler's transaction; this cache only lets consumers skip duplicates
// without opening one. Mark is called after commit, never before, so a cache
// entry can't suppress an event that was not actually processed.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(eventID string) string {
	return "processed:" + eventID
}

// Seen reports whether eventID was already marked processed.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records eventID as processed. Best effort: losing the entry only
// costs one round trip to the database on the next duplicate.
func (s *Store) Mark(ctx context.Context, eventID string) error {
	return s.rdb.Set(ctx, key(eventID), "1", s.ttl).Err()
}
