// Package kvstore wraps the host's Redis-style key-value store behind the
// narrow interface the moderation engine consumes, and centralizes key
// derivation so every subsystem agrees on the persistent key layout.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// Member is a sorted-set entry.
type Member struct {
	Value string
	Score float64
}

// Store is the set of primitives the engine requires from the host's store.
// IncrBy must be atomic; SetNX must be an atomic set-if-absent.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set writes a value. ttl == 0 means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only if absent, returning whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	ZAdd(ctx context.Context, key string, members ...Member) error
	// ZRangeByScore returns members with min <= score <= max, ascending.
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// GetInt reads an integer counter, treating a missing key as zero.
func GetInt(ctx context.Context, s Store, key string) (int64, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseInt(v)
}
