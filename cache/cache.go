// Package cache is the consistency layer between the authoritative
// relational store and a key/value cache: read-through population with
// bounded TTLs, and synchronous exact-key plus prefix invalidation on every
// mutation.
package cache

import (
	"context"
	"time"
)

// Store is a key/value cache with TTL and prefix-based bulk deletion.
//
// Implementations: Redis (production) and Memory (tests, development).
// The cache is best-effort and never authoritative; the relational store is.
type Store interface {
	// Get returns the unexpired value for key, or ok=false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes one entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every entry whose key starts with prefix.
	// Used for derived/collection views keyed under an owner-scoped prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
}
