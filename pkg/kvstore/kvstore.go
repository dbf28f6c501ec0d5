// Package kvstore provides a small key/value abstraction over either an
// in-process map or Redis, used by pkg/adbreak and pkg/chconfig so their
// pinning and caching logic doesn't care which backend is wired in.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a JSON-valued key/value store with TTL and a set-if-absent
// primitive for pin-once semantics.
type Store interface {
	// Get unmarshals the value stored at key into dst. Returns ErrNotFound
	// if absent.
	Get(ctx context.Context, key string, dst interface{}) error
	// Set stores value at key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX stores value at key only if key is not already present,
	// returning true if this call won the race.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists keys with the given prefix. Eventually consistent is
	// acceptable (spec.md §4.8).
	Keys(ctx context.Context, prefix string) ([]string, error)
}

func marshal(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func unmarshal(data []byte, dst interface{}) error {
	return json.Unmarshal(data, dst)
}
