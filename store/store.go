// Package store defines the key-value boundary used to persist scene state.
//
// The compositor only needs last-write-wins semantics for a handful of
// keys, so Store is deliberately small. MemoryStore is used by tests and
// ephemeral runs; FileStore keeps one file per key in a directory.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is a key-value store of opaque byte values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
