// Package cache provides durable, key-addressed storage for fetched payloads.
// Each key holds exactly one Entry: the payload plus the unix second it was
// fetched at. Backends never keep an in-memory copy in front of their medium.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Entry is the unit persisted per key.
type Entry[V any] struct {
	Payload   V
	FetchedAt int64
}

// ErrNotFound is returned by Read when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// StorageError reports a failure of the storage medium or an entry that could
// not be decoded. Callers treat it as an absent entry, never as fatal.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s for key '%s': %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the read/write contract every backend satisfies.
type Store[V any] interface {
	// Read returns the persisted entry, ErrNotFound, or a *StorageError.
	Read(ctx context.Context, key string) (Entry[V], error)
	// Write replaces any prior entry for key. It creates the backend's
	// namespace on demand and does not retry on failure.
	Write(ctx context.Context, key string, payload V, fetchedAt int64) error
	io.Closer
}
