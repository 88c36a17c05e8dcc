package cache

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// RistrettoConfig holds the configuration for a RistrettoStore.
type RistrettoConfig struct {
	// MaxEntries bounds the number of records; each record costs 1.
	MaxEntries int64
	// Retention, when positive, expires records from memory. Freshness is
	// never derived from it.
	Retention time.Duration
}

// RistrettoStore is a process-local Store backed by a ristretto cache. Unlike
// InMemoryStore it admits records by frequency, so a write may be refused
// when the cache is full of hotter keys.
type RistrettoStore[V any] struct {
	rc        *ristretto.Cache[string, []byte]
	retention time.Duration
}

// NewRistrettoStore creates a RistrettoStore.
func NewRistrettoStore[V any](cfg *RistrettoConfig) (*RistrettoStore[V], error) {
	if cfg == nil {
		return nil, errors.New("ristretto config cannot be nil")
	}
	if cfg.MaxEntries <= 0 {
		return nil, errors.New("ristretto MaxEntries must be positive")
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        cfg.MaxEntries * 10,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore[V]{rc: rc, retention: cfg.Retention}, nil
}

// Read returns the entry for key.
func (s *RistrettoStore[V]) Read(_ context.Context, key string) (Entry[V], error) {
	data, ok := s.rc.Get(key)
	if !ok {
		return Entry[V]{}, ErrNotFound
	}
	return decodeEntry[V](key, data)
}

// Write replaces the entry for key and waits until it is visible to Read.
// A record the admission policy refuses, immediately or after buffering, is
// a StorageError.
func (s *RistrettoStore[V]) Write(_ context.Context, key string, payload V, fetchedAt int64) error {
	data, err := encodeEntry(key, payload, fetchedAt)
	if err != nil {
		return err
	}
	if !s.rc.SetWithTTL(key, bytes.Clone(data), 1, s.retention) {
		return &StorageError{Op: "write", Key: key, Err: errors.New("record dropped by cache admission")}
	}
	s.rc.Wait()
	stored, ok := s.rc.Get(key)
	if !ok || !bytes.Equal(stored, data) {
		return &StorageError{Op: "write", Key: key, Err: errors.New("record not admitted to cache")}
	}
	return nil
}

// Close stops the cache's background goroutines.
func (s *RistrettoStore[V]) Close() error {
	s.rc.Close()
	return nil
}
