package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// FileConfig holds the configuration for the on-disk store.
type FileConfig struct {
	// Dir is the namespace directory. It is created on the first write.
	Dir string
}

// FileStore persists one JSON record per key under a directory. Writes go to
// a temporary file that is renamed into place, so readers only ever see a
// complete record or the previous one.
type FileStore[V any] struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates a FileStore. It does not touch the filesystem until the
// first write.
func NewFileStore[V any](cfg *FileConfig, logger zerolog.Logger) (*FileStore[V], error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, errors.New("file store directory cannot be empty")
	}
	logger.Info().Str("dir", cfg.Dir).Msg("FileStore initialized.")
	return &FileStore[V]{
		dir:    cfg.Dir,
		logger: logger.With().Str("component", "FileStore").Logger(),
	}, nil
}

func (s *FileStore[V]) path(key string) (string, error) {
	name, err := escapeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Read loads and decodes the record for key.
func (s *FileStore[V]) Read(_ context.Context, key string) (Entry[V], error) {
	var zero Entry[V]
	p, err := s.path(key)
	if err != nil {
		return zero, &StorageError{Op: "read", Key: key, Err: err}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, ErrNotFound
		}
		return zero, &StorageError{Op: "read", Key: key, Err: err}
	}
	entry, err := decodeEntry[V](key, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Str("path", p).Msg("Cached record is undecodable.")
		return zero, err
	}
	return entry, nil
}

// Write atomically replaces the record for key, creating the directory first
// if needed.
func (s *FileStore[V]) Write(_ context.Context, key string, payload V, fetchedAt int64) error {
	p, err := s.path(key)
	if err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	data, err := encodeEntry(key, payload, fetchedAt)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &StorageError{Op: "write", Key: key, Err: fmt.Errorf("create dir %s: %w", s.dir, err)}
	}
	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	s.logger.Debug().Str("key", key).Int64("fetched_at", fetchedAt).Msg("Wrote cache record.")
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore[V]) Close() error {
	return nil
}
