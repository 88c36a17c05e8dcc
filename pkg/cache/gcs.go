package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// --- GCS client abstraction, so the store can be tested without a bucket ---

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle. NewReader must return an
// error wrapping storage.ErrObjectNotExist for a missing object.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes a concrete *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	return a.handle.NewWriter(ctx)
}

// --- Store ---

// GCSConfig holds configuration for the GCS store.
type GCSConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSStore keeps one JSON object per key. An object only becomes visible when
// its writer is closed, which gives wholesale replacement for free.
type GCSStore[V any] struct {
	bucket GCSBucketHandle
	prefix string
	logger zerolog.Logger
}

// NewGCSStore creates a new GCSStore over the given client.
func NewGCSStore[V any](client GCSClient, cfg *GCSConfig, logger zerolog.Logger) (*GCSStore[V], error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg == nil || cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	logger.Info().Str("bucket", cfg.BucketName).Str("prefix", cfg.ObjectPrefix).Msg("GCSStore initialized.")
	return &GCSStore[V]{
		bucket: client.Bucket(cfg.BucketName),
		prefix: cfg.ObjectPrefix,
		logger: logger.With().Str("component", "GCSStore").Logger(),
	}, nil
}

func (s *GCSStore[V]) objectName(key string) (string, error) {
	name, err := escapeKey(key)
	if err != nil {
		return "", err
	}
	return path.Join(s.prefix, name+".json"), nil
}

// Read downloads and decodes the object for key.
func (s *GCSStore[V]) Read(ctx context.Context, key string) (Entry[V], error) {
	var zero Entry[V]
	name, err := s.objectName(key)
	if err != nil {
		return zero, &StorageError{Op: "read", Key: key, Err: err}
	}
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return zero, ErrNotFound
		}
		s.logger.Error().Err(err).Str("object", name).Msg("Failed to open GCS object.")
		return zero, &StorageError{Op: "read", Key: key, Err: err}
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return zero, &StorageError{Op: "read", Key: key, Err: fmt.Errorf("read object %s: %w", name, err)}
	}
	return decodeEntry[V](key, data)
}

// Write uploads a new object for key, replacing the previous one.
func (s *GCSStore[V]) Write(ctx context.Context, key string, payload V, fetchedAt int64) error {
	name, err := s.objectName(key)
	if err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	data, err := encodeEntry(key, payload, fetchedAt)
	if err != nil {
		return err
	}

	w := s.bucket.Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return &StorageError{Op: "write", Key: key, Err: fmt.Errorf("write object %s: %w", name, err)}
	}
	// The upload is only committed on Close, so its error is the one that matters.
	if err := w.Close(); err != nil {
		s.logger.Error().Err(err).Str("object", name).Msg("Failed to commit GCS object.")
		return &StorageError{Op: "write", Key: key, Err: fmt.Errorf("close object %s: %w", name, err)}
	}
	s.logger.Debug().Str("object", name).Msg("Successfully uploaded record to GCS.")
	return nil
}

// Close is a no-op; the storage client is owned by the caller.
func (s *GCSStore[V]) Close() error {
	return nil
}
