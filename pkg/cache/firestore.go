package cache

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreRecord is the document layout. The record is kept as its JSON
// encoding so arbitrary payload types survive without firestore tags.
type firestoreRecord struct {
	Record []byte `firestore:"record"`
}

// FirestoreStore keeps one document per key in a collection. It is suited to
// low volume deployments; use Redis for anything busier.
type FirestoreStore[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a new FirestoreStore. The client's lifecycle is
// managed by the caller.
func NewFirestoreStore[V any](cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore[V], error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, errors.New("firestore collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Read retrieves the document for key.
func (s *FirestoreStore[V]) Read(ctx context.Context, key string) (Entry[V], error) {
	var zero Entry[V]
	docID, err := escapeKey(key)
	if err != nil {
		return zero, &StorageError{Op: "read", Key: key, Err: err}
	}
	docSnap, err := s.client.Collection(s.collectionName).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return zero, ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return zero, &StorageError{Op: "read", Key: key, Err: err}
	}

	var doc firestoreRecord
	if err := docSnap.DataTo(&doc); err != nil {
		return zero, &StorageError{Op: "decode", Key: key, Err: fmt.Errorf("firestore DataTo: %w", err)}
	}
	return decodeEntry[V](key, doc.Record)
}

// Write sets the document for key, replacing any previous one.
func (s *FirestoreStore[V]) Write(ctx context.Context, key string, payload V, fetchedAt int64) error {
	docID, err := escapeKey(key)
	if err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	data, err := encodeEntry(key, payload, fetchedAt)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collectionName).Doc(docID).Set(ctx, firestoreRecord{Record: data}); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	s.logger.Debug().Str("key", key).Msg("Successfully wrote document to Firestore.")
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore[V]) Close() error {
	return nil
}
