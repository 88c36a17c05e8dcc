package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces every key, e.g. "krc20:status:".
	KeyPrefix string
	// Retention, when positive, is set as the Redis expiry of each record so
	// abandoned keys are eventually cleaned up. Freshness is never derived
	// from it.
	Retention time.Duration
}

// RedisStore is a Store backed by Redis string values.
type RedisStore[V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	prefix      string
	retention   time.Duration
}

// NewRedisStore creates and connects a new RedisStore.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisStore[V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore[V], error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Str("key_prefix", cfg.KeyPrefix).Msg("Successfully connected to Redis.")

	return &RedisStore[V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
		prefix:      cfg.KeyPrefix,
		retention:   cfg.Retention,
	}, nil
}

// Read fetches and decodes the record for key. redis.Nil maps to ErrNotFound.
func (s *RedisStore[V]) Read(ctx context.Context, key string) (Entry[V], error) {
	var zero Entry[V]
	data, err := s.redisClient.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during read.")
		return zero, &StorageError{Op: "read", Key: key, Err: err}
	}
	entry, err := decodeEntry[V](key, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to decode cached record.")
		return zero, err
	}
	return entry, nil
}

// Write replaces the record for key with a single SET.
func (s *RedisStore[V]) Write(ctx context.Context, key string, payload V, fetchedAt int64) error {
	data, err := encodeEntry(key, payload, fetchedAt)
	if err != nil {
		return err
	}
	if err := s.redisClient.Set(ctx, s.prefix+key, data, s.retention).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set record in Redis.")
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	s.logger.Debug().Str("key", key).Msg("Successfully stored record in Redis.")
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore[V]) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
