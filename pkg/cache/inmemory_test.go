package cache_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-krc20bot/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenSummary struct {
	Tick   string `json:"tick"`
	Minted string `json:"minted"`
	Max    string `json:"max"`
}

func TestInMemoryStore_ReadWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("Absent key", func(t *testing.T) {
		s := cache.NewInMemoryStore[tokenSummary](0)

		_, err := s.Read(ctx, "NACHO")

		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Round trip", func(t *testing.T) {
		s := cache.NewInMemoryStore[tokenSummary](0)
		payload := tokenSummary{Tick: "NACHO", Minted: "500", Max: "1000"}

		require.NoError(t, s.Write(ctx, "NACHO", payload, 1000))
		entry, err := s.Read(ctx, "NACHO")

		require.NoError(t, err)
		assert.Equal(t, cache.Entry[tokenSummary]{Payload: payload, FetchedAt: 1000}, entry)
	})

	t.Run("Write replaces wholesale", func(t *testing.T) {
		s := cache.NewInMemoryStore[tokenSummary](0)
		require.NoError(t, s.Write(ctx, "NACHO", tokenSummary{Tick: "NACHO", Minted: "1"}, 1000))
		require.NoError(t, s.Write(ctx, "NACHO", tokenSummary{Tick: "NACHO", Max: "2"}, 1300))

		entry, err := s.Read(ctx, "NACHO")

		require.NoError(t, err)
		assert.Equal(t, tokenSummary{Tick: "NACHO", Max: "2"}, entry.Payload)
		assert.Equal(t, int64(1300), entry.FetchedAt)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("Corrupt record is a storage error", func(t *testing.T) {
		s := cache.NewInMemoryStore[tokenSummary](0)
		cache.PutRaw(s, "NACHO", []byte("{not json"))

		_, err := s.Read(ctx, "NACHO")

		var storageErr *cache.StorageError
		require.ErrorAs(t, err, &storageErr)
		assert.Equal(t, "decode", storageErr.Op)
		assert.NotErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Unknown record version is a storage error", func(t *testing.T) {
		s := cache.NewInMemoryStore[tokenSummary](0)
		cache.PutRaw(s, "NACHO", []byte(`{"version":7,"fetchedAt":1,"payload":{}}`))

		_, err := s.Read(ctx, "NACHO")

		var storageErr *cache.StorageError
		assert.ErrorAs(t, err, &storageErr)
	})
}

func TestInMemoryStore_Eviction(t *testing.T) {
	ctx := context.Background()
	s := cache.NewInMemoryStore[int](2)

	require.NoError(t, s.Write(ctx, "key1", 1, 10))
	require.NoError(t, s.Write(ctx, "key2", 2, 10))

	// Touch key1 so key2 becomes the least recently used.
	_, err := s.Read(ctx, "key1")
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "key3", 3, 10))

	assert.Equal(t, 2, s.Len())
	_, err = s.Read(ctx, "key2")
	assert.ErrorIs(t, err, cache.ErrNotFound, "key2 should have been evicted")

	entry, err := s.Read(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Payload)
}
