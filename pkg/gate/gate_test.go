package gate_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-krc20bot/pkg/cache"
	"github.com/illmade-knight/go-krc20bot/pkg/gate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mintStatus struct {
	Minted string `json:"minted"`
	Max    string `json:"max"`
}

const statusTTL = 300 * time.Second

func TestNewGate_NilStore(t *testing.T) {
	_, err := gate.NewGate[mintStatus](nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestGate_IsFresh(t *testing.T) {
	ctx := context.Background()

	t.Run("No entry is Absent regardless of ttl", func(t *testing.T) {
		g, err := gate.NewGate[mintStatus](cache.NewInMemoryStore[mintStatus](0), zerolog.Nop())
		require.NoError(t, err)

		for _, ttl := range []time.Duration{0, time.Second, statusTTL, 24 * time.Hour} {
			assert.Equal(t, gate.Absent, g.IsFresh(ctx, "NACHO", ttl, 1000), "ttl %v", ttl)
		}
	})

	t.Run("Fresh within [T, T+ttl], Stale after", func(t *testing.T) {
		store := cache.NewInMemoryStore[mintStatus](0)
		require.NoError(t, store.Write(ctx, "NACHO", mintStatus{Minted: "500", Max: "1000"}, 1000))
		g, err := gate.NewGate[mintStatus](store, zerolog.Nop())
		require.NoError(t, err)

		assert.Equal(t, gate.Fresh, g.IsFresh(ctx, "NACHO", statusTTL, 1000))
		assert.Equal(t, gate.Fresh, g.IsFresh(ctx, "NACHO", statusTTL, 1200))
		assert.Equal(t, gate.Fresh, g.IsFresh(ctx, "NACHO", statusTTL, 1300))
		assert.Equal(t, gate.Stale, g.IsFresh(ctx, "NACHO", statusTTL, 1301))
		assert.Equal(t, gate.Stale, g.IsFresh(ctx, "NACHO", statusTTL, 1400))
	})

	t.Run("Clock behind the entry is Fresh", func(t *testing.T) {
		store := cache.NewInMemoryStore[mintStatus](0)
		require.NoError(t, store.Write(ctx, "NACHO", mintStatus{}, 1000))
		g, err := gate.NewGate[mintStatus](store, zerolog.Nop())
		require.NoError(t, err)

		assert.Equal(t, gate.Fresh, g.IsFresh(ctx, "NACHO", statusTTL, 500))
	})

	t.Run("Corrupt entry is Absent", func(t *testing.T) {
		dir := t.TempDir()
		store, err := cache.NewFileStore[mintStatus](&cache.FileConfig{Dir: dir}, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "NACHO.json"), []byte(`{"version":1,"fetchedAt":`), 0o644))
		g, err := gate.NewGate[mintStatus](store, zerolog.Nop())
		require.NoError(t, err)

		assert.Equal(t, gate.Absent, g.IsFresh(ctx, "NACHO", statusTTL, 1000))
	})

	t.Run("Check returns the entry it judged", func(t *testing.T) {
		store := cache.NewInMemoryStore[mintStatus](0)
		payload := mintStatus{Minted: "500", Max: "1000"}
		require.NoError(t, store.Write(ctx, "NACHO", payload, 1000))
		g, err := gate.NewGate[mintStatus](store, zerolog.Nop())
		require.NoError(t, err)

		d, entry := g.Check(ctx, "NACHO", statusTTL, 1400)

		assert.Equal(t, gate.Stale, d)
		assert.Equal(t, payload, entry.Payload)
		assert.Equal(t, int64(1000), entry.FetchedAt)
	})
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "absent", gate.Absent.String())
	assert.Equal(t, "stale", gate.Stale.String())
	assert.Equal(t, "fresh", gate.Fresh.String())
}
