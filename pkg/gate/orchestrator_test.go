package gate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-krc20bot/pkg/cache"
	"github.com/illmade-knight/go-krc20bot/pkg/gate"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher is a test double for the remote source.
type mockFetcher struct {
	calls     atomic.Int32
	FetchFunc func(ctx context.Context, key string) (mintStatus, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, key string) (mintStatus, error) {
	m.calls.Add(1)
	return m.FetchFunc(ctx, key)
}

// storeWrapper lets tests observe reads and fail writes on an underlying store.
type storeWrapper struct {
	cache.Store[mintStatus]
	reads    atomic.Int32
	writeErr error
}

func (s *storeWrapper) Read(ctx context.Context, key string) (cache.Entry[mintStatus], error) {
	s.reads.Add(1)
	return s.Store.Read(ctx, key)
}

func (s *storeWrapper) Write(ctx context.Context, key string, payload mintStatus, fetchedAt int64) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.Store.Write(ctx, key, payload, fetchedAt)
}

func newOrchestrator(t *testing.T, store cache.Store[mintStatus], fetcher *mockFetcher, clock clockwork.Clock, metrics *gate.Metrics) *gate.Orchestrator[mintStatus] {
	t.Helper()
	o, err := gate.NewOrchestrator[mintStatus](
		gate.OrchestratorConfig{Inquiry: "status", FetchTimeout: 5 * time.Second},
		store,
		fetcher.Fetch,
		clock,
		metrics,
		zerolog.Nop(),
	)
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_Validation(t *testing.T) {
	store := cache.NewInMemoryStore[mintStatus](0)

	_, err := gate.NewOrchestrator[mintStatus](gate.OrchestratorConfig{}, store, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	fetch := func(ctx context.Context, key string) (mintStatus, error) { return mintStatus{}, nil }
	_, err = gate.NewOrchestrator[mintStatus](gate.OrchestratorConfig{}, nil, fetch, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

// TestOrchestrator_Scenarios walks one key through first fetch, reuse, and a
// failed refresh after the TTL has passed.
func TestOrchestrator_Scenarios(t *testing.T) {
	ctx := context.Background()
	const key = "NACHO"
	payload := mintStatus{Minted: "500", Max: "1000"}
	fetchErr := errors.New("api unreachable")

	clock := clockwork.NewFakeClockAt(time.Unix(1000, 0))
	store := cache.NewInMemoryStore[mintStatus](0)
	failNext := false
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, k string) (mintStatus, error) {
		if failNext {
			return mintStatus{}, fetchErr
		}
		return payload, nil
	}}
	o := newOrchestrator(t, store, fetcher, clock, nil)

	t.Run("A: no prior entry fetches and persists", func(t *testing.T) {
		got, err := o.Get(ctx, key, statusTTL)

		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Equal(t, int32(1), fetcher.calls.Load())

		entry, err := store.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, cache.Entry[mintStatus]{Payload: payload, FetchedAt: 1000}, entry)
	})

	t.Run("B: within the TTL reuses the cached payload", func(t *testing.T) {
		clock.Advance(200 * time.Second)

		got, err := o.Get(ctx, key, statusTTL)

		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Equal(t, int32(1), fetcher.calls.Load(), "source should not be called on a cache hit")
	})

	t.Run("C: past the TTL refetches, and a failure leaves the store untouched", func(t *testing.T) {
		clock.Advance(200 * time.Second)
		failNext = true

		_, err := o.Get(ctx, key, statusTTL)

		require.Error(t, err)
		assert.Equal(t, fetchErr, err, "fetch error should be returned unchanged")
		assert.Equal(t, int32(2), fetcher.calls.Load())

		entry, err := store.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, cache.Entry[mintStatus]{Payload: payload, FetchedAt: 1000}, entry)
	})

	t.Run("Successful refresh records the new timestamp", func(t *testing.T) {
		failNext = false

		_, err := o.Get(ctx, key, statusTTL)

		require.NoError(t, err)
		entry, err := store.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1400), entry.FetchedAt)
	})
}

func TestOrchestrator_CorruptEntryBehavesLikeAbsent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := cache.NewFileStore[mintStatus](&cache.FileConfig{Dir: dir}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NACHO.json"), []byte("not-json"), 0o644))

	payload := mintStatus{Minted: "1", Max: "2"}
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) { return payload, nil }}
	o := newOrchestrator(t, store, fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), nil)

	got, err := o.Get(ctx, "NACHO", statusTTL)

	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	entry, err := store.Read(ctx, "NACHO")
	require.NoError(t, err, "the corrupt record should have been replaced")
	assert.Equal(t, int64(1000), entry.FetchedAt)
}

func TestOrchestrator_Idempotence(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) {
		return mintStatus{Minted: key}, nil
	}}
	o := newOrchestrator(t, cache.NewInMemoryStore[mintStatus](0), fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), nil)

	first, err := o.Get(ctx, "NACHO", 24*time.Hour)
	require.NoError(t, err)
	second, err := o.Get(ctx, "NACHO", 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestOrchestrator_EmptyPayloadIsCached(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) {
		return mintStatus{}, nil
	}}
	store := cache.NewInMemoryStore[mintStatus](0)
	o := newOrchestrator(t, store, fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), nil)

	_, err := o.Get(ctx, "UNKNOWN", statusTTL)
	require.NoError(t, err)
	_, err = o.Get(ctx, "UNKNOWN", statusTTL)
	require.NoError(t, err)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1, store.Len())
}

func TestOrchestrator_WriteFailureStillReturnsPayload(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := gate.NewMetrics(reg)
	require.NoError(t, err)

	store := &storeWrapper{
		Store:    cache.NewInMemoryStore[mintStatus](0),
		writeErr: &cache.StorageError{Op: "write", Key: "NACHO", Err: errors.New("disk full")},
	}
	payload := mintStatus{Minted: "500", Max: "1000"}
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) { return payload, nil }}
	o := newOrchestrator(t, store, fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), metrics)

	got, err := o.Get(ctx, "NACHO", statusTTL)

	require.NoError(t, err)
	assert.Equal(t, payload, got)

	expected := `
# HELP krc20bot_cache_write_failures_total Fetched payloads that could not be persisted.
# TYPE krc20bot_cache_write_failures_total counter
krc20bot_cache_write_failures_total{inquiry="status"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "krc20bot_cache_write_failures_total"))

	// Nothing was persisted, so the next call has to fetch again.
	_, err = o.Get(ctx, "NACHO", statusTTL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestOrchestrator_FetcherPanicIsAnError(t *testing.T) {
	ctx := context.Background()
	store := cache.NewInMemoryStore[mintStatus](0)
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) {
		panic("boom")
	}}
	o := newOrchestrator(t, store, fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), nil)

	_, err := o.Get(ctx, "NACHO", statusTTL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 0, store.Len())
}

func TestOrchestrator_ConcurrentMissesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	const callers = 8

	release := make(chan struct{})
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) {
		<-release
		return mintStatus{Minted: "42"}, nil
	}}
	store := &storeWrapper{Store: cache.NewInMemoryStore[mintStatus](0)}
	o := newOrchestrator(t, store, fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), nil)

	var wg sync.WaitGroup
	results := make(chan mintStatus, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := o.Get(ctx, "NACHO", statusTTL)
			assert.NoError(t, err)
			results <- got
		}()
	}

	require.Eventually(t, func() bool { return store.reads.Load() == callers }, time.Second, 5*time.Millisecond)
	// Give every caller time to move from the freshness check to the shared fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), fetcher.calls.Load(), "concurrent misses for one key should share a fetch")
	for got := range results {
		assert.Equal(t, "42", got.Minted)
	}
}

func TestOrchestrator_AbandonedCallStillPersists(t *testing.T) {
	release := make(chan struct{})
	var fetchCtxErr atomic.Value
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) {
		<-release
		fetchCtxErr.Store(ctx.Err() == nil)
		return mintStatus{Minted: "7"}, nil
	}}
	store := cache.NewInMemoryStore[mintStatus](0)
	o := newOrchestrator(t, store, fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), nil)

	callerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Get(callerCtx, "NACHO", statusTTL)
		done <- err
	}()

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, err := store.Read(context.Background(), "NACHO")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, true, fetchCtxErr.Load(), "the fetch should not see the caller's cancellation")
}

func TestOrchestrator_DistinctKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, key string) (mintStatus, error) {
		if key == "BAD" {
			return mintStatus{}, errors.New("not found")
		}
		return mintStatus{Minted: key}, nil
	}}
	store := cache.NewInMemoryStore[mintStatus](0)
	o := newOrchestrator(t, store, fetcher, clockwork.NewFakeClockAt(time.Unix(1000, 0)), nil)

	_, err := o.Get(ctx, "BAD", statusTTL)
	require.Error(t, err)
	got, err := o.Get(ctx, "NACHO", statusTTL)
	require.NoError(t, err)

	assert.Equal(t, "NACHO", got.Minted)
	_, err = store.Read(ctx, "BAD")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestNewMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := gate.NewMetrics(reg)
	require.NoError(t, err)
	_, err = gate.NewMetrics(reg)
	assert.NoError(t, err, "a second set of metrics on the same registry should reuse the counters")
}
