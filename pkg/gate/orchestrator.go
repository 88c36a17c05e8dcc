package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-krc20bot/pkg/cache"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/illmade-knight/go-krc20bot/pkg/gate"

// Fetcher produces a fresh payload for a key from the remote source.
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// OrchestratorConfig holds configuration for an Orchestrator.
type OrchestratorConfig struct {
	// Inquiry names the kind of data served, e.g. "status". Used in logs and metrics.
	Inquiry string
	// FetchTimeout bounds a remote fetch. Zero means no bound beyond the fetcher's own.
	FetchTimeout time.Duration
	// WriteTimeout bounds the store write after a fetch. Zero means no bound.
	WriteTimeout time.Duration
	// TracerProvider supplies the tracer for Get spans. Nil means the global provider.
	TracerProvider trace.TracerProvider
}

// Orchestrator is the single procedure command handlers call to obtain the
// current payload for a key. It reuses fresh entries and otherwise fetches,
// persists and returns a new payload.
//
// Concurrent refreshes of the same key share one fetch. A refresh outlives the
// caller that started it: abandoning Get does not cancel the fetch or the
// write, since the result is still worth keeping.
type Orchestrator[V any] struct {
	cfg     OrchestratorConfig
	gate    *Gate[V]
	store   cache.Store[V]
	fetch   Fetcher[V]
	clock   clockwork.Clock
	metrics *Metrics
	tracer  trace.Tracer
	logger  zerolog.Logger
	group   singleflight.Group
}

// NewOrchestrator creates an Orchestrator. A nil clock means the real clock;
// metrics may be nil.
func NewOrchestrator[V any](
	cfg OrchestratorConfig,
	store cache.Store[V],
	fetch Fetcher[V],
	clock clockwork.Clock,
	metrics *Metrics,
	logger zerolog.Logger,
) (*Orchestrator[V], error) {
	if fetch == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	g, err := NewGate(store, logger)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Inquiry == "" {
		cfg.Inquiry = "default"
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Orchestrator[V]{
		cfg:     cfg,
		gate:    g,
		store:   store,
		fetch:   fetch,
		clock:   clock,
		metrics: metrics,
		tracer:  tp.Tracer(tracerName),
		logger:  logger.With().Str("component", "Orchestrator").Str("inquiry", cfg.Inquiry).Logger(),
	}, nil
}

// Get returns the payload for key, reusing the cached entry if it is no older
// than ttl. Fetch errors are returned unchanged; store errors never are.
func (o *Orchestrator[V]) Get(ctx context.Context, key string, ttl time.Duration) (V, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Get", trace.WithAttributes(
		attribute.String("krc20bot.inquiry", o.cfg.Inquiry),
		attribute.String("krc20bot.key", key),
	))
	defer span.End()

	now := o.clock.Now().Unix()

	decision, entry := o.gate.Check(ctx, key, ttl, now)
	o.metrics.lookup(o.cfg.Inquiry, decision)
	span.SetAttributes(attribute.String("krc20bot.decision", decision.String()))
	if decision == Fresh {
		o.logger.Debug().Str("key", key).Int64("fetched_at", entry.FetchedAt).Msg("Cache hit.")
		return entry.Payload, nil
	}
	o.logger.Debug().Str("key", key).Stringer("decision", decision).Msg("Cache miss. Fetching from source.")

	payload, err := o.refresh(ctx, key, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return payload, err
}

// refresh fetches and persists key, collapsing concurrent refreshes of the
// same key into one call whose result every waiter receives.
func (o *Orchestrator[V]) refresh(ctx context.Context, key string, now int64) (V, error) {
	var zero V
	detached := context.WithoutCancel(ctx)

	ch := o.group.DoChan(key, func() (any, error) {
		payload, err := o.fetchOnce(detached, key)
		if err != nil {
			o.metrics.fetch(o.cfg.Inquiry, "error")
			return nil, err
		}
		o.metrics.fetch(o.cfg.Inquiry, "ok")
		o.persist(detached, key, payload, now)
		return payload, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		payload, _ := res.Val.(V)
		return payload, nil
	case <-ctx.Done():
		o.logger.Warn().Str("key", key).Msg("Caller gave up before the refresh finished.")
		return zero, ctx.Err()
	}
}

// fetchOnce calls the fetcher under FetchTimeout, turning a panic into an error.
func (o *Orchestrator[V]) fetchOnce(ctx context.Context, key string) (payload V, err error) {
	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Str("key", key).Msg("Fetcher panicked.")
			err = fmt.Errorf("fetcher panicked for key '%s': %v", key, r)
		}
	}()

	payload, err = o.fetch(ctx, key)
	if err != nil {
		o.logger.Error().Err(err).Str("key", key).Msg("Error fetching from source.")
	}
	return payload, err
}

// persist writes a fetched payload. Failure is reported through logs and
// metrics only; the caller still receives the payload.
func (o *Orchestrator[V]) persist(ctx context.Context, key string, payload V, fetchedAt int64) {
	if o.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.WriteTimeout)
		defer cancel()
	}
	if err := o.store.Write(ctx, key, payload, fetchedAt); err != nil {
		o.metrics.writeFailure(o.cfg.Inquiry)
		o.logger.Error().Err(err).Str("key", key).Msg("Failed to write fetched payload to cache.")
		return
	}
	o.logger.Debug().Str("key", key).Int64("fetched_at", fetchedAt).Msg("Source hit. Cache updated.")
}
