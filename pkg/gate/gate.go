// Package gate decides whether cached data may be reused and, when it may
// not, refreshes it from a remote source.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-krc20bot/pkg/cache"
	"github.com/rs/zerolog"
)

// Decision is the outcome of a freshness check.
type Decision int

const (
	// Absent means there is no usable entry: none was stored, or it could not be read.
	Absent Decision = iota
	// Stale means an entry exists but is older than the TTL.
	Stale
	// Fresh means the entry may be reused.
	Fresh
)

func (d Decision) String() string {
	switch d {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Gate checks entries in a Store against a caller-supplied TTL.
type Gate[V any] struct {
	store  cache.Store[V]
	logger zerolog.Logger
}

// NewGate creates a Gate over store.
func NewGate[V any](store cache.Store[V], logger zerolog.Logger) (*Gate[V], error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	return &Gate[V]{
		store:  store,
		logger: logger.With().Str("component", "FreshnessGate").Logger(),
	}, nil
}

// IsFresh reports whether the entry for key, judged at unix second now, is
// Fresh, Stale or Absent.
func (g *Gate[V]) IsFresh(ctx context.Context, key string, ttl time.Duration, now int64) Decision {
	d, _ := g.Check(ctx, key, ttl, now)
	return d
}

// Check is IsFresh that also hands back the entry it read. The entry is only
// meaningful when the decision is Fresh or Stale.
//
// A clock that moved backwards (now before FetchedAt) yields Fresh.
func (g *Gate[V]) Check(ctx context.Context, key string, ttl time.Duration, now int64) (Decision, cache.Entry[V]) {
	entry, err := g.store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			g.logger.Warn().Err(err).Str("key", key).Msg("Cached entry unreadable, treating as absent.")
		}
		return Absent, cache.Entry[V]{}
	}
	if now > entry.FetchedAt+int64(ttl/time.Second) {
		return Stale, entry
	}
	return Fresh, entry
}
