package gate

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters exported by orchestrators. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	lookups       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg. Counters that
// are already registered (e.g. by a second orchestrator sharing reg) are
// reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krc20bot_cache_lookups_total",
			Help: "Freshness decisions taken per inquiry kind.",
		}, []string{"inquiry", "decision"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krc20bot_remote_fetches_total",
			Help: "Remote fetches per inquiry kind and result.",
		}, []string{"inquiry", "result"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krc20bot_cache_write_failures_total",
			Help: "Fetched payloads that could not be persisted.",
		}, []string{"inquiry"}),
	}
	var err error
	if m.lookups, err = register(reg, m.lookups); err != nil {
		return nil, err
	}
	if m.fetches, err = register(reg, m.fetches); err != nil {
		return nil, err
	}
	if m.writeFailures, err = register(reg, m.writeFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) lookup(inquiry string, d Decision) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(inquiry, d.String()).Inc()
}

func (m *Metrics) fetch(inquiry, result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(inquiry, result).Inc()
}

func (m *Metrics) writeFailure(inquiry string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(inquiry).Inc()
}
