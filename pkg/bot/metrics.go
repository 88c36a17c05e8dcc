package bot

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commands *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "krc20bot_commands_total",
		Help: "Commands handled per command name and reply status.",
	}, []string{"command", "status"})
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		c = existing
	}
	return &metrics{commands: c}, nil
}

func (m *metrics) command(name, status string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, status).Inc()
}
