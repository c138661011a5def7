package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry pairs a Metrics instance with its own registry, for batch runs
// that export once at exit instead of serving /metrics.
type Registry struct {
	*Metrics
	reg *prometheus.Registry
}

// NewRegistry creates metrics registered with a fresh registry.
func NewRegistry() (*Registry, error) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	return &Registry{Metrics: m, reg: reg}, nil
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes every metric in text exposition format, atomically,
// for the node exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
