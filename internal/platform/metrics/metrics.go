// Package metrics builds the process-wide Prometheus registry. Gate
// collectors are registered on it by internal/gate/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry with the Go runtime and process collectors
// and a votegate_build_info gauge labelled with version.
func NewRegistry(version string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "votegate_build_info",
		Help: "Build information of the running binary",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)
	return reg
}
