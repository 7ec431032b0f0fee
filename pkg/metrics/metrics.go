// Package metrics exposes fleet health as Prometheus gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	ServersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shepherd_servers_total",
			Help: "Number of servers by status",
		},
		[]string{"status"},
	)

	ServerCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shepherd_server_cpu_percent",
			Help: "Last-known CPU percentage per server",
		},
		[]string{"server"},
	)

	ServerMemoryUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shepherd_server_memory_used_bytes",
			Help: "Last-known memory usage per server",
		},
		[]string{"server"},
	)

	// Host metrics
	HostCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shepherd_host_cpu_percent",
			Help: "Aggregate host CPU percentage",
		},
	)

	HostMemoryUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shepherd_host_memory_used_bytes",
			Help: "Host memory usage in bytes",
		},
	)

	HostMemoryTotalBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shepherd_host_memory_total_bytes",
			Help: "Host memory capacity in bytes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ServersTotal,
		ServerCPUPercent,
		ServerMemoryUsedBytes,
		HostCPUPercent,
		HostMemoryUsedBytes,
		HostMemoryTotalBytes,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
