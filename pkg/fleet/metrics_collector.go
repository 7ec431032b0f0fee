package fleet

import (
	"time"

	"github.com/steamfleet/shepherd/pkg/metrics"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/types"
)

// MetricsCollector mirrors the state store into Prometheus gauges
type MetricsCollector struct {
	store  state.Store
	stopCh chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(store state.Store) *MetricsCollector {
	return &MetricsCollector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectServerMetrics()
	c.collectHostMetrics()
}

func (c *MetricsCollector) collectServerMetrics() {
	statuses := c.store.Statuses()

	counts := make(map[types.ServerStatus]int)
	for name, st := range statuses {
		counts[st.Status]++
		metrics.ServerCPUPercent.WithLabelValues(name).Set(st.CPUPercent)
		metrics.ServerMemoryUsedBytes.WithLabelValues(name).Set(float64(st.Memory.Used))
	}

	for _, status := range []types.ServerStatus{
		types.StatusOff, types.StatusStartup, types.StatusRunning, types.StatusError, types.StatusUnknown,
	} {
		metrics.ServersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *MetricsCollector) collectHostMetrics() {
	host := c.store.HostStats()
	metrics.HostCPUPercent.Set(host.CPUPercent)
	metrics.HostMemoryUsedBytes.Set(float64(host.Memory.Used))
	metrics.HostMemoryTotalBytes.Set(float64(host.Memory.Total))
}
