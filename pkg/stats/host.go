package stats

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/types"
)

// HostSampler periodically samples host-level CPU and memory, independent of
// any container. CPU percentage comes from idle/total tick deltas between
// consecutive samples, so the first tick only seeds the baseline.
type HostSampler struct {
	store    state.Store
	interval time.Duration
	stopCh   chan struct{}

	prev    cpu.TimesStat
	hasPrev bool
}

// NewHostSampler creates a sampler writing to store every interval.
func NewHostSampler(store state.Store, interval time.Duration) *HostSampler {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &HostSampler{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling
func (h *HostSampler) Start() {
	ticker := time.NewTicker(h.interval)
	go func() {
		// Seed the CPU baseline immediately
		h.sample()

		for {
			select {
			case <-ticker.C:
				h.sample()
			case <-h.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the sampler
func (h *HostSampler) Stop() {
	close(h.stopCh)
}

func (h *HostSampler) sample() {
	logger := log.WithComponent("host-stats")

	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		logger.Warn().Err(err).Msg("failed to read host cpu times")
		return
	}

	cpuPct := 0.0
	if h.hasPrev {
		cpuPct = cpuPercentFromTimes(h.prev, times[0])
	}
	h.prev = times[0]
	h.hasPrev = true

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read host memory")
		return
	}

	h.store.SetHostStats(types.HostStats{
		CPUPercent: cpuPct,
		Memory:     types.MemoryUsage{Used: vm.Used, Total: vm.Total},
		SampledAt:  time.Now(),
	})
}

// cpuPercentFromTimes computes aggregate busy percentage from two
// consecutive tick readings. Non-positive deltas yield 0.
func cpuPercentFromTimes(prev, cur cpu.TimesStat) float64 {
	prevTotal := cpuTotal(prev)
	curTotal := cpuTotal(cur)

	totalDelta := curTotal - prevTotal
	idleDelta := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	if totalDelta <= 0 {
		return 0
	}

	busy := totalDelta - idleDelta
	if busy <= 0 {
		return 0
	}
	return busy / totalDelta * 100
}

func cpuTotal(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}
