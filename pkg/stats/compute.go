package stats

import (
	dockertypes "github.com/docker/docker/api/types"
)

// CPUPercent computes a multi-core-aware CPU percentage from one raw
// snapshot's current and previous counters:
//
//	(cpuUsageDelta / systemUsageDelta) * onlineCPUs * 100
//
// The first sample after attach has no previous counters and must report 0,
// as must any sample with non-positive deltas. Never NaN, never negative.
func CPUPercent(cpu, precpu dockertypes.CPUStats) float64 {
	if precpu.SystemUsage == 0 {
		return 0
	}

	cpuDelta := int64(cpu.CPUUsage.TotalUsage) - int64(precpu.CPUUsage.TotalUsage)
	systemDelta := int64(cpu.SystemUsage) - int64(precpu.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}

	online := float64(cpu.OnlineCPUs)
	if online == 0 {
		online = float64(len(cpu.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		online = 1
	}

	return float64(cpuDelta) / float64(systemDelta) * online * 100
}

// MemoryUsage extracts used and limit bytes from a raw snapshot. Page-cache
// bytes are subtracted when the kernel reports them, giving a closer "live"
// figure (cgroup v1 reports "cache", v2 "inactive_file").
func MemoryUsage(mem dockertypes.MemoryStats) (used, limit uint64) {
	used = mem.Usage
	for _, key := range []string{"cache", "total_inactive_file", "inactive_file"} {
		if cache, ok := mem.Stats[key]; ok && cache < used {
			used -= cache
			break
		}
	}
	return used, mem.Limit
}
