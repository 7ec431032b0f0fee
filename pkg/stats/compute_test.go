package stats

import (
	"testing"

	dockertypes "github.com/docker/docker/api/types"
)

func cpuStats(total, system uint64, online uint32) dockertypes.CPUStats {
	return dockertypes.CPUStats{
		CPUUsage:    dockertypes.CPUUsage{TotalUsage: total},
		SystemUsage: system,
		OnlineCPUs:  online,
	}
}

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		name   string
		cpu    dockertypes.CPUStats
		precpu dockertypes.CPUStats
		want   float64
	}{
		{
			name:   "first sample reports zero",
			cpu:    cpuStats(500, 1000, 4),
			precpu: dockertypes.CPUStats{},
			want:   0,
		},
		{
			name:   "200 of 1000 across 4 cores",
			cpu:    cpuStats(1200, 2000, 4),
			precpu: cpuStats(1000, 1000, 4),
			want:   80,
		},
		{
			name:   "full single core",
			cpu:    cpuStats(2000, 2000, 1),
			precpu: cpuStats(1000, 1000, 1),
			want:   100,
		},
		{
			name:   "zero system delta reports zero",
			cpu:    cpuStats(1200, 1000, 4),
			precpu: cpuStats(1000, 1000, 4),
			want:   0,
		},
		{
			name:   "counter went backwards reports zero",
			cpu:    cpuStats(900, 2000, 4),
			precpu: cpuStats(1000, 1000, 4),
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CPUPercent(tt.cpu, tt.precpu)
			if got != tt.want {
				t.Errorf("CPUPercent() = %v, want %v", got, tt.want)
			}
			if got < 0 {
				t.Errorf("CPUPercent() = %v, must never be negative", got)
			}
		})
	}
}

func TestCPUPercentOnlineFallback(t *testing.T) {
	// OnlineCPUs missing, percpu slice present
	cpu := cpuStats(1200, 2000, 0)
	cpu.CPUUsage.PercpuUsage = []uint64{600, 600}
	got := CPUPercent(cpu, cpuStats(1000, 1000, 0))
	if got != 40 {
		t.Errorf("CPUPercent() with percpu fallback = %v, want 40", got)
	}

	// Both missing, assume one core
	got = CPUPercent(cpuStats(1200, 2000, 0), cpuStats(1000, 1000, 0))
	if got != 20 {
		t.Errorf("CPUPercent() with single-core fallback = %v, want 20", got)
	}
}

func TestMemoryUsage(t *testing.T) {
	tests := []struct {
		name     string
		mem      dockertypes.MemoryStats
		wantUsed uint64
	}{
		{
			name:     "no breakdown keys",
			mem:      dockertypes.MemoryStats{Usage: 4096, Limit: 8192},
			wantUsed: 4096,
		},
		{
			name: "cgroup v1 cache subtracted",
			mem: dockertypes.MemoryStats{
				Usage: 4096,
				Limit: 8192,
				Stats: map[string]uint64{"cache": 1024},
			},
			wantUsed: 3072,
		},
		{
			name: "cgroup v2 inactive_file subtracted",
			mem: dockertypes.MemoryStats{
				Usage: 4096,
				Limit: 8192,
				Stats: map[string]uint64{"inactive_file": 96},
			},
			wantUsed: 4000,
		},
		{
			name: "cache larger than usage is ignored",
			mem: dockertypes.MemoryStats{
				Usage: 1024,
				Limit: 8192,
				Stats: map[string]uint64{"cache": 2048},
			},
			wantUsed: 1024,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used, limit := MemoryUsage(tt.mem)
			if used != tt.wantUsed {
				t.Errorf("MemoryUsage() used = %d, want %d", used, tt.wantUsed)
			}
			if limit != tt.mem.Limit {
				t.Errorf("MemoryUsage() limit = %d, want %d", limit, tt.mem.Limit)
			}
		})
	}
}
