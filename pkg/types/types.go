package types

import (
	"time"
)

// ServerIdentity describes a logical game server. Ports and cluster id are
// assigned once when the server is provisioned and never change for the life
// of the record.
type ServerIdentity struct {
	Name       string   `json:"name" yaml:"name"`
	Map        string   `json:"map" yaml:"map"`
	Port       int      `json:"port" yaml:"port"`
	RconPort   int      `json:"rcon_port" yaml:"rcon_port"`
	ClusterID  string   `json:"cluster_id" yaml:"cluster_id"`
	MaxPlayers int      `json:"max_players" yaml:"max_players"`
	Mods       []string `json:"mods,omitempty" yaml:"mods,omitempty"`
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// ServerStatus is the externally visible status of a server.
type ServerStatus string

const (
	StatusOff     ServerStatus = "off"
	StatusStartup ServerStatus = "startup"
	StatusRunning ServerStatus = "running"
	StatusError   ServerStatus = "error"
	StatusUnknown ServerStatus = "unknown"
)

// DetectedState is the fine-grained state tracked by the startup monitor.
type DetectedState string

const (
	StateOff           DetectedState = "off"
	StateStarting      DetectedState = "starting"
	StateBootstrapping DetectedState = "bootstrapping"
	StateGameStarting  DetectedState = "gameStarting"
	StateRunning       DetectedState = "running"
	StateFailed        DetectedState = "failed"
)

// Status maps a detected state to the server status broadcast to observers.
func (s DetectedState) Status() ServerStatus {
	switch s {
	case StateOff:
		return StatusOff
	case StateStarting, StateBootstrapping, StateGameStarting:
		return StatusStartup
	case StateRunning:
		return StatusRunning
	case StateFailed:
		return StatusError
	default:
		return StatusUnknown
	}
}

// MemoryUsage is a used/total pair in bytes.
type MemoryUsage struct {
	Used  uint64 `json:"used"`
	Total uint64 `json:"total"`
}

// RuntimeStatus is the mutable per-server record held by the state store.
// Created lazily on first observation and overwritten in place afterwards.
type RuntimeStatus struct {
	Status        ServerStatus  `json:"status"`
	DetectedState DetectedState `json:"detectedState"`
	CPUPercent    float64       `json:"CPU_USAGE"`
	Memory        MemoryUsage   `json:"MEMORY_USAGE"`
	Error         string        `json:"error,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ContainerStats is one processed resource sample for a server's container.
type ContainerStats struct {
	Name       string      `json:"name"`
	CPUPercent float64     `json:"CPU_USAGE"`
	Memory     MemoryUsage `json:"MEMORY_USAGE"`
	SampledAt  time.Time   `json:"sampled_at"`
}

// HostStats is the process-wide host resource sample.
type HostStats struct {
	CPUPercent float64     `json:"CPU_USAGE"`
	Memory     MemoryUsage `json:"MEMORY_USAGE"`
	SampledAt  time.Time   `json:"sampled_at"`
}

// ResolvedStatus is the reconciler's answer for one server: the cached state
// merged with the result of a live probe.
type ResolvedStatus struct {
	Name          string        `json:"name"`
	Status        ServerStatus  `json:"status"`
	DetectedState DetectedState `json:"detectedState"`
	CPUPercent    float64       `json:"CPU_USAGE"`
	Memory        MemoryUsage   `json:"MEMORY_USAGE"`
	Players       *int          `json:"players,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// FleetOverview is the payload backing the getAllStatuses action.
type FleetOverview struct {
	Servers map[string]ResolvedStatus `json:"servers"`
	Host    HostStats                 `json:"hostStats"`
}
