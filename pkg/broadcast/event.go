package broadcast

import (
	"time"

	"github.com/steamfleet/shepherd/pkg/types"
)

// Scope identifies what an event is about.
type Scope string

const (
	ScopeServer    Scope = "server"
	ScopeContainer Scope = "container"
	ScopeHost      Scope = "host"
)

// Kind is the event kind inside a scope.
type Kind string

const (
	KindStatus Kind = "status"
	KindStats  Kind = "stats"
	KindLog    Kind = "log"
)

// HostTarget is the target used for host-scoped events.
const HostTarget = "host"

// Event is the wire envelope pushed to observers. The set of valid
// scope/kind/payload combinations is closed; use the constructors below.
type Event struct {
	Type   string `json:"type"` // always "monitoring"
	Scope  Scope  `json:"scope"`
	Target string `json:"target"`
	Kind   Kind   `json:"event"`
	Data   any    `json:"data"`
}

// StatusPayload carries a server status change.
type StatusPayload struct {
	Status        types.ServerStatus  `json:"status"`
	DetectedState types.DetectedState `json:"detectedState"`
	CPUPercent    float64             `json:"CPU_USAGE"`
	Memory        types.MemoryUsage   `json:"MEMORY_USAGE"`
	Error         string              `json:"error,omitempty"`
}

// StatsPayload carries one processed resource sample.
type StatsPayload struct {
	Name       string            `json:"name"`
	CPUPercent float64           `json:"CPU_USAGE"`
	Memory     types.MemoryUsage `json:"MEMORY_USAGE"`
}

// LogPayload carries a matched startup-phase log line.
type LogPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewStatusEvent builds a server-scoped status event.
func NewStatusEvent(server string, p StatusPayload) *Event {
	return &Event{Type: "monitoring", Scope: ScopeServer, Target: server, Kind: KindStatus, Data: p}
}

// NewStatsEvent builds a container-scoped stats event.
func NewStatsEvent(server string, p StatsPayload) *Event {
	return &Event{Type: "monitoring", Scope: ScopeContainer, Target: server, Kind: KindStats, Data: p}
}

// NewHostStatsEvent builds a host-scoped stats event.
func NewHostStatsEvent(p StatsPayload) *Event {
	return &Event{Type: "monitoring", Scope: ScopeHost, Target: HostTarget, Kind: KindStats, Data: p}
}

// NewLogEvent builds a server-scoped log event.
func NewLogEvent(server string, p LogPayload) *Event {
	return &Event{Type: "monitoring", Scope: ScopeServer, Target: server, Kind: KindLog, Data: p}
}
