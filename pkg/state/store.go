// Package state holds the in-memory, process-wide view of fleet health:
// per-server runtime status, per-container stats, and host stats. It is the
// single source of truth read by every other component, and every observable
// change is published through the broadcast broker.
package state

import (
	"sync"
	"time"

	"github.com/steamfleet/shepherd/pkg/broadcast"
	"github.com/steamfleet/shepherd/pkg/types"
)

// Store is the shared state component. It is injectable so tests can use
// isolated instances instead of a package-level singleton.
type Store interface {
	// Status returns the runtime status for a server, if one has been
	// observed yet.
	Status(name string) (types.RuntimeStatus, bool)

	// Statuses returns a copy of all runtime status entries.
	Statuses() map[string]types.RuntimeStatus

	// SetState records a detected-state transition for a server. The
	// externally visible status is derived from the state; last-known
	// resource figures are preserved.
	SetState(name string, state types.DetectedState, errDetail string)

	// SetContainerStats overwrites the stats record for a server.
	ContainerStats(name string) (types.ContainerStats, bool)
	SetContainerStats(name string, stats types.ContainerStats)

	// HostStats returns the last host sample.
	HostStats() types.HostStats
	SetHostStats(stats types.HostStats)
}

// memoryStore is the process-wide Store implementation.
type memoryStore struct {
	mu       sync.RWMutex
	statuses map[string]types.RuntimeStatus
	stats    map[string]types.ContainerStats
	host     types.HostStats
	broker   *broadcast.Broker
}

// NewStore creates an empty store publishing changes to broker. A nil broker
// disables publishing (useful in tests that only exercise storage).
func NewStore(broker *broadcast.Broker) Store {
	return &memoryStore{
		statuses: make(map[string]types.RuntimeStatus),
		stats:    make(map[string]types.ContainerStats),
		broker:   broker,
	}
}

func (s *memoryStore) Status(name string) (types.RuntimeStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[name]
	return st, ok
}

func (s *memoryStore) Statuses() map[string]types.RuntimeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.RuntimeStatus, len(s.statuses))
	for name, st := range s.statuses {
		out[name] = st
	}
	return out
}

func (s *memoryStore) SetState(name string, state types.DetectedState, errDetail string) {
	s.mu.Lock()
	entry := s.statuses[name] // zero value on first observation
	changed := entry.DetectedState != state || entry.Error != errDetail
	entry.DetectedState = state
	entry.Status = state.Status()
	entry.Error = errDetail
	entry.UpdatedAt = time.Now()
	s.statuses[name] = entry
	s.mu.Unlock()

	if changed {
		s.publish(broadcast.NewStatusEvent(name, broadcast.StatusPayload{
			Status:        entry.Status,
			DetectedState: entry.DetectedState,
			CPUPercent:    entry.CPUPercent,
			Memory:        entry.Memory,
			Error:         entry.Error,
		}))
	}
}

func (s *memoryStore) ContainerStats(name string) (types.ContainerStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[name]
	return st, ok
}

func (s *memoryStore) SetContainerStats(name string, stats types.ContainerStats) {
	s.mu.Lock()
	stats.Name = name
	s.stats[name] = stats

	// Mirror last-known figures onto the status entry so status payloads
	// carry them without a second lookup.
	entry := s.statuses[name]
	entry.CPUPercent = stats.CPUPercent
	entry.Memory = stats.Memory
	entry.UpdatedAt = time.Now()
	s.statuses[name] = entry
	s.mu.Unlock()

	s.publish(broadcast.NewStatsEvent(name, broadcast.StatsPayload{
		Name:       name,
		CPUPercent: stats.CPUPercent,
		Memory:     stats.Memory,
	}))
}

func (s *memoryStore) HostStats() types.HostStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

func (s *memoryStore) SetHostStats(stats types.HostStats) {
	s.mu.Lock()
	s.host = stats
	s.mu.Unlock()

	s.publish(broadcast.NewHostStatsEvent(broadcast.StatsPayload{
		Name:       broadcast.HostTarget,
		CPUPercent: stats.CPUPercent,
		Memory:     stats.Memory,
	}))
}

func (s *memoryStore) publish(event *broadcast.Event) {
	if s.broker != nil {
		s.broker.Publish(event)
	}
}
