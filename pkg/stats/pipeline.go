// Package stats consumes the engine's per-container resource streams and
// samples the host, normalizes the numbers, and writes them into the shared
// state store (which broadcasts every change).
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/steamfleet/shepherd/pkg/engine"
	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/types"
)

// Driver is the slice of the container driver the pipeline needs.
type Driver interface {
	StreamStats(ctx context.Context, containerID string) (<-chan engine.StatSnapshot, <-chan error, error)
}

// Notifier receives the first-sample signal used to corroborate the running
// transition.
type Notifier interface {
	FirstSample(name string)
}

// Pipeline runs one long-lived consumer task per attached container stream.
type Pipeline struct {
	driver   Driver
	store    state.Store
	notifier Notifier

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewPipeline creates a pipeline. notifier may be nil.
func NewPipeline(driver Driver, store state.Store, notifier Notifier) *Pipeline {
	return &Pipeline{
		driver:   driver,
		store:    store,
		notifier: notifier,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Attach starts consuming the stats stream for a server's container,
// replacing any previous stream for the same server.
func (p *Pipeline) Attach(server, containerID string) error {
	ctx, cancel := context.WithCancel(context.Background())

	samples, errCh, err := p.driver.StreamStats(ctx, containerID)
	if err != nil {
		cancel()
		return err
	}

	p.mu.Lock()
	if prev, ok := p.cancels[server]; ok {
		prev()
	}
	p.cancels[server] = cancel
	p.mu.Unlock()

	go p.consume(ctx, server, samples, errCh)
	return nil
}

// Detach stops the stream task for a server. Already-published samples stay
// in the store: last-known values persist rather than blanking, trading
// staleness for UI continuity.
func (p *Pipeline) Detach(server string) {
	p.mu.Lock()
	if cancel, ok := p.cancels[server]; ok {
		cancel()
		delete(p.cancels, server)
	}
	p.mu.Unlock()
}

// Stop detaches every stream.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	for server, cancel := range p.cancels {
		cancel()
		delete(p.cancels, server)
	}
	p.mu.Unlock()
}

func (p *Pipeline) consume(ctx context.Context, server string, samples <-chan engine.StatSnapshot, errCh <-chan error) {
	logger := log.WithServer(server)
	first := true

	for {
		select {
		case snap, ok := <-samples:
			if !ok {
				logger.Debug().Msg("stats stream ended")
				return
			}

			used, limit := MemoryUsage(snap.MemoryStats)
			p.store.SetContainerStats(server, types.ContainerStats{
				Name:       server,
				CPUPercent: CPUPercent(snap.CPUStats, snap.PreCPUStats),
				Memory:     types.MemoryUsage{Used: used, Total: limit},
				SampledAt:  sampleTime(snap),
			})

			if first {
				first = false
				if p.notifier != nil {
					p.notifier.FirstSample(server)
				}
			}
		case err := <-errCh:
			if err != nil {
				logger.Warn().Err(err).Msg("stats stream failed")
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func sampleTime(snap engine.StatSnapshot) time.Time {
	if !snap.Read.IsZero() {
		return snap.Read
	}
	return time.Now()
}
