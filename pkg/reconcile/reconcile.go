// Package reconcile merges a server's cached detected state with an active
// liveness probe into the status actually shown to observers. Container-level
// "running" and log-keyword detection can both hold while the game process
// is unresponsive or silently dead; the probe is the tie-breaker of record.
package reconcile

import (
	"context"
	"time"

	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/rcon"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/types"
)

// Reconciler resolves display status on demand.
type Reconciler struct {
	store state.Store
	rcon  rcon.Capability

	// ProbeTimeout bounds the liveness probe; it runs synchronously inside
	// a status request and must never inherit the watchdog budget.
	ProbeTimeout time.Duration
}

// New creates a reconciler.
func New(store state.Store, capability rcon.Capability) *Reconciler {
	return &Reconciler{
		store:        store,
		rcon:         capability,
		ProbeTimeout: 5 * time.Second,
	}
}

// Resolve returns the display status for one server:
//
//  1. a cached error is sticky and never silently demoted;
//  2. a responding probe means running, regardless of cache;
//  3. a cached startup stays startup;
//  4. anything else is off.
//
// The player count is attached when the probe yields one.
func (r *Reconciler) Resolve(ctx context.Context, server string) types.ResolvedStatus {
	cached, _ := r.store.Status(server)

	resolved := types.ResolvedStatus{
		Name:          server,
		DetectedState: cached.DetectedState,
		CPUPercent:    cached.CPUPercent,
		Memory:        cached.Memory,
		Error:         cached.Error,
	}
	if resolved.DetectedState == "" {
		resolved.DetectedState = types.StateOff
	}

	if cached.Status == types.StatusError {
		resolved.Status = types.StatusError
		return resolved
	}

	if players, ok := r.probe(ctx, server); ok {
		resolved.Status = types.StatusRunning
		resolved.Players = &players
		return resolved
	}

	if cached.Status == types.StatusStartup {
		resolved.Status = types.StatusStartup
		return resolved
	}

	resolved.Status = types.StatusOff
	return resolved
}

// probe runs the bounded liveness query. Failure is not fatal; it only means
// "not confirmed running".
func (r *Reconciler) probe(ctx context.Context, server string) (int, bool) {
	if r.rcon == nil {
		return 0, false
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
	defer cancel()

	players, err := r.rcon.PlayerCount(probeCtx, server)
	if err != nil {
		log.WithServer(server).Debug().Err(err).Msg("liveness probe did not respond")
		return 0, false
	}
	return players, true
}
