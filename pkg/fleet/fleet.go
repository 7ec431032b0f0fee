// Package fleet is the action boundary of the engine: it wires the
// allocator, container driver, startup monitor, and stats pipeline together
// behind start/stop/restart/status operations. None of them block on full
// startup completion; they return once the underlying engine action has
// been accepted.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/steamfleet/shepherd/pkg/allocator"
	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/registry"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/types"
)

// Driver is the slice of the container driver the manager consumes.
type Driver interface {
	EnsureNetwork(ctx context.Context, clusterID string) (string, error)
	EnsureImage(ctx context.Context, imageRef string) error
	EnsurePermissions(ctx context.Context, paths []string) error
	MountPaths(ident types.ServerIdentity) []string
	CreateAndStart(ctx context.Context, ident types.ServerIdentity) (string, error)
	Stop(ctx context.Context, server string) error
	Restart(ctx context.Context, server string) error
	Remove(ctx context.Context, server string) error
	ContainerID(ctx context.Context, server string) (string, error)
}

// Monitor drives the per-server startup watch.
type Monitor interface {
	Begin(name string)
	Cancel(name string)
}

// StatsPipeline manages per-container stats streams.
type StatsPipeline interface {
	Attach(server, containerID string) error
	Detach(server string)
}

// Resolver produces the display status for one server.
type Resolver interface {
	Resolve(ctx context.Context, server string) types.ResolvedStatus
}

// Config holds the manager's static parameters.
type Config struct {
	// Image is the game-server image the whole fleet runs.
	Image string
}

// Manager implements the action boundary.
type Manager struct {
	cfg      Config
	registry registry.Registry
	driver   Driver
	monitor  Monitor
	stats    StatsPipeline
	resolver Resolver
	store    state.Store
	alloc    *allocator.Allocator

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// provMu serializes the registry read, port scan, and save of
	// Provision so concurrent calls cannot be handed the same ports.
	provMu sync.Mutex
}

// NewManager wires the action boundary.
func NewManager(cfg Config, reg registry.Registry, driver Driver, mon Monitor, stats StatsPipeline, resolver Resolver, store state.Store, alloc *allocator.Allocator) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: reg,
		driver:   driver,
		monitor:  mon,
		stats:    stats,
		resolver: resolver,
		store:    store,
		alloc:    alloc,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor serializes actions per server name.
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Provision assigns network identity to a new server and persists it. One
// allocation is in flight at a time: the lock spans the registry read, the
// port scan, and the save.
func (m *Manager) Provision(name, mapName, clusterID string, maxPlayers int, mods []string) (types.ServerIdentity, error) {
	m.provMu.Lock()
	defer m.provMu.Unlock()

	if _, err := m.registry.FindByName(name); err == nil {
		return types.ServerIdentity{}, fmt.Errorf("server %s already exists", name)
	}

	existing, err := m.registry.List()
	if err != nil {
		return types.ServerIdentity{}, fmt.Errorf("list servers: %w", err)
	}

	alloc := m.alloc.Allocate(existing)
	ident := types.ServerIdentity{
		Name:       name,
		Map:        mapName,
		Port:       alloc.Port,
		RconPort:   alloc.RconPort,
		ClusterID:  m.alloc.ClusterID(clusterID),
		MaxPlayers: maxPlayers,
		Mods:       mods,
		Enabled:    true,
		CreatedAt:  time.Now(),
	}

	if err := m.registry.Save(ident); err != nil {
		return types.ServerIdentity{}, err
	}

	log.WithServer(name).Info().
		Int("port", ident.Port).
		Int("rcon_port", ident.RconPort).
		Str("cluster_id", ident.ClusterID).
		Msg("server provisioned")
	return ident, nil
}

// Start provisions the container for a configured server and begins the
// startup watch. An unknown server name fails with ErrNotFound before any
// engine call is made.
func (m *Manager) Start(ctx context.Context, name string) error {
	ident, err := m.registry.FindByName(name)
	if err != nil {
		return err
	}
	if !ident.Enabled {
		return fmt.Errorf("server %s is disabled", name)
	}

	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	// The watch begins the moment the start is requested: the server is
	// starting for the whole precondition window (image pulls included) and
	// the watchdog clock covers it.
	m.monitor.Begin(name)

	if _, err := m.driver.EnsureNetwork(ctx, ident.ClusterID); err != nil {
		return m.failStart(name, err)
	}
	if err := m.driver.EnsureImage(ctx, m.cfg.Image); err != nil {
		return m.failStart(name, err)
	}
	if err := m.driver.EnsurePermissions(ctx, m.driver.MountPaths(ident)); err != nil {
		return m.failStart(name, err)
	}

	containerID, err := m.driver.CreateAndStart(ctx, ident)
	if err != nil {
		return m.failStart(name, err)
	}

	if err := m.stats.Attach(name, containerID); err != nil {
		// The watch can still confirm startup from logs alone.
		log.WithServer(name).Warn().Err(err).Msg("failed to attach stats stream")
	}
	return nil
}

// Stop tears down a server's watch and container. A container that is
// already gone or stopped counts as success.
func (m *Manager) Stop(ctx context.Context, name string) error {
	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	m.monitor.Cancel(name)
	m.stats.Detach(name)

	if err := m.driver.Stop(ctx, name); err != nil {
		return m.fail(name, err)
	}

	m.store.SetState(name, types.StateOff, "")
	return nil
}

// Restart restarts a configured server's container at the engine level and
// re-runs the startup watch. Unknown server or missing container is a hard
// error.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if _, err := m.registry.FindByName(name); err != nil {
		return err
	}

	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	m.monitor.Cancel(name)

	if err := m.driver.Restart(ctx, name); err != nil {
		if types.IsNotFound(err) {
			return err
		}
		return m.fail(name, err)
	}

	m.monitor.Begin(name)

	if containerID, err := m.driver.ContainerID(ctx, name); err == nil {
		if err := m.stats.Attach(name, containerID); err != nil {
			log.WithServer(name).Warn().Err(err).Msg("failed to reattach stats stream")
		}
	}
	return nil
}

// Decommission stops a server's watch, removes its container, and deletes
// its registry record. The server files on disk are left in place.
func (m *Manager) Decommission(ctx context.Context, name string) error {
	if _, err := m.registry.FindByName(name); err != nil {
		return err
	}

	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	m.monitor.Cancel(name)
	m.stats.Detach(name)

	if err := m.driver.Remove(ctx, name); err != nil {
		return m.fail(name, err)
	}
	if err := m.registry.Delete(name); err != nil {
		return err
	}

	log.WithServer(name).Info().Msg("server decommissioned")
	return nil
}

// GetAllStatuses resolves every configured server plus the host sample.
func (m *Manager) GetAllStatuses(ctx context.Context) (types.FleetOverview, error) {
	servers, err := m.registry.List()
	if err != nil {
		return types.FleetOverview{}, fmt.Errorf("list servers: %w", err)
	}

	overview := types.FleetOverview{
		Servers: make(map[string]types.ResolvedStatus, len(servers)),
		Host:    m.store.HostStats(),
	}
	for _, s := range servers {
		overview.Servers[s.Name] = m.resolver.Resolve(ctx, s.Name)
	}
	return overview, nil
}

// fail records the error on the server's status and returns it.
func (m *Manager) fail(name string, err error) error {
	log.WithServer(name).Error().Err(err).Msg("fleet action failed")
	m.store.SetState(name, types.StateFailed, err.Error())
	return err
}

// failStart additionally tears down the startup watch opened at the top of
// Start, so the failed status is not overwritten by the session.
func (m *Manager) failStart(name string, err error) error {
	m.monitor.Cancel(name)
	return m.fail(name, err)
}
