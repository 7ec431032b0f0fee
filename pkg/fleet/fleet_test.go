package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamfleet/shepherd/pkg/allocator"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/types"
)

type memRegistry struct {
	mu      sync.Mutex
	servers map[string]types.ServerIdentity
}

func newMemRegistry() *memRegistry {
	return &memRegistry{servers: make(map[string]types.ServerIdentity)}
}

func (r *memRegistry) List() ([]types.ServerIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ServerIdentity, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	return out, nil
}

func (r *memRegistry) FindByName(name string) (types.ServerIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[name]
	if !ok {
		return types.ServerIdentity{}, types.NotFoundf("server %s", name)
	}
	return s, nil
}

func (r *memRegistry) Save(ident types.ServerIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[ident.Name] = ident
	return nil
}

func (r *memRegistry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[name]; !ok {
		return types.NotFoundf("server %s", name)
	}
	delete(r.servers, name)
	return nil
}

func (r *memRegistry) Close() error { return nil }

type fakeFleetDriver struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	stopErr  error
	restartErr error
}

func (f *fakeFleetDriver) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeFleetDriver) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFleetDriver) EnsureNetwork(ctx context.Context, clusterID string) (string, error) {
	f.record("EnsureNetwork")
	return "net", nil
}

func (f *fakeFleetDriver) EnsureImage(ctx context.Context, imageRef string) error {
	f.record("EnsureImage")
	return nil
}

func (f *fakeFleetDriver) EnsurePermissions(ctx context.Context, paths []string) error {
	f.record("EnsurePermissions")
	return nil
}

func (f *fakeFleetDriver) MountPaths(ident types.ServerIdentity) []string {
	return []string{"/data/servers/" + ident.Name}
}

func (f *fakeFleetDriver) CreateAndStart(ctx context.Context, ident types.ServerIdentity) (string, error) {
	f.record("CreateAndStart")
	if f.startErr != nil {
		return "", f.startErr
	}
	return "ctr-1", nil
}

func (f *fakeFleetDriver) Stop(ctx context.Context, server string) error {
	f.record("Stop")
	return f.stopErr
}

func (f *fakeFleetDriver) Restart(ctx context.Context, server string) error {
	f.record("Restart")
	return f.restartErr
}

func (f *fakeFleetDriver) Remove(ctx context.Context, server string) error {
	f.record("Remove")
	return nil
}

func (f *fakeFleetDriver) ContainerID(ctx context.Context, server string) (string, error) {
	f.record("ContainerID")
	return "ctr-1", nil
}

type fakeMonitor struct {
	mu     sync.Mutex
	begun  []string
	cancel []string
	// onCall, when set, records Begin/Cancel into a shared ordered log.
	onCall func(string)
}

func (f *fakeMonitor) Begin(name string) {
	f.mu.Lock()
	f.begun = append(f.begun, name)
	cb := f.onCall
	f.mu.Unlock()
	if cb != nil {
		cb("Begin")
	}
}

func (f *fakeMonitor) Cancel(name string) {
	f.mu.Lock()
	f.cancel = append(f.cancel, name)
	cb := f.onCall
	f.mu.Unlock()
	if cb != nil {
		cb("Cancel")
	}
}

type fakePipeline struct {
	mu       sync.Mutex
	attached map[string]string
	detached []string
	attachErr error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{attached: make(map[string]string)}
}

func (f *fakePipeline) Attach(server, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached[server] = containerID
	return nil
}

func (f *fakePipeline) Detach(server string) {
	f.mu.Lock()
	f.detached = append(f.detached, server)
	f.mu.Unlock()
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, server string) types.ResolvedStatus {
	return types.ResolvedStatus{Name: server, Status: types.StatusOff, DetectedState: types.StateOff}
}

type fixture struct {
	mgr      *Manager
	registry *memRegistry
	driver   *fakeFleetDriver
	monitor  *fakeMonitor
	pipeline *fakePipeline
	store    state.Store
}

func newFixture() *fixture {
	f := &fixture{
		registry: newMemRegistry(),
		driver:   &fakeFleetDriver{},
		monitor:  &fakeMonitor{},
		pipeline: newFakePipeline(),
		store:    state.NewStore(nil),
	}
	f.mgr = NewManager(Config{Image: "fleet/game:latest"}, f.registry, f.driver, f.monitor, f.pipeline, fakeResolver{}, f.store, allocator.New(7777, 27020))
	return f
}

func registered(f *fixture, name string) types.ServerIdentity {
	ident := types.ServerIdentity{
		Name:       name,
		Map:        "TheIsland_WP",
		Port:       7777,
		RconPort:   27020,
		ClusterID:  "cluster-1",
		MaxPlayers: 70,
		Enabled:    true,
	}
	_ = f.registry.Save(ident)
	return ident
}

func TestStartUnknownServer(t *testing.T) {
	f := newFixture()

	err := f.mgr.Start(context.Background(), "ghost")
	assert.True(t, types.IsNotFound(err))
	assert.Empty(t, f.driver.callList(), "no engine call may happen for an unknown server")
}

func TestStartDisabledServer(t *testing.T) {
	f := newFixture()
	ident := registered(f, "island")
	ident.Enabled = false
	_ = f.registry.Save(ident)

	err := f.mgr.Start(context.Background(), "island")
	assert.ErrorContains(t, err, "disabled")
	assert.Empty(t, f.driver.callList())
}

func TestStartBeginsWatchBeforePreconditions(t *testing.T) {
	f := newFixture()
	registered(f, "island")
	f.monitor.onCall = f.driver.record

	require.NoError(t, f.mgr.Start(context.Background(), "island"))

	assert.Equal(t, []string{"Begin", "EnsureNetwork", "EnsureImage", "EnsurePermissions", "CreateAndStart"}, f.driver.callList())
	assert.Equal(t, []string{"island"}, f.monitor.begun)
	assert.Equal(t, "ctr-1", f.pipeline.attached["island"])
}

// startingMonitor mirrors the real monitor's Begin, which writes the
// starting state before anything else happens.
type startingMonitor struct {
	fakeMonitor
	store state.Store
}

func (m *startingMonitor) Begin(name string) {
	m.store.SetState(name, types.StateStarting, "")
	m.fakeMonitor.Begin(name)
}

// pullObservingDriver snapshots the server's state mid image pull, the way an
// API client polling status during a long first pull would.
type pullObservingDriver struct {
	fakeFleetDriver
	store    state.Store
	observed types.DetectedState
}

func (d *pullObservingDriver) EnsureImage(ctx context.Context, imageRef string) error {
	if st, ok := d.store.Status("island"); ok {
		d.observed = st.DetectedState
	}
	return d.fakeFleetDriver.EnsureImage(ctx, imageRef)
}

func TestServerIsStartingWhileImagePullRuns(t *testing.T) {
	reg := newMemRegistry()
	store := state.NewStore(nil)
	driver := &pullObservingDriver{store: store}
	mon := &startingMonitor{store: store}
	mgr := NewManager(Config{Image: "fleet/game:latest"}, reg, driver, mon, newFakePipeline(), fakeResolver{}, store, allocator.New(7777, 27020))
	_ = reg.Save(types.ServerIdentity{Name: "island", Map: "TheIsland_WP", Port: 7777, RconPort: 27020, ClusterID: "cluster-1", Enabled: true})

	require.NoError(t, mgr.Start(context.Background(), "island"))
	assert.Equal(t, types.StateStarting, driver.observed, "observers must see the server starting during the pull")
}

func TestStartFailureMarksServerFailed(t *testing.T) {
	f := newFixture()
	registered(f, "island")
	f.driver.startErr = errors.New("port already bound")

	err := f.mgr.Start(context.Background(), "island")
	require.Error(t, err)

	st, ok := f.store.Status("island")
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, st.DetectedState)
	assert.Contains(t, st.Error, "port already bound")
	assert.Equal(t, []string{"island"}, f.monitor.cancel, "failed start must tear the watch back down")
}

func TestStartAttachFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	registered(f, "island")
	f.pipeline.attachErr = errors.New("stats endpoint broken")

	assert.NoError(t, f.mgr.Start(context.Background(), "island"))
	assert.Equal(t, []string{"island"}, f.monitor.begun)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture()

	// No registry record needed; stopping an unknown name is a no-op stop.
	require.NoError(t, f.mgr.Stop(context.Background(), "island"))
	require.NoError(t, f.mgr.Stop(context.Background(), "island"))

	assert.Equal(t, []string{"island", "island"}, f.monitor.cancel)
	assert.Equal(t, []string{"Stop", "Stop"}, f.driver.callList())

	st, ok := f.store.Status("island")
	require.True(t, ok)
	assert.Equal(t, types.StateOff, st.DetectedState)
}

func TestStopFailurePropagates(t *testing.T) {
	f := newFixture()
	f.driver.stopErr = errors.New("engine unreachable")

	err := f.mgr.Stop(context.Background(), "island")
	require.Error(t, err)

	st, _ := f.store.Status("island")
	assert.Equal(t, types.StateFailed, st.DetectedState)
}

func TestRestartUnknownServer(t *testing.T) {
	f := newFixture()
	err := f.mgr.Restart(context.Background(), "ghost")
	assert.True(t, types.IsNotFound(err))
}

func TestRestartMissingContainerDoesNotMarkFailed(t *testing.T) {
	f := newFixture()
	registered(f, "island")
	f.driver.restartErr = types.NotFoundf("container shepherd-island")

	err := f.mgr.Restart(context.Background(), "island")
	assert.True(t, types.IsNotFound(err))

	st, ok := f.store.Status("island")
	if ok {
		assert.NotEqual(t, types.StateFailed, st.DetectedState)
	}
}

func TestRestartReattachesWatchAndStats(t *testing.T) {
	f := newFixture()
	registered(f, "island")

	require.NoError(t, f.mgr.Restart(context.Background(), "island"))

	assert.Equal(t, []string{"island"}, f.monitor.cancel)
	assert.Equal(t, []string{"island"}, f.monitor.begun)
	assert.Equal(t, "ctr-1", f.pipeline.attached["island"])
}

func TestProvisionAllocatesSequentialPorts(t *testing.T) {
	f := newFixture()

	first, err := f.mgr.Provision("island", "TheIsland_WP", "", 70, nil)
	require.NoError(t, err)
	assert.Equal(t, 7777, first.Port)
	assert.Equal(t, 27020, first.RconPort)
	assert.NotEmpty(t, first.ClusterID)
	assert.True(t, first.Enabled)

	second, err := f.mgr.Provision("center", "TheCenter_WP", first.ClusterID, 70, nil)
	require.NoError(t, err)
	assert.Equal(t, 7778, second.Port)
	assert.Equal(t, 27021, second.RconPort)
	assert.Equal(t, first.ClusterID, second.ClusterID)
}

// slowListRegistry widens the read-allocate-write window and records whether
// two provisions ever had it open at the same time.
type slowListRegistry struct {
	*memRegistry
	mu       sync.Mutex
	inWindow bool
	overlap  bool
}

func (r *slowListRegistry) List() ([]types.ServerIdentity, error) {
	r.mu.Lock()
	if r.inWindow {
		r.overlap = true
	}
	r.inWindow = true
	r.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return r.memRegistry.List()
}

func (r *slowListRegistry) Save(ident types.ServerIdentity) error {
	err := r.memRegistry.Save(ident)
	r.mu.Lock()
	r.inWindow = false
	r.mu.Unlock()
	return err
}

func TestProvisionConcurrentCallsGetUniquePorts(t *testing.T) {
	reg := &slowListRegistry{memRegistry: newMemRegistry()}
	mgr := NewManager(Config{Image: "fleet/game:latest"}, reg, &fakeFleetDriver{}, &fakeMonitor{}, newFakePipeline(), fakeResolver{}, state.NewStore(nil), allocator.New(7777, 27020))

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Provision(fmt.Sprintf("srv-%d", i), "TheIsland_WP", "", 70, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.False(t, reg.overlap, "two provisions held the allocation window at once")

	servers, err := reg.List()
	require.NoError(t, err)
	require.Len(t, servers, n)
	game := make(map[int]bool)
	rcon := make(map[int]bool)
	for _, s := range servers {
		assert.False(t, game[s.Port], "game port %d handed out twice", s.Port)
		assert.False(t, rcon[s.RconPort], "rcon port %d handed out twice", s.RconPort)
		game[s.Port] = true
		rcon[s.RconPort] = true
	}
}

func TestProvisionDuplicateName(t *testing.T) {
	f := newFixture()
	registered(f, "island")

	_, err := f.mgr.Provision("island", "TheIsland_WP", "", 70, nil)
	assert.ErrorContains(t, err, "already exists")
}

func TestDecommission(t *testing.T) {
	f := newFixture()
	registered(f, "island")

	require.NoError(t, f.mgr.Decommission(context.Background(), "island"))

	assert.Contains(t, f.driver.callList(), "Remove")
	assert.Equal(t, []string{"island"}, f.monitor.cancel)
	_, err := f.registry.FindByName("island")
	assert.True(t, types.IsNotFound(err))
}

func TestDecommissionUnknownServer(t *testing.T) {
	f := newFixture()
	err := f.mgr.Decommission(context.Background(), "ghost")
	assert.True(t, types.IsNotFound(err))
	assert.Empty(t, f.driver.callList())
}

func TestGetAllStatuses(t *testing.T) {
	f := newFixture()
	registered(f, "island")
	f.store.SetHostStats(types.HostStats{CPUPercent: 7.5})

	overview, err := f.mgr.GetAllStatuses(context.Background())
	require.NoError(t, err)
	require.Contains(t, overview.Servers, "island")
	assert.Equal(t, types.StatusOff, overview.Servers["island"].Status)
	assert.Equal(t, 7.5, overview.Host.CPUPercent)
}
