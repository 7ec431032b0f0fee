// Package engine wraps the Docker Engine API behind the container driver
// used by the rest of the system. The driver holds no mutable state of its
// own; it translates engine results into the error taxonomy the callers
// expect, in particular turning 404s into benign no-ops wherever the
// operation is idempotent.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/steamfleet/shepherd/pkg/types"
)

// StatSnapshot is one raw resource sample from the engine's stats stream.
type StatSnapshot = dockertypes.StatsJSON

// API is the subset of the Docker client consumed by the driver. The
// concrete *client.Client satisfies it; tests substitute fakes.
type API interface {
	NetworkInspect(ctx context.Context, networkID string, options dockertypes.NetworkInspectOptions) (dockertypes.NetworkResource, error)
	NetworkCreate(ctx context.Context, name string, options dockertypes.NetworkCreate) (dockertypes.NetworkCreateResponse, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (dockertypes.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options dockertypes.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockertypes.ContainerStartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options dockertypes.ContainerRemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options dockertypes.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (dockertypes.ContainerStats, error)
	ContainerExecCreate(ctx context.Context, containerID string, config dockertypes.ExecConfig) (dockertypes.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config dockertypes.ExecStartCheck) (dockertypes.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (dockertypes.ContainerExecInspect, error)
	Close() error
}

// Config carries the static parameters of the fleet's containers.
type Config struct {
	// Image is the game-server image every container runs.
	Image string

	// HelperImage is the image used for the one-shot ownership-fix
	// container.
	HelperImage string

	// NetworkPrefix names cluster networks: "<prefix>-<cluster id>".
	NetworkPrefix string

	// Host directories bound into the container.
	ServersDir string // per-server files, one subdirectory per server
	ClusterDir string // shared save data, one subdirectory per cluster
	SteamDir   string // steamcmd tooling

	// UID/GID the game process runs as inside the container.
	UID int
	GID int

	// StopTimeout is the grace period before the engine kills a container.
	StopTimeout time.Duration

	// LogTail is how many recent lines to include when attaching to logs.
	LogTail string
}

func (c *Config) applyDefaults() {
	if c.HelperImage == "" {
		c.HelperImage = "alpine:3.20"
	}
	if c.NetworkPrefix == "" {
		c.NetworkPrefix = "shepherd"
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.LogTail == "" {
		c.LogTail = "100"
	}
}

// Driver is the container driver. Effectively stateless modulo the engine
// connection.
type Driver struct {
	api API
	cfg Config
}

// NewDriver connects to the engine at host (empty means environment
// defaults) and returns a driver.
func NewDriver(host string, cfg Config) (*Driver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to container engine: %w", err)
	}

	return NewDriverWithAPI(api, cfg), nil
}

// NewDriverWithAPI wraps an existing engine client. Used by tests.
func NewDriverWithAPI(api API, cfg Config) *Driver {
	cfg.applyDefaults()
	return &Driver{api: api, cfg: cfg}
}

// Close closes the engine connection.
func (d *Driver) Close() error {
	return d.api.Close()
}

// wrapErr translates engine errors into the shared taxonomy. A nil error
// stays nil.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsErrNotFound(err):
		return fmt.Errorf("%s: %w", op, types.ErrNotFound)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%s: %w: %v", op, types.ErrEngineUnreachable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isNotFound reports whether the engine returned a 404 for the request.
func isNotFound(err error) bool {
	return client.IsErrNotFound(err)
}

// drainPull consumes an image pull progress stream, forwarding each progress
// message to the given sink. Pull progress is log-only; callers see nothing
// but success or failure.
func drainPull(r io.Reader, sink func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 512*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
	return scanner.Err()
}
