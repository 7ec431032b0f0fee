package engine

import (
	"context"
	"fmt"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/types"
)

// EnsureNetwork idempotently creates the bridge network for a cluster and
// returns its name.
func (d *Driver) EnsureNetwork(ctx context.Context, clusterID string) (string, error) {
	name := d.networkName(clusterID)

	_, err := d.api.NetworkInspect(ctx, name, dockertypes.NetworkInspectOptions{})
	if err == nil {
		return name, nil
	}
	if !isNotFound(err) {
		return "", wrapErr("inspect network "+name, err)
	}

	_, err = d.api.NetworkCreate(ctx, name, dockertypes.NetworkCreate{
		Driver:         "bridge",
		CheckDuplicate: true,
	})
	if err != nil {
		return "", wrapErr("create network "+name, err)
	}

	log.WithComponent("engine").Info().Str("network", name).Msg("created cluster network")
	return name, nil
}

// EnsureImage idempotently pulls the given image if it is not present
// locally. Pull progress goes to the logs only.
func (d *Driver) EnsureImage(ctx context.Context, imageRef string) error {
	_, _, err := d.api.ImageInspectWithRaw(ctx, imageRef)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return wrapErr("inspect image "+imageRef, err)
	}

	logger := log.WithComponent("engine")
	logger.Info().Str("image", imageRef).Msg("pulling image")

	body, err := d.api.ImagePull(ctx, imageRef, dockertypes.ImagePullOptions{})
	if err != nil {
		return wrapErr("pull image "+imageRef, err)
	}
	defer body.Close()

	if err := drainPull(body, func(line string) {
		logger.Debug().Str("image", imageRef).Msg(line)
	}); err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}

	logger.Info().Str("image", imageRef).Msg("image present")
	return nil
}

// CreateAndStart removes any stale container of the same name, assembles the
// container spec, creates it, and starts it. It returns once the engine
// acknowledges the start; waiting for the game process itself is the startup
// monitor's job.
func (d *Driver) CreateAndStart(ctx context.Context, ident types.ServerIdentity) (string, error) {
	name := containerName(ident.Name)

	// A previous run may have left a container of this name behind in any
	// state; the create path always clears it first.
	if err := d.Remove(ctx, ident.Name); err != nil {
		return "", err
	}

	cfg, host, netCfg, err := d.containerSpec(ident)
	if err != nil {
		return "", err
	}

	created, err := d.api.ContainerCreate(ctx, cfg, host, netCfg, nil, name)
	if err != nil {
		return "", wrapErr("create container "+name, err)
	}

	if err := d.api.ContainerStart(ctx, created.ID, dockertypes.ContainerStartOptions{}); err != nil {
		return "", wrapErr("start container "+name, err)
	}

	log.WithServer(ident.Name).Info().Str("container_id", created.ID).Msg("container started")
	return created.ID, nil
}

// Stop stops a server's container. "Not found" and "already stopped" count
// as success.
func (d *Driver) Stop(ctx context.Context, server string) error {
	timeout := int(d.cfg.StopTimeout.Seconds())
	err := d.api.ContainerStop(ctx, containerName(server), container.StopOptions{Timeout: &timeout})
	if isNotFound(err) {
		return nil
	}
	return wrapErr("stop container "+containerName(server), err)
}

// Restart restarts a server's container at the engine level. A missing
// container is a hard error: there is nothing to restart.
func (d *Driver) Restart(ctx context.Context, server string) error {
	timeout := int(d.cfg.StopTimeout.Seconds())
	return wrapErr("restart container "+containerName(server),
		d.api.ContainerRestart(ctx, containerName(server), container.StopOptions{Timeout: &timeout}))
}

// Remove force-removes a server's container. Missing containers are fine.
func (d *Driver) Remove(ctx context.Context, server string) error {
	err := d.api.ContainerRemove(ctx, containerName(server), dockertypes.ContainerRemoveOptions{Force: true})
	if isNotFound(err) {
		return nil
	}
	return wrapErr("remove container "+containerName(server), err)
}

// ContainerID resolves the running container's engine id for a server, or
// ErrNotFound.
func (d *Driver) ContainerID(ctx context.Context, server string) (string, error) {
	info, err := d.api.ContainerInspect(ctx, containerName(server))
	if err != nil {
		return "", wrapErr("inspect container "+containerName(server), err)
	}
	return info.ID, nil
}
