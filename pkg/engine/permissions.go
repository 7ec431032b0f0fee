package engine

import (
	"context"
	"fmt"
	"os"
	"syscall"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/types"
)

// EnsurePermissions verifies that every host-mounted directory is owned by
// the configured uid/gid, and if not (or a directory does not exist yet),
// runs a one-shot privileged helper container that chowns them recursively.
// It blocks until the helper exits: the game process runs unprivileged and
// would fail to write to wrongly owned mounts.
func (d *Driver) EnsurePermissions(ctx context.Context, paths []string) error {
	var fix []string
	for _, p := range paths {
		ok, err := ownedBy(p, d.cfg.UID, d.cfg.GID)
		if err != nil {
			return fmt.Errorf("check ownership of %s: %w", p, err)
		}
		if !ok {
			if err := os.MkdirAll(p, 0o755); err != nil {
				return fmt.Errorf("create mount directory %s: %w", p, err)
			}
			fix = append(fix, p)
		}
	}
	if len(fix) == 0 {
		return nil
	}

	return d.runOwnershipFix(ctx, fix)
}

// ownedBy reports whether path exists and is owned by uid:gid.
func ownedBy(path string, uid, gid int) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}
	return int(st.Uid) == uid && int(st.Gid) == gid, nil
}

// runOwnershipFix starts the helper container, waits for it, and removes it.
// A non-zero exit is fatal for the server start.
func (d *Driver) runOwnershipFix(ctx context.Context, paths []string) error {
	logger := log.WithComponent("engine")
	logger.Info().Strs("paths", paths).Msg("fixing mount ownership")

	binds := make([]string, len(paths))
	argv := []string{"chown", "-R", fmt.Sprintf("%d:%d", d.cfg.UID, d.cfg.GID)}
	for i, p := range paths {
		target := fmt.Sprintf("/fix/%d", i)
		binds[i] = p + ":" + target
		argv = append(argv, target)
	}

	created, err := d.api.ContainerCreate(ctx,
		&container.Config{
			Image: d.cfg.HelperImage,
			User:  "0:0",
			Cmd:   argv,
		},
		&container.HostConfig{Binds: binds},
		nil, nil, "")
	if err != nil {
		return wrapErr("create permission helper", err)
	}

	// Whatever happens, the helper must not linger.
	defer func() {
		_ = d.api.ContainerRemove(context.WithoutCancel(ctx), created.ID,
			dockertypes.ContainerRemoveOptions{Force: true})
	}()

	if err := d.api.ContainerStart(ctx, created.ID, dockertypes.ContainerStartOptions{}); err != nil {
		return wrapErr("start permission helper", err)
	}

	waitCh, errCh := d.api.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("%w: helper exited with status %d", types.ErrPermissionFix, status.StatusCode)
		}
	case err := <-errCh:
		return wrapErr("wait for permission helper", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Info().Msg("mount ownership fixed")
	return nil
}
