package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"github.com/steamfleet/shepherd/pkg/types"
)

// Container-side mount points expected by the game server image.
const (
	containerServerFiles = "/home/gameserver/server-files"
	containerClusterDir  = "/home/gameserver/cluster-shared"
	containerSteamDir    = "/home/gameserver/steamcmd"
)

// containerName returns the engine-level container name for a server.
func containerName(server string) string {
	return "shepherd-" + strings.ToLower(server)
}

// networkName derives the bridge network name for a cluster.
func (d *Driver) networkName(clusterID string) string {
	return d.cfg.NetworkPrefix + "-" + clusterID
}

// serverDir is the host directory holding one server's files.
func (d *Driver) serverDir(server string) string {
	return filepath.Join(d.cfg.ServersDir, server)
}

// clusterDir is the host directory shared by all servers of a cluster.
func (d *Driver) clusterDir(clusterID string) string {
	return filepath.Join(d.cfg.ClusterDir, clusterID)
}

// MountPaths lists the host directories a server's container binds, in the
// order the ownership precondition checks them.
func (d *Driver) MountPaths(ident types.ServerIdentity) []string {
	return []string{
		d.serverDir(ident.Name),
		d.clusterDir(ident.ClusterID),
		d.cfg.SteamDir,
	}
}

// launchParams builds the game process command line carried in the
// environment. The image's entrypoint passes it to the server binary.
func launchParams(ident types.ServerIdentity) string {
	params := fmt.Sprintf("%s?listen?Port=%d?RCONEnabled=True?RCONPort=%d",
		ident.Map, ident.Port, ident.RconPort)

	args := []string{
		params,
		fmt.Sprintf("-WinLiveMaxPlayers=%d", ident.MaxPlayers),
		"-clusterid=" + ident.ClusterID,
		"-ClusterDirOverride=" + containerClusterDir,
	}
	if len(ident.Mods) > 0 {
		args = append(args, "-mods="+strings.Join(ident.Mods, ","))
	}
	return strings.Join(args, " ")
}

// containerSpec assembles the full create request for a server container:
// bind mounts, UDP game port and TCP RCON port bindings, launch environment,
// cluster network attachment, and a non-root user.
func (d *Driver) containerSpec(ident types.ServerIdentity) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	gamePort, err := nat.NewPort("udp", fmt.Sprintf("%d", ident.Port))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid game port %d: %w", ident.Port, err)
	}
	rconPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", ident.RconPort))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid rcon port %d: %w", ident.RconPort, err)
	}

	cfg := &container.Config{
		Image: d.cfg.Image,
		User:  fmt.Sprintf("%d:%d", d.cfg.UID, d.cfg.GID),
		Env: []string{
			"ASA_START_PARAMS=" + launchParams(ident),
			"SERVER_NAME=" + ident.Name,
			"SERVER_MAP=" + ident.Map,
			fmt.Sprintf("GAME_PORT=%d", ident.Port),
			fmt.Sprintf("RCON_PORT=%d", ident.RconPort),
		},
		ExposedPorts: nat.PortSet{
			gamePort: struct{}{},
			rconPort: struct{}{},
		},
		Labels: map[string]string{
			"shepherd.server":  ident.Name,
			"shepherd.cluster": ident.ClusterID,
		},
	}

	host := &container.HostConfig{
		Binds: []string{
			d.serverDir(ident.Name) + ":" + containerServerFiles,
			d.clusterDir(ident.ClusterID) + ":" + containerClusterDir,
			d.cfg.SteamDir + ":" + containerSteamDir,
		},
		PortBindings: nat.PortMap{
			gamePort: []nat.PortBinding{{HostPort: fmt.Sprintf("%d", ident.Port)}},
			rconPort: []nat.PortBinding{{HostPort: fmt.Sprintf("%d", ident.RconPort)}},
		},
		NetworkMode: container.NetworkMode(d.networkName(ident.ClusterID)),
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			d.networkName(ident.ClusterID): {},
		},
	}

	return cfg, host, netCfg, nil
}
