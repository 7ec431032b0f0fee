// Package config loads shepherd's YAML configuration. Every field has a
// sensible default; a missing file just means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steamfleet/shepherd/pkg/monitor"
)

// Config is the full daemon configuration.
type Config struct {
	// Engine is the container engine connection.
	Engine struct {
		Host               string `yaml:"host"`
		StopTimeoutSeconds int    `yaml:"stop_timeout_seconds"`
	} `yaml:"engine"`

	// Image the whole fleet runs, plus the helper used for ownership fixes.
	Image       string `yaml:"image"`
	HelperImage string `yaml:"helper_image"`

	// Network is the cluster network naming.
	Network struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"network"`

	// Ports are the allocation bases.
	Ports struct {
		GameBase int `yaml:"game_base"`
		RconBase int `yaml:"rcon_base"`
	} `yaml:"ports"`

	// Paths are the host directories bound into containers, and the
	// registry database location.
	Paths struct {
		DataDir    string `yaml:"data_dir"`
		ServersDir string `yaml:"servers_dir"`
		ClusterDir string `yaml:"cluster_dir"`
		SteamDir   string `yaml:"steam_dir"`
	} `yaml:"paths"`

	// RunAs is the unprivileged identity of the game process.
	RunAs struct {
		UID int `yaml:"uid"`
		GID int `yaml:"gid"`
	} `yaml:"run_as"`

	// Monitor bounds the startup watch and carries the injected keyword
	// tables.
	Monitor struct {
		WatchdogSeconds int                 `yaml:"watchdog_seconds"`
		GraceSeconds    int                 `yaml:"grace_seconds"`
		GameLogRelPath  string              `yaml:"game_log_rel_path"`
		Bootstrap       []monitor.PhaseRule `yaml:"bootstrap"`
		GameLog         []monitor.PhaseRule `yaml:"game_log"`
	} `yaml:"monitor"`

	// Stats sampling cadence for the host.
	Stats struct {
		HostIntervalSeconds int `yaml:"host_interval_seconds"`
	} `yaml:"stats"`

	// Listen is the address serving the observer websocket and metrics.
	Listen string `yaml:"listen"`

	// Log configuration.
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Engine.StopTimeoutSeconds = 30
	cfg.Image = "mschnitzer/asa-linux-server:latest"
	cfg.HelperImage = "alpine:3.20"
	cfg.Network.Prefix = "shepherd"
	cfg.Ports.GameBase = 7777
	cfg.Ports.RconBase = 27020
	cfg.Paths.DataDir = "/var/lib/shepherd"
	cfg.Paths.ServersDir = "/var/lib/shepherd/servers"
	cfg.Paths.ClusterDir = "/var/lib/shepherd/clusters"
	cfg.Paths.SteamDir = "/var/lib/shepherd/steam"
	cfg.RunAs.UID = 25000
	cfg.RunAs.GID = 25000
	cfg.Monitor.WatchdogSeconds = 300
	cfg.Monitor.GraceSeconds = 30
	cfg.Monitor.GameLogRelPath = filepath.Join("ShooterGame", "Saved", "Logs", "ShooterGame.log")
	cfg.Monitor.Bootstrap = DefaultBootstrapPhases()
	cfg.Monitor.GameLog = DefaultGameLogPhases()
	cfg.Stats.HostIntervalSeconds = 5
	cfg.Listen = ":8200"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads the file at path over the defaults. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// RegistryPath is the bolt database location.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Paths.DataDir, "shepherd.db")
}

// StopTimeout returns the engine stop grace period.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Engine.StopTimeoutSeconds) * time.Second
}

// Watchdog returns the startup watchdog duration.
func (c *Config) Watchdog() time.Duration {
	return time.Duration(c.Monitor.WatchdogSeconds) * time.Second
}

// Grace returns the post-log-phase confirmation window.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Monitor.GraceSeconds) * time.Second
}

// HostInterval returns the host sampling cadence.
func (c *Config) HostInterval() time.Duration {
	return time.Duration(c.Stats.HostIntervalSeconds) * time.Second
}

// DefaultBootstrapPhases is the keyword table for the container's bootstrap
// script (steamcmd download, verification, launch). Order matters: more
// specific substrings come first so a line reports its most precise label.
func DefaultBootstrapPhases() []monitor.PhaseRule {
	return []monitor.PhaseRule{
		{Match: "Update state (0x61) downloading, progress: 100", Label: "download complete"},
		{Match: "Update state (0x61) downloading", Label: "downloading server files"},
		{Match: "Update state (0x81) verifying update", Label: "verifying server files"},
		{Match: "Update state (0x5) verifying install", Label: "verifying installation"},
		{Match: "Success! App", Label: "server files installed"},
		{Match: "Starting the ARK: Survival Ascended dedicated server", Label: "launching game process", Final: true},
	}
}

// DefaultGameLogPhases is the keyword table for the game process's own log.
func DefaultGameLogPhases() []monitor.PhaseRule {
	return []monitor.PhaseRule{
		{Match: "Primal Game Data Took", Label: "game data loaded"},
		{Match: "Commandline:", Label: "game process booting"},
		{Match: "Server has completed startup and is now advertising for join", Label: "startup complete", Final: true},
	}
}
