package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Ports.GameBase)
	assert.Equal(t, 27020, cfg.Ports.RconBase)
	assert.Equal(t, 5*time.Minute, cfg.Watchdog())
	assert.Equal(t, 30*time.Second, cfg.Grace())
	assert.NotEmpty(t, cfg.Monitor.Bootstrap)
	assert.NotEmpty(t, cfg.Monitor.GameLog)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
image: custom/game:1.0
listen: ":9000"
ports:
  game_base: 8000
monitor:
  watchdog_seconds: 600
  bootstrap:
    - match: "booting"
      label: "boot started"
    - match: "ready"
      label: "boot done"
      final: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom/game:1.0", cfg.Image)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 8000, cfg.Ports.GameBase)
	assert.Equal(t, 27020, cfg.Ports.RconBase, "untouched fields keep defaults")
	assert.Equal(t, 10*time.Minute, cfg.Watchdog())

	require.Len(t, cfg.Monitor.Bootstrap, 2)
	assert.Equal(t, "boot started", cfg.Monitor.Bootstrap[0].Label)
	assert.True(t, cfg.Monitor.Bootstrap[1].Final)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultPhaseTablesEndWithFinalRule(t *testing.T) {
	bootstrap := DefaultBootstrapPhases()
	require.NotEmpty(t, bootstrap)
	assert.True(t, bootstrap[len(bootstrap)-1].Final, "bootstrap table must terminate")

	gamelog := DefaultGameLogPhases()
	require.NotEmpty(t, gamelog)
	assert.True(t, gamelog[len(gamelog)-1].Final, "game log table must terminate")
}

func TestRegistryPathUnderDataDir(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/tmp/fleet"
	assert.Equal(t, filepath.Join("/tmp/fleet", "shepherd.db"), cfg.RegistryPath())
}
