package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/steamfleet/shepherd/pkg/allocator"
	"github.com/steamfleet/shepherd/pkg/api"
	"github.com/steamfleet/shepherd/pkg/broadcast"
	"github.com/steamfleet/shepherd/pkg/config"
	"github.com/steamfleet/shepherd/pkg/engine"
	"github.com/steamfleet/shepherd/pkg/fleet"
	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/monitor"
	"github.com/steamfleet/shepherd/pkg/rcon"
	"github.com/steamfleet/shepherd/pkg/reconcile"
	"github.com/steamfleet/shepherd/pkg/registry"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/stats"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shepherd",
	Short: "Shepherd - Game-server fleet orchestrator",
	Long: `Shepherd provisions, runs, and monitors a fleet of containerized
game servers on a single host: container lifecycle, startup-phase
detection from log keywords, live resource stats, and RCON-backed
liveness, all streamed to observers over a websocket.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Shepherd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/shepherd/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serverCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shepherd daemon",
	Long: `Run the shepherd daemon: connect to the container engine, restore
the server registry, and serve the fleet API, observer websocket, and
metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		initLogging(cfg)

		if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		reg, err := registry.NewBoltRegistry(cfg.RegistryPath())
		if err != nil {
			return err
		}
		defer reg.Close()

		driver, err := engine.NewDriver(cfg.Engine.Host, engineConfig(cfg))
		if err != nil {
			return err
		}
		defer driver.Close()

		broker := broadcast.NewBroker()
		broker.Start()
		defer broker.Stop()

		store := state.NewStore(broker)

		mon := monitor.New(driver, store, broker, monitor.Config{
			Bootstrap:      cfg.Monitor.Bootstrap,
			GameLog:        cfg.Monitor.GameLog,
			ServersDir:     cfg.Paths.ServersDir,
			GameLogRelPath: cfg.Monitor.GameLogRelPath,
			Watchdog:       cfg.Watchdog(),
			Grace:          cfg.Grace(),
		})

		pipeline := stats.NewPipeline(driver, store, mon)
		defer pipeline.Stop()

		host := stats.NewHostSampler(store, cfg.HostInterval())
		host.Start()
		defer host.Stop()

		resolver := reconcile.New(store, rcon.NewExecCapability(driver))

		mgr := fleet.NewManager(fleet.Config{Image: cfg.Image}, reg, driver, mon, pipeline, resolver, store, allocator.New(cfg.Ports.GameBase, cfg.Ports.RconBase))

		collector := fleet.NewMetricsCollector(store)
		collector.Start()
		defer collector.Stop()

		adoptRunning(cmd.Context(), reg, driver, pipeline)

		srv := api.NewServer(mgr, reg, broker)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(cfg.Listen)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.WithComponent("main").Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// adoptRunning reattaches stats streams to containers that survived a
// daemon restart. Their startup watch is not re-run; the reconciler's
// liveness probe covers them.
func adoptRunning(ctx context.Context, reg registry.Registry, driver *engine.Driver, pipeline *stats.Pipeline) {
	servers, err := reg.List()
	if err != nil {
		log.WithComponent("main").Warn().Err(err).Msg("failed to list servers for adoption")
		return
	}
	for _, s := range servers {
		containerID, err := driver.ContainerID(ctx, s.Name)
		if err != nil {
			continue
		}
		if err := pipeline.Attach(s.Name, containerID); err != nil {
			log.WithServer(s.Name).Warn().Err(err).Msg("failed to adopt stats stream")
			continue
		}
		log.WithServer(s.Name).Info().Str("container_id", containerID).Msg("adopted running container")
	}
}

// Server registry commands
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the server registry",
}

var serverAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Provision a new server",
	Long: `Provision a new server: allocate its game and RCON ports, assign or
create its cluster, and persist it to the registry. The container is not
started; use the fleet API for that.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mapName, _ := cmd.Flags().GetString("map")
		clusterID, _ := cmd.Flags().GetString("cluster")
		maxPlayers, _ := cmd.Flags().GetInt("max-players")
		mods, _ := cmd.Flags().GetStringSlice("mods")

		cfg, reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		mgr := fleet.NewManager(fleet.Config{Image: cfg.Image}, reg, nil, nil, nil, nil, nil, allocator.New(cfg.Ports.GameBase, cfg.Ports.RconBase))
		ident, err := mgr.Provision(args[0], mapName, clusterID, maxPlayers, mods)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Server %s provisioned\n", ident.Name)
		fmt.Printf("  Map: %s\n", ident.Map)
		fmt.Printf("  Game port: %d\n", ident.Port)
		fmt.Printf("  RCON port: %d\n", ident.RconPort)
		fmt.Printf("  Cluster: %s\n", ident.ClusterID)
		return nil
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		servers, err := reg.List()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMAP\tPORT\tRCON\tCLUSTER\tMODS\tENABLED")
		for _, s := range servers {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%t\n",
				s.Name, s.Map, s.Port, s.RconPort, s.ClusterID,
				strings.Join(s.Mods, ","), s.Enabled)
		}
		return w.Flush()
	},
}

var serverRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a server from the registry",
	Long: `Remove a server's registry record, and its container if the engine
is reachable. Server files on disk are left in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		if _, err := reg.FindByName(name); err != nil {
			return err
		}

		if driver, err := engine.NewDriver(cfg.Engine.Host, engineConfig(cfg)); err == nil {
			defer driver.Close()
			if err := driver.Remove(cmd.Context(), name); err != nil {
				return fmt.Errorf("failed to remove container: %w", err)
			}
		}

		if err := reg.Delete(name); err != nil {
			return err
		}
		fmt.Printf("✓ Server %s removed\n", name)
		return nil
	},
}

func init() {
	serverAddCmd.Flags().String("map", "TheIsland_WP", "Map the server runs")
	serverAddCmd.Flags().String("cluster", allocator.NewCluster, "Cluster id, or 'new' for a fresh cluster")
	serverAddCmd.Flags().Int("max-players", 70, "Maximum concurrent players")
	serverAddCmd.Flags().StringSlice("mods", nil, "Mod ids to load")

	serverCmd.AddCommand(serverAddCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverRmCmd)
}

func openRegistry() (*config.Config, registry.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	initLogging(cfg)

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	reg, err := registry.NewBoltRegistry(cfg.RegistryPath())
	if err != nil {
		return nil, nil, err
	}
	return cfg, reg, nil
}

func initLogging(cfg *config.Config) {
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Image:         cfg.Image,
		HelperImage:   cfg.HelperImage,
		NetworkPrefix: cfg.Network.Prefix,
		ServersDir:    cfg.Paths.ServersDir,
		ClusterDir:    cfg.Paths.ClusterDir,
		SteamDir:      cfg.Paths.SteamDir,
		UID:           cfg.RunAs.UID,
		GID:           cfg.RunAs.GID,
		StopTimeout:   cfg.StopTimeout(),
	}
}
