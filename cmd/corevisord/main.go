// Command corevisord is the control-plane daemon: it wires the Containers
// and Networks services to the local IPC transport and serves until
// shut down or signalled. It has no interactive front-end; that is a
// separate CLI speaking the same transport (§1 Non-goals).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/corevisor/corectl/internal/containers"
	"github.com/corevisor/corectl/internal/content"
	"github.com/corevisor/corectl/internal/entitystore"
	"github.com/corevisor/corectl/internal/exitmonitor"
	"github.com/corevisor/corectl/internal/index"
	"github.com/corevisor/corectl/internal/logging"
	"github.com/corevisor/corectl/internal/netplugin"
	"github.com/corevisor/corectl/internal/networks"
	"github.com/corevisor/corectl/internal/runtimeplugin"
	"github.com/corevisor/corectl/internal/supervisor"
	"github.com/corevisor/corectl/internal/telemetry"
	"github.com/corevisor/corectl/internal/transport"
	"github.com/corevisor/corectl/pkg/types"
)

// defaultRuntimeHandler is the runtime_handler name the bundled loopback
// runtime plugin answers to.
const defaultRuntimeHandler = "corevm"

// CLI is the daemon's own flag set; the interactive CLI front-end that
// would embed this as a subcommand is out of scope (§1).
type CLI struct {
	AppRoot     string `default:"" placeholder:"<dir>" help:"root directory for daemon state (defaults to ~/.corectl)"`
	ContentRoot string `default:"" placeholder:"<dir>" help:"root directory for the content-addressed blob store (defaults to <app-root>/content)"`
	VolumesRoot string `default:"" placeholder:"<dir>" help:"root directory for managed volumes (defaults to <app-root>/volumes)"`
	SocketPath  string `default:"" placeholder:"<path>" help:"unix socket the daemon listens on (defaults to <app-root>/corectl.sock)"`
	Debug       bool   `help:"enable debug-level logging"`
	LogFile     string `default:"" placeholder:"<path>" help:"rotate daemon logs to this file instead of stderr"`

	TelemetryEndpoint string `default:"" placeholder:"<host:port>" help:"OTLP/gRPC collector endpoint; tracing is a no-op if unset"`
	RuntimeHelper     string `default:"/usr/libexec/corevisor-helper" placeholder:"<path>" help:"sandbox helper binary launched for each container"`
}

func (c *CLI) resolveRoots() error {
	if c.AppRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		c.AppRoot = filepath.Join(home, ".corectl")
	}
	if c.ContentRoot == "" {
		c.ContentRoot = filepath.Join(c.AppRoot, "content")
	}
	if c.VolumesRoot == "" {
		c.VolumesRoot = filepath.Join(c.AppRoot, "volumes")
	}
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.AppRoot, "corectl.sock")
	}
	return os.MkdirAll(c.VolumesRoot, 0o750)
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Configuration(kongyaml.Loader, "/etc/corectl/config.yaml", "~/.corectl/config.yaml"),
		kong.Description("corevisord is the control-plane daemon for lightweight-VM-backed containers."))

	if err := run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	if err := cli.resolveRoots(); err != nil {
		return err
	}
	if err := os.MkdirAll(cli.AppRoot, 0o750); err != nil {
		return fmt.Errorf("creating app root %q: %w", cli.AppRoot, err)
	}

	logLevel := "info"
	if cli.Debug {
		logLevel = "debug"
	}
	logger, err := logging.Init(logging.Options{Path: cli.LogFile, Level: logLevel})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cli.TelemetryEndpoint,
		ServiceName: "corevisord",
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer shutdownTelemetry(ctx)

	containerStore, err := entitystore.New[types.ContainerConfig](filepath.Join(cli.AppRoot, "containers"), "container")
	if err != nil {
		return err
	}
	networkStore, err := entitystore.New[types.NetworkConfig](filepath.Join(cli.AppRoot, "networks"), "network")
	if err != nil {
		return err
	}
	contentStore, err := content.Open(cli.ContentRoot)
	if err != nil {
		return err
	}

	idx, err := index.Open(filepath.Join(cli.AppRoot, "index.db"))
	if err != nil {
		return fmt.Errorf("opening secondary index: %w", err)
	}
	defer idx.Close()

	sup := supervisor.NewProcessSupervisor(func(pluginName string) (string, error) {
		if pluginName != defaultRuntimeHandler {
			return "", fmt.Errorf("no helper binary known for plugin %q", pluginName)
		}
		return cli.RuntimeHelper, nil
	})

	exitMon := exitmonitor.New()
	runtime := runtimeplugin.New(defaultRuntimeHandler, sup, nil)
	containerSvc := containers.New(
		containerStore,
		contentStore,
		sup,
		map[string]containers.RuntimePlugin{defaultRuntimeHandler: runtime},
		exitMon,
		nil,
	)
	if err := containerSvc.Boot(ctx); err != nil {
		return fmt.Errorf("booting containers service: %w", err)
	}

	networkSvc := networks.New(
		networkStore,
		sup,
		map[string]networks.Plugin{netplugin.Name: netplugin.New()},
		func(id string) string { return filepath.Join(cli.AppRoot, "networks", id) },
		containerSvc.Snapshots,
	)
	if err := networkSvc.Boot(ctx); err != nil {
		return fmt.Errorf("booting networks service: %w", err)
	}

	if err := idx.Rebuild(ctx, containerSvc.Snapshots(), listNetworkConfigs(networkStore)); err != nil {
		logger.ErrorContext(ctx, "corevisord: rebuilding secondary index", "error", err)
	}

	srv := transport.NewServer(cli.AppRoot, containerSvc, networkSvc, contentStore)
	srv.SocketPath = cli.SocketPath

	logger.InfoContext(ctx, "corevisord: serving", "socket", srv.SocketPath, "appRoot", cli.AppRoot)
	if err := srv.Serve(ctx); err != nil {
		return err
	}

	return exitMon.Wait()
}

func listNetworkConfigs(store *entitystore.Store[types.NetworkConfig]) []types.NetworkConfig {
	configs, err := store.List()
	if err != nil {
		return nil
	}
	out := make([]types.NetworkConfig, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, cfg)
	}
	return out
}
