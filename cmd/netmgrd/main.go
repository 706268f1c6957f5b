// Command netmgrd is the network reconciliation daemon: it brings up
// cluster interfaces, runs the neighbor and heartbeat protocols over them,
// and keeps the binary hosts table under its data root in sync with the
// cluster it discovers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"netmgr/internal/bridgecap"
	"netmgr/internal/config"
	"netmgr/internal/engine"
	"netmgr/internal/identity"
	"netmgr/internal/ifreg"
	"netmgr/internal/kernelmon"
	"netmgr/internal/logging"
	"netmgr/internal/platformcap"
	"netmgr/internal/tunnel"
	"netmgr/internal/workload"
)

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dataRoot string
	var debug bool
	var advertiseInterval string

	cmd := &cobra.Command{
		Use:   "netmgrd",
		Short: "Cluster network reconciliation daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			interval, err := parseOptionalDuration(advertiseInterval)
			if err != nil {
				return err
			}
			return runDaemon(ctx, dataRoot, interval)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&dataRoot, "data-root", defaultDataRoot(), "Daemon data root (node-uuid, network.yaml, partner-cache, hosts)")
	cmd.Flags().StringVar(&advertiseInterval, "advertise-interval", "", "Override the reconciliation tick interval (e.g. 3s)")
	cmd.AddCommand(hostsDumpCmd(&dataRoot))
	cmd.AddCommand(workloadListCmd())
	return cmd
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func defaultDataRoot() string {
	if root := os.Getenv("NETMGRD_DATA_ROOT"); root != "" {
		return root
	}
	return "/var/lib/netmgrd"
}

func runDaemon(ctx context.Context, dataRoot string, advertiseInterval time.Duration) error {
	log := slog.Default()

	policy, err := config.LoadPolicy(dataRoot)
	if err != nil {
		return err
	}
	selfUUID, err := config.LoadNodeUUID(dataRoot)
	if err != nil {
		return err
	}

	store, err := identity.New(identity.DefaultCapacity, log)
	if err != nil {
		return err
	}
	defer store.Close()

	platform := platformcap.Reader{}
	bridge := bridgecap.Controller{}
	source := kernelmon.NewSource(log)
	defer source.Close()

	partnerCachePath := filepath.Join(dataRoot, "partner-cache")
	sockets := engine.NewSocketOpener(log, store, partnerCachePath)

	registry := ifreg.NewRegistry(ifreg.Config{
		Log:      log,
		Link:     bridge,
		Addr:     source,
		Platform: platform,
		Bridge:   bridge,
		Sockets:  sockets,
	})

	eng := engine.New(engine.Config{
		Log:               log,
		DataRoot:          dataRoot,
		AdvertiseInterval: advertiseInterval,
		Platform:          platform,
		BridgeChecker:     bridge,
		TunnelDriver:      tunnel.WireGuardDriver{},
	}, source, store, registry, policy, selfUUID)
	sockets.SetTopologyNotifier(eng.NotifyTopologyChange)

	return eng.Run(ctx)
}

// hostsDumpCmd prints the daemon's last-written hosts snapshot without
// requiring a running daemon, for operator inspection.
func hostsDumpCmd(dataRoot *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts-dump",
		Short: "Print the daemon's last-written hosts snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filepath.Join(*dataRoot, "hosts"))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// workloadListCmd reports the containers the local Docker engine knows
// about, the admin-surface visibility this daemon exposes alongside its
// network reconciliation work.
func workloadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workload-list",
		Short: "List containers known to the local Docker engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := workload.NewDockerRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			containers, err := rt.ListContainers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range containers {
				state := "stopped"
				if c.Running {
					state = "running"
				}
				if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", c.Name, c.Image, state, strings.Join(c.Ports, ",")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
