// Command client is the reverse-tunnel client's CLI entry point: load
// config, watch the service directory for changes, wire up logging and
// metrics, and run until an OS signal asks it to stop. Grounded on the
// teacher's cmd/ package, generalized from its cobra command tree for a
// TUN-device client to the `run` and `version` commands of this one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/flog"
	"github.com/harborhole/tunnelclient/internal/tunnel"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "client",
		Short: "Reverse-tunnel client",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var configPath string
	var servicesDir string
	var logLevel int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tunnel client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(configPath, servicesDir, logLevel, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to client config file")
	cmd.Flags().StringVar(&servicesDir, "services-dir", "", "directory watched for per-service config files (disabled when empty)")
	cmd.Flags().IntVar(&logLevel, "log-level", int(flog.Info), "log level: 0=debug 1=info 2=warn 3=error 4=fatal -1=none")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics listener (disabled when empty)")

	return cmd
}

func runClient(configPath, servicesDir string, logLevel int, metricsAddr string) error {
	// flog.Close is never called here: control- and data-channel workers
	// are still allowed to be unwinding after Run returns (supervisor.Run
	// does not wait for them), and a log call racing a closed channel
	// would panic.
	flog.SetLevel(logLevel)

	cfg, err := conf.Load(configPath)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(shutdown)
	}()

	var serviceChanges <-chan conf.ServiceChange
	if servicesDir != "" {
		ch, err := conf.Watch(ctx, servicesDir)
		if err != nil {
			return fmt.Errorf("client: watch %s: %w", servicesDir, err)
		}
		serviceChanges = ch
	} else {
		serviceChanges = make(chan conf.ServiceChange)
	}

	go tunnel.RunMetrics(metricsAddr)

	return tunnel.Run(ctx, cfg, shutdown, serviceChanges)
}
