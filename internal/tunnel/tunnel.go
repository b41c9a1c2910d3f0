// Package tunnel wires together the transport factory, the supervisor, and
// the metrics listener into the single Run entry point cmd/client calls.
// This is the run_client named in spec.md §6, generalized from the
// teacher's Client.New/Client.Start split in internal/client/client.go.
package tunnel

import (
	"context"
	"fmt"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/flog"
	"github.com/harborhole/tunnelclient/internal/metrics"
	"github.com/harborhole/tunnelclient/internal/supervisor"
	"github.com/harborhole/tunnelclient/internal/transport"
)

// Run builds the transport factory from cfg, starts one control-channel
// handle per configured service, and blocks reacting to serviceChanges
// until shutdown fires.
func Run(ctx context.Context, cfg *conf.ClientConfig, shutdown <-chan struct{}, serviceChanges <-chan conf.ServiceChange) error {
	tf, err := transport.Build(cfg.Transport)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}

	flog.Infof("starting tunnel client: remote=%s transport=%s services=%d", cfg.RemoteAddr, cfg.Transport.Type, len(cfg.Services))

	sup := supervisor.New(cfg.RemoteAddr, tf)
	sup.Run(ctx, cfg.Services, shutdown, serviceChanges)

	flog.Infof("tunnel client stopped")
	return nil
}

// RunMetrics starts the Prometheus debug listener on addr. It blocks;
// callers run it in its own goroutine. A listener failure is logged but
// does not bring down the rest of the client, since metrics are purely
// observational.
func RunMetrics(addr string) {
	if addr == "" {
		return
	}
	if err := metrics.ListenAndServe(addr); err != nil {
		flog.Errorf("metrics listener stopped: %v", err)
	}
}
