// Package supervisor owns the live set of control-channel handles, one per
// configured service, and reacts to ServiceChange events and process
// shutdown. Grounded on the teacher's Client.Start/shutdown-fan-out
// pattern in internal/client/client.go.
package supervisor

import (
	"context"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/controlchannel"
	"github.com/harborhole/tunnelclient/internal/flog"
	"github.com/harborhole/tunnelclient/internal/transport"
)

// Supervisor owns a handle map keyed by service name. It is not safe for
// concurrent use from multiple goroutines; Run is the only entry point and
// owns the map for its entire lifetime.
type Supervisor struct {
	remoteAddr string
	transport  *transport.Factory
	handles    map[string]*controlchannel.Handle
}

// New builds a Supervisor for the given remote address and transport
// factory, both shared read-only across every control-channel worker it
// starts.
func New(remoteAddr string, tf *transport.Factory) *Supervisor {
	return &Supervisor{
		remoteAddr: remoteAddr,
		transport:  tf,
		handles:    make(map[string]*controlchannel.Handle),
	}
}

// Run starts one control-channel handle per initial service, then reacts
// to serviceChanges and shutdown until shutdown fires. It returns once
// every live handle has had Shutdown called; it does not block waiting for
// the workers to fully exit.
func (s *Supervisor) Run(ctx context.Context, services []conf.ServiceConfig, shutdown <-chan struct{}, serviceChanges <-chan conf.ServiceChange) {
	for _, svc := range services {
		s.add(ctx, svc)
	}

	for {
		select {
		case <-shutdown:
			s.shutdownAll()
			return
		case change, ok := <-serviceChanges:
			if !ok {
				s.shutdownAll()
				return
			}
			s.apply(ctx, change)
		}
	}
}

func (s *Supervisor) apply(ctx context.Context, change conf.ServiceChange) {
	switch change.Kind {
	case conf.ServiceAdd:
		flog.Infof("service %q added, (re)starting control channel", change.Service.Name)
		s.add(ctx, change.Service)
	case conf.ServiceRemove:
		flog.Infof("service %q removed, stopping control channel", change.Name)
		s.remove(change.Name)
	case conf.ServiceOther:
		// Server-side or otherwise unrecognized changes are ignored.
	}
}

// add replaces any existing handle for the same service name; the previous
// handle is shut down first so a name collision always restarts the
// worker rather than running two in parallel.
func (s *Supervisor) add(ctx context.Context, svc conf.ServiceConfig) {
	if prev, ok := s.handles[svc.Name]; ok {
		prev.Shutdown()
	}
	s.handles[svc.Name] = controlchannel.Start(ctx, svc, s.remoteAddr, s.transport)
}

func (s *Supervisor) remove(name string) {
	if h, ok := s.handles[name]; ok {
		h.Shutdown()
		delete(s.handles, name)
	}
}

func (s *Supervisor) shutdownAll() {
	for name, h := range s.handles {
		h.Shutdown()
		delete(s.handles, name)
	}
}
