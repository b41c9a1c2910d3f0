// Package transport defines the capability set every transport variant
// (plain TCP, TLS, KCP, Noise) implements: dial a remote address and
// produce a reliable, ordered, bidirectional byte Stream. Selection
// happens once at startup from configuration; the known variants share no
// state, so this is a small dispatch indirection rather than a class
// hierarchy.
package transport

import (
	"context"
	"fmt"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/stream"
	"github.com/harborhole/tunnelclient/internal/transport/kcpt"
	"github.com/harborhole/tunnelclient/internal/transport/noiset"
	"github.com/harborhole/tunnelclient/internal/transport/tcpt"
	"github.com/harborhole/tunnelclient/internal/transport/tlst"
)

// Stream is a reliable, ordered, bidirectional byte stream to the server.
type Stream = stream.Stream

// Dialer is the capability set a transport variant implements.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Stream, error)
}

// Factory is a shared, reference-counted, never-mutated-after-construction
// handle wrapping the one Dialer selected at startup. It is safe to use
// concurrently from every control- and data-channel worker.
type Factory struct {
	dialer Dialer
}

// Build constructs a Factory from the configured transport type. Unknown or
// disabled variants fail immediately with a clear message, per the
// transport abstraction's selection contract.
func Build(cfg conf.Transport) (*Factory, error) {
	switch cfg.Type {
	case "tcp":
		return &Factory{dialer: tcpt.New(cfg.TCP)}, nil
	case "tls":
		d, err := tlst.New(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("transport: tls: %w", err)
		}
		return &Factory{dialer: d}, nil
	case "kcp":
		return &Factory{dialer: kcpt.New(cfg.KCP)}, nil
	case "noise":
		d, err := noiset.New(cfg.Noise)
		if err != nil {
			return nil, fmt.Errorf("transport: noise: %w", err)
		}
		return &Factory{dialer: d}, nil
	case "":
		return nil, fmt.Errorf("transport: client.transport.type is required")
	default:
		return nil, fmt.Errorf("transport: unsupported or disabled transport type %q", cfg.Type)
	}
}

// Dial opens a new Stream to addr using the selected transport.
func (f *Factory) Dial(ctx context.Context, addr string) (Stream, error) {
	return f.dialer.Dial(ctx, addr)
}
