// Package tcpt implements the plaintext TCP transport variant.
package tcpt

import (
	"context"
	"net"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/stream"
)

// Transport dials plain TCP connections.
type Transport struct {
	cfg *conf.TCP
}

// New builds a Transport from TCP config, falling back to zero-value
// defaults if cfg is nil.
func New(cfg *conf.TCP) *Transport {
	if cfg == nil {
		cfg = &conf.TCP{}
	}
	return &Transport{cfg: cfg}
}

// Dial opens a TCP connection to addr. If ctx has no deadline of its own,
// the configured DialTimeout applies.
func (t *Transport) Dial(ctx context.Context, addr string) (stream.Stream, error) {
	if _, ok := ctx.Deadline(); !ok && t.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.DialTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpStream{conn.(*net.TCPConn)}, nil
}

type tcpStream struct {
	*net.TCPConn
}

func (s *tcpStream) CloseWrite() error {
	return s.TCPConn.CloseWrite()
}
