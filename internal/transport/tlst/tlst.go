// Package tlst implements the TLS transport variant.
package tlst

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/stream"
)

// Transport dials TLS connections.
type Transport struct {
	tlsCfg      *tls.Config
	dialTimeout time.Duration
}

// New builds a Transport from TLS config.
func New(cfg *conf.TLS) (*Transport, error) {
	if cfg == nil {
		return nil, errors.New("tlst: configuration is required")
	}
	return &Transport{
		tlsCfg: &tls.Config{
			ServerName:         cfg.ServerName,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		dialTimeout: cfg.DialTimeout,
	}, nil
}

// Dial opens a TLS connection to addr. If ctx has no deadline of its own,
// the configured DialTimeout applies.
func (t *Transport) Dial(ctx context.Context, addr string) (stream.Stream, error) {
	if _, ok := ctx.Deadline(); !ok && t.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.dialTimeout)
		defer cancel()
	}
	d := tls.Dialer{Config: t.tlsCfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tlsStream{conn.(*tls.Conn)}, nil
}

// tlsStream wraps a *tls.Conn. CloseWrite half-closes the underlying TCP
// socket directly; only when the underlying connection is not TCP does it
// close the whole connection.
type tlsStream struct {
	*tls.Conn
}

func (s *tlsStream) CloseWrite() error {
	if tcp, ok := s.Conn.NetConn().(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return s.Conn.Close()
}
