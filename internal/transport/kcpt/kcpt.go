// Package kcpt implements the KCP transport variant, an additional
// selectable option alongside plain TCP/TLS/Noise for lossy links where
// KCP's forward-error-corrected ARQ outperforms raw TCP.
package kcpt

import (
	"context"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/stream"
)

// Transport dials KCP sessions.
type Transport struct {
	block kcp.BlockCrypt
	mode  string
	mtu   int
}

// New builds a Transport from KCP config, falling back to mode fast3, MTU
// 1400 and an empty key if cfg is nil (selection still requires a key to be
// set by the caller via conf validation before Dial is ever reached).
func New(cfg *conf.KCP) *Transport {
	if cfg == nil {
		cfg = &conf.KCP{Mode: "fast3", MTU: 1400}
	}
	key := conf.DeriveKey(cfg.Key)
	block, _ := kcp.NewAESBlockCrypt(key)
	return &Transport{block: block, mode: cfg.Mode, mtu: cfg.MTU}
}

// Dial opens a KCP session to addr. kcp-go does not expose a
// context-cancelable dial, so ctx is only consulted for the case where it
// is already done before the call.
func (t *Transport) Dial(ctx context.Context, addr string) (stream.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := kcp.DialWithOptions(addr, t.block, 0, 0)
	if err != nil {
		return nil, err
	}
	applyMode(sess, t.mode)
	if t.mtu > 0 {
		sess.SetMtu(t.mtu)
	}
	sess.SetStreamMode(true)
	return &kcpStream{sess}, nil
}

func applyMode(sess *kcp.UDPSession, mode string) {
	switch mode {
	case "fast3":
		sess.SetNoDelay(1, 10, 2, 1)
	case "fast2":
		sess.SetNoDelay(1, 20, 2, 1)
	case "fast":
		sess.SetNoDelay(1, 30, 2, 1)
	case "normal":
		sess.SetNoDelay(0, 40, 0, 0)
	default:
		sess.SetNoDelay(1, 10, 2, 1)
	}
}

// kcpStream wraps a *kcp.UDPSession. KCP has no half-close primitive, so
// CloseWrite closes the whole session; this is a contract-level limitation
// documented on the Transport abstraction, not specific to this variant.
type kcpStream struct {
	*kcp.UDPSession
}

func (s *kcpStream) CloseWrite() error {
	return s.UDPSession.Close()
}

func (s *kcpStream) SetDeadline(t time.Time) error {
	return s.UDPSession.SetDeadline(t)
}
