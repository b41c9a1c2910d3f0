// Package noiset implements a Noise-inspired encrypted transport variant
// built directly from golang.org/x/crypto primitives (curve25519 ECDH,
// HKDF key derivation, ChaCha20-Poly1305 AEAD) rather than a dedicated
// Noise Protocol Framework library, since none is present anywhere in the
// reference corpus. Each side holds the same pre-shared key (derived the
// same way conf.DeriveKey derives other passphrase-based keys); a fresh
// ephemeral X25519 exchange per connection is folded into that PSK via
// HKDF so a passive observer recording one session cannot decrypt another.
package noiset

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/stream"
)

const maxRecord = 16 * 1024

// Transport dials TCP and layers the handshake and AEAD framing on top.
type Transport struct {
	psk [32]byte
}

// New builds a Transport from Noise config.
func New(cfg *conf.Noise) (*Transport, error) {
	if cfg == nil || cfg.Key == "" {
		return nil, errors.New("noiset: a pre-shared key is required")
	}
	var psk [32]byte
	copy(psk[:], conf.DeriveKey(cfg.Key))
	return &Transport{psk: psk}, nil
}

// Dial opens a TCP connection to addr and performs the ephemeral-ECDH
// handshake before handing back an encrypted Stream.
func (t *Transport) Dial(ctx context.Context, addr string) (stream.Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	s, err := handshakeClient(conn, t.psk)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("noiset: handshake: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return s, nil
}

// handshakeClient runs the client side of the ephemeral X25519 exchange
// and derives independent send/receive AEAD keys from it plus the PSK.
func handshakeClient(conn net.Conn, psk [32]byte) (*encStream, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(pub); err != nil {
		return nil, err
	}

	peerPub := make([]byte, 32)
	if _, err := io.ReadFull(conn, peerPub); err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(priv[:], peerPub)
	if err != nil {
		return nil, err
	}

	// Client->server and server->client keys are derived with swapped
	// HKDF info labels so each side's send key is the other's recv key.
	txKey, err := deriveKey(psk[:], shared, pub, peerPub, "c2s")
	if err != nil {
		return nil, err
	}
	rxKey, err := deriveKey(psk[:], shared, pub, peerPub, "s2c")
	if err != nil {
		return nil, err
	}

	tx, err := chacha20poly1305.New(txKey)
	if err != nil {
		return nil, err
	}
	rx, err := chacha20poly1305.New(rxKey)
	if err != nil {
		return nil, err
	}
	return &encStream{Conn: conn, txAEAD: tx, rxAEAD: rx}, nil
}

func deriveKey(psk, shared, a, b []byte, label string) ([]byte, error) {
	salt := append(append([]byte{}, a...), b...)
	info := append([]byte(label), shared...)
	r := hkdf.New(sha256.New, append(append([]byte{}, psk...), shared...), salt, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// encStream wraps a net.Conn with AEAD-sealed, length-prefixed records.
// Each direction carries its own monotonically incrementing nonce counter
// since tx and rx use independent keys.
type encStream struct {
	net.Conn
	txNonce uint64
	rxNonce uint64
	pending []byte
	txAEAD  cipher.AEAD
	rxAEAD  cipher.AEAD
}

func (s *encStream) CloseWrite() error {
	if tcp, ok := s.Conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return s.Conn.Close()
}

func (s *encStream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxRecord {
			chunk = chunk[:maxRecord]
		}
		nonce := make([]byte, s.txAEAD.NonceSize())
		binary.BigEndian.PutUint64(nonce[s.txAEAD.NonceSize()-8:], s.txNonce)
		s.txNonce++
		sealed := s.txAEAD.Seal(nil, nonce, chunk, nil)
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(sealed)))
		if _, err := s.Conn.Write(hdr[:]); err != nil {
			return total, err
		}
		if _, err := s.Conn.Write(sealed); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func (s *encStream) Read(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	var hdr [2]byte
	if _, err := io.ReadFull(s.Conn, hdr[:]); err != nil {
		return 0, err
	}
	ln := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, ln)
	if _, err := io.ReadFull(s.Conn, buf); err != nil {
		return 0, err
	}
	nonce := make([]byte, s.rxAEAD.NonceSize())
	binary.BigEndian.PutUint64(nonce[s.rxAEAD.NonceSize()-8:], s.rxNonce)
	s.rxNonce++
	plain, err := s.rxAEAD.Open(nil, nonce, buf, nil)
	if err != nil {
		return 0, fmt.Errorf("noiset: decrypt: %w", err)
	}
	n := copy(p, plain)
	if n < len(plain) {
		s.pending = plain[n:]
	}
	return n, nil
}
