// Package frame implements the binary encoding of the small set of
// control/data frames the client exchanges with the server. Every frame
// starts with a one-byte kind tag so a reader can dispatch without look-ahead.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/harborhole/tunnelclient/internal/digest"
)

// Kind tags the frame family on the wire.
type Kind byte

const (
	KindControlHello Kind = 0x01 // ControlChannelHello(proto_version, digest)
	KindDataHello     Kind = 0x02 // DataChannelHello(proto_version, session_key)
	KindAuth          Kind = 0x03 // Auth(session_key)
	KindAck           Kind = 0x04 // Ack(result)
	KindControlCmd    Kind = 0x05 // ControlChannelCmd
	KindDataCmd       Kind = 0x06 // DataChannelCmd
	KindUDPTraffic    Kind = 0x07 // UdpTraffic
)

var ErrProtoMismatch = errors.New("frame: proto_version mismatch")

// ReadKind reads the one-byte frame tag a caller uses to dispatch to the
// right Read* function below.
func ReadKind(r io.Reader) (Kind, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Kind(b[0]), nil
}

// Hello carries either a ControlChannelHello or a DataChannelHello. Which
// one it is follows from the Kind byte already consumed by the caller; Hello
// itself only carries the version and the 32-byte payload.
type Hello struct {
	Version byte
	Value   digest.Digest
}

// ReadHello reads the version byte and 32-byte value of a Hello frame. It
// does not consume the leading Kind byte; callers read that with ReadKind
// first so they know whether this is a control or data hello.
func ReadHello(r io.Reader) (Hello, error) {
	var h Hello
	var vb [1]byte
	if _, err := io.ReadFull(r, vb[:]); err != nil {
		return h, err
	}
	h.Version = vb[0]
	if _, err := io.ReadFull(r, h.Value[:]); err != nil {
		return h, err
	}
	return h, nil
}

// WriteControlHello writes a ControlChannelHello(proto_version, value).
func WriteControlHello(w io.Writer, version byte, value digest.Digest) error {
	return writeHello(w, KindControlHello, version, value)
}

// WriteDataHello writes a DataChannelHello(proto_version, session_key).
func WriteDataHello(w io.Writer, version byte, sessionKey digest.Digest) error {
	return writeHello(w, KindDataHello, version, sessionKey)
}

func writeHello(w io.Writer, kind Kind, version byte, value digest.Digest) error {
	buf := make([]byte, 0, 1+1+len(value))
	buf = append(buf, byte(kind), version)
	buf = append(buf, value[:]...)
	_, err := w.Write(buf)
	return err
}

// AckResult enumerates the outcome of an authentication attempt.
type AckResult byte

const (
	AckOk         AckResult = 0x00
	AckAuthFailed AckResult = 0x01
	AckProtoMismatch AckResult = 0x02
)

func (r AckResult) String() string {
	switch r {
	case AckOk:
		return "ok"
	case AckAuthFailed:
		return "auth failed"
	case AckProtoMismatch:
		return "proto mismatch"
	default:
		return "unknown"
	}
}

// ReadAck reads the one-byte Ack payload. The Kind byte is assumed already
// consumed.
func ReadAck(r io.Reader) (AckResult, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return AckResult(b[0]), nil
}

// WriteAck writes an Ack frame with the given result.
func WriteAck(w io.Writer, result AckResult) error {
	_, err := w.Write([]byte{byte(KindAck), byte(result)})
	return err
}

// WriteAuth writes an Auth(session_key) frame.
func WriteAuth(w io.Writer, sessionKey digest.Digest) error {
	buf := make([]byte, 0, 1+len(sessionKey))
	buf = append(buf, byte(KindAuth))
	buf = append(buf, sessionKey[:]...)
	_, err := w.Write(buf)
	return err
}

// ReadAuth reads the 32-byte session key of an Auth frame. The Kind byte is
// assumed already consumed.
func ReadAuth(r io.Reader) (digest.Digest, error) {
	var d digest.Digest
	_, err := io.ReadFull(r, d[:])
	return d, err
}

// ControlCmd is the command set a control channel dispatches. Currently a
// singleton.
type ControlCmd byte

const ControlCmdCreateDataChannel ControlCmd = 0x01

// WriteControlCmd writes a ControlChannelCmd frame.
func WriteControlCmd(w io.Writer, cmd ControlCmd) error {
	_, err := w.Write([]byte{byte(KindControlCmd), byte(cmd)})
	return err
}

// ReadControlCmd reads the one-byte command. The Kind byte is assumed
// already consumed.
func ReadControlCmd(r io.Reader) (ControlCmd, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return ControlCmd(b[0]), nil
}

// DataCmd tells a freshly dialed data channel what to do next.
type DataCmd byte

const (
	DataCmdStartForwardTCP DataCmd = 0x01
	DataCmdStartForwardUDP DataCmd = 0x02
)

// WriteDataCmd writes a DataChannelCmd frame.
func WriteDataCmd(w io.Writer, cmd DataCmd) error {
	_, err := w.Write([]byte{byte(KindDataCmd), byte(cmd)})
	return err
}

// ReadDataCmd reads the one-byte command. The Kind byte is assumed already
// consumed.
func ReadDataCmd(r io.Reader) (DataCmd, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return DataCmd(b[0]), nil
}

// UDPTraffic is the unit of UDP multiplexing over a data channel: one
// visitor's datagram, tagged with its source address so the far end can
// demultiplex or re-tag replies.
type UDPTraffic struct {
	From *net.UDPAddr
	Data []byte
}

const (
	addrTypeIPv4 byte = 0x01
	addrTypeIPv6 byte = 0x02
)

// WriteUDPTraffic writes the kind byte, a one-byte header-length, an address
// header, a two-byte payload length, and the payload. The header length tells
// the reader how many header bytes to read; ReadUDPTraffic accepts only a
// header that is exactly one IPv4 or IPv6 address and rejects any other.
func WriteUDPTraffic(w io.Writer, t UDPTraffic) error {
	header, err := encodeAddr(t.From)
	if err != nil {
		return err
	}
	if len(header) > 255 {
		return errors.New("frame: udp header too long")
	}
	if len(t.Data) > 65535 {
		return errors.New("frame: udp payload too long")
	}
	buf := make([]byte, 0, 1+1+len(header)+2+len(t.Data))
	buf = append(buf, byte(KindUDPTraffic), byte(len(header)))
	buf = append(buf, header...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(t.Data)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, t.Data...)
	_, err = w.Write(buf)
	return err
}

// ReadUDPTraffic reads a UdpTraffic frame into buf, returning the slice of
// buf holding the payload. The Kind byte is assumed already consumed. buf
// must be at least constants.UDPBufferSize to hold the largest payload.
func ReadUDPTraffic(r io.Reader, buf []byte) (UDPTraffic, error) {
	var hlen [1]byte
	if _, err := io.ReadFull(r, hlen[:]); err != nil {
		return UDPTraffic{}, err
	}
	header := make([]byte, hlen[0])
	if _, err := io.ReadFull(r, header); err != nil {
		return UDPTraffic{}, err
	}
	addr, err := decodeAddr(header)
	if err != nil {
		return UDPTraffic{}, err
	}
	var plen [2]byte
	if _, err := io.ReadFull(r, plen[:]); err != nil {
		return UDPTraffic{}, err
	}
	n := int(binary.BigEndian.Uint16(plen[:]))
	if n > len(buf) {
		return UDPTraffic{}, io.ErrShortBuffer
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return UDPTraffic{}, err
	}
	return UDPTraffic{From: addr, Data: buf[:n]}, nil
}

// encodeAddr packs a UDP address as type(1) + ip(4 or 16) + port(2).
func encodeAddr(addr *net.UDPAddr) ([]byte, error) {
	if addr == nil {
		return nil, errors.New("frame: nil udp address")
	}
	ip4 := addr.IP.To4()
	var out []byte
	if ip4 != nil {
		out = make([]byte, 0, 1+4+2)
		out = append(out, addrTypeIPv4)
		out = append(out, ip4...)
	} else {
		ip16 := addr.IP.To16()
		if ip16 == nil {
			return nil, errors.New("frame: invalid udp address")
		}
		out = make([]byte, 0, 1+16+2)
		out = append(out, addrTypeIPv6)
		out = append(out, ip16...)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(addr.Port))
	out = append(out, portBuf[:]...)
	return out, nil
}

func decodeAddr(header []byte) (*net.UDPAddr, error) {
	if len(header) < 1 {
		return nil, errors.New("frame: short address header")
	}
	switch header[0] {
	case addrTypeIPv4:
		if len(header) != 1+4+2 {
			return nil, errors.New("frame: malformed ipv4 address header")
		}
		port := binary.BigEndian.Uint16(header[5:7])
		return &net.UDPAddr{IP: net.IP(header[1:5]), Port: int(port)}, nil
	case addrTypeIPv6:
		if len(header) != 1+16+2 {
			return nil, errors.New("frame: malformed ipv6 address header")
		}
		port := binary.BigEndian.Uint16(header[17:19])
		return &net.UDPAddr{IP: net.IP(header[1:17]), Port: int(port)}, nil
	default:
		return nil, errors.New("frame: unknown address type")
	}
}
