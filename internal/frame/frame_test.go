package frame

import (
	"bytes"
	"net"
	"testing"

	"github.com/harborhole/tunnelclient/internal/digest"
)

func TestHelloRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := digest.Service("ssh")
	if err := WriteControlHello(&buf, 1, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	kind, err := ReadKind(&buf)
	if err != nil {
		t.Fatalf("read kind: %v", err)
	}
	if kind != KindControlHello {
		t.Fatalf("kind = %v, want %v", kind, KindControlHello)
	}

	got, err := ReadHello(&buf)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.Value != want {
		t.Errorf("value = %x, want %x", got.Value, want)
	}
}

func TestAckRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAck(&buf, AckAuthFailed); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadKind(&buf); err != nil {
		t.Fatalf("read kind: %v", err)
	}
	got, err := ReadAck(&buf)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if got != AckAuthFailed {
		t.Errorf("ack = %v, want %v", got, AckAuthFailed)
	}
}

func TestControlAndDataCmdRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteControlCmd(&buf, ControlCmdCreateDataChannel); err != nil {
		t.Fatalf("write control cmd: %v", err)
	}
	if _, err := ReadKind(&buf); err != nil {
		t.Fatalf("read kind: %v", err)
	}
	cmd, err := ReadControlCmd(&buf)
	if err != nil {
		t.Fatalf("read control cmd: %v", err)
	}
	if cmd != ControlCmdCreateDataChannel {
		t.Errorf("cmd = %v, want %v", cmd, ControlCmdCreateDataChannel)
	}

	buf.Reset()
	if err := WriteDataCmd(&buf, DataCmdStartForwardUDP); err != nil {
		t.Fatalf("write data cmd: %v", err)
	}
	if _, err := ReadKind(&buf); err != nil {
		t.Fatalf("read kind: %v", err)
	}
	dcmd, err := ReadDataCmd(&buf)
	if err != nil {
		t.Fatalf("read data cmd: %v", err)
	}
	if dcmd != DataCmdStartForwardUDP {
		t.Errorf("cmd = %v, want %v", dcmd, DataCmdStartForwardUDP)
	}
}

func TestUDPTrafficRoundTripIPv4(t *testing.T) {
	var buf bytes.Buffer
	from := &net.UDPAddr{IP: net.ParseIP("203.0.113.7").To4(), Port: 51820}
	payload := []byte("hello visitor")
	if err := WriteUDPTraffic(&buf, UDPTraffic{From: from, Data: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadKind(&buf); err != nil {
		t.Fatalf("read kind: %v", err)
	}
	rbuf := make([]byte, 65535)
	got, err := ReadUDPTraffic(&buf, rbuf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.From.String() != from.String() {
		t.Errorf("from = %s, want %s", got.From, from)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Errorf("data = %q, want %q", got.Data, payload)
	}
}

func TestUDPTrafficRoundTripIPv6(t *testing.T) {
	var buf bytes.Buffer
	from := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 53}
	payload := []byte{0x01, 0x02, 0x03}
	if err := WriteUDPTraffic(&buf, UDPTraffic{From: from, Data: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadKind(&buf); err != nil {
		t.Fatalf("read kind: %v", err)
	}
	rbuf := make([]byte, 65535)
	got, err := ReadUDPTraffic(&buf, rbuf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.From.String() != from.String() {
		t.Errorf("from = %s, want %s", got.From, from)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Errorf("data = %q, want %q", got.Data, payload)
	}
}

func TestSessionKeyDerivation(t *testing.T) {
	nonce := digest.Digest{}
	for i := range nonce {
		nonce[i] = byte(i)
	}
	key1 := digest.SessionKey("T", nonce)
	key2 := digest.SessionKey("T", nonce)
	if key1 != key2 {
		t.Errorf("derivation not deterministic: %x != %x", key1, key2)
	}
	other := digest.SessionKey("U", nonce)
	if key1 == other {
		t.Errorf("different tokens produced the same session key")
	}
}
