package forward

import (
	"net"
	"testing"
	"time"

	"github.com/harborhole/tunnelclient/internal/frame"
)

func TestPortMapInsertLookupRemove(t *testing.T) {
	pm := NewPortMap()
	ch := make(chan []byte, 1)

	if _, ok := pm.Lookup("1.2.3.4:5"); ok {
		t.Fatalf("expected no entry before insert")
	}

	pm.Insert("1.2.3.4:5", ch)
	got, ok := pm.Lookup("1.2.3.4:5")
	if !ok {
		t.Fatalf("expected entry after insert")
	}
	if got != chan<- []byte(ch) {
		t.Fatalf("lookup returned wrong channel")
	}
	if pm.Len() != 1 {
		t.Fatalf("expected len 1, got %d", pm.Len())
	}

	pm.Remove("1.2.3.4:5")
	if _, ok := pm.Lookup("1.2.3.4:5"); ok {
		t.Fatalf("expected entry gone after remove")
	}
	if pm.Len() != 0 {
		t.Fatalf("expected len 0 after remove, got %d", pm.Len())
	}
}

func TestPortMapRemoveIsIdempotent(t *testing.T) {
	pm := NewPortMap()
	pm.Remove("nonexistent:1")
	if pm.Len() != 0 {
		t.Fatalf("expected len 0, got %d", pm.Len())
	}
}

// TestForwarderEvictsOnInboundClose verifies the termination path spec §4.3
// describes for a closed inbound channel: Run must return and the port map
// entry must be gone, with no reliance on the idle timer.
func TestForwarderEvictsOnInboundClose(t *testing.T) {
	service, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen service: %v", err)
	}
	defer service.Close()

	local, err := net.DialUDP("udp", nil, service.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial local: %v", err)
	}
	defer local.Close()

	pm := NewPortMap()
	inbound := make(chan []byte)
	outbound := make(chan frame.UDPTraffic, 4)
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9999}

	pm.Insert("10.0.0.1:9999", inbound)
	fw := NewForwarder(local, inbound, outbound, from, "10.0.0.1:9999", pm)

	done := make(chan struct{})
	go func() {
		fw.Run()
		close(done)
	}()

	close(inbound)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("forwarder did not exit after inbound channel closed")
	}

	if _, ok := pm.Lookup("10.0.0.1:9999"); ok {
		t.Fatalf("expected port map entry evicted after forwarder exit")
	}
}

// TestForwarderRelaysLocalReply verifies the local-reply leg of the select
// loop: a datagram the "local service" sends back should surface as an
// UdpTraffic frame on the outbound channel, tagged with the visitor's
// address.
func TestForwarderRelaysLocalReply(t *testing.T) {
	service, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen service: %v", err)
	}
	defer service.Close()

	local, err := net.DialUDP("udp", nil, service.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial local: %v", err)
	}
	defer local.Close()

	pm := NewPortMap()
	inbound := make(chan []byte)
	outbound := make(chan frame.UDPTraffic, 4)
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 4242}

	pm.Insert("10.0.0.2:4242", inbound)
	fw := NewForwarder(local, inbound, outbound, from, "10.0.0.2:4242", pm)
	go fw.Run()
	defer close(inbound)

	// Prime the "service" with something from the visitor so it learns
	// the forwarder's ephemeral source address, the same way a real local
	// service only ever replies to a peer it has already heard from.
	inbound <- []byte("hello-service")
	buf := make([]byte, 1500)
	_, peer, err := service.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("service read: %v", err)
	}

	payload := []byte("reply-from-local-service")
	if _, err := service.WriteToUDP(payload, peer); err != nil {
		t.Fatalf("service reply: %v", err)
	}

	select {
	case traffic := <-outbound:
		if string(traffic.Data) != string(payload) {
			t.Fatalf("expected payload %q, got %q", payload, traffic.Data)
		}
		if traffic.From != from {
			t.Fatalf("expected From to be the visitor address")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for relayed reply")
	}
}
