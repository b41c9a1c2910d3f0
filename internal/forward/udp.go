// Package forward implements the per-visitor UDP forwarder and the shared
// port map the UDP demultiplex loop (internal/datachannel) uses to route
// inbound datagrams to the right forwarder instance. Grounded on the
// teacher's forward.listenUDP/udpReadLoop/udpWriteLoop session bookkeeping,
// adapted from a listen-side fan-out keyed by (client,target) pair to a
// per-visitor forwarder keyed by the visitor's address alone.
package forward

import (
	"net"
	"sync"
	"time"

	"github.com/harborhole/tunnelclient/internal/constants"
	"github.com/harborhole/tunnelclient/internal/flog"
	"github.com/harborhole/tunnelclient/internal/frame"
	"github.com/harborhole/tunnelclient/internal/pkg/buffer"
)

// PortMap tracks, for each visitor address, the channel its forwarder reads
// inbound payloads from. Reads dominate; the single writer insert path (the
// demux loop's reader, see internal/datachannel) holds the write lock only
// for the insert itself; the forwarder is spawned after the lock is released.
type PortMap struct {
	mu      sync.RWMutex
	entries map[string]chan<- []byte
}

// NewPortMap returns an empty port map.
func NewPortMap() *PortMap {
	return &PortMap{entries: make(map[string]chan<- []byte)}
}

// Lookup returns the inbound channel registered for key, if any.
func (m *PortMap) Lookup(key string) (chan<- []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.entries[key]
	return ch, ok
}

// Insert registers ch as the inbound channel for key. Only the demux loop's
// reader ever calls this, so no separate insert lock is needed beyond the
// map's own.
func (m *PortMap) Insert(key string, ch chan<- []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = ch
}

// Remove evicts key. A forwarder removes only its own key, on every exit
// path including panic recovery, so per-visitor state cannot outlive its
// forwarder.
func (m *PortMap) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len reports the number of live entries, for the port-map-size metric.
func (m *PortMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Forwarder owns one local UDP socket bound toward a visitor's target
// service. Its main loop multiplexes three events with fair scheduling:
// inbound payloads relayed from the data channel, local replies destined
// back to the server, and an idle timer bounding how long per-visitor state
// survives.
type Forwarder struct {
	conn     *net.UDPConn
	inbound  <-chan []byte
	outbound chan<- frame.UDPTraffic
	from     *net.UDPAddr
	key      string
	portMap  *PortMap
}

// NewForwarder builds a Forwarder. conn must already be connected toward
// the visitor's target local service. outbound is the shared sender of
// UdpTraffic frames back to the server; inbound is this visitor's
// dedicated channel, already inserted into portMap by the caller before
// Run is started.
func NewForwarder(conn *net.UDPConn, inbound <-chan []byte, outbound chan<- frame.UDPTraffic, from *net.UDPAddr, key string, portMap *PortMap) *Forwarder {
	return &Forwarder{
		conn:     conn,
		inbound:  inbound,
		outbound: outbound,
		from:     from,
		key:      key,
		portMap:  portMap,
	}
}

// Run blocks until the forwarder terminates: the inbound channel closes,
// the local socket errors, or the idle timer fires with no activity in
// either direction. Every exit path evicts this forwarder's own entry from
// the port map before returning.
func (f *Forwarder) Run() {
	defer func() {
		f.portMap.Remove(f.key)
		f.conn.Close()
		flog.Debugf("udp forwarder for %s closed", f.from)
	}()

	replies := make(chan []byte, 1)
	readErrs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go f.readLocalReplies(replies, readErrs, done)

	for {
		timer := time.NewTimer(constants.UDPIdleTimeout)
		select {
		case payload, ok := <-f.inbound:
			timer.Stop()
			if !ok {
				return
			}
			if _, err := f.conn.Write(payload); err != nil {
				flog.Debugf("udp forwarder for %s: local write failed: %v", f.from, err)
				return
			}
		case data := <-replies:
			timer.Stop()
			select {
			case f.outbound <- frame.UDPTraffic{From: f.from, Data: data}:
			default:
				flog.Debugf("udp forwarder for %s: outbound queue full, dropping reply", f.from)
			}
		case err := <-readErrs:
			timer.Stop()
			flog.Debugf("udp forwarder for %s: local read failed: %v", f.from, err)
			return
		case <-timer.C:
			flog.Debugf("udp forwarder for %s: idle timeout", f.from)
			return
		}
	}
}

// readLocalReplies feeds the Forwarder's select loop from the local UDP
// socket on its own goroutine, so the main loop can multiplex local reads
// against inbound traffic and the idle timer without blocking on any one
// of them. It exits when done is closed by Run's deferred cleanup, or when
// the local socket errors (which Run also treats as terminal).
func (f *Forwarder) readLocalReplies(replies chan<- []byte, errs chan<- error, done <-chan struct{}) {
	bufp := buffer.UPool.Get().(*[]byte)
	defer buffer.UPool.Put(bufp)
	buf := *bufp
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case replies <- pkt:
		case <-done:
			return
		}
	}
}

// Dial opens a UDP socket "connected" toward localAddr, suitable for
// handing to NewForwarder.
func Dial(localAddr string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, addr)
}
