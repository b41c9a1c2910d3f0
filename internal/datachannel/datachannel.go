// Package datachannel implements the one-shot worker spawned for every
// CreateDataChannel command: dial the server, announce the session, read
// what the server wants forwarded, and either splice a TCP stream or run
// the UDP demultiplex loop until the connection ends. Grounded on the
// teacher's client.newStrm backoff helper and the forward package's
// session bookkeeping, generalized into the handshake-retry-then-dispatch
// lifecycle.
package datachannel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/harborhole/tunnelclient/internal/constants"
	"github.com/harborhole/tunnelclient/internal/digest"
	"github.com/harborhole/tunnelclient/internal/flog"
	"github.com/harborhole/tunnelclient/internal/forward"
	"github.com/harborhole/tunnelclient/internal/frame"
	"github.com/harborhole/tunnelclient/internal/metrics"
	"github.com/harborhole/tunnelclient/internal/pkg/buffer"
	"github.com/harborhole/tunnelclient/internal/transport"
)

// Args is the value captured at CreateDataChannel spawn time and handed to
// the worker by value, so a control-channel reconnect that rotates the
// session key never invalidates a worker already in flight. There is no
// PortMap field: spec.md §3/§4.5 scope the UdpPortMap to a single UDP data
// channel, so runUDPDemux builds its own rather than reusing one handed
// down from the control channel.
type Args struct {
	SessionKey  digest.Digest
	ServiceName string
	RemoteAddr  string
	LocalAddr   string
	Transport   *transport.Factory
}

// Run executes one data channel end to end: handshake with retry, hello,
// read the server's command, dispatch, exit. A failure at any stage is
// logged and never restarted directly — the next CreateDataChannel command
// from the control channel starts a fresh worker.
func Run(ctx context.Context, args Args) {
	log := flog.With(flog.Fields{"component": "datachannel", "session": args.SessionKey.String()})

	stream, err := dialWithBackoff(ctx, args.Transport, args.RemoteAddr)
	if err != nil {
		log.Errorf("handshake failed: %v", err)
		return
	}
	defer stream.Close()

	if err := frame.WriteDataHello(stream, constants.ProtoVersion, args.SessionKey); err != nil {
		log.Errorf("hello send failed: %v", err)
		return
	}

	kind, err := frame.ReadKind(stream)
	if err != nil {
		log.Errorf("read command failed: %v", err)
		return
	}
	if kind != frame.KindDataCmd {
		log.Errorf("unexpected frame kind %#x, expected DataChannelCmd", kind)
		return
	}
	cmd, err := frame.ReadDataCmd(stream)
	if err != nil {
		log.Errorf("read command failed: %v", err)
		return
	}

	switch cmd {
	case frame.DataCmdStartForwardTCP:
		runTCPSplice(log, stream, args.LocalAddr)
	case frame.DataCmdStartForwardUDP:
		runUDPDemux(ctx, log, stream, args)
	default:
		log.Errorf("unknown data channel command %#x", cmd)
	}
}

// dialWithBackoff retries the handshake dial with exponential backoff
// capped at HandshakeBackoffMax, bounded overall by HandshakeDeadline.
func dialWithBackoff(ctx context.Context, f *transport.Factory, addr string) (transport.Stream, error) {
	deadline := time.Now().Add(constants.HandshakeDeadline)
	backoff := constants.HandshakeBackoffInitial

	var lastErr error
	for attempt := 0; time.Now().Before(deadline); attempt++ {
		dialCtx, cancel := context.WithDeadline(ctx, deadline)
		stream, err := f.Dial(dialCtx, addr)
		cancel()
		if err == nil {
			return stream, nil
		}
		lastErr = err
		flog.Debugf("data channel dial attempt %d failed: %v", attempt+1, err)

		if time.Now().Add(backoff).After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > constants.HandshakeBackoffMax {
			backoff = constants.HandshakeBackoffMax
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("datachannel: handshake deadline exceeded")
	}
	return nil, lastErr
}

// runTCPSplice dials the local TCP service and copies bytes in both
// directions until either side closes. Errors are logged but not
// propagated; connection teardown is treated as normal EOF.
func runTCPSplice(log *flog.Logger, remote transport.Stream, localAddr string) {
	local, err := net.Dial("tcp", localAddr)
	if err != nil {
		log.Errorf("dial local tcp service %s: %v", localAddr, err)
		return
	}
	defer local.Close()

	done := make(chan struct{}, 2)
	go func() {
		bufp := buffer.TPool.Get().(*[]byte)
		defer buffer.TPool.Put(bufp)
		io.CopyBuffer(remote, local, *bufp)
		if cw, ok := remote.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		bufp := buffer.TPool.Get().(*[]byte)
		defer buffer.TPool.Put(bufp)
		io.CopyBuffer(local, remote, *bufp)
		if tcp, ok := local.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}

// runUDPDemux enters the UDP demultiplex loop described in spec.md §4.5:
// a writer task drains a bounded outbound queue onto the wire, while this
// goroutine reads UdpTraffic frames and routes them to per-visitor
// forwarders, creating one on first sight of a new visitor address.
//
// The port map and every forwarder spawned from it belong to this one data
// channel: spec.md §3/§4.5 scope the UdpPortMap per UDP data channel, and
// reusing one across reconnects would let a new data channel route traffic
// into a forwarder still bound to a dying connection. Forwarders also
// outlive the read loop below in the ordinary case (they idle out on their
// own schedule), so outbound — their shared send target — is only closed
// after every forwarder this loop spawned has actually exited; each is
// told to stop by closing its own inbound channel rather than by closing
// the channel it sends on.
func runUDPDemux(ctx context.Context, log *flog.Logger, stream transport.Stream, args Args) {
	portMap := forward.NewPortMap()
	outbound := make(chan frame.UDPTraffic, constants.UDPSendQueueSize)
	writerDone := make(chan struct{})
	go udpWriter(log, stream, outbound, writerDone)

	var fwWG sync.WaitGroup
	var inboundChans []chan []byte // only the read loop below ever appends

	defer func() {
		for _, ch := range inboundChans {
			close(ch)
		}
		fwWG.Wait()
		metrics.SetUDPPortMapSize(args.ServiceName, portMap.Len())
		close(outbound)
		<-writerDone
	}()

	bufp := buffer.UPool.Get().(*[]byte)
	defer buffer.UPool.Put(bufp)
	buf := *bufp
	for {
		kind, err := frame.ReadKind(stream)
		if err != nil {
			if err != io.EOF {
				log.Debugf("udp demux read failed: %v", err)
			}
			return
		}
		if kind != frame.KindUDPTraffic {
			log.Errorf("unexpected frame kind %#x in udp demux", kind)
			return
		}
		traffic, err := frame.ReadUDPTraffic(stream, buf)
		if err != nil {
			log.Debugf("udp demux decode failed: %v", err)
			return
		}

		key := traffic.From.String()
		if ch, ok := portMap.Lookup(key); ok {
			deliver(ch, traffic.Data)
			continue
		}

		// Only this reader ever inserts, so there is no "insert raced
		// ahead of us" case to re-check for.
		local, err := forward.Dial(args.LocalAddr)
		if err != nil {
			log.Errorf("udp demux: dial local service for %s: %v", traffic.From, err)
			continue
		}
		inbound := make(chan []byte, constants.UDPSendQueueSize)
		portMap.Insert(key, inbound)
		inboundChans = append(inboundChans, inbound)
		metrics.SetUDPPortMapSize(args.ServiceName, portMap.Len())

		fw := forward.NewForwarder(local, inbound, outbound, traffic.From, key, portMap)
		fwWG.Add(1)
		go func() {
			defer fwWG.Done()
			fw.Run()
		}()

		deliver(inbound, traffic.Data)
	}
}

// deliver sends payload into a visitor's inbound channel without blocking
// the demux reader indefinitely; the source's stated backpressure is
// bounded, not unlimited, so a full channel drops rather than stalls the
// single reader that every other visitor also depends on.
func deliver(ch chan<- []byte, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case ch <- cp:
	default:
		flog.Debugf("udp demux: visitor inbound queue full, dropping packet")
	}
}

// udpWriter drains outbound and writes each frame to the wire. On write
// error the task exits; the reader side observes only the wire error on
// its own next read, which is sufficient to unwind the worker.
func udpWriter(log *flog.Logger, w io.Writer, outbound <-chan frame.UDPTraffic, done chan<- struct{}) {
	defer close(done)
	for traffic := range outbound {
		if err := frame.WriteUDPTraffic(w, traffic); err != nil {
			log.Debugf("udp demux write failed: %v", err)
			return
		}
	}
}
