package controlchannel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/digest"
	"github.com/harborhole/tunnelclient/internal/frame"
	"github.com/harborhole/tunnelclient/internal/transport"
)

// TestEstablishThenShutdown drives a full handshake against an in-process
// fake server and verifies Shutdown makes the worker exit promptly without
// ever reading another command.
func TestEstablishThenShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	const token = "s3cr3t"
	service := conf.ServiceConfig{Name: "web", LocalAddr: "127.0.0.1:1", Token: token, Protocol: "tcp"}
	established := make(chan struct{}, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serveHandshake(t, conn, service, true)
		established <- struct{}{}
		// Hold the connection open; the client should idle here until
		// Shutdown is called rather than reading a bogus command.
		buf := make([]byte, 1)
		conn.Read(buf)
	}()

	tf := buildFactory(t, ln.Addr().String())

	ctx := context.Background()
	handle := Start(ctx, service, ln.Addr().String(), tf)

	select {
	case <-established:
	case <-time.After(2 * time.Second):
		t.Fatalf("control channel never established")
	}

	handle.Shutdown()
	select {
	case <-waitDone(handle):
	case <-time.After(2 * time.Second):
		t.Fatalf("handle did not finish after Shutdown")
	}
}

// TestAuthFailureTriggersReconnect verifies a rejected Ack causes the
// worker to retry DIALING rather than giving up permanently.
func TestAuthFailureTriggersReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	service := conf.ServiceConfig{Name: "web", LocalAddr: "127.0.0.1:1", Token: "wrong", Protocol: "tcp"}
	attempts := make(chan struct{}, 8)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			attempts <- struct{}{}
			serveHandshake(t, conn, service, false)
			conn.Close()
		}
	}()

	tf := buildFactory(t, ln.Addr().String())
	ctx := context.Background()
	handle := Start(ctx, service, ln.Addr().String(), tf)
	defer handle.Shutdown()

	seen := 0
	timeout := time.After(3 * time.Second)
	for seen < 2 {
		select {
		case <-attempts:
			seen++
		case <-timeout:
			t.Fatalf("expected at least 2 reconnect attempts, saw %d", seen)
		}
	}
}

// serveHandshake plays the server side of the control-channel handshake
// for one connection: read Hello, send a nonce, read Auth, send Ack.
func serveHandshake(t *testing.T, conn net.Conn, service conf.ServiceConfig, acceptAuth bool) {
	t.Helper()

	if _, err := frame.ReadKind(conn); err != nil {
		return
	}
	if _, err := frame.ReadHello(conn); err != nil {
		return
	}

	nonce := digest.Service("test-nonce")
	if err := frame.WriteControlHello(conn, 1, nonce); err != nil {
		return
	}

	if _, err := frame.ReadKind(conn); err != nil {
		return
	}
	if _, err := frame.ReadAuth(conn); err != nil {
		return
	}

	result := frame.AckAuthFailed
	if acceptAuth {
		result = frame.AckOk
	}
	frame.WriteAck(conn, result)
}

func buildFactory(t *testing.T, addr string) *transport.Factory {
	t.Helper()
	tf, err := transport.Build(conf.Transport{Type: "tcp", TCP: &conf.TCP{}})
	if err != nil {
		t.Fatalf("build transport: %v", err)
	}
	return tf
}

func waitDone(h *Handle) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		h.Wait()
		close(ch)
	}()
	return ch
}
