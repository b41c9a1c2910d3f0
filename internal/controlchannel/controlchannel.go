// Package controlchannel implements the persistent per-service control
// channel: a reconnect-on-error state machine that authenticates once per
// connection and then dispatches CreateDataChannel commands to detached
// data-channel workers until shutdown. Grounded on the teacher's
// timedConn reconnect loop in internal/client, replaced with the
// INIT -> ... -> ESTABLISHED -> BACKOFF machine spec.md §4.6 describes.
package controlchannel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harborhole/tunnelclient/internal/conf"
	"github.com/harborhole/tunnelclient/internal/constants"
	"github.com/harborhole/tunnelclient/internal/datachannel"
	"github.com/harborhole/tunnelclient/internal/digest"
	"github.com/harborhole/tunnelclient/internal/flog"
	"github.com/harborhole/tunnelclient/internal/frame"
	"github.com/harborhole/tunnelclient/internal/metrics"
	"github.com/harborhole/tunnelclient/internal/transport"
)

// Handle is the supervisor's one-shot control over a running worker.
// Shutdown is idempotent: the underlying channel close happens exactly
// once regardless of how many times Shutdown is called.
type Handle struct {
	shutdown chan struct{}
	once     sync.Once
	done     chan struct{}
}

// Shutdown signals the worker to stop and returns immediately; it does not
// wait for the worker to actually exit.
func (h *Handle) Shutdown() {
	h.once.Do(func() { close(h.shutdown) })
}

// Wait blocks until the worker has fully exited.
func (h *Handle) Wait() { <-h.done }

// Start launches a control-channel worker for service and returns its
// Handle. remoteAddr and transportFactory are shared across every service.
func Start(ctx context.Context, service conf.ServiceConfig, remoteAddr string, transportFactory *transport.Factory) *Handle {
	h := &Handle{
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer metrics.SetControlChannelState(service.Name, metrics.StateShutdown)
		run(ctx, service, remoteAddr, transportFactory, h.shutdown)
	}()
	return h
}

// run drives the state machine until a shutdown signal is observed. Any
// I/O error at any stage routes to BACKOFF, which sleeps
// ControlReconnectDelay then retries DIALING, unless shutdown has already
// been signaled.
func run(ctx context.Context, service conf.ServiceConfig, remoteAddr string, tf *transport.Factory, shutdown <-chan struct{}) {
	log := flog.With(flog.Fields{"component": "controlchannel", "service": service.Name})

	for {
		select {
		case <-shutdown:
			return
		default:
		}

		if err := oneSession(ctx, log, service, remoteAddr, tf, shutdown); err != nil {
			log.Errorf("session ended: %v", err)
		}

		metrics.SetControlChannelState(service.Name, metrics.StateBackoff)
		metrics.IncReconnect(service.Name)
		select {
		case <-shutdown:
			return
		case <-time.After(constants.ControlReconnectDelay):
		}
	}
}

// oneSession runs DIALING through ESTABLISHED for a single connection
// attempt, returning when the connection drops, a protocol error occurs,
// or shutdown is signaled.
func oneSession(ctx context.Context, log *flog.Logger, service conf.ServiceConfig, remoteAddr string, tf *transport.Factory, shutdown <-chan struct{}) error {
	metrics.SetControlChannelState(service.Name, metrics.StateDialing)
	dialCtx, cancel := context.WithTimeout(ctx, constants.HandshakeDeadline)
	stream, err := tf.Dial(dialCtx, remoteAddr)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer stream.Close()

	serviceDigest := digest.Service(service.Name)
	if err := frame.WriteControlHello(stream, constants.ProtoVersion, serviceDigest); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	kind, err := frame.ReadKind(stream)
	if err != nil {
		return fmt.Errorf("read nonce: %w", err)
	}
	if kind != frame.KindControlHello {
		return fmt.Errorf("protocol error: expected ControlChannelHello nonce, got frame kind %#x", kind)
	}
	hello, err := frame.ReadHello(stream)
	if err != nil {
		return fmt.Errorf("read nonce: %w", err)
	}
	if hello.Version != constants.ProtoVersion {
		return fmt.Errorf("%w: server=%d client=%d", frame.ErrProtoMismatch, hello.Version, constants.ProtoVersion)
	}
	nonce := hello.Value

	sessionKey := digest.SessionKey(service.Token, nonce)
	if err := frame.WriteAuth(stream, sessionKey); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	kind, err = frame.ReadKind(stream)
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if kind != frame.KindAck {
		return fmt.Errorf("protocol error: expected Ack, got frame kind %#x", kind)
	}
	ack, err := frame.ReadAck(stream)
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if ack != frame.AckOk {
		return fmt.Errorf("authentication failed for service %q: %s", service.Name, ack)
	}

	log.Infof("control channel established")
	metrics.SetControlChannelState(service.Name, metrics.StateEstablished)

	args := datachannel.Args{
		ServiceName: service.Name,
		RemoteAddr:  remoteAddr,
		LocalAddr:   service.LocalAddr,
		Transport:   tf,
	}

	var activeDataChannels atomic.Int64
	spawnDataChannel := func(dcArgs datachannel.Args) {
		activeDataChannels.Add(1)
		metrics.SetDataChannelsActive(service.Name, int(activeDataChannels.Load()))
		go func() {
			defer func() {
				activeDataChannels.Add(-1)
				metrics.SetDataChannelsActive(service.Name, int(activeDataChannels.Load()))
			}()
			datachannel.Run(ctx, dcArgs)
		}()
	}

	type cmdResult struct {
		cmd frame.ControlCmd
		err error
	}
	cmds := make(chan cmdResult, 1)
	go func() {
		for {
			kind, err := frame.ReadKind(stream)
			if err == nil && kind != frame.KindControlCmd {
				err = fmt.Errorf("protocol error: unexpected frame kind %#x on control channel", kind)
			}
			var cmd frame.ControlCmd
			if err == nil {
				cmd, err = frame.ReadControlCmd(stream)
			}
			select {
			case cmds <- cmdResult{cmd, err}:
			case <-shutdown:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// ESTABLISHED: select over reading the next ControlChannelCmd and the
	// shutdown one-shot. On shutdown, closing the stream unblocks the
	// reader goroutine sitting in its blocking read.
	for {
		select {
		case <-shutdown:
			return nil
		case r := <-cmds:
			if r.err != nil {
				return fmt.Errorf("read command: %w", r.err)
			}
			switch r.cmd {
			case frame.ControlCmdCreateDataChannel:
				dcArgs := args
				dcArgs.SessionKey = sessionKey
				spawnDataChannel(dcArgs)
			default:
				log.Errorf("unknown control command %#x", r.cmd)
			}
		}
	}
}
