// Package constants holds the tuning surface shared by every worker in the
// client: buffer sizes, queue depths, timeouts and the wire protocol version.
package constants

import "time"

const (
	// ProtoVersion is embedded in every Hello frame. The server must echo it
	// back; a mismatch is a protocol error.
	ProtoVersion byte = 1

	// UDPBufferSize bounds a single read from a visitor-facing local UDP
	// socket.
	UDPBufferSize = 64 * 1024

	// UDPSendQueueSize bounds the outbound UdpTraffic channel of a UDP data
	// channel, and the inbound channel of each per-visitor forwarder.
	UDPSendQueueSize = 256

	// UDPIdleTimeout is how long a UDP forwarder waits, in either direction,
	// before it self-terminates and evicts its port-map entry.
	UDPIdleTimeout = 60 * time.Second

	// HandshakeBackoffInitial and HandshakeBackoffMax bound the exponential
	// backoff used while dialing a data channel.
	HandshakeBackoffInitial = 20 * time.Millisecond
	HandshakeBackoffMax     = 100 * time.Millisecond

	// HandshakeDeadline is the overall deadline for a data-channel dial,
	// after which the worker gives up rather than retrying forever.
	HandshakeDeadline = 10 * time.Second

	// ControlReconnectDelay is the fixed sleep between control-channel
	// reconnect attempts.
	ControlReconnectDelay = 1 * time.Second

	// HealthCheckInterval is not read by any worker; the control channel
	// sends no idle keepalive probe.
	HealthCheckInterval = 30 * time.Second
)
