// Package buffer holds the pooled scratch buffers the TCP splice and UDP
// demultiplex loops reuse across reads instead of allocating one per call.
package buffer

import (
	"sync"

	"github.com/harborhole/tunnelclient/internal/constants"
)

// TPool backs the TCP splice copy loops in internal/datachannel.
var TPool = sync.Pool{
	New: func() any {
		b := make([]byte, 128*1024) // 128 KB for fewer syscalls on high-throughput
		return &b
	},
}

// UPool backs the UDP demux read buffer and each forwarder's local-socket
// read buffer, sized to the same datagram ceiling constants.UDPBufferSize
// enforces elsewhere.
var UPool = sync.Pool{
	New: func() any {
		b := make([]byte, constants.UDPBufferSize)
		return &b
	},
}
