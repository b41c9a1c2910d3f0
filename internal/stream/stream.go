// Package stream defines the Stream contract every transport variant
// produces. It is split out from package transport so the variant
// subpackages (tcpt, tlst, kcpt, noiset) can implement it without a Go
// import cycle back through the dispatch package.
package stream

import (
	"io"
	"time"
)

// Stream is a reliable, ordered, bidirectional byte stream to the server.
// CloseWrite half-closes the write side so a TCP splice can propagate EOF
// in one direction without tearing down the other. A variant with no
// half-close primitive (KCP) closes the whole stream from CloseWrite instead.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	CloseWrite() error
	SetDeadline(t time.Time) error
}
