package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrClosed is returned when sending on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrOversized is returned when a datagram exceeds MaxDatagramSize.
	ErrOversized = errors.New("transport: datagram too large")
)
