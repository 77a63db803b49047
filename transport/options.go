package transport

import (
	"go.uber.org/zap"
)

// ConnOptions configures each Conn.
type ConnOptions struct {
	// BufferSize is the initial read buffer capacity and the write buffer
	// size. Defaults to DefaultBufferSize.
	BufferSize int

	// MaxFrameSize bounds the encoded size of a single frame, headers and
	// delimiters included. A declared bulk length or array count over it is
	// rejected before the payload is read. Zero means unbounded.
	MaxFrameSize int

	// MaxDepth bounds array nesting. Zero means DefaultMaxDepth, a negative
	// value means unbounded.
	MaxDepth int

	// Trace logs every frame read and written at debug level. This is only
	// useful in local debugging
	Trace bool

	Metrics *Metrics

	Log *zap.Logger
}

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, shared by every listener.
	Port int

	// Reuseport controls setting SO_REUSEPORT so that several listeners can
	// accept on the same port
	Reuseport bool

	// NumListeners defaults to the number of CPUs when Reuseport is set and
	// to one otherwise
	NumListeners int

	Handler Handler

	Conn ConnOptions

	Log *zap.Logger
}
