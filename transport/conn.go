package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/luma/beacon/internal/jsonframe"
	"github.com/luma/beacon/protocol"
)

const (
	// DefaultBufferSize is the initial capacity of the read buffer and the
	// size of the write buffer.
	DefaultBufferSize = 4096

	// DefaultMaxDepth bounds array nesting when ConnOptions.MaxDepth is zero.
	DefaultMaxDepth = 64

	// maxConsecutiveEmptyReads bounds how often a stream may return no bytes
	// and no error before ReadFrame gives up.
	maxConsecutiveEmptyReads = 100
)

// ErrConnectionReset is returned when the stream ends part way through a frame.
var ErrConnectionReset = errors.New("connection reset by peer")

// Conn reads and writes frames over a byte stream.
//
// A Conn owns its stream. It has no internal locking: calls to ReadFrame must
// not overlap each other, and neither may calls to WriteFrame. One goroutine
// reading while another writes is fine, the two directions share no state.
type Conn struct {
	stream io.ReadWriter

	// buf[start:end] holds bytes read from the stream that are not yet part
	// of a returned frame.
	buf   []byte
	start int
	end   int
	cur   protocol.Cursor

	writer  *bufio.Writer
	written countingWriter

	limits       protocol.Limits
	maxFrameSize int

	trace   bool
	metrics *Metrics
	log     *zap.Logger
}

func NewConn(stream io.ReadWriter, options ConnOptions) *Conn {
	size := options.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	maxDepth := options.MaxDepth
	switch {
	case maxDepth == 0:
		maxDepth = DefaultMaxDepth
	case maxDepth < 0:
		maxDepth = 0
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		stream:       stream,
		buf:          make([]byte, size),
		maxFrameSize: options.MaxFrameSize,
		limits: protocol.Limits{
			MaxBulkLength:  int64(options.MaxFrameSize),
			MaxArrayLength: int64(options.MaxFrameSize),
			MaxDepth:       maxDepth,
		},
		trace:   options.Trace,
		metrics: options.Metrics,
		log:     log,
	}

	c.written.w = stream
	c.writer = bufio.NewWriterSize(&c.written, size)

	return c
}

// ReadFrame returns the next frame from the stream, reading as much as it
// needs to find one. It returns a nil frame and a nil error once the peer has
// closed the stream cleanly between frames.
//
// Errors from the stream are returned unchanged. Bytes already read are kept,
// so after a read deadline expires ReadFrame can be called again.
func (c *Conn) ReadFrame() (protocol.Frame, error) {
	for {
		frame, err := c.parseFrame()
		if err != nil {
			c.metrics.readError("malformed")
			return nil, err
		}

		if frame != nil {
			return frame, nil
		}

		// Every buffered byte belongs to the incomplete frame
		if c.maxFrameSize > 0 && c.Buffered() > c.maxFrameSize {
			c.metrics.readError("too_large")
			return nil, fmt.Errorf("%w: %d bytes buffered without a complete frame",
				protocol.ErrFrameTooLarge, c.Buffered())
		}

		n, err := c.fill()
		if n > 0 {
			// A read that returned bytes alongside io.EOF will return io.EOF
			// again on the next call, after these bytes are checked.
			if err == nil || err == io.EOF {
				continue
			}
		}

		if err == io.EOF {
			if c.Buffered() == 0 {
				return nil, nil
			}

			c.metrics.readError("reset")
			return nil, fmt.Errorf("%w: %d unread bytes", ErrConnectionReset, c.Buffered())
		}

		if err != nil {
			c.metrics.readError("io")
			return nil, err
		}
	}
}

// parseFrame returns a frame if one is fully buffered, and nil otherwise.
func (c *Conn) parseFrame() (protocol.Frame, error) {
	c.cur.Reset(c.buf[c.start:c.end])

	status, err := protocol.CheckLimits(&c.cur, c.limits)
	switch status {
	case protocol.Incomplete:
		return nil, nil
	case protocol.Malformed:
		return nil, err
	}

	n := c.cur.Position()
	if c.maxFrameSize > 0 && n > c.maxFrameSize {
		return nil, fmt.Errorf("%w: frame is %d bytes, the limit is %d",
			protocol.ErrFrameTooLarge, n, c.maxFrameSize)
	}

	c.cur.Rewind()

	frame, err := protocol.Parse(&c.cur)
	if err != nil {
		return nil, err
	}

	c.consume(n)
	c.metrics.frameRead(frame.Kind())
	c.traceFrame("Read frame", frame)

	return frame, nil
}

// fill reads once from the stream into the free space at the end of the
// buffer, first compacting or growing the buffer if there is none.
func (c *Conn) fill() (int, error) {
	if c.end == len(c.buf) {
		if c.start > 0 {
			copy(c.buf, c.buf[c.start:c.end])
			c.end -= c.start
			c.start = 0
		} else {
			grown := make([]byte, 2*len(c.buf))
			copy(grown, c.buf[:c.end])
			c.buf = grown
			c.metrics.bufferGrown(len(grown))
		}
	}

	for i := 0; i < maxConsecutiveEmptyReads; i++ {
		n, err := c.stream.Read(c.buf[c.end:])
		c.end += n
		c.metrics.bytesRead(n)

		if n > 0 || err != nil {
			return n, err
		}
	}

	return 0, io.ErrNoProgress
}

func (c *Conn) consume(n int) {
	c.start += n
	if c.start == c.end {
		c.start = 0
		c.end = 0
	}
}

// Buffered is the number of bytes read from the stream that have not been
// returned as part of a frame.
func (c *Conn) Buffered() int {
	return c.end - c.start
}

// WriteFrame encodes frame and flushes it to the stream in one go. Frames
// that cannot be encoded are rejected before anything is written.
func (c *Conn) WriteFrame(frame protocol.Frame) error {
	if err := protocol.Validate(frame); err != nil {
		return err
	}

	before := c.written.n

	if err := protocol.WriteFrame(c.writer, frame); err != nil {
		return err
	}

	if err := c.writer.Flush(); err != nil {
		return err
	}

	c.metrics.frameWritten(frame.Kind(), int(c.written.n-before))
	c.traceFrame("Wrote frame", frame)

	return nil
}

// Close closes the underlying stream if it can be closed.
func (c *Conn) Close() error {
	if closer, ok := c.stream.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

func (c *Conn) traceFrame(msg string, frame protocol.Frame) {
	if !c.trace {
		return
	}

	b, err := jsonframe.Marshal(frame)
	if err != nil {
		c.log.Debug(msg, zap.Stringer("kind", frame.Kind()), zap.Error(err))
		return
	}

	c.log.Debug(msg, zap.Stringer("kind", frame.Kind()), zap.ByteString("frame", b))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
