package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/transport"
)

// ErrClosed is returned by Do once the client has been closed.
var ErrClosed = errors.New("client: closed")

type Options struct {
	Conn transport.ConnOptions

	// DialTimeout bounds Dial when the context has no deadline of its own.
	DialTimeout time.Duration

	Log *zap.Logger
}

// Client sends frames to a server and reads one reply per frame. It is safe
// for concurrent use, calls are answered in the order they were made.
type Client struct {
	mu     sync.Mutex
	closed bool

	stream net.Conn
	conn   *transport.Conn

	log *zap.Logger
}

func Dial(ctx context.Context, addr string, options Options) (*Client, error) {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	dialer := net.Dialer{Timeout: options.DialTimeout}

	stream, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	log = log.With(zap.String("addr", addr))
	log.Debug("Connected")

	options.Conn.Log = log

	return &Client{
		stream: stream,
		conn:   transport.NewConn(stream, options.Conn),
		log:    log,
	}, nil
}

// Do writes frame and returns the reply to it. An Error reply is returned as
// the error. When ctx ends before the reply arrives the connection is left
// in an unknown state and should be closed.
func (c *Client) Do(ctx context.Context, frame protocol.Frame) (protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	deadline, _ := ctx.Deadline()
	if err := c.stream.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// Unblock the socket if ctx is cancelled without a deadline
	stop := make(chan struct{})
	watcherDone := make(chan struct{})

	defer func() {
		close(stop)
		<-watcherDone
	}()

	go func() {
		defer close(watcherDone)

		select {
		case <-ctx.Done():
			_ = c.stream.SetDeadline(time.Now())
		case <-stop:
		}
	}()

	if err := c.conn.WriteFrame(frame); err != nil {
		return nil, c.ctxErr(ctx, err)
	}

	reply, err := c.conn.ReadFrame()
	if err != nil {
		return nil, c.ctxErr(ctx, err)
	}

	if reply == nil {
		return nil, fmt.Errorf("%w: server closed the connection", transport.ErrConnectionReset)
	}

	if errReply, ok := reply.(protocol.Error); ok {
		return reply, errReply
	}

	return reply, nil
}

// ctxErr prefers the context's error when a socket error was caused by the
// context ending.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.log.Debug("Request abandoned", zap.Error(err))
		return ctxErr
	}

	// The socket deadline can fire just before the context's own timer
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}

	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.log.Debug("Disconnecting")

	return c.conn.Close()
}
