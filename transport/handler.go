package transport

import (
	"context"
	"errors"

	"github.com/luma/beacon/protocol"
)

// Handler serves one connection until it ends. The Conn is closed once
// ServeConn returns.
type Handler interface {
	ServeConn(ctx context.Context, conn *Conn) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, conn *Conn) error

func (f HandlerFunc) ServeConn(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// Echo writes every frame it reads straight back to the peer, until the peer
// closes the stream. A peer that sends a malformed frame is told why before
// the connection is dropped.
var Echo Handler = HandlerFunc(func(ctx context.Context, conn *Conn) error {
	for ctx.Err() == nil {
		frame, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				// Best effort, the connection is being dropped either way
				_ = conn.WriteFrame(protocol.Error("ERR Protocol error: " + err.Error()))
			}

			return err
		}

		if frame == nil {
			return nil
		}

		if err := conn.WriteFrame(frame); err != nil {
			return err
		}
	}

	return nil
})
