package transport

import (
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Websocket serves frames over websocket connections. The binary messages of
// a websocket are treated as one byte stream, so a frame may span several
// messages and a message may hold several frames.
type Websocket struct {
	Handler Handler

	Conn ConnOptions

	// AcceptOptions is passed to websocket.Accept and may be nil.
	AcceptOptions *websocket.AcceptOptions

	Log *zap.Logger
}

func (w *Websocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}

	ws, err := websocket.Accept(rw, r, w.AcceptOptions)
	if err != nil {
		// Accept has already written an error response
		log.Warn("Failed to accept websocket", zap.Error(err))
		return
	}

	// Closing the stream sends a normal closure to the peer
	ctx := r.Context()
	stream := websocket.NetConn(ctx, ws, websocket.MessageBinary)

	ServeConn(ctx, stream, w.handler(), w.Conn, log.Named("websocket"))
}

func (w *Websocket) handler() Handler {
	if w.Handler == nil {
		return Echo
	}

	return w.Handler
}
