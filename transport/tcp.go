package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"

	"github.com/google/uuid"
	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TCP accepts connections on one or more listeners and serves each of them
// with a Handler.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	host string
	port int

	reuseport    bool
	numListeners int

	mu        sync.Mutex
	listeners []*TCPListener

	handler     Handler
	connOptions ConnOptions

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = 1
		if options.Reuseport {
			numListeners = runtime.NumCPU()
		}
	}

	if !options.Reuseport {
		// Without SO_REUSEPORT only one socket can bind the port
		numListeners = 1
	}

	handler := options.Handler
	if handler == nil {
		handler = Echo
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		host:         options.Host,
		port:         options.Port,
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		handler:      handler,
		connOptions:  options.Conn,
		log:          log,
	}
}

// Start binds every listener and then accepts in the background. Once Start
// returns without error the server is reachable at Addr.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	port := t.port

	for i := 0; i < t.numListeners; i++ {
		ln, err := t.listen(net.JoinHostPort(t.host, strconv.Itoa(port)))
		if err != nil {
			cancel()
			closeErr := t.closeListeners()
			t.stopWaiter.Wait()

			return multierr.Append(
				fmt.Errorf("failed to listen on %s:%d: %w", t.host, port, err),
				closeErr,
			)
		}

		// The first listener picks the port when asked for any free port,
		// the rest must join it
		port = ln.Addr().(*net.TCPAddr).Port

		t.startListener(ctx, ln)
	}

	return nil
}

func (t *TCP) listen(addr string) (net.Listener, error) {
	if t.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

func (t *TCP) startListener(ctx context.Context, ln net.Listener) {
	t.mu.Lock()
	listener := NewTCPListener(
		ln,
		t.handler,
		t.connOptions,
		t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	)
	t.listeners = append(t.listeners, listener)
	t.mu.Unlock()

	t.stopWaiter.Add(1)

	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(ctx); err != nil {
			// TODO restart failed listeners, until then the server can end up
			// with fewer listeners than it asked for
			t.log.Error("Listener stopped accepting", zap.Error(err))
		}
	}()
}

// Addr is the address the listeners are bound to, or nil before Start.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

// Close stops accepting, closes every active connection and waits for their
// handlers to return.
func (t *TCP) Close() error {
	t.log.Info("Stopping TCP server")

	if t.cancel != nil {
		t.cancel()
	}

	err := t.closeListeners()

	t.stopWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}

func (t *TCP) closeListeners() (err error) {
	t.mu.Lock()
	listeners := t.listeners
	t.mu.Unlock()

	for _, listener := range listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

// TCPListener serves the connections accepted by a single listener.
type TCPListener struct {
	ln net.Listener

	handler     Handler
	connOptions ConnOptions

	mu          sync.Mutex
	closed      bool
	activeConns map[net.Conn]struct{}

	loopWaiter sync.WaitGroup

	log *zap.Logger
}

func NewTCPListener(
	ln net.Listener,
	handler Handler,
	connOptions ConnOptions,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ln:          ln,
		handler:     handler,
		connOptions: connOptions,
		activeConns: make(map[net.Conn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.ln.Addr()
}

// Listen accepts until the listener is closed.
func (t *TCPListener) Listen(ctx context.Context) error {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				t.log.Info("Stopped accepting new connections")
				return nil
			}

			return err
		}

		if !t.addConn(conn) {
			conn.Close()
			continue
		}

		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(conn)

			ServeConn(ctx, conn, t.handler, t.connOptions, t.log.Named("conn"))
		}()
	}
}

// Close closes the listener and every connection it accepted, then waits for
// their handlers to return.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	t.closed = true

	err := t.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for conn := range t.activeConns {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	t.mu.Unlock()

	t.loopWaiter.Wait()

	return err
}

func (t *TCPListener) addConn(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	// Added under the lock so Close cannot start waiting before the
	// connection's handler is counted
	t.loopWaiter.Add(1)
	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// ServeConn runs handler over stream until it returns, then closes stream.
// Each connection is logged under its own id.
func ServeConn(
	ctx context.Context,
	stream net.Conn,
	handler Handler,
	options ConnOptions,
	log *zap.Logger,
) {
	if log == nil {
		log = zap.NewNop()
	}

	log = log.With(
		zap.String("conn", uuid.New().String()),
		zap.Stringer("remote", stream.RemoteAddr()),
	)

	options.Log = log
	conn := NewConn(stream, options)

	options.Metrics.connOpened()
	defer options.Metrics.connClosed()

	log.Debug("Serving connection")

	if err := handler.ServeConn(ctx, conn); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn("Connection ended with an error", zap.Error(err))
	}

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn("Connection did not close cleanly", zap.Error(err))
	}

	log.Debug("Connection closed")
}
